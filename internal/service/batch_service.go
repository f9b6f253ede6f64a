// Package service 包含了应用的业务逻辑层。
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"path/filepath"
	"plagcheck-go/internal/model"
	"plagcheck-go/internal/repository"
	"plagcheck-go/internal/retrieval"
	"plagcheck-go/pkg/log"
	"plagcheck-go/pkg/tasks"
	"sort"

	"github.com/google/uuid"
)

// 提交校验错误，handler 将其映射为 400。
var (
	ErrNoContent           = errors.New("必须提供文件或文本")
	ErrInvalidAnalysisType = errors.New("无效的分析类型")
	ErrInvalidThreshold    = errors.New("ai_threshold 必须在 0 到 1 之间")
)

// ObjectStore 保存上传的原始文件。
type ObjectStore interface {
	Put(ctx context.Context, objectName string, data []byte, contentType string) error
	Remove(ctx context.Context, objectName string) error
}

// TextExtractor 从文件字节中提取文本。
type TextExtractor interface {
	ExtractText(ctx context.Context, r io.Reader, fileName string) (string, error)
}

// TaskProducer 投递批次任务。
type TaskProducer interface {
	ProduceBatchTask(ctx context.Context, task tasks.BatchTask) error
}

// UploadedFile 是一次上传中的单个文件。
type UploadedFile struct {
	Name string
	Data []byte
}

// SubmitRequest 描述一次分析提交。AnalysisType 为空时由 CheckAI / CheckPlagiarism 推导。
type SubmitRequest struct {
	UserID          string
	Text            string
	Files           []UploadedFile
	AnalysisType    string
	CheckAI         bool
	CheckPlagiarism bool
	AIThreshold     *float64
	CompareMode     string
	LibraryIDs      []string
}

// AIAnalysis 是结果中的 AI 检测部分。
type AIAnalysis struct {
	Score      float64 `json:"score"`
	IsAI       bool    `json:"is_ai"`
	Confidence float64 `json:"confidence"`
	Provider   string  `json:"provider"`
}

// PlagiarismDetail 是一条相似来源。
type PlagiarismDetail struct {
	SimilarDocument string             `json:"similar_document"`
	Similarity      float64            `json:"similarity"`
	Matches         []model.ChunkMatch `json:"matches"`
	SourceType      string             `json:"source_type"`
	LibraryName     *string            `json:"library_name"`
}

// DocumentResult 是单个文档的检测结果。
type DocumentResult struct {
	DocumentID         string             `json:"document_id"`
	FileName           string             `json:"filename"`
	Status             string             `json:"status"`
	AIAnalysis         AIAnalysis         `json:"ai_analysis"`
	PlagiarismAnalysis []PlagiarismDetail `json:"plagiarism_analysis"`
}

// BatchService 接口定义了批次提交与结果查询的业务操作。
type BatchService interface {
	Submit(ctx context.Context, req SubmitRequest) (*model.Batch, error)
	List(ctx context.Context, userID string, skip, limit int) ([]model.Batch, error)
	Results(ctx context.Context, userID, batchID string) ([]DocumentResult, error)
}

type batchService struct {
	batchRepo      repository.BatchRepository
	documentRepo   repository.DocumentRepository
	comparisonRepo repository.ComparisonRepository
	libraryRepo    repository.LibraryRepository
	store          ObjectStore
	extractor      TextExtractor
	producer       TaskProducer
}

// NewBatchService 创建一个新的 BatchService 实例。
func NewBatchService(
	batchRepo repository.BatchRepository,
	documentRepo repository.DocumentRepository,
	comparisonRepo repository.ComparisonRepository,
	libraryRepo repository.LibraryRepository,
	store ObjectStore,
	extractor TextExtractor,
	producer TaskProducer,
) BatchService {
	return &batchService{
		batchRepo:      batchRepo,
		documentRepo:   documentRepo,
		comparisonRepo: comparisonRepo,
		libraryRepo:    libraryRepo,
		store:          store,
		extractor:      extractor,
		producer:       producer,
	}
}

// resolveAnalysisType 校验显式给出的分析类型，或根据开关推导。
func resolveAnalysisType(req SubmitRequest) (string, error) {
	switch req.AnalysisType {
	case model.AnalysisAI, model.AnalysisPlagiarism, model.AnalysisMixed, model.AnalysisBoth:
		return req.AnalysisType, nil
	case "":
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidAnalysisType, req.AnalysisType)
	}
	switch {
	case req.CheckAI && req.CheckPlagiarism:
		return model.AnalysisMixed, nil
	case req.CheckAI:
		return model.AnalysisAI, nil
	default:
		return model.AnalysisPlagiarism, nil
	}
}

// normalizeCompareMode 未知的比对模式按 library 处理。
func normalizeCompareMode(mode string) string {
	switch mode {
	case model.CompareInternal, model.CompareLibrary, model.CompareBoth:
		return mode
	}
	return model.CompareLibrary
}

// Submit 校验请求、保存文件并提取文本，在一个事务中写入批次与文档，然后投递任务。
// 校验失败在任何处理开始之前同步返回。
func (s *batchService) Submit(ctx context.Context, req SubmitRequest) (*model.Batch, error) {
	if req.Text == "" && len(req.Files) == 0 {
		return nil, ErrNoContent
	}
	analysisType, err := resolveAnalysisType(req)
	if err != nil {
		return nil, err
	}
	threshold := 0.5
	if req.AIThreshold != nil {
		threshold = *req.AIThreshold
	}
	if threshold < 0 || threshold > 1 {
		return nil, ErrInvalidThreshold
	}
	libraryIDs := dedupe(req.LibraryIDs)
	if err := s.validateLibraries(ctx, libraryIDs); err != nil {
		return nil, err
	}

	batch := &model.Batch{
		ID:           uuid.NewString(),
		UserID:       req.UserID,
		AnalysisType: analysisType,
		CompareMode:  normalizeCompareMode(req.CompareMode),
		AIThreshold:  threshold,
		Status:       model.BatchQueued,
	}

	var docs []*model.Document
	if req.Text != "" {
		docs = append(docs, &model.Document{
			FileName:    "input_text.txt",
			StoragePath: path.Join("batches", batch.ID, "input_text.txt"),
			TextContent: req.Text,
			Status:      model.DocumentQueued,
		})
	}
	for _, f := range req.Files {
		docs = append(docs, s.prepareFile(ctx, batch.ID, f))
	}
	batch.TotalDocs = len(docs)

	if err := s.batchRepo.CreateWithDocuments(ctx, batch, docs, libraryIDs); err != nil {
		return nil, fmt.Errorf("保存批次失败: %w", err)
	}
	if err := s.producer.ProduceBatchTask(ctx, tasks.BatchTask{BatchID: batch.ID, UserID: batch.UserID}); err != nil {
		return nil, fmt.Errorf("投递批次任务失败: %w", err)
	}
	log.Infof("批次已提交, BatchID: %s, 文档数: %d, 分析类型: %s, 比对模式: %s", batch.ID, batch.TotalDocs, batch.AnalysisType, batch.CompareMode)
	return batch, nil
}

// validateLibraries 要求每个 ID 合法且对应一个启用中的文档库。
func (s *batchService) validateLibraries(ctx context.Context, ids []string) error {
	if err := retrieval.ValidateLibraryIDs(ids); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	libs, err := s.libraryRepo.FindByIDs(ctx, ids)
	if err != nil {
		return err
	}
	active := make(map[string]bool, len(libs))
	for _, l := range libs {
		active[l.ID] = l.IsActive
	}
	for _, id := range ids {
		if !active[id] {
			return fmt.Errorf("%w: 文档库 %s 不存在或已停用", retrieval.ErrInvalidLibraryID, id)
		}
	}
	return nil
}

// prepareFile 保存文件并提取文本。存储或解析失败时文档没有文本，但仍参与批次。
func (s *batchService) prepareFile(ctx context.Context, batchID string, f UploadedFile) *model.Document {
	name := filepath.Base(f.Name)
	objectName := path.Join("batches", batchID, name)
	doc := &model.Document{FileName: name, StoragePath: objectName, Status: model.DocumentQueued}

	if err := s.store.Put(ctx, objectName, f.Data, contentType(name)); err != nil {
		log.Warnf("保存上传文件失败, Object: %s, Error: %v", objectName, err)
		doc.StoragePath = ""
	}
	text, err := s.extractor.ExtractText(ctx, bytes.NewReader(f.Data), name)
	if err != nil {
		log.Warnf("提取文本失败, FileName: %s, Error: %v", name, err)
		text = ""
	}
	doc.TextContent = text
	return doc
}

func (s *batchService) List(ctx context.Context, userID string, skip, limit int) ([]model.Batch, error) {
	batches, err := s.batchRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if skip >= len(batches) {
		return []model.Batch{}, nil
	}
	batches = batches[skip:]
	if limit > 0 && len(batches) > limit {
		batches = batches[:limit]
	}
	return batches, nil
}

// Results 返回批次中每个文档的 AI 检测结果与相似来源（按相似度降序）。
// 批次不属于该用户时视为不存在。
func (s *batchService) Results(ctx context.Context, userID, batchID string) ([]DocumentResult, error) {
	batch, err := s.batchRepo.FindByID(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch.UserID != userID {
		return nil, repository.ErrNotFound
	}

	docs, err := s.documentRepo.ListByBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	docIDs := make([]string, len(docs))
	names := make(map[string]string, len(docs))
	for i, d := range docs {
		docIDs[i] = d.ID
		names[d.ID] = d.FileName
	}

	comparisons, err := s.comparisonRepo.ListBySources(ctx, docIDs)
	if err != nil {
		return nil, err
	}
	libDocNames, libNames, err := s.resolveLibraryNames(ctx, comparisons)
	if err != nil {
		return nil, err
	}

	bySource := make(map[string][]PlagiarismDetail, len(docs))
	for _, c := range comparisons {
		detail := PlagiarismDetail{Similarity: c.Similarity, Matches: c.Matches, SourceType: c.SourceType}
		if detail.Matches == nil {
			detail.Matches = []model.ChunkMatch{}
		}
		switch c.SourceType {
		case model.SourceLibrary:
			detail.SimilarDocument = lookup(libDocNames, c.LibraryDocID, "未知文档")
			name := lookup(libNames, c.LibraryID, "未知文档库")
			detail.LibraryName = &name
		default:
			detail.SimilarDocument = lookup(names, c.DocB, "未知文档")
		}
		bySource[c.DocA] = append(bySource[c.DocA], detail)
	}

	results := make([]DocumentResult, 0, len(docs))
	for _, d := range docs {
		details := bySource[d.ID]
		sort.SliceStable(details, func(i, j int) bool { return details[i].Similarity > details[j].Similarity })
		if details == nil {
			details = []PlagiarismDetail{}
		}
		results = append(results, DocumentResult{
			DocumentID:         d.ID,
			FileName:           d.FileName,
			Status:             d.Status,
			AIAnalysis:         aiAnalysis(d),
			PlagiarismAnalysis: details,
		})
	}
	return results, nil
}

func (s *batchService) resolveLibraryNames(ctx context.Context, comparisons []model.Comparison) (map[string]string, map[string]string, error) {
	var docIDs, libIDs []string
	for _, c := range comparisons {
		if c.LibraryDocID != nil {
			docIDs = append(docIDs, *c.LibraryDocID)
		}
		if c.LibraryID != nil {
			libIDs = append(libIDs, *c.LibraryID)
		}
	}
	docNames := map[string]string{}
	libNames := map[string]string{}
	if len(docIDs) == 0 {
		return docNames, libNames, nil
	}

	libDocs, err := s.libraryRepo.GetByIDs(ctx, dedupe(docIDs))
	if err != nil {
		return nil, nil, err
	}
	for _, d := range libDocs {
		docNames[d.ID] = d.FileName
	}
	libs, err := s.libraryRepo.FindByIDs(ctx, dedupe(libIDs))
	if err != nil {
		return nil, nil, err
	}
	for _, l := range libs {
		libNames[l.ID] = l.Name
	}
	return docNames, libNames, nil
}

func aiAnalysis(d model.Document) AIAnalysis {
	var a AIAnalysis
	if d.AIScore != nil {
		a.Score = *d.AIScore
	}
	if d.IsAIGenerated != nil {
		a.IsAI = *d.IsAIGenerated
	}
	if d.AIConfidence != nil {
		a.Confidence = *d.AIConfidence
	}
	a.Provider = d.AIProvider
	return a
}

func lookup(m map[string]string, id *string, fallback string) string {
	if id == nil {
		return fallback
	}
	if v, ok := m[*id]; ok {
		return v
	}
	return fallback
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func contentType(name string) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}
