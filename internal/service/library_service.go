package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"plagcheck-go/internal/model"
	"plagcheck-go/internal/repository"
	"plagcheck-go/internal/retrieval"
	"plagcheck-go/pkg/log"
	"strings"
)

// ErrEmptyLibraryName 表示文档库名称为空。
var ErrEmptyLibraryName = errors.New("文档库名称不能为空")

// DocumentEmbedder 计算整篇文档的向量，不可用时返回 nil。
type DocumentEmbedder interface {
	DocumentEmbedding(ctx context.Context, text string) []float32
}

// VectorIndexWriter 维护文档库的向量索引。
type VectorIndexWriter interface {
	IndexLibraryDocument(ctx context.Context, doc model.LibraryVectorDocument) error
	DeleteLibraryDocument(ctx context.Context, libraryDocID string) error
}

// LibraryDetail 是文档库及其文档列表。
type LibraryDetail struct {
	Library   *model.DocumentLibrary  `json:"library"`
	Documents []model.LibraryDocument `json:"documents"`
}

// LibraryService 接口定义了文档库管理的业务操作。
type LibraryService interface {
	Create(ctx context.Context, ownerID, name, description string) (*model.DocumentLibrary, error)
	List(ctx context.Context) ([]model.DocumentLibrary, error)
	Get(ctx context.Context, libraryID string) (*LibraryDetail, error)
	AddDocument(ctx context.Context, libraryID, userID string, file UploadedFile) (*model.LibraryDocument, error)
	DeleteDocument(ctx context.Context, libraryID, docID string) error
	Deactivate(ctx context.Context, libraryID string) error
}

type libraryService struct {
	libraryRepo repository.LibraryRepository
	store       ObjectStore
	extractor   TextExtractor
	embedder    DocumentEmbedder
	index       VectorIndexWriter
	model       string
}

// NewLibraryService 创建一个新的 LibraryService 实例。index 为 nil 表示未配置向量索引。
func NewLibraryService(libraryRepo repository.LibraryRepository, store ObjectStore, extractor TextExtractor, embedder DocumentEmbedder, index VectorIndexWriter, embeddingModel string) LibraryService {
	return &libraryService{
		libraryRepo: libraryRepo,
		store:       store,
		extractor:   extractor,
		embedder:    embedder,
		index:       index,
		model:       embeddingModel,
	}
}

func (s *libraryService) Create(ctx context.Context, ownerID, name, description string) (*model.DocumentLibrary, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrEmptyLibraryName
	}
	lib := &model.DocumentLibrary{Name: name, Description: description, OwnerID: ownerID, IsActive: true}
	if err := s.libraryRepo.Create(ctx, lib); err != nil {
		return nil, err
	}
	return lib, nil
}

func (s *libraryService) List(ctx context.Context) ([]model.DocumentLibrary, error) {
	return s.libraryRepo.ListActive(ctx)
}

func (s *libraryService) Get(ctx context.Context, libraryID string) (*LibraryDetail, error) {
	if err := retrieval.ValidateLibraryIDs([]string{libraryID}); err != nil {
		return nil, err
	}
	lib, err := s.libraryRepo.FindByID(ctx, libraryID)
	if err != nil {
		return nil, err
	}
	docs, err := s.libraryRepo.ListDocuments(ctx, libraryID)
	if err != nil {
		return nil, err
	}
	return &LibraryDetail{Library: lib, Documents: docs}, nil
}

// AddDocument 保存文件、提取文本、计算向量并写入索引，最后按实际行数重算文档数。
// 向量服务或索引不可用时文档仍为 ready 但 Indexed 为 false，检索时由词法粗筛补充；
// 写入索引失败时文档为 failed。
func (s *libraryService) AddDocument(ctx context.Context, libraryID, userID string, file UploadedFile) (*model.LibraryDocument, error) {
	if err := retrieval.ValidateLibraryIDs([]string{libraryID}); err != nil {
		return nil, err
	}
	if _, err := s.libraryRepo.FindByID(ctx, libraryID); err != nil {
		return nil, err
	}

	name := filepath.Base(file.Name)
	objectName := path.Join("libraries", libraryID, name)
	if err := s.store.Put(ctx, objectName, file.Data, contentType(name)); err != nil {
		log.Warnf("保存文档库文件失败, Object: %s, Error: %v", objectName, err)
		objectName = ""
	}
	text, err := s.extractor.ExtractText(ctx, bytes.NewReader(file.Data), name)
	if err != nil {
		log.Warnf("提取文本失败, FileName: %s, Error: %v", name, err)
		text = ""
	}
	sum := sha256.Sum256(file.Data)

	doc := &model.LibraryDocument{
		LibraryID:   libraryID,
		FileName:    name,
		ContentHash: hex.EncodeToString(sum[:]),
		TextContent: text,
		StoragePath: objectName,
		UploadedBy:  userID,
		Status:      model.LibraryDocProcessing,
	}
	if err := s.libraryRepo.CreateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("保存文档库文档失败: %w", err)
	}

	doc.Status = model.LibraryDocReady
	if text != "" && s.embedder != nil {
		doc.Embedding = s.embedder.DocumentEmbedding(ctx, text)
	}
	if doc.Embedding != nil && s.index != nil {
		err := s.index.IndexLibraryDocument(ctx, model.LibraryVectorDocument{
			LibraryDocID: doc.ID,
			LibraryID:    libraryID,
			Status:       model.LibraryDocReady,
			ContentHash:  doc.ContentHash,
			Vector:       doc.Embedding,
			ModelVersion: s.model,
		})
		if err != nil {
			log.Errorf("写入向量索引失败, LibraryDocID: %s, Error: %v", doc.ID, err)
			doc.Status = model.LibraryDocFailed
		} else {
			doc.Indexed = true
		}
	}
	if err := s.libraryRepo.FinishDocument(ctx, doc.ID, doc.Status, doc.Embedding, doc.Indexed); err != nil {
		return nil, fmt.Errorf("更新文档库文档失败: %w", err)
	}
	if err := s.libraryRepo.RecountDocuments(ctx, libraryID); err != nil {
		log.Warnf("重算文档库文档数失败, LibraryID: %s, Error: %v", libraryID, err)
	}
	return doc, nil
}

func (s *libraryService) DeleteDocument(ctx context.Context, libraryID, docID string) error {
	doc, err := s.libraryRepo.FindDocument(ctx, libraryID, docID)
	if err != nil {
		return err
	}
	if err := s.libraryRepo.DeleteDocument(ctx, doc.ID); err != nil {
		return err
	}
	if s.index != nil {
		if err := s.index.DeleteLibraryDocument(ctx, doc.ID); err != nil {
			log.Warnf("删除向量索引失败, LibraryDocID: %s, Error: %v", doc.ID, err)
		}
	}
	if doc.StoragePath != "" {
		if err := s.store.Remove(ctx, doc.StoragePath); err != nil {
			log.Warnf("删除文档库文件失败, Object: %s, Error: %v", doc.StoragePath, err)
		}
	}
	return s.libraryRepo.RecountDocuments(ctx, libraryID)
}

func (s *libraryService) Deactivate(ctx context.Context, libraryID string) error {
	return s.libraryRepo.Deactivate(ctx, libraryID)
}
