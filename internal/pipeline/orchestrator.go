// Package pipeline 定义了批次检测的核心流程：驱动批次内的文档依次经过 AI 检测与查重阶段，
// 维护文档与批次的状态，并隔离单个文档的失败。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"plagcheck-go/internal/model"
	"plagcheck-go/internal/retrieval"
	"plagcheck-go/pkg/llm"
	"plagcheck-go/pkg/log"
	"plagcheck-go/pkg/tasks"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// BatchStore 是编排器需要的批次持久化操作。
type BatchStore interface {
	FindByID(ctx context.Context, id string) (*model.Batch, error)
	LibraryIDs(ctx context.Context, batchID string) ([]string, error)
	UpdateStatus(ctx context.Context, id, status string) error
	Finalize(ctx context.Context, id string) error
}

// DocumentStore 是编排器需要的文档持久化操作。
type DocumentStore interface {
	ListByBatch(ctx context.Context, batchID string) ([]model.Document, error)
	UpdateStatus(ctx context.Context, id, status string) error
	SaveEmbedding(ctx context.Context, id string, embedding []float32) error
	SaveAIResult(ctx context.Context, doc *model.Document, audit *model.AIDetection) error
}

// ComparisonStore 只追加比对记录。
type ComparisonStore interface {
	Create(ctx context.Context, c *model.Comparison) error
}

// Locker 保证一个批次同一时刻只被一个 worker 处理。
type Locker interface {
	Acquire(ctx context.Context, batchID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, batchID string) error
}

// Retriever 查找相似候选。
type Retriever interface {
	FindInBatch(ctx context.Context, doc *model.Document) ([]retrieval.Candidate, error)
	FindInLibraries(ctx context.Context, doc *model.Document, libraryIDs []string, topK int) (retrieval.LibrarySearch, error)
}

// DocumentEmbedder 计算整篇文档的向量，不可用时返回 nil。
type DocumentEmbedder interface {
	DocumentEmbedding(ctx context.Context, text string) []float32
}

// AIDetector 是 AI 生成检测服务。
type AIDetector interface {
	Available() bool
	Model() string
	Detect(ctx context.Context, text string, threshold float64) (*llm.Detection, error)
}

// Options 控制编排器的并发与超时。
type Options struct {
	DocumentConcurrency int
	TopK                int
	BatchTimeout        time.Duration
	LockTTL             time.Duration
}

// Orchestrator 封装了批次处理的所有依赖和逻辑。
type Orchestrator struct {
	batches     BatchStore
	documents   DocumentStore
	comparisons ComparisonStore
	lock        Locker
	retriever   Retriever
	embedder    DocumentEmbedder
	detector    AIDetector
	opts        Options
}

// NewOrchestrator 创建一个新的 Orchestrator 实例。lock、embedder 与 detector 可以为 nil。
func NewOrchestrator(
	batches BatchStore,
	documents DocumentStore,
	comparisons ComparisonStore,
	lock Locker,
	retriever Retriever,
	embedder DocumentEmbedder,
	detector AIDetector,
	opts Options,
) *Orchestrator {
	if opts.DocumentConcurrency < 1 {
		opts.DocumentConcurrency = 1
	}
	if opts.TopK < 1 {
		opts.TopK = 10
	}
	return &Orchestrator{
		batches:     batches,
		documents:   documents,
		comparisons: comparisons,
		lock:        lock,
		retriever:   retriever,
		embedder:    embedder,
		detector:    detector,
		opts:        opts,
	}
}

// Process 是批次处理的主函数。
// 批次状态 queued → processing → completed；文档状态 queued → processing → completed|failed。
// 超时或取消时，未开始的文档保持 queued，批次回到 queued 并返回错误，由消费者重试；
// 重试时跳过已处于终态的文档；重试次数用尽后由 Abandon 收尾。
func (o *Orchestrator) Process(ctx context.Context, task tasks.BatchTask) error {
	log.Infof("[Orchestrator] 开始处理批次, BatchID: %s", task.BatchID)

	release, ok, err := o.acquire(ctx, task.BatchID)
	if err != nil || !ok {
		return err
	}
	defer release()

	if o.opts.BatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.BatchTimeout)
		defer cancel()
	}

	batch, err := o.batches.FindByID(ctx, task.BatchID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warnf("[Orchestrator] 批次不存在, 丢弃任务, BatchID: %s", task.BatchID)
			return nil
		}
		return fmt.Errorf("加载批次失败: %w", err)
	}
	if batch.Status == model.BatchCompleted {
		log.Infof("[Orchestrator] 批次 %s 已完成, 跳过", batch.ID)
		return nil
	}

	if err := o.batches.UpdateStatus(ctx, batch.ID, model.BatchProcessing); err != nil {
		return fmt.Errorf("更新批次状态失败: %w", err)
	}

	if err := o.run(ctx, batch); err != nil {
		// 未完成的批次回到 queued，等待重试
		if uerr := o.batches.UpdateStatus(context.WithoutCancel(ctx), batch.ID, model.BatchQueued); uerr != nil {
			log.Errorf("[Orchestrator] 回退批次状态失败, BatchID: %s, Error: %v", batch.ID, uerr)
		}
		log.Warnf("[Orchestrator] 批次 %s 未能完成: %v", batch.ID, err)
		return err
	}

	// 所有文档到达终态之后，一次性提交汇总
	if err := o.batches.Finalize(context.WithoutCancel(ctx), batch.ID); err != nil {
		return fmt.Errorf("提交批次汇总失败: %w", err)
	}
	log.Infof("[Orchestrator] 批次处理完成, BatchID: %s", batch.ID)
	return nil
}

// Abandon 在重试次数用尽后收尾批次：所有未到达终态的文档置为 failed，然后提交汇总，
// 保证批次最终进入 completed。批次正被其他 worker 处理时不做任何事。
func (o *Orchestrator) Abandon(ctx context.Context, task tasks.BatchTask) error {
	release, ok, err := o.acquire(ctx, task.BatchID)
	if err != nil || !ok {
		return err
	}
	defer release()

	batch, err := o.batches.FindByID(ctx, task.BatchID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return fmt.Errorf("加载批次失败: %w", err)
	}
	if batch.Status == model.BatchCompleted {
		return nil
	}

	docs, err := o.documents.ListByBatch(ctx, batch.ID)
	if err != nil {
		return fmt.Errorf("加载批次文档失败: %w", err)
	}
	abandoned := 0
	for _, d := range docs {
		if d.IsTerminal() {
			continue
		}
		if err := o.documents.UpdateStatus(ctx, d.ID, model.DocumentFailed); err != nil {
			return fmt.Errorf("写入文档终态失败 (document=%s): %w", d.ID, err)
		}
		abandoned++
	}
	if err := o.batches.Finalize(ctx, batch.ID); err != nil {
		return fmt.Errorf("提交批次汇总失败: %w", err)
	}
	log.Warnf("[Orchestrator] 批次重试次数用尽, 已收尾, BatchID: %s, 置为 failed 的文档数: %d", batch.ID, abandoned)
	return nil
}

// acquire 获取批次锁。ok 为 false 表示批次正被其他 worker 处理。
func (o *Orchestrator) acquire(ctx context.Context, batchID string) (release func(), ok bool, err error) {
	if o.lock == nil {
		return func() {}, true, nil
	}
	ok, err = o.lock.Acquire(ctx, batchID, o.opts.LockTTL)
	if err != nil {
		return nil, false, fmt.Errorf("获取批次锁失败: %w", err)
	}
	if !ok {
		log.Warnf("[Orchestrator] 批次 %s 正在被其他 worker 处理, 跳过", batchID)
		return nil, false, nil
	}
	return func() {
		if err := o.lock.Release(context.WithoutCancel(ctx), batchID); err != nil {
			log.Warnf("[Orchestrator] 释放批次锁失败, BatchID: %s, Error: %v", batchID, err)
		}
	}, true, nil
}

// run 把每个文档作为独立任务调度，最多 DocumentConcurrency 个同时运行，并等待全部结束。
func (o *Orchestrator) run(ctx context.Context, batch *model.Batch) error {
	docs, err := o.documents.ListByBatch(ctx, batch.ID)
	if err != nil {
		return fmt.Errorf("加载批次文档失败: %w", err)
	}

	var libraryIDs []string
	if batch.RunsPlagiarism() && batch.ComparesLibrary() {
		if libraryIDs, err = o.batches.LibraryIDs(ctx, batch.ID); err != nil {
			return fmt.Errorf("加载批次文档库失败: %w", err)
		}
	}

	var g errgroup.Group
	g.SetLimit(o.opts.DocumentConcurrency)
	for i := range docs {
		doc := &docs[i]
		if doc.IsTerminal() {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			// 排队期间批次被取消，文档保持 queued
			if ctx.Err() != nil {
				return nil
			}
			return o.processDocument(ctx, batch, doc, libraryIDs)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i := range docs {
		if !docs[i].IsTerminal() {
			return fmt.Errorf("文档 %s 未处理: %w", docs[i].ID, ctx.Err())
		}
	}
	return nil
}

// processDocument 运行文档的各个阶段。阶段错误只会让该文档进入 failed；
// 只有终态无法持久化时才返回错误。
func (o *Orchestrator) processDocument(ctx context.Context, batch *model.Batch, doc *model.Document, libraryIDs []string) error {
	if err := o.documents.UpdateStatus(ctx, doc.ID, model.DocumentProcessing); err != nil {
		log.Warnf("[Orchestrator] 更新文档状态失败, DocumentID: %s, Error: %v", doc.ID, err)
	}

	failed := false
	if batch.RunsAI() {
		if err := safeStage(func() error { return o.runAIStage(ctx, batch, doc) }); err != nil {
			log.Errorf("[Orchestrator] AI 检测阶段失败, DocumentID: %s, Error: %v", doc.ID, err)
			failed = true
		}
	}
	if batch.RunsPlagiarism() {
		if err := safeStage(func() error { return o.runPlagiarismStage(ctx, batch, doc, libraryIDs) }); err != nil {
			log.Errorf("[Orchestrator] 查重阶段失败, DocumentID: %s, Error: %v", doc.ID, err)
			failed = true
		}
	}

	status := model.DocumentCompleted
	if failed {
		status = model.DocumentFailed
	}
	// 即使批次已超时，也要写入终态，避免文档停留在 processing
	if err := o.documents.UpdateStatus(context.WithoutCancel(ctx), doc.ID, status); err != nil {
		return fmt.Errorf("写入文档终态失败 (document=%s): %w", doc.ID, err)
	}
	doc.Status = status
	return nil
}

// safeStage 将阶段内的 panic 转换为错误。
func safeStage(stage func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return stage()
}

func (o *Orchestrator) runAIStage(ctx context.Context, batch *model.Batch, doc *model.Document) error {
	if o.detector == nil || !o.detector.Available() {
		log.Debugf("[Orchestrator] 未配置 AI 检测服务, 跳过, DocumentID: %s", doc.ID)
		return nil
	}
	if doc.TextContent == "" {
		log.Warnf("[Orchestrator] 文档无文本内容, 跳过 AI 检测, DocumentID: %s", doc.ID)
		return nil
	}

	det, err := o.detector.Detect(ctx, doc.TextContent, batch.AIThreshold)
	if errors.Is(err, llm.ErrUnavailable) {
		log.Warnf("[Orchestrator] AI 检测服务不可用, 跳过, DocumentID: %s, Error: %v", doc.ID, err)
		return nil
	}
	if err != nil {
		return err
	}

	doc.AIScore = &det.Score
	doc.IsAIGenerated = &det.IsAI
	doc.AIConfidence = &det.Confidence
	doc.AIProvider = det.Provider
	audit := &model.AIDetection{
		DocumentID:   doc.ID,
		ModelVersion: o.detector.Model(),
		Probability:  det.Score,
		Meta: map[string]any{
			"provider":   det.Provider,
			"confidence": det.Confidence,
			"label":      det.Label,
			"details":    det.Details,
		},
	}
	return o.documents.SaveAIResult(ctx, doc, audit)
}

// runPlagiarismStage 查找候选，并为每个通过阈值的候选写入一条比对记录。
func (o *Orchestrator) runPlagiarismStage(ctx context.Context, batch *model.Batch, doc *model.Document, libraryIDs []string) error {
	if batch.ComparesInternal() {
		candidates, err := o.retriever.FindInBatch(ctx, doc)
		if err != nil {
			return err
		}
		for _, c := range candidates {
			target := c.DocumentID
			err := o.comparisons.Create(ctx, &model.Comparison{
				DocA:       doc.ID,
				DocB:       &target,
				Similarity: c.Score,
				Matches:    c.Matches,
				SourceType: model.SourceInternal,
			})
			if err != nil {
				return fmt.Errorf("保存批次内比对失败: %w", err)
			}
		}
	}

	if batch.ComparesLibrary() && len(libraryIDs) > 0 {
		o.ensureEmbedding(ctx, doc)

		res, err := o.retriever.FindInLibraries(ctx, doc, libraryIDs, o.opts.TopK)
		if err != nil {
			return err
		}
		if res.Degraded != retrieval.DegradedNone {
			log.Infow("[Orchestrator] 文档库粗筛使用词法回退", "document_id", doc.ID, "reason", string(res.Degraded))
		}
		for _, c := range res.Candidates {
			libraryID, libraryDocID := c.LibraryID, c.DocumentID
			err := o.comparisons.Create(ctx, &model.Comparison{
				DocA:         doc.ID,
				LibraryID:    &libraryID,
				LibraryDocID: &libraryDocID,
				Similarity:   c.Score,
				Matches:      c.Matches,
				SourceType:   model.SourceLibrary,
			})
			if err != nil {
				return fmt.Errorf("保存文档库比对失败: %w", err)
			}
		}
	}
	return nil
}

// ensureEmbedding 为文档计算并保存整篇向量，用作向量粗筛的查询向量。失败不影响查重。
func (o *Orchestrator) ensureEmbedding(ctx context.Context, doc *model.Document) {
	if len(doc.Embedding) > 0 || o.embedder == nil || doc.TextContent == "" {
		return
	}
	vec := o.embedder.DocumentEmbedding(ctx, doc.TextContent)
	if vec == nil {
		return
	}
	doc.Embedding = vec
	if err := o.documents.SaveEmbedding(ctx, doc.ID, vec); err != nil {
		log.Warnf("[Orchestrator] 保存文档向量失败, DocumentID: %s, Error: %v", doc.ID, err)
	}
}
