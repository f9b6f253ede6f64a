package repository

import (
	"context"
	"gorm.io/gorm"
	"plagcheck-go/internal/model"
)

// DocumentRepository 定义了对 documents 表的数据操作接口。
type DocumentRepository interface {
	ListByBatch(ctx context.Context, batchID string) ([]model.Document, error)
	UpdateStatus(ctx context.Context, id, status string) error
	SaveEmbedding(ctx context.Context, id string, embedding []float32) error
	// SaveAIResult 更新文档上的 AI 检测结果并追加一条审计记录。
	SaveAIResult(ctx context.Context, doc *model.Document, audit *model.AIDetection) error
}

type documentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository 创建一个新的 DocumentRepository 实例。
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepository{db: db}
}

// ListByBatch 按创建顺序返回批次下的全部文档。
func (r *documentRepository) ListByBatch(ctx context.Context, batchID string) ([]model.Document, error) {
	var docs []model.Document
	err := r.db.WithContext(ctx).Where("batch_id = ?", batchID).Order("created_at, id").Find(&docs).Error
	return docs, err
}

func (r *documentRepository) UpdateStatus(ctx context.Context, id, status string) error {
	return r.db.WithContext(ctx).Model(&model.Document{}).Where("id = ?", id).Update("status", status).Error
}

func (r *documentRepository) SaveEmbedding(ctx context.Context, id string, embedding []float32) error {
	return r.db.WithContext(ctx).Model(&model.Document{ID: id}).Select("embedding").Updates(&model.Document{Embedding: embedding}).Error
}

func (r *documentRepository) SaveAIResult(ctx context.Context, doc *model.Document, audit *model.AIDetection) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&model.Document{}).Where("id = ?", doc.ID).Updates(map[string]interface{}{
			"ai_score":        doc.AIScore,
			"is_ai_generated": doc.IsAIGenerated,
			"ai_confidence":   doc.AIConfidence,
			"ai_provider":     doc.AIProvider,
		}).Error
		if err != nil {
			return err
		}
		return tx.Create(audit).Error
	})
}
