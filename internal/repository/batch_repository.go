// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"context"
	"gorm.io/gorm"
	"plagcheck-go/internal/model"
)

// ErrNotFound 表示记录不存在或不属于当前用户。
var ErrNotFound = gorm.ErrRecordNotFound

// BatchRepository 接口定义了批次相关的数据持久化操作。
type BatchRepository interface {
	// CreateWithDocuments 在一个事务中写入批次、文档和批次关联的文档库。
	CreateWithDocuments(ctx context.Context, batch *model.Batch, docs []*model.Document, libraryIDs []string) error
	FindByID(ctx context.Context, id string) (*model.Batch, error)
	ListByUser(ctx context.Context, userID string) ([]model.Batch, error)
	LibraryIDs(ctx context.Context, batchID string) ([]string, error)
	UpdateStatus(ctx context.Context, id, status string) error
	// Finalize 以一次更新提交批次的最终汇总：processed_docs 为已完成文档数，状态置为 completed。
	Finalize(ctx context.Context, id string) error
}

type batchRepository struct {
	db *gorm.DB
}

// NewBatchRepository 创建一个新的 BatchRepository 实例。
func NewBatchRepository(db *gorm.DB) BatchRepository {
	return &batchRepository{db: db}
}

func (r *batchRepository) CreateWithDocuments(ctx context.Context, batch *model.Batch, docs []*model.Document, libraryIDs []string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(batch).Error; err != nil {
			return err
		}
		for _, d := range docs {
			d.BatchID = batch.ID
		}
		if len(docs) > 0 {
			if err := tx.CreateInBatches(docs, 100).Error; err != nil {
				return err
			}
		}
		links := make([]model.BatchLibrary, 0, len(libraryIDs))
		for _, id := range libraryIDs {
			links = append(links, model.BatchLibrary{BatchID: batch.ID, LibraryID: id})
		}
		if len(links) > 0 {
			return tx.Create(&links).Error
		}
		return nil
	})
}

func (r *batchRepository) FindByID(ctx context.Context, id string) (*model.Batch, error) {
	var batch model.Batch
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&batch).Error; err != nil {
		return nil, err
	}
	return &batch, nil
}

// ListByUser 按创建时间倒序返回用户的所有批次。
func (r *batchRepository) ListByUser(ctx context.Context, userID string) ([]model.Batch, error) {
	var batches []model.Batch
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&batches).Error
	return batches, err
}

func (r *batchRepository) LibraryIDs(ctx context.Context, batchID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&model.BatchLibrary{}).Where("batch_id = ?", batchID).Order("id").Pluck("library_id", &ids).Error
	return ids, err
}

func (r *batchRepository) UpdateStatus(ctx context.Context, id, status string) error {
	return r.db.WithContext(ctx).Model(&model.Batch{}).Where("id = ?", id).Update("status", status).Error
}

func (r *batchRepository) Finalize(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&model.Batch{}).Where("id = ?", id).Updates(map[string]interface{}{
		"processed_docs": gorm.Expr("(SELECT COUNT(*) FROM documents WHERE batch_id = ? AND status = ?)", id, model.DocumentCompleted),
		"status":         model.BatchCompleted,
	}).Error
}
