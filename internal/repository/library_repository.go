package repository

import (
	"context"
	"gorm.io/gorm"
	"plagcheck-go/internal/model"
)

// LibraryRepository 定义了文档库及其参考文档的数据操作接口。
type LibraryRepository interface {
	Create(ctx context.Context, lib *model.DocumentLibrary) error
	FindByID(ctx context.Context, id string) (*model.DocumentLibrary, error)
	ListActive(ctx context.Context) ([]model.DocumentLibrary, error)
	FindByIDs(ctx context.Context, ids []string) ([]model.DocumentLibrary, error)
	Deactivate(ctx context.Context, id string) error

	CreateDocument(ctx context.Context, doc *model.LibraryDocument) error
	// FinishDocument 写入文档处理结果（状态、向量以及是否已写入向量索引）。
	FinishDocument(ctx context.Context, id, status string, embedding []float32, indexed bool) error
	FindDocument(ctx context.Context, libraryID, docID string) (*model.LibraryDocument, error)
	DeleteDocument(ctx context.Context, id string) error
	ListDocuments(ctx context.Context, libraryID string) ([]model.LibraryDocument, error)
	// ListReady 返回给定文档库中状态为 ready 的文档。
	ListReady(ctx context.Context, libraryIDs []string) ([]model.LibraryDocument, error)
	// ListUnindexed 返回给定文档库中尚未写入向量索引的 ready 文档。
	ListUnindexed(ctx context.Context, libraryIDs []string) ([]model.LibraryDocument, error)
	GetByIDs(ctx context.Context, ids []string) ([]model.LibraryDocument, error)

	// RecountDocuments 按实际行数重算 document_count，不做增减运算，避免并发入库时丢失更新。
	RecountDocuments(ctx context.Context, libraryID string) error
}

type libraryRepository struct {
	db *gorm.DB
}

// NewLibraryRepository 创建一个新的 LibraryRepository 实例。
func NewLibraryRepository(db *gorm.DB) LibraryRepository {
	return &libraryRepository{db: db}
}

func (r *libraryRepository) Create(ctx context.Context, lib *model.DocumentLibrary) error {
	return r.db.WithContext(ctx).Create(lib).Error
}

func (r *libraryRepository) FindByID(ctx context.Context, id string) (*model.DocumentLibrary, error) {
	var lib model.DocumentLibrary
	if err := r.db.WithContext(ctx).Where("id = ? AND is_active = ?", id, true).First(&lib).Error; err != nil {
		return nil, err
	}
	return &lib, nil
}

func (r *libraryRepository) ListActive(ctx context.Context) ([]model.DocumentLibrary, error) {
	var libs []model.DocumentLibrary
	err := r.db.WithContext(ctx).Where("is_active = ?", true).Order("created_at DESC").Find(&libs).Error
	return libs, err
}

// FindByIDs 不过滤 is_active，用于解析历史结果中的文档库名称。
func (r *libraryRepository) FindByIDs(ctx context.Context, ids []string) ([]model.DocumentLibrary, error) {
	var libs []model.DocumentLibrary
	if len(ids) == 0 {
		return libs, nil
	}
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&libs).Error
	return libs, err
}

func (r *libraryRepository) Deactivate(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Model(&model.DocumentLibrary{}).Where("id = ? AND is_active = ?", id, true).Update("is_active", false)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *libraryRepository) CreateDocument(ctx context.Context, doc *model.LibraryDocument) error {
	return r.db.WithContext(ctx).Create(doc).Error
}

func (r *libraryRepository) FinishDocument(ctx context.Context, id, status string, embedding []float32, indexed bool) error {
	return r.db.WithContext(ctx).Model(&model.LibraryDocument{ID: id}).Select("status", "embedding", "indexed").
		Updates(&model.LibraryDocument{Status: status, Embedding: embedding, Indexed: indexed}).Error
}

func (r *libraryRepository) FindDocument(ctx context.Context, libraryID, docID string) (*model.LibraryDocument, error) {
	var doc model.LibraryDocument
	if err := r.db.WithContext(ctx).Where("id = ? AND library_id = ?", docID, libraryID).First(&doc).Error; err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *libraryRepository) DeleteDocument(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.LibraryDocument{}).Error
}

func (r *libraryRepository) ListDocuments(ctx context.Context, libraryID string) ([]model.LibraryDocument, error) {
	var docs []model.LibraryDocument
	err := r.db.WithContext(ctx).Omit("text_content", "embedding").Where("library_id = ?", libraryID).Order("created_at DESC").Find(&docs).Error
	return docs, err
}

func (r *libraryRepository) ListReady(ctx context.Context, libraryIDs []string) ([]model.LibraryDocument, error) {
	var docs []model.LibraryDocument
	if len(libraryIDs) == 0 {
		return docs, nil
	}
	err := r.db.WithContext(ctx).Where("library_id IN ? AND status = ?", libraryIDs, model.LibraryDocReady).Order("created_at, id").Find(&docs).Error
	return docs, err
}

func (r *libraryRepository) ListUnindexed(ctx context.Context, libraryIDs []string) ([]model.LibraryDocument, error) {
	var docs []model.LibraryDocument
	if len(libraryIDs) == 0 {
		return docs, nil
	}
	err := r.db.WithContext(ctx).
		Where("library_id IN ? AND status = ? AND indexed = ?", libraryIDs, model.LibraryDocReady, false).
		Order("created_at, id").Find(&docs).Error
	return docs, err
}

func (r *libraryRepository) GetByIDs(ctx context.Context, ids []string) ([]model.LibraryDocument, error) {
	var docs []model.LibraryDocument
	if len(ids) == 0 {
		return docs, nil
	}
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&docs).Error
	return docs, err
}

func (r *libraryRepository) RecountDocuments(ctx context.Context, libraryID string) error {
	return r.db.WithContext(ctx).Model(&model.DocumentLibrary{}).Where("id = ?", libraryID).
		Update("document_count", gorm.Expr("(SELECT COUNT(*) FROM library_documents WHERE library_id = ?)", libraryID)).Error
}
