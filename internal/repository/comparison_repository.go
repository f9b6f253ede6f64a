package repository

import (
	"context"
	"gorm.io/gorm"
	"plagcheck-go/internal/model"
)

// ComparisonRepository 定义了对 comparisons 表的数据操作接口。比对记录只追加。
type ComparisonRepository interface {
	Create(ctx context.Context, c *model.Comparison) error
	// ListBySources 按相似度降序返回以给定文档为源的比对记录。
	ListBySources(ctx context.Context, docIDs []string) ([]model.Comparison, error)
}

type comparisonRepository struct {
	db *gorm.DB
}

// NewComparisonRepository 创建一个新的 ComparisonRepository 实例。
func NewComparisonRepository(db *gorm.DB) ComparisonRepository {
	return &comparisonRepository{db: db}
}

func (r *comparisonRepository) Create(ctx context.Context, c *model.Comparison) error {
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *comparisonRepository) ListBySources(ctx context.Context, docIDs []string) ([]model.Comparison, error) {
	var out []model.Comparison
	if len(docIDs) == 0 {
		return out, nil
	}
	err := r.db.WithContext(ctx).Where("doc_a IN ?", docIDs).Order("similarity DESC").Find(&out).Error
	return out, err
}
