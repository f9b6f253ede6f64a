package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 比对来源
const (
	SourceInternal = "internal"
	SourceLibrary  = "library"
)

// ChunkMatch 是一对被接受的分块匹配。
type ChunkMatch struct {
	SourceChunk string  `json:"source_chunk"`
	TargetChunk string  `json:"target_chunk"`
	Score       float64 `json:"score"`
	SourceIndex int     `json:"source_index"`
	TargetIndex int     `json:"target_index"`
}

// Comparison 对应于数据库中的 comparisons 表。
// 记录只追加，创建后不再修改。
type Comparison struct {
	ID           string       `gorm:"type:char(36);primaryKey" json:"id"`
	DocA         string       `gorm:"column:doc_a;type:char(36);not null;index" json:"docA"`
	DocB         *string      `gorm:"column:doc_b;type:char(36)" json:"docB"` // 与文档库比对时为空
	LibraryID    *string      `gorm:"type:char(36)" json:"libraryId"`
	LibraryDocID *string      `gorm:"type:char(36)" json:"libraryDocId"`
	Similarity   float64      `gorm:"not null" json:"similarity"`
	Matches      []ChunkMatch `gorm:"type:json;serializer:json" json:"matches"`
	SourceType   string       `gorm:"type:varchar(16);not null;default:internal" json:"sourceType"`
	CreatedAt    time.Time    `gorm:"autoCreateTime" json:"createdAt"`
}

func (Comparison) TableName() string {
	return "comparisons"
}

func (c *Comparison) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}
