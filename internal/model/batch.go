// Package model 定义了与数据库表对应的 Go 结构体。
package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 批次状态
const (
	BatchQueued     = "queued"
	BatchProcessing = "processing"
	BatchCompleted  = "completed"
)

// 分析类型，决定每个文档运行哪些检测阶段。
const (
	AnalysisAI         = "ai"
	AnalysisPlagiarism = "plagiarism"
	AnalysisMixed      = "mixed"
	AnalysisBoth       = "both"
)

// 比对模式，决定查重阶段的候选范围。
const (
	CompareInternal = "internal"
	CompareLibrary  = "library"
	CompareBoth     = "both"
)

// Batch 对应于数据库中的 batches 表。
// 一个批次独占其文档与比对记录。
type Batch struct {
	ID            string    `gorm:"type:char(36);primaryKey" json:"id"`
	UserID        string    `gorm:"type:varchar(64);not null;index" json:"userId"`
	AnalysisType  string    `gorm:"type:varchar(16);not null;default:plagiarism" json:"analysisType"`
	CompareMode   string    `gorm:"type:varchar(16);not null;default:library" json:"compareMode"`
	AIThreshold   float64   `gorm:"not null;default:0.5" json:"aiThreshold"`
	TotalDocs     int       `gorm:"not null;default:0" json:"totalDocs"`
	ProcessedDocs int       `gorm:"not null;default:0" json:"processedDocs"`
	Status        string    `gorm:"type:varchar(16);not null;default:queued" json:"status"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Batch) TableName() string {
	return "batches"
}

// BeforeCreate 在插入前补全主键。
func (b *Batch) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return nil
}

// RunsAI 判断该批次是否需要 AI 检测阶段。
func (b *Batch) RunsAI() bool {
	switch b.AnalysisType {
	case AnalysisAI, AnalysisMixed, AnalysisBoth:
		return true
	}
	return false
}

// RunsPlagiarism 判断该批次是否需要查重阶段。
func (b *Batch) RunsPlagiarism() bool {
	switch b.AnalysisType {
	case AnalysisPlagiarism, AnalysisMixed, AnalysisBoth:
		return true
	}
	return false
}

// ComparesInternal 判断是否与批次内其他文档比对。
func (b *Batch) ComparesInternal() bool {
	return b.CompareMode == CompareInternal || b.CompareMode == CompareBoth
}

// ComparesLibrary 判断是否与文档库比对。
func (b *Batch) ComparesLibrary() bool {
	return b.CompareMode == CompareLibrary || b.CompareMode == CompareBoth
}

// BatchLibrary 记录一个批次需要比对的文档库。
type BatchLibrary struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	BatchID   string    `gorm:"type:char(36);not null;index" json:"batchId"`
	LibraryID string    `gorm:"type:char(36);not null" json:"libraryId"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (BatchLibrary) TableName() string {
	return "batch_libraries"
}
