package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 文档状态。completed 与 failed 为终态。
const (
	DocumentQueued     = "queued"
	DocumentProcessing = "processing"
	DocumentCompleted  = "completed"
	DocumentFailed     = "failed"
)

// Document 对应于数据库中的 documents 表，即批次中提交的单个待检文档。
type Document struct {
	ID            string    `gorm:"type:char(36);primaryKey" json:"id"`
	BatchID       string    `gorm:"type:char(36);not null;index" json:"batchId"`
	FileName      string    `gorm:"type:varchar(255);not null" json:"fileName"`
	StoragePath   string    `gorm:"type:varchar(512)" json:"storagePath"`
	TextContent   string    `gorm:"type:longtext" json:"-"`
	Embedding     []float32 `gorm:"type:json;serializer:json" json:"-"`
	Status        string    `gorm:"type:varchar(16);not null;default:queued;index" json:"status"`
	AIScore       *float64  `json:"aiScore"`
	IsAIGenerated *bool     `json:"isAiGenerated"`
	AIConfidence  *float64  `json:"aiConfidence"`
	AIProvider    string    `gorm:"type:varchar(64)" json:"aiProvider"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (Document) TableName() string {
	return "documents"
}

func (d *Document) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	return nil
}

// IsTerminal 报告文档是否已处于终态。
func (d *Document) IsTerminal() bool {
	return d.Status == DocumentCompleted || d.Status == DocumentFailed
}

// AIDetection 记录一次 AI 生成检测的结果，作为审计明细。
type AIDetection struct {
	ID           uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	DocumentID   string         `gorm:"type:char(36);not null;index" json:"documentId"`
	ModelVersion string         `gorm:"type:varchar(100)" json:"modelVersion"`
	Probability  float64        `gorm:"not null" json:"probability"`
	Meta         map[string]any `gorm:"type:json;serializer:json" json:"meta"`
	CreatedAt    time.Time      `gorm:"autoCreateTime" json:"createdAt"`
}

func (AIDetection) TableName() string {
	return "ai_detections"
}
