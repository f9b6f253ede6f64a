package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 文档库文档状态
const (
	LibraryDocProcessing = "processing"
	LibraryDocReady      = "ready"
	LibraryDocFailed     = "failed"
)

// DocumentLibrary 对应于数据库中的 document_libraries 表。
// DocumentCount 是派生缓存，每次增删文档后按实际行数重算。
type DocumentLibrary struct {
	ID            string    `gorm:"type:char(36);primaryKey" json:"id"`
	Name          string    `gorm:"type:varchar(255);not null" json:"name"`
	Description   string    `gorm:"type:text" json:"description"`
	OwnerID       string    `gorm:"type:varchar(64);not null" json:"ownerId"`
	IsActive      bool      `gorm:"not null;default:true" json:"isActive"`
	DocumentCount int       `gorm:"not null;default:0" json:"documentCount"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (DocumentLibrary) TableName() string {
	return "document_libraries"
}

func (l *DocumentLibrary) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	return nil
}

// LibraryDocument 对应于数据库中的 library_documents 表，是文档库中的参考文档。
// Indexed 为 false 的 ready 文档只能通过词法粗筛召回。
type LibraryDocument struct {
	ID          string    `gorm:"type:char(36);primaryKey" json:"id"`
	LibraryID   string    `gorm:"type:char(36);not null;index" json:"libraryId"`
	FileName    string    `gorm:"type:varchar(255);not null" json:"fileName"`
	ContentHash string    `gorm:"type:char(64)" json:"contentHash"`
	TextContent string    `gorm:"type:longtext" json:"-"`
	Embedding   []float32 `gorm:"type:json;serializer:json" json:"-"`
	Indexed     bool      `gorm:"not null;default:false" json:"indexed"` // 是否已写入向量索引
	StoragePath string    `gorm:"type:varchar(512)" json:"storagePath"`
	UploadedBy  string    `gorm:"type:varchar(64)" json:"uploadedBy"`
	Status      string    `gorm:"type:varchar(16);not null;default:processing;index" json:"status"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (LibraryDocument) TableName() string {
	return "library_documents"
}

func (d *LibraryDocument) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	return nil
}
