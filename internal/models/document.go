package models

import (
	"time"
)

// 文档入库状态
const (
	DocumentStatusPending    = "pending"
	DocumentStatusProcessing = "processing"
	DocumentStatusCompleted  = "completed"
	DocumentStatusFailed     = "failed"
)

// Document 文档登记表，向量库之外的文档元数据
type Document struct {
	DocumentID     string    `gorm:"primaryKey;column:document_id;size:64" json:"document_id"`
	Filename       string    `gorm:"size:255;not null;index" json:"filename"`
	RawText        string    `gorm:"type:text;column:raw_text" json:"-"`
	ContentHash    string    `gorm:"column:content_hash;size:64;index" json:"content_hash"`
	ChunkCount     int       `gorm:"column:chunk_count;default:0" json:"chunk_count"`
	EmbeddingModel string    `gorm:"column:embedding_model;size:100" json:"embedding_model"`
	Status         string    `gorm:"size:20;not null;default:'pending'" json:"status"` // pending/processing/completed/failed
	ErrorMessage   string    `gorm:"type:text;column:error_message" json:"error_message,omitempty"`
	IngestedAt     time.Time `gorm:"column:ingested_at;not null" json:"ingested_at"`
	UpdateTime     time.Time `gorm:"column:update_time" json:"update_time"`
}

func (Document) TableName() string {
	return "rag_document"
}
