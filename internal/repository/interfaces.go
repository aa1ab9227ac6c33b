package repository

import (
	"context"

	"github.com/aihub/rag-service/internal/models"
)

// DocumentRepository 文档登记仓库接口
type DocumentRepository interface {
	Create(ctx context.Context, doc *models.Document) error
	GetByID(ctx context.Context, documentID string) (*models.Document, error)
	List(ctx context.Context, page, limit int) ([]models.Document, int, error)
	UpdateStatus(ctx context.Context, documentID, status string, chunkCount int, errMsg string) error
	Delete(ctx context.Context, documentID string) error
}
