package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	apperrors "github.com/aihub/rag-service/internal/errors"
	"github.com/aihub/rag-service/internal/models"
)

// memoryDocumentRepository 未启用数据库时的进程内文档登记
type memoryDocumentRepository struct {
	mu   sync.RWMutex
	docs map[string]models.Document
}

// NewMemoryDocumentRepository 创建内存文档仓库
func NewMemoryDocumentRepository() DocumentRepository {
	return &memoryDocumentRepository{docs: make(map[string]models.Document)}
}

func (r *memoryDocumentRepository) Create(ctx context.Context, doc *models.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.docs[doc.DocumentID]; exists {
		return apperrors.NewConflictError("document", doc.DocumentID)
	}
	if doc.UpdateTime.IsZero() {
		doc.UpdateTime = time.Now()
	}
	r.docs[doc.DocumentID] = *doc
	return nil
}

func (r *memoryDocumentRepository) GetByID(ctx context.Context, documentID string) (*models.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.docs[documentID]
	if !ok {
		return nil, apperrors.NewNotFoundError("document")
	}
	return &doc, nil
}

func (r *memoryDocumentRepository) List(ctx context.Context, page, limit int) ([]models.Document, int, error) {
	r.mu.RLock()
	docs := make([]models.Document, 0, len(r.docs))
	for _, doc := range r.docs {
		docs = append(docs, doc)
	}
	r.mu.RUnlock()

	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].IngestedAt.Equal(docs[j].IngestedAt) {
			return docs[i].IngestedAt.After(docs[j].IngestedAt)
		}
		return docs[i].DocumentID < docs[j].DocumentID
	})

	page, limit = normalizePage(page, limit)
	total := len(docs)
	start := (page - 1) * limit
	if start >= total {
		return []models.Document{}, total, nil
	}
	end := start + limit
	if end > total {
		end = total
	}
	return docs[start:end], total, nil
}

func (r *memoryDocumentRepository) UpdateStatus(ctx context.Context, documentID, status string, chunkCount int, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[documentID]
	if !ok {
		return apperrors.NewNotFoundError("document")
	}
	doc.Status = status
	doc.ChunkCount = chunkCount
	doc.ErrorMessage = errMsg
	doc.UpdateTime = time.Now()
	r.docs[documentID] = doc
	return nil
}

func (r *memoryDocumentRepository) Delete(ctx context.Context, documentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.docs, documentID)
	return nil
}
