package repository

import (
	"context"
	"errors"
	"time"

	apperrors "github.com/aihub/rag-service/internal/errors"
	"github.com/aihub/rag-service/internal/models"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const pgUniqueViolation = "23505"

// documentRepository 基于gorm的文档仓库实现
type documentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository 创建文档仓库
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepository{db: db}
}

// Create 登记文档，文档ID已存在时返回 RESOURCE_CONFLICT
func (r *documentRepository) Create(ctx context.Context, doc *models.Document) error {
	if doc.UpdateTime.IsZero() {
		doc.UpdateTime = time.Now()
	}
	err := r.db.WithContext(ctx).Create(doc).Error
	if isDuplicateKey(err) {
		return apperrors.NewConflictError("document", doc.DocumentID).WithCause(err)
	}
	return err
}

func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// GetByID 根据ID获取文档
func (r *documentRepository) GetByID(ctx context.Context, documentID string) (*models.Document, error) {
	var doc models.Document
	err := r.db.WithContext(ctx).Where("document_id = ?", documentID).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NewNotFoundError("document")
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// List 分页获取文档列表，按入库时间倒序
func (r *documentRepository) List(ctx context.Context, page, limit int) ([]models.Document, int, error) {
	var docs []models.Document
	var total int64

	// 获取总数
	if err := r.db.WithContext(ctx).Model(&models.Document{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page, limit = normalizePage(page, limit)
	offset := (page - 1) * limit
	if err := r.db.WithContext(ctx).Order("ingested_at DESC").Offset(offset).Limit(limit).Find(&docs).Error; err != nil {
		return nil, 0, err
	}

	return docs, int(total), nil
}

// UpdateStatus 更新文档状态
func (r *documentRepository) UpdateStatus(ctx context.Context, documentID, status string, chunkCount int, errMsg string) error {
	result := r.db.WithContext(ctx).Model(&models.Document{}).
		Where("document_id = ?", documentID).
		Updates(map[string]interface{}{
			"status":        status,
			"chunk_count":   chunkCount,
			"error_message": errMsg,
			"update_time":   time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apperrors.NewNotFoundError("document")
	}
	return nil
}

// Delete 删除文档登记
func (r *documentRepository) Delete(ctx context.Context, documentID string) error {
	return r.db.WithContext(ctx).Where("document_id = ?", documentID).Delete(&models.Document{}).Error
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return page, limit
}
