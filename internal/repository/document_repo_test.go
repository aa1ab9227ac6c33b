package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	apperrors "github.com/aihub/rag-service/internal/errors"
	"github.com/aihub/rag-service/internal/models"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newMockRepository(t *testing.T) (DocumentRepository, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return NewDocumentRepository(db), mock
}

func TestDocumentRepository_Create(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "rag_document"`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	doc := &models.Document{
		DocumentID: "doc-1",
		Filename:   "notes.txt",
		RawText:    "The sky is blue.",
		Status:     models.DocumentStatusProcessing,
		IngestedAt: time.Now(),
	}
	require.NoError(t, repo.Create(context.Background(), doc))
	assert.False(t, doc.UpdateTime.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentRepository_CreateDuplicate(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "rag_document"`)).
		WillReturnError(&pgconn.PgError{Code: pgUniqueViolation, Message: "duplicate key value violates unique constraint"})

	err := repo.Create(context.Background(), &models.Document{DocumentID: "doc-1", Filename: "notes.txt", IngestedAt: time.Now()})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentRepository_GetByID(t *testing.T) {
	repo, mock := newMockRepository(t)

	rows := sqlmock.NewRows([]string{"document_id", "filename", "chunk_count", "status"}).
		AddRow("doc-1", "notes.txt", 3, models.DocumentStatusCompleted)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "rag_document" WHERE document_id = $1`)).
		WillReturnRows(rows)

	doc, err := repo.GetByID(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", doc.Filename)
	assert.Equal(t, 3, doc.ChunkCount)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "rag_document" WHERE document_id = $1`)).
		WillReturnRows(sqlmock.NewRows([]string{"document_id"}))

	_, err = repo.GetByID(context.Background(), "missing")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentRepository_List(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM "rag_document"`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "rag_document" ORDER BY ingested_at DESC`)).
		WillReturnRows(sqlmock.NewRows([]string{"document_id", "filename"}).
			AddRow("doc-2", "b.txt").
			AddRow("doc-1", "a.txt"))

	docs, total, err := repo.List(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, docs, 2)
	assert.Equal(t, "doc-2", docs[0].DocumentID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentRepository_UpdateStatusAndDelete(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "rag_document" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.UpdateStatus(context.Background(), "doc-1", models.DocumentStatusCompleted, 4, ""))

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "rag_document" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.UpdateStatus(context.Background(), "gone", models.DocumentStatusFailed, 0, "boom")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotFound))

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "rag_document" WHERE document_id = $1`)).
		WithArgs("doc-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Delete(context.Background(), "doc-1"))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMemoryDocumentRepository(t *testing.T) {
	repo := NewMemoryDocumentRepository()
	ctx := context.Background()
	base := time.Now()

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, repo.Create(ctx, &models.Document{
			DocumentID: id,
			Filename:   id + ".txt",
			Status:     models.DocumentStatusPending,
			IngestedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	err := repo.Create(ctx, &models.Document{DocumentID: "a", Filename: "other.txt"})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeConflict))
	doc, err := repo.GetByID(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a.txt", doc.Filename)

	docs, total, err := repo.List(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, docs, 2)
	assert.Equal(t, "c", docs[0].DocumentID)

	docs, _, err = repo.List(ctx, 3, 2)
	require.NoError(t, err)
	assert.Empty(t, docs)

	require.NoError(t, repo.UpdateStatus(ctx, "a", models.DocumentStatusCompleted, 5, ""))
	doc, err = repo.GetByID(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 5, doc.ChunkCount)
	assert.Equal(t, models.DocumentStatusCompleted, doc.Status)

	require.NoError(t, repo.Delete(ctx, "a"))
	_, err = repo.GetByID(ctx, "a")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotFound))
	assert.True(t, apperrors.IsCode(repo.UpdateStatus(ctx, "a", "failed", 0, ""), apperrors.ErrCodeNotFound))
}
