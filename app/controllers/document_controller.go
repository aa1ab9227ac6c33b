package controllers

import (
	"fmt"
	"net/http"

	apperrors "github.com/aihub/rag-service/internal/errors"
	"github.com/aihub/rag-service/internal/services"
)

// DocumentController handles ingestion, listing, chunk inspection, reindex and deletion.
type DocumentController struct {
	BaseController
	Service       *services.RAGService
	MaxUploadSize int64
}

type ingestRequest struct {
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
	Content    string `json:"content"`
}

// Create ingests a plain-text document.
// POST /api/documents
func (c *DocumentController) Create() {
	var req ingestRequest
	if err := c.decodeJSON(&req); err != nil {
		c.Fail(err)
		return
	}

	result, err := c.Service.Ingest(c.Ctx.Request.Context(), services.IngestRequest{
		DocumentID: req.DocumentID,
		Filename:   req.Filename,
		Content:    req.Content,
	})
	if err != nil {
		c.Fail(err)
		return
	}
	c.JSONCreated(result)
}

// Upload ingests a multipart file (txt, md, pdf, docx, xlsx).
// POST /api/documents/upload
func (c *DocumentController) Upload() {
	file, header, err := c.GetFile("file")
	if err != nil {
		c.Fail(apperrors.NewInvalidArgumentError("file", "multipart field \"file\" is required"))
		return
	}
	defer file.Close()

	if c.MaxUploadSize > 0 && header.Size > c.MaxUploadSize {
		c.JSONError(http.StatusRequestEntityTooLarge,
			fmt.Sprintf("file exceeds maximum upload size of %d bytes", c.MaxUploadSize))
		return
	}
	if !c.Service.Parsers().Supports(header.Filename) {
		c.Fail(apperrors.NewInvalidFileError(header.Filename, nil))
		return
	}

	result, err := c.Service.IngestFile(c.Ctx.Request.Context(), file, header.Filename)
	if err != nil {
		c.Fail(err)
		return
	}
	c.JSONCreated(result)
}

// List returns registered documents, newest first.
// GET /api/documents?page=&limit=
func (c *DocumentController) List() {
	page, err := c.GetInt("page", 1)
	if err != nil {
		c.Fail(apperrors.NewInvalidArgumentError("page", "must be an integer"))
		return
	}
	limit, err := c.GetInt("limit", 20)
	if err != nil {
		c.Fail(apperrors.NewInvalidArgumentError("limit", "must be an integer"))
		return
	}

	docs, total, err := c.Service.ListDocuments(c.Ctx.Request.Context(), page, limit)
	if err != nil {
		c.Fail(err)
		return
	}
	c.JSONSuccess(map[string]interface{}{
		"documents": docs,
		"total":     total,
		"page":      page,
		"limit":     limit,
	})
}

// Chunks returns the chunks of one document ordered by sequence index.
// GET /api/documents/:id/chunks
func (c *DocumentController) Chunks() {
	id, err := c.pathID()
	if err != nil {
		c.Fail(err)
		return
	}

	chunks, err := c.Service.DocumentChunks(c.Ctx.Request.Context(), id)
	if err != nil {
		c.Fail(err)
		return
	}
	c.JSONSuccess(map[string]interface{}{
		"document_id": id,
		"chunks":      chunks,
	})
}

// Delete removes a document and all of its chunks.
// DELETE /api/documents/:id
func (c *DocumentController) Delete() {
	id, err := c.pathID()
	if err != nil {
		c.Fail(err)
		return
	}

	if err := c.Service.Delete(c.Ctx.Request.Context(), id); err != nil {
		c.Fail(err)
		return
	}
	c.JSONSuccess(map[string]interface{}{
		"document_id": id,
		"deleted":     true,
	})
}

// Reindex re-chunks and re-embeds a document from its archived text.
// POST /api/documents/:id/reindex
func (c *DocumentController) Reindex() {
	id, err := c.pathID()
	if err != nil {
		c.Fail(err)
		return
	}

	result, err := c.Service.Reindex(c.Ctx.Request.Context(), id)
	if err != nil {
		c.Fail(err)
		return
	}
	c.JSONSuccess(result)
}
