package controllers

import (
	"strconv"
	"strings"

	apperrors "github.com/aihub/rag-service/internal/errors"
	"github.com/aihub/rag-service/internal/knowledge"
	"github.com/aihub/rag-service/internal/services"
)

// SearchController exposes retrieval without generation.
type SearchController struct {
	BaseController
	Service *services.RAGService
}

// Search GET /api/search?q=&top_k=&min_score=&filename=&document_id=
func (c *SearchController) Search() {
	req, err := c.searchRequest()
	if err != nil {
		c.Fail(err)
		return
	}

	result, err := c.Service.Search(c.Ctx.Request.Context(), req)
	if err != nil {
		c.Fail(err)
		return
	}
	c.JSONSuccess(result)
}

func (c *SearchController) searchRequest() (services.SearchRequest, error) {
	req := services.SearchRequest{Query: c.GetString("q")}

	topK, err := c.GetInt("top_k", 0)
	if err != nil {
		return req, apperrors.NewInvalidArgumentError("top_k", "must be an integer")
	}
	req.TopK = topK

	if raw := strings.TrimSpace(c.GetString("min_score")); raw != "" {
		minScore, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return req, apperrors.NewInvalidArgumentError("min_score", "must be a number")
		}
		req.MinScore = &minScore
	}

	req.Filter = buildFilter(c.GetString("document_id"), c.GetString("filename"))
	return req, nil
}

func buildFilter(documentID, filename string) *knowledge.SearchFilter {
	documentID = strings.TrimSpace(documentID)
	filename = strings.TrimSpace(filename)
	if documentID == "" && filename == "" {
		return nil
	}
	return &knowledge.SearchFilter{DocumentID: documentID, Filename: filename}
}
