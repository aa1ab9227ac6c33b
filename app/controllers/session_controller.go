package controllers

import (
	apperrors "github.com/aihub/rag-service/internal/errors"
	"github.com/aihub/rag-service/internal/services"
)

// SessionController reads, clears and exports conversation sessions.
type SessionController struct {
	BaseController
	Sessions *services.SessionStore
}

// Get GET /api/sessions/:id
func (c *SessionController) Get() {
	id, err := c.pathID()
	if err != nil {
		c.Fail(err)
		return
	}

	turns, ok := c.Sessions.History(id)
	if !ok {
		c.Fail(apperrors.NewNotFoundError("session " + id))
		return
	}
	c.JSONSuccess(map[string]interface{}{
		"session_id": id,
		"turns":      turns,
	})
}

// Delete DELETE /api/sessions/:id
func (c *SessionController) Delete() {
	id, err := c.pathID()
	if err != nil {
		c.Fail(err)
		return
	}

	if !c.Sessions.Clear(id) {
		c.Fail(apperrors.NewNotFoundError("session " + id))
		return
	}
	c.JSONSuccess(map[string]interface{}{
		"session_id": id,
		"cleared":    true,
	})
}

// Export POST /api/sessions/:id/export
func (c *SessionController) Export() {
	id, err := c.pathID()
	if err != nil {
		c.Fail(err)
		return
	}

	key, err := c.Sessions.Export(c.Ctx.Request.Context(), id)
	if err != nil {
		c.Fail(err)
		return
	}
	c.JSONSuccess(map[string]interface{}{
		"session_id": id,
		"key":        key,
	})
}
