package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/AfshinJalili/regportal/services/portal/internal/service"
	"github.com/AfshinJalili/regportal/services/portal/internal/storage"
	"github.com/gin-gonic/gin"
)

type entityItem struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Category           string `json:"category"`
	RegistrationNumber string `json:"registration_number"`
	ContactEmail       string `json:"contact_email"`
	UpdatedAt          string `json:"updated_at"`
}

type selectEntityRequest struct {
	EntityID string `json:"entity_id"`
}

type sessionResponse struct {
	UserID     string      `json:"user_id"`
	EntityID   string      `json:"entity_id"`
	SelectedAt string      `json:"selected_at"`
	Entity     *entityItem `json:"entity,omitempty"`
}

func (h *Handler) ListEntities(c *gin.Context) {
	entities := h.Entities.ListEntities()
	items := make([]entityItem, 0, len(entities))
	for _, e := range entities {
		items = append(items, toEntityItem(e))
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *Handler) GetEntity(c *gin.Context) {
	entity, ok := h.Entities.GetEntity(strings.TrimSpace(c.Param("id")))
	if !ok {
		writeError(c, http.StatusNotFound, "NOT_FOUND", "entity not found", nil)
		return
	}
	c.JSON(http.StatusOK, toEntityItem(*entity))
}

func (h *Handler) GetSession(c *gin.Context) {
	actor, ctx, ok := actorFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil)
		return
	}
	sel, err := h.Sessions.Get(ctx, actor)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			writeError(c, http.StatusNotFound, "NOT_FOUND", "no entity selected", nil)
			return
		}
		h.writeServiceError(c, "get session", err)
		return
	}
	c.JSON(http.StatusOK, h.toSessionResponse(sel.UserID, sel.EntityID, sel.SelectedAt))
}

func (h *Handler) SelectEntity(c *gin.Context) {
	actor, ctx, ok := actorFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil)
		return
	}
	var body selectEntityRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil)
		return
	}
	sel, err := h.Sessions.SelectEntity(ctx, actor, body.EntityID)
	if err != nil {
		h.writeServiceError(c, "select entity", err)
		return
	}
	c.JSON(http.StatusOK, h.toSessionResponse(sel.UserID, sel.EntityID, sel.SelectedAt))
}

func (h *Handler) ClearSession(c *gin.Context) {
	actor, ctx, ok := actorFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil)
		return
	}
	if err := h.Sessions.Clear(ctx, actor); err != nil {
		h.writeServiceError(c, "clear session", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) toSessionResponse(userID, entityID string, selectedAt time.Time) sessionResponse {
	resp := sessionResponse{
		UserID:     userID,
		EntityID:   entityID,
		SelectedAt: selectedAt.UTC().Format(time.RFC3339),
	}
	if entity, ok := h.Entities.GetEntity(entityID); ok {
		item := toEntityItem(*entity)
		resp.Entity = &item
	}
	return resp
}

func toEntityItem(e storage.Entity) entityItem {
	item := entityItem{
		ID:                 e.ID,
		Name:               e.Name,
		Category:           e.Category,
		RegistrationNumber: e.RegistrationNumber,
		ContactEmail:       e.ContactEmail,
	}
	if !e.UpdatedAt.IsZero() {
		item.UpdatedAt = e.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return item
}
