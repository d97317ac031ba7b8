package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func listResponse[T any](c *gin.Context, items []T) {
	if items == nil {
		items = []T{}
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *Handler) ListReports(c *gin.Context)       { listResponse(c, h.Catalog.Reports.List()) }
func (h *Handler) ListMessages(c *gin.Context)      { listResponse(c, h.Catalog.Messages.List()) }
func (h *Handler) ListCases(c *gin.Context)         { listResponse(c, h.Catalog.Cases.List()) }
func (h *Handler) ListAnnouncements(c *gin.Context) { listResponse(c, h.Catalog.Announcements.List()) }
func (h *Handler) ListLibrary(c *gin.Context)       { listResponse(c, h.Catalog.Library.List()) }
func (h *Handler) ListFAQ(c *gin.Context)           { listResponse(c, h.Catalog.FAQ.List()) }
func (h *Handler) ListRoles(c *gin.Context)         { listResponse(c, h.Catalog.Roles.List()) }
func (h *Handler) ListUsers(c *gin.Context)         { listResponse(c, h.Catalog.Users.List()) }
