package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/AfshinJalili/regportal/libs/auth"
	"github.com/AfshinJalili/regportal/libs/httpmiddleware"
	"github.com/AfshinJalili/regportal/services/portal/internal/catalog"
	"github.com/AfshinJalili/regportal/services/portal/internal/policy"
	"github.com/AfshinJalili/regportal/services/portal/internal/service"
	"github.com/AfshinJalili/regportal/services/portal/internal/session"
	"github.com/AfshinJalili/regportal/services/portal/internal/storage"
	"github.com/AfshinJalili/regportal/services/portal/internal/validation"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type AccessRequestService interface {
	Create(ctx context.Context, actor service.Actor) (*storage.AccessRequest, error)
	GetMine(ctx context.Context, actor service.Actor) (*storage.AccessRequest, error)
	Get(ctx context.Context, actor service.Actor, id uuid.UUID) (*storage.AccessRequest, error)
	List(ctx context.Context, actor service.Actor, input service.ListInput) ([]*storage.AccessRequest, error)
	Save(ctx context.Context, actor service.Actor, id uuid.UUID, input service.SaveInput) (*storage.AccessRequest, error)
	Submit(ctx context.Context, actor service.Actor, id uuid.UUID) (*storage.AccessRequest, error)
	ApproveLine(ctx context.Context, actor service.Actor, id, lineID uuid.UUID, notes string) (*storage.AccessRequest, error)
	BlockLine(ctx context.Context, actor service.Actor, id, lineID uuid.UUID, notes string) (*storage.AccessRequest, error)
	ReturnForUpdate(ctx context.Context, actor service.Actor, id uuid.UUID, reason string) (*storage.AccessRequest, error)
}

type SessionService interface {
	SelectEntity(ctx context.Context, actor service.Actor, entityID string) (*session.Selection, error)
	Get(ctx context.Context, actor service.Actor) (*session.Selection, error)
	Clear(ctx context.Context, actor service.Actor) error
}

type EntityDirectory interface {
	GetEntity(id string) (*storage.Entity, bool)
	ListEntities() []storage.Entity
}

type Handler struct {
	Requests AccessRequestService
	Sessions SessionService
	Entities EntityDirectory
	Policy   *policy.Store
	Catalog  *catalog.Catalog
	Logger   *slog.Logger
}

type errorResponse struct {
	Code    string                  `json:"code"`
	Message string                  `json:"message"`
	Fields  []validation.FieldError `json:"fields,omitempty"`
}

func New(requests AccessRequestService, sessions SessionService, entities EntityDirectory, policies *policy.Store, cat *catalog.Catalog, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if policies == nil {
		policies = policy.NewStore(policy.Default())
	}
	if cat == nil {
		cat = catalog.New(catalog.Seed{})
	}
	return &Handler{
		Requests: requests,
		Sessions: sessions,
		Entities: entities,
		Policy:   policies,
		Catalog:  cat,
		Logger:   logger,
	}
}

func (h *Handler) Register(r *gin.Engine, jwtSecret []byte) {
	api := r.Group("/api", auth.Middleware(jwtSecret))

	api.GET("/access-requests/me", h.GetMyAccessRequest)
	api.POST("/access-requests", h.CreateAccessRequest)
	api.GET("/access-requests", h.ListAccessRequests)
	api.GET("/access-requests/:id", h.GetAccessRequest)
	api.PATCH("/access-requests/:id", h.SaveAccessRequest)
	api.POST("/access-requests/:id/submit", h.SubmitAccessRequest)
	api.POST("/access-requests/:id/lines/:lineId/approve", h.ApproveLine)
	api.POST("/access-requests/:id/lines/:lineId/block", h.BlockLine)
	api.POST("/access-requests/:id/return", h.ReturnAccessRequest)

	api.GET("/entities", h.ListEntities)
	api.GET("/entities/:id", h.GetEntity)

	api.GET("/session", h.GetSession)
	api.POST("/session/entity", h.SelectEntity)
	api.DELETE("/session", h.ClearSession)

	api.GET("/reports", h.ListReports)
	api.GET("/messages", h.ListMessages)
	api.GET("/cases", h.ListCases)
	api.GET("/announcements", h.ListAnnouncements)
	api.GET("/library", h.ListLibrary)
	api.GET("/faq", h.ListFAQ)

	admin := api.Group("/admin")
	admin.GET("/password-policy", h.GetPasswordPolicy)
	admin.PUT("/password-policy", auth.RequireRole(auth.RoleSystemAdmin), h.UpdatePasswordPolicy)
	admin.POST("/password-policy/check", h.CheckPassword)
	admin.GET("/roles", auth.RequireRole(auth.RoleSystemAdmin, auth.RoleSupervisor), h.ListRoles)
	admin.GET("/users", auth.RequireRole(auth.RoleSystemAdmin, auth.RoleSupervisor), h.ListUsers)
}

// actorFromContext reads the authenticated actor and attaches the request
// metadata the service records in audit rows and events.
func actorFromContext(c *gin.Context) (service.Actor, context.Context, bool) {
	claims, ok := auth.ClaimsFromContext(c)
	if !ok {
		return service.Actor{}, nil, false
	}
	ctx := service.ContextWithMeta(c.Request.Context(), service.Meta{
		IP:            c.ClientIP(),
		UserAgent:     c.Request.UserAgent(),
		CorrelationID: httpmiddleware.RequestIDFromContext(c),
	})
	return service.ActorFromClaims(claims), ctx, true
}

func parseUUIDParam(value string) (uuid.UUID, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return uuid.Nil, errors.New("missing id")
	}
	return uuid.Parse(trimmed)
}

// bindOptionalJSON decodes a JSON body when one is sent. An empty body, with
// or without a Content-Length, leaves obj untouched.
func bindOptionalJSON(c *gin.Context, obj any) error {
	if c.Request.Body == nil || c.Request.Body == http.NoBody {
		return nil
	}
	if err := c.ShouldBindJSON(obj); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func writeError(c *gin.Context, status int, code, message string, fields []validation.FieldError) {
	c.JSON(status, errorResponse{Code: code, Message: message, Fields: fields})
}

// writeServiceError maps workflow errors onto HTTP responses. Anything outside
// the known taxonomy is logged and hidden behind INTERNAL_ERROR.
func (h *Handler) writeServiceError(c *gin.Context, op string, err error) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(c, http.StatusBadRequest, "VALIDATION_FAILED", "validation failed", verr.Fields)
	case errors.Is(err, service.ErrNotFound):
		writeError(c, http.StatusNotFound, "NOT_FOUND", "not found", nil)
	case errors.Is(err, service.ErrForbidden):
		writeError(c, http.StatusForbidden, "FORBIDDEN", trimSentinel(err, service.ErrForbidden), nil)
	case errors.Is(err, service.ErrInvalidState):
		writeError(c, http.StatusConflict, "INVALID_STATE", trimSentinel(err, service.ErrInvalidState), nil)
	case errors.Is(err, service.ErrConflict):
		writeError(c, http.StatusConflict, "CONFLICT", trimSentinel(err, service.ErrConflict), nil)
	default:
		h.Logger.Error(op+" failed", "error", err, "request_id", httpmiddleware.RequestIDFromContext(c))
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
	}
}

// trimSentinel drops the "<sentinel>: " prefix added when wrapping.
func trimSentinel(err, sentinel error) string {
	msg := err.Error()
	if rest, ok := strings.CutPrefix(msg, sentinel.Error()+": "); ok && rest != "" {
		return rest
	}
	return msg
}
