package handlers

import (
	"net/http"
	"time"

	"github.com/AfshinJalili/regportal/services/portal/internal/service"
	"github.com/AfshinJalili/regportal/services/portal/internal/storage"
	"github.com/AfshinJalili/regportal/services/portal/internal/validation"
	"github.com/gin-gonic/gin"
)

type saveRequest struct {
	Justification string                 `json:"justification"`
	Lines         []validation.LineInput `json:"lines"`
}

type decisionRequest struct {
	Notes string `json:"notes"`
}

type returnRequest struct {
	Reason string `json:"reason"`
}

type requesterItem struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Email            string `json:"email"`
	Phone            string `json:"phone,omitempty"`
	NationalIDMasked string `json:"national_id_masked,omitempty"`
}

type lineItem struct {
	ID              string            `json:"id"`
	EntityID        string            `json:"entity_id"`
	EntityName      string            `json:"entity_name"`
	ContactEmail    string            `json:"contact_email"`
	PermissionCodes []string          `json:"permission_codes"`
	Status          string            `json:"status"`
	DecisionNotes   string            `json:"decision_notes,omitempty"`
	DecidedBy       *storage.Identity `json:"decided_by,omitempty"`
	DecidedAt       *string           `json:"decided_at,omitempty"`
}

type historyItem struct {
	Seq        int               `json:"seq"`
	Action     string            `json:"action"`
	Actor      *storage.Identity `json:"actor,omitempty"`
	FromStatus *string           `json:"from_status"`
	ToStatus   *string           `json:"to_status"`
	Notes      string            `json:"notes,omitempty"`
	CreatedAt  string            `json:"created_at"`
}

type accessRequestItem struct {
	ID            string            `json:"id"`
	ReferenceCode string            `json:"reference_code"`
	Requester     requesterItem     `json:"requester"`
	Justification string            `json:"justification"`
	Status        string            `json:"status"`
	NextActor     string            `json:"next_actor"`
	HandledByUKNF bool              `json:"handled_by_uknf"`
	DecisionNotes string            `json:"decision_notes,omitempty"`
	SubmittedAt   *string           `json:"submitted_at,omitempty"`
	DecidedAt     *string           `json:"decided_at,omitempty"`
	DecidedBy     *storage.Identity `json:"decided_by,omitempty"`
	CreatedAt     string            `json:"created_at"`
	UpdatedAt     string            `json:"updated_at"`
	Lines         []lineItem        `json:"lines"`
	History       []historyItem     `json:"history"`
}

type listAccessRequestsResponse struct {
	Items []accessRequestItem `json:"items"`
}

func (h *Handler) GetMyAccessRequest(c *gin.Context) {
	actor, ctx, ok := actorFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil)
		return
	}
	req, err := h.Requests.GetMine(ctx, actor)
	if err != nil {
		h.writeServiceError(c, "get my access request", err)
		return
	}
	c.JSON(http.StatusOK, toAccessRequestItem(req))
}

func (h *Handler) CreateAccessRequest(c *gin.Context) {
	actor, ctx, ok := actorFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil)
		return
	}
	req, err := h.Requests.Create(ctx, actor)
	if err != nil {
		h.writeServiceError(c, "create access request", err)
		return
	}
	c.JSON(http.StatusCreated, toAccessRequestItem(req))
}

func (h *Handler) ListAccessRequests(c *gin.Context) {
	actor, ctx, ok := actorFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil)
		return
	}
	reqs, err := h.Requests.List(ctx, actor, service.ListInput{
		Filter: c.Query("filter"),
		Status: c.Query("status"),
	})
	if err != nil {
		h.writeServiceError(c, "list access requests", err)
		return
	}
	items := make([]accessRequestItem, 0, len(reqs))
	for _, req := range reqs {
		items = append(items, toAccessRequestItem(req))
	}
	c.JSON(http.StatusOK, listAccessRequestsResponse{Items: items})
}

func (h *Handler) GetAccessRequest(c *gin.Context) {
	actor, ctx, ok := actorFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil)
		return
	}
	id, err := parseUUIDParam(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid id", nil)
		return
	}
	req, err := h.Requests.Get(ctx, actor, id)
	if err != nil {
		h.writeServiceError(c, "get access request", err)
		return
	}
	c.JSON(http.StatusOK, toAccessRequestItem(req))
}

func (h *Handler) SaveAccessRequest(c *gin.Context) {
	actor, ctx, ok := actorFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil)
		return
	}
	id, err := parseUUIDParam(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid id", nil)
		return
	}
	var body saveRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil)
		return
	}
	req, err := h.Requests.Save(ctx, actor, id, service.SaveInput{
		Justification: body.Justification,
		Lines:         body.Lines,
	})
	if err != nil {
		h.writeServiceError(c, "save access request", err)
		return
	}
	c.JSON(http.StatusOK, toAccessRequestItem(req))
}

func (h *Handler) SubmitAccessRequest(c *gin.Context) {
	actor, ctx, ok := actorFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil)
		return
	}
	id, err := parseUUIDParam(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid id", nil)
		return
	}
	req, err := h.Requests.Submit(ctx, actor, id)
	if err != nil {
		h.writeServiceError(c, "submit access request", err)
		return
	}
	c.JSON(http.StatusOK, toAccessRequestItem(req))
}

func (h *Handler) ApproveLine(c *gin.Context) {
	h.decideLine(c, true)
}

func (h *Handler) BlockLine(c *gin.Context) {
	h.decideLine(c, false)
}

func (h *Handler) decideLine(c *gin.Context, approve bool) {
	actor, ctx, ok := actorFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil)
		return
	}
	id, err := parseUUIDParam(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid id", nil)
		return
	}
	lineID, err := parseUUIDParam(c.Param("lineId"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid line id", nil)
		return
	}
	var body decisionRequest
	if err := bindOptionalJSON(c, &body); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil)
		return
	}

	var req *storage.AccessRequest
	if approve {
		req, err = h.Requests.ApproveLine(ctx, actor, id, lineID, body.Notes)
	} else {
		req, err = h.Requests.BlockLine(ctx, actor, id, lineID, body.Notes)
	}
	if err != nil {
		h.writeServiceError(c, "decide line", err)
		return
	}
	c.JSON(http.StatusOK, toAccessRequestItem(req))
}

func (h *Handler) ReturnAccessRequest(c *gin.Context) {
	actor, ctx, ok := actorFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil)
		return
	}
	id, err := parseUUIDParam(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid id", nil)
		return
	}
	var body returnRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil)
		return
	}
	req, err := h.Requests.ReturnForUpdate(ctx, actor, id, body.Reason)
	if err != nil {
		h.writeServiceError(c, "return access request", err)
		return
	}
	c.JSON(http.StatusOK, toAccessRequestItem(req))
}

func toAccessRequestItem(req *storage.AccessRequest) accessRequestItem {
	item := accessRequestItem{
		ID:            req.ID.String(),
		ReferenceCode: req.ReferenceCode,
		Requester: requesterItem{
			ID:               req.Requester.ID,
			Name:             req.Requester.Name,
			Email:            req.Requester.Email,
			Phone:            req.Requester.Phone,
			NationalIDMasked: req.Requester.NationalIDMasked,
		},
		Justification: req.Justification,
		Status:        string(req.Status),
		NextActor:     string(service.ComputeNextActor(req.Status, req.Lines)),
		HandledByUKNF: req.HandledByUKNF,
		DecisionNotes: req.DecisionNotes,
		SubmittedAt:   formatTime(req.SubmittedAt),
		DecidedAt:     formatTime(req.DecidedAt),
		DecidedBy:     req.DecidedBy,
		CreatedAt:     req.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:     req.UpdatedAt.UTC().Format(time.RFC3339Nano),
		Lines:         make([]lineItem, 0, len(req.Lines)),
		History:       make([]historyItem, 0, len(req.History)),
	}
	for _, line := range req.Lines {
		item.Lines = append(item.Lines, lineItem{
			ID:              line.ID.String(),
			EntityID:        line.EntityID,
			EntityName:      line.EntityName,
			ContactEmail:    line.ContactEmail,
			PermissionCodes: line.PermissionCodes,
			Status:          string(line.Status),
			DecisionNotes:   line.DecisionNotes,
			DecidedBy:       line.DecidedBy,
			DecidedAt:       formatTime(line.DecidedAt),
		})
	}
	for _, entry := range req.History {
		item.History = append(item.History, historyItem{
			Seq:        entry.Seq,
			Action:     entry.Action,
			Actor:      entry.Actor,
			FromStatus: statusString(entry.FromStatus),
			ToStatus:   statusString(entry.ToStatus),
			Notes:      entry.Notes,
			CreatedAt:  entry.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	return item
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339Nano)
	return &s
}

func statusString(s *storage.RequestStatus) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}
