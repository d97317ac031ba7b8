package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AfshinJalili/regportal/services/portal/internal/storage"
	"github.com/AfshinJalili/regportal/services/portal/internal/validation"
	"github.com/google/uuid"
)

type AccessRequestStore interface {
	CreateAccessRequest(ctx context.Context, req *storage.AccessRequest) error
	UpdateAccessRequest(ctx context.Context, req *storage.AccessRequest, changes []storage.MembershipChange) error
	GetAccessRequest(ctx context.Context, id uuid.UUID) (*storage.AccessRequest, error)
	FindLatestAccessRequest(ctx context.Context, requesterID string) (*storage.AccessRequest, error)
	ListAccessRequests(ctx context.Context) ([]*storage.AccessRequest, error)
	InsertAudit(ctx context.Context, log storage.AuditLog) error
}

type EntityDirectory interface {
	GetEntity(id string) (*storage.Entity, bool)
}

// Notifier accepts events for asynchronous delivery. It reports false when
// the event was dropped.
type Notifier interface {
	Enqueue(topic, key string, value any) bool
}

type SaveInput struct {
	Justification string
	Lines         []validation.LineInput
}

type AccessRequestService struct {
	store    AccessRequestStore
	entities EntityDirectory
	notifier Notifier
	logger   *slog.Logger
	metrics  *Metrics
	topics   Topics
	locks    *keyedMutex
	clock    func() time.Time
}

func NewAccessRequestService(store AccessRequestStore, entities EntityDirectory, notifier Notifier, logger *slog.Logger, metrics *Metrics, topics Topics) *AccessRequestService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccessRequestService{
		store:    store,
		entities: entities,
		notifier: notifier,
		logger:   logger,
		metrics:  metrics,
		topics:   topics,
		locks:    newKeyedMutex(),
		clock:    time.Now,
	}
}

// Create opens a new draft for the actor. A requester whose last request was
// blocked gets the draft pre-filled from it.
func (s *AccessRequestService) Create(ctx context.Context, actor Actor) (req *storage.AccessRequest, err error) {
	defer s.observe("create", time.Now(), &err)

	unlock := s.locks.Lock(requesterKey(actor.ID))
	defer unlock()

	latest, err := s.store.FindLatestAccessRequest(ctx, actor.ID)
	switch {
	case err == nil:
		if latest.Status.Active() {
			return nil, fmt.Errorf("%w: request %s is still active", ErrConflict, latest.ReferenceCode)
		}
	case errors.Is(err, storage.ErrNotFound):
		latest = nil
	default:
		return nil, err
	}
	return s.createLocked(ctx, actor, latest)
}

// GetMine returns the actor's active request, falling back to the latest
// decided one and creating the first draft for newcomers.
func (s *AccessRequestService) GetMine(ctx context.Context, actor Actor) (*storage.AccessRequest, error) {
	unlock := s.locks.Lock(requesterKey(actor.ID))
	defer unlock()

	latest, err := s.store.FindLatestAccessRequest(ctx, actor.ID)
	if err == nil {
		return latest, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	start := time.Now()
	req, err := s.createLocked(ctx, actor, nil)
	s.observe("create", start, &err)
	return req, err
}

func (s *AccessRequestService) Get(ctx context.Context, actor Actor, id uuid.UUID) (*storage.AccessRequest, error) {
	req, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(actor, req) {
		return nil, ErrNotFound
	}
	return req, nil
}

func (s *AccessRequestService) Save(ctx context.Context, actor Actor, id uuid.UUID, input SaveInput) (result *storage.AccessRequest, err error) {
	defer s.observe("save", time.Now(), &err)

	unlock := s.locks.Lock(id.String())
	defer unlock()

	req, err := s.loadOwned(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if req.Status != storage.RequestStatusDraft && req.Status != storage.RequestStatusUpdated {
		return nil, invalidState("request in status %s cannot be edited", req.Status)
	}

	var fields validation.ValidationErrors
	fields = append(fields, validation.ValidateJustification(input.Justification)...)
	lines, lineErrs := validation.ValidateLines(input.Lines, s.entities.GetEntity)
	fields = append(fields, lineErrs...)
	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}

	existing := make(map[string]storage.Line, len(req.Lines))
	for _, line := range req.Lines {
		existing[line.EntityID] = line
	}
	merged := make([]storage.Line, 0, len(lines))
	for _, in := range lines {
		entityName := in.EntityID
		if entity, ok := s.entities.GetEntity(in.EntityID); ok {
			entityName = entity.Name
		}
		if prev, ok := existing[in.EntityID]; ok && validation.SameCodes(prev.PermissionCodes, in.PermissionCodes) {
			prev.EntityName = entityName
			prev.ContactEmail = in.ContactEmail
			merged = append(merged, prev)
			continue
		}
		merged = append(merged, storage.Line{
			ID:              uuid.New(),
			EntityID:        in.EntityID,
			EntityName:      entityName,
			ContactEmail:    in.ContactEmail,
			PermissionCodes: in.PermissionCodes,
			Status:          storage.LineStatusPending,
		})
	}
	if !hasActionable(merged) {
		return nil, validationFailed(validation.FieldError{Field: "lines", Message: "at least one line must await a decision"})
	}

	now := s.nextTimestamp(req)
	req.Justification = validation.NormalizeJustification(input.Justification)
	req.Lines = merged
	req.UpdatedAt = now
	appendHistory(req, storage.ActionUpdated, actor, req.Status, req.Status, "", now)

	if err := s.persist(ctx, req, nil); err != nil {
		return nil, err
	}
	s.audit(ctx, actor, "access_request.save", req, nil)
	return req, nil
}

func (s *AccessRequestService) Submit(ctx context.Context, actor Actor, id uuid.UUID) (result *storage.AccessRequest, err error) {
	defer s.observe("submit", time.Now(), &err)

	unlock := s.locks.Lock(id.String())
	defer unlock()

	req, err := s.loadOwned(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if req.Status != storage.RequestStatusDraft && req.Status != storage.RequestStatusUpdated {
		return nil, invalidState("request in status %s cannot be submitted", req.Status)
	}
	if len(req.Lines) == 0 {
		return nil, validationFailed(validation.FieldError{Field: "lines", Message: "at least one line is required"})
	}
	var fields validation.ValidationErrors
	for i, line := range req.Lines {
		if len(line.PermissionCodes) == 0 {
			fields = append(fields, validation.FieldError{
				Field:   fmt.Sprintf("lines[%d].permission_codes", i),
				Message: "at least one permission code is required",
			})
		}
	}
	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}

	from := req.Status
	now := s.nextTimestamp(req)
	for i := range req.Lines {
		if req.Lines[i].Status == storage.LineStatusNeedsUpdate {
			req.Lines[i].Status = storage.LineStatusPending
		}
	}
	req.Status = storage.RequestStatusNew
	req.SubmittedAt = &now
	req.DecisionNotes = ""
	req.UpdatedAt = now
	resolveStatus(req)
	appendHistory(req, storage.ActionSubmit, actor, from, req.Status, "", now)

	if err := s.persist(ctx, req, nil); err != nil {
		return nil, err
	}
	s.audit(ctx, actor, "access_request.submit", req, nil)

	events := []pendingEvent{s.event(ctx, EventSubmitted, req, actor, nil)}
	if req.Status.Terminal() {
		events = append(events, s.event(ctx, EventDecided, req, actor, nil))
	}
	s.dispatch(events...)
	return req, nil
}

func (s *AccessRequestService) ApproveLine(ctx context.Context, actor Actor, id, lineID uuid.UUID, notes string) (result *storage.AccessRequest, err error) {
	defer s.observe("approve_line", time.Now(), &err)
	return s.decide(ctx, actor, id, lineID, notes, true)
}

func (s *AccessRequestService) BlockLine(ctx context.Context, actor Actor, id, lineID uuid.UUID, notes string) (result *storage.AccessRequest, err error) {
	defer s.observe("block_line", time.Now(), &err)
	return s.decide(ctx, actor, id, lineID, notes, false)
}

func (s *AccessRequestService) decide(ctx context.Context, actor Actor, id, lineID uuid.UUID, notes string, approve bool) (*storage.AccessRequest, error) {
	notes = strings.TrimSpace(notes)
	if !approve && notes == "" {
		return nil, validationFailed(validation.FieldError{Field: "notes", Message: "notes are required when blocking a line"})
	}

	unlock := s.locks.Lock(id.String())
	defer unlock()

	req, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(actor, req) {
		return nil, ErrNotFound
	}
	if req.Status != storage.RequestStatusNew && req.Status != storage.RequestStatusUpdated {
		return nil, invalidState("request in status %s cannot be decided", req.Status)
	}

	idx := -1
	for i := range req.Lines {
		if req.Lines[i].ID == lineID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("%w: line %s", ErrNotFound, lineID)
	}
	line := &req.Lines[idx]
	if req.Requester.ID == actor.ID {
		return nil, forbidden("requesters cannot decide their own lines")
	}
	if !canDecide(actor, *line) {
		return nil, forbidden("actor has no authority over line %s", line.ID)
	}
	if !line.Status.Actionable() {
		return nil, invalidState("line in status %s cannot be decided", line.Status)
	}

	from := req.Status
	now := s.nextTimestamp(req)
	identity := actor.Identity()
	action := storage.ActionApproved
	line.Status = storage.LineStatusApproved
	if !approve {
		action = storage.ActionBlocked
		line.Status = storage.LineStatusBlocked
	}
	line.DecisionNotes = notes
	line.DecidedBy = &identity
	line.DecidedAt = &now
	decider := identity
	req.DecidedBy = &decider
	req.DecidedAt = &now
	if actor.Internal {
		req.HandledByUKNF = true
	}
	req.UpdatedAt = now
	resolveStatus(req)
	appendHistory(req, action, actor, from, req.Status, notes, now)

	changes := membershipChanges(req.Requester.ID, *line, approve)
	if err := s.persist(ctx, req, changes); err != nil {
		return nil, err
	}

	op := "access_request.approve_line"
	if !approve {
		op = "access_request.block_line"
	}
	s.audit(ctx, actor, op, req, map[string]string{"line_id": line.ID.String(), "entity_id": line.EntityID})

	decided := *line
	events := []pendingEvent{s.event(ctx, EventLineDecided, req, actor, &decided)}
	if req.Status.Terminal() {
		events = append(events, s.event(ctx, EventDecided, req, actor, nil))
	}
	s.dispatch(events...)
	return req, nil
}

// ReturnForUpdate hands a submitted request back to its requester.
func (s *AccessRequestService) ReturnForUpdate(ctx context.Context, actor Actor, id uuid.UUID, reason string) (result *storage.AccessRequest, err error) {
	defer s.observe("return", time.Now(), &err)

	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, validationFailed(validation.FieldError{Field: "reason", Message: "reason is required"})
	}

	unlock := s.locks.Lock(id.String())
	defer unlock()

	req, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(actor, req) {
		return nil, ErrNotFound
	}
	if req.Requester.ID == actor.ID {
		return nil, forbidden("requesters cannot return their own request")
	}
	if !isReviewer(actor, req) {
		return nil, forbidden("actor does not review this request")
	}
	if req.Status != storage.RequestStatusNew {
		return nil, invalidState("request in status %s cannot be returned", req.Status)
	}

	from := req.Status
	now := s.nextTimestamp(req)
	for i := range req.Lines {
		if req.Lines[i].Status == storage.LineStatusPending {
			req.Lines[i].Status = storage.LineStatusNeedsUpdate
		}
	}
	identity := actor.Identity()
	req.Status = storage.RequestStatusUpdated
	req.DecisionNotes = reason
	req.DecidedBy = &identity
	req.DecidedAt = &now
	if actor.Internal {
		req.HandledByUKNF = true
	}
	req.UpdatedAt = now
	appendHistory(req, storage.ActionReturned, actor, from, req.Status, reason, now)

	if err := s.persist(ctx, req, nil); err != nil {
		return nil, err
	}
	s.audit(ctx, actor, "access_request.return", req, nil)
	s.dispatch(s.event(ctx, EventReturned, req, actor, nil))
	return req, nil
}

func (s *AccessRequestService) createLocked(ctx context.Context, actor Actor, previous *storage.AccessRequest) (*storage.AccessRequest, error) {
	now := s.clock().UTC().Truncate(time.Microsecond)
	req := &storage.AccessRequest{
		ID:            uuid.New(),
		ReferenceCode: referenceCode(now),
		Requester:     actor.requester(),
		Status:        storage.RequestStatusDraft,
		Lines:         []storage.Line{},
		History:       []storage.HistoryEntry{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	notes := ""
	if previous != nil && previous.Status == storage.RequestStatusBlocked {
		req.Justification = previous.Justification
		for _, line := range previous.Lines {
			req.Lines = append(req.Lines, storage.Line{
				ID:              uuid.New(),
				EntityID:        line.EntityID,
				EntityName:      line.EntityName,
				ContactEmail:    line.ContactEmail,
				PermissionCodes: append([]string(nil), line.PermissionCodes...),
				Status:          storage.LineStatusPending,
			})
		}
		notes = "prefilled from " + previous.ReferenceCode
	}
	to := storage.RequestStatusDraft
	req.History = append(req.History, storage.HistoryEntry{
		Seq:       0,
		Action:    storage.ActionCreated,
		Actor:     identityPtr(actor),
		ToStatus:  &to,
		Notes:     notes,
		CreatedAt: now,
	})

	if err := s.store.CreateAccessRequest(ctx, req); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, fmt.Errorf("%w: an active request already exists", ErrConflict)
		}
		return nil, err
	}
	s.audit(ctx, actor, "access_request.create", req, nil)
	return req, nil
}

func (s *AccessRequestService) load(ctx context.Context, id uuid.UUID) (*storage.AccessRequest, error) {
	req, err := s.store.GetAccessRequest(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return req.Clone(), nil
}

// loadOwned loads a request the actor must own. Reviewers who can see it get
// ErrForbidden, everyone else ErrNotFound.
func (s *AccessRequestService) loadOwned(ctx context.Context, actor Actor, id uuid.UUID) (*storage.AccessRequest, error) {
	req, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Requester.ID != actor.ID {
		if canView(actor, req) {
			return nil, forbidden("only the requester may change this request")
		}
		return nil, ErrNotFound
	}
	return req, nil
}

func (s *AccessRequestService) persist(ctx context.Context, req *storage.AccessRequest, changes []storage.MembershipChange) error {
	if err := s.store.UpdateAccessRequest(ctx, req, changes); err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return ErrNotFound
		case errors.Is(err, storage.ErrConflict):
			return fmt.Errorf("%w: an active request already exists", ErrConflict)
		}
		return err
	}
	return nil
}

// nextTimestamp returns a time strictly after the last history entry.
func (s *AccessRequestService) nextTimestamp(req *storage.AccessRequest) time.Time {
	now := s.clock().UTC().Truncate(time.Microsecond)
	if n := len(req.History); n > 0 {
		last := req.History[n-1].CreatedAt
		if !now.After(last) {
			now = last.Add(time.Microsecond)
		}
	}
	return now
}

func (s *AccessRequestService) event(ctx context.Context, eventType string, req *storage.AccessRequest, actor Actor, line *storage.Line) pendingEvent {
	event, err := buildEvent(eventType, req, actor, line, MetaFromContext(ctx).CorrelationID)
	if err != nil {
		s.logger.Error("build access request event failed", "event_type", eventType, "error", err)
		return pendingEvent{}
	}
	return pendingEvent{topic: s.topics.forEvent(eventType), key: req.ID.String(), event: event}
}

func (s *AccessRequestService) dispatch(events ...pendingEvent) {
	if s.notifier == nil {
		return
	}
	for _, ev := range events {
		if ev.topic == "" {
			continue
		}
		if !s.notifier.Enqueue(ev.topic, ev.key, ev.event) {
			s.logger.Warn("access request notification dropped", "topic", ev.topic, "request_id", ev.key)
		}
	}
}

func (s *AccessRequestService) audit(ctx context.Context, actor Actor, action string, req *storage.AccessRequest, extra map[string]string) {
	if s.store == nil {
		return
	}
	meta := MetaFromContext(ctx)
	metadata := map[string]string{
		"reference_code": req.ReferenceCode,
		"status":         string(req.Status),
	}
	for k, v := range extra {
		metadata[k] = v
	}
	log := storage.AuditLog{
		ActorID:    actor.ID,
		Action:     action,
		EntityType: "access_request",
		EntityID:   req.ID.String(),
		Metadata:   metadata,
		IP:         meta.IP,
		UserAgent:  meta.UserAgent,
	}
	if err := s.store.InsertAudit(ctx, log); err != nil {
		s.logger.Error("audit log failed", "action", action, "error", err)
	}
}

func (s *AccessRequestService) observe(operation string, start time.Time, err *error) {
	if s.metrics == nil {
		return
	}
	s.metrics.Transitions.WithLabelValues(operation, resultLabel(*err)).Inc()
	s.metrics.TransitionLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func appendHistory(req *storage.AccessRequest, action string, actor Actor, from, to storage.RequestStatus, notes string, at time.Time) {
	req.History = append(req.History, storage.HistoryEntry{
		Seq:        len(req.History),
		Action:     action,
		Actor:      identityPtr(actor),
		FromStatus: &from,
		ToStatus:   &to,
		Notes:      notes,
		CreatedAt:  at,
	})
}

func membershipChanges(userID string, line storage.Line, approved bool) []storage.MembershipChange {
	if !approved {
		if line.RequiresEntityAdmin() {
			return []storage.MembershipChange{{UserID: userID, EntityID: line.EntityID, Role: storage.MembershipAdmin, Active: false}}
		}
		return nil
	}
	changes := make([]storage.MembershipChange, 0, len(line.PermissionCodes))
	for _, code := range line.PermissionCodes {
		role := membershipRole(code)
		if role == "" {
			continue
		}
		changes = append(changes, storage.MembershipChange{UserID: userID, EntityID: line.EntityID, Role: role, Active: true})
	}
	return changes
}

func membershipRole(code string) string {
	switch code {
	case storage.PermissionReporting:
		return storage.MembershipSubmitter
	case storage.PermissionCases:
		return storage.MembershipRepresentative
	case storage.PermissionEntityAdmin:
		return storage.MembershipAdmin
	}
	return ""
}

func canView(actor Actor, req *storage.AccessRequest) bool {
	if req.Requester.ID == actor.ID {
		return true
	}
	if req.Status == storage.RequestStatusDraft {
		return false
	}
	return isReviewer(actor, req)
}

func isReviewer(actor Actor, req *storage.AccessRequest) bool {
	if actor.Internal {
		return true
	}
	for _, line := range req.Lines {
		if actor.Administers(line.EntityID) {
			return true
		}
	}
	return false
}

// canDecide: internal staff decide any line, entity admins only lines of their
// own entities that do not ask for entity_admin.
func canDecide(actor Actor, line storage.Line) bool {
	if actor.Internal {
		return true
	}
	return actor.Administers(line.EntityID) && !line.RequiresEntityAdmin()
}

func hasActionable(lines []storage.Line) bool {
	for _, l := range lines {
		if l.Status.Actionable() {
			return true
		}
	}
	return false
}

func identityPtr(actor Actor) *storage.Identity {
	id := actor.Identity()
	return &id
}

func requesterKey(id string) string {
	return "requester:" + id
}

func referenceCode(now time.Time) string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		id := uuid.New()
		copy(buf, id[:])
	}
	return fmt.Sprintf("AR-%d-%s", now.Year(), strings.ToUpper(hex.EncodeToString(buf)))
}
