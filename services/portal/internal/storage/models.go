package storage

import (
	"time"

	"github.com/google/uuid"
)

type RequestStatus string

const (
	RequestStatusDraft    RequestStatus = "draft"
	RequestStatusNew      RequestStatus = "new"
	RequestStatusApproved RequestStatus = "approved"
	RequestStatusBlocked  RequestStatus = "blocked"
	RequestStatusUpdated  RequestStatus = "updated"
)

// Active reports whether the request still awaits a final decision.
func (s RequestStatus) Active() bool {
	return s == RequestStatusDraft || s == RequestStatusNew || s == RequestStatusUpdated
}

func (s RequestStatus) Terminal() bool {
	return s == RequestStatusApproved || s == RequestStatusBlocked
}

type LineStatus string

const (
	LineStatusPending     LineStatus = "pending"
	LineStatusApproved    LineStatus = "approved"
	LineStatusBlocked     LineStatus = "blocked"
	LineStatusNeedsUpdate LineStatus = "needs_update"
)

// Actionable reports whether a reviewer may still decide the line.
func (s LineStatus) Actionable() bool {
	return s == LineStatusPending || s == LineStatusNeedsUpdate
}

const (
	PermissionReporting   = "reporting"
	PermissionCases       = "cases"
	PermissionEntityAdmin = "entity_admin"
)

var PermissionCodes = []string{PermissionReporting, PermissionCases, PermissionEntityAdmin}

func IsPermissionCode(code string) bool {
	for _, c := range PermissionCodes {
		if c == code {
			return true
		}
	}
	return false
}

const (
	ActionCreated  = "created"
	ActionUpdated  = "updated"
	ActionSubmit   = "submitted"
	ActionApproved = "line approved"
	ActionBlocked  = "line blocked"
	ActionReturned = "returned"
)

// Identity references a user who acted on a request.
type Identity struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Internal bool   `json:"internal"`
}

type Requester struct {
	ID               string
	Name             string
	Email            string
	Phone            string
	NationalIDMasked string
}

type AccessRequest struct {
	ID            uuid.UUID
	ReferenceCode string
	Requester     Requester
	Justification string
	Status        RequestStatus
	Lines         []Line
	History       []HistoryEntry
	HandledByUKNF bool
	DecisionNotes string
	SubmittedAt   *time.Time
	DecidedAt     *time.Time
	DecidedBy     *Identity
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Line struct {
	ID              uuid.UUID
	EntityID        string
	EntityName      string
	ContactEmail    string
	PermissionCodes []string
	Status          LineStatus
	DecisionNotes   string
	DecidedBy       *Identity
	DecidedAt       *time.Time
}

// RequiresEntityAdmin reports whether the line asks for the regulator-gated
// entity_admin permission.
func (l Line) RequiresEntityAdmin() bool {
	for _, code := range l.PermissionCodes {
		if code == PermissionEntityAdmin {
			return true
		}
	}
	return false
}

type HistoryEntry struct {
	Seq        int
	Action     string
	Actor      *Identity
	FromStatus *RequestStatus
	ToStatus   *RequestStatus
	Notes      string
	CreatedAt  time.Time
}

// Clone returns a deep copy so callers can mutate it without touching shared state.
func (r *AccessRequest) Clone() *AccessRequest {
	if r == nil {
		return nil
	}
	out := *r
	out.SubmittedAt = cloneTime(r.SubmittedAt)
	out.DecidedAt = cloneTime(r.DecidedAt)
	out.DecidedBy = cloneIdentity(r.DecidedBy)
	out.Lines = make([]Line, len(r.Lines))
	for i, line := range r.Lines {
		line.PermissionCodes = append([]string(nil), line.PermissionCodes...)
		line.DecidedBy = cloneIdentity(line.DecidedBy)
		line.DecidedAt = cloneTime(line.DecidedAt)
		out.Lines[i] = line
	}
	out.History = make([]HistoryEntry, len(r.History))
	for i, entry := range r.History {
		entry.Actor = cloneIdentity(entry.Actor)
		entry.FromStatus = cloneStatus(entry.FromStatus)
		entry.ToStatus = cloneStatus(entry.ToStatus)
		out.History[i] = entry
	}
	return &out
}

type Entity struct {
	ID                 string
	Name               string
	Category           string
	RegistrationNumber string
	ContactEmail       string
	UpdatedAt          time.Time
}

const (
	MembershipSubmitter      = "submitter"
	MembershipRepresentative = "representative"
	MembershipAdmin          = "admin"
)

// MembershipChange grants (Active) or revokes a user's role on an entity.
type MembershipChange struct {
	UserID   string
	EntityID string
	Role     string
	Active   bool
}

type Membership struct {
	UserID    string
	EntityID  string
	Role      string
	Active    bool
	UpdatedAt time.Time
}

type AuditLog struct {
	ActorID    string
	Action     string
	EntityType string
	EntityID   string
	Metadata   map[string]string
	IP         string
	UserAgent  string
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneIdentity(id *Identity) *Identity {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

func cloneStatus(s *RequestStatus) *RequestStatus {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
