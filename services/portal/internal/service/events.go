package service

import (
	"strconv"
	"time"

	"github.com/AfshinJalili/regportal/libs/kafka"
	"github.com/AfshinJalili/regportal/services/portal/internal/storage"
)

const (
	EventSubmitted   = "access_requests.submitted"
	EventReturned    = "access_requests.returned"
	EventLineDecided = "access_requests.line_decided"
	EventDecided     = "access_requests.decided"
)

type Topics struct {
	Submitted   string
	Returned    string
	LineDecided string
	Decided     string
}

func DefaultTopics() Topics {
	return Topics{
		Submitted:   EventSubmitted,
		Returned:    EventReturned,
		LineDecided: EventLineDecided,
		Decided:     EventDecided,
	}
}

func (t Topics) forEvent(eventType string) string {
	switch eventType {
	case EventSubmitted:
		return t.Submitted
	case EventReturned:
		return t.Returned
	case EventLineDecided:
		return t.LineDecided
	case EventDecided:
		return t.Decided
	}
	return ""
}

// AccessRequestEvent is published after a workflow transition commits.
type AccessRequestEvent struct {
	kafka.Envelope
	RequestID      string `json:"request_id"`
	ReferenceCode  string `json:"reference_code"`
	Status         string `json:"status"`
	NextActor      string `json:"next_actor"`
	RequesterID    string `json:"requester_id"`
	RequesterName  string `json:"requester_name"`
	RequesterEmail string `json:"requester_email"`
	ActorID        string `json:"actor_id"`
	ActorInternal  bool   `json:"actor_internal"`
	LineID         string `json:"line_id,omitempty"`
	EntityID       string `json:"entity_id,omitempty"`
	EntityName     string `json:"entity_name,omitempty"`
	LineStatus     string `json:"line_status,omitempty"`
	Notes          string `json:"notes,omitempty"`
	OccurredAt     string `json:"occurred_at"`
}

type pendingEvent struct {
	topic string
	key   string
	event AccessRequestEvent
}

// buildEvent keys the event id on the history entry that recorded the
// transition, so each commit maps to exactly one id.
func buildEvent(eventType string, req *storage.AccessRequest, actor Actor, line *storage.Line, correlationID string) (AccessRequestEvent, error) {
	entry := req.History[len(req.History)-1]
	eventID := kafka.DeterministicEventID(eventType, req.ID.String(), strconv.Itoa(entry.Seq))
	env, err := kafka.NewEnvelopeWithID(eventID, eventType, 1, correlationID, entry.CreatedAt)
	if err != nil {
		return AccessRequestEvent{}, err
	}
	event := AccessRequestEvent{
		Envelope:       env,
		RequestID:      req.ID.String(),
		ReferenceCode:  req.ReferenceCode,
		Status:         string(req.Status),
		NextActor:      string(ComputeNextActor(req.Status, req.Lines)),
		RequesterID:    req.Requester.ID,
		RequesterName:  req.Requester.Name,
		RequesterEmail: req.Requester.Email,
		ActorID:        actor.ID,
		ActorInternal:  actor.Internal,
		Notes:          entry.Notes,
		OccurredAt:     entry.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if line != nil {
		event.LineID = line.ID.String()
		event.EntityID = line.EntityID
		event.EntityName = line.EntityName
		event.LineStatus = string(line.Status)
	}
	return event, nil
}
