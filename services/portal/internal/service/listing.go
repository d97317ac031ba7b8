package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/AfshinJalili/regportal/services/portal/internal/storage"
	"github.com/AfshinJalili/regportal/services/portal/internal/validation"
)

const (
	FilterAll            = "all"
	FilterRequiresAction = "requires-action"
	FilterMyEntities     = "my-entities"
	FilterHandled        = "handled"
)

type ListInput struct {
	Filter string
	Status string
}

// List returns the requests visible to the actor that match the filter,
// newest submission first.
func (s *AccessRequestService) List(ctx context.Context, actor Actor, input ListInput) ([]*storage.AccessRequest, error) {
	filter := strings.ToLower(strings.TrimSpace(input.Filter))
	if filter == "" {
		filter = FilterAll
	}
	var fields validation.ValidationErrors
	switch filter {
	case FilterAll, FilterRequiresAction, FilterMyEntities, FilterHandled:
	default:
		fields = append(fields, validation.FieldError{Field: "filter", Message: "filter must be all, requires-action, my-entities or handled"})
	}
	status := storage.RequestStatus(strings.ToLower(strings.TrimSpace(input.Status)))
	if status != "" && !status.Active() && !status.Terminal() {
		fields = append(fields, validation.FieldError{Field: "status", Message: "unknown status"})
	}
	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}

	all, err := s.store.ListAccessRequests(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]*storage.AccessRequest, 0, len(all))
	for _, req := range all {
		if !canView(actor, req) {
			continue
		}
		if status != "" && req.Status != status {
			continue
		}
		if !matchesFilter(actor, req, filter) {
			continue
		}
		out = append(out, req)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := submittedAt(out[i]), submittedAt(out[j])
		if !a.Equal(b) {
			return a.After(b)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func matchesFilter(actor Actor, req *storage.AccessRequest, filter string) bool {
	switch filter {
	case FilterRequiresAction:
		return requiresAction(actor, req)
	case FilterMyEntities:
		for _, line := range req.Lines {
			if actor.Administers(line.EntityID) {
				return true
			}
		}
		return false
	case FilterHandled:
		return handledBy(actor, req)
	}
	return true
}

func requiresAction(actor Actor, req *storage.AccessRequest) bool {
	next := ComputeNextActor(req.Status, req.Lines)
	if actor.Internal {
		return next == NextActorUKNF
	}
	if len(actor.AdminEntities) > 0 && req.Requester.ID != actor.ID {
		if req.Status != storage.RequestStatusNew && req.Status != storage.RequestStatusUpdated {
			return false
		}
		for _, line := range req.Lines {
			if line.Status.Actionable() && !line.RequiresEntityAdmin() && actor.Administers(line.EntityID) {
				return true
			}
		}
		return false
	}
	return req.Requester.ID == actor.ID && next == NextActorRequester
}

func handledBy(actor Actor, req *storage.AccessRequest) bool {
	switch req.Status {
	case storage.RequestStatusNew, storage.RequestStatusApproved, storage.RequestStatusBlocked:
	default:
		return false
	}
	if req.DecidedBy == nil {
		return false
	}
	if actor.Internal {
		return req.DecidedBy.Internal
	}
	if req.DecidedBy.ID == actor.ID {
		return true
	}
	if req.DecidedBy.Internal {
		return false
	}
	// A colleague's decision counts when it was made on a line of an entity
	// the actor also administers.
	for _, line := range req.Lines {
		if lastDecision(req, line) && actor.Administers(line.EntityID) {
			return true
		}
	}
	return false
}

func lastDecision(req *storage.AccessRequest, line storage.Line) bool {
	if line.DecidedBy == nil || line.DecidedAt == nil || req.DecidedAt == nil {
		return false
	}
	return line.DecidedBy.ID == req.DecidedBy.ID && line.DecidedAt.Equal(*req.DecidedAt)
}

func submittedAt(req *storage.AccessRequest) time.Time {
	if req.SubmittedAt == nil {
		return time.Time{}
	}
	return *req.SubmittedAt
}
