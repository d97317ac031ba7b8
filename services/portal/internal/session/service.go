package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AfshinJalili/regportal/services/portal/internal/service"
	"github.com/AfshinJalili/regportal/services/portal/internal/storage"
	"github.com/AfshinJalili/regportal/services/portal/internal/validation"
	"github.com/prometheus/client_golang/prometheus"
)

type EntityDirectory interface {
	GetEntity(id string) (*storage.Entity, bool)
}

type MembershipStore interface {
	ListMemberships(ctx context.Context, userID string) ([]storage.Membership, error)
	InsertAudit(ctx context.Context, log storage.AuditLog) error
}

type Metrics struct {
	Selections *prometheus.CounterVec
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		Selections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "session_entity_selections_total",
				Help: "Total entity selection attempts.",
			},
			[]string{"result"},
		),
	}
	registry.MustRegister(m.Selections)
	return m
}

type Service struct {
	store       Store
	entities    EntityDirectory
	memberships MembershipStore
	logger      *slog.Logger
	metrics     *Metrics
	clock       func() time.Time
}

func NewService(store Store, entities EntityDirectory, memberships MembershipStore, logger *slog.Logger, metrics *Metrics) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:       store,
		entities:    entities,
		memberships: memberships,
		logger:      logger,
		metrics:     metrics,
		clock:       time.Now,
	}
}

// SelectEntity makes entityID the actor's working context. Regulator staff may
// pick any entity, everyone else needs an active membership.
func (s *Service) SelectEntity(ctx context.Context, actor service.Actor, entityID string) (sel *Selection, err error) {
	defer func() {
		if s.metrics != nil {
			s.metrics.Selections.WithLabelValues(resultLabel(err)).Inc()
		}
	}()

	entityID = strings.TrimSpace(entityID)
	if entityID == "" {
		return nil, &service.ValidationError{Fields: validation.ValidationErrors{{Field: "entity_id", Message: "entity_id is required"}}}
	}
	if _, ok := s.entities.GetEntity(entityID); !ok {
		return nil, fmt.Errorf("%w: entity %s", service.ErrNotFound, entityID)
	}
	allowed, err := s.canSelect(ctx, actor, entityID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, fmt.Errorf("%w: no membership in entity %s", service.ErrForbidden, entityID)
	}

	selection := Selection{UserID: actor.ID, EntityID: entityID, SelectedAt: s.clock().UTC()}
	if err := s.store.Set(ctx, selection); err != nil {
		return nil, err
	}

	meta := service.MetaFromContext(ctx)
	if err := s.memberships.InsertAudit(ctx, storage.AuditLog{
		ActorID:    actor.ID,
		Action:     "session.set_entity",
		EntityType: "regulated_entity",
		EntityID:   entityID,
		IP:         meta.IP,
		UserAgent:  meta.UserAgent,
	}); err != nil {
		s.logger.Error("audit log failed", "action", "session.set_entity", "error", err)
	}
	return &selection, nil
}

func (s *Service) Get(ctx context.Context, actor service.Actor) (*Selection, error) {
	sel, err := s.store.Get(ctx, actor.ID)
	if err != nil {
		if errors.Is(err, ErrNoSelection) {
			return nil, fmt.Errorf("%w: %v", service.ErrNotFound, err)
		}
		return nil, err
	}
	return sel, nil
}

func (s *Service) Clear(ctx context.Context, actor service.Actor) error {
	return s.store.Delete(ctx, actor.ID)
}

func (s *Service) canSelect(ctx context.Context, actor service.Actor, entityID string) (bool, error) {
	if actor.Internal || actor.Administers(entityID) {
		return true, nil
	}
	memberships, err := s.memberships.ListMemberships(ctx, actor.ID)
	if err != nil {
		return false, err
	}
	for _, m := range memberships {
		if m.EntityID == entityID && m.Active {
			return true, nil
		}
	}
	return false, nil
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, service.ErrValidation):
		return "validation"
	case errors.Is(err, service.ErrNotFound):
		return "not_found"
	case errors.Is(err, service.ErrForbidden):
		return "forbidden"
	default:
		return "error"
	}
}
