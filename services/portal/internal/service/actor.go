package service

import (
	"context"
	"strings"

	"github.com/AfshinJalili/regportal/libs/auth"
	"github.com/AfshinJalili/regportal/services/portal/internal/storage"
)

// Actor is the authenticated caller of a workflow operation.
type Actor struct {
	ID               string
	Name             string
	Email            string
	Phone            string
	NationalIDMasked string
	Roles            []string
	Internal         bool
	AdminEntities    []string
}

func ActorFromClaims(claims *auth.Claims) Actor {
	if claims == nil {
		return Actor{}
	}
	name := strings.TrimSpace(claims.Name)
	if name == "" {
		name = claims.Email
	}
	entities := make([]string, 0, len(claims.Entities))
	for _, id := range claims.Entities {
		if id = strings.TrimSpace(id); id != "" {
			entities = append(entities, id)
		}
	}
	return Actor{
		ID:               claims.Subject,
		Name:             name,
		Email:            claims.Email,
		Phone:            claims.Phone,
		NationalIDMasked: claims.NationalIDMasked,
		Roles:            append([]string(nil), claims.Roles...),
		Internal:         claims.IsInternal(),
		AdminEntities:    entities,
	}
}

func (a Actor) Identity() storage.Identity {
	return storage.Identity{ID: a.ID, Name: a.Name, Email: a.Email, Internal: a.Internal}
}

func (a Actor) Administers(entityID string) bool {
	for _, id := range a.AdminEntities {
		if id == entityID {
			return true
		}
	}
	return false
}

func (a Actor) requester() storage.Requester {
	return storage.Requester{
		ID:               a.ID,
		Name:             a.Name,
		Email:            a.Email,
		Phone:            a.Phone,
		NationalIDMasked: a.NationalIDMasked,
	}
}

// Meta describes the HTTP call behind an operation. It only feeds audit rows
// and event correlation ids.
type Meta struct {
	IP            string
	UserAgent     string
	CorrelationID string
}

type metaKey struct{}

func ContextWithMeta(ctx context.Context, meta Meta) context.Context {
	return context.WithValue(ctx, metaKey{}, meta)
}

func MetaFromContext(ctx context.Context) Meta {
	meta, _ := ctx.Value(metaKey{}).(Meta)
	return meta
}
