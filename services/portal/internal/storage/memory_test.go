package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newRequest(requesterID string, status RequestStatus, createdAt time.Time) *AccessRequest {
	return &AccessRequest{
		ID:            uuid.New(),
		ReferenceCode: "AR-2025-" + uuid.NewString()[:8],
		Requester:     Requester{ID: requesterID},
		Status:        status,
		Lines: []Line{{
			ID:              uuid.New(),
			EntityID:        "ent-1",
			PermissionCodes: []string{PermissionReporting},
			Status:          LineStatusPending,
		}},
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func TestMemoryStoreRejectsSecondActiveRequest(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	if err := store.CreateAccessRequest(ctx, newRequest("u1", RequestStatusDraft, now)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.CreateAccessRequest(ctx, newRequest("u1", RequestStatusDraft, now)); err != ErrConflict {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := store.CreateAccessRequest(ctx, newRequest("u2", RequestStatusDraft, now)); err != nil {
		t.Fatalf("other requester: %v", err)
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	req := newRequest("u1", RequestStatusDraft, time.Now().UTC())
	if err := store.CreateAccessRequest(ctx, req); err != nil {
		t.Fatalf("create: %v", err)
	}

	req.Lines[0].PermissionCodes[0] = PermissionCases
	got, err := store.GetAccessRequest(ctx, req.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Lines[0].PermissionCodes[0] != PermissionReporting {
		t.Fatalf("stored request was mutated through caller copy")
	}

	got.Justification = "changed"
	again, _ := store.GetAccessRequest(ctx, req.ID)
	if again.Justification != "" {
		t.Fatalf("stored request was mutated through returned copy")
	}
}

func TestMemoryStoreLatestAndMemberships(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	older := newRequest("u1", RequestStatusBlocked, base)
	newer := newRequest("u1", RequestStatusApproved, base.Add(time.Hour))
	for _, r := range []*AccessRequest{older, newer} {
		if err := store.CreateAccessRequest(ctx, r); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	latest, err := store.FindLatestAccessRequest(ctx, "u1")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.ID != newer.ID {
		t.Fatalf("expected newest request")
	}
	if _, err := store.FindLatestAccessRequest(ctx, "nobody"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	changes := []MembershipChange{
		{UserID: "u1", EntityID: "ent-1", Role: MembershipSubmitter, Active: true},
		{UserID: "u1", EntityID: "ent-1", Role: MembershipAdmin, Active: true},
	}
	if err := store.UpdateAccessRequest(ctx, newer, changes); err != nil {
		t.Fatalf("update: %v", err)
	}
	revoke := []MembershipChange{{UserID: "u1", EntityID: "ent-1", Role: MembershipAdmin, Active: false}}
	if err := store.UpdateAccessRequest(ctx, newer, revoke); err != nil {
		t.Fatalf("update: %v", err)
	}

	memberships, err := store.ListMemberships(ctx, "u1")
	if err != nil {
		t.Fatalf("memberships: %v", err)
	}
	if len(memberships) != 1 || memberships[0].Role != MembershipSubmitter {
		t.Fatalf("unexpected memberships %+v", memberships)
	}
}

func TestMemoryStoreUpdateUnknown(t *testing.T) {
	store := NewMemoryStore()
	err := store.UpdateAccessRequest(context.Background(), newRequest("u1", RequestStatusDraft, time.Now()), nil)
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreLatestBreaksTiesByInsertion(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 20; i++ {
		store := NewMemoryStore()
		first := newRequest("u1", RequestStatusBlocked, at)
		second := newRequest("u1", RequestStatusApproved, at)
		third := newRequest("u1", RequestStatusBlocked, at)
		for _, r := range []*AccessRequest{first, second, third} {
			if err := store.CreateAccessRequest(ctx, r); err != nil {
				t.Fatalf("create: %v", err)
			}
		}

		latest, err := store.FindLatestAccessRequest(ctx, "u1")
		if err != nil {
			t.Fatalf("latest: %v", err)
		}
		if latest.ID != third.ID {
			t.Fatalf("run %d: expected last inserted request, got %s", i, latest.ReferenceCode)
		}

		all, err := store.ListAccessRequests(ctx)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if all[0].ID != third.ID || all[1].ID != second.ID || all[2].ID != first.ID {
			t.Fatalf("run %d: listing not in reverse insertion order", i)
		}
	}
}

func TestMemoryStoreKeepsRequesterSnapshot(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	req := newRequest("u1", RequestStatusDraft, time.Now().UTC())
	req.Requester = Requester{ID: "u1", Name: "Jan Kowalski", Email: "jan@bank-example.pl"}
	if err := store.CreateAccessRequest(ctx, req); err != nil {
		t.Fatalf("create: %v", err)
	}

	changed := req.Clone()
	changed.Requester.Name = "Changed Name"
	changed.Requester.Email = "other@example.pl"
	changed.Justification = "Updated justification"
	if err := store.UpdateAccessRequest(ctx, changed, nil); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := store.GetAccessRequest(ctx, req.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Requester != req.Requester {
		t.Fatalf("requester changed: %+v", got.Requester)
	}
	if got.Justification != "Updated justification" {
		t.Fatalf("update not applied")
	}
}
