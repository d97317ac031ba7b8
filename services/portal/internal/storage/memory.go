package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps everything in process. It backs local runs without a
// database and the service tests. Stored requests are cloned on the way in and
// on the way out.
type MemoryStore struct {
	mu          sync.RWMutex
	requests    map[uuid.UUID]*AccessRequest
	inserted    map[uuid.UUID]uint64
	nextSeq     uint64
	entities    map[string]Entity
	memberships map[membershipKey]Membership
	audits      []AuditLog
}

type membershipKey struct {
	userID   string
	entityID string
	role     string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests:    make(map[uuid.UUID]*AccessRequest),
		inserted:    make(map[uuid.UUID]uint64),
		entities:    make(map[string]Entity),
		memberships: make(map[membershipKey]Membership),
	}
}

func (m *MemoryStore) Ping(context.Context) error {
	return nil
}

func (m *MemoryStore) CreateAccessRequest(_ context.Context, req *AccessRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.requests[req.ID]; exists {
		return ErrConflict
	}
	if req.Status.Active() && m.hasActiveLocked(req.Requester.ID, req.ID) {
		return ErrConflict
	}
	m.requests[req.ID] = req.Clone()
	m.nextSeq++
	m.inserted[req.ID] = m.nextSeq
	return nil
}

func (m *MemoryStore) UpdateAccessRequest(_ context.Context, req *AccessRequest, changes []MembershipChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, exists := m.requests[req.ID]
	if !exists {
		return ErrNotFound
	}
	if req.Status.Active() && m.hasActiveLocked(req.Requester.ID, req.ID) {
		return ErrConflict
	}
	next := req.Clone()
	next.Requester = stored.Requester
	m.requests[req.ID] = next
	for _, change := range changes {
		m.applyMembershipLocked(change)
	}
	return nil
}

func (m *MemoryStore) UpsertMembership(_ context.Context, change MembershipChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyMembershipLocked(change)
	return nil
}

func (m *MemoryStore) applyMembershipLocked(change MembershipChange) {
	key := membershipKey{userID: change.UserID, entityID: change.EntityID, role: change.Role}
	m.memberships[key] = Membership{
		UserID:    change.UserID,
		EntityID:  change.EntityID,
		Role:      change.Role,
		Active:    change.Active,
		UpdatedAt: time.Now().UTC(),
	}
}

func (m *MemoryStore) GetAccessRequest(_ context.Context, id uuid.UUID) (*AccessRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	req, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	return req.Clone(), nil
}

func (m *MemoryStore) FindLatestAccessRequest(_ context.Context, requesterID string) (*AccessRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *AccessRequest
	for _, req := range m.requests {
		if req.Requester.ID != requesterID {
			continue
		}
		if latest == nil || m.newerLocked(req, latest) {
			latest = req
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return latest.Clone(), nil
}

func (m *MemoryStore) ListAccessRequests(context.Context) ([]*AccessRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*AccessRequest, 0, len(m.requests))
	for _, req := range m.requests {
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool {
		return m.newerLocked(out[i], out[j])
	})
	for i := range out {
		out[i] = out[i].Clone()
	}
	return out, nil
}

// newerLocked orders by creation time, then by insertion order for requests
// created within the same microsecond.
func (m *MemoryStore) newerLocked(a, b *AccessRequest) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return m.inserted[a.ID] > m.inserted[b.ID]
}

func (m *MemoryStore) ListEntities(context.Context) ([]Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Entity, 0, len(m.entities))
	for _, e := range m.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (m *MemoryStore) UpsertEntity(_ context.Context, e Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entities[e.ID] = e
	return nil
}

func (m *MemoryStore) ListMemberships(_ context.Context, userID string) ([]Membership, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Membership
	for key, membership := range m.memberships {
		if key.userID == userID && membership.Active {
			out = append(out, membership)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EntityID != out[j].EntityID {
			return out[i].EntityID < out[j].EntityID
		}
		return out[i].Role < out[j].Role
	})
	return out, nil
}

func (m *MemoryStore) InsertAudit(_ context.Context, log AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audits = append(m.audits, log)
	return nil
}

// Audits returns a copy of the recorded audit rows.
func (m *MemoryStore) Audits() []AuditLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]AuditLog(nil), m.audits...)
}

func (m *MemoryStore) hasActiveLocked(requesterID string, except uuid.UUID) bool {
	for id, req := range m.requests {
		if id != except && req.Requester.ID == requesterID && req.Status.Active() {
			return true
		}
	}
	return false
}
