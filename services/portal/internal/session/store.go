package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrNoSelection = errors.New("no entity selected")

// Selection records which regulated entity a user currently acts for.
type Selection struct {
	UserID     string    `json:"user_id"`
	EntityID   string    `json:"entity_id"`
	SelectedAt time.Time `json:"selected_at"`
}

type Store interface {
	Get(ctx context.Context, userID string) (*Selection, error)
	Set(ctx context.Context, sel Selection) error
	Delete(ctx context.Context, userID string) error
}

type MemoryStore struct {
	mu         sync.RWMutex
	selections map[string]Selection
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{selections: make(map[string]Selection)}
}

func (m *MemoryStore) Get(_ context.Context, userID string) (*Selection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sel, ok := m.selections[userID]
	if !ok {
		return nil, ErrNoSelection
	}
	return &sel, nil
}

func (m *MemoryStore) Set(_ context.Context, sel Selection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selections[sel.UserID] = sel
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.selections, userID)
	return nil
}
