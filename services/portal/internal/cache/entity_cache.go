package cache

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/AfshinJalili/regportal/services/portal/internal/storage"
)

type EntityStore interface {
	ListEntities(ctx context.Context) ([]storage.Entity, error)
}

// EntityCache holds the regulated entity directory in memory.
type EntityCache struct {
	mu          sync.RWMutex
	entities    map[string]storage.Entity
	lastRefresh time.Time
}

func NewEntityCache() *EntityCache {
	return &EntityCache{
		entities: make(map[string]storage.Entity),
	}
}

func (c *EntityCache) Load(ctx context.Context, store EntityStore) error {
	entities, err := store.ListEntities(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entities = make(map[string]storage.Entity, len(entities))
	for _, entity := range entities {
		id := strings.TrimSpace(entity.ID)
		if id == "" {
			continue
		}
		entity.ID = id
		c.entities[id] = entity
	}
	c.lastRefresh = time.Now().UTC()
	return nil
}

func (c *EntityCache) Refresh(ctx context.Context, store EntityStore) error {
	return c.Load(ctx, store)
}

// StartAutoRefresh reloads the directory every interval until ctx is done.
// A failed reload keeps the previous snapshot.
func (c *EntityCache) StartAutoRefresh(ctx context.Context, store EntityStore, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.Refresh(ctx, store); err != nil {
					logger.Warn("entity cache refresh failed", "error", err)
				}
			}
		}
	}()
}

func (c *EntityCache) GetEntity(id string) (*storage.Entity, bool) {
	key := strings.TrimSpace(id)
	if key == "" {
		return nil, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	entity, ok := c.entities[key]
	if !ok {
		return nil, false
	}
	copy := entity
	return &copy, true
}

// ListEntities returns the directory ordered by name.
func (c *EntityCache) ListEntities() []storage.Entity {
	c.mu.RLock()
	out := make([]storage.Entity, 0, len(c.entities))
	for _, entity := range c.entities {
		out = append(out, entity)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (c *EntityCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entities)
}

func (c *EntityCache) LastRefresh() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastRefresh
}
