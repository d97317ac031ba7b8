package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
)

// CheckFunc checks one dependency. A nil error means healthy.
type CheckFunc func(ctx context.Context) error

type Manager struct {
	ready   atomic.Bool
	mu      sync.RWMutex
	checks  map[string]CheckFunc
	timeout time.Duration
}

func NewManager(initialReady bool) *Manager {
	m := &Manager{checks: map[string]CheckFunc{}, timeout: 2 * time.Second}
	m.ready.Store(initialReady)
	return m
}

func (m *Manager) SetReady(ready bool) {
	m.ready.Store(ready)
}

func (m *Manager) IsReady() bool {
	return m.ready.Load()
}

func (m *Manager) AddCheck(name string, check CheckFunc) {
	if check == nil {
		return
	}
	m.mu.Lock()
	m.checks[name] = check
	m.mu.Unlock()
}

// Check runs every registered check and returns the failures keyed by name.
func (m *Manager) Check(ctx context.Context) map[string]string {
	m.mu.RLock()
	names := make([]string, 0, len(m.checks))
	for name := range m.checks {
		names = append(names, name)
	}
	m.mu.RUnlock()
	sort.Strings(names)

	failures := map[string]string{}
	for _, name := range names {
		m.mu.RLock()
		check := m.checks[name]
		m.mu.RUnlock()

		checkCtx, cancel := context.WithTimeout(ctx, m.timeout)
		err := check(checkCtx)
		cancel()
		if err != nil {
			failures[name] = err.Error()
		}
	}
	return failures
}

func LivenessHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func ReadinessHandler(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.IsReady() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
			return
		}
		if failures := m.Check(c.Request.Context()); len(failures) > 0 {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "checks": failures})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}
