package application

import (
	"slices"
	"sync"
	"time"

	"github.com/example/mess-attendance/internal/domain"
)

// slotCache keeps the most recent schedule snapshot so that scans and
// confirmations do not hit storage for every request. Administrative writes
// invalidate it.
type slotCache struct {
	mu        sync.RWMutex
	now       func() time.Time
	ttl       time.Duration
	slots     []domain.MealSlot
	expiresAt time.Time
	valid     bool
}

func newSlotCache(ttl time.Duration, now func() time.Time) *slotCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if now == nil {
		now = time.Now
	}
	return &slotCache{now: now, ttl: ttl}
}

func (c *slotCache) Get() ([]domain.MealSlot, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.valid || c.now().After(c.expiresAt) {
		return nil, false
	}
	return slices.Clone(c.slots), true
}

func (c *slotCache) Store(slots []domain.MealSlot) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slots = slices.Clone(slots)
	c.expiresAt = c.now().Add(c.ttl)
	c.valid = true
}

func (c *slotCache) Invalidate() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.slots = nil
	c.valid = false
	c.mu.Unlock()
}
