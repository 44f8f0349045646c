package rule

import (
	"context"
	"fmt"
	"sync"
)

// Cache keeps an in-memory snapshot of the rule store for consumers
// that read rules on a hot path, such as a replay daemon. Pair it with
// a watch.Watcher on the rule database to reload when rules change.
type Cache struct {
	store *Store

	mu   sync.RWMutex
	byID map[string]*Rule
	list []*Rule
}

// NewCache creates an empty cache. Call Reload to populate it.
func NewCache(store *Store) *Cache {
	return &Cache{store: store, byID: make(map[string]*Rule)}
}

// Reload replaces the snapshot with the store's current contents.
func (c *Cache) Reload(ctx context.Context) error {
	rules, err := c.store.List(ctx)
	if err != nil {
		return fmt.Errorf("rule: cache reload: %w", err)
	}

	byID := make(map[string]*Rule, len(rules))
	for _, r := range rules {
		byID[r.ID] = r
	}

	c.mu.Lock()
	c.byID = byID
	c.list = rules
	c.mu.Unlock()
	return nil
}

// Get returns the cached rule, or nil when absent.
func (c *Cache) Get(id string) *Rule {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.byID[id]
}

// All returns the cached rules, newest first.
func (c *Cache) All() []*Rule {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*Rule(nil), c.list...)
}

// Len returns the number of cached rules.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byID)
}
