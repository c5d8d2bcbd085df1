package contextwindow

import "sync"

type countKey struct {
	messageID   string
	tokenizerID string
}

// countCache memoizes token counts per (message id, tokenizer id). History
// is append-only and messages are immutable, so an entry never goes stale.
// Read-mostly: concurrent reads share an RLock, each key is written once.
type countCache struct {
	mu     sync.RWMutex
	counts map[countKey]int
}

func newCountCache() *countCache {
	return &countCache{counts: make(map[countKey]int)}
}

func (c *countCache) get(key countKey) (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, ok := c.counts[key]
	return n, ok
}

func (c *countCache) put(key countKey, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[key] = n
}

func (c *countCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.counts)
}
