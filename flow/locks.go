package flow

import (
	"context"
	"sync"
)

type lockEntry struct {
	sem  chan struct{}
	refs int
}

// keyedLock serializes dispatches per conversation id. Acquisition is
// context-aware so a caller waiting behind a slow dispatch can still be
// cancelled. Entries are reference-counted and removed when idle, so the
// table does not grow with the number of conversations ever seen.
type keyedLock struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

func newKeyedLock() *keyedLock {
	return &keyedLock{entries: make(map[string]*lockEntry)}
}

// acquire blocks until the lock for key is held or ctx is done. On success
// it returns a release function that must be called exactly once.
func (k *keyedLock) acquire(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	entry, ok := k.entries[key]
	if !ok {
		entry = &lockEntry{sem: make(chan struct{}, 1)}
		k.entries[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	select {
	case entry.sem <- struct{}{}:
	case <-ctx.Done():
		k.put(key, entry)
		return nil, ctx.Err()
	}

	return func() {
		<-entry.sem
		k.put(key, entry)
	}, nil
}

func (k *keyedLock) put(key string, entry *lockEntry) {
	k.mu.Lock()
	entry.refs--
	if entry.refs == 0 {
		delete(k.entries, key)
	}
	k.mu.Unlock()
}
