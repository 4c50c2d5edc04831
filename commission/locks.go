package commission

import (
	"sort"
	"sync"
)

// KeyedLocks serialises work per key (plot id, wallet owner). Keys passed
// to one Lock call are taken in sorted order, so two callers locking
// overlapping key sets cannot deadlock.
type KeyedLocks struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func NewKeyedLocks() *KeyedLocks {
	return &KeyedLocks{locks: make(map[string]*keyedLock)}
}

// Lock blocks until every key is held and returns the release func.
func (k *KeyedLocks) Lock(keys ...string) func() {
	keys = uniqueSorted(keys)
	held := make([]*keyedLock, 0, len(keys))
	for _, key := range keys {
		k.mu.Lock()
		l, ok := k.locks[key]
		if !ok {
			l = &keyedLock{}
			k.locks[key] = l
		}
		l.refs++
		k.mu.Unlock()

		l.mu.Lock()
		held = append(held, l)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
			k.mu.Lock()
			held[i].refs--
			if held[i].refs == 0 {
				delete(k.locks, keys[i])
			}
			k.mu.Unlock()
		}
	}
}

// Len reports how many keys are currently tracked.
func (k *KeyedLocks) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

func uniqueSorted(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, key := range keys {
		if !seen[key] {
			seen[key] = true
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out
}

func plotLockKey(id PlotID) string { return "plot:" + string(id) }

func walletLockKey(id ProfileID) string { return "wallet:" + string(id) }
