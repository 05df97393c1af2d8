// Package keylock provides exclusive, per-key serialization with lazy
// eviction of cold lock entries.
package keylock

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Manager issues one exclusive lock per key. Entries are created on first
// acquisition, refreshed on every acquisition, and swept out once they are
// both unlocked and stale beyond the TTL.
type Manager struct {
	ttlMillis int64
	nowFn     func() int64
	entries   sync.Map // int64 -> *entry
}

type entry struct {
	mutex            sync.Mutex
	lastAccessMillis atomic.Int64
}

// Handle represents exclusive ownership of one key. The caller that acquired
// it must release it exactly once.
type Handle struct {
	owner *entry
}

// NewManager wires a Manager. The clock is consulted on every acquisition to
// refresh the entry's last-access time.
func NewManager(ttlMillis int64, now func() int64) (*Manager, error) {
	if ttlMillis <= 0 {
		return nil, fmt.Errorf("keylock: ttl must be positive, got %d", ttlMillis)
	}
	if now == nil {
		return nil, fmt.Errorf("keylock: clock dependency is nil")
	}
	return &Manager{ttlMillis: ttlMillis, nowFn: now}, nil
}

// Acquire blocks until the caller holds the exclusive lock for key. Concurrent
// first-callers for the same key always converge on a single entry: creation
// goes through LoadOrStore, and after locking the mutex the entry is verified
// to still be the registered one. An entry swept out between lookup and lock
// forces a retry against whatever entry is current.
func (manager *Manager) Acquire(key int64) *Handle {
	for {
		lockEntry := manager.getOrCreate(key)
		lockEntry.lastAccessMillis.Store(manager.nowFn())
		lockEntry.mutex.Lock()
		current, tracked := manager.entries.Load(key)
		if tracked && current.(*entry) == lockEntry {
			return &Handle{owner: lockEntry}
		}
		lockEntry.mutex.Unlock()
	}
}

// Release relinquishes exclusive ownership.
func (handle *Handle) Release() {
	handle.owner.mutex.Unlock()
}

// EvictStale removes every entry that is currently unlocked and whose
// last-access time is older than nowMillis minus the TTL. A held entry is
// never removed, however stale: the sweep probes each mutex with TryLock and
// skips entries it cannot claim. Returns the number of entries removed.
func (manager *Manager) EvictStale(nowMillis int64) int {
	removed := 0
	manager.entries.Range(func(key, value any) bool {
		lockEntry := value.(*entry)
		if !lockEntry.mutex.TryLock() {
			return true
		}
		// Deleting while holding the mutex cannot race an acquirer: Acquire
		// re-checks registration after locking and retries if evicted.
		if nowMillis-lockEntry.lastAccessMillis.Load() > manager.ttlMillis {
			manager.entries.Delete(key)
			removed++
		}
		lockEntry.mutex.Unlock()
		return true
	})
	return removed
}

// IsTracked reports whether an entry exists for key without refreshing its
// last-access time.
func (manager *Manager) IsTracked(key int64) bool {
	_, tracked := manager.entries.Load(key)
	return tracked
}

// Size returns the number of tracked entries.
func (manager *Manager) Size() int {
	count := 0
	manager.entries.Range(func(any, any) bool {
		count++
		return true
	})
	return count
}

func (manager *Manager) getOrCreate(key int64) *entry {
	if value, found := manager.entries.Load(key); found {
		return value.(*entry)
	}
	fresh := &entry{}
	fresh.lastAccessMillis.Store(manager.nowFn())
	value, _ := manager.entries.LoadOrStore(key, fresh)
	return value.(*entry)
}
