// Package memstore provides an in-memory ledger store. It backs tests and the
// zero-dependency runtime default; balances and histories live in maps guarded
// by one mutex, and reads hand out copies.
package memstore

import (
	"context"
	"sync"

	"github.com/MarkoPoloResearchLab/points/pkg/points"
)

// Store implements points.Store in memory.
type Store struct {
	mutex        sync.Mutex
	balances     map[int64]int64
	histories    map[int64][]points.TransactionRecord
	nextRecordID int64
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		balances:  make(map[int64]int64),
		histories: make(map[int64][]points.TransactionRecord),
	}
}

// Register creates an entity with an initial balance.
func (store *Store) Register(_ context.Context, entityKey points.EntityKey, initial points.Balance) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if _, exists := store.balances[entityKey.Int64()]; exists {
		return points.ErrEntityAlreadyRegistered
	}
	store.balances[entityKey.Int64()] = initial.Int64()
	return nil
}

// ReadBalance returns the entity's committed balance.
func (store *Store) ReadBalance(_ context.Context, entityKey points.EntityKey) (points.Balance, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	raw, exists := store.balances[entityKey.Int64()]
	if !exists {
		return points.Balance{}, points.ErrEntityNotFound
	}
	return points.NewBalance(raw)
}

// WriteBalance replaces the balance of an existing entity.
func (store *Store) WriteBalance(_ context.Context, entityKey points.EntityKey, balance points.Balance) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if _, exists := store.balances[entityKey.Int64()]; !exists {
		return points.ErrEntityNotFound
	}
	store.balances[entityKey.Int64()] = balance.Int64()
	return nil
}

// AppendHistory appends one immutable transaction record.
func (store *Store) AppendHistory(_ context.Context, entityKey points.EntityKey, amount int64, kind points.TransactionKind, timestampMillis int64) (points.TransactionRecord, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if _, exists := store.balances[entityKey.Int64()]; !exists {
		return points.TransactionRecord{}, points.ErrEntityNotFound
	}
	store.nextRecordID++
	record := points.TransactionRecord{
		ID:              store.nextRecordID,
		EntityKey:       entityKey.Int64(),
		Amount:          amount,
		Kind:            kind,
		TimestampMillis: timestampMillis,
	}
	store.histories[entityKey.Int64()] = append(store.histories[entityKey.Int64()], record)
	return record, nil
}

// ListHistory returns a copy of the entity's records in insertion order.
func (store *Store) ListHistory(_ context.Context, entityKey points.EntityKey) ([]points.TransactionRecord, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if _, exists := store.balances[entityKey.Int64()]; !exists {
		return nil, points.ErrEntityNotFound
	}
	records := store.histories[entityKey.Int64()]
	copied := make([]points.TransactionRecord, len(records))
	copy(copied, records)
	return copied, nil
}

var _ points.Store = (*Store)(nil)
