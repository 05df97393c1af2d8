package points

import (
	"context"
	"fmt"
)

// EntityKey identifies the account whose balance is tracked.
type EntityKey struct {
	value int64
}

// NewEntityKey validates a raw identifier; non-positive values are rejected.
func NewEntityKey(raw int64) (EntityKey, error) {
	if raw <= 0 {
		return EntityKey{}, fmt.Errorf("%w: must be a positive integer, got %d", ErrInvalidEntityKey, raw)
	}
	return EntityKey{value: raw}, nil
}

// Int64 returns the raw identifier.
func (key EntityKey) Int64() int64 {
	return key.value
}

// Balance is a non-negative point balance for one entity key.
type Balance struct {
	value int64
}

// NewBalance validates a raw balance and ensures it is non-negative.
func NewBalance(raw int64) (Balance, error) {
	if raw < 0 {
		return Balance{}, fmt.Errorf("%w: must not be negative, got %d", ErrInvalidBalance, raw)
	}
	return Balance{value: raw}, nil
}

// Int64 returns the raw balance value.
func (balance Balance) Int64() int64 {
	return balance.value
}

// TransactionKind enumerates history record kinds.
type TransactionKind string

const (
	KindCharge TransactionKind = "CHARGE"
	KindUse    TransactionKind = "USE"
)

// ParseTransactionKind validates a stored kind string.
func ParseTransactionKind(raw string) (TransactionKind, error) {
	switch TransactionKind(raw) {
	case KindCharge:
		return KindCharge, nil
	case KindUse:
		return KindUse, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTransactionKind, raw)
}

// String returns the stored representation.
func (kind TransactionKind) String() string {
	return string(kind)
}

// A single immutable line in the transaction history, ordered by insertion.
type TransactionRecord struct {
	ID              int64
	EntityKey       int64
	Amount          int64
	Kind            TransactionKind
	TimestampMillis int64
}

// Store is the persistence contract used by Service. Implementations expose
// only fully committed values; same-key write ordering is the caller's concern.
type Store interface {
	ReadBalance(ctx context.Context, entityKey EntityKey) (Balance, error)
	WriteBalance(ctx context.Context, entityKey EntityKey, balance Balance) error
	AppendHistory(ctx context.Context, entityKey EntityKey, amount int64, kind TransactionKind, timestampMillis int64) (TransactionRecord, error)
	ListHistory(ctx context.Context, entityKey EntityKey) ([]TransactionRecord, error)
}

// TimeSource supplies the current instant and the day boundaries of the
// business calendar. StartOfTomorrowMillis is the exclusive upper bound of
// "today".
type TimeSource interface {
	NowMillis() int64
	StartOfTodayMillis() int64
	StartOfTomorrowMillis() int64
}
