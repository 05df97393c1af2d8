package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/MarkoPoloResearchLab/points/pkg/points"
)

func mustEntityKey(test *testing.T, raw int64) points.EntityKey {
	test.Helper()
	entityKey, err := points.NewEntityKey(raw)
	if err != nil {
		test.Fatalf("entity key: %v", err)
	}
	return entityKey
}

func mustBalance(test *testing.T, raw int64) points.Balance {
	test.Helper()
	balance, err := points.NewBalance(raw)
	if err != nil {
		test.Fatalf("balance: %v", err)
	}
	return balance
}

func TestRegisterAndReadBalance(test *testing.T) {
	test.Parallel()
	store := New()
	entityKey := mustEntityKey(test, 1)

	if err := store.Register(context.Background(), entityKey, mustBalance(test, 5_000)); err != nil {
		test.Fatalf("register: %v", err)
	}
	balance, err := store.ReadBalance(context.Background(), entityKey)
	if err != nil {
		test.Fatalf("read balance: %v", err)
	}
	if balance.Int64() != 5_000 {
		test.Fatalf("expected 5000, got %d", balance.Int64())
	}
}

func TestRegisterExistingEntityFails(test *testing.T) {
	test.Parallel()
	store := New()
	entityKey := mustEntityKey(test, 1)

	if err := store.Register(context.Background(), entityKey, mustBalance(test, 0)); err != nil {
		test.Fatalf("register: %v", err)
	}
	err := store.Register(context.Background(), entityKey, mustBalance(test, 0))
	if !errors.Is(err, points.ErrEntityAlreadyRegistered) {
		test.Fatalf("expected ErrEntityAlreadyRegistered, got %v", err)
	}
}

func TestUnknownEntityFailsEverywhere(test *testing.T) {
	test.Parallel()
	store := New()
	entityKey := mustEntityKey(test, 404)

	if _, err := store.ReadBalance(context.Background(), entityKey); !errors.Is(err, points.ErrEntityNotFound) {
		test.Fatalf("read: expected ErrEntityNotFound, got %v", err)
	}
	if err := store.WriteBalance(context.Background(), entityKey, mustBalance(test, 1)); !errors.Is(err, points.ErrEntityNotFound) {
		test.Fatalf("write: expected ErrEntityNotFound, got %v", err)
	}
	if _, err := store.AppendHistory(context.Background(), entityKey, 100, points.KindCharge, 1); !errors.Is(err, points.ErrEntityNotFound) {
		test.Fatalf("append: expected ErrEntityNotFound, got %v", err)
	}
	if _, err := store.ListHistory(context.Background(), entityKey); !errors.Is(err, points.ErrEntityNotFound) {
		test.Fatalf("list: expected ErrEntityNotFound, got %v", err)
	}
}

func TestAppendHistoryAssignsIncreasingIDs(test *testing.T) {
	test.Parallel()
	store := New()
	entityKey := mustEntityKey(test, 1)
	if err := store.Register(context.Background(), entityKey, mustBalance(test, 0)); err != nil {
		test.Fatalf("register: %v", err)
	}

	first, err := store.AppendHistory(context.Background(), entityKey, 1_000, points.KindCharge, 10)
	if err != nil {
		test.Fatalf("append: %v", err)
	}
	second, err := store.AppendHistory(context.Background(), entityKey, 500, points.KindUse, 20)
	if err != nil {
		test.Fatalf("append: %v", err)
	}
	if second.ID <= first.ID {
		test.Fatalf("expected increasing record ids, got %d then %d", first.ID, second.ID)
	}

	records, err := store.ListHistory(context.Background(), entityKey)
	if err != nil {
		test.Fatalf("list: %v", err)
	}
	if len(records) != 2 || records[0].ID != first.ID || records[1].ID != second.ID {
		test.Fatalf("unexpected history: %+v", records)
	}
}

func TestListHistoryReturnsACopy(test *testing.T) {
	test.Parallel()
	store := New()
	entityKey := mustEntityKey(test, 1)
	if err := store.Register(context.Background(), entityKey, mustBalance(test, 0)); err != nil {
		test.Fatalf("register: %v", err)
	}
	if _, err := store.AppendHistory(context.Background(), entityKey, 1_000, points.KindCharge, 10); err != nil {
		test.Fatalf("append: %v", err)
	}

	records, err := store.ListHistory(context.Background(), entityKey)
	if err != nil {
		test.Fatalf("list: %v", err)
	}
	records[0].Amount = 999_999

	reread, err := store.ListHistory(context.Background(), entityKey)
	if err != nil {
		test.Fatalf("list: %v", err)
	}
	if reread[0].Amount != 1_000 {
		test.Fatalf("store state mutated through a returned slice")
	}
}

func TestWriteBalanceReplacesValue(test *testing.T) {
	test.Parallel()
	store := New()
	entityKey := mustEntityKey(test, 1)
	if err := store.Register(context.Background(), entityKey, mustBalance(test, 100)); err != nil {
		test.Fatalf("register: %v", err)
	}
	if err := store.WriteBalance(context.Background(), entityKey, mustBalance(test, 2_500)); err != nil {
		test.Fatalf("write: %v", err)
	}
	balance, err := store.ReadBalance(context.Background(), entityKey)
	if err != nil {
		test.Fatalf("read: %v", err)
	}
	if balance.Int64() != 2_500 {
		test.Fatalf("expected 2500, got %d", balance.Int64())
	}
}
