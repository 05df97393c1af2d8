package points

import (
	"context"
	"fmt"

	"github.com/MarkoPoloResearchLab/points/pkg/keylock"
)

// Service contains the domain logic over a Store. Mutating operations hold
// the entity's exclusive lock across the whole read-validate-write section so
// that the daily totals and the balance a decision was made on stay valid
// through the commit.
type Service struct {
	store      Store
	timeSource TimeSource
	locks      *keylock.Manager
	policy     Policy
	logger     OperationLogger
}

// NewService wires a Service.
func NewService(store Store, timeSource TimeSource, locks *keylock.Manager, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if timeSource == nil {
		return nil, fmt.Errorf("%w: time source dependency is nil", ErrInvalidServiceConfig)
	}
	if locks == nil {
		return nil, fmt.Errorf("%w: lock manager dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, timeSource: timeSource, locks: locks, policy: DefaultPolicy()}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	if err := service.policy.Validate(); err != nil {
		return nil, err
	}
	return service, nil
}

// Charge adds points to the entity's balance and appends a CHARGE record.
// The key and amount are validated before any lock or store access; state
// checks run under the entity's lock.
func (service *Service) Charge(requestContext context.Context, rawKey int64, rawAmount int64) (Balance, error) {
	entityKey, err := NewEntityKey(rawKey)
	if err != nil {
		return Balance{}, err
	}
	chargeAmount, err := service.policy.ValidateChargeAmount(rawAmount)
	if err != nil {
		return Balance{}, err
	}

	handle := service.locks.Acquire(entityKey.Int64())
	newBalance, operationError := service.chargeLocked(requestContext, entityKey, chargeAmount)
	handle.Release()

	service.logOperation(requestContext, OperationLog{
		Operation:  operationCharge,
		EntityKey:  entityKey.Int64(),
		Amount:     chargeAmount.Int64(),
		NewBalance: newBalance.Int64(),
		Error:      operationError,
	})
	return newBalance, operationError
}

func (service *Service) chargeLocked(ctx context.Context, entityKey EntityKey, chargeAmount ChargeAmount) (Balance, error) {
	currentBalance, err := service.store.ReadBalance(ctx, entityKey)
	if err != nil {
		return Balance{}, err
	}
	todayCharged, err := service.todayTotal(ctx, entityKey, KindCharge)
	if err != nil {
		return Balance{}, err
	}
	if err := service.policy.CheckDailyChargeLimit(todayCharged, chargeAmount); err != nil {
		return Balance{}, err
	}
	newBalance, err := service.policy.ApplyCharge(currentBalance, chargeAmount)
	if err != nil {
		return Balance{}, err
	}
	if err := service.store.WriteBalance(ctx, entityKey, newBalance); err != nil {
		return Balance{}, err
	}
	if _, err := service.store.AppendHistory(ctx, entityKey, chargeAmount.Int64(), KindCharge, service.timeSource.NowMillis()); err != nil {
		return Balance{}, err
	}
	return newBalance, nil
}

// Use deducts points from the entity's balance and appends a USE record.
func (service *Service) Use(requestContext context.Context, rawKey int64, rawAmount int64) (Balance, error) {
	entityKey, err := NewEntityKey(rawKey)
	if err != nil {
		return Balance{}, err
	}
	useAmount, err := service.policy.ValidateUseAmount(rawAmount)
	if err != nil {
		return Balance{}, err
	}

	handle := service.locks.Acquire(entityKey.Int64())
	newBalance, operationError := service.useLocked(requestContext, entityKey, useAmount)
	handle.Release()

	service.logOperation(requestContext, OperationLog{
		Operation:  operationUse,
		EntityKey:  entityKey.Int64(),
		Amount:     useAmount.Int64(),
		NewBalance: newBalance.Int64(),
		Error:      operationError,
	})
	return newBalance, operationError
}

func (service *Service) useLocked(ctx context.Context, entityKey EntityKey, useAmount UseAmount) (Balance, error) {
	currentBalance, err := service.store.ReadBalance(ctx, entityKey)
	if err != nil {
		return Balance{}, err
	}
	todayUsed, err := service.todayTotal(ctx, entityKey, KindUse)
	if err != nil {
		return Balance{}, err
	}
	if err := service.policy.CheckDailyUseLimit(todayUsed, useAmount); err != nil {
		return Balance{}, err
	}
	newBalance, err := service.policy.ApplyUse(currentBalance, useAmount)
	if err != nil {
		return Balance{}, err
	}
	if err := service.store.WriteBalance(ctx, entityKey, newBalance); err != nil {
		return Balance{}, err
	}
	if _, err := service.store.AppendHistory(ctx, entityKey, useAmount.Int64(), KindUse, service.timeSource.NowMillis()); err != nil {
		return Balance{}, err
	}
	return newBalance, nil
}

// GetBalance returns the current balance. Reads observe only fully committed
// values, so no lock is taken at this layer.
func (service *Service) GetBalance(requestContext context.Context, rawKey int64) (Balance, error) {
	entityKey, err := NewEntityKey(rawKey)
	if err != nil {
		return Balance{}, err
	}
	return service.store.ReadBalance(requestContext, entityKey)
}

// GetHistory returns the entity's transaction records ordered by insertion.
func (service *Service) GetHistory(requestContext context.Context, rawKey int64) ([]TransactionRecord, error) {
	entityKey, err := NewEntityKey(rawKey)
	if err != nil {
		return nil, err
	}
	if _, err := service.store.ReadBalance(requestContext, entityKey); err != nil {
		return nil, err
	}
	return service.store.ListHistory(requestContext, entityKey)
}

// todayTotal sums today's history of one kind. Day boundaries are computed
// fresh inside the critical section, after lock acquisition and before the
// history read, so a long-held lock cannot straddle a stale window.
func (service *Service) todayTotal(ctx context.Context, entityKey EntityKey, kind TransactionKind) (int64, error) {
	startOfToday := service.timeSource.StartOfTodayMillis()
	startOfTomorrow := service.timeSource.StartOfTomorrowMillis()
	records, err := service.store.ListHistory(ctx, entityKey)
	if err != nil {
		return 0, err
	}
	total := int64(0)
	for _, record := range records {
		if record.Kind != kind {
			continue
		}
		if record.TimestampMillis < startOfToday || record.TimestampMillis >= startOfTomorrow {
			continue
		}
		total += record.Amount
	}
	return total, nil
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}
