package points

import "fmt"

// Default policy table. Amounts are points.
const (
	defaultMaxBalance                 int64 = 100_000_000
	defaultMinChargeAmount            int64 = 1_000
	defaultMaxChargeAmount            int64 = 1_000_000
	defaultDailyChargeLimit           int64 = 3_000_000
	defaultMinUseAmount               int64 = 100
	defaultMaxUseAmountPerTransaction int64 = 10_000_000
	defaultMaxUseAmountPerDay         int64 = 30_000_000
)

// Policy holds the validation and arithmetic rules for charge and use
// operations. All checks are boundary-inclusive on the permitted side: a value
// equal to a limit passes, strictly greater fails.
type Policy struct {
	MaxBalance                 int64
	MinChargeAmount            int64
	MaxChargeAmount            int64
	DailyChargeLimit           int64
	MinUseAmount               int64
	MaxUseAmountPerTransaction int64
	MaxUseAmountPerDay         int64
}

// DefaultPolicy returns the production policy table.
func DefaultPolicy() Policy {
	return Policy{
		MaxBalance:                 defaultMaxBalance,
		MinChargeAmount:            defaultMinChargeAmount,
		MaxChargeAmount:            defaultMaxChargeAmount,
		DailyChargeLimit:           defaultDailyChargeLimit,
		MinUseAmount:               defaultMinUseAmount,
		MaxUseAmountPerTransaction: defaultMaxUseAmountPerTransaction,
		MaxUseAmountPerDay:         defaultMaxUseAmountPerDay,
	}
}

// Validate ensures the policy table is internally consistent.
func (policy Policy) Validate() error {
	if policy.MaxBalance <= 0 {
		return fmt.Errorf("%w: max balance must be positive", ErrInvalidPolicy)
	}
	if policy.MinChargeAmount <= 0 || policy.MinChargeAmount > policy.MaxChargeAmount {
		return fmt.Errorf("%w: charge amount bounds are inverted", ErrInvalidPolicy)
	}
	if policy.DailyChargeLimit < policy.MinChargeAmount {
		return fmt.Errorf("%w: daily charge limit below minimum charge", ErrInvalidPolicy)
	}
	if policy.MinUseAmount <= 0 || policy.MinUseAmount > policy.MaxUseAmountPerTransaction {
		return fmt.Errorf("%w: use amount bounds are inverted", ErrInvalidPolicy)
	}
	if policy.MaxUseAmountPerDay < policy.MinUseAmount {
		return fmt.Errorf("%w: daily use limit below minimum use", ErrInvalidPolicy)
	}
	return nil
}

// ChargeAmount is a validated charge amount. Construction through
// Policy.ValidateChargeAmount is the enforcement point; invalid raw values
// never produce an instance.
type ChargeAmount struct {
	value int64
}

// Int64 returns the raw amount.
func (amount ChargeAmount) Int64() int64 {
	return amount.value
}

// UseAmount is a validated use amount bound to the per-transaction limits.
type UseAmount struct {
	value int64
}

// Int64 returns the raw amount.
func (amount UseAmount) Int64() int64 {
	return amount.value
}

// ValidateChargeAmount checks a raw charge amount against the policy bounds.
func (policy Policy) ValidateChargeAmount(raw int64) (ChargeAmount, error) {
	if raw < policy.MinChargeAmount {
		return ChargeAmount{}, fmt.Errorf("%w: charge amount %d is below the minimum of %d", ErrAmountTooSmall, raw, policy.MinChargeAmount)
	}
	if raw > policy.MaxChargeAmount {
		return ChargeAmount{}, fmt.Errorf("%w: charge amount %d is above the maximum of %d", ErrAmountTooLarge, raw, policy.MaxChargeAmount)
	}
	return ChargeAmount{value: raw}, nil
}

// ValidateUseAmount checks a raw use amount against the per-transaction bounds.
func (policy Policy) ValidateUseAmount(raw int64) (UseAmount, error) {
	if raw < policy.MinUseAmount {
		return UseAmount{}, fmt.Errorf("%w: use amount %d is below the minimum of %d", ErrAmountTooSmall, raw, policy.MinUseAmount)
	}
	if raw > policy.MaxUseAmountPerTransaction {
		return UseAmount{}, fmt.Errorf("%w: use amount %d is above the per-transaction maximum of %d", ErrAmountTooLarge, raw, policy.MaxUseAmountPerTransaction)
	}
	return UseAmount{value: raw}, nil
}

// ApplyCharge adds the charge amount to the balance, honoring the ceiling.
func (policy Policy) ApplyCharge(balance Balance, amount ChargeAmount) (Balance, error) {
	newValue := balance.Int64() + amount.Int64()
	if newValue > policy.MaxBalance {
		return Balance{}, fmt.Errorf("%w: %d would exceed the ceiling of %d", ErrBalanceCeilingExceeded, newValue, policy.MaxBalance)
	}
	return NewBalance(newValue)
}

// ApplyUse subtracts the use amount from the balance if sufficient.
func (policy Policy) ApplyUse(balance Balance, amount UseAmount) (Balance, error) {
	if amount.Int64() > balance.Int64() {
		return Balance{}, fmt.Errorf("%w: use amount %d exceeds balance %d", ErrInsufficientBalance, amount.Int64(), balance.Int64())
	}
	return NewBalance(balance.Int64() - amount.Int64())
}

// CheckDailyChargeLimit verifies that today's charged total plus the new
// amount stays within the daily charge limit.
func (policy Policy) CheckDailyChargeLimit(todayChargedTotal int64, amount ChargeAmount) error {
	if todayChargedTotal+amount.Int64() > policy.DailyChargeLimit {
		return fmt.Errorf("%w: %d charged today, %d requested, limit is %d", ErrDailyChargeLimitExceeded, todayChargedTotal, amount.Int64(), policy.DailyChargeLimit)
	}
	return nil
}

// CheckDailyUseLimit verifies that today's used total plus the new amount
// stays within the daily use limit.
func (policy Policy) CheckDailyUseLimit(todayUsedTotal int64, amount UseAmount) error {
	if todayUsedTotal+amount.Int64() > policy.MaxUseAmountPerDay {
		return fmt.Errorf("%w: %d used today, %d requested, limit is %d", ErrDailyUseLimitExceeded, todayUsedTotal, amount.Int64(), policy.MaxUseAmountPerDay)
	}
	return nil
}
