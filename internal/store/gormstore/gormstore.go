// Package gormstore implements the ledger store over GORM, for sqlite and
// postgres backends.
package gormstore

import (
	"context"
	"errors"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/points/pkg/points"
)

const (
	pgUniqueViolationCode = "23505"
	sqliteConstraintCode  = 19

	errorOperationStore = "store"
	errorSubjectBalance = "balance"
	errorSubjectHistory = "history"
	errorCodeRead       = "read"
	errorCodeWrite      = "write"
	errorCodeRegister   = "register"
	errorCodeAppend     = "append"
	errorCodeList       = "list"
	errorCodeInvalid    = "invalid"
)

// Store implements points.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Register creates the entity's balance row.
func (store *Store) Register(ctx context.Context, entityKey points.EntityKey, initial points.Balance) error {
	row := PointBalance{EntityKey: entityKey.Int64(), Balance: initial.Int64()}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectBalance, errorCodeRegister, points.ErrEntityAlreadyRegistered)
	}
	if err != nil {
		return wrapStoreError(errorSubjectBalance, errorCodeRegister, err)
	}
	return nil
}

// ReadBalance returns the entity's committed balance.
func (store *Store) ReadBalance(ctx context.Context, entityKey points.EntityKey) (points.Balance, error) {
	var row PointBalance
	err := store.db.WithContext(ctx).
		Where("entity_key = ?", entityKey.Int64()).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return points.Balance{}, wrapStoreError(errorSubjectBalance, errorCodeRead, points.ErrEntityNotFound)
		}
		return points.Balance{}, wrapStoreError(errorSubjectBalance, errorCodeRead, err)
	}
	balance, err := points.NewBalance(row.Balance)
	if err != nil {
		return points.Balance{}, wrapStoreError(errorSubjectBalance, errorCodeInvalid, err)
	}
	return balance, nil
}

// WriteBalance replaces the balance of an existing entity.
func (store *Store) WriteBalance(ctx context.Context, entityKey points.EntityKey, balance points.Balance) error {
	result := store.db.WithContext(ctx).
		Model(&PointBalance{}).
		Where("entity_key = ?", entityKey.Int64()).
		Update("balance", balance.Int64())
	if result.Error != nil {
		return wrapStoreError(errorSubjectBalance, errorCodeWrite, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectBalance, errorCodeWrite, points.ErrEntityNotFound)
	}
	return nil
}

// AppendHistory inserts one immutable transaction record and returns it with
// its assigned id.
func (store *Store) AppendHistory(ctx context.Context, entityKey points.EntityKey, amount int64, kind points.TransactionKind, timestampMillis int64) (points.TransactionRecord, error) {
	row := PointHistory{
		EntityKey:       entityKey.Int64(),
		Amount:          amount,
		Kind:            kind.String(),
		TimestampMillis: timestampMillis,
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return points.TransactionRecord{}, wrapStoreError(errorSubjectHistory, errorCodeAppend, err)
	}
	return points.TransactionRecord{
		ID:              row.ID,
		EntityKey:       row.EntityKey,
		Amount:          row.Amount,
		Kind:            kind,
		TimestampMillis: row.TimestampMillis,
	}, nil
}

// ListHistory returns the entity's records in insertion order.
func (store *Store) ListHistory(ctx context.Context, entityKey points.EntityKey) ([]points.TransactionRecord, error) {
	var exists int64
	err := store.db.WithContext(ctx).
		Model(&PointBalance{}).
		Where("entity_key = ?", entityKey.Int64()).
		Count(&exists).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectHistory, errorCodeList, err)
	}
	if exists == 0 {
		return nil, wrapStoreError(errorSubjectHistory, errorCodeList, points.ErrEntityNotFound)
	}

	var rows []PointHistory
	err = store.db.WithContext(ctx).
		Where("entity_key = ?", entityKey.Int64()).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectHistory, errorCodeList, err)
	}

	records := make([]points.TransactionRecord, 0, len(rows))
	for _, row := range rows {
		kind, err := points.ParseTransactionKind(row.Kind)
		if err != nil {
			return nil, wrapStoreError(errorSubjectHistory, errorCodeInvalid, err)
		}
		records = append(records, points.TransactionRecord{
			ID:              row.ID,
			EntityKey:       row.EntityKey,
			Amount:          row.Amount,
			Kind:            kind,
			TimestampMillis: row.TimestampMillis,
		})
	}
	return records, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return points.WrapError(errorOperationStore, subject, code, err)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}

var _ points.Store = (*Store)(nil)
