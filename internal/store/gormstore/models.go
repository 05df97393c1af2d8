package gormstore

import "time"

// PointBalance mirrors the point_balances table. One row per registered
// entity.
type PointBalance struct {
	EntityKey int64     `gorm:"primaryKey;autoIncrement:false"`
	Balance   int64     `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (PointBalance) TableName() string { return "point_balances" }

// PointHistory mirrors the point_histories table. Rows are append-only and
// ordered by the auto-incremented primary key.
type PointHistory struct {
	ID              int64  `gorm:"primaryKey;autoIncrement"`
	EntityKey       int64  `gorm:"not null;index:idx_point_histories_entity_ts,priority:1"`
	Amount          int64  `gorm:"not null"`
	Kind            string `gorm:"not null"`
	TimestampMillis int64  `gorm:"not null;index:idx_point_histories_entity_ts,priority:2"`
	CreatedAt       time.Time
}

func (PointHistory) TableName() string { return "point_histories" }
