// Package timesource provides wall-clock day boundaries for a fixed business
// calendar. Daily charge and use limits are computed against midnight in the
// configured zone, not UTC.
package timesource

import (
	"fmt"
	"time"
)

// KSTZone is the default business calendar.
const KSTZone = "Asia/Seoul"

// WallClock implements the service's TimeSource against the system clock,
// pinned to one IANA zone.
type WallClock struct {
	location *time.Location
	nowFn    func() time.Time
}

// NewWallClock pins a wall clock to the named IANA zone.
func NewWallClock(zoneName string) (*WallClock, error) {
	location, err := time.LoadLocation(zoneName)
	if err != nil {
		return nil, fmt.Errorf("timesource: load zone %q: %w", zoneName, err)
	}
	return &WallClock{location: location, nowFn: time.Now}, nil
}

// NewKST returns a wall clock on Korea Standard Time.
func NewKST() (*WallClock, error) {
	return NewWallClock(KSTZone)
}

// NowMillis returns the current instant in epoch milliseconds.
func (clock *WallClock) NowMillis() int64 {
	return clock.nowFn().In(clock.location).UnixMilli()
}

// StartOfTodayMillis returns midnight of the current day in the clock's zone.
func (clock *WallClock) StartOfTodayMillis() int64 {
	return clock.startOfDay().UnixMilli()
}

// StartOfTomorrowMillis returns midnight of the next day in the clock's zone,
// the exclusive upper bound of "today".
func (clock *WallClock) StartOfTomorrowMillis() int64 {
	return clock.startOfDay().AddDate(0, 0, 1).UnixMilli()
}

func (clock *WallClock) startOfDay() time.Time {
	now := clock.nowFn().In(clock.location)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, clock.location)
}
