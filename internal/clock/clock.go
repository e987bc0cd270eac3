// Package clock yields "now" in the configured wall zone and enumerates day
// boundaries, the single source of truth for wall-clock arithmetic used by
// the planner and scheduler.
package clock

import (
	"fmt"
	"time"
)

// Clock resolves wall-clock time in a fixed IANA zone.
type Clock struct {
	loc *time.Location
}

// New loads the named IANA zone. An empty name defaults to "Asia/Shanghai"
// per spec.md's WALL_TIMEZONE default.
func New(zoneName string) (*Clock, error) {
	if zoneName == "" {
		zoneName = "Asia/Shanghai"
	}
	loc, err := time.LoadLocation(zoneName)
	if err != nil {
		return nil, fmt.Errorf("load wall zone %q: %w", zoneName, err)
	}
	return &Clock{loc: loc}, nil
}

// Now returns the current instant rendered in the wall zone.
func (c *Clock) Now() time.Time {
	return time.Now().In(c.loc)
}

// Location returns the configured wall zone.
func (c *Clock) Location() *time.Location {
	return c.loc
}

// Today returns today's wall-date string (YYYY-MM-DD) in the wall zone.
func (c *Clock) Today() string {
	return c.Now().Format("2006-01-02")
}

// DayBounds returns the [start, end] unix-second boundaries of the wall-date
// "day" (YYYY-MM-DD) in the configured zone: start is 00:00:00, end is the
// last second of the day (day.start + 86399).
func (c *Clock) DayBounds(day string) (start, end int64, err error) {
	t, err := time.ParseInLocation("2006-01-02", day, c.loc)
	if err != nil {
		return 0, 0, fmt.Errorf("parse day %q: %w", day, err)
	}
	start = t.Unix()
	end = start + 86399
	return start, end, nil
}

// WallMinute returns a key identifying the current wall-clock minute,
// stable across calls within the same minute, used for dedup bookkeeping
// by the scheduler's auto-rule tick.
func (c *Clock) WallMinute(t time.Time) string {
	wt := t.In(c.loc)
	return wt.Format("2006-01-02 15:04")
}

// SameDay reports whether t1 and t2 fall on the same wall-date in the
// configured zone.
func (c *Clock) SameDay(t1, t2 time.Time) bool {
	y1, m1, d1 := t1.In(c.loc).Date()
	y2, m2, d2 := t2.In(c.loc).Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// HHMM formats t as "HH:MM" in the configured wall zone.
func (c *Clock) HHMM(t time.Time) string {
	return t.In(c.loc).Format("15:04")
}
