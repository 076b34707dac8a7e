package gametime

import (
	"time"
)

// Layout is the storage and display layout for Timestamp.
const Layout = "2006-01-02T15:04:05"

// Timestamp is a wall-clock time in the game zone with no zone attached.
// The zero value means "absent".
type Timestamp struct {
	// wall carries the fields pinned to UTC; it is never read as an instant.
	wall time.Time
}

// Date builds a Timestamp from calendar fields. Out-of-range values are
// normalized the same way time.Date does.
func Date(year int, month time.Month, day, hour, min, sec int) Timestamp {
	return Timestamp{wall: time.Date(year, month, day, hour, min, sec, 0, time.UTC)}
}

// FromWall strips the zone of t and keeps its wall-clock fields as-is.
func FromWall(t time.Time) Timestamp {
	if t.IsZero() {
		return Timestamp{}
	}
	return Timestamp{wall: time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)}
}

func (t Timestamp) IsZero() bool { return t.wall.IsZero() }

func (t Timestamp) Add(d time.Duration) Timestamp {
	if t.IsZero() {
		return t
	}
	return Timestamp{wall: t.wall.Add(d)}
}

func (t Timestamp) AddMinutes(m int) Timestamp { return t.Add(time.Duration(m) * time.Minute) }

// AddDays moves by calendar days; wall-clock fields are preserved.
func (t Timestamp) AddDays(n int) Timestamp {
	if t.IsZero() {
		return t
	}
	return Timestamp{wall: t.wall.AddDate(0, 0, n)}
}

func (t Timestamp) Sub(u Timestamp) time.Duration { return t.wall.Sub(u.wall) }

// MinutesUntil returns whole minutes from t to u, rounded toward negative
// infinity.
func (t Timestamp) MinutesUntil(u Timestamp) int {
	d := u.Sub(t)
	m := int(d / time.Minute)
	if d < 0 && d%time.Minute != 0 {
		m--
	}
	return m
}

func (t Timestamp) Before(u Timestamp) bool { return t.wall.Before(u.wall) }
func (t Timestamp) After(u Timestamp) bool  { return t.wall.After(u.wall) }
func (t Timestamp) Equal(u Timestamp) bool  { return t.wall.Equal(u.wall) }
func (t Timestamp) Compare(u Timestamp) int { return t.wall.Compare(u.wall) }

func (t Timestamp) Weekday() time.Weekday { return t.wall.Weekday() }
func (t Timestamp) Hour() int             { return t.wall.Hour() }
func (t Timestamp) Minute() int           { return t.wall.Minute() }

// At returns the same calendar day at hour:minute:00.
func (t Timestamp) At(hour, minute int) Timestamp {
	y, m, d := t.wall.Date()
	return Date(y, m, d, hour, minute, 0)
}

// Format formats the wall-clock fields with a time layout. Zone verbs render
// as UTC and should not be used.
func (t Timestamp) Format(layout string) string { return t.wall.Format(layout) }

func (t Timestamp) String() string {
	if t.IsZero() {
		return ""
	}
	return t.wall.Format(Layout)
}

// In reads the wall-clock fields in loc and returns the absolute instant.
func (t Timestamp) In(loc *time.Location) time.Time {
	y, mo, d := t.wall.Date()
	return time.Date(y, mo, d, t.wall.Hour(), t.wall.Minute(), t.wall.Second(), t.wall.Nanosecond(), loc)
}
