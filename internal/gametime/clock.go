package gametime

import (
	"strings"
	"time"
	_ "time/tzdata"
)

const (
	DefaultZone = "Europe/Istanbul"

	fallbackName   = "TRT"
	fallbackOffset = 3 * 60 * 60
)

// Clock reports game time and normalizes arbitrary time values into it.
type Clock struct {
	loc *time.Location
	now func() time.Time
}

// LoadZone resolves name, falling back to a fixed UTC+3 zone when the zone
// database does not know it. The second return reports whether the fallback
// was used.
func LoadZone(name string) (*time.Location, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultZone
	}
	loc, err := time.LoadLocation(name)
	if err != nil || loc == nil {
		return time.FixedZone(fallbackName, fallbackOffset), true
	}
	return loc, false
}

func New(loc *time.Location) *Clock {
	if loc == nil {
		loc, _ = LoadZone("")
	}
	return &Clock{loc: loc, now: time.Now}
}

// Fixed returns a clock frozen at the given game time. Intended for tests.
func Fixed(loc *time.Location, at Timestamp) *Clock {
	c := New(loc)
	inst := at.In(c.loc)
	c.now = func() time.Time { return inst }
	return c
}

// WithNow swaps the time source and returns c.
func (c *Clock) WithNow(now func() time.Time) *Clock {
	if now != nil {
		c.now = now
	}
	return c
}

func (c *Clock) Location() *time.Location { return c.loc }

// Now is the current game time.
func (c *Clock) Now() Timestamp {
	return FromWall(c.now().In(c.loc))
}

// Instant converts a game time back to an absolute instant.
func (c *Clock) Instant(t Timestamp) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	return t.In(c.loc)
}

var floatingLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

var absoluteLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999-0700",
	"2006-01-02T15:04:05.999999999-0700",
}

// Normalize converts v into game time. Absolute instants are moved into the
// game zone; zone-less values are taken as game time already. The second
// return is false when v carries no usable time.
func (c *Clock) Normalize(v any) (Timestamp, bool) {
	switch x := v.(type) {
	case nil:
		return Timestamp{}, false
	case Timestamp:
		return x, !x.IsZero()
	case *Timestamp:
		if x == nil {
			return Timestamp{}, false
		}
		return *x, !x.IsZero()
	case NullTimestamp:
		r := c.Resolve(x)
		return r.Time, r.Valid
	case time.Time:
		if x.IsZero() {
			return Timestamp{}, false
		}
		return FromWall(x.In(c.loc)), true
	case *time.Time:
		if x == nil {
			return Timestamp{}, false
		}
		return c.Normalize(*x)
	case []byte:
		return c.Parse(string(x))
	case string:
		return c.Parse(x)
	default:
		return Timestamp{}, false
	}
}

// Resolve finishes a scanned column: a raw value that carries an offset is
// parsed as an instant and moved into game time. Values that still do not
// parse stay malformed.
func (c *Clock) Resolve(n NullTimestamp) NullTimestamp {
	if n.Valid || n.Raw == "" {
		return n
	}
	if ts, ok := c.Parse(n.Raw); ok {
		return NullTimestamp{Time: ts, Valid: true}
	}
	return n
}

// Parse reads a stored time string.
func (c *Clock) Parse(s string) (Timestamp, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Timestamp{}, false
	}
	for _, layout := range absoluteLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return FromWall(t.In(c.loc)), true
		}
	}
	if ts, ok := ParseFloating(s); ok {
		return ts, true
	}
	return Timestamp{}, false
}

// ParseFloating parses a zone-less layout only.
func ParseFloating(s string) (Timestamp, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range floatingLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return FromWall(t), true
		}
	}
	return Timestamp{}, false
}
