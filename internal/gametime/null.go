package gametime

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// NullTimestamp is a nullable Timestamp column. Raw keeps a stored value
// that could not be parsed so callers can tell "absent" from "unreadable".
type NullTimestamp struct {
	Time  Timestamp
	Valid bool
	Raw   string
}

func Valid(t Timestamp) NullTimestamp {
	if t.IsZero() {
		return NullTimestamp{}
	}
	return NullTimestamp{Time: t, Valid: true}
}

// Malformed reports a non-empty stored value that did not parse.
func (n NullTimestamp) Malformed() bool { return !n.Valid && n.Raw != "" }

// Present reports whether any value was stored, parseable or not.
func (n NullTimestamp) Present() bool { return n.Valid || n.Raw != "" }

func (n *NullTimestamp) Scan(src any) error {
	*n = NullTimestamp{}
	switch v := src.(type) {
	case nil:
		return nil
	case time.Time:
		// Drivers hand back zone-less columns as UTC; keep the wall fields.
		n.Time, n.Valid = FromWall(v), !v.IsZero()
		return nil
	case []byte:
		n.setString(string(v))
		return nil
	case string:
		n.setString(v)
		return nil
	default:
		return fmt.Errorf("gametime: cannot scan %T", src)
	}
}

func (n *NullTimestamp) setString(s string) {
	if s == "" {
		return
	}
	if ts, ok := ParseFloating(s); ok {
		n.Time, n.Valid = ts, true
		return
	}
	// Values with an offset need the game zone; Clock.Resolve finishes them.
	n.Raw = s
}

func (n NullTimestamp) Value() (driver.Value, error) {
	if !n.Valid {
		if n.Raw != "" {
			return n.Raw, nil
		}
		return nil, nil
	}
	return n.Time.String(), nil
}

func (n NullTimestamp) String() string {
	if n.Valid {
		return n.Time.String()
	}
	return n.Raw
}
