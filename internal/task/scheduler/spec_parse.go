package scheduler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type SpecKind int

const (
	SpecCron SpecKind = iota
	SpecInterval
)

// ParsedSpec is a schedule string resolved to a cron expression or a fixed
// interval.
type ParsedSpec struct {
	Kind  SpecKind
	Cron  string
	Every time.Duration
}

var errNonPositive = errors.New("interval must be > 0")

// ParseSchedule resolves raw. A "cron:" prefix forces a cron expression and
// "every:" or "interval:" force an interval. Without a prefix, text with
// spaces or a leading '@' is cron. Intervals are Go durations ("90s") or
// HH:MM spans ("01:15" is 75 minutes).
func ParseSchedule(raw string) (ParsedSpec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ParsedSpec{}, errors.New("schedule required")
	}

	if prefix, rest, ok := strings.Cut(s, ":"); ok {
		switch strings.ToLower(prefix) {
		case "cron":
			expr := strings.TrimSpace(rest)
			if expr == "" {
				return ParsedSpec{}, errors.New("cron: expression required")
			}
			return ParsedSpec{Kind: SpecCron, Cron: expr}, nil
		case "every", "interval":
			d, err := parseEvery(rest)
			if err != nil {
				return ParsedSpec{}, err
			}
			return ParsedSpec{Kind: SpecInterval, Every: d}, nil
		}
	}

	if s[0] == '@' || strings.ContainsAny(s, " \t\r\n") {
		return ParsedSpec{Kind: SpecCron, Cron: s}, nil
	}
	d, err := parseEvery(s)
	if err != nil {
		return ParsedSpec{}, fmt.Errorf("schedule %q: %w (want cron, HH:MM or a duration)", raw, err)
	}
	return ParsedSpec{Kind: SpecInterval, Every: d}, nil
}

func parseEvery(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	var d time.Duration
	if h, m, ok := strings.Cut(v, ":"); ok {
		hh, err1 := strconv.Atoi(h)
		mm, err2 := strconv.Atoi(m)
		if err1 != nil || err2 != nil || len(m) != 2 || hh < 0 || mm > 59 {
			return 0, fmt.Errorf("bad HH:MM span %q", v)
		}
		d = time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	} else {
		var err error
		if d, err = time.ParseDuration(v); err != nil {
			return 0, fmt.Errorf("bad duration %q", v)
		}
	}
	if d <= 0 {
		return 0, errNonPositive
	}
	return d, nil
}
