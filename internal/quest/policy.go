package quest

import (
	"strings"
	"time"

	"questbot/internal/gametime"
)

// Kind is the stored name of a reset policy.
type Kind string

const (
	KindDaily    Kind = "daily"
	KindWeekly   Kind = "weekly"
	KindCooldown Kind = "cooldown"
	KindInstance Kind = "instance"
)

func (k Kind) Label() string {
	switch k {
	case KindDaily:
		return "Daily"
	case KindWeekly:
		return "Weekly"
	case KindCooldown:
		return "Cooldown"
	case KindInstance:
		return "Instance"
	default:
		return string(k)
	}
}

// ResetRules are the game-wide reset moments. The weekly reset happens at
// the daily reset time on WeeklyDay.
type ResetRules struct {
	DailyHour   int
	DailyMinute int
	WeeklyDay   time.Weekday
}

func DefaultResetRules() ResetRules {
	return ResetRules{DailyHour: 4, DailyMinute: 0, WeeklyDay: time.Monday}
}

// NextDailyReset is today's reset, or tomorrow's once it has passed.
func (r ResetRules) NextDailyReset(now gametime.Timestamp) gametime.Timestamp {
	reset := now.At(r.DailyHour, r.DailyMinute)
	if !now.Before(reset) {
		reset = reset.AddDays(1)
	}
	return reset
}

// DaysUntilWeekly counts calendar days from now's weekday to the reset
// weekday, 0 when today is reset day.
func (r ResetRules) DaysUntilWeekly(now gametime.Timestamp) int {
	return (int(r.WeeklyDay) - int(now.Weekday()) + 7) % 7
}

// NextWeeklyReset is the next reset moment at or after now. On reset day
// after the reset time it rolls to the following week.
func (r ResetRules) NextWeeklyReset(now gametime.Timestamp) gametime.Timestamp {
	days := r.DaysUntilWeekly(now)
	reset := now.AddDays(days).At(r.DailyHour, r.DailyMinute)
	if days == 0 && !now.Before(reset) {
		reset = reset.AddDays(7)
	}
	return reset
}

// Policy is a reset policy. The set of variants is closed: Daily, Weekly,
// Cooldown, Instance and Unrecognized.
type Policy interface {
	Kind() Kind
	evaluate(c Completion, now gametime.Timestamp) StatusResult
}

type Daily struct {
	Hour   int
	Minute int
}

type Weekly struct {
	Day    time.Weekday
	Hour   int
	Minute int
}

type Cooldown struct {
	Minutes int
}

type Instance struct {
	ActiveMinutes   int
	CooldownMinutes int
}

// Unrecognized carries a stored policy name the engine does not know.
type Unrecognized struct {
	Name string
}

func (Daily) Kind() Kind          { return KindDaily }
func (Weekly) Kind() Kind         { return KindWeekly }
func (Cooldown) Kind() Kind       { return KindCooldown }
func (Instance) Kind() Kind       { return KindInstance }
func (u Unrecognized) Kind() Kind { return Kind(u.Name) }

func (p Daily) rules() ResetRules {
	return ResetRules{DailyHour: p.Hour, DailyMinute: p.Minute}
}

func (p Weekly) rules() ResetRules {
	return ResetRules{DailyHour: p.Hour, DailyMinute: p.Minute, WeeklyDay: p.Day}
}

// PolicyFor builds the policy for a stored reset type. activeMinutes only
// matters for instances; it is ignored for every other kind.
func PolicyFor(kind string, rules ResetRules, cooldownMinutes, activeMinutes int) Policy {
	switch Kind(strings.ToLower(strings.TrimSpace(kind))) {
	case KindDaily:
		return Daily{Hour: rules.DailyHour, Minute: rules.DailyMinute}
	case KindWeekly:
		return Weekly{Day: rules.WeeklyDay, Hour: rules.DailyHour, Minute: rules.DailyMinute}
	case KindCooldown:
		return Cooldown{Minutes: cooldownMinutes}
	case KindInstance:
		return Instance{ActiveMinutes: activeMinutes, CooldownMinutes: cooldownMinutes}
	default:
		return Unrecognized{Name: kind}
	}
}
