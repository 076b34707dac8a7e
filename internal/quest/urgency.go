package quest

import (
	"fmt"
	"time"

	"questbot/internal/gametime"
)

// Urgency grades the weekly reminder broadcast.
type Urgency int

const (
	UrgencyNone Urgency = iota
	UrgencyReminder
	UrgencyWarning
	UrgencyFinal
)

func (u Urgency) String() string {
	switch u {
	case UrgencyReminder:
		return "reminder"
	case UrgencyWarning:
		return "warning"
	case UrgencyFinal:
		return "final"
	default:
		return "none"
	}
}

// WeeklyUrgency returns the reminder grade and header for now. The grade
// steps up 5, 3 and 1 days before the weekly reset.
func WeeklyUrgency(r ResetRules, now gametime.Timestamp) (Urgency, string) {
	switch r.DaysUntilWeekly(now) {
	case 5:
		return UrgencyReminder, "📋 Reminder: weekly quests reset in 5 days"
	case 3:
		return UrgencyWarning, "⏰ Heads up: weekly quests reset in 3 days"
	case 1:
		return UrgencyFinal, fmt.Sprintf("⚠️ LAST CHANCE! Weekly quests reset tomorrow at %02d:%02d!", r.DailyHour, r.DailyMinute)
	default:
		return UrgencyNone, "📋 Weekly reset in " + FormatRemaining(r.NextWeeklyReset(now), now)
	}
}

// ReminderWeekdays are the days WeeklyUrgency grades above UrgencyNone.
func (r ResetRules) ReminderWeekdays() []time.Weekday {
	out := make([]time.Weekday, 0, 3)
	for _, before := range []int{5, 3, 1} {
		out = append(out, time.Weekday((int(r.WeeklyDay)-before+7)%7))
	}
	return out
}
