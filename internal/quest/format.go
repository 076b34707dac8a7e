package quest

import (
	"fmt"
	"strings"

	"questbot/internal/gametime"
)

// ReadyNow is rendered for durations that have already elapsed.
const ReadyNow = "Ready now!"

// FormatDuration renders whole minutes. Days and hours are shown when
// non-zero; minutes are dropped once the duration spans a full day.
func FormatDuration(minutes int) string {
	if minutes <= 0 {
		return ReadyNow
	}
	if minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	}
	days := minutes / 1440
	rest := minutes % 1440
	hours := rest / 60
	mins := rest % 60

	parts := make([]string, 0, 3)
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if mins > 0 && days == 0 {
		parts = append(parts, fmt.Sprintf("%dm", mins))
	}
	if len(parts) == 0 {
		return "soon"
	}
	return strings.Join(parts, " ")
}

// FormatRemaining renders the time left until target.
func FormatRemaining(target, now gametime.Timestamp) string {
	if target.IsZero() {
		return "unknown"
	}
	if !now.Before(target) {
		return ReadyNow
	}
	return FormatDuration(now.MinutesUntil(target))
}
