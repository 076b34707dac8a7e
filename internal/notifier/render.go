package notifier

import (
	"fmt"
	"strings"

	"questbot/internal/quest"
	"questbot/pkg/tgui"
)

const (
	colorDaily    = 0x3498db
	colorWeekly   = 0x9b59b6
	colorCooldown = 0xe67e22
	colorInstance = 0xf1c40f
	colorOther    = 0x95a5a6
	colorPre      = 0xf39c12
	colorAnnounce = 0x2c3e50
)

// reminderPreview caps the names listed in the daily reminder.
const reminderPreview = 5

// RenderReady builds the ready card for p.
func RenderReady(p Payload) Card {
	c := Card{Kind: "ready", Target: p.Target, TaskID: p.TaskID}
	switch p.Kind {
	case quest.KindInstance:
		c.Emoji, c.Title, c.Color = "🏰", p.Name+" can be entered!", colorInstance
	case quest.KindDaily:
		c.Emoji, c.Title, c.Color = "📋", p.Name+" is not done today!", colorDaily
	case quest.KindWeekly:
		c.Emoji, c.Title, c.Color = "📋", p.Name+" is not done this week!", colorWeekly
	case quest.KindCooldown:
		c.Emoji, c.Title, c.Color = "🔔", p.Name+" is ready!", colorCooldown
	default:
		c.Emoji, c.Title, c.Color = "🔔", p.Name+" is ready!", colorOther
	}
	if p.Message != "" {
		c.Lines = append(c.Lines, p.State.Emoji()+" "+p.Message)
	}
	var facts []string
	if p.CooldownMinutes > 0 {
		facts = append(facts, "Cooldown: "+quest.FormatDuration(p.CooldownMinutes))
	}
	if p.Kind == quest.KindInstance && p.ActiveDurationMinutes > 0 {
		facts = append(facts, "Open for: "+quest.FormatDuration(p.ActiveDurationMinutes))
	}
	if len(facts) > 0 {
		c.Lines = append(c.Lines, strings.Join(facts, " | "))
	}
	if p.Buttons {
		c.Actions = []Action{ActionDone, ActionSkip, ActionSnooze}
	}
	return c
}

// RenderPre builds the pre-notification card.
func RenderPre(n PreNotice) Card {
	title := fmt.Sprintf("%s will be ready in %d minutes!", n.Name, n.Minutes)
	if n.ShowResourceReminder {
		title += " (prepare your resources!)"
	}
	return Card{Kind: "pre", Target: n.Target, TaskID: n.TaskID, Emoji: "⏳", Title: title, Color: colorPre}
}

// RenderAnnouncement wraps free text into a card, one line per text line.
func RenderAnnouncement(a Announcement) Card {
	return Card{Kind: "announce", Target: a.Target, Lines: strings.Split(a.Text, "\n"), Color: colorAnnounce}
}

// ResetText is the announcement posted after a reset job.
func ResetText(kind quest.Kind, count int) string {
	return fmt.Sprintf("🔄 %s reset: %d tasks are available again", kind.Label(), count)
}

// DailyReminderText lists incomplete daily tasks, empty when there are none.
func DailyReminderText(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return "⏰ Daily quests left: " + tgui.Preview(names, reminderPreview, ", ")
}

// WeeklyReminderText prefixes the urgency header to the incomplete weekly
// tasks, empty when there are none.
func WeeklyReminderText(header string, names []string) string {
	if len(names) == 0 {
		return ""
	}
	return "📆 " + header + "\nRemaining: " + strings.Join(names, ", ")
}

// Text renders c as plain text.
func (c Card) Text() string {
	var b strings.Builder
	if c.Title != "" {
		if c.Emoji != "" {
			b.WriteString(c.Emoji + " ")
		}
		b.WriteString(c.Title)
	}
	for _, ln := range c.Lines {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(ln)
	}
	return b.String()
}

func (a Action) Label() string {
	switch a {
	case ActionDone:
		return "✅ Done"
	case ActionSkip:
		return "❌ Skip"
	case ActionSnooze:
		return "⏰ Snooze"
	default:
		return string(a)
	}
}
