package commands

import (
	"context"
	"errors"
	"fmt"

	"questbot/internal/quest"
	"questbot/internal/storage"
	"questbot/internal/transport/telegram/router"
	"questbot/pkg/tgui"
)

func kindEmoji(c quest.Category) string {
	if c.Emoji != "" {
		return c.Emoji
	}
	switch c.Kind {
	case quest.KindDaily:
		return "📅"
	case quest.KindWeekly:
		return "🗓️"
	case quest.KindCooldown:
		return "⏱️"
	case quest.KindInstance:
		return "🏰"
	default:
		return "📌"
	}
}

func taskLine(it quest.Evaluated) string {
	line := it.Status.State.Emoji() + " " + it.Task.Name
	if it.Status.Message != "" {
		line += " - " + it.Status.Message
	}
	return line
}

// groupByCategory keeps the store order of categories and tasks.
func groupByCategory(items []quest.Evaluated) ([]quest.Category, map[int64][]quest.Evaluated) {
	var cats []quest.Category
	by := map[int64][]quest.Evaluated{}
	for _, it := range items {
		if _, ok := by[it.Category.ID]; !ok {
			cats = append(cats, it.Category)
		}
		by[it.Category.ID] = append(by[it.Category.ID], it)
	}
	return cats, by
}

func (s *Set) cmdStatus(ctx context.Context, req *router.Request) error {
	o, err := s.tr.Overview(ctx)
	if err != nil {
		return err
	}
	b := tgui.New().Title("📊", "Quest Status")
	b.Line(fmt.Sprintf("🕐 %s · %d ready", o.Now.Format("Mon 02/01 15:04"), o.Ready()))
	if !o.Settings.Active {
		b.Line("⏸️ Notifications paused")
	}
	cats, by := groupByCategory(o.Items)
	if len(cats) == 0 {
		b.Blank().Line("No tasks tracked.")
	}
	for _, c := range cats {
		b.Blank().HTML(tgui.Esc(kindEmoji(c)+" ") + tgui.B(c.Name))
		for _, it := range by[c.ID] {
			b.Line(taskLine(it))
		}
	}
	return req.ReplyMsg(ctx, b.Build())
}

// cmdCheck lists ready tasks. In a chat mapped to a category only that
// category is shown.
func (s *Set) cmdCheck(ctx context.Context, req *router.Request) error {
	var (
		catID int64
		title = "Ready now"
	)
	c, err := s.store.CategoryByTarget(ctx, quest.Target{ChatID: req.Chat.ChatID, ThreadID: req.Chat.ThreadID})
	switch {
	case err == nil:
		catID, title = c.ID, "Ready in "+c.Name
	case !errors.Is(err, storage.ErrNotFound):
		return err
	}
	items, err := s.tr.ReadyTasks(ctx, catID)
	if err != nil {
		return err
	}
	b := tgui.New().Title("🔍", title)
	if len(items) == 0 {
		b.Line("✨ Nothing to do right now.")
		return req.ReplyMsg(ctx, b.Build())
	}
	for _, it := range items {
		b.Line(taskLine(it))
	}
	return req.ReplyMsg(ctx, b.Build())
}

func (s *Set) kindReport(ctx context.Context, kind quest.Kind) (*tgui.Builder, []quest.Evaluated, error) {
	o, err := s.tr.Overview(ctx)
	if err != nil {
		return nil, nil, err
	}
	items := o.ByKind(kind)
	done := 0
	for _, it := range items {
		if !it.Status.State.Ready() {
			done++
		}
	}
	b := tgui.New().Title(kindEmoji(quest.Category{Kind: kind}), fmt.Sprintf("%s quests (%d/%d done)", kind.Label(), done, len(items)))
	return b, items, nil
}

func (s *Set) cmdDaily(ctx context.Context, req *router.Request) error {
	b, items, err := s.kindReport(ctx, quest.KindDaily)
	if err != nil {
		return err
	}
	rules := s.tr.Rules()
	now := s.tr.Clock().Now()
	b.Line("🔄 Reset in " + quest.FormatRemaining(rules.NextDailyReset(now), now)).Blank()
	for _, it := range items {
		b.Line(taskLine(it))
	}
	return req.ReplyMsg(ctx, b.Build())
}

func (s *Set) cmdWeekly(ctx context.Context, req *router.Request) error {
	b, items, err := s.kindReport(ctx, quest.KindWeekly)
	if err != nil {
		return err
	}
	rules := s.tr.Rules()
	now := s.tr.Clock().Now()
	if u, header := quest.WeeklyUrgency(rules, now); u != quest.UrgencyNone {
		b.Line(header)
	}
	b.Line("🔄 Reset in " + quest.FormatRemaining(rules.NextWeeklyReset(now), now)).Blank()
	for _, it := range items {
		b.Line(taskLine(it))
	}
	return req.ReplyMsg(ctx, b.Build())
}

func (s *Set) cmdInstances(ctx context.Context, req *router.Request) error {
	o, err := s.tr.Overview(ctx)
	if err != nil {
		return err
	}
	items := o.ByKind(quest.KindInstance)
	b := tgui.New().Title("🏰", "Instances")
	if len(items) == 0 {
		b.Line("No instances tracked.")
	}
	for _, it := range items {
		b.Line(taskLine(it))
		b.Line(fmt.Sprintf("   ⏱️ cooldown %s · open %s",
			quest.FormatDuration(it.Task.CooldownMinutes),
			quest.FormatDuration(it.Task.ActiveDurationMinutes)))
	}
	return req.ReplyMsg(ctx, b.Build())
}
