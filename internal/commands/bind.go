package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"questbot/internal/quest"
	"questbot/internal/storage"
	"questbot/internal/transport/telegram/router"
	logx "questbot/pkg/logx"
	"questbot/pkg/tgui"
)

func targetLabel(t quest.Target) string {
	if t.IsZero() {
		return "fallback chat"
	}
	if t.ThreadID != 0 {
		return fmt.Sprintf("%d/%d", t.ChatID, t.ThreadID)
	}
	return strconv.FormatInt(t.ChatID, 10)
}

// cmdBind routes a category's notifications to the chat and topic the
// command was sent from. A chat holds at most one category, so an earlier
// binding to the same place is cleared. Without a name it lists bindings.
func (s *Set) cmdBind(ctx context.Context, req *router.Request) error {
	name := strings.TrimSpace(strings.Join(req.Args, " "))
	if name == "" {
		return s.listBindings(ctx, req)
	}
	cat, err := s.store.CategoryByName(ctx, name)
	if errors.Is(err, storage.ErrNotFound) {
		return router.Userf("no category named %q", name)
	}
	if err != nil {
		return err
	}

	here := quest.Target{ChatID: req.Chat.ChatID, ThreadID: req.Chat.ThreadID}
	cats, err := s.store.ListCategories(ctx)
	if err != nil {
		return err
	}
	for _, c := range cats {
		if c.ID != cat.ID && c.Target == here {
			if err := s.store.SetCategoryTarget(ctx, c.ID, quest.Target{}); err != nil {
				return err
			}
			req.Logger.Info("category unbound", logx.String("category", c.Name))
		}
	}

	err = s.store.SetCategoryTarget(ctx, cat.ID, here)
	s.audit(ctx, req, "category.bind", cat.Name+"@"+targetLabel(here), err)
	if err != nil {
		return err
	}
	req.Logger.Info("category bound", logx.String("category", cat.Name), logx.Int64("chat_id", here.ChatID), logx.Int("thread_id", here.ThreadID))
	return req.Reply(ctx, "🔗 "+cat.Name+" now posts here.")
}

func (s *Set) listBindings(ctx context.Context, req *router.Request) error {
	cats, err := s.store.ListCategories(ctx)
	if err != nil {
		return err
	}
	b := tgui.New().Title("🔗", "Category bindings")
	if len(cats) == 0 {
		b.Line("No categories.")
	}
	for _, c := range cats {
		b.KV(kindEmoji(c)+" "+c.Name, targetLabel(c.Target))
	}
	b.Blank().HTML(tgui.Esc("Bind with ") + tgui.Code("/bind CATEGORY"))
	return req.ReplyMsg(ctx, b.Build())
}

// cmdAddTask adds a task to a category:
//
//	/addtask CATEGORY | NAME [| COOLDOWN_MIN [| OPEN_MIN]]
//
// Cooldown categories need a cooldown; instance categories need both. The
// new task's first ready observation is recorded without a notification.
func (s *Set) cmdAddTask(ctx context.Context, req *router.Request) error {
	parts := strings.Split(strings.Join(req.Args, " "), "|")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if len(parts) < 2 || len(parts) > 4 || parts[0] == "" || parts[1] == "" {
		return router.Userf("usage: /addtask CATEGORY | NAME [| COOLDOWN_MIN [| OPEN_MIN]]")
	}
	mins := make([]int, 2)
	for i, p := range parts[2:] {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return router.Userf("%q is not a whole number of minutes", p)
		}
		mins[i] = n
	}

	cat, err := s.store.CategoryByName(ctx, parts[0])
	if errors.Is(err, storage.ErrNotFound) {
		return router.Userf("no category named %q", parts[0])
	}
	if err != nil {
		return err
	}
	if _, err := s.store.FindTaskByName(ctx, parts[1]); err == nil {
		return router.Userf("a task named %q already exists", parts[1])
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	task := quest.Task{CategoryID: cat.ID, Name: parts[1], CooldownMinutes: mins[0], ActiveDurationMinutes: mins[1], Active: true}
	switch {
	case cat.Kind == quest.KindCooldown && task.CooldownMinutes == 0:
		return router.Userf("%s tasks need a cooldown", cat.Name)
	case cat.Kind == quest.KindInstance && (task.CooldownMinutes == 0 || task.ActiveDurationMinutes == 0):
		return router.Userf("%s tasks need a cooldown and an open duration", cat.Name)
	}

	id, err := s.store.AddTask(ctx, task)
	s.audit(ctx, req, "task.add", cat.Name+"/"+task.Name, err)
	if err != nil {
		return err
	}
	req.Logger.Info("task added", logx.Int64("task_id", id), logx.String("task", task.Name), logx.String("category", cat.Name))
	return req.Reply(ctx, fmt.Sprintf("➕ %s added to %s (#%d)", task.Name, cat.Name, id))
}
