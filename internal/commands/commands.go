// Package commands binds the quest tracker to chat commands and to the
// buttons on ready notifications.
package commands

import (
	"context"
	"time"

	"questbot/internal/notifier"
	"questbot/internal/storage"
	"questbot/internal/task/scheduler"
	"questbot/internal/tracker"
	"questbot/internal/transport/telegram/router"
	logx "questbot/pkg/logx"
)

// SchedulerSnapshotter is the read side of the scheduler shown by /health.
type SchedulerSnapshotter interface {
	Snapshot() scheduler.Snapshot
}

// Set holds the dependencies shared by every handler.
type Set struct {
	tr        *tracker.Tracker
	store     storage.Store
	sups      *router.SupervisorRegistry
	sched     SchedulerSnapshotter
	log       logx.Logger
	startedAt time.Time
}

func New(tr *tracker.Tracker, store storage.Store, sups *router.SupervisorRegistry, sched SchedulerSnapshotter, log logx.Logger) *Set {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Set{tr: tr, store: store, sups: sups, sched: sched, log: log, startedAt: time.Now()}
}

const (
	queryTimeout    = 15 * time.Second
	mutationTimeout = 20 * time.Second
)

// Commands is the chat command table.
func (s *Set) Commands() []router.Command {
	return []router.Command{
		{Route: "status", Description: "all tasks by category", Usage: "/status", Timeout: queryTimeout, Handle: s.cmdStatus},
		{Route: "check", Description: "tasks ready now", Usage: "/check", Timeout: queryTimeout, Handle: s.cmdCheck},
		{Route: "daily", Description: "daily quests", Usage: "/daily", Timeout: queryTimeout, Handle: s.cmdDaily},
		{Route: "weekly", Description: "weekly quests and reset countdown", Usage: "/weekly", Timeout: queryTimeout, Handle: s.cmdWeekly},
		{Route: "instances", Description: "instance entry windows", Usage: "/instances", Timeout: queryTimeout, Handle: s.cmdInstances},
		{Route: "done", Description: "mark a task completed", Usage: "/done NAME", Access: router.AccessOwnerOnly, Timeout: mutationTimeout, Handle: s.cmdDone},
		{Route: "pause", Aliases: []string{"stop"}, Description: "pause notifications", Usage: "/pause", Access: router.AccessOwnerOnly, Timeout: mutationTimeout, Handle: s.cmdPause},
		{Route: "resume", Aliases: []string{"start"}, Description: "resume notifications", Usage: "/resume", Access: router.AccessOwnerOnly, Timeout: mutationTimeout, Handle: s.cmdResume},
		{Route: "settings", Description: "show runtime settings", Usage: "/settings", Timeout: queryTimeout, Handle: s.cmdSettings},
		{Route: "settings set", Description: "change a runtime setting", Usage: "/settings set KEY VALUE", Access: router.AccessOwnerOnly, Timeout: mutationTimeout, Handle: s.cmdSettingsSet},
		{Route: "bind", Description: "post a category's notifications in this chat", Usage: "/bind [CATEGORY]", Access: router.AccessOwnerOnly, Timeout: mutationTimeout, Handle: s.cmdBind},
		{Route: "addtask", Description: "add a task to a category", Usage: "/addtask CATEGORY | NAME [| COOLDOWN_MIN [| OPEN_MIN]]", Access: router.AccessOwnerOnly, Timeout: mutationTimeout, Handle: s.cmdAddTask},
		{Route: "health", Description: "bot runtime health", Usage: "/health", Access: router.AccessOwnerOnly, Timeout: queryTimeout, Handle: s.cmdHealth},
	}
}

// Callbacks handles the done/skip/snooze buttons of ready cards.
func (s *Set) Callbacks() []router.CallbackRoute {
	route := func(a notifier.Action, h router.CallbackHandlerFunc) router.CallbackRoute {
		return router.CallbackRoute{Scope: notifier.CallbackScope, Action: string(a), Access: router.AccessOwnerOnly, Timeout: mutationTimeout, Handle: h}
	}
	return []router.CallbackRoute{
		route(notifier.ActionDone, s.cbDone),
		route(notifier.ActionSkip, s.cbSkip),
		route(notifier.ActionSnooze, s.cbSnooze),
	}
}

// audit records an operator action. Failures are logged only.
func (s *Set) audit(ctx context.Context, req *router.Request, action, target string, err error) {
	e := storage.AuditEntry{
		At:            time.Now().UTC(),
		ActorID:       req.FromID,
		ActorUsername: req.FromUsername,
		ChatID:        req.Chat.ChatID,
		ThreadID:      req.Chat.ThreadID,
		Action:        action,
		Target:        target,
	}
	if err != nil {
		e.Error = err.Error()
	}
	if aerr := s.store.AppendAudit(context.WithoutCancel(ctx), e); aerr != nil {
		req.Logger.Warn("audit write failed", logx.String("action", action), logx.Err(aerr))
	}
}
