package storage

import (
	"context"
	"errors"
	"time"

	"questbot/internal/gametime"
	"questbot/internal/quest"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("storage: not found")
)

// Config configures storage.
//
// Driver values:
//   - "file": JSON state snapshot + audit JSON Lines next to Path
//   - "memory": file driver without persistence
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	Seed        bool          // insert the default catalogue into an empty store
}

// Setting keys.
const (
	SettingNotificationCooldown = "notification_cooldown_minutes"
	SettingBotActive            = "bot_active"
	SettingAutoRefresh          = "auto_refresh_minutes"
)

func DefaultSettings() map[string]string {
	return map[string]string{
		SettingNotificationCooldown: "120",
		SettingBotActive:            "true",
		SettingAutoRefresh:          "60",
	}
}

// AuditEntry records an operator action.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At            time.Time
	ActorID       int64
	ActorUsername string
	ChatID        int64
	ThreadID      int
	Action        string
	Target        string
	Error         string
}

// Store is the persistence API used by the tracker, notifier and commands.
//
// Timestamps are game time; the store never consults a clock for them.
type Store interface {
	ListCategories(ctx context.Context) ([]quest.Category, error)
	CategoryByTarget(ctx context.Context, t quest.Target) (quest.Category, error)
	CategoryByName(ctx context.Context, name string) (quest.Category, error)
	SetCategoryTarget(ctx context.Context, categoryID int64, t quest.Target) error

	// ListTasksWithStatus returns active tasks of active categories.
	ListTasksWithStatus(ctx context.Context) ([]quest.View, error)
	GetTask(ctx context.Context, id int64) (quest.View, error)
	FindTaskByName(ctx context.Context, name string) (quest.View, error)
	// FindByDeliveryHandle also matches the first part of a composite
	// "primary|mirror" handle.
	FindByDeliveryHandle(ctx context.Context, handle string) (quest.View, error)
	AddTask(ctx context.Context, t quest.Task) (int64, error)

	MarkCompleted(ctx context.Context, taskID int64, at gametime.Timestamp) error
	MarkInstanceEntered(ctx context.Context, taskID int64, at gametime.Timestamp) error
	MarkPreNotified(ctx context.Context, taskID int64) error
	MarkLastStatus(ctx context.Context, taskID int64, s quest.LastStatus) error
	MarkNotified(ctx context.Context, taskID int64, handle string, at gametime.Timestamp) error
	// ResetPolicyTasks clears completion for every active task of kind and
	// returns how many were reset.
	ResetPolicyTasks(ctx context.Context, kind quest.Kind) (int, error)

	Settings(ctx context.Context) (map[string]string, error)
	SetSetting(ctx context.Context, key, value string) error

	// Seed inserts c when the store holds no categories.
	Seed(ctx context.Context, c Catalog) (bool, error)

	AppendAudit(ctx context.Context, e AuditEntry) error
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)
	Close() error
}
