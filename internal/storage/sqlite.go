package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"questbot/internal/gametime"
	"questbot/internal/quest"
	logx "questbot/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, pruneEvery: 500}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := st.ensureSettings(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) ensureSettings(ctx context.Context) error {
	for k, v := range DefaultSettings() {
		if _, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO settings(key, value) VALUES(?,?)`, k, v); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const categoryCols = `c.id, c.name, c.reset_type, c.chat_id, c.thread_id, c.is_active, c.pre_notify_minutes, c.show_resource_reminder`

const viewQuery = `SELECT t.id, t.category_id, t.name, t.description, t.cooldown_minutes, t.active_duration_minutes, t.is_active,
	` + categoryCols + `,
	COALESCE(st.is_completed, 0), st.last_completed_at, st.instance_entered_at, st.last_notified_at,
	COALESCE(st.notification_handle, ''), COALESCE(st.last_status, 'initialized'), COALESCE(st.pre_notified, 0)
	FROM tasks t
	JOIN categories c ON c.id = t.category_id
	LEFT JOIN task_status st ON st.task_id = t.id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCategory(r rowScanner) (quest.Category, error) {
	var c quest.Category
	var kind string
	err := r.Scan(&c.ID, &c.Name, &kind, &c.Target.ChatID, &c.Target.ThreadID, &c.Active, &c.PreNotifyMinutes, &c.ShowResourceReminder)
	c.Kind = quest.Kind(kind)
	return c, err
}

func scanView(r rowScanner) (quest.View, error) {
	var (
		v    quest.View
		kind string
		last string
	)
	err := r.Scan(
		&v.Task.ID, &v.Task.CategoryID, &v.Task.Name, &v.Task.Description, &v.Task.CooldownMinutes, &v.Task.ActiveDurationMinutes, &v.Task.Active,
		&v.Category.ID, &v.Category.Name, &kind, &v.Category.Target.ChatID, &v.Category.Target.ThreadID, &v.Category.Active, &v.Category.PreNotifyMinutes, &v.Category.ShowResourceReminder,
		&v.Record.IsCompleted, &v.Record.LastCompletedAt, &v.Record.InstanceEnteredAt, &v.Record.LastNotifiedAt,
		&v.Record.NotificationHandle, &last, &v.Record.PreNotified,
	)
	v.Category.Kind = quest.Kind(kind)
	v.Record.TaskID = v.Task.ID
	v.Record.LastStatus = quest.LastStatus(last)
	return v, err
}

func (s *sqliteStore) queryViews(ctx context.Context, where string, args ...any) ([]quest.View, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, viewQuery+" "+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []quest.View
	for rows.Next() {
		v, err := scanView(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *sqliteStore) queryView(ctx context.Context, where string, args ...any) (quest.View, error) {
	vs, err := s.queryViews(ctx, where+" LIMIT 1", args...)
	if err != nil {
		return quest.View{}, err
	}
	if len(vs) == 0 {
		return quest.View{}, ErrNotFound
	}
	return vs[0], nil
}

func (s *sqliteStore) ListCategories(ctx context.Context) ([]quest.Category, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+categoryCols+` FROM categories c ORDER BY c.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []quest.Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *sqliteStore) categoryWhere(ctx context.Context, where string, args ...any) (quest.Category, error) {
	if s == nil || s.db == nil {
		return quest.Category{}, ErrDisabled
	}
	c, err := scanCategory(s.db.QueryRowContext(ctx, `SELECT `+categoryCols+` FROM categories c WHERE `+where+` LIMIT 1`, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return quest.Category{}, ErrNotFound
	}
	return c, err
}

func (s *sqliteStore) CategoryByTarget(ctx context.Context, t quest.Target) (quest.Category, error) {
	if t.IsZero() {
		return quest.Category{}, ErrNotFound
	}
	return s.categoryWhere(ctx, `c.is_active = 1 AND c.chat_id = ? AND c.thread_id = ?`, t.ChatID, t.ThreadID)
}

func (s *sqliteStore) CategoryByName(ctx context.Context, name string) (quest.Category, error) {
	return s.categoryWhere(ctx, `LOWER(c.name) = LOWER(?)`, strings.TrimSpace(name))
}

func (s *sqliteStore) SetCategoryTarget(ctx context.Context, categoryID int64, t quest.Target) error {
	return s.exec(ctx, `UPDATE categories SET chat_id = ?, thread_id = ? WHERE id = ?`, t.ChatID, t.ThreadID, categoryID)
}

func (s *sqliteStore) ListTasksWithStatus(ctx context.Context) ([]quest.View, error) {
	return s.queryViews(ctx, `WHERE t.is_active = 1 AND c.is_active = 1 ORDER BY c.id, t.id`)
}

func (s *sqliteStore) GetTask(ctx context.Context, id int64) (quest.View, error) {
	return s.queryView(ctx, `WHERE t.id = ?`, id)
}

func (s *sqliteStore) FindTaskByName(ctx context.Context, name string) (quest.View, error) {
	return s.queryView(ctx, `WHERE t.is_active = 1 AND LOWER(t.name) = LOWER(?)`, strings.TrimSpace(name))
}

func (s *sqliteStore) FindByDeliveryHandle(ctx context.Context, handle string) (quest.View, error) {
	if strings.TrimSpace(handle) == "" {
		return quest.View{}, ErrNotFound
	}
	return s.queryView(ctx, `WHERE st.notification_handle = ? OR st.notification_handle LIKE ?`, handle, handle+"|%")
}

func (s *sqliteStore) AddTask(ctx context.Context, t quest.Task) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()
	id, err := insertTask(ctx, tx, t, quest.StatusInitialized)
	if err != nil {
		return 0, err
	}
	return id, tx.Commit()
}

func insertTask(ctx context.Context, tx *sql.Tx, t quest.Task, initial quest.LastStatus) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO tasks(category_id, name, description, cooldown_minutes, active_duration_minutes, is_active) VALUES(?,?,?,?,?,?)`,
		t.CategoryID, t.Name, t.Description, t.CooldownMinutes, t.ActiveDurationMinutes, t.Active,
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO task_status(task_id, last_status) VALUES(?,?)`, id, string(initial))
	return id, err
}

// exec runs a single-row mutation and maps "no rows" to ErrNotFound.
func (s *sqliteStore) exec(ctx context.Context, q string, args ...any) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) MarkCompleted(ctx context.Context, taskID int64, at gametime.Timestamp) error {
	return s.exec(ctx,
		`UPDATE task_status SET is_completed = 1, last_completed_at = ?, last_status = ?, pre_notified = 0 WHERE task_id = ?`,
		gametime.Valid(at), string(quest.StatusCompleted), taskID)
}

func (s *sqliteStore) MarkInstanceEntered(ctx context.Context, taskID int64, at gametime.Timestamp) error {
	v := gametime.Valid(at)
	return s.exec(ctx,
		`UPDATE task_status SET instance_entered_at = ?, last_completed_at = ?, last_status = ?, pre_notified = 0 WHERE task_id = ?`,
		v, v, string(quest.StatusEntered), taskID)
}

func (s *sqliteStore) MarkPreNotified(ctx context.Context, taskID int64) error {
	return s.exec(ctx, `UPDATE task_status SET pre_notified = 1 WHERE task_id = ?`, taskID)
}

func (s *sqliteStore) MarkLastStatus(ctx context.Context, taskID int64, st quest.LastStatus) error {
	return s.exec(ctx, `UPDATE task_status SET last_status = ? WHERE task_id = ?`, string(st), taskID)
}

func (s *sqliteStore) MarkNotified(ctx context.Context, taskID int64, handle string, at gametime.Timestamp) error {
	return s.exec(ctx,
		`UPDATE task_status SET notification_handle = ?, last_notified_at = ?, last_status = ? WHERE task_id = ?`,
		nullStr(handle), gametime.Valid(at), string(quest.StatusNotified), taskID)
}

func (s *sqliteStore) ResetPolicyTasks(ctx context.Context, kind quest.Kind) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE task_status SET is_completed = 0, last_status = ?, pre_notified = 0
		 WHERE task_id IN (
			SELECT t.id FROM tasks t JOIN categories c ON c.id = t.category_id
			WHERE t.is_active = 1 AND c.is_active = 1 AND c.reset_type = ?)`,
		string(quest.StatusReset), string(kind))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *sqliteStore) Settings(ctx context.Context) (map[string]string, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := DefaultSettings()
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (s *sqliteStore) SetSetting(ctx context.Context, key, value string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings(key, value) VALUES(?,?) ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, value)
	return err
}

func (s *sqliteStore) Seed(ctx context.Context, c Catalog) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrDisabled
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM categories`).Scan(&n); err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}
	initial := c.InitialStatus
	if initial == "" {
		initial = quest.StatusInitialized
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()
	for _, cc := range c.Categories {
		cat := cc.Category
		res, err := tx.ExecContext(ctx,
			`INSERT INTO categories(name, reset_type, chat_id, thread_id, is_active, pre_notify_minutes, show_resource_reminder) VALUES(?,?,?,?,?,?,?)`,
			cat.Name, string(cat.Kind), cat.Target.ChatID, cat.Target.ThreadID, cat.Active, cat.PreNotifyMinutes, cat.ShowResourceReminder)
		if err != nil {
			return false, fmt.Errorf("seed category %q: %w", cat.Name, err)
		}
		catID, err := res.LastInsertId()
		if err != nil {
			return false, err
		}
		for _, t := range cc.Tasks {
			t.CategoryID = catID
			if _, err := insertTask(ctx, tx, t, initial); err != nil {
				return false, fmt.Errorf("seed task %q: %w", t.Name, err)
			}
		}
	}
	return true, tx.Commit()
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor_id, actor_username, chat_id, thread_id, action, target, err)
		 VALUES(?,?,?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), e.ActorID, nullStr(e.ActorUsername), e.ChatID, e.ThreadID,
		e.Action, e.Target, nullStr(e.Error),
	)
	return err
}

func (s *sqliteStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if key == "" {
		return nil
	}
	ms := until.UnixMilli()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup(key, until) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET until=excluded.until`,
		key, ms,
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		_ = s.pruneExpired(pctx)
		cancel()
	}
	return err
}

func (s *sqliteStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if s == nil || s.db == nil {
		return time.Time{}, false, ErrDisabled
	}
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT until FROM dedup WHERE key = ?`, key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (s *sqliteStore) pruneExpired(ctx context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx, `DELETE FROM dedup WHERE until < ?`, now)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
