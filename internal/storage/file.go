package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"questbot/internal/gametime"
	"questbot/internal/quest"
	logx "questbot/pkg/logx"
)

// fileStore keeps everything in memory and persists it next to Path.
//
// Files:
//   - <prefix>.state.json          (catalogue, status and settings; rewritten atomically)
//   - <prefix>.audit.jsonl         (append-only JSON Lines)
//   - <prefix>.dedup.snapshot.json (periodic snapshot)
//   - <prefix>.dedup.journal.jsonl (append-only journal)
//
// With an empty prefix (memory driver) nothing touches the disk.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	statePath string
	state     fileState

	auditFile *os.File

	dedupSnapshotPath string
	dedupJournalFile  *os.File
	dedup             map[string]int64 // unix milli

	dedupWrites int
}

type fileState struct {
	NextCategoryID int64                `json:"next_category_id"`
	NextTaskID     int64                `json:"next_task_id"`
	Categories     []quest.Category     `json:"categories"`
	Tasks          []quest.Task         `json:"tasks"`
	Status         map[int64]fileRecord `json:"status"`
	Settings       map[string]string    `json:"settings"`
}

type fileRecord struct {
	IsCompleted        bool   `json:"is_completed"`
	LastCompletedAt    string `json:"last_completed_at,omitempty"`
	InstanceEnteredAt  string `json:"instance_entered_at,omitempty"`
	LastNotifiedAt     string `json:"last_notified_at,omitempty"`
	NotificationHandle string `json:"notification_handle,omitempty"`
	LastStatus         string `json:"last_status"`
	PreNotified        bool   `json:"pre_notified"`
}

type dedupRecord struct {
	Key   string `json:"key"`
	Until int64  `json:"until"`
}

func newFileState() fileState {
	return fileState{Status: map[int64]fileRecord{}, Settings: DefaultSettings()}
}

func openMemory(log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &fileStore{log: log, state: newFileState(), dedup: map[string]int64{}}, nil
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	statePath := prefix + ".state.json"
	auditPath := prefix + ".audit.jsonl"
	snapPath := prefix + ".dedup.snapshot.json"
	journalPath := prefix + ".dedup.journal.jsonl"

	state := newFileState()
	if err := loadState(statePath, &state); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	af, err := os.OpenFile(auditPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	// Load dedup from snapshot + journal.
	dedup := map[string]int64{}
	_ = loadDedupSnapshot(snapPath, dedup)
	_ = replayDedupJournal(journalPath, dedup)
	pruneExpiredDedup(dedup)

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = af.Close()
		return nil, err
	}

	return &fileStore{
		log:               log,
		statePath:         statePath,
		state:             state,
		auditFile:         af,
		dedupSnapshotPath: snapPath,
		dedupJournalFile:  jf,
		dedup:             dedup,
	}, nil
}

func loadState(path string, out *fileState) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, out); err != nil {
		return err
	}
	if out.Status == nil {
		out.Status = map[int64]fileRecord{}
	}
	if out.Settings == nil {
		out.Settings = map[string]string{}
	}
	for k, v := range DefaultSettings() {
		if _, ok := out.Settings[k]; !ok {
			out.Settings[k] = v
		}
	}
	return nil
}

// saveLocked rewrites the state file via a temp file and rename.
func (s *fileStore) saveLocked() error {
	if s.statePath == "" {
		return nil
	}
	b, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.statePath + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.statePath)
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.auditFile != nil {
		err1 = s.auditFile.Close()
		s.auditFile = nil
	}
	if s.dedupJournalFile != nil {
		err2 = s.dedupJournalFile.Close()
		s.dedupJournalFile = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (r fileRecord) record(taskID int64) quest.Record {
	out := quest.Record{
		TaskID:             taskID,
		IsCompleted:        r.IsCompleted,
		NotificationHandle: r.NotificationHandle,
		LastStatus:         quest.LastStatus(r.LastStatus),
		PreNotified:        r.PreNotified,
	}
	_ = out.LastCompletedAt.Scan(nilIfEmpty(r.LastCompletedAt))
	_ = out.InstanceEnteredAt.Scan(nilIfEmpty(r.InstanceEnteredAt))
	_ = out.LastNotifiedAt.Scan(nilIfEmpty(r.LastNotifiedAt))
	if out.LastStatus == "" {
		out.LastStatus = quest.StatusInitialized
	}
	return out
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (s *fileStore) categoryLocked(id int64) (quest.Category, bool) {
	for _, c := range s.state.Categories {
		if c.ID == id {
			return c, true
		}
	}
	return quest.Category{}, false
}

func (s *fileStore) viewLocked(t quest.Task) quest.View {
	c, _ := s.categoryLocked(t.CategoryID)
	return quest.View{Task: t, Category: c, Record: s.state.Status[t.ID].record(t.ID)}
}

func (s *fileStore) findViewLocked(match func(quest.View) bool) (quest.View, error) {
	for _, t := range s.state.Tasks {
		v := s.viewLocked(t)
		if match(v) {
			return v, nil
		}
	}
	return quest.View{}, ErrNotFound
}

func (s *fileStore) ListCategories(ctx context.Context) ([]quest.Category, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]quest.Category(nil), s.state.Categories...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fileStore) CategoryByTarget(ctx context.Context, t quest.Target) (quest.Category, error) {
	_ = ctx
	if t.IsZero() {
		return quest.Category{}, ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.state.Categories {
		if c.Active && c.Target == t {
			return c, nil
		}
	}
	return quest.Category{}, ErrNotFound
}

func (s *fileStore) CategoryByName(ctx context.Context, name string) (quest.Category, error) {
	_ = ctx
	name = strings.TrimSpace(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.state.Categories {
		if strings.EqualFold(c.Name, name) {
			return c, nil
		}
	}
	return quest.Category{}, ErrNotFound
}

func (s *fileStore) SetCategoryTarget(ctx context.Context, categoryID int64, t quest.Target) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.state.Categories {
		if s.state.Categories[i].ID == categoryID {
			s.state.Categories[i].Target = t
			return s.saveLocked()
		}
	}
	return ErrNotFound
}

func (s *fileStore) ListTasksWithStatus(ctx context.Context) ([]quest.View, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []quest.View
	for _, t := range s.state.Tasks {
		if !t.Active {
			continue
		}
		v := s.viewLocked(t)
		if !v.Category.Active {
			continue
		}
		out = append(out, v)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Category.ID != out[j].Category.ID {
			return out[i].Category.ID < out[j].Category.ID
		}
		return out[i].Task.ID < out[j].Task.ID
	})
	return out, nil
}

func (s *fileStore) GetTask(ctx context.Context, id int64) (quest.View, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findViewLocked(func(v quest.View) bool { return v.Task.ID == id })
}

func (s *fileStore) FindTaskByName(ctx context.Context, name string) (quest.View, error) {
	_ = ctx
	name = strings.TrimSpace(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findViewLocked(func(v quest.View) bool { return v.Task.Active && strings.EqualFold(v.Task.Name, name) })
}

func (s *fileStore) FindByDeliveryHandle(ctx context.Context, handle string) (quest.View, error) {
	_ = ctx
	if strings.TrimSpace(handle) == "" {
		return quest.View{}, ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findViewLocked(func(v quest.View) bool {
		h := v.Record.NotificationHandle
		return h == handle || strings.HasPrefix(h, handle+"|")
	})
}

func (s *fileStore) AddTask(ctx context.Context, t quest.Task) (int64, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.categoryLocked(t.CategoryID); !ok {
		return 0, ErrNotFound
	}
	id := s.addTaskLocked(t, quest.StatusInitialized)
	return id, s.saveLocked()
}

func (s *fileStore) addTaskLocked(t quest.Task, initial quest.LastStatus) int64 {
	s.state.NextTaskID++
	t.ID = s.state.NextTaskID
	s.state.Tasks = append(s.state.Tasks, t)
	s.state.Status[t.ID] = fileRecord{LastStatus: string(initial)}
	return t.ID
}

// mutate applies fn to one status record and persists the result.
func (s *fileStore) mutate(taskID int64, fn func(r *fileRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.state.Status[taskID]
	if !ok {
		return ErrNotFound
	}
	fn(&r)
	s.state.Status[taskID] = r
	return s.saveLocked()
}

func (s *fileStore) MarkCompleted(ctx context.Context, taskID int64, at gametime.Timestamp) error {
	_ = ctx
	return s.mutate(taskID, func(r *fileRecord) {
		r.IsCompleted = true
		r.LastCompletedAt = at.String()
		r.LastStatus = string(quest.StatusCompleted)
		r.PreNotified = false
	})
}

func (s *fileStore) MarkInstanceEntered(ctx context.Context, taskID int64, at gametime.Timestamp) error {
	_ = ctx
	return s.mutate(taskID, func(r *fileRecord) {
		r.InstanceEnteredAt = at.String()
		r.LastCompletedAt = at.String()
		r.LastStatus = string(quest.StatusEntered)
		r.PreNotified = false
	})
}

func (s *fileStore) MarkPreNotified(ctx context.Context, taskID int64) error {
	_ = ctx
	return s.mutate(taskID, func(r *fileRecord) { r.PreNotified = true })
}

func (s *fileStore) MarkLastStatus(ctx context.Context, taskID int64, st quest.LastStatus) error {
	_ = ctx
	return s.mutate(taskID, func(r *fileRecord) { r.LastStatus = string(st) })
}

func (s *fileStore) MarkNotified(ctx context.Context, taskID int64, handle string, at gametime.Timestamp) error {
	_ = ctx
	return s.mutate(taskID, func(r *fileRecord) {
		r.NotificationHandle = handle
		r.LastNotifiedAt = at.String()
		r.LastStatus = string(quest.StatusNotified)
	})
}

func (s *fileStore) ResetPolicyTasks(ctx context.Context, kind quest.Kind) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.state.Tasks {
		c, ok := s.categoryLocked(t.CategoryID)
		if !ok || !t.Active || !c.Active || c.Kind != kind {
			continue
		}
		r, ok := s.state.Status[t.ID]
		if !ok {
			continue
		}
		r.IsCompleted = false
		r.LastStatus = string(quest.StatusReset)
		r.PreNotified = false
		s.state.Status[t.ID] = r
		n++
	}
	if n == 0 {
		return 0, nil
	}
	return n, s.saveLocked()
}

func (s *fileStore) Settings(ctx context.Context) (map[string]string, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := DefaultSettings()
	for k, v := range s.state.Settings {
		out[k] = v
	}
	return out, nil
}

func (s *fileStore) SetSetting(ctx context.Context, key, value string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Settings[key] = value
	return s.saveLocked()
}

func (s *fileStore) Seed(ctx context.Context, c Catalog) (bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.state.Categories) > 0 {
		return false, nil
	}
	initial := c.InitialStatus
	if initial == "" {
		initial = quest.StatusInitialized
	}
	for _, cc := range c.Categories {
		cat := cc.Category
		s.state.NextCategoryID++
		cat.ID = s.state.NextCategoryID
		s.state.Categories = append(s.state.Categories, cat)
		for _, t := range cc.Tasks {
			t.CategoryID = cat.ID
			s.addTaskLocked(t, initial)
		}
	}
	return true, s.saveLocked()
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statePath == "" {
		return nil
	}
	if s.auditFile == nil {
		return errors.New("audit file closed")
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

func (s *fileStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	_ = ctx
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	ms := until.UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dedup == nil {
		s.dedup = map[string]int64{}
	}
	s.dedup[key] = ms
	if s.statePath == "" {
		return nil
	}
	if s.dedupJournalFile == nil {
		return errors.New("dedup journal closed")
	}

	if err := json.NewEncoder(s.dedupJournalFile).Encode(dedupRecord{Key: key, Until: ms}); err != nil {
		return err
	}
	s.dedupWrites++
	if s.dedupWrites%1000 == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("dedup compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	_ = ctx
	key = strings.TrimSpace(key)
	if key == "" {
		return time.Time{}, false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.dedup[key]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func (s *fileStore) compactLocked() error {
	if s.dedup == nil {
		return nil
	}
	pruneExpiredDedup(s.dedup)

	tmp := s.dedupSnapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.dedup); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.dedupSnapshotPath); err != nil {
		return err
	}
	if err := s.dedupJournalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.dedupJournalFile.Seek(0, 2)
	return err
}

func loadDedupSnapshot(path string, out map[string]int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]int64
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replayDedupJournal(path string, out map[string]int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for s.Scan() {
		var r dedupRecord
		if err := json.Unmarshal(s.Bytes(), &r); err != nil {
			continue
		}
		if r.Key == "" {
			continue
		}
		out[r.Key] = r.Until
	}
	return s.Err()
}

func pruneExpiredDedup(m map[string]int64) {
	now := time.Now().UnixMilli()
	for k, v := range m {
		if v < now {
			delete(m, k)
		}
	}
}
