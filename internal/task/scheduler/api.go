package scheduler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"questbot/internal/eventbus"
	"questbot/internal/task/engine"
	logx "questbot/pkg/logx"
)

// AddSchedule parses schedule and registers either a cron or interval task.
// Scheduled jobs skip a trigger while the previous run is still queued or
// running.
//
// Supported forms:
//   - Cron: "*/5 * * * *", "0 4 * * 1", "@hourly", "@every 1m"
//   - Interval duration: "1m", "2h30m"
//   - Interval HH:MM: "00:50" (50 minutes)
func (s *Service) AddSchedule(name, schedule string, timeout time.Duration, job Job) (string, error) {
	return s.AddScheduleOpt(name, schedule, timeout, TaskOptions{Overlap: OverlapSkipIfRunning}, job)
}

func (s *Service) AddScheduleOpt(name, schedule string, timeout time.Duration, opt TaskOptions, job Job) (string, error) {
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return "", err
	}
	switch ps.Kind {
	case SpecCron:
		return s.AddCronOpt(name, ps.Cron, timeout, opt, job)
	case SpecInterval:
		return s.AddIntervalOpt(name, ps.Every, timeout, opt, job)
	default:
		return "", errors.New("unsupported schedule kind")
	}
}

func (s *Service) AddCron(name, spec string, timeout time.Duration, job Job) (string, error) {
	return s.AddCronOpt(name, spec, timeout, TaskOptions{Overlap: OverlapSkipIfRunning}, job)
}

func (s *Service) AddCronOpt(name, spec string, timeout time.Duration, opt TaskOptions, job Job) (string, error) {
	if _, err := s.parser.Parse(spec); err != nil {
		return "", fmt.Errorf("cron %q: %w", spec, err)
	}
	return s.register("cron", name, spec, timeout, opt, job)
}

func (s *Service) AddInterval(name string, every, timeout time.Duration, job Job) (string, error) {
	return s.AddIntervalOpt(name, every, timeout, TaskOptions{Overlap: OverlapSkipIfRunning}, job)
}

func (s *Service) AddIntervalOpt(name string, every, timeout time.Duration, opt TaskOptions, job Job) (string, error) {
	if every <= 0 {
		return "", errNonPositive
	}
	return s.register("interval", name, "@every "+every.String(), timeout, opt, job)
}

// AddDaily fires every day at HH:MM in the scheduler timezone.
func (s *Service) AddDaily(name, atHHMM string, timeout time.Duration, job Job) (string, error) {
	h, m, err := parseHHMM(atHHMM)
	if err != nil {
		return "", err
	}
	return s.AddCron(name, fmt.Sprintf("%d %d * * *", m, h), timeout, job)
}

// AddWeekly fires on each listed weekday at HH:MM in the scheduler timezone.
func (s *Service) AddWeekly(name string, atHHMM string, timeout time.Duration, job Job, days ...time.Weekday) (string, error) {
	if len(days) == 0 {
		return "", errors.New("at least one weekday required")
	}
	h, m, err := parseHHMM(atHHMM)
	if err != nil {
		return "", err
	}
	dows := make([]string, 0, len(days))
	for _, d := range days {
		dows = append(dows, strconv.Itoa(int(d)))
	}
	return s.AddCron(name, fmt.Sprintf("%d %d * * %s", m, h, strings.Join(dows, ",")), timeout, job)
}

// register upserts by name so hot reloads and repeated registrations never
// duplicate a schedule.
func (s *Service) register(kind, name, spec string, timeout time.Duration, opt TaskOptions, job Job) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("name required")
	}
	if job == nil {
		return "", errors.New("job required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeScheduleLocked(name)
	s.removeOnce(name)

	s.entries = append(s.entries, entry{
		id:      fmt.Sprintf("%s:%d", kind, time.Now().UnixNano()),
		name:    name,
		spec:    spec,
		timeout: timeout,
		job:     job,
		opt:     opt,
		state:   &engine.RunState{},
	})
	if s.c == nil {
		// Registered on Start.
		return name, nil
	}
	d := &s.entries[len(s.entries)-1]
	if err := s.addCronLocked(d); err != nil {
		s.log.Error("schedule register failed", logx.String("name", name), logx.String("spec", spec), logx.Err(err))
		return name, err
	}
	fields := []logx.Field{logx.String("name", name), logx.String("spec", spec), logx.Duration("timeout", timeout)}
	if next := s.previewNextRunsLocked(spec, 3); next != "" {
		fields = append(fields, logx.String("next", next))
	}
	s.log.Debug("schedule registered", fields...)
	return name, nil
}

// AddOnce fires job once at the given instant. A later AddOnce with the same
// name replaces the pending one. Definitions survive Stop and are re-armed by
// Start; a time already in the past fires immediately.
func (s *Service) AddOnce(name string, at time.Time, timeout time.Duration, job Job) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("name required")
	}
	if at.IsZero() {
		return "", errors.New("at required")
	}
	if job == nil {
		return "", errors.New("job required")
	}

	s.mu.Lock()
	s.removeScheduleLocked(name)
	s.mu.Unlock()

	s.tmu.Lock()
	defer s.tmu.Unlock()
	prev := s.once[name]
	d := &oneShot{at: at, timeout: timeout, job: job, ver: 1}
	if prev != nil {
		if prev.timer != nil {
			prev.timer.Stop()
		}
		d.ver = prev.ver + 1
	}
	s.once[name] = d
	if s.running {
		s.armLocked(name, d)
	}
	return name, nil
}

// armLocked starts the runtime timer for d. Call with s.tmu held.
func (s *Service) armLocked(name string, d *oneShot) {
	ver := d.ver
	d.timer = time.AfterFunc(max(time.Until(d.at), 0), func() {
		s.tmu.Lock()
		cur := s.once[name]
		if cur == nil || cur.ver != ver {
			s.tmu.Unlock()
			return
		}
		// Drop the definition before enqueueing so a restart cannot fire it twice.
		delete(s.once, name)
		s.tmu.Unlock()

		s.submit(name, cur.timeout, TaskOptions{}, &engine.RunState{}, cur.job)
	})
}

// Remove unschedules everything registered under name.
func (s *Service) Remove(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	s.mu.Lock()
	removed := s.removeScheduleLocked(name)
	s.mu.Unlock()
	if s.removeOnce(name) {
		removed = true
	}
	if removed {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}

// Pending reports whether a one-shot timer is waiting under name.
func (s *Service) Pending(name string) bool {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	_, ok := s.once[strings.TrimSpace(name)]
	return ok
}

// removeScheduleLocked drops all entries named name. Call with s.mu held.
func (s *Service) removeScheduleLocked(name string) bool {
	removed := false
	n := 0
	for _, d := range s.entries {
		if d.name == name {
			if s.c != nil && d.cronID != 0 {
				s.c.Remove(d.cronID)
			}
			removed = true
			continue
		}
		s.entries[n] = d
		n++
	}
	s.entries = s.entries[:n]
	return removed
}

func (s *Service) removeOnce(name string) bool {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	d, ok := s.once[name]
	if !ok {
		return false
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	delete(s.once, name)
	return true
}

func (s *Service) submit(name string, timeout time.Duration, opt TaskOptions, st *engine.RunState, job Job) {
	if s.engine == nil {
		return
	}
	eventbus.Publish(s.bus, eventbus.ScheduleFired, name)
	err := s.engine.Enqueue(engine.Task{Name: name, Timeout: timeout, Run: job, Opt: opt, State: st})
	if err != nil {
		s.reportEnqueueError(name, err)
	}
}

func (s *Service) addCronLocked(d *entry) error {
	name, timeout, opt, st, run := d.name, d.timeout, d.opt, d.state, d.job
	job := cron.FuncJob(func() { s.submit(name, timeout, opt, st, run) })

	// Interval schedules get a random first-run offset so a restart does not
	// fire every interval job in the same second.
	if every, ok := everyOf(d.spec); ok {
		sched, spread := makeIntervalScheduleWithSpread(every, time.Now().In(s.location()), d.name)
		d.spread = spread
		d.cronID = s.c.Schedule(sched, job)
		return nil
	}

	d.spread = 0
	eid, err := s.c.AddJob(d.spec, job)
	if err == nil {
		d.cronID = eid
	}
	return err
}

func everyOf(spec string) (time.Duration, bool) {
	spec = strings.TrimSpace(spec)
	if !strings.HasPrefix(spec, "@every") {
		return 0, false
	}
	every, err := time.ParseDuration(strings.TrimSpace(strings.TrimPrefix(spec, "@every")))
	if err != nil || every <= 0 {
		return 0, false
	}
	return every, true
}

func (s *Service) location() *time.Location {
	if s.loc == nil {
		return time.Local
	}
	return s.loc
}

// previewNextRunsLocked lists upcoming run times for debug logs. Call with
// s.mu held.
func (s *Service) previewNextRunsLocked(spec string, n int) string {
	if !s.log.Enabled(logx.LevelDebug) {
		return ""
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return ""
	}
	t := time.Now().In(s.location())
	parts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		parts = append(parts, t.Format("2006-01-02 15:04"))
	}
	return strings.Join(parts, ", ")
}

func parseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}

// ParseHHMM validates an HH:MM wall-clock time.
func ParseHHMM(s string) (hour, minute int, err error) { return parseHHMM(s) }

