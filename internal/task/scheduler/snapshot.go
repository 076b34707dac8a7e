package scheduler

import (
	"sort"

	"questbot/internal/task/engine"
)

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	out := Snapshot{Enabled: s.cfg.Enabled, Timezone: s.cfg.Timezone}
	loc := s.location()
	for _, e := range s.entries {
		info := ScheduleInfo{ID: e.id, Name: e.name, Spec: e.spec, Timeout: e.timeout}
		if s.c != nil && e.cronID != 0 {
			ce := s.c.Entry(e.cronID)
			info.Next, info.Prev = ce.Next, ce.Prev
		}
		out.Schedules = append(out.Schedules, info)
	}
	eng := s.engine
	s.mu.Unlock()

	if out.Timezone == "" {
		out.Timezone = loc.String()
	}

	s.tmu.Lock()
	for name, o := range s.once {
		out.Schedules = append(out.Schedules, ScheduleInfo{
			ID: "once:" + name, Name: name, Spec: "@once",
			Timeout: o.timeout, Next: o.at.In(loc), Once: true,
		})
	}
	s.tmu.Unlock()
	sort.SliceStable(out.Schedules, func(i, j int) bool { return out.Schedules[i].Name < out.Schedules[j].Name })

	if eng != nil {
		out.Engine = eng.Snapshot()
		out.Retry = engine.DefaultTaskOptions(engine.Config{RetryMax: out.Engine.RetryMax})
	}
	return out
}
