package commands

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"time"

	kit "questbot/internal/transport"
	"questbot/internal/transport/telegram/router"
)

func (s *Set) cmdHealth(ctx context.Context, req *router.Request) error {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	status := "Running"
	var sups []string
	bad := 0
	if s.sups != nil {
		snap := s.sups.Snapshot()
		names := make([]string, 0, len(snap))
		for name := range snap {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			sup := snap[name]
			if sup == nil {
				continue
			}
			st := sup.Snapshot()
			var restarts, panics uint64
			for _, g := range st.Goroutines {
				restarts += g.Restarts
				panics += g.Panics
			}
			icon := "✅"
			line := fmt.Sprintf("%s %s: %d goroutines", icon, name, len(st.Goroutines))
			if restarts > 0 || panics > 0 {
				line += fmt.Sprintf(", %d restarts, %d panics", restarts, panics)
			}
			if st.FirstError != "" {
				bad++
				line = strings.Replace(line, icon, "⚠️", 1) + " | " + st.FirstError
			}
			sups = append(sups, line)
		}
	}
	if bad > 0 {
		status = "Degraded"
	}

	var b strings.Builder
	b.Grow(1024)
	b.WriteString("🏥 Bot Health\n")
	b.WriteString("━━━━━━━━━━━━━━━━━━━━\n")
	b.WriteString(fmt.Sprintf("Status: %s\n", status))
	b.WriteString(fmt.Sprintf("Uptime: %s\n", durRel(time.Since(s.startedAt))))
	if st, err := s.tr.Settings(ctx); err == nil {
		b.WriteString(fmt.Sprintf("Notifications: %s\n", onOff(st.Active)))
	}
	b.WriteString("\n")

	b.WriteString("💾 Memory\n")
	b.WriteString(fmt.Sprintf("  • Allocated: %s\n", fmtBytes(m.Alloc)))
	b.WriteString(fmt.Sprintf("  • System:    %s\n", fmtBytes(m.Sys)))
	b.WriteString(fmt.Sprintf("  • GC Runs:   %d\n", m.NumGC))
	b.WriteString(fmt.Sprintf("  • Goroutines: %d\n", runtime.NumGoroutine()))
	b.WriteString("\n")

	if s.sched != nil {
		sn := s.sched.Snapshot()
		b.WriteString("📊 Scheduler\n")
		b.WriteString(fmt.Sprintf("  • Enabled: %v (%s)\n", sn.Enabled, sn.Timezone))
		b.WriteString(fmt.Sprintf("  • Jobs: %d, queue %d/%d, dropped %d\n", len(sn.Schedules), sn.Engine.QueueLen, sn.Engine.QueueCap, sn.Engine.Dropped))
		for _, sc := range sn.Schedules {
			next := "-"
			if !sc.Next.IsZero() {
				next = "in " + durRel(time.Until(sc.Next))
			}
			b.WriteString(fmt.Sprintf("  • %s: %s\n", sc.Name, next))
		}
		b.WriteString("\n")
	}

	b.WriteString("🧵 Supervisors\n")
	if len(sups) == 0 {
		b.WriteString("  • (none)\n")
	}
	for _, l := range sups {
		b.WriteString("  • " + l + "\n")
	}

	_, err := req.Adapter.SendText(ctx, req.Chat, b.String(), &kit.SendOptions{DisablePreview: true})
	return err
}

func onOff(b bool) string {
	if b {
		return "active"
	}
	return "paused"
}

func fmtBytes(n uint64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)
	switch {
	case n >= GB:
		return fmt.Sprintf("%.1fGB", float64(n)/GB)
	case n >= MB:
		return fmt.Sprintf("%.1fMB", float64(n)/MB)
	case n >= KB:
		return fmt.Sprintf("%.1fKB", float64(n)/KB)
	default:
		return fmt.Sprintf("%dB", n)
	}
}

func durRel(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
