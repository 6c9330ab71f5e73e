package workers

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"

	"helpdesk/observability"
)

// HealthWorker periodically logs process vitals and session-layer counters.
type HealthWorker struct {
	log      *slog.Logger
	stats    *observability.Stats
	active   func() int
	interval time.Duration
}

func NewHealthWorker(log *slog.Logger, stats *observability.Stats,
	active func() int, interval time.Duration) *HealthWorker {
	return &HealthWorker{log: log, stats: stats, active: active, interval: interval}
}

func (w *HealthWorker) Run(ctx context.Context) error {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.report(proc)
		}
	}
}

func (w *HealthWorker) report(proc *process.Process) {
	snapshot := w.stats.Snapshot()
	attrs := []any{
		"active_connections", w.active(),
		"messages_stored", snapshot.MessagesStored,
		"events_delivered", snapshot.EventsDelivered,
		"events_dropped", snapshot.EventsDropped,
		"scoped_errors", snapshot.ScopedErrors,
	}

	if mem, err := proc.MemoryInfo(); err == nil {
		attrs = append(attrs, "rss_mb", mem.RSS/1024/1024)
	}
	if cpu, err := proc.CPUPercent(); err == nil {
		attrs = append(attrs, "cpu_percent", cpu)
	}

	w.log.Info("session layer health", attrs...)
}
