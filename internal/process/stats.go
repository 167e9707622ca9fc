package process

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/procfs"

	"github.com/smazurov/servernode/internal/events"
	"github.com/smazurov/servernode/internal/logging"
)

// DefaultStatsInterval is the sampling period used when none is configured.
const DefaultStatsInterval = 5 * time.Second

type cpuSample struct {
	cpuSeconds float64
	at         time.Time
}

// StatsSampler publishes resource usage for every live supervised process.
type StatsSampler struct {
	supervisor *Supervisor
	bus        *events.Bus
	fs         procfs.FS
	interval   time.Duration
	logger     logging.Logger
	prev       map[int]cpuSample
}

// NewStatsSampler creates a sampler reading from the default /proc mount.
func NewStatsSampler(supervisor *Supervisor, bus *events.Bus, interval time.Duration, logger logging.Logger) (*StatsSampler, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		interval = DefaultStatsInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StatsSampler{
		supervisor: supervisor,
		bus:        bus,
		fs:         fs,
		interval:   interval,
		logger:     logger,
		prev:       make(map[int]cpuSample),
	}, nil
}

// Run samples on every tick until ctx is done.
func (s *StatsSampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, ev := range s.Sample(now) {
				s.bus.Publish(ev)
			}
		}
	}
}

// Sample reads /proc for each live process at now. Processes that exited
// since the supervisor snapshot are skipped. CPU percent is relative to the
// previous sample of the same pid and is zero on the first one.
func (s *StatsSampler) Sample(now time.Time) []events.StatsEvent {
	running := s.supervisor.Running()
	samples := make([]events.StatsEvent, 0, len(running))
	seen := make(map[int]struct{}, len(running))

	for _, info := range running {
		proc, err := s.fs.Proc(info.PID)
		if err != nil {
			continue
		}
		stat, err := proc.Stat()
		if err != nil {
			s.logger.Debug("Skipping stats sample", "server_id", info.ID, "error", err)
			continue
		}
		seen[info.PID] = struct{}{}

		cpu := stat.CPUTime()
		var percent float64
		if prev, ok := s.prev[info.PID]; ok {
			if elapsed := now.Sub(prev.at).Seconds(); elapsed > 0 {
				percent = (cpu - prev.cpuSeconds) / elapsed * 100
			}
		}
		s.prev[info.PID] = cpuSample{cpuSeconds: cpu, at: now}

		samples = append(samples, events.StatsEvent{
			ServerID:      info.ID,
			PID:           info.PID,
			CPUPercent:    percent,
			RSSBytes:      int64(stat.ResidentMemory()),
			UptimeSeconds: info.Uptime(now).Seconds(),
			Timestamp:     now.UTC().Format(time.RFC3339Nano),
		})
	}

	for pid := range s.prev {
		if _, ok := seen[pid]; !ok {
			delete(s.prev, pid)
		}
	}

	return samples
}
