package runner

import (
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"zone_watcher/pkg/logger"
)

// StatsReporter раз в interval пишет в лог сводку по открытым свечам, пока фид в RUNNING.
type StatsReporter struct {
	m        *Manager
	interval time.Duration
	sched    *gocron.Scheduler
}

func NewStatsReporter(m *Manager, interval time.Duration, loc *time.Location) *StatsReporter {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if loc == nil {
		loc = time.Local
	}
	return &StatsReporter{m: m, interval: interval, sched: gocron.NewScheduler(loc)}
}

func (r *StatsReporter) Start() error {
	_, err := r.sched.Every(r.interval).WaitForSchedule().SingletonMode().Do(func() { r.Report() })
	if err != nil {
		return err
	}
	r.sched.StartAsync()
	return nil
}

func (r *StatsReporter) Stop() {
	r.sched.Stop()
}

// Report — одна сводка. Возвращает число открытых свечей (0, если фид не в RUNNING).
func (r *StatsReporter) Report() int {
	if r.m.State() != StateRunning {
		return 0
	}
	stats := r.m.Stats()
	if len(stats) == 0 {
		return 0
	}
	logger.Info("[STATS] current candle stats: %d active candles", len(stats))
	for _, s := range stats {
		logger.L().Debug("[STATS] candle",
			zap.String("symbol", s.Symbol),
			zap.Int("ticks", s.Ticks),
			zap.String("candle", s.Candle),
			zap.Float64("age_seconds", s.AgeSeconds))
	}
	return len(stats)
}
