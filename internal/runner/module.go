package runner

import (
	"context"

	"go.uber.org/fx"

	"zone_watcher/internal/candles"
	"zone_watcher/internal/markethours"
	"zone_watcher/internal/modules/config"
	"zone_watcher/internal/storage"
	"zone_watcher/internal/zones"
	"zone_watcher/pkg/logger"
)

func Module() fx.Option {
	return fx.Module("runner",
		fx.Provide(
			NewHours,
			NewAggregatorFromConfig,
			NewRegistry,
			func(store storage.Store, n zones.Notifier) *zones.Evaluator {
				return zones.NewEvaluator(store, n)
			},
			func(cfg *config.Config, agg *candles.Aggregator, reg *Registry, store storage.Store, eval *zones.Evaluator) *Flusher {
				return NewFlusher(agg, reg, store, eval, cfg.Runner.FlushInterval)
			},
			NewManagerFromConfig,
			func(cfg *config.Config, m *Manager, hours *markethours.Hours) *StatsReporter {
				return NewStatsReporter(m, cfg.Runner.StatsInterval, hours.Location())
			},
		),
		fx.Invoke(Run),
	)
}

func NewHours(cfg *config.Config) (*markethours.Hours, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	return markethours.New(loc, cfg.Market.Open, cfg.Market.Close, cfg.Market.Holidays)
}

func NewAggregatorFromConfig(cfg *config.Config, hours *markethours.Hours) *candles.Aggregator {
	return candles.NewAggregator(candles.Config{
		Window:      cfg.Market.CandleWindow,
		HistorySize: cfg.Market.HistorySize,
		Location:    hours.Location(),
	}, hours)
}

type ManagerParams struct {
	fx.In

	Config   *config.Config
	Hours    *markethours.Hours
	Sessions SessionProvider
	Dialer   Dialer
	Store    storage.Store
	Alerter  AdminAlerter
	Agg      *candles.Aggregator
	Flusher  *Flusher
	Registry *Registry
	Observer Observer `optional:"true"`
}

func NewManagerFromConfig(p ManagerParams) *Manager {
	r := p.Config.Runner
	return NewManager(Policy{
		Poll:             r.Poll,
		ConnectGrace:     r.ConnectGrace,
		LoginAttempts:    r.LoginAttempts,
		LoginRetryDelay:  r.LoginRetryDelay,
		LoginBackoff:     r.LoginBackoff,
		MaxFaults:        r.MaxFaults,
		FaultBackoff:     r.FaultBackoff,
		LongFaultBackoff: r.LongFaultBackoff,
		MaxSleep:         r.MaxSleep,
	}, Deps{
		Hours:    p.Hours,
		Sessions: p.Sessions,
		Dialer:   p.Dialer,
		Store:    p.Store,
		Alerter:  p.Alerter,
		Agg:      p.Agg,
		Flusher:  p.Flusher,
		Registry: p.Registry,
		Observer: p.Observer,
	})
}

// Run запускает управляющий цикл и отчёт по свечам на время жизни приложения.
func Run(lc fx.Lifecycle, m *Manager, stats *StatsReporter) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if err := stats.Start(); err != nil {
				cancel()
				return err
			}
			go func() {
				defer close(done)
				m.Run(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			stats.Stop()
			select {
			case <-done:
			case <-stopCtx.Done():
				logger.Warn("[MANAGER] control loop did not stop in time")
				return stopCtx.Err()
			}
			return nil
		},
	})
}
