package main

import (
	"context"

	"go.uber.org/fx"

	"zone_watcher/internal/modules/config"
	"zone_watcher/internal/modules/health"
	"zone_watcher/internal/modules/kite_websocket"
	"zone_watcher/internal/modules/postgres"
	"zone_watcher/internal/modules/session"
	telegram "zone_watcher/internal/modules/telegram_bot"
	"zone_watcher/internal/runner"
	"zone_watcher/pkg/logger"
	"zone_watcher/pkg/tracing"
)

const serviceName = "zone_watcher"

func main() {
	app := fx.New(
		fx.Provide(
			func() context.Context {
				return context.Background()
			},
		),
		config.Module(),
		fx.Module("observability", fx.Invoke(initObservability)),
		postgres.Module(),
		telegram.Module(),
		session.Module(),
		kite_websocket.Module(),
		health.Module(),
		runner.Module(),
	)
	app.Run()
}

func initObservability(lc fx.Lifecycle, cfg *config.Config) error {
	syncLog, err := logger.Init(cfg.Log.Level, serviceName)
	if err != nil {
		return err
	}

	tracing.SetServiceName(serviceName)
	_, closeTracer, err := tracing.InitTracer(tracing.Config{
		Enabled: cfg.Tracing.Enabled,
		Host:    cfg.Tracing.Host,
		Port:    cfg.Tracing.Port,
	})
	if err != nil {
		return err
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			closeTracer()
			syncLog()
			return nil
		},
	})
	logger.Info("[APP] starting, market %s %s-%s", cfg.Market.Timezone, cfg.Market.Open, cfg.Market.Close)
	return nil
}
