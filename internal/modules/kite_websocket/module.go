package kite_websocket

import (
	"go.uber.org/fx"

	"zone_watcher/internal/modules/config"
	"zone_watcher/internal/modules/kite_websocket/service"
	"zone_watcher/internal/runner"
)

// Module отдаёт runner.Dialer поверх websocket-фида Kite.
func Module() fx.Option {
	return fx.Module("kite_websocket",
		fx.Provide(
			func(cfg *config.Config) (runner.Dialer, error) {
				loc, err := cfg.Location()
				if err != nil {
					return nil, err
				}
				return service.NewDialer(service.Config{
					URL:                  cfg.Kite.WSURL,
					PingInterval:         cfg.Kite.PingInterval,
					ReconnectMaxAttempts: cfg.Kite.ReconnectMaxAttempts,
					ReconnectMinDelay:    cfg.Kite.ReconnectMinDelay,
					ReconnectMaxDelay:    cfg.Kite.ReconnectMaxDelay,
					Location:             loc,
				}), nil
			},
		),
	)
}
