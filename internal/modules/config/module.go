package config

import "go.uber.org/fx"

// Module отдаёт *Config всему графу.
func Module() fx.Option {
	return fx.Module("config",
		fx.Provide(
			NewConfig,
		),
	)
}
