package session

import (
	"go.uber.org/fx"

	"zone_watcher/internal/modules/config"
	"zone_watcher/internal/modules/session/service"
	"zone_watcher/internal/runner"
)

func Module() fx.Option {
	return fx.Module("session",
		fx.Provide(
			func(cfg *config.Config) (*service.Provider, error) {
				loc, err := cfg.Location()
				if err != nil {
					return nil, err
				}
				return service.NewProvider(service.Config{
					APIURL:      cfg.Kite.APIURL,
					APIKey:      cfg.Kite.APIKey,
					AccessToken: cfg.Kite.AccessToken,
					Location:    loc,
				}), nil
			},
			func(p *service.Provider) runner.SessionProvider { return p },
		),
	)
}
