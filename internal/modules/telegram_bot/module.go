package telegram

import (
	"go.uber.org/fx"

	"zone_watcher/internal/modules/config"
	"zone_watcher/internal/notify"
	"zone_watcher/internal/runner"
	"zone_watcher/internal/zones"
	"zone_watcher/pkg/logger"
)

// Module — уведомления пользователям: Telegram, если есть токен, иначе лог.
func Module() fx.Option {
	return fx.Module("telegram",
		fx.Provide(
			NewNotifier,
			func(n notify.Notifier) zones.Notifier { return n },
			func(n notify.Notifier) runner.AdminAlerter { return n },
		),
	)
}

func NewNotifier(cfg *config.Config) (notify.Notifier, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	if cfg.Telegram.Token == "" {
		logger.Warn("[NOTIFY] telegram token is empty, notifications go to log")
		return notify.NewStdout(loc), nil
	}
	return notify.NewTelegram(cfg.Telegram.Token, loc)
}
