package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"zone_watcher/internal/models"
	"zone_watcher/pkg/logger"
)

// Notifier — доставка сообщений пользователям. Ошибки доставки только логируются.
type Notifier interface {
	NotifyZoneTransition(ctx context.Context, user models.User, zone models.Zone)
	NotifyLoginFailure(ctx context.Context, admin models.User)
}

// sender — то, что нам нужно от *tgbot.BotAPI.
type sender interface {
	Send(c tgbot.Chattable) (tgbot.Message, error)
}

// Telegram шлёт сообщения в личный чат пользователя.
type Telegram struct {
	bot sender
	loc *time.Location
}

func NewTelegram(token string, loc *time.Location) (*Telegram, error) {
	b, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return newTelegram(b, loc), nil
}

func newTelegram(bot sender, loc *time.Location) *Telegram {
	if loc == nil {
		loc = time.Local
	}
	return &Telegram{bot: bot, loc: loc}
}

func (t *Telegram) NotifyZoneTransition(_ context.Context, user models.User, zone models.Zone) {
	t.send(user, ZoneMessage(zone, t.loc))
}

func (t *Telegram) NotifyLoginFailure(_ context.Context, admin models.User) {
	t.send(admin, LoginFailureMessage())
}

func (t *Telegram) send(user models.User, text string) {
	if user.TelegramChatID == 0 {
		logger.L().Warn("[NOTIFY] user has no telegram chat, message dropped", zap.Int64("user", user.ID))
		return
	}
	if _, err := t.bot.Send(tgbot.NewMessage(user.TelegramChatID, text)); err != nil {
		logger.L().Error("[NOTIFY] telegram send failed", zap.Int64("user", user.ID), zap.Error(err))
	}
}

// ZoneMessage — текст уведомления о смене статуса зоны.
func ZoneMessage(z models.Zone, loc *time.Location) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s: %s\n", statusEmoji(z.Status), z.Symbol, z.Direction, statusTitle(z.Status))
	fmt.Fprintf(&b, "• Вход: %g\n• Стоп: %g\n• Цель: %g", z.Entry, z.Stoploss, z.Target)
	if at := z.TransitionAt(z.Status); at != nil {
		fmt.Fprintf(&b, "\n• Время: %s", at.In(loc).Format("02.01.2006 15:04:05"))
	}
	return b.String()
}

func LoginFailureMessage() string {
	return "⚠️ Не удалось войти в Kite: сессия провайдера недействительна. " +
		"Обновите access token, фид котировок остановлен до успешного входа."
}

func statusTitle(s models.ZoneStatus) string {
	switch s {
	case models.ZoneEntryHit:
		return "вход достигнут"
	case models.ZoneTargetHit:
		return "цель достигнута"
	case models.ZoneStoplossHit:
		return "стоп-лосс"
	case models.ZoneFailed:
		return "зона отменена (стоп до входа)"
	}
	return string(s)
}

func statusEmoji(s models.ZoneStatus) string {
	switch s {
	case models.ZoneEntryHit:
		return "🎯"
	case models.ZoneTargetHit:
		return "✅"
	case models.ZoneStoplossHit:
		return "🛑"
	case models.ZoneFailed:
		return "❌"
	}
	return "ℹ️"
}

// Stdout — заглушка без телеграма, всё пишет в лог.
type Stdout struct {
	loc *time.Location
}

func NewStdout(loc *time.Location) *Stdout {
	if loc == nil {
		loc = time.Local
	}
	return &Stdout{loc: loc}
}

func (s *Stdout) NotifyZoneTransition(_ context.Context, user models.User, zone models.Zone) {
	logger.Info("[NOTIFY] to user %d: %s", user.ID, ZoneMessage(zone, s.loc))
}

func (s *Stdout) NotifyLoginFailure(_ context.Context, admin models.User) {
	logger.Info("[NOTIFY] to admin %d: %s", admin.ID, LoginFailureMessage())
}
