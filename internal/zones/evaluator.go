// Package zones — проверка пользовательских зон по закрытым свечам.
package zones

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opentracing/opentracing-go"
	"go.uber.org/zap"

	"zone_watcher/internal/models"
	"zone_watcher/internal/storage"
	"zone_watcher/pkg/logger"
)

type Store interface {
	LiveZones(ctx context.Context, instrumentID int64) ([]*models.Zone, error)
	SaveZone(ctx context.Context, zone *models.Zone) error
}

// Notifier — доставка уведомлений пользователю; ошибки доставки его забота.
type Notifier interface {
	NotifyZoneTransition(ctx context.Context, user models.User, zone models.Zone)
}

// Result — итог проверки одной свечи.
type Result struct {
	Checked     int
	Transitions int
	Notified    int
	SaveErrors  int
}

type Evaluator struct {
	store    Store
	notifier Notifier
	now      func() time.Time
}

func NewEvaluator(store Store, notifier Notifier) *Evaluator {
	return &Evaluator{store: store, notifier: notifier, now: time.Now}
}

// WithClock подменяет источник времени переходов.
func (e *Evaluator) WithClock(now func() time.Time) *Evaluator {
	e.now = now
	return e
}

// Evaluate прогоняет все живые зоны инструмента через закрытую свечу.
// Ошибка возвращается, только если не удалось прочитать зоны; сбой сохранения
// одной зоны логируется, зона останется живой и проверится на следующей свече.
func (e *Evaluator) Evaluate(ctx context.Context, inst models.Instrument, c models.Candle) (res Result, err error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "zones.Evaluate")
	span.SetTag("symbol", inst.Symbol)
	defer func() {
		if err != nil {
			span.SetTag("error", true)
			err = fmt.Errorf("zones.Evaluate %s: %w", inst.Symbol, err)
		}
		span.Finish()
	}()

	live, err := e.store.LiveZones(ctx, inst.ID)
	if err != nil {
		return res, err
	}

	at := e.now()
	for _, z := range live {
		if z == nil || !z.Status.Live() {
			continue
		}
		res.Checked++

		next := *z
		if !Apply(&next, c, at) {
			continue
		}

		if err := e.store.SaveZone(ctx, &next); err != nil {
			res.SaveErrors++
			if errors.Is(err, storage.ErrZoneNotFound) {
				logger.L().Warn("[ZONES] zone vanished before save",
					zap.Int64("zone", z.ID), zap.String("symbol", inst.Symbol))
				continue
			}
			logger.L().Error("[ZONES] save transition failed",
				zap.Int64("zone", z.ID),
				zap.String("from", string(z.Status)),
				zap.String("to", string(next.Status)),
				zap.Error(err))
			continue
		}
		res.Transitions++

		logger.Info("[ZONES] status changed: %s (%s)", next.String(), c.String())
		if e.notifier != nil {
			e.notifier.NotifyZoneTransition(ctx, next.User, next)
			res.Notified++
		}
	}
	return res, nil
}
