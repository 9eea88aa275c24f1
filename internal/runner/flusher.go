package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"
	"go.uber.org/zap"

	"zone_watcher/internal/candles"
	"zone_watcher/internal/models"
	"zone_watcher/internal/zones"
	"zone_watcher/pkg/logger"
	"zone_watcher/pkg/tracing"
)

type PriceStore interface {
	UpdateInstrumentPrice(ctx context.Context, id int64, price float64, at time.Time) error
}

type ZoneEvaluator interface {
	Evaluate(ctx context.Context, inst models.Instrument, c models.Candle) (zones.Result, error)
}

// FlushReport — итог одного прохода флашера.
type FlushReport struct {
	Candles     int
	Failed      int
	Transitions int
}

// Flusher раз в interval забирает истёкшие свечи, обновляет цену тикера,
// прогоняет зоны и переносит свечу в историю. Мьютекс агрегатора на время I/O не держится.
type Flusher struct {
	agg      *candles.Aggregator
	registry *Registry
	prices   PriceStore
	eval     ZoneEvaluator
	interval time.Duration
	now      func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewFlusher(agg *candles.Aggregator, registry *Registry, prices PriceStore, eval ZoneEvaluator, interval time.Duration) *Flusher {
	if interval <= 0 {
		interval = time.Second
	}
	return &Flusher{
		agg:      agg,
		registry: registry,
		prices:   prices,
		eval:     eval,
		interval: interval,
		now:      time.Now,
	}
}

// Start запускает тикер. Повторный Start без Stop ничего не делает.
func (f *Flusher) Start(parent context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	f.cancel, f.done = cancel, done

	go func() {
		defer close(done)
		t := time.NewTicker(f.interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				f.FlushOnce(ctx, f.now())
			}
		}
	}()
	logger.Info("[FLUSH] started, every %s", f.interval)
}

// Stop отменяет тикер и ждёт текущий проход: после возврата флашей больше не будет.
func (f *Flusher) Stop() {
	f.mu.Lock()
	cancel, done := f.cancel, f.done
	f.cancel, f.done = nil, nil
	f.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	logger.Info("[FLUSH] stopped")
}

func (f *Flusher) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancel != nil
}

// FlushOnce — один проход. Сбой по одному инструменту не мешает остальным.
func (f *Flusher) FlushOnce(ctx context.Context, now time.Time) FlushReport {
	due := f.agg.Due(now)
	rep := FlushReport{Candles: len(due)}

	for _, c := range due {
		n, err := f.flushCandle(ctx, c, now)
		rep.Transitions += n
		if err != nil {
			rep.Failed++
			logger.L().Error("[FLUSH] candle failed",
				zap.Uint32("token", c.InstrumentToken),
				zap.Time("window", c.Start),
				zap.Error(err))
		}
	}
	return rep
}

// Drain закрывает все открытые свечи разом, как будто их окна уже истекли.
// Вызывать, когда тиков больше не будет.
func (f *Flusher) Drain(ctx context.Context, now time.Time) FlushReport {
	return f.FlushOnce(ctx, now.Add(f.agg.Window()))
}

func (f *Flusher) flushCandle(ctx context.Context, c models.Candle, now time.Time) (transitions int, err error) {
	span, ctx := tracing.StartSpan(ctx, "flush.candle", opentracing.Tags{"token": c.InstrumentToken})
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		// в историю свеча уходит при любом исходе
		f.agg.Retire(c)
		if err != nil {
			span.SetTag("error", true)
		}
		span.Finish()
	}()

	inst, ok := f.registry.Lookup(c.InstrumentToken)
	if !ok {
		return 0, fmt.Errorf("unknown instrument %d", c.InstrumentToken)
	}
	span.SetTag("symbol", inst.Symbol)

	// цена — вспомогательная запись: её сбой не отменяет проверку зон
	priceErr := f.prices.UpdateInstrumentPrice(ctx, inst.ID, c.Close, now)

	res, err := f.eval.Evaluate(ctx, inst, c)
	if err != nil {
		return 0, err
	}
	if priceErr != nil {
		return res.Transitions, fmt.Errorf("update ticker price %s: %w", inst.Symbol, priceErr)
	}
	return res.Transitions, nil
}
