// Package candles собирает тики в 5-секундные свечи.
//
// Текущая свеча и история по инструменту живут под одним мьютексом:
// тики пишет горутина фида, закрытие свечей делает флашер по таймеру.
package candles

import (
	"sort"
	"sync"
	"time"

	"zone_watcher/internal/markethours"
	"zone_watcher/internal/models"
)

const (
	DefaultWindow      = 5 * time.Second
	DefaultHistorySize = 20
)

// Gate — торговое окно, вне которого тики игнорируются.
type Gate interface {
	IsOpen(t time.Time) bool
}

type Config struct {
	Window      time.Duration
	HistorySize int
	Location    *time.Location
}

type current struct {
	candle *models.Candle
	// sealed — флашер уже забрал свечу; поздние тики того же окна отбрасываются,
	// в историю её переносит Retire, а не Ingest.
	sealed bool
}

type Aggregator struct {
	window      time.Duration
	historySize int
	loc         *time.Location
	gate        Gate

	mu      sync.Mutex
	current map[uint32]*current
	history map[uint32]*History
}

func NewAggregator(cfg Config, gate Gate) *Aggregator {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Aggregator{
		window:      cfg.Window,
		historySize: cfg.HistorySize,
		loc:         cfg.Location,
		gate:        gate,
		current:     make(map[uint32]*current),
		history:     make(map[uint32]*History),
	}
}

func (a *Aggregator) Window() time.Duration { return a.window }

// WindowKey — начало окна, в которое попадает t.
func (a *Aggregator) WindowKey(t time.Time) time.Time {
	return markethours.FloorWindow(t, a.window, a.loc)
}

// Ingest применяет тик. false — тик отброшен (вне торговых часов или опоздал в закрытое окно).
func (a *Aggregator) Ingest(token uint32, price float64, volume int64, tradeTime time.Time) bool {
	if a.gate != nil && !a.gate.IsOpen(tradeTime) {
		return false
	}
	key := a.WindowKey(tradeTime)

	a.mu.Lock()
	defer a.mu.Unlock()

	cur, ok := a.current[token]
	if ok && cur.candle.Start.Equal(key) {
		if cur.sealed {
			return false
		}
		cur.candle.Update(price, volume)
		return true
	}
	if ok && !cur.sealed {
		a.archive(token, *cur.candle)
	}
	a.current[token] = &current{candle: models.NewCandle(token, key, price, volume)}
	return true
}

// Due — снимок свечей, чьё окно истекло к now. Свечи помечаются sealed
// и больше не меняются; вызывающий обязан вернуть каждую через Retire.
func (a *Aggregator) Due(now time.Time) []models.Candle {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []models.Candle
	for _, cur := range a.current {
		if cur.sealed || !cur.candle.Complete(now, a.window) {
			continue
		}
		cur.sealed = true
		out = append(out, *cur.candle)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstrumentToken < out[j].InstrumentToken })
	return out
}

// Retire переносит закрытую свечу в историю и убирает её из текущих,
// если за это время инструмент не открыл новое окно.
func (a *Aggregator) Retire(c models.Candle) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.archive(c.InstrumentToken, c)
	if cur, ok := a.current[c.InstrumentToken]; ok && cur.candle.Start.Equal(c.Start) {
		delete(a.current, c.InstrumentToken)
	}
}

func (a *Aggregator) archive(token uint32, c models.Candle) {
	h, ok := a.history[token]
	if !ok {
		h = NewHistory(a.historySize)
		a.history[token] = h
	}
	h.Push(c)
}

// Current — копия открытой свечи инструмента.
func (a *Aggregator) Current(token uint32) (models.Candle, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	cur, ok := a.current[token]
	if !ok {
		return models.Candle{}, false
	}
	return *cur.candle, true
}

// History — закрытые свечи инструмента, от старой к новой.
func (a *Aggregator) History(token uint32) []models.Candle {
	a.mu.Lock()
	defer a.mu.Unlock()
	h, ok := a.history[token]
	if !ok {
		return nil
	}
	return h.Snapshot()
}

// Stat — диагностика по открытой свече.
type Stat struct {
	Token  uint32
	Ticks  int
	Candle models.Candle
	Age    time.Duration
	// Last — последняя закрытая свеча, если есть
	Last *models.Candle
}

func (a *Aggregator) Stats(now time.Time) []Stat {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Stat, 0, len(a.current))
	for token, cur := range a.current {
		st := Stat{
			Token:  token,
			Ticks:  cur.candle.TickCount,
			Candle: *cur.candle,
			Age:    now.Sub(cur.candle.Start),
		}
		if h, ok := a.history[token]; ok {
			if last, ok := h.Last(); ok {
				st.Last = &last
			}
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
	return out
}
