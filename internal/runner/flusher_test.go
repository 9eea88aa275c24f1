package runner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zone_watcher/internal/candles"
	"zone_watcher/internal/models"
	"zone_watcher/internal/storage/memory"
	"zone_watcher/internal/zones"
)

var (
	nifty     = models.Instrument{ID: 1, Token: 256265, Symbol: "NIFTY 50"}
	bank      = models.Instrument{ID: 2, Token: 260105, Symbol: "NIFTY BANK"}
	flushBase = time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)
)

// stubEvaluator считает вызовы и может падать по отдельным инструментам.
type stubEvaluator struct {
	mu     sync.Mutex
	calls  []models.Candle
	failOn map[int64]error
	panics map[int64]bool
	count  atomic.Int64
}

func (s *stubEvaluator) Evaluate(_ context.Context, inst models.Instrument, c models.Candle) (zones.Result, error) {
	s.count.Add(1)
	s.mu.Lock()
	s.calls = append(s.calls, c)
	s.mu.Unlock()
	if s.panics[inst.ID] {
		panic("boom")
	}
	if err := s.failOn[inst.ID]; err != nil {
		return zones.Result{}, err
	}
	return zones.Result{Checked: 1}, nil
}

type failingPrices struct {
	*memory.Store
	err error
}

func (f *failingPrices) UpdateInstrumentPrice(ctx context.Context, id int64, price float64, at time.Time) error {
	if f.err != nil {
		return f.err
	}
	return f.Store.UpdateInstrumentPrice(ctx, id, price, at)
}

func newFlushFixture(t *testing.T) (*candles.Aggregator, *Registry, *memory.Store) {
	t.Helper()
	st := memory.NewStore()
	st.PutInstrument(nifty)
	st.PutInstrument(bank)

	reg := NewRegistry()
	_, err := reg.Load(context.Background(), st)
	require.NoError(t, err)

	return candles.NewAggregator(candles.Config{Location: time.UTC}, nil), reg, st
}

func TestFlusher_FlushOnceEvaluatesAndRetires(t *testing.T) {
	agg, reg, st := newFlushFixture(t)
	st.PutUser(models.User{ID: 9, TelegramChatID: 1})
	st.PutZone(models.Zone{ID: 5, UserID: 9, InstrumentID: nifty.ID, Direction: models.DirectionLong,
		Entry: 100, Stoploss: 90, Target: 120, Status: models.ZoneActive})

	eval := zones.NewEvaluator(st, nil)
	f := NewFlusher(agg, reg, st, eval, time.Second)

	agg.Ingest(nifty.Token, 101, 10, flushBase)
	agg.Ingest(nifty.Token, 99.5, 5, flushBase.Add(2*time.Second))

	// окно ещё не истекло
	rep := f.FlushOnce(context.Background(), flushBase.Add(4*time.Second))
	assert.Equal(t, FlushReport{}, rep)

	now := flushBase.Add(5 * time.Second)
	rep = f.FlushOnce(context.Background(), now)
	assert.Equal(t, FlushReport{Candles: 1, Transitions: 1}, rep)

	insts, err := st.ListInstruments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 99.5, insts[0].LastPrice)
	assert.True(t, now.Equal(insts[0].LastUpdated))

	z, _ := st.Zone(5)
	assert.Equal(t, models.ZoneEntryHit, z.Status)

	_, open := agg.Current(nifty.Token)
	assert.False(t, open)
	require.Len(t, agg.History(nifty.Token), 1)
}

func TestFlusher_FailuresIsolatedPerInstrument(t *testing.T) {
	agg, reg, st := newFlushFixture(t)
	eval := &stubEvaluator{failOn: map[int64]error{nifty.ID: errors.New("db timeout")}}
	f := NewFlusher(agg, reg, st, eval, time.Second)

	unknown := uint32(11)
	agg.Ingest(nifty.Token, 100, 0, flushBase)
	agg.Ingest(bank.Token, 200, 0, flushBase)
	agg.Ingest(unknown, 1, 0, flushBase)

	rep := f.FlushOnce(context.Background(), flushBase.Add(5*time.Second))
	assert.Equal(t, 3, rep.Candles)
	assert.Equal(t, 2, rep.Failed)
	assert.Equal(t, int64(2), eval.count.Load(), "unknown instrument is skipped, the other two evaluated")

	// все три свечи ушли в историю
	for _, tok := range []uint32{nifty.Token, bank.Token, unknown} {
		_, open := agg.Current(tok)
		assert.False(t, open)
		assert.Len(t, agg.History(tok), 1)
	}
}

func TestFlusher_PanicAndPriceErrorDoNotStopPass(t *testing.T) {
	agg, reg, st := newFlushFixture(t)
	eval := &stubEvaluator{panics: map[int64]bool{nifty.ID: true}}
	prices := &failingPrices{Store: st, err: errors.New("deadlock detected")}
	f := NewFlusher(agg, reg, prices, eval, time.Second)

	agg.Ingest(nifty.Token, 100, 0, flushBase)
	agg.Ingest(bank.Token, 200, 0, flushBase)

	rep := f.FlushOnce(context.Background(), flushBase.Add(6*time.Second))
	assert.Equal(t, 2, rep.Candles)
	assert.Equal(t, 2, rep.Failed)
	assert.Equal(t, int64(2), eval.count.Load(), "price failure still evaluates zones")
	assert.Len(t, agg.History(bank.Token), 1)
}

func TestFlusher_StartStop(t *testing.T) {
	agg, reg, st := newFlushFixture(t)
	eval := &stubEvaluator{}
	f := NewFlusher(agg, reg, st, eval, 10*time.Millisecond)

	f.Start(context.Background())
	f.Start(context.Background()) // no-op
	assert.True(t, f.Running())

	agg.Ingest(nifty.Token, 100, 0, time.Now().Add(-10*time.Second))
	require.Eventually(t, func() bool { return eval.count.Load() == 1 }, time.Second, 5*time.Millisecond)

	f.Stop()
	assert.False(t, f.Running())

	agg.Ingest(bank.Token, 100, 0, time.Now().Add(-10*time.Second))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(1), eval.count.Load(), "no flush after Stop")

	f.Start(context.Background())
	require.Eventually(t, func() bool { return eval.count.Load() == 2 }, time.Second, 5*time.Millisecond)
	f.Stop()
	f.Stop()
}

func TestRegistry_Load(t *testing.T) {
	st := memory.NewStore()
	st.PutInstrument(bank)
	st.PutInstrument(nifty)
	st.PutInstrument(models.Instrument{ID: 3, Symbol: "NO TOKEN"})

	reg := NewRegistry()
	tokens, err := reg.Load(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, []uint32{nifty.Token, bank.Token}, tokens)
	assert.Equal(t, 2, reg.Len())

	inst, ok := reg.Lookup(bank.Token)
	require.True(t, ok)
	assert.Equal(t, "NIFTY BANK", inst.Symbol)

	_, ok = reg.Lookup(1)
	assert.False(t, ok)
}
