package candles

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zone_watcher/internal/markethours"
	"zone_watcher/internal/models"
)

const token = uint32(256265)

func newTestAggregator(t *testing.T) (*Aggregator, *time.Location) {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	hours := markethours.MustNew(loc, "09:15", "15:30")
	return NewAggregator(Config{Location: loc}, hours), loc
}

func TestAggregator_SingleWindowOHLC(t *testing.T) {
	agg, loc := newTestAggregator(t)
	base := time.Date(2026, 10, 19, 10, 0, 0, 0, loc)

	prices := []float64{100, 103.5, 98.25, 101, 99.75, 102}
	for i, p := range prices {
		ok := agg.Ingest(token, p, int64(i+1), base.Add(time.Duration(i)*700*time.Millisecond))
		require.True(t, ok)
	}

	c, ok := agg.Current(token)
	require.True(t, ok)
	assert.True(t, base.Equal(c.Start))
	assert.Equal(t, 100.0, c.Open)
	assert.Equal(t, 103.5, c.High)
	assert.Equal(t, 98.25, c.Low)
	assert.Equal(t, 102.0, c.Close)
	assert.Equal(t, int64(21), c.Volume)
	assert.Equal(t, len(prices), c.TickCount)

	assert.GreaterOrEqual(t, c.High, c.Open)
	assert.GreaterOrEqual(t, c.High, c.Close)
	assert.LessOrEqual(t, c.Low, c.Open)
	assert.LessOrEqual(t, c.Low, c.Close)
	assert.Empty(t, agg.History(token))
}

func TestAggregator_NewWindowArchivesPrevious(t *testing.T) {
	agg, loc := newTestAggregator(t)
	base := time.Date(2026, 10, 19, 10, 0, 0, 0, loc)

	agg.Ingest(token, 100, 0, base)
	agg.Ingest(token, 101, 0, base.Add(4*time.Second))
	agg.Ingest(token, 105, 0, base.Add(5*time.Second))

	hist := agg.History(token)
	require.Len(t, hist, 1)
	assert.True(t, base.Equal(hist[0].Start))
	assert.Equal(t, 101.0, hist[0].Close)
	assert.Equal(t, 2, hist[0].TickCount)

	// новая свеча не трогает архивную
	agg.Ingest(token, 90, 0, base.Add(6*time.Second))
	hist = agg.History(token)
	require.Len(t, hist, 1)
	assert.Equal(t, 100.0, hist[0].Low)
	assert.Equal(t, 101.0, hist[0].High)

	c, ok := agg.Current(token)
	require.True(t, ok)
	assert.True(t, base.Add(5*time.Second).Equal(c.Start))
	assert.Equal(t, 105.0, c.Open)
	assert.Equal(t, 90.0, c.Low)
}

func TestAggregator_HistoryBoundedFIFO(t *testing.T) {
	agg, loc := newTestAggregator(t)
	base := time.Date(2026, 10, 19, 10, 0, 0, 0, loc)

	for i := 0; i < 30; i++ {
		agg.Ingest(token, float64(100+i), 0, base.Add(time.Duration(i)*5*time.Second))
	}

	hist := agg.History(token)
	require.Len(t, hist, DefaultHistorySize)
	// 29 свечей в архиве, 20 последних из них: open 109..128
	assert.Equal(t, 109.0, hist[0].Open)
	assert.Equal(t, 128.0, hist[len(hist)-1].Open)
	for i := 1; i < len(hist); i++ {
		assert.True(t, hist[i-1].Start.Before(hist[i].Start))
	}
}

func TestAggregator_OutsideTradingHoursIgnored(t *testing.T) {
	agg, loc := newTestAggregator(t)

	assert.False(t, agg.Ingest(token, 100, 1, time.Date(2026, 10, 19, 9, 14, 59, 0, loc)))
	assert.False(t, agg.Ingest(token, 100, 1, time.Date(2026, 10, 19, 15, 30, 1, 0, loc)))
	assert.False(t, agg.Ingest(token, 100, 1, time.Date(2026, 10, 17, 11, 0, 0, 0, loc)))

	_, ok := agg.Current(token)
	assert.False(t, ok)
	assert.Empty(t, agg.History(token))
	assert.Empty(t, agg.Stats(time.Date(2026, 10, 19, 11, 0, 0, 0, loc)))
}

func TestAggregator_DueAndRetire(t *testing.T) {
	agg, loc := newTestAggregator(t)
	base := time.Date(2026, 10, 19, 10, 0, 0, 0, loc)
	other := uint32(738561)

	agg.Ingest(token, 100, 0, base)
	agg.Ingest(other, 50, 0, base.Add(3*time.Second))

	assert.Empty(t, agg.Due(base.Add(4999*time.Millisecond)))

	due := agg.Due(base.Add(5 * time.Second))
	require.Len(t, due, 2)
	assert.Equal(t, token, due[0].InstrumentToken)

	// повторный проход не отдаёт уже запечатанные свечи
	assert.Empty(t, agg.Due(base.Add(6*time.Second)))

	// поздний тик в запечатанное окно отбрасывается
	assert.False(t, agg.Ingest(token, 1, 0, base.Add(4*time.Second)))

	for _, c := range due {
		agg.Retire(c)
	}
	_, ok := agg.Current(token)
	assert.False(t, ok)
	require.Len(t, agg.History(token), 1)
	assert.Equal(t, 1, agg.History(token)[0].TickCount)
	require.Len(t, agg.History(other), 1)
}

func TestAggregator_RetireKeepsNewerWindow(t *testing.T) {
	agg, loc := newTestAggregator(t)
	base := time.Date(2026, 10, 19, 10, 0, 0, 0, loc)

	agg.Ingest(token, 100, 0, base)
	due := agg.Due(base.Add(5 * time.Second))
	require.Len(t, due, 1)

	// пока флашер занят I/O, пришёл тик следующего окна
	require.True(t, agg.Ingest(token, 110, 0, base.Add(5*time.Second)))
	assert.Empty(t, agg.History(token), "sealed candle is archived by Retire, not by Ingest")

	agg.Retire(due[0])

	hist := agg.History(token)
	require.Len(t, hist, 1)
	assert.Equal(t, 100.0, hist[0].Close)

	c, ok := agg.Current(token)
	require.True(t, ok)
	assert.Equal(t, 110.0, c.Open)
}

func TestAggregator_Stats(t *testing.T) {
	agg, loc := newTestAggregator(t)
	base := time.Date(2026, 10, 19, 10, 0, 0, 0, loc)

	agg.Ingest(token, 100, 0, base.Add(time.Second))
	agg.Ingest(token, 101, 0, base.Add(2*time.Second))

	stats := agg.Stats(base.Add(3 * time.Second))
	require.Len(t, stats, 1)
	assert.Equal(t, token, stats[0].Token)
	assert.Equal(t, 2, stats[0].Ticks)
	assert.Equal(t, 3*time.Second, stats[0].Age)
	assert.Nil(t, stats[0].Last)

	agg.Ingest(token, 104, 0, base.Add(6*time.Second))
	stats = agg.Stats(base.Add(7 * time.Second))
	require.Len(t, stats, 1)
	require.NotNil(t, stats[0].Last)
	assert.Equal(t, 101.0, stats[0].Last.Close)
}

func TestAggregator_LateRetireKeepsHistoryOrdered(t *testing.T) {
	agg, loc := newTestAggregator(t)
	base := time.Date(2026, 10, 19, 10, 0, 0, 0, loc)

	agg.Ingest(token, 100, 0, base)
	sealed := agg.Due(base.Add(5 * time.Second))
	require.Len(t, sealed, 1)

	// флашер ещё не вернул свечу, а тики уже ушли на два окна вперёд
	agg.Ingest(token, 101, 0, base.Add(5*time.Second))
	agg.Ingest(token, 102, 0, base.Add(10*time.Second))
	agg.Retire(sealed[0])

	hist := agg.History(token)
	require.Len(t, hist, 2)
	assert.True(t, base.Equal(hist[0].Start))
	assert.True(t, base.Add(5*time.Second).Equal(hist[1].Start))

	c, ok := agg.Current(token)
	require.True(t, ok)
	assert.Equal(t, 102.0, c.Open)
}

func TestAggregator_ConcurrentIngestAndFlush(t *testing.T) {
	agg, loc := newTestAggregator(t)
	base := time.Date(2026, 10, 19, 10, 0, 0, 0, loc)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 2000; i++ {
			agg.Ingest(token, float64(100+i%7), 1, base.Add(time.Duration(i)*10*time.Millisecond))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			for _, c := range agg.Due(base.Add(time.Duration(i) * 100 * time.Millisecond)) {
				agg.Retire(c)
			}
		}
	}()
	wg.Wait()

	assert.LessOrEqual(t, len(agg.History(token)), DefaultHistorySize)
	for _, c := range agg.History(token) {
		assert.GreaterOrEqual(t, c.High, c.Low)
	}
}

func TestHistory_Ring(t *testing.T) {
	h := NewHistory(3)
	_, ok := h.Last()
	assert.False(t, ok)

	for i := 1; i <= 5; i++ {
		h.Push(models.Candle{Open: float64(i)})
	}
	snap := h.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, []float64{3, 4, 5}, []float64{snap[0].Open, snap[1].Open, snap[2].Open})

	last, ok := h.Last()
	require.True(t, ok)
	assert.Equal(t, 5.0, last.Open)
}

func TestHistory_OutOfOrderPush(t *testing.T) {
	base := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)
	at := func(sec int) models.Candle {
		return models.Candle{Start: base.Add(time.Duration(sec) * time.Second), Open: float64(sec)}
	}
	opens := func(h *History) []float64 {
		var out []float64
		for _, c := range h.Snapshot() {
			out = append(out, c.Open)
		}
		return out
	}

	h := NewHistory(3)
	h.Push(at(0))
	h.Push(at(10))
	h.Push(at(5))
	assert.Equal(t, []float64{0, 5, 10}, opens(h))

	// полный буфер: вставка в середину вытесняет самую старую
	h.Push(at(7))
	assert.Equal(t, []float64{5, 7, 10}, opens(h))

	// старше всех в полном буфере — сразу вытесняется
	h.Push(at(1))
	assert.Equal(t, []float64{5, 7, 10}, opens(h))

	h.Push(at(15))
	assert.Equal(t, []float64{7, 10, 15}, opens(h))
}
