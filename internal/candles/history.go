package candles

import (
	"sort"

	"zone_watcher/internal/models"
)

// History — кольцевой буфер последних закрытых свечей инструмента,
// упорядоченный по началу окна. Старые вытесняются первыми. Не потокобезопасен: живёт под мьютексом Aggregator.
type History struct {
	buf   []models.Candle
	head  int // индекс самой старой свечи
	count int
}

func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = 1
	}
	return &History{buf: make([]models.Candle, capacity)}
}

func (h *History) Push(c models.Candle) {
	if last, ok := h.Last(); ok && c.Start.Before(last.Start) {
		h.insert(c)
		return
	}
	if h.count < len(h.buf) {
		h.buf[(h.head+h.count)%len(h.buf)] = c
		h.count++
		return
	}
	h.buf[h.head] = c
	h.head = (h.head + 1) % len(h.buf)
}

// insert — свеча пришла позже более новой (флашер задержал Retire).
func (h *History) insert(c models.Candle) {
	items := h.Snapshot()
	i := sort.Search(len(items), func(i int) bool { return items[i].Start.After(c.Start) })
	items = append(items, models.Candle{})
	copy(items[i+1:], items[i:])
	items[i] = c
	if len(items) > len(h.buf) {
		items = items[len(items)-len(h.buf):]
	}
	copy(h.buf, items)
	h.head = 0
	h.count = len(items)
}

// Snapshot — копия от старой к новой.
func (h *History) Snapshot() []models.Candle {
	out := make([]models.Candle, 0, h.count)
	for i := 0; i < h.count; i++ {
		out = append(out, h.buf[(h.head+i)%len(h.buf)])
	}
	return out
}

// Last — самая свежая свеча.
func (h *History) Last() (models.Candle, bool) {
	if h.count == 0 {
		return models.Candle{}, false
	}
	return h.buf[(h.head+h.count-1)%len(h.buf)], true
}
