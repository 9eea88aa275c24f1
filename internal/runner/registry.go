package runner

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"zone_watcher/internal/models"
)

type InstrumentLister interface {
	ListInstruments(ctx context.Context) ([]models.Instrument, error)
}

// Registry — локальный кэш тикеров: instrument_token -> запись из БД.
type Registry struct {
	mu    sync.RWMutex
	items map[uint32]models.Instrument
}

func NewRegistry() *Registry {
	return &Registry{items: make(map[uint32]models.Instrument)}
}

// Load перечитывает тикеры и возвращает токены для подписки.
func (r *Registry) Load(ctx context.Context, src InstrumentLister) ([]uint32, error) {
	list, err := src.ListInstruments(ctx)
	if err != nil {
		return nil, fmt.Errorf("registry.Load: %w", err)
	}
	items := make(map[uint32]models.Instrument, len(list))
	for _, inst := range list {
		if inst.Token == 0 {
			continue
		}
		items[inst.Token] = inst
	}

	r.mu.Lock()
	r.items = items
	r.mu.Unlock()

	return r.Tokens(), nil
}

func (r *Registry) Lookup(token uint32) (models.Instrument, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.items[token]
	return inst, ok
}

func (r *Registry) Tokens() []uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]uint32, 0, len(r.items))
	for t := range r.items {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}
