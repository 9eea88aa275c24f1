// Package memory — хранилище в памяти: режим без БД и тесты.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"zone_watcher/internal/models"
	"zone_watcher/internal/storage"
)

type Store struct {
	mu          sync.RWMutex
	instruments map[int64]*models.Instrument
	zones       map[int64]*models.Zone
	users       map[int64]*models.User
}

// NewStore instance
func NewStore() *Store {
	return &Store{
		instruments: make(map[int64]*models.Instrument),
		zones:       make(map[int64]*models.Zone),
		users:       make(map[int64]*models.User),
	}
}

func (s *Store) PutInstrument(inst models.Instrument) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instruments[inst.ID] = &inst
}

func (s *Store) PutUser(u models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = &u
}

func (s *Store) PutZone(z models.Zone) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.zones[z.ID] = &z
}

func (s *Store) DeleteZone(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.zones, id)
}

// Zone — копия зоны по id.
func (s *Store) Zone(id int64) (models.Zone, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	z, ok := s.zones[id]
	if !ok {
		return models.Zone{}, false
	}
	return *z, true
}

func (s *Store) ListInstruments(_ context.Context) ([]models.Instrument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Instrument, 0, len(s.instruments))
	for _, inst := range s.instruments {
		out = append(out, *inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetInstrument(_ context.Context, token uint32) (models.Instrument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, inst := range s.instruments {
		if inst.Token == token {
			return *inst, nil
		}
	}
	return models.Instrument{}, fmt.Errorf("memory.GetInstrument %d: %w", token, storage.ErrInstrumentNotFound)
}

func (s *Store) UpdateInstrumentPrice(_ context.Context, id int64, price float64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instruments[id]
	if !ok {
		return fmt.Errorf("memory.UpdateInstrumentPrice %d: %w", id, storage.ErrInstrumentNotFound)
	}
	inst.LastPrice = price
	inst.LastUpdated = at
	return nil
}

func (s *Store) LiveZones(_ context.Context, instrumentID int64) ([]*models.Zone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Zone
	for _, z := range s.zones {
		if z.InstrumentID != instrumentID || !z.Status.Live() {
			continue
		}
		cp := *z
		if u, ok := s.users[z.UserID]; ok {
			cp.User = *u
		}
		if inst, ok := s.instruments[z.InstrumentID]; ok {
			cp.Symbol = inst.Symbol
		}
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SaveZone пишет статус и время перехода. Терминальную или удалённую зону не трогаем.
func (s *Store) SaveZone(_ context.Context, zone *models.Zone) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.zones[zone.ID]
	if !ok || !cur.Status.Live() {
		return fmt.Errorf("memory.SaveZone %d: %w", zone.ID, storage.ErrZoneNotFound)
	}
	cur.Status = zone.Status
	cur.EntryAt = keepFirst(cur.EntryAt, zone.EntryAt)
	cur.TargetAt = keepFirst(cur.TargetAt, zone.TargetAt)
	cur.StoplossAt = keepFirst(cur.StoplossAt, zone.StoplossAt)
	cur.FailedAt = keepFirst(cur.FailedAt, zone.FailedAt)
	return nil
}

// каждое время перехода ставится не больше одного раза
func keepFirst(cur, next *time.Time) *time.Time {
	if cur != nil {
		return cur
	}
	return next
}

func (s *Store) Admins(_ context.Context) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.User
	for _, u := range s.users {
		if u.IsAdmin {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
