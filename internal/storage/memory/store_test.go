package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zone_watcher/internal/models"
	"zone_watcher/internal/storage"
)

func seeded() *Store {
	s := NewStore()
	s.PutInstrument(models.Instrument{ID: 2, Token: 260105, Symbol: "NIFTY BANK"})
	s.PutInstrument(models.Instrument{ID: 1, Token: 256265, Symbol: "NIFTY 50"})
	s.PutUser(models.User{ID: 10, Name: "trader", TelegramChatID: 100})
	s.PutUser(models.User{ID: 20, Name: "root", IsAdmin: true})
	s.PutZone(models.Zone{ID: 3, UserID: 10, InstrumentID: 1, Status: models.ZoneEntryHit})
	s.PutZone(models.Zone{ID: 1, UserID: 10, InstrumentID: 1, Status: models.ZoneActive})
	s.PutZone(models.Zone{ID: 2, UserID: 10, InstrumentID: 1, Status: models.ZoneTargetHit})
	s.PutZone(models.Zone{ID: 4, UserID: 10, InstrumentID: 2, Status: models.ZoneActive})
	return s
}

func TestStore_Instruments(t *testing.T) {
	s := seeded()
	ctx := context.Background()

	insts, err := s.ListInstruments(ctx)
	require.NoError(t, err)
	require.Len(t, insts, 2)
	assert.Equal(t, int64(1), insts[0].ID)

	at := time.Date(2026, 10, 19, 10, 0, 5, 0, time.UTC)
	require.NoError(t, s.UpdateInstrumentPrice(ctx, 1, 25010.5, at))
	inst, err := s.GetInstrument(ctx, 256265)
	require.NoError(t, err)
	assert.Equal(t, 25010.5, inst.LastPrice)
	assert.True(t, at.Equal(inst.LastUpdated))

	_, err = s.GetInstrument(ctx, 1)
	assert.ErrorIs(t, err, storage.ErrInstrumentNotFound)
	assert.ErrorIs(t, s.UpdateInstrumentPrice(ctx, 99, 1, at), storage.ErrInstrumentNotFound)
}

func TestStore_LiveZones(t *testing.T) {
	s := seeded()

	zones, err := s.LiveZones(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, zones, 2)
	assert.Equal(t, int64(1), zones[0].ID)
	assert.Equal(t, int64(3), zones[1].ID)
	assert.Equal(t, "NIFTY 50", zones[0].Symbol)
	assert.Equal(t, int64(100), zones[0].User.TelegramChatID)

	// LiveZones отдаёт копии
	zones[0].Status = models.ZoneFailed
	z, _ := s.Zone(1)
	assert.Equal(t, models.ZoneActive, z.Status)
}

func TestStore_SaveZone(t *testing.T) {
	s := seeded()
	ctx := context.Background()
	first := time.Date(2026, 10, 19, 10, 0, 5, 0, time.UTC)
	later := first.Add(time.Hour)

	require.NoError(t, s.SaveZone(ctx, &models.Zone{ID: 1, Status: models.ZoneEntryHit, EntryAt: &first}))
	require.NoError(t, s.SaveZone(ctx, &models.Zone{ID: 1, Status: models.ZoneEntryHit, EntryAt: &later}))
	z, _ := s.Zone(1)
	assert.Equal(t, models.ZoneEntryHit, z.Status)
	assert.True(t, first.Equal(*z.EntryAt), "transition time is written once")

	require.NoError(t, s.SaveZone(ctx, &models.Zone{ID: 1, Status: models.ZoneTargetHit, TargetAt: &later}))
	assert.ErrorIs(t, s.SaveZone(ctx, &models.Zone{ID: 1, Status: models.ZoneStoplossHit}), storage.ErrZoneNotFound, "terminal zone is frozen")

	s.DeleteZone(4)
	assert.ErrorIs(t, s.SaveZone(ctx, &models.Zone{ID: 4, Status: models.ZoneEntryHit}), storage.ErrZoneNotFound)
}

func TestStore_Admins(t *testing.T) {
	admins, err := seeded().Admins(context.Background())
	require.NoError(t, err)
	require.Len(t, admins, 1)
	assert.Equal(t, "root", admins[0].Name)
}
