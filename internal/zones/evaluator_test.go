package zones

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"zone_watcher/internal/models"
	"zone_watcher/internal/storage/memory"
)

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) NotifyZoneTransition(ctx context.Context, user models.User, zone models.Zone) {
	m.Called(ctx, user, zone)
}

// flakyStore — memory.Store, у которого можно сломать SaveZone или LiveZones.
type flakyStore struct {
	*memory.Store
	saveErr error
	readErr error
}

func (s *flakyStore) SaveZone(ctx context.Context, z *models.Zone) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	return s.Store.SaveZone(ctx, z)
}

func (s *flakyStore) LiveZones(ctx context.Context, id int64) ([]*models.Zone, error) {
	if s.readErr != nil {
		return nil, s.readErr
	}
	return s.Store.LiveZones(ctx, id)
}

var (
	testInst = models.Instrument{ID: 7, Token: 256265, Symbol: "NIFTY"}
	testUser = models.User{ID: 3, Name: "trader", TelegramChatID: 42}
	evalAt   = time.Date(2026, 10, 19, 10, 0, 10, 0, time.UTC)
)

func seed(zones ...models.Zone) *flakyStore {
	st := memory.NewStore()
	st.PutInstrument(testInst)
	st.PutUser(testUser)
	for _, z := range zones {
		st.PutZone(z)
	}
	return &flakyStore{Store: st}
}

func zone(id int64, dir models.Direction, status models.ZoneStatus) models.Zone {
	z := models.Zone{ID: id, UserID: testUser.ID, InstrumentID: testInst.ID, Symbol: testInst.Symbol,
		Direction: dir, Status: status, Entry: 100, Stoploss: 90, Target: 120}
	if dir == models.DirectionShort {
		z.Stoploss, z.Target = 110, 80
	}
	return z
}

func TestEvaluator_TransitionPersistsAndNotifies(t *testing.T) {
	st := seed(zone(1, models.DirectionLong, models.ZoneActive))
	n := &mockNotifier{}
	n.On("NotifyZoneTransition", mock.Anything, testUser, mock.MatchedBy(func(z models.Zone) bool {
		return z.ID == 1 && z.Status == models.ZoneFailed
	})).Once()

	ev := NewEvaluator(st, n).WithClock(func() time.Time { return evalAt })
	res, err := ev.Evaluate(context.Background(), testInst, bar(89, 101))
	require.NoError(t, err)

	assert.Equal(t, Result{Checked: 1, Transitions: 1, Notified: 1}, res)
	saved, ok := st.Zone(1)
	require.True(t, ok)
	assert.Equal(t, models.ZoneFailed, saved.Status)
	require.NotNil(t, saved.FailedAt)
	assert.True(t, evalAt.Equal(*saved.FailedAt))
	assert.Nil(t, saved.EntryAt)
	n.AssertExpectations(t)
}

func TestEvaluator_Idempotent(t *testing.T) {
	st := seed(zone(1, models.DirectionLong, models.ZoneEntryHit))
	n := &mockNotifier{}
	n.On("NotifyZoneTransition", mock.Anything, mock.Anything, mock.Anything).Once()

	ev := NewEvaluator(st, n)
	c := bar(110, 121)

	res, err := ev.Evaluate(context.Background(), testInst, c)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Transitions)

	res, err = ev.Evaluate(context.Background(), testInst, c)
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)

	saved, _ := st.Zone(1)
	assert.Equal(t, models.ZoneTargetHit, saved.Status)
	n.AssertNumberOfCalls(t, "NotifyZoneTransition", 1)
}

func TestEvaluator_SaveFailureSkipsNotification(t *testing.T) {
	st := seed(zone(1, models.DirectionShort, models.ZoneActive))
	st.saveErr = errors.New("connection reset")
	n := &mockNotifier{}

	ev := NewEvaluator(st, n)
	c := bar(95, 101)
	res, err := ev.Evaluate(context.Background(), testInst, c)
	require.NoError(t, err)
	assert.Equal(t, Result{Checked: 1, SaveErrors: 1}, res)
	n.AssertNotCalled(t, "NotifyZoneTransition", mock.Anything, mock.Anything, mock.Anything)

	saved, _ := st.Zone(1)
	assert.Equal(t, models.ZoneActive, saved.Status)

	// хранилище ожило — та же свеча даёт тот же переход
	st.saveErr = nil
	n.On("NotifyZoneTransition", mock.Anything, mock.Anything, mock.Anything).Once()
	res, err = ev.Evaluate(context.Background(), testInst, c)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Transitions)
	saved, _ = st.Zone(1)
	assert.Equal(t, models.ZoneEntryHit, saved.Status)
	n.AssertExpectations(t)
}

func TestEvaluator_ZoneDeletedBetweenReadAndWrite(t *testing.T) {
	st := seed(zone(1, models.DirectionLong, models.ZoneActive), zone(2, models.DirectionLong, models.ZoneActive))
	n := &mockNotifier{}
	n.On("NotifyZoneTransition", mock.Anything, mock.Anything, mock.MatchedBy(func(z models.Zone) bool { return z.ID == 2 })).Once()

	deleting := &deletingStore{flakyStore: st, victim: 1}
	res, err := NewEvaluator(deleting, n).Evaluate(context.Background(), testInst, bar(99, 101))
	require.NoError(t, err)

	assert.Equal(t, 2, res.Checked)
	assert.Equal(t, 1, res.Transitions)
	assert.Equal(t, 1, res.SaveErrors)
	n.AssertExpectations(t)
}

// deletingStore удаляет зону сразу после чтения.
type deletingStore struct {
	*flakyStore
	victim int64
}

func (s *deletingStore) LiveZones(ctx context.Context, id int64) ([]*models.Zone, error) {
	zs, err := s.flakyStore.LiveZones(ctx, id)
	s.DeleteZone(s.victim)
	return zs, err
}

func TestEvaluator_ReadErrorPropagates(t *testing.T) {
	st := seed()
	st.readErr = errors.New("db down")

	_, err := NewEvaluator(st, nil).Evaluate(context.Background(), testInst, bar(1, 2))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NIFTY")
}

func TestEvaluator_OnlyLiveZonesOfInstrument(t *testing.T) {
	other := zone(3, models.DirectionLong, models.ZoneActive)
	other.InstrumentID = 99
	st := seed(
		zone(1, models.DirectionLong, models.ZoneTargetHit),
		zone(2, models.DirectionLong, models.ZoneActive),
		other,
	)
	n := &mockNotifier{}
	n.On("NotifyZoneTransition", mock.Anything, mock.Anything, mock.Anything)

	res, err := NewEvaluator(st, n).Evaluate(context.Background(), testInst, bar(95, 99))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Checked)
	assert.Equal(t, 1, res.Transitions)

	untouched, _ := st.Zone(3)
	assert.Equal(t, models.ZoneActive, untouched.Status)
}
