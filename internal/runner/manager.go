package runner

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"zone_watcher/internal/candles"
	"zone_watcher/internal/models"
	"zone_watcher/pkg/clock"
	"zone_watcher/pkg/logger"
)

// State — состояние подключения к фиду.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "STARTING"
	case StateRunning:
		return "RUNNING"
	}
	return "STOPPED"
}

// ModeFull — полный режим тиков (цена, объём, время сделки).
const ModeFull = "full"

// Feed — соединение с провайдером котировок. Один экземпляр на одну сессию.
type Feed interface {
	Connect(ctx context.Context) error
	Close() error
	Subscribe(tokens []uint32) error
	SetMode(mode string, tokens []uint32) error
}

// FeedHandler — колбэки фида. Вызываются из горутины фида.
type FeedHandler interface {
	OnTicks(ticks []models.Tick)
	OnConnect()
	OnClose(code int, reason string)
	OnError(code int, reason string)
	OnReconnect(attempt int)
	OnGiveUp()
}

// Dialer создаёт свежий фид под каждую попытку подключения.
type Dialer interface {
	NewFeed(sess *models.Session, h FeedHandler) (Feed, error)
}

type SessionProvider interface {
	EnsureLogin(ctx context.Context) (*models.Session, error)
}

// SessionInvalidator — провайдер сессий, умеющий сбросить кэш. Тогда после
// отказа фида следующий логин снова проверит токен.
type SessionInvalidator interface {
	Invalidate()
}

type MarketHours interface {
	IsOpen(t time.Time) bool
	NextOpen(now time.Time) time.Time
	NextClose(now time.Time) time.Time
}

type Store interface {
	InstrumentLister
	Admins(ctx context.Context) ([]models.User, error)
}

// AdminAlerter — алерт админам, что логин к провайдеру не проходит.
type AdminAlerter interface {
	NotifyLoginFailure(ctx context.Context, admin models.User)
}

// Observer — сюда manager сообщает о своём состоянии (health).
type Observer interface {
	SetManagerState(state string)
	SetFeedConnected(v bool)
	TouchTick(t time.Time)
}

type Deps struct {
	Hours    MarketHours
	Sessions SessionProvider
	Dialer   Dialer
	Store    Store
	Alerter  AdminAlerter
	Agg      *candles.Aggregator
	Flusher  *Flusher
	Registry *Registry
	Observer Observer
	Clock    clock.Clock
}

// connection — одна попытка подключения. Колбэки от чужой (уже снесённой) connection игнорируются.
type connection struct {
	id      uuid.UUID
	feed    Feed
	ack     chan struct{}
	ackOnce sync.Once
}

func (c *connection) acknowledge() {
	c.ackOnce.Do(func() { close(c.ack) })
}

// Manager держит фид живым в торговые часы: логин, подключение, подписка,
// остановка после закрытия и бэкофф при сбоях.
type Manager struct {
	policy Policy
	d      Deps

	state atomic.Int32

	mu   sync.Mutex
	conn *connection
	ctx  context.Context // контекст Run, нужен колбэкам фида

	// трогает только горутина Run
	faults int
}

func NewManager(policy Policy, d Deps) *Manager {
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}
	if d.Registry == nil {
		d.Registry = NewRegistry()
	}
	m := &Manager{policy: policy.withDefaults(), d: d, ctx: context.Background()}
	m.setState(StateStopped)
	return m
}

func (m *Manager) State() State { return State(m.state.Load()) }

func (m *Manager) setState(s State) {
	old := State(m.state.Swap(int32(s)))
	if old != s {
		logger.Info("[MANAGER] %s -> %s", old, s)
	}
	if m.d.Observer != nil {
		m.d.Observer.SetManagerState(s.String())
		m.d.Observer.SetFeedConnected(s == StateRunning)
	}
}

// Run — управляющий цикл. Не завершается сам: только по отмене ctx.
func (m *Manager) Run(ctx context.Context) {
	m.mu.Lock()
	m.ctx = ctx
	m.mu.Unlock()

	logger.Info("[MANAGER] control loop started")
	for {
		wait := m.iterate(ctx)
		if err := clock.Sleep(ctx, m.d.Clock, wait); err != nil {
			m.Stop("shutdown")
			logger.Info("[MANAGER] control loop finished")
			return
		}
	}
}

// iterate — один шаг с перехватом ошибок и паник. Возвращает паузу до следующего шага.
func (m *Manager) iterate(ctx context.Context) (wait time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			wait = m.fault(fmt.Errorf("panic: %v", r))
		}
	}()

	wait, err := m.Step(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return 0
		}
		return m.fault(err)
	}
	m.faults = 0
	return wait
}

func (m *Manager) fault(err error) time.Duration {
	logger.L().Error("[MANAGER] unexpected error in main loop", zap.Error(err))
	m.Stop("fault")

	m.faults++
	if m.faults >= m.policy.MaxFaults {
		logger.Error("[MANAGER] too many errors in main loop (%d), waiting %s", m.faults, m.policy.LongFaultBackoff)
		m.faults = 0
		return m.policy.LongFaultBackoff
	}
	return m.policy.FaultBackoff
}

// Step решает, что делать сейчас, и возвращает паузу до следующего шага.
func (m *Manager) Step(ctx context.Context) (time.Duration, error) {
	now := m.d.Clock.Now()

	if m.d.Hours.IsOpen(now) {
		if m.State() == StateStopped {
			logger.Info("[MANAGER] market hours started, initializing connection, close at %s",
				m.d.Hours.NextClose(now).Format(time.RFC3339))
			return m.start(ctx)
		}
		return m.policy.Poll, nil
	}

	if m.State() != StateStopped {
		logger.Info("[MANAGER] market hours over, stopping connection")
		m.Stop("market closed")
		// фид закрыт, новых тиков не будет: добиваем последние окна дня
		rep := m.d.Flusher.Drain(ctx, now)
		logger.L().Info("[MANAGER] final flush",
			zap.Int("candles", rep.Candles),
			zap.Int("failed", rep.Failed),
			zap.Int("transitions", rep.Transitions))
	}
	next := m.d.Hours.NextOpen(now)
	wait := m.policy.sleepUntil(now, next)
	logger.Info("[MANAGER] market closed, next open %s, sleeping %s", next.Format(time.RFC3339), wait)
	return wait, nil
}

func (m *Manager) start(ctx context.Context) (time.Duration, error) {
	sess, err := m.login(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		logger.Error("[MANAGER] login failed after %d attempts, alerting admins and waiting %s",
			m.policy.LoginAttempts, m.policy.LoginBackoff)
		m.alertAdmins(ctx)
		return m.policy.LoginBackoff, nil
	}

	conn := &connection{id: uuid.New(), ack: make(chan struct{})}
	feed, err := m.d.Dialer.NewFeed(sess, &binding{m: m, conn: conn})
	if err != nil {
		return 0, fmt.Errorf("new feed: %w", err)
	}
	conn.feed = feed

	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()

	m.d.Flusher.Start(ctx)
	m.setState(StateStarting)

	log := logger.L().With(zap.String("conn", conn.id.String()))
	if err := feed.Connect(ctx); err != nil {
		log.Error("[MANAGER] feed connect failed", zap.Error(err))
		m.teardown(conn, "connect failed")
		m.invalidateSession()
		return m.policy.Poll, nil
	}

	timeout := m.d.Clock.After(m.policy.ConnectGrace)
	select {
	case <-conn.ack:
	case <-ctx.Done():
		m.teardown(conn, "shutdown")
		return 0, ctx.Err()
	case <-timeout:
		select {
		case <-conn.ack:
		default:
			log.Error("[MANAGER] websocket did not connect in time, retrying",
				zap.Duration("grace", m.policy.ConnectGrace))
			m.teardown(conn, "connect timeout")
			return m.policy.Poll, nil
		}
	}
	log.Info("[MANAGER] feed connected")
	return m.policy.Poll, nil
}

// login — несколько попыток с фиксированной паузой.
func (m *Manager) login(ctx context.Context) (*models.Session, error) {
	var lastErr error
	for attempt := 1; attempt <= m.policy.LoginAttempts; attempt++ {
		sess, err := m.d.Sessions.EnsureLogin(ctx)
		if err == nil {
			logger.Info("[MANAGER] logged in to provider")
			return sess, nil
		}
		lastErr = err
		logger.L().Error("[MANAGER] login failed",
			zap.Int("attempt", attempt),
			zap.Int("max", m.policy.LoginAttempts),
			zap.Error(err))

		if attempt < m.policy.LoginAttempts {
			if err := clock.Sleep(ctx, m.d.Clock, m.policy.LoginRetryDelay); err != nil {
				return nil, err
			}
		}
	}
	return nil, lastErr
}

// invalidateSession — токен мог быть отозван посреди дня: следующий login
// сходит к провайдеру заново и при отказе дойдёт до алерта админам.
func (m *Manager) invalidateSession() {
	if inv, ok := m.d.Sessions.(SessionInvalidator); ok {
		inv.Invalidate()
		logger.Info("[MANAGER] cached session dropped")
	}
}

func (m *Manager) alertAdmins(ctx context.Context) {
	if m.d.Alerter == nil {
		return
	}
	admins, err := m.d.Store.Admins(ctx)
	if err != nil {
		logger.L().Error("[MANAGER] load admins failed", zap.Error(err))
		return
	}
	for _, a := range admins {
		m.d.Alerter.NotifyLoginFailure(ctx, a)
	}
}

// Stop гасит флашер и фид текущей сессии. Безопасен для повторного вызова.
func (m *Manager) Stop(reason string) {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()

	if conn != nil {
		m.teardown(conn, reason)
		return
	}
	m.d.Flusher.Stop()
	m.setState(StateStopped)
}

// teardown сносит conn, если она всё ещё текущая.
func (m *Manager) teardown(conn *connection, reason string) {
	m.mu.Lock()
	if m.conn != conn {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.mu.Unlock()

	m.d.Flusher.Stop()
	if conn.feed != nil {
		if err := conn.feed.Close(); err != nil {
			logger.L().Warn("[MANAGER] feed close failed", zap.Error(err))
		}
	}
	m.setState(StateStopped)
	logger.L().Info("[MANAGER] connection stopped",
		zap.String("conn", conn.id.String()), zap.String("reason", reason))
}

// promote переводит conn в RUNNING, только если она всё ещё текущая.
// Проверка и смена состояния под одним мьютексом с teardown.
func (m *Manager) promote(conn *connection) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != conn {
		return false
	}
	m.setState(StateRunning)
	conn.acknowledge()
	return true
}

func (m *Manager) current(conn *connection) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn == conn
}

func (m *Manager) runCtx() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ctx
}

// Stats — свечи в работе, для диагностики.
func (m *Manager) Stats() []CandleStat {
	now := m.d.Clock.Now()
	raw := m.d.Agg.Stats(now)
	out := make([]CandleStat, 0, len(raw))
	for _, s := range raw {
		symbol := fmt.Sprintf("%d", s.Token)
		if inst, ok := m.d.Registry.Lookup(s.Token); ok {
			symbol = inst.Symbol
		}
		st := CandleStat{
			Symbol:     symbol,
			Ticks:      s.Ticks,
			Candle:     s.Candle.String(),
			AgeSeconds: s.Age.Seconds(),
		}
		if s.Last != nil {
			st.LastClosed = s.Last.String()
		}
		out = append(out, st)
	}
	return out
}

type CandleStat struct {
	Symbol     string  `json:"symbol"`
	Ticks      int     `json:"ticks"`
	Candle     string  `json:"candle"`
	AgeSeconds float64 `json:"age_seconds"`
	LastClosed string  `json:"last_closed,omitempty"`
}
