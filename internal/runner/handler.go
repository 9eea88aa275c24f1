package runner

import (
	"go.uber.org/zap"

	"zone_watcher/internal/models"
	"zone_watcher/pkg/logger"
)

// binding — колбэки фида, привязанные к конкретной connection.
type binding struct {
	m    *Manager
	conn *connection
}

var _ FeedHandler = (*binding)(nil)

func (b *binding) log() *zap.Logger {
	return logger.L().With(zap.String("conn", b.conn.id.String()))
}

// OnTicks — тики в порядке прихода. Битые и неизвестные инструменты молча отбрасываем.
func (b *binding) OnTicks(ticks []models.Tick) {
	if !b.m.current(b.conn) {
		return
	}
	accepted := 0
	for _, t := range ticks {
		if !t.Valid() {
			continue
		}
		if _, ok := b.m.d.Registry.Lookup(t.InstrumentToken); !ok {
			continue
		}
		if b.m.d.Agg.Ingest(t.InstrumentToken, t.LastPrice, t.Volume, t.LastTradeTime) {
			accepted++
		}
	}
	if accepted > 0 && b.m.d.Observer != nil {
		b.m.d.Observer.TouchTick(b.m.d.Clock.Now())
	}
}

// OnConnect — подписка на актуальный список тикеров и переход в RUNNING.
func (b *binding) OnConnect() {
	if !b.m.current(b.conn) {
		return
	}
	log := b.log()
	log.Info("[MANAGER] successfully connected to websocket")

	tokens, err := b.m.d.Registry.Load(b.m.runCtx(), b.m.d.Store)
	if err != nil {
		log.Error("[MANAGER] failed to load tickers, using cached list", zap.Error(err))
		tokens = b.m.d.Registry.Tokens()
	}

	if len(tokens) == 0 {
		log.Warn("[MANAGER] no instruments to subscribe to")
	} else {
		if err := b.conn.feed.Subscribe(tokens); err != nil {
			log.Error("[MANAGER] subscribe failed", zap.Error(err))
			return
		}
		if err := b.conn.feed.SetMode(ModeFull, tokens); err != nil {
			log.Error("[MANAGER] set mode failed", zap.Error(err))
			return
		}
		log.Info("[MANAGER] subscribed", zap.Int("instruments", len(tokens)))
	}

	if !b.m.promote(b.conn) {
		log.Warn("[MANAGER] connection was torn down while subscribing, ignoring")
	}
}

func (b *binding) OnClose(code int, reason string) {
	if !b.m.current(b.conn) {
		return
	}
	b.log().Warn("[MANAGER] connection closed", zap.Int("code", code), zap.String("reason", reason))
	b.m.teardown(b.conn, "closed")
}

func (b *binding) OnError(code int, reason string) {
	if !b.m.current(b.conn) {
		return
	}
	b.log().Error("[MANAGER] error in websocket", zap.Int("code", code), zap.String("reason", reason))
	b.m.teardown(b.conn, "error")
}

func (b *binding) OnReconnect(attempt int) {
	if !b.m.current(b.conn) {
		return
	}
	b.log().Info("[MANAGER] reconnecting", zap.Int("attempt", attempt))
}

func (b *binding) OnGiveUp() {
	if !b.m.current(b.conn) {
		return
	}
	b.log().Error("[MANAGER] maximum reconnection attempts reached")
	b.m.teardown(b.conn, "gave up")
	b.m.invalidateSession()
}
