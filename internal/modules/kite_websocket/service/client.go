package service

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"zone_watcher/internal/models"
	"zone_watcher/internal/runner"
	"zone_watcher/pkg/logger"
)

const (
	defaultPingInterval     = 20 * time.Second
	defaultWriteTimeout     = 5 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
	readLimit               = 1 << 20
)

var (
	// ErrNotConnected — команда до Connect или после Close.
	ErrNotConnected = errors.New("feed is not connected")
	errClosed       = errors.New("feed is closed")
)

type Config struct {
	URL string

	PingInterval time.Duration

	// реконнект после обрыва; 0 попыток — сразу OnGiveUp
	ReconnectMaxAttempts int
	ReconnectMinDelay    time.Duration
	ReconnectMaxDelay    time.Duration

	Location *time.Location
}

// Dialer создаёт клиента под каждую сессию менеджера.
type Dialer struct {
	cfg Config
	ws  *websocket.Dialer
}

var _ runner.Dialer = (*Dialer)(nil)

func NewDialer(cfg Config) *Dialer {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.ReconnectMinDelay <= 0 {
		cfg.ReconnectMinDelay = time.Second
	}
	if cfg.ReconnectMaxDelay < cfg.ReconnectMinDelay {
		cfg.ReconnectMaxDelay = cfg.ReconnectMinDelay
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Dialer{
		cfg: cfg,
		ws: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: defaultHandshakeTimeout,
		},
	}
}

func (d *Dialer) NewFeed(sess *models.Session, h runner.FeedHandler) (runner.Feed, error) {
	if sess == nil {
		return nil, errors.New("nil session")
	}
	u, err := url.Parse(d.cfg.URL)
	if err != nil {
		return nil, errors.Wrap(err, "parse feed url")
	}
	q := u.Query()
	q.Set("api_key", sess.APIKey)
	q.Set("access_token", sess.AccessToken)
	u.RawQuery = q.Encode()

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:    d.cfg,
		url:    u.String(),
		ws:     d.ws,
		h:      h,
		ctx:    ctx,
		cancel: cancel,
		mode:   runner.ModeFull,
	}, nil
}

// Client — одно логическое подключение к фиду с автореконнектом.
// Колбэки вызываются из горутины чтения.
type Client struct {
	cfg Config
	url string
	ws  *websocket.Dialer
	h   runner.FeedHandler

	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex // WriteMessage не потокобезопасен, control-кадры можно без него

	mu      sync.Mutex
	conn    *websocket.Conn
	started bool
	tokens  []uint32
	mode    string

	closeOnce sync.Once
	endOnce   sync.Once // OnClose / OnError / OnGiveUp — только одно и один раз
}

var _ runner.Feed = (*Client)(nil)

// Connect открывает соединение. OnConnect придёт уже из горутины чтения.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errors.New("feed already connected")
	}
	if c.ctx.Err() != nil {
		c.mu.Unlock()
		return errClosed
	}
	c.started = true
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	if !c.attach(conn) {
		_ = conn.Close()
		return errClosed
	}
	go c.loop(conn)
	return nil
}

// Close шлёт нормальный close-кадр и не ждёт горутину чтения.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		if conn != nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = conn.Close()
		}
		c.finish(func() { c.h.OnClose(websocket.CloseNormalClosure, "client close") })
	})
	return nil
}

func (c *Client) Subscribe(tokens []uint32) error {
	c.mu.Lock()
	c.tokens = append([]uint32(nil), tokens...)
	c.mu.Unlock()
	return errors.Wrap(c.write(subscribeCommand(tokens)), "subscribe")
}

func (c *Client) SetMode(mode string, tokens []uint32) error {
	c.mu.Lock()
	c.mode = mode
	c.mu.Unlock()
	return errors.Wrap(c.write(modeCommand(mode, tokens)), "set mode")
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := c.ws.DialContext(ctx, c.url, nil)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "dial feed: http %d", resp.StatusCode)
		}
		return nil, errors.Wrap(err, "dial feed")
	}
	conn.SetReadLimit(readLimit)
	return conn, nil
}

// attach делает conn текущим соединением, если клиент ещё не закрыт.
func (c *Client) attach(conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx.Err() != nil {
		return false
	}
	c.conn = conn
	return true
}

func (c *Client) write(cmd command) error {
	data, err := sonic.Marshal(cmd)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil || c.ctx.Err() != nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) finish(fn func()) {
	c.endOnce.Do(fn)
}

func (c *Client) loop(conn *websocket.Conn) {
	for {
		c.h.OnConnect()

		err := c.read(conn)
		_ = conn.Close()
		if c.ctx.Err() != nil {
			return
		}

		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			switch ce.Code {
			case websocket.CloseNormalClosure:
				logger.L().Warn("[FEED] server closed connection", zap.Int("code", ce.Code), zap.String("reason", ce.Text))
				c.finish(func() { c.h.OnClose(ce.Code, ce.Text) })
				return
			case websocket.CloseGoingAway, websocket.CloseAbnormalClosure:
			default:
				logger.L().Error("[FEED] server closed connection with error", zap.Int("code", ce.Code), zap.String("reason", ce.Text))
				c.finish(func() { c.h.OnError(ce.Code, ce.Text) })
				return
			}
		}

		logger.L().Warn("[FEED] connection lost, reconnecting", zap.Error(err))
		if conn = c.reconnect(); conn == nil {
			return
		}
	}
}

func (c *Client) reconnect() *websocket.Conn {
	b := &backoff.Backoff{
		Min:    c.cfg.ReconnectMinDelay,
		Max:    c.cfg.ReconnectMaxDelay,
		Factor: 2,
		Jitter: true,
	}

	for attempt := 1; attempt <= c.cfg.ReconnectMaxAttempts; attempt++ {
		c.h.OnReconnect(attempt)

		select {
		case <-c.ctx.Done():
			return nil
		case <-time.After(b.Duration()):
		}

		conn, err := c.dial(c.ctx)
		if err != nil {
			logger.L().Warn("[FEED] reconnect failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		if !c.attach(conn) {
			_ = conn.Close()
			return nil
		}

		c.mu.Lock()
		tokens, mode := c.tokens, c.mode
		c.mu.Unlock()
		if len(tokens) > 0 {
			if err := c.write(subscribeCommand(tokens)); err != nil {
				logger.L().Warn("[FEED] resubscribe failed", zap.Error(err))
			} else if err := c.write(modeCommand(mode, tokens)); err != nil {
				logger.L().Warn("[FEED] restore mode failed", zap.Error(err))
			}
		}
		logger.L().Info("[FEED] reconnected", zap.Int("attempt", attempt), zap.Int("instruments", len(tokens)))
		return conn
	}

	if c.ctx.Err() != nil {
		return nil
	}
	logger.L().Error("[FEED] maximum reconnection attempts reached", zap.Int("attempts", c.cfg.ReconnectMaxAttempts))
	c.finish(func() { c.h.OnGiveUp() })
	return nil
}

// read читает кадры до первой ошибки. Пинг живёт столько же, сколько чтение.
func (c *Client) read(conn *websocket.Conn) error {
	deadline := 2 * c.cfg.PingInterval
	_ = conn.SetReadDeadline(time.Now().Add(deadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	})

	stop := make(chan struct{})
	defer close(stop)
	go c.ping(conn, stop)

	for {
		kind, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(deadline))
		if kind != websocket.TextMessage {
			continue
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg []byte) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("[FEED] panic in tick handler: %v", r)
		}
	}()

	f, err := decodeFrame(msg, c.cfg.Location)
	if err != nil {
		logger.L().Debug("[FEED] skip frame", zap.Error(err))
		return
	}
	if f.Error != "" {
		logger.L().Warn("[FEED] provider error message", zap.String("message", f.Error))
		return
	}
	if len(f.Ticks) > 0 {
		c.h.OnTicks(f.Ticks)
	}
}

func (c *Client) ping(conn *websocket.Conn, stop <-chan struct{}) {
	t := time.NewTicker(c.cfg.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-c.ctx.Done():
			return
		case <-t.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(defaultWriteTimeout)); err != nil {
				logger.L().Debug("[FEED] ping failed", zap.Error(err))
			}
		}
	}
}
