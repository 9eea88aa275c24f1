package service

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"zone_watcher/internal/models"
	"zone_watcher/pkg/logger"
)

// ErrLoginFailed — провайдер отверг ключ или токен.
var ErrLoginFailed = errors.New("provider login failed")

type Config struct {
	APIURL      string
	APIKey      string
	AccessToken string
	Location    *time.Location
}

// Provider проверяет учётные данные через профиль пользователя и кэширует
// сессию до конца торгового дня.
type Provider struct {
	cfg  Config
	http *http.Client
	now  func() time.Time

	mu     sync.Mutex
	cached *models.Session
}

func NewProvider(cfg Config) *Provider {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	return &Provider{
		cfg:  cfg,
		http: &http.Client{Timeout: 10 * time.Second},
		now:  time.Now,
	}
}

type profileResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	ErrorType string `json:"error_type"`
	Data      struct {
		UserID   string `json:"user_id"`
		UserName string `json:"user_name"`
	} `json:"data"`
}

func (p *Provider) EnsureLogin(ctx context.Context) (*models.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if p.cached != nil && sameDay(p.cached.LoginAt, now, p.cfg.Location) {
		return p.cached, nil
	}
	p.cached = nil

	if p.cfg.APIKey == "" || p.cfg.AccessToken == "" {
		return nil, errors.Wrap(ErrLoginFailed, "api key or access token is empty")
	}

	profile, err := p.profile(ctx)
	if err != nil {
		return nil, err
	}

	sess := &models.Session{
		APIKey:      p.cfg.APIKey,
		AccessToken: p.cfg.AccessToken,
		UserID:      profile.Data.UserID,
		LoginAt:     now,
	}
	p.cached = sess
	logger.L().Info("[SESSION] provider session validated", zap.String("user_id", sess.UserID))
	return sess, nil
}

// Invalidate сбрасывает кэш, следующий EnsureLogin снова сходит к провайдеру.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	p.cached = nil
	p.mu.Unlock()
}

func (p *Provider) profile(ctx context.Context) (*profileResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.APIURL+"/user/profile", nil)
	if err != nil {
		return nil, errors.Wrap(err, "build profile request")
	}
	req.Header.Set("X-Kite-Version", "3")
	req.Header.Set("Authorization", fmt.Sprintf("token %s:%s", p.cfg.APIKey, p.cfg.AccessToken))

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "profile request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(err, "read profile response")
	}

	var out profileResponse
	if err := sonic.Unmarshal(body, &out); err != nil {
		return nil, errors.Wrapf(err, "decode profile response (http %d)", resp.StatusCode)
	}
	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized ||
		out.ErrorType == "TokenException" {
		return nil, errors.Wrapf(ErrLoginFailed, "%s: %s", out.ErrorType, out.Message)
	}
	if resp.StatusCode != http.StatusOK || out.Status != "success" {
		return nil, errors.Errorf("profile: http %d, status %q: %s", resp.StatusCode, out.Status, out.Message)
	}
	return &out, nil
}

func sameDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}
