package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/xmastree/datasleigh/internal/config"
)

// refreshMargin is how long before expiry the token is proactively
// refreshed, grounded on
// `_examples/original_source/data_sleigh/src/data_sleigh/yolink_client.py::check_and_refresh_token`.
const refreshMargin = 5 * time.Minute

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// tokenManager performs the client-credentials OAuth2 exchange against
// Source B's token endpoint and caches the result until it is close to
// expiring.
type tokenManager struct {
	cfg    config.SourceB
	client *resty.Client
	logger *zap.Logger

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func newTokenManager(cfg config.SourceB, logger *zap.Logger) *tokenManager {
	return &tokenManager{
		cfg:    cfg,
		client: resty.New().SetTimeout(10 * time.Second),
		logger: logger.Named("ingest.sourceb.oauth"),
	}
}

// AccessToken returns a valid bearer token, fetching or refreshing one
// if needed.
func (m *tokenManager) AccessToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token != "" && time.Until(m.expiresAt) > refreshMargin {
		return m.token, nil
	}
	return m.fetch(ctx)
}

func (m *tokenManager) fetch(ctx context.Context) (string, error) {
	var out tokenResponse
	resp, err := m.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"grant_type":    "client_credentials",
			"client_id":     m.cfg.UAID,
			"client_secret": m.cfg.SecretKey,
		}).
		SetResult(&out).
		Post(m.cfg.TokenURL)
	if err != nil {
		return "", fmt.Errorf("requesting access token: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("token endpoint returned %s", resp.Status())
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("token response missing access_token")
	}

	expiresIn := out.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 7200
	}

	m.token = out.AccessToken
	m.expiresAt = time.Now().Add(time.Duration(expiresIn) * time.Second)
	m.logger.Debug("refreshed access token", zap.Time("expires_at", m.expiresAt))

	return m.token, nil
}
