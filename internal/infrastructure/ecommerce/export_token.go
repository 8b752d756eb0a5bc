package ecommerce

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/erp/catalogsync/internal/domain/integration"
)

// Credential is an opaque bearer token. It is a value: a request built with one
// Credential keeps it even if the holder is refreshed meanwhile.
type Credential string

// IsZero returns true if no token is held
func (c Credential) IsZero() bool {
	return c == ""
}

// Apply sets the Authorization header on req
func (c Credential) Apply(req *http.Request) {
	if c.IsZero() {
		return
	}
	req.Header.Set("Authorization", "Bearer "+string(c))
}

// String hides the token value from logs
func (c Credential) String() string {
	if c.IsZero() {
		return "<none>"
	}
	return "<redacted>"
}

// TokenSource supplies bearer credentials to the retry executor
type TokenSource interface {
	// Current returns the held credential without blocking
	Current() Credential
	// Ensure obtains a credential if none is held yet
	Ensure(ctx context.Context) (Credential, error)
	// Refresh replaces the held credential with a freshly exchanged one
	Refresh(ctx context.Context) (Credential, error)
}

// TokenHolder holds the platform bearer token and refreshes it with a
// client-credentials exchange. Concurrent refreshes share one exchange.
type TokenHolder struct {
	config     *ExportConfig
	httpClient *http.Client
	logger     *zap.Logger
	observer   ExportObserver

	token     atomic.Pointer[Credential]
	group     singleflight.Group
	exchanges atomic.Int64
}

// NewTokenHolder creates a token holder; no exchange happens until Ensure or Refresh
func NewTokenHolder(config *ExportConfig, httpClient *http.Client, logger *zap.Logger) *TokenHolder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenHolder{
		config:     config,
		httpClient: httpClient,
		logger:     logger,
		observer:   nopObserver{},
	}
}

// Current returns the held credential
func (h *TokenHolder) Current() Credential {
	if c := h.token.Load(); c != nil {
		return *c
	}
	return ""
}

// Set replaces the held credential
func (h *TokenHolder) Set(c Credential) {
	h.token.Store(&c)
}

// Exchanges returns how many token exchanges have been performed
func (h *TokenHolder) Exchanges() int64 {
	return h.exchanges.Load()
}

// Ensure returns the held credential, exchanging for one if none is held
func (h *TokenHolder) Ensure(ctx context.Context) (Credential, error) {
	if c := h.Current(); !c.IsZero() {
		return c, nil
	}
	return h.Refresh(ctx)
}

// Refresh exchanges client credentials for a new token and stores it
func (h *TokenHolder) Refresh(ctx context.Context) (Credential, error) {
	ch := h.group.DoChan("token", func() (any, error) {
		// The exchange outlives a single caller's cancellation; other waiters may still need it.
		c, err := h.exchange(context.WithoutCancel(ctx))
		if err != nil {
			return Credential(""), err
		}
		h.Set(c)
		return c, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		h.observer.TokenRefreshed(ctx, res.Err)
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(Credential), nil
	}
}

// exchange performs one client-credentials token request
func (h *TokenHolder) exchange(ctx context.Context) (Credential, error) {
	h.exchanges.Add(1)

	form := url.Values{}
	form.Set("client_id", h.config.ClientID)
	form.Set("client_secret", h.config.ClientSecret)
	form.Set("grant_type", "client_credentials")
	if h.config.Scope != "" {
		form.Set("scope", h.config.Scope)
	}

	tokenURL := h.config.endpoint(h.config.TokenPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("%w: create token request: %v", integration.ErrPlatformAuthFailed, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	setApplicationHeaders(req, h.config.ApplicationName)

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", integration.ErrPlatformUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", fmt.Errorf("%w: read token response: %v", integration.ErrPlatformAuthFailed, err)
	}
	if !isSuccessStatus(resp.StatusCode) {
		h.logger.Error("Token exchange rejected",
			zap.Int("status_code", resp.StatusCode),
			zap.String("token_url", tokenURL),
		)
		return "", fmt.Errorf("%w: %w", integration.ErrPlatformAuthFailed, newHTTPError(req.Method, tokenURL, resp.StatusCode, body))
	}

	var token tokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return "", fmt.Errorf("%w: decode token response: %v", integration.ErrPlatformInvalidResponse, err)
	}
	if strings.TrimSpace(token.AccessToken) == "" {
		return "", fmt.Errorf("%w: empty access_token", integration.ErrPlatformAuthFailed)
	}

	h.logger.Info("Platform token refreshed",
		zap.String("token_type", token.TokenType),
		zap.Int("expires_in", token.ExpiresIn),
	)
	return Credential(token.AccessToken), nil
}

// setApplicationHeaders identifies this application on an outbound request
func setApplicationHeaders(req *http.Request, applicationName string) {
	req.Header.Set("X-Application-Name", applicationName)
	req.Header.Set("User-Agent", applicationName)
}

var _ TokenSource = (*TokenHolder)(nil)
