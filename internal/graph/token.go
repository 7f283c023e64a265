package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"photorelay/internal/models"
)

// TokenConfig carries the identity-provider exchange parameters.
type TokenConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	// RefreshToken is the long-lived token from config. When empty the source
	// falls back to the client_credentials grant.
	RefreshToken string
	Scope        string
}

// TokenSource caches a bearer token and its expiry, the only state shared
// across concurrent requests. Reads take a snapshot under RLock; refreshes are
// collapsed so concurrent expired callers trigger a single provider call and
// all wait for its result.
type TokenSource struct {
	cfg  TokenConfig
	http *http.Client

	mu   sync.RWMutex
	cred models.Credential

	group singleflight.Group
}

func NewTokenSource(cfg TokenConfig, httpClient *http.Client) *TokenSource {
	return &TokenSource{cfg: cfg, http: httpClient}
}

// Token returns a valid access token, refreshing only when the cached one is
// absent or expired. The fast path performs no network call.
func (t *TokenSource) Token(ctx context.Context) (string, error) {
	t.mu.RLock()
	cred := t.cred
	t.mu.RUnlock()
	if cred.Valid(time.Now()) {
		return cred.AccessToken, nil
	}
	return t.Refresh(ctx)
}

// Refresh exchanges the stored credentials for a new access token. On success
// the cached token, rotated refresh token, and expiry are replaced together;
// on failure the prior state is kept and the error propagates.
func (t *TokenSource) Refresh(ctx context.Context) (string, error) {
	v, err, _ := t.group.Do("refresh", func() (interface{}, error) {
		return t.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

func (t *TokenSource) refresh(ctx context.Context) (string, error) {
	t.mu.RLock()
	refreshToken := t.cred.RefreshToken
	t.mu.RUnlock()
	if refreshToken == "" {
		refreshToken = t.cfg.RefreshToken
	}

	form := url.Values{}
	form.Set("client_id", t.cfg.ClientID)
	form.Set("client_secret", t.cfg.ClientSecret)
	if t.cfg.Scope != "" {
		form.Set("scope", t.cfg.Scope)
	}
	if refreshToken != "" {
		form.Set("grant_type", "refresh_token")
		form.Set("refresh_token", refreshToken)
	} else {
		form.Set("grant_type", "client_credentials")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("token endpoint: %v: %w", err, ErrAuth)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("token endpoint: status %d: %s: %w", resp.StatusCode, strings.TrimSpace(string(body)), ErrAuth)
	}

	var decoded tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode token response: %v: %w", err, ErrAuth)
	}
	if decoded.AccessToken == "" {
		return "", fmt.Errorf("token endpoint returned no access_token: %w", ErrAuth)
	}

	rotated := decoded.RefreshToken
	if rotated == "" {
		rotated = refreshToken
	}
	cred := models.Credential{
		AccessToken:  decoded.AccessToken,
		RefreshToken: rotated,
		ExpiresAt:    time.Now().Add(time.Duration(decoded.ExpiresIn) * time.Second),
	}

	t.mu.Lock()
	t.cred = cred
	t.mu.Unlock()

	return cred.AccessToken, nil
}
