package talker

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/jonboulle/clockwork"
)

// TokenManager fetches and caches the push channel token.
type TokenManager struct {
	endpoint      string
	headers       map[string]string
	refreshBuffer time.Duration
	client        *http.Client
	clock         clockwork.Clock

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func NewTokenManager(endpoint string, headers map[string]string, refreshBuffer time.Duration) *TokenManager {
	return &TokenManager{
		endpoint:      endpoint,
		headers:       headers,
		refreshBuffer: refreshBuffer,
		client:        &http.Client{Timeout: 30 * time.Second},
		clock:         clockwork.NewRealClock(),
	}
}

// GetToken returns the cached token, refreshing it when it expires within the
// refresh buffer.
func (tm *TokenManager) GetToken(ctx context.Context) (string, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.token != "" && tm.clock.Now().Before(tm.expiresAt.Add(-tm.refreshBuffer)) {
		return tm.token, nil
	}
	return tm.refreshToken(ctx)
}

func (tm *TokenManager) refreshToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tm.endpoint, bytes.NewBufferString("{}"))
	if err != nil {
		return "", WrapErrorf(err, ErrCodeConfigInvalid, "invalid token endpoint").AddDetail("endpoint", tm.endpoint)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range tm.headers {
		req.Header.Set(k, v)
	}

	resp, err := tm.client.Do(req)
	if err != nil {
		return "", WrapErrorf(err, ErrCodeConnectionFailed, "token request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", NewTokenError("failed to refresh token").AddDetail("status_code", resp.StatusCode)
	}

	var data WSToken
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", WrapError(err, ErrCodeJSONParse)
	}
	if data.Token == "" {
		return "", NewTokenError("no token received")
	}

	expiresAt := time.UnixMilli(data.ExpiresAt)
	if data.ExpiresAt == 0 {
		exp, err := tokenExpiry(data.Token)
		if err != nil {
			return "", err
		}
		expiresAt = exp
	}

	tm.token = data.Token
	tm.expiresAt = expiresAt
	return tm.token, nil
}

// tokenExpiry reads the exp claim without verifying the signature; the
// server does the verification.
func tokenExpiry(token string) (time.Time, error) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, WrapErrorf(err, ErrCodeTokenExpired, "token has no expiry")
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, NewTokenError("token has no expiry")
	}
	return claims.ExpiresAt.Time, nil
}

// Clear drops the cached token.
func (tm *TokenManager) Clear() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.token = ""
	tm.expiresAt = time.Time{}
}

// TokenInfo returns the cached token and its expiry, or ok=false when empty.
func (tm *TokenManager) TokenInfo() (token string, expiresAt time.Time, ok bool) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.token == "" {
		return "", time.Time{}, false
	}
	return tm.token, tm.expiresAt, true
}
