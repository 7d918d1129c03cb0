// Package quota polls the quota provider per account, maintaining a
// cache of per-model and per-family remaining quota.
package quota

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/j-veylop/antigravity-quota-hub/internal/logger"
)

// Google OAuth token endpoint
const googleOAuthURL = "https://oauth2.googleapis.com/token"

// TokenResponse represents the OAuth token response from Google.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
	TokenType    string `json:"token_type"`
	IDToken      string `json:"id_token,omitempty"`
}

// CachedToken represents a cached access token with expiration.
type CachedToken struct {
	AccessToken string
	ExpiresAt   time.Time
}

// tokenReuseBuffer is how close to expiry a cached token may be and
// still be reused; anything closer triggers a fresh exchange.
const tokenReuseBuffer = 60 * time.Second

// IsValid checks if the cached token is still usable.
func (t *CachedToken) IsValid() bool {
	if t == nil || t.AccessToken == "" {
		return false
	}
	return time.Now().Add(tokenReuseBuffer).Before(t.ExpiresAt)
}

// RefreshAccessToken exchanges a refresh token for a new access token.
// A nil client falls back to a default with a bounded timeout.
func RefreshAccessToken(client *http.Client, refreshToken, clientID, clientSecret string) (*TokenResponse, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("refresh token is empty")
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}

	data := url.Values{}
	data.Set("client_id", clientID)
	data.Set("client_secret", clientSecret)
	data.Set("refresh_token", refreshToken)
	data.Set("grant_type", "refresh_token")

	req, err := http.NewRequestWithContext(context.Background(), "POST", googleOAuthURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Error("failed to close response body", "error", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token refresh failed (status %d): %s", resp.StatusCode, string(body))
	}

	var tokenResp TokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}

	return &tokenResp, nil
}
