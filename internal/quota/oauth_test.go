package quota

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

// MockRoundTripper lets tests stub HTTP responses.
type MockRoundTripper struct {
	RoundTripFunc func(req *http.Request) (*http.Response, error)
}

func (m *MockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return m.RoundTripFunc(req)
}

func TestRefreshAccessToken(t *testing.T) {
	tests := []struct {
		name         string
		refreshToken string
		transport    http.RoundTripper
		wantErr      bool
	}{
		{
			name:         "Success",
			refreshToken: "valid",
			transport: &MockRoundTripper{
				RoundTripFunc: func(req *http.Request) (*http.Response, error) {
					body, _ := json.Marshal(TokenResponse{AccessToken: "new", ExpiresIn: 3600})
					return &http.Response{StatusCode: 200, Body: io.NopCloser(bytes.NewReader(body))}, nil
				},
			},
			wantErr: false,
		},
		{
			name:         "EmptyToken",
			refreshToken: "",
			wantErr:      true,
		},
		{
			name:         "HTTPError",
			refreshToken: "valid",
			transport: &MockRoundTripper{
				RoundTripFunc: func(req *http.Request) (*http.Response, error) {
					return nil, errors.New("net error")
				},
			},
			wantErr: true,
		},
		{
			name:         "StatusError",
			refreshToken: "valid",
			transport: &MockRoundTripper{
				RoundTripFunc: func(req *http.Request) (*http.Response, error) {
					return &http.Response{StatusCode: 400, Body: io.NopCloser(strings.NewReader("bad request"))}, nil
				},
			},
			wantErr: true,
		},
		{
			name:         "JSONError",
			refreshToken: "valid",
			transport: &MockRoundTripper{
				RoundTripFunc: func(req *http.Request) (*http.Response, error) {
					return &http.Response{StatusCode: 200, Body: io.NopCloser(strings.NewReader("invalid json"))}, nil
				},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &http.Client{Transport: tt.transport}
			if tt.transport == nil {
				client = nil
			}
			_, err := RefreshAccessToken(client, tt.refreshToken, "cid", "csec")
			if (err != nil) != tt.wantErr {
				t.Errorf("RefreshAccessToken() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRefreshAccessToken_SendsForm(t *testing.T) {
	var gotBody string
	transport := &MockRoundTripper{
		RoundTripFunc: func(req *http.Request) (*http.Response, error) {
			b, _ := io.ReadAll(req.Body)
			gotBody = string(b)
			body, _ := json.Marshal(TokenResponse{AccessToken: "tok"})
			return &http.Response{StatusCode: 200, Body: io.NopCloser(bytes.NewReader(body))}, nil
		},
	}

	resp, err := RefreshAccessToken(&http.Client{Transport: transport}, "rt-1", "cid", "csec")
	if err != nil {
		t.Fatalf("RefreshAccessToken() failed: %v", err)
	}
	if resp.AccessToken != "tok" {
		t.Errorf("AccessToken = %q", resp.AccessToken)
	}
	for _, want := range []string{"grant_type=refresh_token", "refresh_token=rt-1", "client_id=cid"} {
		if !strings.Contains(gotBody, want) {
			t.Errorf("request body missing %q: %s", want, gotBody)
		}
	}
}

func TestCachedToken_IsValid(t *testing.T) {
	tests := []struct {
		name  string
		token *CachedToken
		want  bool
	}{
		{"Nil", nil, false},
		{"Empty", &CachedToken{}, false},
		{"Valid", &CachedToken{AccessToken: "t", ExpiresAt: time.Now().Add(time.Hour)}, true},
		{"Expired", &CachedToken{AccessToken: "t", ExpiresAt: time.Now().Add(-time.Hour)}, false},
		// Within the 60s reuse buffer: treated as expired.
		{"NearExpiry", &CachedToken{AccessToken: "t", ExpiresAt: time.Now().Add(30 * time.Second)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.token.IsValid(); got != tt.want {
				t.Errorf("IsValid() = %v, want %v", got, tt.want)
			}
		})
	}
}
