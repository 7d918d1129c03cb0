package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/j-veylop/antigravity-quota-hub/internal/config"
	"github.com/j-veylop/antigravity-quota-hub/internal/hub"
	"github.com/j-veylop/antigravity-quota-hub/internal/models"
)

func startTestHub(t *testing.T, registryJSON string) *hub.Hub {
	t.Helper()
	dir := t.TempDir()
	accountsPath := filepath.Join(dir, "accounts.json")
	if err := os.WriteFile(accountsPath, []byte(registryJSON), 0o644); err != nil {
		t.Fatalf("failed to write registry: %v", err)
	}

	cfg := &config.Config{
		AccountsPath:       accountsPath,
		QuotaPollInterval:  time.Hour,
		StatusTickInterval: time.Hour,
		HeartbeatInterval:  time.Hour,
		AccountPause:       time.Millisecond,
		RequestTimeout:     time.Second,
	}
	h, err := hub.New(cfg, nil)
	if err != nil {
		t.Fatalf("hub.New() error = %v", err)
	}
	if err := h.Start(); err != nil {
		t.Fatalf("hub.Start() error = %v", err)
	}
	t.Cleanup(func() { _ = h.Close() })
	return h
}

const testRegistry = `{
	"version": 3,
	"activeIndex": 0,
	"accounts": [
		{"email": "a@gmail.com", "projectId": "proj-a"},
		{"email": "b@gmail.com", "rateLimitResetTimes": {"claude": 99999999999}}
	]
}`

func TestHealthEndpoint(t *testing.T) {
	h := startTestHub(t, testRegistry)
	srv := httptest.NewServer(Router(h))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestListAccounts(t *testing.T) {
	h := startTestHub(t, testRegistry)
	srv := httptest.NewServer(Router(h))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/accounts")
	if err != nil {
		t.Fatalf("GET /api/accounts error = %v", err)
	}
	defer resp.Body.Close()

	var body AccountsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error = %v", err)
	}
	if body.Total != 2 {
		t.Errorf("total = %d, want 2", body.Total)
	}
}

func TestListAccountsStatusFilter(t *testing.T) {
	h := startTestHub(t, testRegistry)
	srv := httptest.NewServer(Router(h))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/accounts?status=rate_limited_claude")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()

	var body AccountsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error = %v", err)
	}
	if body.Total != 1 || body.Accounts[0].Email != "b@gmail.com" {
		t.Errorf("filtered accounts = %+v", body.Accounts)
	}

	// Unknown status is a client error.
	resp2, err := http.Get(srv.URL + "/api/accounts?status=bogus")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusBadRequest {
		t.Errorf("bogus status code = %d, want 400", resp2.StatusCode)
	}
}

func TestActiveAccounts(t *testing.T) {
	h := startTestHub(t, testRegistry)
	srv := httptest.NewServer(Router(h))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/accounts/active")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()

	var active map[string]models.AccountState
	if err := json.NewDecoder(resp.Body).Decode(&active); err != nil {
		t.Fatalf("decode error = %v", err)
	}
	for _, key := range []string{"global", "claude", "gemini"} {
		acc, ok := active[key]
		if !ok {
			t.Errorf("missing %q entry", key)
			continue
		}
		if acc.Email != "a@gmail.com" {
			t.Errorf("%s active = %s, want a@gmail.com", key, acc.Email)
		}
	}
}

func TestGetAccount(t *testing.T) {
	h := startTestHub(t, testRegistry)
	srv := httptest.NewServer(Router(h))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/accounts/b@gmail.com")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()

	var acc models.AccountState
	if err := json.NewDecoder(resp.Body).Decode(&acc); err != nil {
		t.Fatalf("decode error = %v", err)
	}
	if acc.Status != models.StatusRateLimitedClaude {
		t.Errorf("status = %s, want %s", acc.Status, models.StatusRateLimitedClaude)
	}

	resp2, err := http.Get(srv.URL + "/api/accounts/nobody@gmail.com")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Errorf("missing account code = %d, want 404", resp2.StatusCode)
	}
}

func TestQuotaEndpoints(t *testing.T) {
	h := startTestHub(t, testRegistry)
	srv := httptest.NewServer(Router(h))
	defer srv.Close()

	// No polls have succeeded, so the cache is empty.
	resp, err := http.Get(srv.URL + "/api/quota/a@gmail.com")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("empty cache code = %d, want 404", resp.StatusCode)
	}

	refresh, err := http.Post(srv.URL+"/api/quota/refresh", "application/json", nil)
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	defer refresh.Body.Close()
	if refresh.StatusCode != http.StatusAccepted {
		t.Errorf("refresh code = %d, want 202", refresh.StatusCode)
	}
}

func TestRefreshSingleAccount(t *testing.T) {
	h := startTestHub(t, testRegistry)
	srv := httptest.NewServer(Router(h))
	defer srv.Close()

	// Unknown account.
	resp, err := http.Post(srv.URL+"/api/quota/refresh?email=nobody@gmail.com", "application/json", nil)
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown account code = %d, want 404", resp.StatusCode)
	}

	// Known account but no stored credential: the synchronous poll
	// fails upstream.
	resp2, err := http.Post(srv.URL+"/api/quota/refresh?email=a@gmail.com", "application/json", nil)
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusBadGateway {
		t.Errorf("failed poll code = %d, want 502", resp2.StatusCode)
	}
}

func TestStats(t *testing.T) {
	h := startTestHub(t, testRegistry)
	srv := httptest.NewServer(Router(h))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/stats")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()

	var stats StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode error = %v", err)
	}
	if stats.Accounts != 2 {
		t.Errorf("accounts = %d, want 2", stats.Accounts)
	}
	if stats.ByStatus[models.StatusRateLimitedClaude] != 1 {
		t.Errorf("byStatus = %v", stats.ByStatus)
	}
}

func TestEventStreamSnapshotFirst(t *testing.T) {
	h := startTestHub(t, testRegistry)
	srv := httptest.NewServer(Router(h))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /events error = %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("content type = %q", got)
	}

	scanner := bufio.NewScanner(resp.Body)
	var eventLine, dataLine string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			eventLine = strings.TrimPrefix(line, "event: ")
		}
		if strings.HasPrefix(line, "data: ") {
			dataLine = strings.TrimPrefix(line, "data: ")
			break
		}
	}
	if eventLine != "snapshot" {
		t.Fatalf("first event = %q, want snapshot", eventLine)
	}

	var env struct {
		Seq  uint64 `json:"seq"`
		Type string `json:"type"`
		Data struct {
			Accounts []models.AccountState `json:"accounts"`
		} `json:"data"`
	}
	if err := json.Unmarshal([]byte(dataLine), &env); err != nil {
		t.Fatalf("unmarshal envelope error = %v", err)
	}
	if len(env.Data.Accounts) != 2 {
		t.Errorf("snapshot accounts = %d, want 2", len(env.Data.Accounts))
	}
}
