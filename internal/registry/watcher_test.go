package registry

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/j-veylop/antigravity-quota-hub/internal/models"
)

const validRegistry = `{
	"version": 1,
	"accounts": [
		{"email": "a@example.com", "refreshToken": "rt-a", "projectId": "proj-a"},
		{"email": "b@example.com", "refreshToken": "rt-b"}
	],
	"activeIndex": 1,
	"activeIndexes": {"claude": 0}
}`

func TestParse(t *testing.T) {
	snap, err := Parse([]byte(validRegistry))
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}

	if len(snap.Accounts) != 2 {
		t.Fatalf("expected 2 accounts, got %d", len(snap.Accounts))
	}
	if snap.Accounts[0].Email != "a@example.com" {
		t.Errorf("account[0].Email = %q", snap.Accounts[0].Email)
	}
	if snap.ActiveIndex != 1 {
		t.Errorf("ActiveIndex = %d, want 1", snap.ActiveIndex)
	}
	if got := snap.ActiveIndexFor(models.FamilyClaude); got != 0 {
		t.Errorf("ActiveIndexFor(claude) = %d, want 0 (override)", got)
	}
	if got := snap.ActiveIndexFor(models.FamilyGemini); got != 1 {
		t.Errorf("ActiveIndexFor(gemini) = %d, want 1 (global fallback)", got)
	}
}

func TestParse_RateLimitResetTimes(t *testing.T) {
	data := []byte(`{
		"version": 1,
		"accounts": [
			{"email": "a@example.com", "refreshToken": "rt",
			 "rateLimitResetTimes": {"claude": 1767225600000, "gemini": 1767225600}}
		],
		"activeIndex": 0
	}`)

	snap, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}

	reset := snap.Accounts[0].RateLimitReset
	want := time.UnixMilli(1767225600000)
	if got := reset[models.FamilyClaude]; !got.Equal(want) {
		t.Errorf("claude reset = %v, want %v (millisecond epoch)", got, want)
	}
	if got := reset[models.FamilyGemini]; !got.Equal(time.Unix(1767225600, 0)) {
		t.Errorf("gemini reset = %v, want second-epoch interpretation", got)
	}
}

func TestParse_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"NotJSON", "{not json"},
		{"WrongShape", `{"foo": "bar"}`},
		{"EmptyObject", `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.data)); err == nil {
				t.Error("Parse() should fail on malformed content")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	snap, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if err != nil {
		t.Fatalf("Load() on missing file should not error, got %v", err)
	}
	if len(snap.Accounts) != 0 {
		t.Errorf("missing file should yield empty snapshot, got %d accounts", len(snap.Accounts))
	}
}

// collector gathers snapshots delivered by a watcher.
type collector struct {
	mu    sync.Mutex
	snaps []*models.RegistrySnapshot
	ch    chan struct{}
}

func newCollector() *collector {
	return &collector{ch: make(chan struct{}, 16)}
}

func (c *collector) callback(snap *models.RegistrySnapshot) {
	c.mu.Lock()
	c.snaps = append(c.snaps, snap)
	c.mu.Unlock()
	c.ch <- struct{}{}
}

func (c *collector) wait(t *testing.T) *models.RegistrySnapshot {
	t.Helper()
	select {
	case <-c.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for snapshot")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snaps[len(c.snaps)-1]
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.snaps)
}

func newTestWatcher(t *testing.T) (*Watcher, *collector, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "accounts.json")
	col := newCollector()

	w, err := New(path, col.callback)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	t.Cleanup(func() {
		if err := w.Close(); err != nil {
			t.Errorf("Close() failed: %v", err)
		}
	})
	return w, col, path
}

func TestWatcher_InitialLoadMissing(t *testing.T) {
	w, col, _ := newTestWatcher(t)

	if err := w.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	snap := col.wait(t)
	if len(snap.Accounts) != 0 {
		t.Errorf("initial snapshot of missing file should be empty, got %d accounts", len(snap.Accounts))
	}
}

func TestWatcher_FileChange(t *testing.T) {
	w, col, path := newTestWatcher(t)

	if err := w.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	col.wait(t) // initial empty snapshot

	if err := os.WriteFile(path, []byte(validRegistry), 0o600); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	snap := col.wait(t)
	if len(snap.Accounts) != 2 {
		t.Errorf("expected 2 accounts after change, got %d", len(snap.Accounts))
	}
}

func TestWatcher_MalformedKeepsPrevious(t *testing.T) {
	w, col, path := newTestWatcher(t)

	if err := os.WriteFile(path, []byte(validRegistry), 0o600); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	if err := w.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	first := col.wait(t)
	if len(first.Accounts) != 2 {
		t.Fatalf("initial load: got %d accounts", len(first.Accounts))
	}
	before := col.count()

	if err := os.WriteFile(path, []byte("{garbage"), 0o600); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	// Give the debounce and settle loop time to run; no snapshot must
	// be delivered for malformed content.
	time.Sleep(500 * time.Millisecond)
	if got := col.count(); got != before {
		t.Errorf("malformed write produced %d extra snapshot(s)", got-before)
	}
}

func TestWatcher_DebouncesRapidWrites(t *testing.T) {
	w, col, path := newTestWatcher(t)

	if err := w.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	col.wait(t) // initial
	before := col.count()

	// Burst of rapid writes must settle into a single reload.
	for range 5 {
		if err := os.WriteFile(path, []byte(validRegistry), 0o600); err != nil {
			t.Fatalf("WriteFile() failed: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	col.wait(t)
	time.Sleep(500 * time.Millisecond)

	if got := col.count() - before; got != 1 {
		t.Errorf("expected exactly 1 settled snapshot for write burst, got %d", got)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New("", func(*models.RegistrySnapshot) {}); err == nil {
		t.Error("New() should reject empty path")
	}
	if _, err := New("x.json", nil); err == nil {
		t.Error("New() should reject nil callback")
	}
}
