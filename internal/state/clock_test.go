package state

import (
	"sync"
	"testing"
	"time"

	"github.com/j-veylop/antigravity-quota-hub/internal/models"
)

func TestAdvance_ClearsExpiredLimit(t *testing.T) {
	reset := testNow.Add(time.Minute)
	states := []models.AccountState{
		{
			Email:       "a@example.com",
			Status:      models.StatusRateLimitedClaude,
			ClaudeLimit: &models.RateLimitInfo{ResetAt: reset, Remaining: time.Minute},
		},
	}

	// One second past the reset: the limit clears exactly once.
	later := reset.Add(time.Second)
	updated, cleared := Advance(states, later)

	if len(cleared) != 1 {
		t.Fatalf("expected 1 cleared notice, got %d", len(cleared))
	}
	if cleared[0].Email != "a@example.com" || cleared[0].Family != models.FamilyClaude {
		t.Errorf("unexpected cleared notice: %+v", cleared[0])
	}

	st := updated[0]
	if !st.ClaudeLimit.Expired {
		t.Error("limit should be expired after reset time")
	}
	if st.ClaudeLimit.Remaining != 0 {
		t.Errorf("Remaining = %v, want 0", st.ClaudeLimit.Remaining)
	}
	if st.Status != models.StatusAvailable {
		t.Errorf("Status = %s, want available after clear", st.Status)
	}

	// A second tick must not fire the notice again.
	_, clearedAgain := Advance(updated, later.Add(time.Second))
	if len(clearedAgain) != 0 {
		t.Errorf("cleared notice fired twice: %+v", clearedAgain)
	}
}

func TestAdvance_ExpiredNeverReverts(t *testing.T) {
	states := []models.AccountState{
		{
			Email:       "a@example.com",
			Status:      models.StatusAvailable,
			ClaudeLimit: &models.RateLimitInfo{ResetAt: testNow.Add(-time.Hour), Remaining: 0, Expired: true},
		},
	}

	// Advancing with a "now" before the reset time must not resurrect
	// the limit; only a registry load with a new reset time can.
	updated, cleared := Advance(states, testNow.Add(-2*time.Hour))
	if len(cleared) != 0 {
		t.Errorf("unexpected cleared notices: %+v", cleared)
	}
	if !updated[0].ClaudeLimit.Expired {
		t.Error("expired flag must never flip back to false")
	}
}

func TestAdvance_CountdownOnly(t *testing.T) {
	reset := testNow.Add(time.Hour)
	states := []models.AccountState{
		{
			Email:       "a@example.com",
			Status:      models.StatusRateLimitedGemini,
			GeminiLimit: &models.RateLimitInfo{ResetAt: reset, Remaining: time.Hour},
		},
	}

	updated, cleared := Advance(states, testNow.Add(15*time.Second))
	if len(cleared) != 0 {
		t.Errorf("limit still active, no clear expected: %+v", cleared)
	}
	if got := updated[0].GeminiLimit.Remaining; got != time.Hour-15*time.Second {
		t.Errorf("Remaining = %v, want %v", got, time.Hour-15*time.Second)
	}
	if updated[0].Status != models.StatusRateLimitedGemini {
		t.Errorf("Status = %s, want unchanged", updated[0].Status)
	}

	// Input must be untouched.
	if states[0].GeminiLimit.Remaining != time.Hour {
		t.Error("Advance mutated its input")
	}
}

func TestAdvance_StatusScenario(t *testing.T) {
	// Registry reports claude limited for 60s, nothing for gemini.
	snap := &models.RegistrySnapshot{
		Accounts: []models.RegistryAccount{
			{
				Email: "a@example.com",
				RateLimitReset: map[models.Family]time.Time{
					models.FamilyClaude: testNow.Add(60 * time.Second),
				},
			},
		},
	}

	states := Build(snap, testNow)
	if states[0].Status != models.StatusRateLimitedClaude {
		t.Fatalf("initial status = %s, want rate_limited_claude", states[0].Status)
	}

	// Tick at now+61s: status flips to available, cleared fires once.
	updated, cleared := Advance(states, testNow.Add(61*time.Second))
	if updated[0].Status != models.StatusAvailable {
		t.Errorf("status after tick = %s, want available", updated[0].Status)
	}
	if len(cleared) != 1 {
		t.Errorf("expected exactly one cleared notice, got %d", len(cleared))
	}
}

func TestClock_Ticks(t *testing.T) {
	var mu sync.Mutex
	ticks := 0

	clock := NewClock(10*time.Millisecond, func(time.Time) {
		mu.Lock()
		ticks++
		mu.Unlock()
	})
	clock.Start()
	defer clock.Stop()

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	got := ticks
	mu.Unlock()
	if got == 0 {
		t.Error("clock never ticked")
	}
}

func TestClock_StopIdempotent(t *testing.T) {
	clock := NewClock(time.Hour, func(time.Time) {})
	clock.Start()
	clock.Stop()
	clock.Stop()
}
