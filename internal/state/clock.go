package state

import (
	"sync"
	"time"

	"github.com/j-veylop/antigravity-quota-hub/internal/models"
)

// Cleared records one family flipping from limited to expired during a
// clock tick.
type Cleared struct {
	ResetAt time.Time
	Email   string
	Family  models.Family
}

// Advance recomputes the time-based fields of every account state for
// "now" and returns the updated list alongside the rate-limit windows
// that expired during this tick. The input is not mutated. An expired
// flag never flips back to false here; only a registry load with a new
// reset time can do that.
func Advance(states []models.AccountState, now time.Time) ([]models.AccountState, []Cleared) {
	out := models.CloneStates(states)
	var cleared []Cleared

	for i := range out {
		st := &out[i]

		for _, fam := range models.Families {
			limit := st.Limit(fam)
			if limit == nil {
				continue
			}

			remaining := limit.ResetAt.Sub(now)
			if remaining < 0 {
				remaining = 0
			}
			limit.Remaining = remaining

			expired := !limit.ResetAt.After(now)
			if expired && !limit.Expired {
				cleared = append(cleared, Cleared{
					Email:   st.Email,
					Family:  fam,
					ResetAt: limit.ResetAt,
				})
			}
			if expired {
				limit.Expired = true
			}
		}

		st.Status = ComputeStatus(st.ClaudeLimit, st.GeminiLimit)
	}

	return out, cleared
}

// TickFunc is invoked on each clock tick with the tick time.
type TickFunc func(now time.Time)

// Clock drives periodic re-evaluation of time-based account state,
// independent of registry changes.
type Clock struct {
	tick     TickFunc
	stopChan chan struct{}
	interval time.Duration
	stopOnce sync.Once
}

// NewClock creates a status clock. Start must be called to begin ticking.
func NewClock(interval time.Duration, tick TickFunc) *Clock {
	return &Clock{
		interval: interval,
		tick:     tick,
		stopChan: make(chan struct{}),
	}
}

// Start launches the tick loop.
func (c *Clock) Start() {
	go c.run()
}

func (c *Clock) run() {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			c.tick(now)
		case <-c.stopChan:
			return
		}
	}
}

// Stop halts the clock. Safe to call more than once.
func (c *Clock) Stop() {
	c.stopOnce.Do(func() { close(c.stopChan) })
}
