// Package notify sends desktop notifications for noteworthy quota and
// rate-limit transitions.
package notify

import (
	"fmt"
	"sync"

	"github.com/gen2brain/beeep"

	"github.com/j-veylop/antigravity-quota-hub/internal/models"
)

// criticalThreshold is the remaining-percent level that triggers a
// critical-quota notification when crossed downwards.
const criticalThreshold = 5.0

// Notifier tracks previous quota levels so notifications fire on
// threshold crossings, not on every poll. A disabled notifier is a
// no-op.
type Notifier struct {
	mu       sync.Mutex
	previous map[string]*models.QuotaRecord
	enabled  bool
}

// New creates a notifier.
func New(enabled bool) *Notifier {
	return &Notifier{
		previous: make(map[string]*models.QuotaRecord),
		enabled:  enabled,
	}
}

// QuotaUpdated examines a fresh quota record against the previous one
// and notifies on a downward crossing of the critical threshold.
func (n *Notifier) QuotaUpdated(record *models.QuotaRecord) {
	if record == nil {
		return
	}

	n.mu.Lock()
	old, exists := n.previous[record.Email]
	n.previous[record.Email] = record
	enabled := n.enabled
	n.mu.Unlock()

	if !enabled || !exists {
		return
	}

	for _, fam := range models.Families {
		newAgg := record.FamilyAggregate(fam)
		oldAgg := old.FamilyAggregate(fam)
		if !newAgg.Present || !oldAgg.Present {
			continue
		}

		if newAgg.RemainingPercent < criticalThreshold && oldAgg.RemainingPercent >= criticalThreshold {
			title := fmt.Sprintf("Critical Quota: %s", record.Email)
			body := fmt.Sprintf("%s quota is below %.0f%% (%.1f%%)", fam, criticalThreshold, newAgg.RemainingPercent)
			_ = beeep.Notify(title, body, "")
		}
	}
}

// RateLimitCleared notifies that a family's rate limit lifted.
func (n *Notifier) RateLimitCleared(email string, fam models.Family) {
	n.mu.Lock()
	enabled := n.enabled
	n.mu.Unlock()
	if !enabled {
		return
	}

	title := fmt.Sprintf("Rate Limit Cleared: %s", email)
	body := fmt.Sprintf("The %s family is available again.", fam)
	_ = beeep.Notify(title, body, "")
}

// Forget drops tracked state for accounts no longer present.
func (n *Notifier) Forget(live map[string]struct{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for email := range n.previous {
		if _, ok := live[email]; !ok {
			delete(n.previous, email)
		}
	}
}
