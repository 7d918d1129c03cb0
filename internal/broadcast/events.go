// Package broadcast owns the live subscriber set and fans out typed
// change events.
package broadcast

import (
	"time"

	"github.com/j-veylop/antigravity-quota-hub/internal/models"
)

// Event is the closed set of broadcast payloads. Using concrete types
// behind a marker interface gives compile-time exhaustiveness where a
// string-keyed emitter would not.
type Event interface {
	// EventType is the wire name of the event.
	EventType() string
}

// SnapshotEvent is the full current state, delivered to every
// subscriber before any incremental event.
type SnapshotEvent struct {
	Quotas   map[string]*models.QuotaRecord `json:"quotas"`
	Accounts []models.AccountState          `json:"accounts"`
}

// AccountAddedEvent announces a new account.
type AccountAddedEvent struct {
	Account models.AccountState `json:"account"`
}

// AccountUpdatedEvent carries the full new state of a changed account.
type AccountUpdatedEvent struct {
	Account models.AccountState `json:"account"`
}

// AccountRemovedEvent announces an account leaving the registry.
type AccountRemovedEvent struct {
	Email string `json:"email"`
}

// QuotaUpdatedEvent carries a freshly polled quota record.
type QuotaUpdatedEvent struct {
	Record *models.QuotaRecord `json:"record"`
	Email  string              `json:"email"`
}

// RateLimitClearedEvent fires when a family's rate-limit window
// expires, distinct from a generic account update.
type RateLimitClearedEvent struct {
	ResetAt time.Time     `json:"resetAt"`
	Email   string        `json:"email"`
	Family  models.Family `json:"family"`
}

// HeartbeatEvent keeps intermediary connections alive. It is not a
// state change and carries no diff.
type HeartbeatEvent struct{}

// EventType implementations.
func (SnapshotEvent) EventType() string         { return "snapshot" }
func (AccountAddedEvent) EventType() string     { return "account_added" }
func (AccountUpdatedEvent) EventType() string   { return "account_updated" }
func (AccountRemovedEvent) EventType() string   { return "account_removed" }
func (QuotaUpdatedEvent) EventType() string     { return "quota_updated" }
func (RateLimitClearedEvent) EventType() string { return "rate_limit_cleared" }
func (HeartbeatEvent) EventType() string        { return "heartbeat" }

// Envelope wraps an event with its sequence number and timestamp.
// Sequence numbers are strictly increasing per broadcaster, letting
// consumers detect gaps.
type Envelope struct {
	Time time.Time `json:"time"`
	Data Event     `json:"data"`
	Type string    `json:"type"`
	Seq  uint64    `json:"seq"`
}
