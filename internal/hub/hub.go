// Package hub wires the registry watcher, status derivation, quota
// poller and broadcaster into one engine. It owns the authoritative
// account state and is the only writer to it.
package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/j-veylop/antigravity-quota-hub/internal/broadcast"
	"github.com/j-veylop/antigravity-quota-hub/internal/config"
	"github.com/j-veylop/antigravity-quota-hub/internal/history"
	"github.com/j-veylop/antigravity-quota-hub/internal/logger"
	"github.com/j-veylop/antigravity-quota-hub/internal/metrics"
	"github.com/j-veylop/antigravity-quota-hub/internal/models"
	"github.com/j-veylop/antigravity-quota-hub/internal/notify"
	"github.com/j-veylop/antigravity-quota-hub/internal/quota"
	"github.com/j-veylop/antigravity-quota-hub/internal/registry"
	"github.com/j-veylop/antigravity-quota-hub/internal/state"
)

// Hub coordinates all background components. Registry snapshots, clock
// ticks and poller events all funnel state changes through the hub,
// which publishes them to subscribers in arrival order.
type Hub struct {
	mu     sync.RWMutex
	states []models.AccountState
	creds  map[string]string
	quotas map[string]*models.QuotaRecord

	// pubMu orders each state swap and its publishes against subscriber
	// joins: a join observes either the pre-swap state with all of its
	// events still to come, or the post-swap state with none of them.
	// Lock order: pubMu, then the broadcaster lock, then mu.
	pubMu sync.Mutex

	watcher  *registry.Watcher
	poller   *quota.Poller
	bcast    *broadcast.Broadcaster
	clock    *state.Clock
	notifier *notify.Notifier
	db       *history.DB

	stopChan chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a hub from configuration. The history database is
// optional; a nil db disables persistence.
func New(cfg *config.Config, db *history.DB) (*Hub, error) {
	h := &Hub{
		creds:    make(map[string]string),
		quotas:   make(map[string]*models.QuotaRecord),
		notifier: notify.New(cfg.DesktopNotifications),
		db:       db,
		stopChan: make(chan struct{}),
	}

	h.bcast = broadcast.New(h.snapshotEvent, cfg.HeartbeatInterval)

	h.poller = quota.New(h, quota.Config{
		ClientID:       cfg.GoogleClientID,
		ClientSecret:   cfg.GoogleClientSecret,
		PollInterval:   cfg.QuotaPollInterval,
		AccountPause:   cfg.AccountPause,
		RequestTimeout: cfg.RequestTimeout,
	})
	h.poller.SetCredentialSource(h)

	h.clock = state.NewClock(cfg.StatusTickInterval, h.onTick)

	watcher, err := registry.New(cfg.AccountsPath, h.onRegistrySnapshot)
	if err != nil {
		return nil, err
	}
	h.watcher = watcher

	return h, nil
}

// Start launches all background loops. The watcher's initial load runs
// synchronously, so by the time Start returns the hub holds a state
// for every registry account.
func (h *Hub) Start() error {
	if err := h.watcher.Start(); err != nil {
		return err
	}
	h.bcast.Start()
	h.poller.Start()
	h.clock.Start()

	h.wg.Add(1)
	go h.consumeEvents()

	logger.Info("hub started")
	return nil
}

// Close stops all components and waits for the event loop to drain.
func (h *Hub) Close() error {
	h.stopOnce.Do(func() {
		close(h.stopChan)
		if err := h.watcher.Close(); err != nil {
			logger.Error("failed to close registry watcher", "error", err)
		}
		h.clock.Stop()
		_ = h.poller.Close()
		_ = h.bcast.Close()
		h.wg.Wait()
	})
	return nil
}

// onRegistrySnapshot rebuilds the account states from a settled
// registry read and publishes the resulting diff.
func (h *Hub) onRegistrySnapshot(snap *models.RegistrySnapshot) {
	now := time.Now()
	built := state.Build(snap, now)

	live := make(map[string]struct{}, len(built))
	for i := range built {
		live[built[i].Email] = struct{}{}
	}

	h.pubMu.Lock()
	defer h.pubMu.Unlock()

	h.mu.Lock()
	previous := h.states
	h.states = built
	h.creds = make(map[string]string, len(snap.Accounts))
	for i := range snap.Accounts {
		h.creds[snap.Accounts[i].Email] = snap.Accounts[i].RefreshToken
	}
	for email := range h.quotas {
		if _, ok := live[email]; !ok {
			delete(h.quotas, email)
		}
	}
	h.mu.Unlock()

	changes := state.Diff(previous, built)
	if len(changes) == 0 {
		logger.Debug("registry reload produced no changes", "accounts", len(built))
		return
	}

	logger.Info("registry changed", "accounts", len(built), "changes", len(changes))

	prevByEmail := make(map[string]*models.AccountState, len(previous))
	for i := range previous {
		prevByEmail[previous[i].Email] = &previous[i]
	}

	for _, ch := range changes {
		switch ch.Kind {
		case state.ChangeAdded:
			h.publish(broadcast.AccountAddedEvent{Account: *ch.State})
			h.recordTransition(ch.Email, "", ch.State.Status, now)
		case state.ChangeUpdated:
			h.publish(broadcast.AccountUpdatedEvent{Account: *ch.State})
			if prev, ok := prevByEmail[ch.Email]; ok && prev.Status != ch.State.Status {
				h.recordTransition(ch.Email, prev.Status, ch.State.Status, now)
			}
		case state.ChangeRemoved:
			h.publish(broadcast.AccountRemovedEvent{Email: ch.Email})
		}
	}

	h.poller.Forget(live)
	h.notifier.Forget(live)
	h.poller.TriggerCycle()
	h.updateStatusGauge(built)
}

// onTick advances rate-limit timers and publishes cleared windows.
func (h *Hub) onTick(now time.Time) {
	h.pubMu.Lock()
	defer h.pubMu.Unlock()

	h.mu.Lock()
	advanced, cleared := state.Advance(h.states, now)
	changes := state.Diff(h.states, advanced)
	prevByEmail := make(map[string]models.Status, len(h.states))
	for i := range h.states {
		prevByEmail[h.states[i].Email] = h.states[i].Status
	}
	h.states = advanced
	h.mu.Unlock()

	for _, c := range cleared {
		logger.Info("rate limit cleared", "email", c.Email, "family", c.Family)
		h.publish(broadcast.RateLimitClearedEvent{
			ResetAt: c.ResetAt,
			Email:   c.Email,
			Family:  c.Family,
		})
		h.notifier.RateLimitCleared(c.Email, c.Family)
	}

	for _, ch := range changes {
		if ch.Kind != state.ChangeUpdated {
			continue
		}
		h.publish(broadcast.AccountUpdatedEvent{Account: *ch.State})
		if prev, ok := prevByEmail[ch.Email]; ok && prev != ch.State.Status {
			h.recordTransition(ch.Email, prev, ch.State.Status, now)
		}
	}

	if len(changes) > 0 {
		h.updateStatusGauge(advanced)
	}
}

// consumeEvents forwards poller events to subscribers, history and
// notifications.
func (h *Hub) consumeEvents() {
	defer h.wg.Done()

	for {
		select {
		case ev := <-h.poller.Events():
			h.handlePollerEvent(ev)
		case <-h.stopChan:
			return
		}
	}
}

func (h *Hub) handlePollerEvent(ev quota.Event) {
	switch ev.Type {
	case quota.EventQuotaUpdated:
		h.pubMu.Lock()
		h.mu.Lock()
		h.quotas[ev.Email] = ev.Record.Clone()
		h.mu.Unlock()
		h.publish(broadcast.QuotaUpdatedEvent{Record: ev.Record, Email: ev.Email})
		h.pubMu.Unlock()
		h.notifier.QuotaUpdated(ev.Record)
		if ev.Record.Claude.Present {
			metrics.QuotaRemainingPercent.WithLabelValues(ev.Email, string(models.FamilyClaude)).Set(ev.Record.Claude.RemainingPercent)
		}
		if ev.Record.Gemini.Present {
			metrics.QuotaRemainingPercent.WithLabelValues(ev.Email, string(models.FamilyGemini)).Set(ev.Record.Gemini.RemainingPercent)
		}
		h.appendHistory(ev.Record)
	case quota.EventQuotaError:
		logger.Warn("quota poll error", "email", ev.Email, "error", ev.Error)
		h.appendHistory(ev.Record)
	case quota.EventTokenRefreshed:
		logger.Debug("access token refreshed", "email", ev.Email)
	case quota.EventCycleComplete:
		logger.Debug("quota poll cycle complete")
	}
}

func (h *Hub) appendHistory(rec *models.QuotaRecord) {
	if h.db == nil || rec == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.db.AppendQuota(ctx, rec); err != nil {
		logger.Error("failed to persist quota snapshot", "email", rec.Email, "error", err)
	}
}

func (h *Hub) recordTransition(email string, from, to models.Status, at time.Time) {
	if h.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.db.AppendTransition(ctx, email, from, to, at); err != nil {
		logger.Error("failed to persist status transition", "email", email, "error", err)
	}
}

// publish fans an event out to subscribers and counts it.
func (h *Hub) publish(event broadcast.Event) {
	h.bcast.Publish(event)
	metrics.EventsPublishedTotal.WithLabelValues(event.EventType()).Inc()
}

func (h *Hub) updateStatusGauge(states []models.AccountState) {
	counts := make(map[models.Status]int, 4)
	for i := range states {
		counts[states[i].Status]++
	}
	for _, status := range []models.Status{
		models.StatusAvailable,
		models.StatusRateLimitedClaude,
		models.StatusRateLimitedGemini,
		models.StatusRateLimitedAll,
	} {
		metrics.AccountsByStatus.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}

// snapshotEvent assembles the full current state for a new subscriber.
// The quota view is the hub's published one, not the poller's live
// cache, so the snapshot agrees with the event stream.
func (h *Hub) snapshotEvent() broadcast.Event {
	h.mu.RLock()
	defer h.mu.RUnlock()
	quotas := make(map[string]*models.QuotaRecord, len(h.quotas))
	for email, rec := range h.quotas {
		quotas[email] = rec.Clone()
	}
	return broadcast.SnapshotEvent{
		Accounts: models.CloneStates(h.states),
		Quotas:   quotas,
	}
}

// Subscribe attaches a new subscriber, delivering a snapshot first.
// Holding pubMu aligns the join with state swaps: the snapshot and the
// events after it never overlap.
func (h *Hub) Subscribe() *broadcast.Subscriber {
	h.pubMu.Lock()
	sub := h.bcast.Subscribe()
	h.pubMu.Unlock()
	metrics.Subscribers.Set(float64(h.bcast.SubscriberCount()))
	return sub
}

// Unsubscribe detaches a subscriber.
func (h *Hub) Unsubscribe(id string) {
	h.bcast.Unsubscribe(id)
	metrics.Subscribers.Set(float64(h.bcast.SubscriberCount()))
}

// Accounts returns a copy of all account states in registry order.
// Implements the poller's account source.
func (h *Hub) Accounts() []models.AccountState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return models.CloneStates(h.states)
}

// Account returns the state for one account by email.
func (h *Hub) Account(email string) (models.AccountState, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for i := range h.states {
		if h.states[i].Email == email {
			return h.states[i].Clone(), true
		}
	}
	return models.AccountState{}, false
}

// Active returns the globally active account.
func (h *Hub) Active() (models.AccountState, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for i := range h.states {
		if h.states[i].IsActive {
			return h.states[i].Clone(), true
		}
	}
	return models.AccountState{}, false
}

// ActiveFor returns the active account for a model family.
func (h *Hub) ActiveFor(fam models.Family) (models.AccountState, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for i := range h.states {
		if h.states[i].ActiveFor(fam) {
			return h.states[i].Clone(), true
		}
	}
	return models.AccountState{}, false
}

// ByStatus returns the accounts currently in the given status.
func (h *Hub) ByStatus(status models.Status) []models.AccountState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []models.AccountState
	for i := range h.states {
		if h.states[i].Status == status {
			out = append(out, h.states[i].Clone())
		}
	}
	return out
}

// Counts returns the number of accounts per status.
func (h *Hub) Counts() map[models.Status]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	counts := make(map[models.Status]int, 4)
	for i := range h.states {
		counts[h.states[i].Status]++
	}
	return counts
}

// Credential returns the refresh token for an account. Implements the
// poller's credential source; tokens stay out of the published states.
func (h *Hub) Credential(email string) string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.creds[email]
}

// Quota returns the cached quota record for one account.
func (h *Hub) Quota(email string) *models.QuotaRecord {
	return h.poller.Quota(email)
}

// AllQuotas returns all cached quota records keyed by email.
func (h *Hub) AllQuotas() map[string]*models.QuotaRecord {
	return h.poller.AllQuotas()
}

// CacheAge returns the time since the last completed poll cycle.
func (h *Hub) CacheAge() time.Duration {
	return h.poller.CacheAge()
}

// IsStale reports whether the quota cache has missed its refresh
// window.
func (h *Hub) IsStale() bool {
	return h.poller.IsStale()
}

// TriggerRefresh requests an immediate quota poll cycle.
func (h *Hub) TriggerRefresh() {
	h.poller.TriggerCycle()
}

// ErrUnknownAccount is returned by RefreshAccount for emails not in the
// current registry.
var ErrUnknownAccount = errors.New("unknown account")

// RefreshAccount polls a single account synchronously and returns the
// resulting record. The record carries a fetch error alongside any
// stale data when the poll fails.
func (h *Hub) RefreshAccount(email string) (*models.QuotaRecord, error) {
	acc, ok := h.Account(email)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, email)
	}
	return h.poller.Refresh(&acc)
}

// SubscriberCount returns the number of live subscribers.
func (h *Hub) SubscriberCount() int {
	return h.bcast.SubscriberCount()
}
