package quota

import (
	"fmt"
	"maps"
	"net/http"
	"sync"
	"time"

	"github.com/j-veylop/antigravity-quota-hub/internal/logger"
	"github.com/j-veylop/antigravity-quota-hub/internal/metrics"
	"github.com/j-veylop/antigravity-quota-hub/internal/models"
)

// AccountSource supplies the accounts to poll. Implemented by the hub's
// state store.
type AccountSource interface {
	Accounts() []models.AccountState
}

// EventType defines the type of poller event.
type EventType int

const (
	// EventQuotaUpdated indicates a successful poll for one account.
	EventQuotaUpdated EventType = iota
	// EventQuotaError indicates a failed poll for one account; stale
	// cache data is retained.
	EventQuotaError
	// EventTokenRefreshed indicates an access token was exchanged.
	EventTokenRefreshed
	// EventCycleComplete indicates a full poll cycle finished.
	EventCycleComplete
)

// Event is one poller notification.
type Event struct {
	Error  error
	Record *models.QuotaRecord
	Email  string
	Type   EventType
}

// Config holds configuration for the poller.
type Config struct {
	ClientID       string
	ClientSecret   string
	PollInterval   time.Duration
	AccountPause   time.Duration
	RequestTimeout time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		PollInterval:   120 * time.Second,
		AccountPause:   500 * time.Millisecond,
		RequestTimeout: 15 * time.Second,
	}
}

// Poller periodically fetches remaining quota per account. Accounts are
// processed serially within a cycle with a fixed pause between them to
// avoid bursting the token and quota endpoints.
type Poller struct {
	mu         sync.RWMutex
	source     AccountSource
	credSource credentialSource
	cache      map[string]*models.QuotaRecord
	tokens     map[string]*CachedToken
	client     *http.Client
	eventChan  chan Event
	stopChan   chan struct{}
	kickChan   chan struct{}
	lastCycle  time.Time
	config     Config
	stopOnce   sync.Once
}

// New creates a poller. Start must be called to begin polling.
func New(source AccountSource, config Config) *Poller {
	if config.PollInterval == 0 {
		def := DefaultConfig()
		def.ClientID = config.ClientID
		def.ClientSecret = config.ClientSecret
		config = def
	}

	return &Poller{
		source:    source,
		cache:     make(map[string]*models.QuotaRecord),
		tokens:    make(map[string]*CachedToken),
		client:    &http.Client{Timeout: config.RequestTimeout},
		eventChan: make(chan Event, 100),
		stopChan:  make(chan struct{}),
		kickChan:  make(chan struct{}, 1),
		config:    config,
	}
}

// Events returns the event channel.
func (p *Poller) Events() <-chan Event {
	return p.eventChan
}

// Start launches the poll loop with an immediate first cycle.
func (p *Poller) Start() {
	go p.run()
}

func (p *Poller) run() {
	p.runCycle()

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.runCycle()
		case <-p.kickChan:
			p.runCycle()
		case <-p.stopChan:
			return
		}
	}
}

// TriggerCycle requests an immediate poll cycle. Non-blocking; a cycle
// already pending absorbs the request.
func (p *Poller) TriggerCycle() {
	select {
	case p.kickChan <- struct{}{}:
	default:
	}
}

// runCycle polls every account serially. Per-account failures are
// contained: they mark the account's record and the cycle moves on.
func (p *Poller) runCycle() {
	accounts := p.source.Accounts()
	start := time.Now()

	for i := range accounts {
		if i > 0 {
			select {
			case <-time.After(p.config.AccountPause):
			case <-p.stopChan:
				return
			}
		}

		acc := &accounts[i]
		if err := p.pollAccount(acc); err != nil {
			logger.Warn("quota poll failed", "email", acc.Email, "error", err)
		}
	}

	p.mu.Lock()
	p.lastCycle = start
	p.mu.Unlock()

	metrics.PollCyclesTotal.Inc()
	p.sendEvent(Event{Type: EventCycleComplete})
}

// Refresh polls a single account immediately, returning the resulting
// record. Used for on-demand refresh from the HTTP layer.
func (p *Poller) Refresh(acc *models.AccountState) (*models.QuotaRecord, error) {
	err := p.pollAccount(acc)
	return p.Quota(acc.Email), err
}

// pollAccount runs the token, fetch, parse and aggregate stages for one
// account.
func (p *Poller) pollAccount(acc *models.AccountState) error {
	accessToken, err := p.accessToken(acc)
	if err != nil {
		metrics.PollErrorsTotal.WithLabelValues("token").Inc()
		p.recordError(acc.Email, fmt.Errorf("token exchange: %w", err))
		return err
	}

	modelQuotas, err := FetchModels(p.client, accessToken, acc.ProjectID, time.Now())
	if err != nil {
		metrics.PollErrorsTotal.WithLabelValues("fetch").Inc()
		p.recordError(acc.Email, err)
		return err
	}

	now := time.Now()
	record := &models.QuotaRecord{
		Email:     acc.Email,
		FetchedAt: now,
		Models:    modelQuotas,
		Tier:      string(DetectTier(modelQuotas, now)),
		Claude:    Aggregate(modelQuotas, models.FamilyClaude),
		Gemini:    Aggregate(modelQuotas, models.FamilyGemini),
	}

	p.mu.Lock()
	p.cache[acc.Email] = record
	p.mu.Unlock()

	p.sendEvent(Event{Type: EventQuotaUpdated, Email: acc.Email, Record: record.Clone()})
	return nil
}

// accessToken returns a valid access token for the account's
// credential, exchanging the refresh token when the cached one is
// absent or about to expire. Tokens are keyed by credential, not email,
// so registry edits that relabel an account keep its token.
func (p *Poller) accessToken(acc *models.AccountState) (string, error) {
	refreshToken := p.credential(acc.Email)
	if refreshToken == "" {
		return "", fmt.Errorf("no refresh token for account: %s", acc.Email)
	}

	p.mu.RLock()
	cached := p.tokens[refreshToken]
	p.mu.RUnlock()

	if cached.IsValid() {
		return cached.AccessToken, nil
	}

	var tokenResp *TokenResponse
	var err error

	// Retry with exponential backoff
	backoff := 500 * time.Millisecond
	for i := range 3 {
		tokenResp, err = RefreshAccessToken(p.client, refreshToken, p.config.ClientID, p.config.ClientSecret)
		if err == nil {
			break
		}

		if i < 2 {
			select {
			case <-time.After(backoff):
			case <-p.stopChan:
				return "", err
			}
			backoff *= 2
		}
	}
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	p.tokens[refreshToken] = &CachedToken{
		AccessToken: tokenResp.AccessToken,
		ExpiresAt:   time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second),
	}
	p.mu.Unlock()

	metrics.TokenRefreshesTotal.Inc()
	p.sendEvent(Event{Type: EventTokenRefreshed, Email: acc.Email})
	return tokenResp.AccessToken, nil
}

// credentialSource lets tests inject credentials; in production the
// account source's states don't carry refresh tokens, so the poller
// reads them through this hook set by the hub.
type credentialSource interface {
	Credential(email string) string
}

// SetCredentialSource wires the refresh-token lookup. Must be called
// before Start.
func (p *Poller) SetCredentialSource(src credentialSource) {
	p.mu.Lock()
	p.credSource = src
	p.mu.Unlock()
}

func (p *Poller) credential(email string) string {
	p.mu.RLock()
	src := p.credSource
	p.mu.RUnlock()
	if src == nil {
		return ""
	}
	return src.Credential(email)
}

// recordError marks the account's cached record with a fetch error,
// retaining any previously fetched quota data (stale is better than
// absent).
func (p *Poller) recordError(email string, err error) {
	p.mu.Lock()
	record, ok := p.cache[email]
	if !ok {
		record = &models.QuotaRecord{Email: email}
		p.cache[email] = record
	}
	record.FetchedAt = time.Now()
	record.FetchError = err.Error()
	snapshot := record.Clone()
	p.mu.Unlock()

	p.sendEvent(Event{Type: EventQuotaError, Email: email, Record: snapshot, Error: err})
}

// Quota returns the cached record for an account, or nil.
func (p *Poller) Quota(email string) *models.QuotaRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cache[email].Clone()
}

// AllQuotas returns a copy of the quota cache.
func (p *Poller) AllQuotas() map[string]*models.QuotaRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make(map[string]*models.QuotaRecord, len(p.cache))
	for email, rec := range p.cache {
		result[email] = rec.Clone()
	}
	return result
}

// CacheAge returns the time since the last completed cycle started, or
// zero when no cycle has completed yet.
func (p *Poller) CacheAge() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.lastCycle.IsZero() {
		return 0
	}
	return time.Since(p.lastCycle)
}

// IsStale reports whether the cache is older than one poll interval.
// Callers use this to decide between serving the cache and forcing a
// refresh.
func (p *Poller) IsStale() bool {
	p.mu.RLock()
	last := p.lastCycle
	p.mu.RUnlock()
	return last.IsZero() || time.Since(last) > p.config.PollInterval
}

// Forget drops cached quota and token state for accounts no longer in
// the given set. Called by the hub after registry removals. Tokens are
// keyed by credential, so a token survives only while some live
// account still maps to it.
func (p *Poller) Forget(live map[string]struct{}) {
	liveTokens := make(map[string]struct{}, len(live))
	for email := range live {
		if cred := p.credential(email); cred != "" {
			liveTokens[cred] = struct{}{}
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	maps.DeleteFunc(p.cache, func(email string, _ *models.QuotaRecord) bool {
		_, ok := live[email]
		return !ok
	})
	maps.DeleteFunc(p.tokens, func(token string, _ *CachedToken) bool {
		_, ok := liveTokens[token]
		return !ok
	})
}

// sendEvent sends an event to the event channel non-blocking.
func (p *Poller) sendEvent(event Event) {
	select {
	case p.eventChan <- event:
	default:
		// Channel full, drop oldest
		select {
		case <-p.eventChan:
		default:
		}
		select {
		case p.eventChan <- event:
		default:
		}
	}
}

// Close stops the poller.
func (p *Poller) Close() error {
	p.stopOnce.Do(func() { close(p.stopChan) })
	return nil
}
