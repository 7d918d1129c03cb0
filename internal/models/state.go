package models

import "time"

// Status is the composite availability status of an account, derived
// solely from its two per-family rate-limit infos.
type Status string

const (
	// StatusAvailable means neither family is rate-limited.
	StatusAvailable Status = "available"
	// StatusRateLimitedClaude means only the Claude family is limited.
	StatusRateLimitedClaude Status = "rate_limited_claude"
	// StatusRateLimitedGemini means only the Gemini family is limited.
	StatusRateLimitedGemini Status = "rate_limited_gemini"
	// StatusRateLimitedAll means both families are limited.
	StatusRateLimitedAll Status = "rate_limited_all"
)

// ParseStatus validates a status string from an external caller.
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusAvailable, StatusRateLimitedClaude, StatusRateLimitedGemini, StatusRateLimitedAll:
		return Status(s), true
	}
	return "", false
}

// RateLimitInfo describes one family's rate-limit window on an account.
type RateLimitInfo struct {
	// ResetAt is when the limit lifts, as reported by the registry.
	ResetAt time.Time `json:"resetAt"`
	// Remaining is the time left until ResetAt, floored at zero.
	Remaining time.Duration `json:"remaining"`
	// Expired is true once ResetAt is in the past.
	Expired bool `json:"expired"`
}

// Limited reports whether this info represents an in-force rate limit.
// A nil info (no reset time known) is never limited.
func (r *RateLimitInfo) Limited() bool {
	return r != nil && !r.Expired
}

// Equal compares two rate-limit infos by value. Two nils are equal.
func (r *RateLimitInfo) Equal(other *RateLimitInfo) bool {
	if r == nil || other == nil {
		return r == other
	}
	return r.ResetAt.Equal(other.ResetAt) &&
		r.Remaining == other.Remaining &&
		r.Expired == other.Expired
}

// Clone returns a copy, preserving nil.
func (r *RateLimitInfo) Clone() *RateLimitInfo {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// AccountState is the normalized per-account state rebuilt wholesale on
// every registry change. Status is always derived from the two rate-limit
// infos and never set independently; between registry loads only the
// timer fields (Remaining, Expired, Status) are advanced by the status
// clock.
type AccountState struct {
	AddedAt          time.Time      `json:"addedAt"`
	LastUsed         time.Time      `json:"lastUsed"`
	ClaudeLimit      *RateLimitInfo `json:"claudeLimit,omitempty"`
	GeminiLimit      *RateLimitInfo `json:"geminiLimit,omitempty"`
	Email            string         `json:"email"`
	ProjectID        string         `json:"projectId,omitempty"`
	ManagedProjectID string         `json:"managedProjectId,omitempty"`
	Status           Status         `json:"status"`
	IsActive         bool           `json:"isActive"`
	ClaudeActive     bool           `json:"claudeActive"`
	GeminiActive     bool           `json:"geminiActive"`
}

// Limit returns the rate-limit info for a family.
func (a *AccountState) Limit(fam Family) *RateLimitInfo {
	switch fam {
	case FamilyClaude:
		return a.ClaudeLimit
	case FamilyGemini:
		return a.GeminiLimit
	}
	return nil
}

// ActiveFor reports whether this account is the active one for a family.
func (a *AccountState) ActiveFor(fam Family) bool {
	switch fam {
	case FamilyClaude:
		return a.ClaudeActive
	case FamilyGemini:
		return a.GeminiActive
	}
	return false
}

// Equal compares two account states field for field, including the
// nested rate-limit infos.
func (a *AccountState) Equal(other *AccountState) bool {
	if a == nil || other == nil {
		return a == other
	}
	return a.Email == other.Email &&
		a.ProjectID == other.ProjectID &&
		a.ManagedProjectID == other.ManagedProjectID &&
		a.AddedAt.Equal(other.AddedAt) &&
		a.LastUsed.Equal(other.LastUsed) &&
		a.IsActive == other.IsActive &&
		a.ClaudeActive == other.ClaudeActive &&
		a.GeminiActive == other.GeminiActive &&
		a.ClaudeLimit.Equal(other.ClaudeLimit) &&
		a.GeminiLimit.Equal(other.GeminiLimit) &&
		a.Status == other.Status
}

// Clone returns a deep copy of the account state.
func (a *AccountState) Clone() AccountState {
	c := *a
	c.ClaudeLimit = a.ClaudeLimit.Clone()
	c.GeminiLimit = a.GeminiLimit.Clone()
	return c
}

// CloneStates deep-copies a state slice.
func CloneStates(states []AccountState) []AccountState {
	out := make([]AccountState, len(states))
	for i := range states {
		out[i] = states[i].Clone()
	}
	return out
}
