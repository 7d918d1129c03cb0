// Package models defines data structures and domain types.
package models

import (
	"encoding/json"
	"time"
)

// Family identifies a model family for quota and rate-limit tracking.
type Family string

const (
	// FamilyClaude covers Claude models (including the "anthropic" alias).
	FamilyClaude Family = "claude"
	// FamilyGemini covers Gemini models.
	FamilyGemini Family = "gemini"
)

// Families lists the tracked model families in a stable order.
var Families = []Family{FamilyClaude, FamilyGemini}

// RawAccountRecord is one account entry as stored in the registry file.
// The registry is written by external tooling and must be treated as
// untrusted input: timestamps come in several shapes and any field may
// be missing.
type RawAccountRecord struct {
	RateLimitResetTimes map[string]float64 `json:"rateLimitResetTimes,omitempty"`
	Email               string             `json:"email"`
	RefreshToken        string             `json:"refreshToken"`
	ProjectID           string             `json:"projectId,omitempty"`
	ManagedProjectID    string             `json:"managedProjectId,omitempty"`
	AddedAt             json.RawMessage    `json:"addedAt,omitempty"`
	LastUsed            json.RawMessage    `json:"lastUsed,omitempty"`
}

// RawRegistryFile is the top-level structure of the accounts registry.
type RawRegistryFile struct {
	ActiveIndexes map[string]int     `json:"activeIndexes,omitempty"`
	Accounts      []RawAccountRecord `json:"accounts"`
	Version       int                `json:"version"`
	ActiveIndex   int                `json:"activeIndex"`
}

// RegistryAccount is a registry record with timestamps parsed and the
// per-family rate-limit reset epochs resolved.
type RegistryAccount struct {
	AddedAt          time.Time
	LastUsed         time.Time
	RateLimitReset   map[Family]time.Time
	Email            string
	RefreshToken     string
	ProjectID        string
	ManagedProjectID string
}

// RegistrySnapshot is one settled read of the registry file. An empty
// snapshot (no accounts) is a valid state, distinct from a parse failure.
type RegistrySnapshot struct {
	ActiveIndexes map[Family]int
	Accounts      []RegistryAccount
	ActiveIndex   int
}

// ToRegistryAccount converts a raw record, parsing date fields and
// resolving family keys case-insensitively.
func (r *RawAccountRecord) ToRegistryAccount() RegistryAccount {
	acc := RegistryAccount{
		Email:            r.Email,
		RefreshToken:     r.RefreshToken,
		ProjectID:        r.ProjectID,
		ManagedProjectID: r.ManagedProjectID,
	}

	if len(r.RateLimitResetTimes) > 0 {
		acc.RateLimitReset = make(map[Family]time.Time, len(r.RateLimitResetTimes))
		for name, epoch := range r.RateLimitResetTimes {
			if fam, ok := ClassifyFamily(name); ok {
				acc.RateLimitReset[fam] = epochToTime(epoch)
			}
		}
	}

	if len(r.AddedAt) > 0 {
		acc.AddedAt = parseTimeField(r.AddedAt)
	}
	if len(r.LastUsed) > 0 {
		acc.LastUsed = parseTimeField(r.LastUsed)
	}

	return acc
}

// ToSnapshot converts a raw registry file into a parsed snapshot.
func (f *RawRegistryFile) ToSnapshot() *RegistrySnapshot {
	snap := &RegistrySnapshot{
		Accounts:    make([]RegistryAccount, len(f.Accounts)),
		ActiveIndex: f.ActiveIndex,
	}
	for i := range f.Accounts {
		snap.Accounts[i] = f.Accounts[i].ToRegistryAccount()
	}
	if len(f.ActiveIndexes) > 0 {
		snap.ActiveIndexes = make(map[Family]int, len(f.ActiveIndexes))
		for name, idx := range f.ActiveIndexes {
			if fam, ok := ClassifyFamily(name); ok {
				snap.ActiveIndexes[fam] = idx
			}
		}
	}
	return snap
}

// ActiveIndexFor returns the active index for a family, falling back to
// the global active index when no per-family override is set.
func (s *RegistrySnapshot) ActiveIndexFor(fam Family) int {
	if s.ActiveIndexes != nil {
		if idx, ok := s.ActiveIndexes[fam]; ok {
			return idx
		}
	}
	return s.ActiveIndex
}

// epochToTime interprets a numeric timestamp as milliseconds or seconds
// depending on magnitude.
func epochToTime(epoch float64) time.Time {
	if epoch <= 0 {
		return time.Time{}
	}
	if epoch > 1e12 {
		return time.UnixMilli(int64(epoch))
	}
	return time.Unix(int64(epoch), 0)
}

// parseTimeField attempts to parse a JSON time value as either ISO string or Unix timestamp.
func parseTimeField(data json.RawMessage) time.Time {
	// Try as string first (ISO 8601)
	var strVal string
	if err := json.Unmarshal(data, &strVal); err == nil {
		if t, err := time.Parse(time.RFC3339, strVal); err == nil {
			return t
		}
		if t, err := time.Parse(time.RFC3339Nano, strVal); err == nil {
			return t
		}
		if t, err := time.Parse("2006-01-02T15:04:05.000Z", strVal); err == nil {
			return t
		}
	}

	// Try as number (Unix timestamp in milliseconds or seconds)
	var numVal float64
	if err := json.Unmarshal(data, &numVal); err == nil {
		return epochToTime(numVal)
	}

	return time.Time{}
}
