// Package state holds the pure account-state transforms: building
// normalized state from registry snapshots, diffing snapshots, and
// advancing time-based fields.
package state

import (
	"time"

	"github.com/j-veylop/antigravity-quota-hub/internal/models"
)

// Build transforms a registry snapshot into the normalized per-account
// state list. It is a pure function of the snapshot and "now"; the
// result order follows the registry order.
func Build(snap *models.RegistrySnapshot, now time.Time) []models.AccountState {
	if snap == nil {
		return nil
	}

	claudeIdx := snap.ActiveIndexFor(models.FamilyClaude)
	geminiIdx := snap.ActiveIndexFor(models.FamilyGemini)

	states := make([]models.AccountState, len(snap.Accounts))
	for i := range snap.Accounts {
		acc := &snap.Accounts[i]

		st := models.AccountState{
			Email:            acc.Email,
			ProjectID:        acc.ProjectID,
			ManagedProjectID: acc.ManagedProjectID,
			AddedAt:          acc.AddedAt,
			LastUsed:         acc.LastUsed,
			IsActive:         i == snap.ActiveIndex,
			ClaudeActive:     i == claudeIdx,
			GeminiActive:     i == geminiIdx,
		}

		if reset, ok := acc.RateLimitReset[models.FamilyClaude]; ok {
			st.ClaudeLimit = buildLimit(reset, now)
		}
		if reset, ok := acc.RateLimitReset[models.FamilyGemini]; ok {
			st.GeminiLimit = buildLimit(reset, now)
		}

		st.Status = ComputeStatus(st.ClaudeLimit, st.GeminiLimit)
		states[i] = st
	}

	return states
}

// buildLimit derives the rate-limit info for one stored reset time.
func buildLimit(resetAt, now time.Time) *models.RateLimitInfo {
	remaining := resetAt.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	return &models.RateLimitInfo{
		ResetAt:   resetAt,
		Remaining: remaining,
		Expired:   !resetAt.After(now),
	}
}

// ComputeStatus derives the composite status from the two rate-limit
// infos. Precedence: both limited, then claude only, then gemini only,
// then available. The status clock re-derives status through this same
// function, so it must stay a pure function of its inputs.
func ComputeStatus(claude, gemini *models.RateLimitInfo) models.Status {
	switch {
	case claude.Limited() && gemini.Limited():
		return models.StatusRateLimitedAll
	case claude.Limited():
		return models.StatusRateLimitedClaude
	case gemini.Limited():
		return models.StatusRateLimitedGemini
	default:
		return models.StatusAvailable
	}
}
