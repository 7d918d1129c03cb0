package quota

import (
	"time"

	"github.com/j-veylop/antigravity-quota-hub/internal/models"
)

// SubscriptionTier represents the user's subscription level.
type SubscriptionTier string

const (
	// TierFree represents the free subscription tier.
	TierFree SubscriptionTier = "FREE"
	// TierPro represents the paid pro subscription tier.
	TierPro SubscriptionTier = "PRO"
	// TierUnknown represents an unknown subscription tier.
	TierUnknown SubscriptionTier = "UNKNOWN"
)

// TierThreshold is the reset time threshold for tier detection.
// PRO tier resets hourly (<=6 hours), FREE tier resets daily (>6 hours).
const TierThreshold = 6 * time.Hour

// detectTier determines the subscription tier based on a model's reset
// time relative to now.
func detectTier(resetAt, now time.Time) SubscriptionTier {
	if resetAt.IsZero() {
		return TierUnknown
	}

	duration := resetAt.Sub(now)

	// If reset time is in the past, we can't determine tier
	if duration < 0 {
		// Check if it was within the last hour (PRO likely)
		if duration > -1*time.Hour {
			return TierPro
		}
		return TierUnknown
	}

	if duration <= TierThreshold {
		return TierPro
	}
	return TierFree
}

// DetectTier determines the overall tier from the polled model quotas.
// If any model shows a PRO cadence, the account is PRO.
func DetectTier(quotas []models.ModelQuota, now time.Time) SubscriptionTier {
	hasPro := false
	hasFree := false

	for i := range quotas {
		switch detectTier(quotas[i].ResetAt, now) {
		case TierPro:
			hasPro = true
		case TierFree:
			hasFree = true
		}
	}

	switch {
	case hasPro:
		return TierPro
	case hasFree:
		return TierFree
	default:
		return TierUnknown
	}
}
