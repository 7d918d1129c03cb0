package models

import "time"

// ModelQuota is the remaining quota for one model as reported by the
// quota provider. Family is empty for models matching neither tracked
// family; those are kept for completeness but excluded from aggregates.
type ModelQuota struct {
	ResetAt           time.Time `json:"resetAt,omitzero"`
	Name              string    `json:"name"`
	DisplayName       string    `json:"displayName,omitempty"`
	Family            Family    `json:"family,omitempty"`
	RemainingFraction float64   `json:"remainingFraction"`
	RemainingPercent  float64   `json:"remainingPercent"`
}

// FamilyQuota is the effective quota for one family: the minimum
// remaining percent among the family's models, and that model's reset
// time. Present is false when the provider reported no models for the
// family.
type FamilyQuota struct {
	ResetAt          time.Time `json:"resetAt,omitzero"`
	RemainingPercent float64   `json:"remainingPercent"`
	Present          bool      `json:"present"`
}

// QuotaRecord is the cached quota state for one account. It is
// overwritten wholesale on each successful poll; on a failed poll only
// FetchedAt and FetchError change so stale-but-present data survives.
type QuotaRecord struct {
	FetchedAt  time.Time    `json:"fetchedAt"`
	Models     []ModelQuota `json:"models"`
	Email      string       `json:"email"`
	FetchError string       `json:"fetchError,omitempty"`
	Tier       string       `json:"tier,omitempty"`
	Claude     FamilyQuota  `json:"claude"`
	Gemini     FamilyQuota  `json:"gemini"`
}

// FamilyAggregate returns the aggregate for a family.
func (q *QuotaRecord) FamilyAggregate(fam Family) FamilyQuota {
	switch fam {
	case FamilyClaude:
		return q.Claude
	case FamilyGemini:
		return q.Gemini
	}
	return FamilyQuota{}
}

// Clone returns a deep copy of the quota record.
func (q *QuotaRecord) Clone() *QuotaRecord {
	if q == nil {
		return nil
	}
	c := *q
	if q.Models != nil {
		c.Models = make([]ModelQuota, len(q.Models))
		copy(c.Models, q.Models)
	}
	return &c
}
