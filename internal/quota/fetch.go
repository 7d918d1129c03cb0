package quota

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/j-veylop/antigravity-quota-hub/internal/logger"
	"github.com/j-veylop/antigravity-quota-hub/internal/models"
)

var (
	// Antigravity endpoints, tried in preference order.
	antigravityEndpoints = []string{
		"https://cloudcode-pa.googleapis.com",
		"https://daily-cloudcode-pa.sandbox.googleapis.com",
	}

	// Antigravity headers from reference implementation
	antigravityHeaders = map[string]string{
		"User-Agent":        "antigravity/1.11.5 windows/amd64",
		"X-Goog-Api-Client": "google-cloud-sdk vscode_cloudshelleditor/0.1",
		"Client-Metadata":   `{"ideType":"IDE_UNSPECIFIED","platform":"PLATFORM_UNSPECIFIED","pluginType":"GEMINI"}`,
	}
)

// fetchModelsResponse represents the response from fetchAvailableModels API.
type fetchModelsResponse struct {
	Models map[string]struct {
		DisplayName string `json:"displayName"`
		QuotaInfo   *struct {
			RemainingFraction *float64 `json:"remainingFraction"`
			ResetTime         string   `json:"resetTime"`
		} `json:"quotaInfo"`
	} `json:"models"`
}

// FetchModels retrieves per-model quota from the quota provider, trying
// each endpoint in order and stopping at the first success. projectID
// is optional. A nil client falls back to a default with a bounded
// timeout.
func FetchModels(client *http.Client, accessToken, projectID string, now time.Time) ([]models.ModelQuota, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("access token is empty")
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}

	payload := "{}"
	if projectID != "" {
		encoded, err := json.Marshal(map[string]string{"project": projectID})
		if err == nil {
			payload = string(encoded)
		}
	}

	var lastErr error

	for _, endpoint := range antigravityEndpoints {
		url := endpoint + "/v1internal:fetchAvailableModels"
		req, err := http.NewRequestWithContext(context.Background(), "POST", url, strings.NewReader(payload))
		if err != nil {
			lastErr = fmt.Errorf("failed to create quota request: %w", err)
			continue
		}

		req.Header.Set("Authorization", "Bearer "+accessToken)
		req.Header.Set("Content-Type", "application/json")
		for k, v := range antigravityHeaders {
			req.Header.Set(k, v)
		}

		resp, err := client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("quota request failed: %w", err)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		if closeErr := resp.Body.Close(); closeErr != nil {
			logger.Error("failed to close response body", "error", closeErr)
		}
		if err != nil {
			lastErr = fmt.Errorf("failed to read quota response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("unauthorized: access token may be expired")
		}

		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("quota request failed (status %d): %s", resp.StatusCode, string(body))
			continue
		}

		var modelsResp fetchModelsResponse
		if err := json.Unmarshal(body, &modelsResp); err != nil {
			lastErr = fmt.Errorf("failed to parse quota response: %w", err)
			continue
		}

		return parseModels(&modelsResp), nil
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, fmt.Errorf("failed to fetch quota from any endpoint")
}

// parseModels converts the provider response into model quota entries.
// Models without quotaInfo are excluded; a missing remainingFraction
// within quotaInfo means fully available.
func parseModels(resp *fetchModelsResponse) []models.ModelQuota {
	var out []models.ModelQuota

	for name, data := range resp.Models {
		if data.QuotaInfo == nil {
			continue
		}

		fraction := 1.0
		if data.QuotaInfo.RemainingFraction != nil {
			fraction = *data.QuotaInfo.RemainingFraction
		}

		var resetAt time.Time
		if data.QuotaInfo.ResetTime != "" {
			resetAt, _ = time.Parse(time.RFC3339, data.QuotaInfo.ResetTime)
		}

		mq := models.ModelQuota{
			Name:              name,
			DisplayName:       data.DisplayName,
			RemainingFraction: fraction,
			RemainingPercent:  fraction * 100,
			ResetAt:           resetAt,
		}
		if fam, ok := models.ClassifyFamily(name); ok {
			mq.Family = fam
		}
		out = append(out, mq)
	}

	return out
}

// Aggregate computes the effective per-family quota: the minimum
// remaining percent among the family's models gates the family, and
// that model's reset time becomes the family reset time. Unclassified
// models are excluded.
func Aggregate(quotas []models.ModelQuota, fam models.Family) models.FamilyQuota {
	var agg models.FamilyQuota

	for i := range quotas {
		mq := &quotas[i]
		if mq.Family != fam {
			continue
		}
		if !agg.Present || mq.RemainingPercent < agg.RemainingPercent {
			agg.Present = true
			agg.RemainingPercent = mq.RemainingPercent
			agg.ResetAt = mq.ResetAt
		}
	}

	return agg
}
