package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/conciergestack/schedmate/internal/models"
)

// PreferencesClient resolves per-principal automation policy from the
// preferences collaborator.
type PreferencesClient struct {
	httpClient
}

// NewPreferencesClient constructs a client for the preferences collaborator.
func NewPreferencesClient(baseURL, requestPath string, timeout time.Duration) *PreferencesClient {
	return &PreferencesClient{httpClient: newHTTPClient("preferences", baseURL, requestPath, timeout)}
}

// FetchPolicy retrieves the principal's automation policy. The wire format
// carries the cooldown in minutes; it is converted here so callers only see
// durations.
func (c *PreferencesClient) FetchPolicy(ctx context.Context, principalID string) (models.Policy, error) {
	if c == nil {
		return models.Policy{}, fmt.Errorf("preferences client not initialised")
	}

	var response struct {
		AutomationEnabled           bool     `json:"automation_enabled"`
		ConfidenceThreshold         float64  `json:"confidence_threshold"`
		AllowList                   []string `json:"allow_list"`
		DenyList                    []string `json:"deny_list"`
		CooldownMinutes             int      `json:"cooldown_minutes"`
		MaxConsecutiveLowConfidence int      `json:"max_consecutive_low_confidence"`
	}
	if err := c.getJSON(ctx, c.endpoint(principalID), &response); err != nil {
		return models.Policy{}, fmt.Errorf("preferences request failed: %w", err)
	}

	return models.Policy{
		AutomationEnabled:           response.AutomationEnabled,
		ConfidenceThreshold:         response.ConfidenceThreshold,
		AllowList:                   response.AllowList,
		DenyList:                    response.DenyList,
		Cooldown:                    time.Duration(response.CooldownMinutes) * time.Minute,
		MaxConsecutiveLowConfidence: response.MaxConsecutiveLowConfidence,
	}, nil
}
