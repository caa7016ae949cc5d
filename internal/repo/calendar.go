package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/conciergestack/schedmate/internal/models"
)

// CalendarClient asks the calendar collaborator whether a set of proposed
// intervals fits the principal's calendar.
type CalendarClient struct {
	httpClient
}

// NewCalendarClient constructs a client for the calendar collaborator.
func NewCalendarClient(baseURL, requestPath string, timeout time.Duration) *CalendarClient {
	return &CalendarClient{httpClient: newHTTPClient("calendar", baseURL, requestPath, timeout)}
}

// CheckAvailability reports whether every proposed interval is free. With no
// intervals it still round-trips so the collaborator can veto on other
// grounds (all-day holds, out-of-office).
func (c *CalendarClient) CheckAvailability(ctx context.Context, principalID string, intervals []models.ProposedInterval) (*models.Availability, error) {
	if c == nil {
		return nil, fmt.Errorf("calendar client not initialised")
	}

	type window struct {
		Start string `json:"start"`
		End   string `json:"end"`
	}
	payload := struct {
		PrincipalID string   `json:"principal_id"`
		Windows     []window `json:"windows"`
	}{PrincipalID: principalID}
	for _, interval := range intervals {
		payload.Windows = append(payload.Windows, window{
			Start: interval.Start.Format(time.RFC3339),
			End:   interval.End.Format(time.RFC3339),
		})
	}

	var availability models.Availability
	if err := c.postJSON(ctx, c.endpoint(), payload, &availability); err != nil {
		return nil, fmt.Errorf("calendar availability request failed: %w", err)
	}
	return &availability, nil
}
