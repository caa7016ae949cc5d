package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/conciergestack/schedmate/internal/models"
)

// MailboxClient fetches full message bodies from the inbound mail
// collaborator when a decision request arrives with only a message id.
type MailboxClient struct {
	httpClient
}

// NewMailboxClient constructs a client for the mailbox collaborator.
func NewMailboxClient(baseURL, requestPath string, timeout time.Duration) *MailboxClient {
	return &MailboxClient{httpClient: newHTTPClient("mailbox", baseURL, requestPath, timeout)}
}

// FetchMessage retrieves one message by id.
func (c *MailboxClient) FetchMessage(ctx context.Context, principalID, messageID string) (*models.Message, error) {
	if c == nil {
		return nil, fmt.Errorf("mailbox client not initialised")
	}

	var message models.Message
	endpoint := c.endpoint(principalID, messageID)
	if err := c.getJSON(ctx, endpoint, &message); err != nil {
		return nil, fmt.Errorf("mailbox fetch request failed: %w", err)
	}
	if message.ID == "" {
		message.ID = messageID
	}
	return &message, nil
}
