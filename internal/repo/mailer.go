package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/conciergestack/schedmate/internal/models"
)

// MailerClient submits drafted replies to the outbound mail collaborator.
type MailerClient struct {
	httpClient
}

// NewMailerClient constructs a client for the mailer collaborator.
func NewMailerClient(baseURL, requestPath string, timeout time.Duration) *MailerClient {
	return &MailerClient{httpClient: newHTTPClient("mailer", baseURL, requestPath, timeout)}
}

// Send hands one email to the mailer and returns the assigned outbound
// message id. A response without an id is treated as a failure: the audit
// ledger needs the id to tie the entry to the sent message.
func (c *MailerClient) Send(ctx context.Context, principalID string, email models.OutboundEmail) (string, error) {
	if c == nil {
		return "", fmt.Errorf("mailer client not initialised")
	}

	payload := struct {
		PrincipalID string `json:"principal_id"`
		To          string `json:"to"`
		Subject     string `json:"subject"`
		Body        string `json:"body"`
		InReplyTo   string `json:"in_reply_to,omitempty"`
	}{
		PrincipalID: principalID,
		To:          email.To,
		Subject:     email.Subject,
		Body:        email.Body,
		InReplyTo:   email.InReplyTo,
	}

	var response struct {
		MessageID string `json:"message_id"`
	}
	if err := c.postJSON(ctx, c.endpoint(), payload, &response); err != nil {
		return "", fmt.Errorf("mailer send request failed: %w", err)
	}
	if response.MessageID == "" {
		return "", fmt.Errorf("mailer returned no message id")
	}
	return response.MessageID, nil
}
