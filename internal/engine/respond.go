package engine

import (
	"fmt"
	"strings"

	"github.com/conciergestack/schedmate/internal/models"
	"github.com/conciergestack/schedmate/internal/utils"
)

const maxAlternatives = 3

// DraftReply composes the outbound reply for a high-confidence decision.
// Wording depends on whether the proposed times fit the calendar and on
// where the negotiation stands.
func DraftReply(req models.DecisionRequest, conv *models.ConversationState, availability *models.Availability) models.OutboundEmail {
	cls := req.Classification
	email := models.OutboundEmail{
		To:        cls.Sender,
		Subject:   replySubject(req.Subject),
		InReplyTo: cls.MessageID,
	}

	var b strings.Builder
	b.WriteString("Hi,\n\n")

	switch {
	case cls.Kind == models.RequestKindConfirmation:
		b.WriteString("Confirmed, we're all set. Looking forward to it.\n")
	case availability != nil && availability.Available && len(cls.ProposedIntervals) > 0:
		slot := cls.ProposedIntervals[0]
		fmt.Fprintf(&b, "That works. I've penciled in %s.\n", utils.FormatSlot(slot.Start, slot.End))
	case availability != nil && len(availability.SuggestedAlternatives) > 0:
		b.WriteString("The proposed time doesn't fit, but any of these would work:\n\n")
		alternatives := availability.SuggestedAlternatives
		if len(alternatives) > maxAlternatives {
			alternatives = alternatives[:maxAlternatives]
		}
		for _, alt := range alternatives {
			fmt.Fprintf(&b, "  - %s\n", utils.FormatSlot(alt.Start, alt.End))
		}
		b.WriteString("\nWould any of those suit you?\n")
	default:
		b.WriteString("Thanks for reaching out. Could you share a couple of times that work for you?\n")
	}

	b.WriteString("\nBest regards\n")
	email.Body = b.String()
	return email
}

func replySubject(subject string) string {
	trimmed := strings.TrimSpace(subject)
	if trimmed == "" {
		return "Re: scheduling"
	}
	if strings.HasPrefix(strings.ToLower(trimmed), "re:") {
		return trimmed
	}
	return "Re: " + trimmed
}
