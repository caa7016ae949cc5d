package engine

import "fmt"

// Error codes surfaced on DecisionResult.ErrorCode. Callers branch on the
// code; the wrapped error carries detail for logs.
const (
	CodeCollaboratorFailure = "COLLABORATOR_FAILURE"
	CodeAuditWriteFailed    = "AUDIT_WRITE_FAILED"
	CodeUnauditedAction     = "UNAUDITED_ACTION"
	CodeInvalidTransition   = "INVALID_TRANSITION"
)

// AuditWriteError reports a failed ledger append. When SentMessageID is
// non-empty the outbound email had already gone out, so the failure left an
// unaudited action behind and must be treated as the more severe case.
type AuditWriteError struct {
	SentMessageID string
	Err           error
}

func (e *AuditWriteError) Error() string {
	if e.SentMessageID != "" {
		return fmt.Sprintf("audit write failed after sending message %s: %v", e.SentMessageID, e.Err)
	}
	return fmt.Sprintf("audit write failed: %v", e.Err)
}

func (e *AuditWriteError) Unwrap() error { return e.Err }

// Code returns the decision error code for this failure.
func (e *AuditWriteError) Code() string {
	if e.SentMessageID != "" {
		return CodeUnauditedAction
	}
	return CodeAuditWriteFailed
}
