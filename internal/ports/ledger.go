// Package ports defines interfaces (hexagonal ports) for collaborators the job engine does not own.
// Implementations live in internal/adapters and internal/data; orchestration in internal/service.
package ports

import "context"

// RefundRequest restores the credits a job consumed at submission.
type RefundRequest struct {
	UserID string
	JobID  string
	Amount int
}

// CreditLedger is the external balance store the refund path mutates.
// Refund must be safe to call again for the same JobID.
type CreditLedger interface {
	Refund(ctx context.Context, req RefundRequest) error
}
