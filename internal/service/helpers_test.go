package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/target/assessment-jobs/internal/core"
	"github.com/target/assessment-jobs/internal/domain/model"
	"github.com/target/assessment-jobs/internal/ports"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func strPtr(s string) *string { return &s }

func newTestJob(id string, status model.JobStatus) *model.Job {
	j := &model.Job{
		ID:             id,
		UserID:         "user-1",
		Type:           model.JobTypeAssessment,
		Status:         status,
		Priority:       50,
		MaxRetries:     3,
		CreditCost:     10,
		ResultID:       strPtr("res-" + id),
		NextEligibleAt: testNow,
		CreatedAt:      testNow.Add(-time.Minute),
		UpdatedAt:      testNow,
	}
	if status != model.JobStatusQueued {
		started := testNow
		j.ProcessingStartedAt = &started
	}
	if status.Terminal() {
		done := testNow
		j.CompletedAt = &done
	}
	return j
}

// jobState applies conditional writes to one in-memory row the way the SQL statements do.
// gomock expectations delegate to it with DoAndReturn.
type jobState struct {
	mu     sync.Mutex
	job    *model.Job
	output json.RawMessage
	// failNext makes the next write return an error without touching the row, like a rolled back tx.
	failNext error
}

func (s *jobState) get(_ context.Context, _ string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.job
	return &cp, nil
}

func (s *jobState) transition(_ context.Context, p core.TransitionParams) (*model.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failNext; err != nil {
		s.failNext = nil
		return nil, false, err
	}
	j := s.job
	if j.Status != p.From {
		return nil, false, nil
	}
	now := testNow
	switch p.To {
	case model.JobStatusProcessing:
		j.ProcessingStartedAt = &now
		j.ClaimedUntil, j.ClaimToken = nil, nil
	case model.JobStatusQueued:
		if j.RetryCount >= j.MaxRetries {
			return nil, false, nil
		}
		j.RetryCount++
		j.NextEligibleAt = now.Add(time.Duration(j.RetryCount) * p.RetryBackoff)
		j.ProcessingStartedAt = nil
		j.ErrorMessage = p.ErrorMessage
	case model.JobStatusCompleted:
		j.CompletedAt = &now
		j.ErrorMessage = nil
		s.output = p.Output
	default:
		j.CompletedAt = &now
		j.ErrorMessage = p.ErrorMessage
	}
	j.Status = p.To
	cp := *j
	return &cp, true, nil
}

// eventRecorder captures published terminal events.
type eventRecorder struct {
	mu     sync.Mutex
	events []model.JobEvent
}

func (r *eventRecorder) publisher() ports.EventPublisher {
	return ports.EventPublisherFunc(func(_ context.Context, e model.JobEvent) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, e)
		return nil
	})
}

func (r *eventRecorder) all() []model.JobEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.JobEvent(nil), r.events...)
}

// ledgerRecorder is an in-memory credit ledger.
type ledgerRecorder struct {
	mu       sync.Mutex
	refunds  []ports.RefundRequest
	failWith error
}

func (l *ledgerRecorder) Refund(_ context.Context, req ports.RefundRequest) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failWith != nil {
		return l.failWith
	}
	l.refunds = append(l.refunds, req)
	return nil
}

func (l *ledgerRecorder) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.refunds)
}

// markerState is a RefundMarker over a jobState row.
type markerState struct {
	state *jobState
}

func (m markerState) MarkRefunded(_ context.Context, _ string) (*model.Job, bool, error) {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	j := m.state.job
	if j.RefundedAt != nil || !j.Status.Refundable() || j.CreditCost <= 0 {
		return nil, false, nil
	}
	now := testNow
	j.RefundedAt = &now
	cp := *j
	return &cp, true, nil
}

func (m markerState) ClearRefundMarker(_ context.Context, _ string) error {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	m.state.job.RefundedAt = nil
	return nil
}

var (
	_ ports.CreditLedger = (*ledgerRecorder)(nil)
	_ core.RefundMarker  = markerState{}
)
