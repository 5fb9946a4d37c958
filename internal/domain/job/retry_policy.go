// Package job holds worker-side policies of the job lifecycle: retry budgets and wakeup notifications.
package job

import (
	"errors"
	"time"
)

// ErrInvalidBackoff indicates the configured retry backoff base is not positive.
var ErrInvalidBackoff = errors.New("retry backoff base must be positive")

// BudgetSource identifies how a job's retry budget was resolved.
type BudgetSource string

const (
	// BudgetSourceExplicit indicates the submission carried its own budget.
	BudgetSourceExplicit BudgetSource = "explicit"
	// BudgetSourceDefault indicates the configured default budget was used.
	BudgetSourceDefault BudgetSource = "default"
)

// RetryPolicy resolves retry budgets and the linear backoff applied between attempts.
type RetryPolicy struct {
	base              time.Duration
	defaultMaxRetries int
}

// NewRetryPolicy constructs a RetryPolicy. A non-positive default budget falls back to 3.
func NewRetryPolicy(base time.Duration, defaultMaxRetries int) (*RetryPolicy, error) {
	if base <= 0 {
		return nil, ErrInvalidBackoff
	}
	if defaultMaxRetries < 1 {
		defaultMaxRetries = 3
	}
	return &RetryPolicy{base: base, defaultMaxRetries: defaultMaxRetries}, nil
}

// Base returns the backoff unit.
func (p *RetryPolicy) Base() time.Duration {
	if p == nil {
		return 0
	}
	return p.base
}

// BudgetDecision captures the outcome of resolving a submission's retry budget.
type BudgetDecision struct {
	MaxRetries int
	Source     BudgetSource
}

// UsedDefault reports whether the policy fell back to the default budget.
func (d BudgetDecision) UsedDefault() bool {
	return d.Source == BudgetSourceDefault
}

// ResolveMaxRetries returns the requested budget, or the default when none was requested.
// Callers validate explicit budgets before resolving.
func (p *RetryPolicy) ResolveMaxRetries(requested *int) BudgetDecision {
	if requested != nil {
		return BudgetDecision{MaxRetries: *requested, Source: BudgetSourceExplicit}
	}
	if p == nil {
		return BudgetDecision{MaxRetries: 3, Source: BudgetSourceDefault}
	}
	return BudgetDecision{MaxRetries: p.defaultMaxRetries, Source: BudgetSourceDefault}
}

// Backoff returns the delay before the attempt that follows the given retry count.
// The delay grows linearly: retry n waits n times the base.
func (p *RetryPolicy) Backoff(retryCount int) time.Duration {
	if p == nil || retryCount < 1 {
		return 0
	}
	return time.Duration(retryCount) * p.base
}
