package job

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRetryPolicy(t *testing.T) {
	_, err := NewRetryPolicy(0, 3)
	require.ErrorIs(t, err, ErrInvalidBackoff)

	p, err := NewRetryPolicy(5*time.Second, 0)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, p.Base())
	assert.Equal(t, 3, p.ResolveMaxRetries(nil).MaxRetries)
}

func TestRetryPolicy_ResolveMaxRetries(t *testing.T) {
	p, err := NewRetryPolicy(time.Second, 4)
	require.NoError(t, err)

	d := p.ResolveMaxRetries(nil)
	assert.Equal(t, 4, d.MaxRetries)
	assert.True(t, d.UsedDefault())

	two := 2
	d = p.ResolveMaxRetries(&two)
	assert.Equal(t, 2, d.MaxRetries)
	assert.Equal(t, BudgetSourceExplicit, d.Source)

	var nilPolicy *RetryPolicy
	assert.Equal(t, 3, nilPolicy.ResolveMaxRetries(nil).MaxRetries)
}

func TestRetryPolicy_BackoffIsLinear(t *testing.T) {
	p, err := NewRetryPolicy(5*time.Second, 3)
	require.NoError(t, err)

	assert.Equal(t, time.Duration(0), p.Backoff(0))
	assert.Equal(t, 5*time.Second, p.Backoff(1))
	assert.Equal(t, 10*time.Second, p.Backoff(2))
	assert.Equal(t, 15*time.Second, p.Backoff(3))
}
