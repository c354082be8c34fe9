package retry

import (
	"errors"
	"math"
	"time"

	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

// RetryPolicy is an interface that defines retry logic for a failed tasklet invocation.
// Implementations are stateless and safe for concurrent use; the attempt count is kept by the caller.
type RetryPolicy interface {
	// ShouldRetry determines if a given error is retryable.
	ShouldRetry(err error) bool
	// GetBackoffInterval returns the wait before the given retry.
	// attempt: The current retry number (starting from 1).
	GetBackoffInterval(attempt int) time.Duration
	// GetMaxAttempts returns the maximum number of retries after the first failure. 0 disables retry.
	GetMaxAttempts() int
}

// DefaultRetryPolicyFactory is a factory for creating RetryPolicy.
type DefaultRetryPolicyFactory struct{}

// NewDefaultRetryPolicyFactory creates a new DefaultRetryPolicyFactory.
func NewDefaultRetryPolicyFactory() *DefaultRetryPolicyFactory {
	return &DefaultRetryPolicyFactory{}
}

// Create creates a fixed-interval RetryPolicy.
// initialInterval: The wait in milliseconds before each retry.
// retryableExceptions: Error type names resolved with exception.IsErrorOfType.
func (f *DefaultRetryPolicyFactory) Create(maxAttempts int, initialInterval int, retryableExceptions []string) RetryPolicy {
	return f.CreateExponential(maxAttempts, initialInterval, 1, 0, retryableExceptions)
}

// CreateExponential creates a RetryPolicy whose wait grows by multiplier after every retry, capped at
// maxInterval milliseconds (0 means uncapped).
func (f *DefaultRetryPolicyFactory) CreateExponential(maxAttempts int, initialInterval int, multiplier float64, maxInterval int, retryableExceptions []string) RetryPolicy {
	if multiplier < 1 {
		multiplier = 1
	}
	return &defaultRetryPolicy{
		maxAttempts:         maxAttempts,
		initialInterval:     time.Duration(initialInterval) * time.Millisecond,
		multiplier:          multiplier,
		maxInterval:         time.Duration(maxInterval) * time.Millisecond,
		retryableExceptions: append([]string(nil), retryableExceptions...),
	}
}

// defaultRetryPolicy is the default implementation of RetryPolicy.
type defaultRetryPolicy struct {
	maxAttempts         int
	initialInterval     time.Duration
	multiplier          float64
	maxInterval         time.Duration
	retryableExceptions []string
}

// GetMaxAttempts returns the maximum number of attempts.
func (p *defaultRetryPolicy) GetMaxAttempts() int {
	return p.maxAttempts
}

// ShouldRetry determines if an error is retryable.
// Interruption and broken invariants are never retried. Otherwise the IsRetryable flag of a BatchError
// anywhere in the chain, or a match against the configured list, makes an error retryable.
func (p *defaultRetryPolicy) ShouldRetry(err error) bool {
	if err == nil || p.maxAttempts <= 0 {
		return false
	}
	if exception.IsJobInterrupted(err) || errors.Is(err, exception.ErrIllegalState) {
		return false
	}

	// 1. Check BatchError flag
	var be *exception.BatchError
	if errors.As(err, &be) && be.IsRetryable() {
		return true
	}

	// 2. Match against configured retryable exceptions list
	for _, typeName := range p.retryableExceptions {
		if exception.IsErrorOfType(err, typeName) {
			return true
		}
	}

	return false
}

// GetBackoffInterval returns initialInterval * multiplier^(attempt-1), capped at maxInterval.
func (p *defaultRetryPolicy) GetBackoffInterval(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	interval := time.Duration(float64(p.initialInterval) * math.Pow(p.multiplier, float64(attempt-1)))
	if p.maxInterval > 0 && interval > p.maxInterval {
		return p.maxInterval
	}
	return interval
}

// Verify interfaces
var _ RetryPolicy = (*defaultRetryPolicy)(nil)
