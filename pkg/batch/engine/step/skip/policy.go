package skip

import (
	"errors"
	"sync"

	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

// SkipPolicy is an interface that defines the logic for determining whether to skip an error raised
// by a tasklet invocation. This policy manages skipability, the skip limit, and the current skip count.
// Implementations must be safe for concurrent use by the workers of a throttled chunk loop.
type SkipPolicy interface {
	// ShouldSkip determines if a given error is skippable based on the current policy.
	ShouldSkip(err error) bool
	// TrySkip reserves one skip for err: it reports whether err is skippable and, if so, counts it.
	// The check and the increment are atomic.
	TrySkip(err error) bool
	// ReleaseSkip gives back a skip reserved by TrySkip when the invocation could not be skipped after all.
	ReleaseSkip()
	// CanSkip determines if further skips are allowed within the current skip limit.
	CanSkip() bool
	// IncrementSkipCount increments the count of skipped invocations by 1.
	IncrementSkipCount()
	// GetSkipCount returns the total number of invocations skipped so far.
	GetSkipCount() int
	// GetSkipLimit returns the maximum number of skips configured for this policy.
	GetSkipLimit() int
}

// DefaultSkipPolicyFactory is a factory for creating SkipPolicy.
type DefaultSkipPolicyFactory struct{}

// NewDefaultSkipPolicyFactory creates a new DefaultSkipPolicyFactory.
func NewDefaultSkipPolicyFactory() *DefaultSkipPolicyFactory {
	return &DefaultSkipPolicyFactory{}
}

// Create creates a new SkipPolicy instance based on the specified skip limit and list of skippable exceptions.
// skipLimit: The maximum number of skips allowed. 0 means no skips are allowed.
// skippableExceptions: Error type names resolved with exception.IsErrorOfType.
func (f *DefaultSkipPolicyFactory) Create(skipLimit int, skippableExceptions []string) (SkipPolicy, error) {
	for _, name := range skippableExceptions {
		if name == "" {
			return nil, errors.New("skippable exception name must not be empty")
		}
	}
	return &defaultSkipPolicy{
		skipLimit:           skipLimit,
		skippableExceptions: append([]string(nil), skippableExceptions...),
	}, nil
}

// AlwaysSkipPolicy skips every error without limit. Used when the tasklet itself decides what
// to recover from.
type AlwaysSkipPolicy struct {
	mu    sync.Mutex
	count int
}

func (p *AlwaysSkipPolicy) ShouldSkip(err error) bool { return err != nil && !exception.IsJobInterrupted(err) }
func (p *AlwaysSkipPolicy) TrySkip(err error) bool {
	if !p.ShouldSkip(err) {
		return false
	}
	p.IncrementSkipCount()
	return true
}
func (p *AlwaysSkipPolicy) ReleaseSkip() {
	p.mu.Lock()
	if p.count > 0 {
		p.count--
	}
	p.mu.Unlock()
}
func (p *AlwaysSkipPolicy) CanSkip() bool { return true }
func (p *AlwaysSkipPolicy) IncrementSkipCount() {
	p.mu.Lock()
	p.count++
	p.mu.Unlock()
}
func (p *AlwaysSkipPolicy) GetSkipCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}
func (p *AlwaysSkipPolicy) GetSkipLimit() int { return -1 }

// defaultSkipPolicy is the default implementation of SkipPolicy.
type defaultSkipPolicy struct {
	mu                  sync.Mutex
	skipLimit           int
	skippableExceptions []string
	currentSkipCount    int
}

// ShouldSkip determines if an error is skippable.
// The determination is made with the following priority:
// 1. Whether the skip limit has not been exceeded.
// 2. Whether the error is of type BatchError and its IsSkippable flag is true.
// 3. Whether the error type or message is included in the configured list of skippable exceptions.
func (p *defaultSkipPolicy) ShouldSkip(err error) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shouldSkipLocked(err)
}

func (p *defaultSkipPolicy) shouldSkipLocked(err error) bool {
	if err == nil {
		return false
	}
	// skipLimit=0 means "do not skip".
	if p.skipLimit <= 0 || p.currentSkipCount >= p.skipLimit {
		return false
	}
	// Interruption and broken invariants are never skipped.
	if exception.IsJobInterrupted(err) || errors.Is(err, exception.ErrIllegalState) {
		return false
	}

	var be *exception.BatchError
	if errors.As(err, &be) && be.IsSkippable() {
		return true
	}
	for _, typeName := range p.skippableExceptions {
		if exception.IsErrorOfType(err, typeName) {
			return true
		}
	}
	return false
}

func (p *defaultSkipPolicy) TrySkip(err error) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.shouldSkipLocked(err) {
		return false
	}
	p.currentSkipCount++
	return true
}

// ReleaseSkip returns a reserved skip to the budget.
func (p *defaultSkipPolicy) ReleaseSkip() {
	p.mu.Lock()
	if p.currentSkipCount > 0 {
		p.currentSkipCount--
	}
	p.mu.Unlock()
}

// CanSkip determines if further skips are allowed within the current skip limit.
func (p *defaultSkipPolicy) CanSkip() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.skipLimit > 0 && p.currentSkipCount < p.skipLimit
}

// IncrementSkipCount increments the count of skipped invocations by 1.
func (p *defaultSkipPolicy) IncrementSkipCount() {
	p.mu.Lock()
	p.currentSkipCount++
	p.mu.Unlock()
}

// GetSkipCount returns the total number of invocations skipped so far.
func (p *defaultSkipPolicy) GetSkipCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentSkipCount
}

// GetSkipLimit returns the maximum number of skips configured for this policy.
func (p *defaultSkipPolicy) GetSkipLimit() int {
	return p.skipLimit
}

// Verify interfaces
var (
	_ SkipPolicy = (*defaultSkipPolicy)(nil)
	_ SkipPolicy = (*AlwaysSkipPolicy)(nil)
)
