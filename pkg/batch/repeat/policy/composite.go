package policy

import (
	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/repeat"
)

// Mode selects how a CompositeCompletionPolicy combines its members.
type Mode int

const (
	// ModeAny completes when any member is complete (logical OR).
	ModeAny Mode = iota
	// ModeAll completes when every member is complete (logical AND).
	ModeAll
)

const childContextsAttribute = "policy.composite.children"

// CompositeCompletionPolicy combines several policies. Each member gets its own child context whose
// parent is the composite context, and is updated on every iteration.
type CompositeCompletionPolicy struct {
	mode     Mode
	policies []repeat.CompletionPolicy
}

// NewCompositeCompletionPolicy creates a composite of the given policies.
func NewCompositeCompletionPolicy(mode Mode, policies ...repeat.CompletionPolicy) *CompositeCompletionPolicy {
	return &CompositeCompletionPolicy{mode: mode, policies: append([]repeat.CompletionPolicy(nil), policies...)}
}

// Any is shorthand for a ModeAny composite.
func Any(policies ...repeat.CompletionPolicy) *CompositeCompletionPolicy {
	return NewCompositeCompletionPolicy(ModeAny, policies...)
}

// All is shorthand for a ModeAll composite.
func All(policies ...repeat.CompletionPolicy) *CompositeCompletionPolicy {
	return NewCompositeCompletionPolicy(ModeAll, policies...)
}

func (p *CompositeCompletionPolicy) Start(parent *repeat.Context) *repeat.Context {
	rc := repeat.NewContext(parent)
	children := make([]*repeat.Context, len(p.policies))
	for i, member := range p.policies {
		children[i] = member.Start(rc)
	}
	rc.SetAttribute(childContextsAttribute, children)
	rc.RegisterDestructionCallback(childContextsAttribute, func() error {
		var firstErr error
		for _, child := range children {
			if err := child.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	})
	return rc
}

func isCompositeContext(rc *repeat.Context) bool {
	return rc != nil && rc.HasAttribute(childContextsAttribute)
}

func (p *CompositeCompletionPolicy) children(rc *repeat.Context) []*repeat.Context {
	v, ok := rc.GetAttribute(childContextsAttribute)
	if !ok {
		return nil
	}
	return v.([]*repeat.Context)
}

func (p *CompositeCompletionPolicy) Update(rc *repeat.Context) {
	rc.Increment()
	for i, child := range p.children(rc) {
		p.policies[i].Update(child)
	}
}

func (p *CompositeCompletionPolicy) IsComplete(rc *repeat.Context) bool {
	return p.combine(rc, func(member repeat.CompletionPolicy, child *repeat.Context) bool {
		return member.IsComplete(child)
	})
}

func (p *CompositeCompletionPolicy) IsCompleteWithResult(rc *repeat.Context, result model.ExitStatus) bool {
	return p.combine(rc, func(member repeat.CompletionPolicy, child *repeat.Context) bool {
		return member.IsCompleteWithResult(child, result)
	})
}

func (p *CompositeCompletionPolicy) combine(rc *repeat.Context, check func(repeat.CompletionPolicy, *repeat.Context) bool) bool {
	children := p.children(rc)
	if len(children) == 0 {
		return false
	}
	for i, child := range children {
		complete := check(p.policies[i], child)
		if p.mode == ModeAny && complete {
			return true
		}
		if p.mode == ModeAll && !complete {
			return false
		}
	}
	return p.mode == ModeAll
}
