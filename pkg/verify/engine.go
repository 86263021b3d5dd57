package verify

import (
	"fmt"
)

// VerificationEngine runs guard sets against candidates.
type VerificationEngine interface {
	Verify(candidate Candidate, ctx Context, guards ...Guard) Verdict
}

// Option configures the DefaultEngine.
type Option func(*DefaultEngine)

// WithDefaultGuards sets the guards used when Verify is called without any.
func WithDefaultGuards(guards ...Guard) Option {
	return func(e *DefaultEngine) {
		e.defaults = append([]Guard(nil), guards...)
	}
}

// WithBlockReason sets how the block reason is derived when several guards fail.
func WithBlockReason(policy BlockReasonPolicy) Option {
	return func(e *DefaultEngine) {
		e.policy = policy
	}
}

// DefaultEngine is the standard verification engine. It is immutable after
// construction and safe for concurrent use.
type DefaultEngine struct {
	defaults []Guard
	policy   BlockReasonPolicy
}

// NewEngine creates a new verification engine with the given options.
func NewEngine(opts ...Option) *DefaultEngine {
	e := &DefaultEngine{policy: BlockReasonFirst}
	for _, opt := range opts {
		opt(e)
	}
	if e.policy != BlockReasonAll {
		e.policy = BlockReasonFirst
	}
	return e
}

// DefaultGuards returns a copy of the configured default guard set.
func (e *DefaultEngine) DefaultGuards() []Guard {
	return append([]Guard(nil), e.defaults...)
}

// Policy returns the block reason policy in effect.
func (e *DefaultEngine) Policy() BlockReasonPolicy {
	return e.policy
}

// Verify runs guards against candidate in order and aggregates their
// results. With no guards the engine's defaults are used. A guard that
// panics yields a failed "Guard error" result; the remaining guards still
// run. Verify never logs and never modifies candidate or ctx.
func (e *DefaultEngine) Verify(candidate Candidate, ctx Context, guards ...Guard) Verdict {
	if len(guards) == 0 {
		guards = e.defaults
	}
	if candidate == nil {
		candidate = Candidate{}
	}
	if ctx == nil {
		ctx = Context{}
	}

	verdict := Verdict{
		GuardResults: make([]CheckResult, 0, len(guards)),
	}
	for _, g := range guards {
		r := runGuard(g, candidate, ctx)
		verdict.GuardResults = append(verdict.GuardResults, r)
		if r.Passed {
			verdict.GuardsPassed++
		} else {
			verdict.GuardsFailed++
		}
	}

	verdict.Verified = verdict.GuardsFailed == 0
	if !verdict.Verified {
		verdict.BlockReason = blockReason(verdict.GuardResults, e.policy)
	}
	return verdict
}

// runGuard evaluates one guard inside a recover boundary.
func runGuard(g Guard, candidate Candidate, ctx Context) (result CheckResult) {
	name := guardName(g)
	defer func() {
		if p := recover(); p != nil {
			result = Fail(name, SeverityError, fmt.Sprintf("Guard error: %v", p)).
				WithDetail("panic", fmt.Sprint(p))
		}
	}()
	if g == nil {
		panic("nil guard")
	}
	return g.Check(candidate, ctx).normalize(name)
}

// guardName reads a guard's name without letting a faulty Name() escape.
func guardName(g Guard) (name string) {
	defer func() {
		if recover() != nil {
			name = fmt.Sprintf("%T", g)
		}
	}()
	if g == nil {
		return "<nil>"
	}
	return g.Name()
}

// VerifyCandidate is a convenience function that creates a default engine and verifies.
func VerifyCandidate(candidate Candidate, ctx Context, guards ...Guard) Verdict {
	return NewEngine().Verify(candidate, ctx, guards...)
}
