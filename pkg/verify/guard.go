package verify

// Guard is one independent policy check.
//
// Check must not panic for expected failure conditions; it returns a failed
// CheckResult instead. Guards hold immutable configuration set at
// construction and must not mutate their own state, the candidate or the
// context during Check, so one instance can serve concurrent calls.
type Guard interface {
	Name() string
	Check(candidate Candidate, ctx Context) CheckResult
}

// CheckFunc is the signature of a guard's evaluation.
type CheckFunc func(candidate Candidate, ctx Context) CheckResult

type funcGuard struct {
	name string
	fn   CheckFunc
}

// GuardFunc adapts a function into a named Guard.
func GuardFunc(name string, fn CheckFunc) Guard {
	return funcGuard{name: name, fn: fn}
}

func (g funcGuard) Name() string { return g.name }

func (g funcGuard) Check(candidate Candidate, ctx Context) CheckResult {
	return g.fn(candidate, ctx)
}

// Names returns the names of guards, in order.
func Names(guards []Guard) []string {
	names := make([]string, len(guards))
	for i, g := range guards {
		names[i] = g.Name()
	}
	return names
}
