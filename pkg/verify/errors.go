package verify

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig is matched by every *ConfigError.
	ErrConfig = errors.New("guard configuration error")
	// ErrBlocked is matched by every *BlockedError.
	ErrBlocked = errors.New("output blocked by verification")
	// ErrGuardNotFound is returned when a guard is requested by an unknown name.
	ErrGuardNotFound = errors.New("guard not found")
)

// ConfigError reports a guard that cannot be constructed: invalid options
// or a missing optional engine. It is always returned at construction.
type ConfigError struct {
	Guard  string
	Reason string
	Hint   string // how to fix it, e.g. which engine to install
	Err    error
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Guard, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Hint != "" {
		msg += " (" + e.Hint + ")"
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

func (e *ConfigError) Is(target error) bool { return target == ErrConfig }

// Configf builds a ConfigError with a formatted reason.
func Configf(guard, format string, args ...any) *ConfigError {
	return &ConfigError{Guard: guard, Reason: fmt.Sprintf(format, args...)}
}

// Must panics if err is non-nil. Intended for static pipeline setup.
func Must[G Guard](g G, err error) G {
	if err != nil {
		panic(err)
	}
	return g
}

// BlockKind names what an adapter blocked.
type BlockKind string

const (
	BlockRetrieval    BlockKind = "retrieval"
	BlockResponse     BlockKind = "response"
	BlockFunctionCall BlockKind = "function_call"
)

// BlockedError is the typed signal adapters return in blocking mode when a
// verdict is not verified. The core never returns it.
type BlockedError struct {
	Kind    BlockKind
	Verdict Verdict
	Subject any // the host object that was blocked
}

func (e *BlockedError) Error() string {
	var what string
	switch e.Kind {
	case BlockRetrieval:
		what = "Retrieved node blocked"
	case BlockFunctionCall:
		what = "Function call blocked"
	default:
		what = "Response blocked"
	}
	return fmt.Sprintf("%s: %s", what, e.Verdict.BlockReason)
}

func (e *BlockedError) Is(target error) bool { return target == ErrBlocked }
