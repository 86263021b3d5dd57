package verify

import (
	"fmt"
	"strings"
)

// Severity ranks how serious a check outcome is.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error" // blocking-worthy by default
)

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError:
		return true
	}
	return false
}

// CheckResult records the outcome of one guard evaluating one candidate.
type CheckResult struct {
	Guard    string         `json:"guard"`
	Passed   bool           `json:"passed"`
	Severity Severity       `json:"severity"`
	Message  string         `json:"message,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
}

// Pass returns a passing result with info severity.
func Pass(guard, message string) CheckResult {
	return CheckResult{
		Guard:    guard,
		Passed:   true,
		Severity: SeverityInfo,
		Message:  message,
	}
}

// Fail returns a failing result. An empty severity defaults to error.
func Fail(guard string, severity Severity, message string) CheckResult {
	if severity == "" {
		severity = SeverityError
	}
	return CheckResult{
		Guard:    guard,
		Passed:   false,
		Severity: severity,
		Message:  message,
	}
}

// WithDetail returns a copy of r with key set in its details.
func (r CheckResult) WithDetail(key string, value any) CheckResult {
	details := make(map[string]any, len(r.Details)+1)
	for k, v := range r.Details {
		details[k] = v
	}
	details[key] = value
	r.Details = details
	return r
}

// WithDetails returns a copy of r with all entries of extra merged into its details.
func (r CheckResult) WithDetails(extra map[string]any) CheckResult {
	if len(extra) == 0 {
		return r
	}
	details := make(map[string]any, len(r.Details)+len(extra))
	for k, v := range r.Details {
		details[k] = v
	}
	for k, v := range extra {
		details[k] = v
	}
	r.Details = details
	return r
}

func (r CheckResult) String() string {
	status := "PASS"
	if !r.Passed {
		status = "FAIL"
	}
	if r.Message == "" {
		return fmt.Sprintf("[%s] %s", status, r.Guard)
	}
	return fmt.Sprintf("[%s] %s: %s", status, r.Guard, r.Message)
}

// normalize enforces the result invariants the rest of the pipeline relies on.
func (r CheckResult) normalize(guard string) CheckResult {
	if r.Guard == "" {
		r.Guard = guard
	}
	if r.Passed {
		if r.Severity == "" {
			r.Severity = SeverityInfo
		}
		return r
	}
	if !r.Severity.Valid() {
		r.Severity = SeverityError
	}
	if strings.TrimSpace(r.Message) == "" {
		r.Message = fmt.Sprintf("%s: check failed", r.Guard)
	}
	return r
}

// BlockReasonPolicy selects how a verdict's block reason is derived
// from its failing results.
type BlockReasonPolicy string

const (
	// BlockReasonFirst uses the message of the first failing result in guard order.
	BlockReasonFirst BlockReasonPolicy = "first"
	// BlockReasonAll joins every failing message, in guard order, with "; ".
	BlockReasonAll BlockReasonPolicy = "all"
)

// Verdict is the aggregate outcome of running a guard set against one candidate.
type Verdict struct {
	Verified     bool          `json:"verified"`
	GuardsPassed int           `json:"guards_passed"`
	GuardsFailed int           `json:"guards_failed"`
	GuardResults []CheckResult `json:"guard_results"`
	BlockReason  string        `json:"block_reason,omitempty"`
}

// Failures returns the failing results in guard order.
func (v Verdict) Failures() []CheckResult {
	var out []CheckResult
	for _, r := range v.GuardResults {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}

// Result returns the first result produced by the named guard.
func (v Verdict) Result(guard string) (CheckResult, bool) {
	for _, r := range v.GuardResults {
		if r.Guard == guard {
			return r, true
		}
	}
	return CheckResult{}, false
}

func (v Verdict) String() string {
	if v.Verified {
		return fmt.Sprintf("verified (%d/%d guards passed)", v.GuardsPassed, len(v.GuardResults))
	}
	return fmt.Sprintf("blocked (%d/%d guards failed): %s", v.GuardsFailed, len(v.GuardResults), v.BlockReason)
}

func blockReason(results []CheckResult, policy BlockReasonPolicy) string {
	var msgs []string
	for _, r := range results {
		if r.Passed {
			continue
		}
		if policy != BlockReasonAll {
			return r.Message
		}
		msgs = append(msgs, r.Message)
	}
	return strings.Join(msgs, "; ")
}
