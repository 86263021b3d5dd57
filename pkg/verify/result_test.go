package verify

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestFailDefaultsSeverity(t *testing.T) {
	r := Fail("g", "", "bad")
	if r.Severity != SeverityError {
		t.Errorf("Severity = %q, want error", r.Severity)
	}
	if r.Passed {
		t.Error("Fail should not pass")
	}
}

func TestWithDetailCopiesDetails(t *testing.T) {
	base := Pass("g", "ok").WithDetail("a", 1)
	derived := base.WithDetail("b", 2)

	if _, ok := base.Details["b"]; ok {
		t.Error("WithDetail modified the original result")
	}
	if derived.Details["a"] != 1 || derived.Details["b"] != 2 {
		t.Errorf("Details = %v", derived.Details)
	}

	merged := derived.WithDetails(map[string]any{"c": 3})
	if len(merged.Details) != 3 || len(derived.Details) != 2 {
		t.Errorf("WithDetails = %v (original %v)", merged.Details, derived.Details)
	}
}

func TestCheckResultString(t *testing.T) {
	if got := Pass("g", "").String(); got != "[PASS] g" {
		t.Errorf("String() = %q", got)
	}
	if got := Fail("g", SeverityWarning, "careful").String(); got != "[FAIL] g: careful" {
		t.Errorf("String() = %q", got)
	}
}

func TestNormalizeKeepsValidSeverity(t *testing.T) {
	r := Fail("g", SeverityWarning, "soft").normalize("g")
	if r.Severity != SeverityWarning {
		t.Errorf("Severity = %q, want warning", r.Severity)
	}
	r = CheckResult{Passed: false, Severity: "bogus", Message: "x"}.normalize("h")
	if r.Severity != SeverityError || r.Guard != "h" {
		t.Errorf("normalize = %+v", r)
	}
}

func TestVerdictJSON(t *testing.T) {
	v := NewEngine().Verify(Candidate{}, nil, failGuard("a", "bad"))
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for _, want := range []string{`"verified":false`, `"guards_failed":1`, `"block_reason":"bad"`, `"severity":"error"`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("JSON %s missing %s", data, want)
		}
	}
}

func TestCandidateAccessors(t *testing.T) {
	c := Candidate{
		"type":      TypeToolCall,
		"tool_name": "search",
		"usage":     map[string]any{"cost": 0.5},
		"output":    map[string]any{"nested": map[string]any{"deep": "x"}},
	}

	if c.Type() != TypeToolCall {
		t.Errorf("Type() = %q", c.Type())
	}
	if c.String("missing") != "" {
		t.Error("String(missing) should be empty")
	}
	if v, ok := c.Lookup("usage", "cost"); !ok || v != 0.5 {
		t.Errorf("Lookup(usage, cost) = %v, %v", v, ok)
	}
	if v, ok := c.Lookup("output.nested.deep"); !ok || v != "x" {
		t.Errorf("Lookup(dotted) = %v, %v", v, ok)
	}
	if _, ok := c.Lookup("tool_name", "x"); ok {
		t.Error("Lookup through a non-map should fail")
	}
	if Candidate(nil).Type() != "" {
		t.Error("nil candidate should have empty type")
	}
}

func TestParseCandidate(t *testing.T) {
	c, err := ParseCandidate([]byte(`{"type":"tool_call","arguments":{"n":3}}`))
	if err != nil {
		t.Fatalf("ParseCandidate: %v", err)
	}
	if v, _ := c.Lookup("arguments", "n"); v != float64(3) {
		t.Errorf("arguments.n = %v (%T)", v, v)
	}
	if _, err := ParseCandidate([]byte(`[1,2]`)); err == nil {
		t.Error("expected error for non-object")
	}
	c, err = ParseCandidate([]byte(`null`))
	if err != nil || c == nil {
		t.Errorf("ParseCandidate(null) = %v, %v", c, err)
	}
}

func TestConfigError(t *testing.T) {
	cause := errors.New("bad regex")
	err := error(&ConfigError{Guard: "tool_call", Reason: "invalid pattern", Hint: "check syntax", Err: cause})

	if !errors.Is(err, ErrConfig) {
		t.Error("ConfigError should match ErrConfig")
	}
	if !errors.Is(err, cause) {
		t.Error("ConfigError should unwrap to its cause")
	}
	want := "tool_call: invalid pattern: bad regex (check syntax)"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	var ce *ConfigError
	if !errors.As(Configf("x", "n=%d", 3), &ce) || ce.Reason != "n=3" {
		t.Errorf("Configf = %+v", ce)
	}
}

func TestMust(t *testing.T) {
	g := Must(passGuard("a"), nil)
	if g.Name() != "a" {
		t.Errorf("Must returned %q", g.Name())
	}

	defer func() {
		if recover() == nil {
			t.Error("Must should panic on error")
		}
	}()
	Must(passGuard("b"), Configf("b", "broken"))
}

func TestBlockedError(t *testing.T) {
	v := Verdict{BlockReason: "blocked tool: exec"}
	tests := []struct {
		kind BlockKind
		want string
	}{
		{BlockRetrieval, "Retrieved node blocked: blocked tool: exec"},
		{BlockResponse, "Response blocked: blocked tool: exec"},
		{BlockFunctionCall, "Function call blocked: blocked tool: exec"},
	}
	for _, tt := range tests {
		err := error(&BlockedError{Kind: tt.kind, Verdict: v})
		if err.Error() != tt.want {
			t.Errorf("Error() = %q, want %q", err.Error(), tt.want)
		}
		if !errors.Is(err, ErrBlocked) {
			t.Errorf("%s: should match ErrBlocked", tt.kind)
		}
	}
}
