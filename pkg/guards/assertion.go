package guards

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/cgast/vguard/pkg/verify"
)

// Assertion is a declarative, machine-checkable condition on one candidate field.
type Assertion struct {
	Type     string `json:"type" yaml:"type"`         // "not_empty", "contains", "not_contains", "count_gte", "matches_regex", "valid_json"
	Target   string `json:"target" yaml:"target"`     // candidate path: "content", "arguments.query", "output.items"
	Expected any    `json:"expected" yaml:"expected"` // the expected value/pattern
	Message  string `json:"message" yaml:"message"`   // human-readable failure description
}

// assertionChecker checks one assertion against the resolved target value.
type assertionChecker func(a compiledAssertion, value any, present bool) (bool, string)

var assertionCheckers = map[string]assertionChecker{
	"not_empty":     checkNotEmpty,
	"contains":      checkContains,
	"not_contains":  checkNotContains,
	"count_gte":     checkCountGTE,
	"matches_regex": checkMatchesRegex,
	"valid_json":    checkValidJSON,
}

// AssertionTypes lists the supported assertion types.
func AssertionTypes() []string {
	out := make([]string, 0, len(assertionCheckers))
	for name := range assertionCheckers {
		out = append(out, name)
	}
	return out
}

type compiledAssertion struct {
	Assertion
	re    *regexp.Regexp
	count int
}

// AssertionGuard runs a list of assertions in order and fails on the first
// one that does not hold.
type AssertionGuard struct {
	name       string
	types      map[string]bool
	assertions []compiledAssertion
}

// NewAssertionGuard validates and compiles assertions. When types is
// non-empty the guard only applies to candidates of those types.
func NewAssertionGuard(name string, assertions []Assertion, types ...string) (*AssertionGuard, error) {
	if name == "" {
		return nil, verify.Configf("assertions", "assertion guard needs a name")
	}
	g := &AssertionGuard{name: name, types: make(map[string]bool)}
	for _, t := range types {
		g.types[t] = true
	}
	for i, a := range assertions {
		if _, ok := assertionCheckers[a.Type]; !ok {
			return nil, verify.Configf(name, "assertion %d: unknown type %q", i, a.Type)
		}
		if a.Target == "" {
			a.Target = "content"
		}
		ca := compiledAssertion{Assertion: a}
		switch a.Type {
		case "matches_regex":
			re, err := regexp.Compile(fmt.Sprintf("%v", a.Expected))
			if err != nil {
				return nil, &verify.ConfigError{Guard: name, Reason: fmt.Sprintf("assertion %d: invalid pattern", i), Err: err}
			}
			ca.re = re
		case "count_gte":
			n, err := toInt(a.Expected)
			if err != nil {
				return nil, &verify.ConfigError{Guard: name, Reason: fmt.Sprintf("assertion %d: invalid count", i), Err: err}
			}
			ca.count = n
		}
		g.assertions = append(g.assertions, ca)
	}
	return g, nil
}

func (g *AssertionGuard) Name() string { return g.name }

func (g *AssertionGuard) Check(candidate verify.Candidate, _ verify.Context) verify.CheckResult {
	if len(g.types) > 0 && !g.types[candidate.Type()] {
		return verify.Pass(g.name, "not applicable")
	}
	for i, a := range g.assertions {
		value, present := candidate.Lookup(a.Target)
		passed, msg := assertionCheckers[a.Type](a, value, present)
		if passed {
			continue
		}
		if a.Message != "" {
			msg = a.Message
		}
		return verify.Fail(g.name, verify.SeverityError, msg).WithDetails(map[string]any{
			"assertion": i,
			"type":      a.Type,
			"target":    a.Target,
			"actual":    truncate(textOf(value), 200),
		})
	}
	return verify.Pass(g.name, fmt.Sprintf("%d assertion(s) hold", len(g.assertions)))
}

func checkNotEmpty(a compiledAssertion, value any, present bool) (bool, string) {
	s := strings.TrimSpace(textOf(value))
	if !present || value == nil || s == "" || s == "null" || s == "[]" || s == "{}" {
		return false, fmt.Sprintf("%s is empty", a.Target)
	}
	return true, ""
}

func checkContains(a compiledAssertion, value any, _ bool) (bool, string) {
	expected := fmt.Sprintf("%v", a.Expected)
	if !strings.Contains(textOf(value), expected) {
		return false, fmt.Sprintf("%s does not contain %q", a.Target, expected)
	}
	return true, ""
}

func checkNotContains(a compiledAssertion, value any, _ bool) (bool, string) {
	expected := fmt.Sprintf("%v", a.Expected)
	if strings.Contains(textOf(value), expected) {
		return false, fmt.Sprintf("%s should not contain %q", a.Target, expected)
	}
	return true, ""
}

// checkCountGTE counts list elements, or non-empty lines for text.
func checkCountGTE(a compiledAssertion, value any, _ bool) (bool, string) {
	var actual int
	switch v := value.(type) {
	case []any:
		actual = len(v)
	case []string:
		actual = len(v)
	case []map[string]any:
		actual = len(v)
	case map[string]any:
		actual = len(v)
	case nil:
		actual = 0
	default:
		for _, line := range strings.Split(textOf(v), "\n") {
			if strings.TrimSpace(line) != "" {
				actual++
			}
		}
	}
	if actual < a.count {
		return false, fmt.Sprintf("%s count %d is less than expected %d", a.Target, actual, a.count)
	}
	return true, ""
}

func checkMatchesRegex(a compiledAssertion, value any, _ bool) (bool, string) {
	if !a.re.MatchString(textOf(value)) {
		return false, fmt.Sprintf("%s does not match regex %q", a.Target, a.re.String())
	}
	return true, ""
}

// checkValidJSON accepts structured values as is and requires strings to
// parse as JSON. Expected may list required keys: {"required": [...]}.
func checkValidJSON(a compiledAssertion, value any, present bool) (bool, string) {
	if !present {
		return false, fmt.Sprintf("%s is missing", a.Target)
	}
	parsed := value
	if s, ok := value.(string); ok {
		if err := json.Unmarshal([]byte(s), &parsed); err != nil {
			return false, fmt.Sprintf("%s is not valid JSON: %v", a.Target, err)
		}
	}

	spec := verify.AsMap(a.Expected)
	required, _ := spec["required"].([]any)
	obj := verify.AsMap(parsed)
	for _, key := range required {
		k := fmt.Sprintf("%v", key)
		if _, ok := obj[k]; !ok {
			return false, fmt.Sprintf("%s is missing required key %q", a.Target, k)
		}
	}
	return true, ""
}

// textOf renders a target value as text; structured values become JSON.
func textOf(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// toInt converts various numeric types to int.
func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case string:
		var i int
		_, err := fmt.Sscanf(n, "%d", &i)
		return i, err
	}
	f, err := verify.ToFloat(v)
	if err != nil {
		return 0, fmt.Errorf("cannot convert %T to int", v)
	}
	return int(f), nil
}

// truncate limits a string to maxLen bytes.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
