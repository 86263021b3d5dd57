package guards

import (
	"fmt"
	"strings"

	"github.com/cgast/vguard/pkg/verify"
)

// ContentSafetyName is the name of the content-safety guard.
const ContentSafetyName = "content_safety"

// AllFields in SafetyConfig.Fields scans every string in the candidate
// except its type.
const AllFields = "*"

// BudgetMode selects what the budget limit is compared against.
type BudgetMode string

const (
	// BudgetCandidate compares the candidate's own cost with the limit.
	BudgetCandidate BudgetMode = "candidate"
	// BudgetCumulative adds the running total from the context first.
	BudgetCumulative BudgetMode = "cumulative"
)

// SafetyConfig configures a ContentSafetyGuard.
type SafetyConfig struct {
	CheckPII     bool
	PIIAllowList []string // categories reported but not blocked

	CheckInjection    bool
	InjectionPatterns []string // extra patterns, case-insensitive

	CheckBudget bool
	MaxCost     float64
	BudgetMode  BudgetMode
	TotalKey    string // context key holding the running total

	// Fields lists the candidate paths scanned for PII and injection.
	// Empty means content only.
	Fields []string
}

// DefaultSafetyConfig enables PII and injection scanning with budget off.
func DefaultSafetyConfig() SafetyConfig {
	return SafetyConfig{
		CheckPII:       true,
		CheckInjection: true,
		BudgetMode:     BudgetCumulative,
		TotalKey:       "total_cost",
		Fields:         []string{"content"},
	}
}

// ContentSafetyGuard scans candidate text for PII and prompt injection and
// enforces a cost budget.
type ContentSafetyGuard struct {
	cfg       SafetyConfig
	allow     map[string]bool
	injection []injectionPattern
}

// NewContentSafetyGuard validates cfg and builds the guard.
func NewContentSafetyGuard(cfg SafetyConfig) (*ContentSafetyGuard, error) {
	if cfg.BudgetMode == "" {
		cfg.BudgetMode = BudgetCumulative
	}
	if cfg.TotalKey == "" {
		cfg.TotalKey = "total_cost"
	}
	if len(cfg.Fields) == 0 {
		cfg.Fields = []string{"content"}
	}
	if cfg.BudgetMode != BudgetCandidate && cfg.BudgetMode != BudgetCumulative {
		return nil, verify.Configf(ContentSafetyName, "unknown budget mode %q", cfg.BudgetMode)
	}
	if cfg.CheckBudget && cfg.MaxCost <= 0 {
		return nil, &verify.ConfigError{
			Guard:  ContentSafetyName,
			Reason: fmt.Sprintf("budget enabled with max cost %v", cfg.MaxCost),
			Hint:   "set a positive max cost or disable the budget check",
		}
	}

	g := &ContentSafetyGuard{cfg: cfg, allow: make(map[string]bool)}
	for _, category := range cfg.PIIAllowList {
		if !knownPIICategory(category) {
			return nil, &verify.ConfigError{
				Guard:  ContentSafetyName,
				Reason: fmt.Sprintf("unknown PII category %q", category),
				Hint:   "known categories: " + strings.Join(PIICategories(), ", "),
			}
		}
		g.allow[category] = true
	}

	patterns, err := compileInjectionPatterns(cfg.InjectionPatterns)
	if err != nil {
		return nil, &verify.ConfigError{Guard: ContentSafetyName, Reason: "invalid injection pattern", Err: err}
	}
	g.injection = patterns
	return g, nil
}

func (g *ContentSafetyGuard) Name() string { return ContentSafetyName }

// Config returns the guard's configuration.
func (g *ContentSafetyGuard) Config() SafetyConfig { return g.cfg }

// Check runs every enabled sub-check and reports all of them.
func (g *ContentSafetyGuard) Check(candidate verify.Candidate, ctx verify.Context) verify.CheckResult {
	details := make(map[string]any)
	var failures []string

	if g.cfg.CheckPII || g.cfg.CheckInjection {
		var (
			pii       []PIIFinding
			injection []InjectionFinding
		)
		scanned := g.eachText(candidate, func(path, text string) bool {
			if g.cfg.CheckPII {
				pii = append(pii, scanPII(path, text, g.allow)...)
			}
			if g.cfg.CheckInjection {
				injection = append(injection, scanInjection(g.injection, path, text)...)
			}
			return true
		})

		if g.cfg.CheckPII {
			section, msg := piiSection(pii)
			if !scanned {
				section["note"] = "no content"
			}
			details["pii"] = section
			if msg != "" {
				failures = append(failures, msg)
			}
		}
		if g.cfg.CheckInjection {
			section, msg := injectionSection(injection)
			if !scanned {
				section["note"] = "no content"
			}
			details["injection"] = section
			if msg != "" {
				failures = append(failures, msg)
			}
		}
	}

	if g.cfg.CheckBudget {
		section, msg := g.budget(candidate, ctx)
		details["budget"] = section
		if msg != "" {
			failures = append(failures, msg)
		}
	}

	if len(failures) > 0 {
		return verify.Fail(ContentSafetyName, verify.SeverityError, strings.Join(failures, "; ")).
			WithDetails(details)
	}
	return verify.Pass(ContentSafetyName, "content safe").WithDetails(details)
}

// eachText visits the strings under the configured fields and reports
// whether any of those fields was present.
func (g *ContentSafetyGuard) eachText(candidate verify.Candidate, visit visitFunc) bool {
	found := false
	for _, field := range g.cfg.Fields {
		if field == AllFields {
			for _, k := range sortedKeys(candidate) {
				if k == "type" {
					continue
				}
				found = true
				if !walkStrings(decodeArguments(candidate[k]), k, visit) {
					return found
				}
			}
			continue
		}
		v, ok := candidate.Lookup(strings.Split(field, ".")...)
		if !ok || v == nil {
			continue
		}
		found = true
		if !walkStrings(decodeArguments(v), field, visit) {
			return found
		}
	}
	return found
}

func piiSection(findings []PIIFinding) (map[string]any, string) {
	var blocked []string
	seen := make(map[string]bool)
	for _, f := range findings {
		if !f.Allowed && !seen[f.Category] {
			seen[f.Category] = true
			blocked = append(blocked, f.Category)
		}
	}
	section := map[string]any{
		"passed":   len(blocked) == 0,
		"findings": findings,
	}
	if len(blocked) == 0 {
		return section, ""
	}
	section["blocked_categories"] = blocked
	return section, "PII detected: " + strings.Join(blocked, ", ")
}

func injectionSection(findings []InjectionFinding) (map[string]any, string) {
	section := map[string]any{
		"passed":   len(findings) == 0,
		"findings": findings,
	}
	if len(findings) == 0 {
		return section, ""
	}
	var names []string
	seen := make(map[string]bool)
	for _, f := range findings {
		if !seen[f.Pattern] {
			seen[f.Pattern] = true
			names = append(names, f.Pattern)
		}
	}
	return section, "prompt injection detected: " + strings.Join(names, ", ")
}

func (g *ContentSafetyGuard) budget(candidate verify.Candidate, ctx verify.Context) (map[string]any, string) {
	section := map[string]any{
		"max_cost": g.cfg.MaxCost,
		"mode":     string(g.cfg.BudgetMode),
	}

	raw, ok := candidate.Lookup("usage", "cost")
	if !ok {
		raw, ok = candidate["cost"]
	}
	if !ok || raw == nil {
		section["passed"] = true
		section["note"] = "no cost reported"
		return section, ""
	}
	cost, err := verify.ToFloat(raw)
	if err != nil {
		section["passed"] = false
		return section, fmt.Sprintf("budget: invalid cost: %v", err)
	}
	if cost < 0 {
		section["passed"] = false
		return section, fmt.Sprintf("budget: negative cost %v", cost)
	}

	projected := cost
	if g.cfg.BudgetMode == BudgetCumulative {
		total := 0.0
		if v, ok := ctx[g.cfg.TotalKey]; ok && v != nil {
			if total, err = verify.ToFloat(v); err != nil {
				section["passed"] = false
				return section, fmt.Sprintf("budget: invalid %s in context: %v", g.cfg.TotalKey, err)
			}
		}
		section["running_total"] = total
		projected += total
	}
	section["cost"] = cost
	section["projected"] = projected

	if projected > g.cfg.MaxCost {
		section["passed"] = false
		return section, fmt.Sprintf("budget exceeded: %.4g > %.4g", projected, g.cfg.MaxCost)
	}
	section["passed"] = true
	return section, ""
}
