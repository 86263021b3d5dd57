package domain

import (
	"fmt"
	"strings"

	"github.com/cgast/vguard/pkg/verify"
)

// LegalGuardName is the name of the legal guard.
const LegalGuardName = "legal"

// Flag prefixes recorded by the legal guard.
const (
	FlagJurisdiction   = "JURISDICTION_CONFLICT"
	FlagProhibited     = "PROHIBITED_CLAUSE"
	FlagUnreasonable   = "UNREASONABLE_TERM"
	FlagIncompleteness = "COMPLETENESS_WARNING"
)

// LegalGuard reviews AI-generated contract analysis: choice of law,
// prohibited clauses, NDA term length and clause completeness.
type LegalGuard struct {
	engine      LegalEngine
	ndaMaxYears float64
	required    []string
}

// NewLegalGuard builds the legal guard.
func NewLegalGuard(opts ...Option) (*LegalGuard, error) {
	o := buildOptions(opts)
	if o.legal == nil && !o.noRegistry {
		e, found, err := acquire[LegalEngine](LegalGuardName, KindLegal)
		if err != nil {
			return nil, err
		}
		if found {
			o.legal = e
		}
	}
	if o.legal == nil {
		return nil, missingEngine(LegalGuardName, KindLegal)
	}
	if o.ndaMaxYears <= 0 {
		return nil, verify.Configf(LegalGuardName, "NDA max term must be positive, got %v", o.ndaMaxYears)
	}
	return &LegalGuard{engine: o.legal, ndaMaxYears: o.ndaMaxYears, required: o.required}, nil
}

func (g *LegalGuard) Name() string { return LegalGuardName }

// Check expects the contract under output, e.g.
//
//	{"type": "NDA", "jurisdiction": "CA", "clauses": [{"type": "non_compete"}],
//	 "term_years": 10, "governing_law": "California", "forum": "San Francisco"}
//
// Completeness gaps are recorded as a warning and never fail the check.
func (g *LegalGuard) Check(candidate verify.Candidate, _ verify.Context) verify.CheckResult {
	contract := candidate.Map("output")
	if contract == nil || !looksLikeContract(contract) {
		return verify.Pass(LegalGuardName, "no contract to review")
	}

	var blocking, warnings []string

	law, _ := contract["governing_law"].(string)
	forum, _ := contract["forum"].(string)
	if law != "" && forum != "" {
		f, err := g.engine.VerifyChoiceOfLaw(law, forum)
		if err != nil {
			return verify.Fail(LegalGuardName, verify.SeverityError,
				fmt.Sprintf("choice of law: engine error: %v", err)).WithDetail("error", err.Error())
		}
		if !f.Valid {
			risk := f.Message
			if risk == "" {
				risk = "Jurisdiction Mismatch"
			}
			blocking = append(blocking, FlagJurisdiction+": "+risk)
		}
	}

	clauses := clauseTypes(contract["clauses"])
	jurisdiction, _ := contract["jurisdiction"].(string)
	if inCalifornia(jurisdiction) && clauses["non_compete"] {
		blocking = append(blocking, FlagProhibited+": Non-compete clauses are unenforceable in California.")
	}

	if kind, _ := contract["type"].(string); strings.EqualFold(kind, "NDA") {
		if years, ok, _ := numberArg(contract, "term_years"); ok && years > g.ndaMaxYears {
			blocking = append(blocking, fmt.Sprintf(
				"%s: %v year term for NDA exceeds standard commercial practice (typically 2-%v years).",
				FlagUnreasonable, years, g.ndaMaxYears))
		}
	}

	var missing []string
	for _, req := range g.required {
		if !clauses[req] {
			missing = append(missing, req)
		}
	}
	if len(missing) > 0 {
		warnings = append(warnings, fmt.Sprintf("%s: Missing standard clauses: %s",
			FlagIncompleteness, strings.Join(missing, ", ")))
	}

	flags := append(append([]string(nil), blocking...), warnings...)
	details := map[string]any{"flags": flags}
	if len(blocking) > 0 {
		return verify.Fail(LegalGuardName, verify.SeverityError, strings.Join(blocking, "; ")).WithDetails(details)
	}
	if len(warnings) > 0 {
		r := verify.Pass(LegalGuardName, strings.Join(warnings, "; ")).WithDetails(details)
		r.Severity = verify.SeverityWarning
		return r
	}
	return verify.Pass(LegalGuardName, "contract review passed").WithDetails(details)
}

func looksLikeContract(m map[string]any) bool {
	for _, key := range []string{"clauses", "governing_law", "jurisdiction", "term_years"} {
		if _, ok := m[key]; ok {
			return true
		}
	}
	return false
}

func clauseTypes(v any) map[string]bool {
	out := make(map[string]bool)
	list, _ := v.([]any)
	for _, item := range list {
		switch c := item.(type) {
		case string:
			out[c] = true
		default:
			if m := verify.AsMap(c); m != nil {
				if t, ok := m["type"].(string); ok {
					out[t] = true
				}
			}
		}
	}
	return out
}

func inCalifornia(jurisdiction string) bool {
	j := strings.ToUpper(strings.TrimSpace(jurisdiction))
	return j == "CA" || strings.Contains(j, "CALIFORNIA") || strings.HasPrefix(j, "CA ") || strings.HasPrefix(j, "US-CA")
}
