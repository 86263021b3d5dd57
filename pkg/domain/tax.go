package domain

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/cgast/vguard/pkg/verify"
)

// TaxGuardName is the name of the tax guard.
const TaxGuardName = "tax"

type taxRule func(engine TaxEngine, args map[string]any) verify.CheckResult

// TaxGuard intercepts tax-relevant tool calls and has the tax engine
// verify their arguments.
type TaxGuard struct {
	engine TaxEngine
	rules  map[string]taxRule
}

// NewTaxGuard builds the tax guard. Without an engine option it uses the
// provider registered under KindTax.
func NewTaxGuard(opts ...Option) (*TaxGuard, error) {
	o := buildOptions(opts)
	if o.tax == nil && !o.noRegistry {
		e, found, err := acquire[TaxEngine](TaxGuardName, KindTax)
		if err != nil {
			return nil, err
		}
		if found {
			o.tax = e
		}
	}
	if o.tax == nil {
		return nil, missingEngine(TaxGuardName, KindTax)
	}

	return &TaxGuard{
		engine: o.tax,
		rules: map[string]taxRule{
			"process_payroll":         checkPayroll,
			"send_international_wire": checkRemittance,
			"calculate_crypto_tax":    checkCryptoSetOff,
		},
	}, nil
}

func (g *TaxGuard) Name() string { return TaxGuardName }

// Tools returns the tool names the guard has rules for.
func (g *TaxGuard) Tools() []string {
	out := make([]string, 0, len(g.rules))
	for name := range g.rules {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (g *TaxGuard) Check(candidate verify.Candidate, _ verify.Context) verify.CheckResult {
	tool := candidate.String("tool_name")
	if tool == "" {
		return verify.Pass(TaxGuardName, "no tool call")
	}
	rule, ok := g.rules[tool]
	if !ok {
		return verify.Pass(TaxGuardName, fmt.Sprintf("no tax rule for %s", tool))
	}
	args, err := argumentsOf(candidate)
	if err != nil {
		return verify.Fail(TaxGuardName, verify.SeverityError, fmt.Sprintf("%s: %v", tool, err))
	}
	return rule(g.engine, args).WithDetail("tool_name", tool)
}

// checkPayroll verifies FICA withholding when the claim fields are present.
func checkPayroll(engine TaxEngine, args map[string]any) verify.CheckResult {
	gross, hasGross, err := numberArg(args, "gross_ytd")
	if err != nil {
		return verify.Fail(TaxGuardName, verify.SeverityError, "payroll: "+err.Error())
	}
	claimed, hasClaimed, err := numberArg(args, "claimed_tax")
	if err != nil {
		return verify.Fail(TaxGuardName, verify.SeverityError, "payroll: "+err.Error())
	}
	if !hasGross || !hasClaimed {
		return verify.Pass(TaxGuardName, "payroll: no FICA claim to verify")
	}
	current, _, err := numberArg(args, "current")
	if err != nil {
		return verify.Fail(TaxGuardName, verify.SeverityError, "payroll: "+err.Error())
	}
	f, err := engine.VerifyFICA(FICAInput{GrossYTD: gross, Current: current, ClaimedTax: claimed})
	return findingResult(TaxGuardName, "FICA withholding", f, err)
}

func checkRemittance(engine TaxEngine, args map[string]any) verify.CheckResult {
	amount, _, err := numberArg(args, "amount_usd")
	if err != nil {
		return verify.Fail(TaxGuardName, verify.SeverityError, "remittance: "+err.Error())
	}
	ytd, _, err := numberArg(args, "ytd_usage")
	if err != nil {
		return verify.Fail(TaxGuardName, verify.SeverityError, "remittance: "+err.Error())
	}
	purpose, _ := args["purpose"].(string)
	f, err := engine.VerifyRemittance(RemittanceInput{AmountUSD: amount, Purpose: purpose, YTDUsage: ytd})
	return findingResult(TaxGuardName, "LRS remittance", f, err)
}

func checkCryptoSetOff(engine TaxEngine, args map[string]any) verify.CheckResult {
	losses, err := numberMap(args, "losses")
	if err != nil {
		return verify.Fail(TaxGuardName, verify.SeverityError, "crypto tax: "+err.Error())
	}
	gains, err := numberMap(args, "gains")
	if err != nil {
		return verify.Fail(TaxGuardName, verify.SeverityError, "crypto tax: "+err.Error())
	}
	f, err := engine.VerifyCryptoSetOff(CryptoInput{Losses: losses, Gains: gains})
	return findingResult(TaxGuardName, "crypto loss set-off", f, err)
}

// argumentsOf returns the tool arguments as a mapping, decoding a JSON
// string form. Absent arguments are an empty mapping.
func argumentsOf(candidate verify.Candidate) (map[string]any, error) {
	switch a := candidate["arguments"].(type) {
	case nil:
		return map[string]any{}, nil
	case string:
		var m map[string]any
		if err := json.Unmarshal([]byte(a), &m); err != nil {
			return nil, fmt.Errorf("arguments are not a JSON object: %w", err)
		}
		return m, nil
	default:
		if m := verify.AsMap(a); m != nil {
			return m, nil
		}
		return nil, fmt.Errorf("arguments must be a mapping, got %T", a)
	}
}
