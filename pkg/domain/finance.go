package domain

import (
	"fmt"

	"github.com/cgast/vguard/pkg/verify"
)

// FinanceGuardName is the name of the finance guard.
const FinanceGuardName = "finance"

// PaymentInstruction is the output kind routed to the ISO 20022 check.
const PaymentInstruction = "payment_instruction"

// FinanceGuard verifies structured financial outputs: investment math via
// the finance engine and payment messages via the optional ISO validator.
type FinanceGuard struct {
	engine FinanceEngine
	iso    ISOValidator
}

// NewFinanceGuard builds the finance guard. The ISO validator is optional;
// without it payment instructions produce a "not active" warning.
func NewFinanceGuard(opts ...Option) (*FinanceGuard, error) {
	o := buildOptions(opts)
	if o.finance == nil && !o.noRegistry {
		e, found, err := acquire[FinanceEngine](FinanceGuardName, KindFinance)
		if err != nil {
			return nil, err
		}
		if found {
			o.finance = e
		}
	}
	if o.finance == nil {
		return nil, missingEngine(FinanceGuardName, KindFinance)
	}
	if o.iso == nil && !o.noRegistry && !o.noISOLookup {
		v, _, err := acquire[ISOValidator](FinanceGuardName, KindISO)
		if err != nil {
			return nil, err
		}
		o.iso = v
	}
	if o.noISOLookup {
		o.iso = nil
	}
	return &FinanceGuard{engine: o.finance, iso: o.iso}, nil
}

func (g *FinanceGuard) Name() string { return FinanceGuardName }

// ISOActive reports whether the ISO 20022 sub-capability is available.
func (g *FinanceGuard) ISOActive() bool { return g.iso != nil }

func (g *FinanceGuard) Check(candidate verify.Candidate, _ verify.Context) verify.CheckResult {
	content := candidate.Map("output")
	if content == nil {
		return verify.Pass(FinanceGuardName, "no financial output")
	}

	_, hasFlows := content["cashflows"]
	_, hasNPV := content["npv"]
	if hasFlows && hasNPV {
		return g.checkNPV(content)
	}

	kind, _ := content["kind"].(string)
	if kind == "" {
		kind = candidate.String("kind")
	}
	if kind == PaymentInstruction {
		if g.iso == nil {
			return verify.Fail(FinanceGuardName, verify.SeverityWarning,
				"ISO 20022 verification not active: no ISO validator available").
				WithDetail("capability", KindISO)
		}
		f, err := g.iso.VerifyPaymentMessage(content)
		return findingResult(FinanceGuardName, "ISO 20022 payment message", f, err)
	}
	return verify.Pass(FinanceGuardName, "no financial checks apply")
}

func (g *FinanceGuard) checkNPV(content map[string]any) verify.CheckResult {
	flows, err := floatList(content["cashflows"])
	if err != nil {
		return verify.Fail(FinanceGuardName, verify.SeverityError, "npv: cashflows: "+err.Error())
	}
	stated, _, err := numberArg(content, "npv")
	if err != nil {
		return verify.Fail(FinanceGuardName, verify.SeverityError, "npv: "+err.Error())
	}
	rate, _, err := numberArg(content, "discount_rate")
	if err != nil {
		return verify.Fail(FinanceGuardName, verify.SeverityError, "npv: "+err.Error())
	}
	f, err := g.engine.VerifyNPV(flows, rate, stated)
	return findingResult(FinanceGuardName, "NPV", f, err)
}

func floatList(v any) ([]float64, error) {
	var items []any
	switch list := v.(type) {
	case []any:
		items = list
	case []float64:
		return append([]float64(nil), list...), nil
	case []int:
		out := make([]float64, len(list))
		for i, n := range list {
			out[i] = float64(n)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a list of numbers, got %T", v)
	}
	out := make([]float64, len(items))
	for i, item := range items {
		f, err := verify.ToFloat(item)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		out[i] = f
	}
	return out, nil
}
