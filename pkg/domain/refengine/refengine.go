// Package refengine is a small rule-based implementation of the domain
// engines. Importing it registers the tax, finance, ISO 20022 and legal
// providers:
//
//	import _ "github.com/cgast/vguard/pkg/domain/refengine"
package refengine

import (
	"fmt"
	"math"
	"strings"

	"github.com/cgast/vguard/pkg/domain"
)

func init() {
	domain.Register(domain.KindTax, func() (any, error) { return NewTax(), nil })
	domain.Register(domain.KindFinance, func() (any, error) { return Finance{Tolerance: 0.01}, nil })
	domain.Register(domain.KindISO, func() (any, error) { return ISO{}, nil })
	domain.Register(domain.KindLegal, func() (any, error) { return Legal{}, nil })
}

// Tax implements domain.TaxEngine with US FICA and Indian LRS/VDA rules.
type Tax struct {
	SocialSecurityRate float64
	SocialSecurityBase float64 // annual wage base
	MedicareRate       float64
	LRSLimitUSD        float64 // per financial year
	Tolerance          float64
	ProhibitedPurposes []string
}

// NewTax returns the engine with 2024 rates and limits.
func NewTax() Tax {
	return Tax{
		SocialSecurityRate: 0.062,
		SocialSecurityBase: 168600,
		MedicareRate:       0.0145,
		LRSLimitUSD:        250000,
		Tolerance:          0.01,
		ProhibitedPurposes: []string{"gambling", "lottery", "betting", "sweepstakes", "margin trading"},
	}
}

func (t Tax) VerifyFICA(in domain.FICAInput) (domain.Finding, error) {
	if in.GrossYTD < 0 || in.Current < 0 {
		return domain.Finding{}, fmt.Errorf("wages must be non-negative")
	}
	taxable := math.Max(0, math.Min(in.Current, t.SocialSecurityBase-in.GrossYTD))
	expected := round2(taxable*t.SocialSecurityRate + in.Current*t.MedicareRate)
	details := map[string]any{"expected_tax": expected, "claimed_tax": in.ClaimedTax, "ss_taxable": taxable}
	if math.Abs(expected-in.ClaimedTax) > t.Tolerance {
		return domain.Finding{
			Valid:   false,
			Message: fmt.Sprintf("FICA mismatch: claimed %.2f, expected %.2f", in.ClaimedTax, expected),
			Details: details,
		}, nil
	}
	return domain.Finding{Valid: true, Details: details}, nil
}

func (t Tax) VerifyRemittance(in domain.RemittanceInput) (domain.Finding, error) {
	purpose := strings.ToLower(in.Purpose)
	for _, p := range t.ProhibitedPurposes {
		if strings.Contains(purpose, p) {
			return domain.Finding{
				Valid:   false,
				Message: fmt.Sprintf("LRS: remittance for %q is prohibited", in.Purpose),
				Flags:   []string{"PROHIBITED_PURPOSE"},
			}, nil
		}
	}
	total := in.YTDUsage + in.AmountUSD
	details := map[string]any{"limit_usd": t.LRSLimitUSD, "total_usd": total}
	if total > t.LRSLimitUSD {
		return domain.Finding{
			Valid:   false,
			Message: fmt.Sprintf("LRS limit exceeded: %.2f USD this year, limit %.0f USD", total, t.LRSLimitUSD),
			Flags:   []string{"LRS_LIMIT"},
			Details: details,
		}, nil
	}
	return domain.Finding{Valid: true, Details: details}, nil
}

// VerifyCryptoSetOff rejects any virtual digital asset loss set off
// against gains, which Indian law disallows.
func (t Tax) VerifyCryptoSetOff(in domain.CryptoInput) (domain.Finding, error) {
	vdaLoss := 0.0
	for head, amount := range in.Losses {
		if isVDA(head) {
			vdaLoss += amount
		}
	}
	gains := 0.0
	for _, amount := range in.Gains {
		gains += amount
	}
	if vdaLoss > 0 && gains > 0 {
		return domain.Finding{
			Valid:   false,
			Message: fmt.Sprintf("VDA losses of %.2f cannot be set off against other gains", vdaLoss),
			Flags:   []string{"VDA_SET_OFF"},
		}, nil
	}
	return domain.Finding{Valid: true}, nil
}

func isVDA(head string) bool {
	h := strings.ToLower(head)
	return strings.Contains(h, "crypto") || strings.Contains(h, "vda") || strings.Contains(h, "nft")
}

// Finance implements domain.FinanceEngine.
type Finance struct {
	Tolerance float64
}

// VerifyNPV discounts cashflows from period 0.
func (f Finance) VerifyNPV(cashflows []float64, rate, stated float64) (domain.Finding, error) {
	if rate <= -1 {
		return domain.Finding{}, fmt.Errorf("discount rate %v must be greater than -1", rate)
	}
	npv := 0.0
	for t, cf := range cashflows {
		npv += cf / math.Pow(1+rate, float64(t))
	}
	npv = round2(npv)
	details := map[string]any{"computed_npv": npv, "stated_npv": stated}
	if math.Abs(npv-stated) > f.Tolerance {
		return domain.Finding{
			Valid:   false,
			Message: fmt.Sprintf("NPV mismatch: stated %.2f, computed %.2f", stated, npv),
			Details: details,
		}, nil
	}
	return domain.Finding{Valid: true, Details: details}, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
