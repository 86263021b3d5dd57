package refengine

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/cgast/vguard/pkg/domain"
	"github.com/cgast/vguard/pkg/verify"
)

var (
	currencyRe = regexp.MustCompile(`^[A-Z]{3}$`)
	bicRe      = regexp.MustCompile(`^[A-Z]{4}[A-Z]{2}[A-Z0-9]{2}([A-Z0-9]{3})?$`)
	ibanRe     = regexp.MustCompile(`^[A-Z]{2}[0-9]{2}[A-Z0-9]{11,30}$`)
)

// ISO implements domain.ISOValidator for flat pain.001-style payment
// instructions: debtor, creditor, amount, currency, creditor_iban and
// optionally creditor_bic.
type ISO struct{}

func (ISO) VerifyPaymentMessage(msg map[string]any) (domain.Finding, error) {
	var flags []string
	for _, field := range []string{"debtor", "creditor", "amount", "currency", "creditor_iban"} {
		if v, ok := msg[field]; !ok || v == nil || v == "" {
			flags = append(flags, "MISSING_"+strings.ToUpper(field))
		}
	}

	if raw, ok := msg["amount"]; ok && raw != nil {
		amount, err := verify.ToFloat(raw)
		if err != nil || amount <= 0 {
			flags = append(flags, "INVALID_AMOUNT")
		}
	}
	if c, ok := msg["currency"].(string); ok && !currencyRe.MatchString(c) {
		flags = append(flags, "INVALID_CURRENCY")
	}
	if iban, ok := msg["creditor_iban"].(string); ok && iban != "" && !validIBAN(iban) {
		flags = append(flags, "INVALID_IBAN")
	}
	if bic, ok := msg["creditor_bic"].(string); ok && bic != "" && !bicRe.MatchString(strings.ToUpper(bic)) {
		flags = append(flags, "INVALID_BIC")
	}

	if len(flags) > 0 {
		return domain.Finding{
			Valid:   false,
			Message: fmt.Sprintf("payment message is not ISO 20022 conformant: %s", strings.Join(flags, ", ")),
			Flags:   flags,
		}, nil
	}
	return domain.Finding{Valid: true}, nil
}

// validIBAN applies the ISO 13616 mod-97 check.
func validIBAN(iban string) bool {
	s := strings.ToUpper(strings.ReplaceAll(iban, " ", ""))
	if !ibanRe.MatchString(s) {
		return false
	}
	rearranged := s[4:] + s[:4]
	var digits strings.Builder
	for _, r := range rearranged {
		if r >= 'A' && r <= 'Z' {
			fmt.Fprintf(&digits, "%d", r-'A'+10)
		} else {
			digits.WriteRune(r)
		}
	}
	n, ok := new(big.Int).SetString(digits.String(), 10)
	if !ok {
		return false
	}
	return new(big.Int).Mod(n, big.NewInt(97)).Int64() == 1
}
