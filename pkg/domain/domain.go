// Package domain provides capability-gated guards that delegate to
// external tax, finance and legal verification engines.
//
// Engines are acquired at guard construction, either passed explicitly as
// an option or looked up in a provider registry that engine packages fill
// from init, the way database/sql drivers register themselves. A guard
// whose engine is unavailable is never built: its constructor returns a
// *verify.ConfigError instead.
package domain

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cgast/vguard/pkg/verify"
)

// Engine kinds used with Register.
const (
	KindTax     = "tax"
	KindFinance = "finance"
	KindISO     = "finance.iso"
	KindLegal   = "legal"
)

// Finding is an engine's answer to one verification question.
type Finding struct {
	Valid   bool           `json:"valid"`
	Message string         `json:"message,omitempty"`
	Flags   []string       `json:"flags,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// FICAInput is a payroll withholding claim.
type FICAInput struct {
	GrossYTD   float64 // wages paid this year before the current period
	Current    float64 // wages for the current period
	ClaimedTax float64 // FICA the caller intends to withhold
}

// RemittanceInput is an outbound international wire.
type RemittanceInput struct {
	AmountUSD float64
	Purpose   string
	YTDUsage  float64 // amount already remitted this financial year
}

// CryptoInput is a proposed loss set-off. Keys are income heads.
type CryptoInput struct {
	Losses map[string]float64
	Gains  map[string]float64
}

// TaxEngine verifies tax-relevant tool calls.
type TaxEngine interface {
	VerifyFICA(in FICAInput) (Finding, error)
	VerifyRemittance(in RemittanceInput) (Finding, error)
	VerifyCryptoSetOff(in CryptoInput) (Finding, error)
}

// FinanceEngine verifies financial computations.
type FinanceEngine interface {
	VerifyNPV(cashflows []float64, rate, stated float64) (Finding, error)
}

// ISOValidator checks payment messages for ISO 20022 conformance. It is an
// optional sub-capability of the finance guard.
type ISOValidator interface {
	VerifyPaymentMessage(msg map[string]any) (Finding, error)
}

// LegalEngine verifies contract analysis.
type LegalEngine interface {
	VerifyChoiceOfLaw(governingLaw, forum string) (Finding, error)
}

// Provider constructs an engine. The returned value must implement the
// interface matching the kind it was registered under.
type Provider func() (any, error)

var (
	providersMu sync.RWMutex
	providers   = make(map[string]Provider)
)

// Register makes an engine provider available under kind. It panics if
// Register is called twice for the same kind or if provider is nil.
func Register(kind string, provider Provider) {
	providersMu.Lock()
	defer providersMu.Unlock()
	if provider == nil {
		panic("domain: Register provider is nil")
	}
	if _, dup := providers[kind]; dup {
		panic("domain: Register called twice for " + kind)
	}
	providers[kind] = provider
}

// Providers returns the sorted list of registered kinds.
func Providers() []string {
	providersMu.RLock()
	defer providersMu.RUnlock()
	out := make([]string, 0, len(providers))
	for kind := range providers {
		out = append(out, kind)
	}
	sort.Strings(out)
	return out
}

func unregisterAll() {
	providersMu.Lock()
	defer providersMu.Unlock()
	providers = make(map[string]Provider)
}

// acquire resolves an engine of type T from the registry. It reports
// false when nothing is registered for kind.
func acquire[T any](guard, kind string) (T, bool, error) {
	var zero T
	providersMu.RLock()
	p, ok := providers[kind]
	providersMu.RUnlock()
	if !ok {
		return zero, false, nil
	}
	v, err := p()
	if err != nil {
		return zero, true, &verify.ConfigError{Guard: guard, Reason: fmt.Sprintf("%s engine provider failed", kind), Err: err}
	}
	engine, ok := v.(T)
	if !ok {
		return zero, true, verify.Configf(guard, "%s provider returned %T, which does not implement the %s engine", kind, v, kind)
	}
	return engine, true, nil
}

func missingEngine(guard, kind string) *verify.ConfigError {
	return &verify.ConfigError{
		Guard:  guard,
		Reason: fmt.Sprintf("%s engine not available", kind),
		Hint:   fmt.Sprintf("pass one as an option or register a provider with domain.Register(%q, ...), e.g. by importing github.com/cgast/vguard/pkg/domain/refengine", kind),
	}
}

// Option supplies engines and settings to the domain guards.
type Option func(*options)

type options struct {
	tax         TaxEngine
	finance     FinanceEngine
	iso         ISOValidator
	legal       LegalEngine
	ndaMaxYears float64
	required    []string
	noISOLookup bool
	noRegistry  bool
}

// WithTaxEngine uses e instead of the registered tax provider.
func WithTaxEngine(e TaxEngine) Option { return func(o *options) { o.tax = e } }

// WithFinanceEngine uses e instead of the registered finance provider.
func WithFinanceEngine(e FinanceEngine) Option { return func(o *options) { o.finance = e } }

// WithISOValidator enables ISO 20022 checks with v.
func WithISOValidator(v ISOValidator) Option { return func(o *options) { o.iso = v } }

// WithoutISO disables the ISO 20022 sub-capability even if one is registered.
func WithoutISO() Option { return func(o *options) { o.noISOLookup = true } }

// WithLegalEngine uses e instead of the registered legal provider.
func WithLegalEngine(e LegalEngine) Option { return func(o *options) { o.legal = e } }

// WithNDAMaxYears sets the longest acceptable NDA term. Default 5.
func WithNDAMaxYears(years float64) Option { return func(o *options) { o.ndaMaxYears = years } }

// WithRequiredClauses replaces the clause types a complete contract must contain.
func WithRequiredClauses(types ...string) Option {
	return func(o *options) { o.required = append([]string(nil), types...) }
}

// WithoutRegistry disables provider lookup; engines must be passed as options.
func WithoutRegistry() Option { return func(o *options) { o.noRegistry = true } }

func buildOptions(opts []Option) options {
	o := options{
		ndaMaxYears: 5,
		required:    []string{"termination", "governing_law", "force_majeure"},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// findingResult converts an engine finding into a check result.
func findingResult(guard, subject string, f Finding, err error) verify.CheckResult {
	if err != nil {
		return verify.Fail(guard, verify.SeverityError,
			fmt.Sprintf("%s: engine error: %v", subject, err)).
			WithDetail("error", err.Error())
	}
	details := map[string]any{"subject": subject}
	for k, v := range f.Details {
		details[k] = v
	}
	if len(f.Flags) > 0 {
		details["flags"] = f.Flags
	}
	if !f.Valid {
		msg := f.Message
		if msg == "" {
			msg = fmt.Sprintf("%s verification failed", subject)
		}
		return verify.Fail(guard, verify.SeverityError, msg).WithDetails(details)
	}
	msg := f.Message
	if msg == "" {
		msg = fmt.Sprintf("%s verified", subject)
	}
	return verify.Pass(guard, msg).WithDetails(details)
}

// numberArg reads a numeric argument, reporting whether it was present.
func numberArg(args map[string]any, key string) (float64, bool, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return 0, false, nil
	}
	f, err := verify.ToFloat(raw)
	if err != nil {
		return 0, true, fmt.Errorf("argument %s: %w", key, err)
	}
	return f, true, nil
}

// numberMap reads a mapping of numbers such as {"crypto": 1200}.
func numberMap(args map[string]any, key string) (map[string]float64, error) {
	raw := verify.AsMap(args[key])
	out := make(map[string]float64, len(raw))
	for k, v := range raw {
		f, err := verify.ToFloat(v)
		if err != nil {
			return nil, fmt.Errorf("argument %s.%s: %w", key, k, err)
		}
		out[k] = f
	}
	return out, nil
}
