package guards

import (
	"fmt"
	"math"

	"github.com/cgast/vguard/pkg/verify"
)

// NumericName is the name of the numeric-consistency guard.
const NumericName = "numeric_consistency"

// DefaultTolerance is the absolute tolerance used when none is configured.
const DefaultTolerance = 0.01

// Component is one field contributing to the expected total. Sign is +1 or -1.
type Component struct {
	Field string
	Sign  float64
}

// DefaultComponents are added to (or, for discount, subtracted from) the base.
var DefaultComponents = []Component{
	{Field: "tax", Sign: 1},
	{Field: "shipping", Sign: 1},
	{Field: "fees", Sign: 1},
	{Field: "discount", Sign: -1},
}

// NumericOption configures a NumericGuard.
type NumericOption func(*NumericGuard)

// WithTolerance sets the absolute tolerance. Negative values are rejected.
func WithTolerance(abs float64) NumericOption {
	return func(g *NumericGuard) { g.tolerance = abs }
}

// WithTotalField sets the field holding the stated total.
func WithTotalField(field string) NumericOption {
	return func(g *NumericGuard) { g.totalField = field }
}

// WithBaseField sets the field holding the base amount.
func WithBaseField(field string) NumericOption {
	return func(g *NumericGuard) { g.baseField = field }
}

// WithComponents replaces the default components.
func WithComponents(components ...Component) NumericOption {
	return func(g *NumericGuard) { g.components = append([]Component(nil), components...) }
}

// NumericGuard checks that a stated total equals base plus signed components.
type NumericGuard struct {
	tolerance  float64
	totalField string
	baseField  string
	components []Component
}

// NewNumericGuard builds the guard with defaults total/subtotal/tax/shipping/fees/discount.
func NewNumericGuard(opts ...NumericOption) (*NumericGuard, error) {
	g := &NumericGuard{
		tolerance:  DefaultTolerance,
		totalField: "total",
		baseField:  "subtotal",
		components: DefaultComponents,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.tolerance < 0 || math.IsNaN(g.tolerance) {
		return nil, verify.Configf(NumericName, "tolerance must be non-negative, got %v", g.tolerance)
	}
	if g.totalField == "" || g.baseField == "" {
		return nil, verify.Configf(NumericName, "total and base fields are required")
	}
	for _, c := range g.components {
		if c.Field == "" || (c.Sign != 1 && c.Sign != -1) {
			return nil, verify.Configf(NumericName, "invalid component %+v: sign must be +1 or -1", c)
		}
	}
	return g, nil
}

func (g *NumericGuard) Name() string { return NumericName }

// Tolerance returns the configured absolute tolerance.
func (g *NumericGuard) Tolerance() float64 { return g.tolerance }

// Check recomputes the total from output's fields. Candidates without an
// output mapping, a total or a base are not applicable and pass.
func (g *NumericGuard) Check(candidate verify.Candidate, _ verify.Context) verify.CheckResult {
	output := candidate.Map("output")
	if output == nil {
		return verify.Pass(NumericName, "no output to check")
	}

	rawTotal, hasTotal := output[g.totalField]
	rawBase, hasBase := output[g.baseField]
	if !hasBase || rawBase == nil {
		return verify.Pass(NumericName, "no numeric fields to check")
	}

	base, err := finiteFloat(rawBase)
	if err != nil {
		return g.invalid(g.baseField, rawBase, err)
	}

	if items, ok := output["items"]; ok {
		if r, checked := g.checkItems(items, base); checked && !r.Passed {
			return r
		}
	}
	if !hasTotal || rawTotal == nil {
		return verify.Pass(NumericName, "no numeric fields to check")
	}

	stated, err := finiteFloat(rawTotal)
	if err != nil {
		return g.invalid(g.totalField, rawTotal, err)
	}

	expected := base
	used := []string{g.baseField}
	for _, c := range g.components {
		raw, ok := output[c.Field]
		if !ok || raw == nil {
			continue
		}
		v, err := finiteFloat(raw)
		if err != nil {
			return g.invalid(c.Field, raw, err)
		}
		expected += c.Sign * v
		used = append(used, c.Field)
	}

	diff := math.Abs(expected - stated)
	details := map[string]any{
		"expected":  expected,
		"stated":    stated,
		"diff":      diff,
		"tolerance": g.tolerance,
		"fields":    used,
	}
	if diff > g.tolerance {
		return verify.Fail(NumericName, verify.SeverityError,
			fmt.Sprintf("%s mismatch: stated %v, computed %v (diff %.4g > tolerance %v)",
				g.totalField, stated, expected, diff, g.tolerance)).
			WithDetails(details)
	}
	return verify.Pass(NumericName, fmt.Sprintf("%s consistent", g.totalField)).WithDetails(details)
}

// checkItems compares the sum of line items with the base amount. It
// reports checked=false when items is not a list of priced line items.
func (g *NumericGuard) checkItems(items any, base float64) (verify.CheckResult, bool) {
	list, ok := items.([]any)
	if !ok || len(list) == 0 {
		return verify.CheckResult{}, false
	}

	sum := 0.0
	for i, item := range list {
		m := verify.AsMap(item)
		if m == nil {
			return verify.CheckResult{}, false
		}
		amount, priced, err := lineAmount(m)
		if err == nil && !priced {
			return verify.CheckResult{}, false
		}
		if err != nil {
			return verify.Fail(NumericName, verify.SeverityError,
				fmt.Sprintf("items[%d]: %v", i, err)).WithDetail("field", fmt.Sprintf("items[%d]", i)), true
		}
		sum += amount
	}

	diff := math.Abs(sum - base)
	if diff > g.tolerance {
		return verify.Fail(NumericName, verify.SeverityError,
			fmt.Sprintf("%s mismatch: stated %v, line items sum to %v", g.baseField, base, sum)).
			WithDetails(map[string]any{"items_sum": sum, g.baseField: base, "diff": diff}), true
	}
	return verify.Pass(NumericName, ""), true
}

// lineAmount returns the item's amount, or price times quantity. priced is
// false when the item carries neither.
func lineAmount(item map[string]any) (amount float64, priced bool, err error) {
	if raw := item["amount"]; raw != nil {
		amount, err = finiteFloat(raw)
		return amount, true, err
	}
	raw := item["price"]
	if raw == nil {
		raw = item["unit_price"]
	}
	if raw == nil {
		return 0, false, nil
	}
	price, err := finiteFloat(raw)
	if err != nil {
		return 0, true, fmt.Errorf("price: %w", err)
	}
	qty := 1.0
	if rawQty := item["quantity"]; rawQty != nil {
		if qty, err = finiteFloat(rawQty); err != nil {
			return 0, true, fmt.Errorf("quantity: %w", err)
		}
	}
	return price * qty, true, nil
}

func (g *NumericGuard) invalid(field string, raw any, err error) verify.CheckResult {
	return verify.Fail(NumericName, verify.SeverityError,
		fmt.Sprintf("field %s is not a valid number: %v", field, err)).
		WithDetails(map[string]any{"field": field, "value": fmt.Sprint(raw)})
}

// finiteFloat is verify.ToFloat rejecting NaN and infinities.
func finiteFloat(v any) (float64, error) {
	f, err := verify.ToFloat(v)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%v is not finite", f)
	}
	return f, nil
}
