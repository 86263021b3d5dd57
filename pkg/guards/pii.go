package guards

import (
	"regexp"
	"sort"
	"strings"
)

// PII categories recognised by the content-safety guard.
const (
	PIIEmail      = "email"
	PIIPhone      = "phone"
	PIISSN        = "ssn"
	PIICreditCard = "credit_card"
	PIIIPAddress  = "ip_address"
	PIIAPIKey     = "api_key"
)

type piiDetector struct {
	category string
	re       *regexp.Regexp
	accept   func(match string) bool
}

// piiDetectors run in this order; the order fixes the order of findings.
var piiDetectors = []piiDetector{
	{category: PIIEmail, re: regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)},
	{category: PIISSN, re: regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{category: PIICreditCard, re: regexp.MustCompile(`\b(?:\d[ -]?){12,18}\d\b`), accept: luhnValid},
	{category: PIIPhone, re: regexp.MustCompile(`(?:\+\d{1,3}[\s.-]?)?(?:\(\d{3}\)\s?|\b\d{3}[\s.-])\d{3}[\s.-]\d{4}\b`)},
	{category: PIIIPAddress, re: regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|1\d\d|[1-9]?\d)\.){3}(?:25[0-5]|2[0-4]\d|1\d\d|[1-9]?\d)\b`)},
	{category: PIIAPIKey, re: regexp.MustCompile(`\b(?:sk|pk|rk)[-_](?:(?:live|test|proj)[-_])?[A-Za-z0-9]{16,}\b|\bAKIA[0-9A-Z]{16}\b|\bgh[pousr]_[A-Za-z0-9]{36}\b|\bxox[abprs]-[A-Za-z0-9-]{10,}`)},
}

// PIICategories lists every supported category, sorted.
func PIICategories() []string {
	out := make([]string, len(piiDetectors))
	for i, d := range piiDetectors {
		out[i] = d.category
	}
	sort.Strings(out)
	return out
}

func knownPIICategory(category string) bool {
	for _, d := range piiDetectors {
		if d.category == category {
			return true
		}
	}
	return false
}

// PIIFinding is one detected item. Value is redacted.
type PIIFinding struct {
	Category string `json:"category"`
	Path     string `json:"path"`
	Value    string `json:"value"`
	Allowed  bool   `json:"allowed"`
}

// scanPII returns findings for one text leaf.
func scanPII(path, text string, allow map[string]bool) []PIIFinding {
	var out []PIIFinding
	for _, d := range piiDetectors {
		for _, m := range d.re.FindAllString(text, -1) {
			if d.accept != nil && !d.accept(m) {
				continue
			}
			out = append(out, PIIFinding{
				Category: d.category,
				Path:     path,
				Value:    redact(m),
				Allowed:  allow[d.category],
			})
		}
	}
	return out
}

// luhnValid reports whether the digits in s pass the Luhn checksum.
func luhnValid(s string) bool {
	var digits []int
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits = append(digits, int(r-'0'))
		}
	}
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := digits[i]
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

func redact(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}
