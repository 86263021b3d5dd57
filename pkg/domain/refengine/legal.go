package refengine

import (
	"fmt"
	"strings"

	"github.com/cgast/vguard/pkg/domain"
)

// forumJurisdiction maps common forum cities to the jurisdiction whose
// courts sit there.
var forumJurisdiction = map[string]string{
	"san francisco": "california",
	"los angeles":   "california",
	"san diego":     "california",
	"san jose":      "california",
	"new york":      "new york",
	"manhattan":     "new york",
	"wilmington":    "delaware",
	"austin":        "texas",
	"dallas":        "texas",
	"houston":       "texas",
	"seattle":       "washington",
	"chicago":       "illinois",
	"boston":        "massachusetts",
	"london":        "england",
	"mumbai":        "india",
	"delhi":         "india",
	"singapore":     "singapore",
}

// Legal implements domain.LegalEngine.
type Legal struct{}

// VerifyChoiceOfLaw accepts a forum that sits in the governing
// jurisdiction, or arbitration. Unknown forums are accepted.
func (Legal) VerifyChoiceOfLaw(governingLaw, forum string) (domain.Finding, error) {
	law := normalizePlace(governingLaw)
	place := normalizePlace(forum)
	if law == "" || place == "" {
		return domain.Finding{}, fmt.Errorf("governing law and forum are required")
	}
	if strings.Contains(place, "arbitration") || strings.Contains(place, law) || strings.Contains(law, place) {
		return domain.Finding{Valid: true}, nil
	}
	for city, jurisdiction := range forumJurisdiction {
		if strings.Contains(place, city) {
			if jurisdiction == law || strings.Contains(law, jurisdiction) {
				return domain.Finding{Valid: true}, nil
			}
			return domain.Finding{
				Valid:   false,
				Message: fmt.Sprintf("Jurisdiction Mismatch: %s law with a forum in %s (%s)", governingLaw, forum, jurisdiction),
			}, nil
		}
	}
	return domain.Finding{Valid: true, Message: "forum not recognised; choice of law not checked"}, nil
}

func normalizePlace(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "the laws of ")
	s = strings.TrimPrefix(s, "laws of ")
	s = strings.TrimPrefix(s, "state of ")
	return s
}
