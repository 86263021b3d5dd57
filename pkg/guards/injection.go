package guards

import (
	"fmt"
	"regexp"
)

type injectionPattern struct {
	name string
	re   *regexp.Regexp
}

var defaultInjectionPatterns = []injectionPattern{
	{"instruction_override", regexp.MustCompile(`(?i)\b(ignore|disregard|forget|skip)\s+(all\s+|any\s+)?(the\s+|your\s+)?(previous|prior|above|earlier|preceding)\s+(instructions|prompts|rules|directions|guidelines)`)},
	{"persona_switch", regexp.MustCompile(`(?i)\byou\s+are\s+now\s+(a|an|the|my)?\s*(different|new|unrestricted|unfiltered|evil)?\s*(ai|assistant|model|persona|character|chatbot|dan)\b`)},
	{"system_prompt_exfiltration", regexp.MustCompile(`(?i)\b(reveal|show|print|repeat|output|leak)\s+(me\s+)?(your|the)\s+(system\s+prompt|initial\s+instructions|hidden\s+instructions|original\s+prompt)`)},
	{"mode_switch", regexp.MustCompile(`(?i)\b(developer|jailbreak|god|dan)\s+mode\b`)},
	{"safety_override", regexp.MustCompile(`(?i)\b(bypass|override|disable|turn\s+off)\s+(your\s+|the\s+|all\s+)?(safety|security|content)\s+(filters?|guidelines|restrictions|policies|checks)`)},
	{"fake_system_message", regexp.MustCompile(`(?i)(\[\s*system\s*\]|<\s*/?\s*system\s*>|\bnew\s+instructions\s*:)`)},
}

func compileInjectionPatterns(extra []string) ([]injectionPattern, error) {
	out := append([]injectionPattern(nil), defaultInjectionPatterns...)
	for i, expr := range extra {
		re, err := regexp.Compile("(?i)" + expr)
		if err != nil {
			return nil, fmt.Errorf("injection pattern %q: %w", expr, err)
		}
		out = append(out, injectionPattern{name: fmt.Sprintf("custom_%d", i+1), re: re})
	}
	return out, nil
}

// InjectionFinding is one matched injection phrase.
type InjectionFinding struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path"`
	Match   string `json:"match"`
}

func scanInjection(patterns []injectionPattern, path, text string) []InjectionFinding {
	var out []InjectionFinding
	for _, p := range patterns {
		if m := p.re.FindString(text); m != "" {
			out = append(out, InjectionFinding{Pattern: p.name, Path: path, Match: m})
		}
	}
	return out
}
