package guards

import (
	"fmt"
	"regexp"

	"github.com/cgast/vguard/pkg/verify"
)

// ToolCallName is the name of the tool-call guard.
const ToolCallName = "tool_call"

// DefaultBlockedTools are tool names refused outright.
var DefaultBlockedTools = []string{
	"execute_shell",
	"run_shell_command",
	"exec",
	"eval",
	"system",
	"delete_database",
	"drop_database",
	"format_disk",
}

// DefaultDangerousPatterns are matched case-insensitively against every
// string found in tool arguments.
var DefaultDangerousPatterns = []string{
	`\bDROP\s+(TABLE|DATABASE|SCHEMA)\b`,
	`\bTRUNCATE\s+TABLE\b`,
	`\bDELETE\s+FROM\s+\w+\s*(;|$)`,
	`\brm\s+-[a-z]*r[a-z]*f[a-z]*\b|\brm\s+-[a-z]*f[a-z]*r[a-z]*\b`,
	`\bmkfs(\.\w+)?\b`,
	`\bdd\s+.*of=/dev/`,
	`:\(\)\s*\{\s*:\|:&\s*\};:`,
	`\bchmod\s+-R\s+777\s+/`,
	`\b(curl|wget)\b[^|]*\|\s*(ba|z)?sh\b`,
	`\b(shutdown|reboot|halt|poweroff)\b(\s+-[a-z]+|\s+now)`,
	`>\s*/dev/sd[a-z]\b`,
}

// ToolCallOption configures a ToolCallGuard.
type ToolCallOption func(*toolCallConfig)

type toolCallConfig struct {
	blocked         []string
	patterns        []string
	defaultBlocked  bool
	defaultPatterns bool
}

// WithBlockedTools adds tool names to the blocklist.
func WithBlockedTools(names ...string) ToolCallOption {
	return func(c *toolCallConfig) {
		c.blocked = append(c.blocked, names...)
	}
}

// WithoutDefaultBlocklist drops DefaultBlockedTools from the blocklist.
func WithoutDefaultBlocklist() ToolCallOption {
	return func(c *toolCallConfig) {
		c.defaultBlocked = false
	}
}

// WithDangerousPatterns adds regular expressions applied to argument strings.
// Patterns are compiled case-insensitively.
func WithDangerousPatterns(exprs ...string) ToolCallOption {
	return func(c *toolCallConfig) {
		c.patterns = append(c.patterns, exprs...)
	}
}

// WithoutDefaultPatterns drops DefaultDangerousPatterns.
func WithoutDefaultPatterns() ToolCallOption {
	return func(c *toolCallConfig) {
		c.defaultPatterns = false
	}
}

// ToolCallGuard refuses blocklisted tools and tool arguments containing
// destructive commands.
type ToolCallGuard struct {
	blocked  map[string]struct{}
	patterns []*regexp.Regexp
}

// NewToolCallGuard builds a tool-call guard. An invalid pattern is a
// *verify.ConfigError.
func NewToolCallGuard(opts ...ToolCallOption) (*ToolCallGuard, error) {
	cfg := toolCallConfig{defaultBlocked: true, defaultPatterns: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	g := &ToolCallGuard{blocked: make(map[string]struct{})}
	if cfg.defaultBlocked {
		for _, name := range DefaultBlockedTools {
			g.blocked[name] = struct{}{}
		}
	}
	for _, name := range cfg.blocked {
		g.blocked[name] = struct{}{}
	}

	var exprs []string
	if cfg.defaultPatterns {
		exprs = append(exprs, DefaultDangerousPatterns...)
	}
	exprs = append(exprs, cfg.patterns...)
	for _, expr := range exprs {
		re, err := regexp.Compile("(?i)" + expr)
		if err != nil {
			return nil, &verify.ConfigError{
				Guard:  ToolCallName,
				Reason: fmt.Sprintf("invalid dangerous pattern %q", expr),
				Err:    err,
			}
		}
		g.patterns = append(g.patterns, re)
	}
	return g, nil
}

func (g *ToolCallGuard) Name() string { return ToolCallName }

// Blocked reports whether name is on the blocklist. Matching is exact.
func (g *ToolCallGuard) Blocked(name string) bool {
	_, ok := g.blocked[name]
	return ok
}

// Check inspects the single tool call form and the tool_calls list form.
func (g *ToolCallGuard) Check(candidate verify.Candidate, _ verify.Context) verify.CheckResult {
	calls := collectToolCalls(candidate)
	if len(calls) == 0 {
		return verify.Pass(ToolCallName, "no tool call")
	}

	for _, call := range calls {
		if g.Blocked(call.name) {
			return verify.Fail(ToolCallName, verify.SeverityError,
				fmt.Sprintf("blocked tool: %s", call.name)).
				WithDetail("tool_name", call.name)
		}

		var (
			hitPath    string
			hitPattern string
		)
		walkStrings(decodeArguments(call.args), call.path, func(path, value string) bool {
			for _, re := range g.patterns {
				if re.MatchString(value) {
					hitPath, hitPattern = path, re.String()
					return false
				}
			}
			return true
		})
		if hitPath != "" {
			return verify.Fail(ToolCallName, verify.SeverityError,
				fmt.Sprintf("dangerous pattern in %s arguments at %s", call.name, hitPath)).
				WithDetails(map[string]any{
					"tool_name": call.name,
					"path":      hitPath,
					"pattern":   hitPattern,
				})
		}
	}
	return verify.Pass(ToolCallName, fmt.Sprintf("%d tool call(s) allowed", len(calls)))
}

type toolCall struct {
	name string
	args any
	path string
}

// collectToolCalls gathers calls from tool_name/arguments and from the
// tool_calls list, where an item may nest its fields under "function".
func collectToolCalls(c verify.Candidate) []toolCall {
	var calls []toolCall
	if name := c.String("tool_name"); name != "" || c["arguments"] != nil {
		calls = append(calls, toolCall{name: name, args: c["arguments"], path: "arguments"})
	}

	var items []any
	switch list := c["tool_calls"].(type) {
	case []any:
		items = list
	case []map[string]any:
		for _, m := range list {
			items = append(items, m)
		}
	}
	for i, item := range items {
		m := verify.AsMap(item)
		if m == nil {
			continue
		}
		prefix := fmt.Sprintf("tool_calls[%d]", i)
		if fn := verify.AsMap(m["function"]); fn != nil {
			m = fn
			prefix += ".function"
		}
		name, _ := m["tool_name"].(string)
		if name == "" {
			name, _ = m["name"].(string)
		}
		calls = append(calls, toolCall{name: name, args: m["arguments"], path: prefix + ".arguments"})
	}
	return calls
}
