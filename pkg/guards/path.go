package guards

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cgast/vguard/pkg/verify"
)

// PathSandboxName is the name of the path sandbox guard.
const PathSandboxName = "path_sandbox"

// DefaultPathKeys are the argument keys treated as filesystem paths.
var DefaultPathKeys = []string{"path", "file", "file_path", "filename", "directory", "dir", "destination"}

// DefaultSizeKeys are the argument keys whose string length counts as a
// write size.
var DefaultSizeKeys = []string{"content", "data", "body"}

// PathSandboxConfig configures a PathSandboxGuard.
type PathSandboxConfig struct {
	AllowedPaths []string
	DeniedPaths  []string
	MaxWriteSize string // e.g. "10MB", "1GB", "500KB"; empty is unlimited
	Root         string // base for relative paths; empty is the working directory
	PathKeys     []string
	SizeKeys     []string
}

// PathSandboxGuard confines the filesystem paths named in tool-call
// arguments to allowed roots and caps the size of written content.
// Denied paths take precedence; with no allowed paths every path that is
// not denied passes.
type PathSandboxGuard struct {
	root         string
	allowedPaths []string
	deniedPaths  []string
	maxWriteSize int64
	pathKeys     []string
	sizeKeys     []string
}

// NewPathSandboxGuard resolves the configured paths to absolute form.
func NewPathSandboxGuard(cfg PathSandboxConfig) (*PathSandboxGuard, error) {
	root := cfg.Root
	if root == "" {
		root = "."
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, &verify.ConfigError{Guard: PathSandboxName, Reason: fmt.Sprintf("resolve root %q", root), Err: err}
	}
	g := &PathSandboxGuard{
		root:     absRoot,
		pathKeys: cfg.PathKeys,
		sizeKeys: cfg.SizeKeys,
	}
	if len(g.pathKeys) == 0 {
		g.pathKeys = DefaultPathKeys
	}
	if len(g.sizeKeys) == 0 {
		g.sizeKeys = DefaultSizeKeys
	}

	for _, p := range cfg.AllowedPaths {
		g.allowedPaths = append(g.allowedPaths, g.resolve(p))
	}
	for _, p := range cfg.DeniedPaths {
		g.deniedPaths = append(g.deniedPaths, g.resolve(p))
	}

	if cfg.MaxWriteSize != "" {
		size, err := ParseSize(cfg.MaxWriteSize)
		if err != nil {
			return nil, &verify.ConfigError{Guard: PathSandboxName, Reason: fmt.Sprintf("parse max write size %q", cfg.MaxWriteSize), Err: err}
		}
		g.maxWriteSize = size
	}
	return g, nil
}

func (g *PathSandboxGuard) Name() string { return PathSandboxName }

// resolve makes p absolute against the guard root and removes any ".."
// segments, so traversal cannot escape an allowed prefix.
func (g *PathSandboxGuard) resolve(p string) string {
	if !filepath.IsAbs(p) {
		p = filepath.Join(g.root, p)
	}
	return filepath.Clean(p)
}

// CheckPath reports why path is not allowed, or nil.
func (g *PathSandboxGuard) CheckPath(path string) error {
	abs := g.resolve(path)

	for _, denied := range g.deniedPaths {
		if underPath(abs, denied) {
			return fmt.Errorf("path %q is under denied path %q", abs, denied)
		}
	}
	if len(g.allowedPaths) == 0 {
		return nil
	}
	for _, allowed := range g.allowedPaths {
		if underPath(abs, allowed) {
			return nil
		}
	}
	return fmt.Errorf("path %q is not under any allowed path %v", abs, g.allowedPaths)
}

// CheckWriteSize reports whether size exceeds the write limit.
func (g *PathSandboxGuard) CheckWriteSize(size int64) error {
	if g.maxWriteSize <= 0 || size <= g.maxWriteSize {
		return nil
	}
	return fmt.Errorf("write of %d bytes exceeds maximum %d bytes (%s)",
		size, g.maxWriteSize, FormatSize(g.maxWriteSize))
}

// Check inspects every tool call in the candidate. Non-tool candidates pass.
func (g *PathSandboxGuard) Check(candidate verify.Candidate, _ verify.Context) verify.CheckResult {
	calls := collectToolCalls(candidate)
	if len(calls) == 0 {
		return verify.Pass(PathSandboxName, "no tool call")
	}

	checked := 0
	for _, call := range calls {
		args := verify.AsMap(decodeArguments(call.args))
		if args == nil {
			continue
		}
		for _, key := range g.pathKeys {
			p, ok := args[key].(string)
			if !ok || p == "" {
				continue
			}
			checked++
			if err := g.CheckPath(p); err != nil {
				return verify.Fail(PathSandboxName, verify.SeverityError, err.Error()).
					WithDetails(map[string]any{"tool": call.name, "argument": joinKey(call.path, key), "path": p})
			}
		}
		for _, key := range g.sizeKeys {
			s, ok := args[key].(string)
			if !ok {
				continue
			}
			if err := g.CheckWriteSize(int64(len(s))); err != nil {
				return verify.Fail(PathSandboxName, verify.SeverityError, err.Error()).
					WithDetails(map[string]any{"tool": call.name, "argument": joinKey(call.path, key), "size": len(s)})
			}
		}
	}
	return verify.Pass(PathSandboxName, fmt.Sprintf("%d path(s) within sandbox", checked))
}

func underPath(abs, base string) bool {
	return abs == base || strings.HasPrefix(abs, base+string(filepath.Separator)) ||
		(base == string(filepath.Separator) && strings.HasPrefix(abs, base))
}

// ParseSize parses a human-readable size such as "10MB" into bytes.
// Supported suffixes: B, KB, MB, GB, TB (case-insensitive).
func ParseSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))

	suffixes := []struct {
		suffix     string
		multiplier int64
	}{
		{"TB", 1 << 40},
		{"GB", 1 << 30},
		{"MB", 1 << 20},
		{"KB", 1 << 10},
		{"B", 1},
	}
	for _, sf := range suffixes {
		if strings.HasSuffix(s, sf.suffix) {
			numStr := strings.TrimSpace(strings.TrimSuffix(s, sf.suffix))
			n, err := strconv.ParseFloat(numStr, 64)
			if err != nil || n < 0 {
				return 0, fmt.Errorf("invalid number %q", numStr)
			}
			return int64(n * float64(sf.multiplier)), nil
		}
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return n, nil
}

// FormatSize formats bytes as a short human-readable string.
func FormatSize(bytes int64) string {
	units := []struct {
		name string
		size int64
	}{
		{"TB", 1 << 40},
		{"GB", 1 << 30},
		{"MB", 1 << 20},
		{"KB", 1 << 10},
	}
	for _, u := range units {
		if bytes >= u.size {
			return fmt.Sprintf("%.1f%s", float64(bytes)/float64(u.size), u.name)
		}
	}
	return fmt.Sprintf("%dB", bytes)
}
