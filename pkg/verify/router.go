package verify

import (
	"fmt"
	"sort"
	"sync"
)

// Router maps candidate discriminators to guard sets. It is assembled once
// at pipeline setup and frozen by Build; per-call dispatch is a table lookup.
type Router struct {
	mu       sync.Mutex
	guards   map[string]Guard
	order    []string
	types    map[string][]string
	tools    map[string][]string
	fallback []string
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{
		guards: make(map[string]Guard),
		types:  make(map[string][]string),
		tools:  make(map[string][]string),
	}
}

// Register adds guards by name. Returns an error if a guard with the same
// name is already registered.
func (r *Router) Register(guards ...Guard) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, g := range guards {
		if g == nil {
			return fmt.Errorf("router: nil guard")
		}
		name := g.Name()
		if _, exists := r.guards[name]; exists {
			return fmt.Errorf("guard already registered: %s", name)
		}
		r.guards[name] = g
		r.order = append(r.order, name)
	}
	return nil
}

// Route sets the guards, by name and in order, applied to candidates of the given type.
func (r *Router) Route(candidateType string, guardNames ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[candidateType] = append([]string(nil), guardNames...)
}

// RouteTool adds guards applied to tool_call candidates naming toolName,
// after the tool_call type route.
func (r *Router) RouteTool(toolName string, guardNames ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[toolName] = append([]string(nil), guardNames...)
}

// Fallback sets the guards applied to candidates whose type has no route.
func (r *Router) Fallback(guardNames ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = append([]string(nil), guardNames...)
}

// Build resolves every route against the registered guards and returns an
// immutable Pipeline. Unknown or duplicated guard names are errors.
func (r *Router) Build(engine VerificationEngine) (*Pipeline, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if engine == nil {
		engine = NewEngine()
	}
	p := &Pipeline{
		engine: engine,
		guards: make(map[string]Guard, len(r.guards)),
		names:  append([]string(nil), r.order...),
		types:  make(map[string][]Guard, len(r.types)),
		tools:  make(map[string][]Guard, len(r.tools)),
	}
	for name, g := range r.guards {
		p.guards[name] = g
	}

	var err error
	for typ, names := range r.types {
		if p.types[typ], err = r.resolve("type "+typ, names); err != nil {
			return nil, err
		}
	}
	for tool, names := range r.tools {
		if p.tools[tool], err = r.resolve("tool "+tool, names); err != nil {
			return nil, err
		}
	}
	if p.fallback, err = r.resolve("fallback", r.fallback); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *Router) resolve(route string, names []string) ([]Guard, error) {
	seen := make(map[string]bool, len(names))
	out := make([]Guard, 0, len(names))
	for _, name := range names {
		if seen[name] {
			return nil, fmt.Errorf("route %s: guard %q listed twice", route, name)
		}
		seen[name] = true
		g, ok := r.guards[name]
		if !ok {
			return nil, fmt.Errorf("route %s: guard not found: %s", route, name)
		}
		out = append(out, g)
	}
	return out, nil
}

// Pipeline is a frozen routing table bound to an engine.
type Pipeline struct {
	engine   VerificationEngine
	guards   map[string]Guard
	names    []string
	types    map[string][]Guard
	tools    map[string][]Guard
	fallback []Guard
}

// GuardsFor returns the guards that apply to candidate: its type route (or
// the fallback when the type has no route), followed for tool calls by the
// route for its tool name.
func (p *Pipeline) GuardsFor(candidate Candidate) []Guard {
	base, ok := p.types[candidate.Type()]
	if !ok {
		base = p.fallback
	}
	out := append([]Guard(nil), base...)

	if candidate.Type() != TypeToolCall {
		return out
	}
	extra := p.tools[candidate.String("tool_name")]
	for _, g := range extra {
		if !containsGuard(out, g.Name()) {
			out = append(out, g)
		}
	}
	return out
}

// Verify routes candidate to its guards and runs them.
func (p *Pipeline) Verify(candidate Candidate, ctx Context) Verdict {
	return p.engine.Verify(candidate, ctx, p.GuardsFor(candidate)...)
}

// VerifyWith runs the named guards instead of the routed set.
func (p *Pipeline) VerifyWith(candidate Candidate, ctx Context, guardNames ...string) (Verdict, error) {
	guards := make([]Guard, 0, len(guardNames))
	for _, name := range guardNames {
		g, ok := p.guards[name]
		if !ok {
			return Verdict{}, fmt.Errorf("%w: %s", ErrGuardNotFound, name)
		}
		guards = append(guards, g)
	}
	return p.engine.Verify(candidate, ctx, guards...), nil
}

// Guard looks up a registered guard by name.
func (p *Pipeline) Guard(name string) (Guard, bool) {
	g, ok := p.guards[name]
	return g, ok
}

// Names returns registered guard names in registration order.
func (p *Pipeline) Names() []string {
	return append([]string(nil), p.names...)
}

// RouteInfo describes one entry of the routing table.
type RouteInfo struct {
	Kind   string   `json:"kind"` // "type", "tool", "fallback"
	Key    string   `json:"key,omitempty"`
	Guards []string `json:"guards"`
}

// Routes returns the routing table sorted by kind then key.
func (p *Pipeline) Routes() []RouteInfo {
	var out []RouteInfo
	for typ, gs := range p.types {
		out = append(out, RouteInfo{Kind: "type", Key: typ, Guards: Names(gs)})
	}
	for tool, gs := range p.tools {
		out = append(out, RouteInfo{Kind: "tool", Key: tool, Guards: Names(gs)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind > out[j].Kind // "type" before "tool"
		}
		return out[i].Key < out[j].Key
	})
	if len(p.fallback) > 0 {
		out = append(out, RouteInfo{Kind: "fallback", Guards: Names(p.fallback)})
	}
	return out
}

func containsGuard(guards []Guard, name string) bool {
	for _, g := range guards {
		if g.Name() == name {
			return true
		}
	}
	return false
}
