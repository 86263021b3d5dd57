// Package middleware adapts host framework callbacks to guard
// verification. It translates host events into candidates, verifies them,
// keeps a verification history and, in blocking mode, turns unverified
// verdicts into *verify.BlockedError.
package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cgast/vguard/pkg/events"
	"github.com/cgast/vguard/pkg/ledger"
	"github.com/cgast/vguard/pkg/verify"
)

// DefaultHistoryLimit bounds the records a Handler retains.
const DefaultHistoryLimit = 1024

// Context keys the handler sets on every verification.
const (
	ContextSessionKey = "session_id"
	ContextTotalKey   = "total_cost"
)

// Verifier runs guards over a candidate. *verify.Pipeline satisfies it.
type Verifier interface {
	Verify(candidate verify.Candidate, ctx verify.Context) verify.Verdict
}

// Record is one entry of the verification history.
type Record struct {
	ID        string           `json:"id"`
	Kind      verify.BlockKind `json:"kind"`
	Session   string           `json:"session,omitempty"`
	EventID   string           `json:"event_id,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Verdict   verify.Verdict   `json:"verdict"`
}

// Summary aggregates every verification since the last Reset, including
// records trimmed from the history.
type Summary struct {
	Total       int     `json:"total"`
	Passed      int     `json:"passed"`
	Failed      int     `json:"failed"`
	SuccessRate float64 `json:"success_rate"`
}

// Option configures a Handler.
type Option func(*Handler)

// WithBlocking sets whether unverified verdicts are returned as errors.
// Default true.
func WithBlocking(block bool) Option { return func(h *Handler) { h.blocking = block } }

// WithRetrieval sets whether retrieved nodes are verified. Default true.
func WithRetrieval(enabled bool) Option { return func(h *Handler) { h.retrieval = enabled } }

// WithSynthesis sets whether synthesized responses are verified. Default true.
func WithSynthesis(enabled bool) Option { return func(h *Handler) { h.synthesis = enabled } }

// WithLedger supplies the running cost for each session and records the
// cost of verified responses.
func WithLedger(l ledger.Ledger) Option { return func(h *Handler) { h.ledger = l } }

// WithEvents publishes verification events to bus.
func WithEvents(bus events.EventBus) Option { return func(h *Handler) { h.bus = bus } }

// WithLogger sets the logger. Default is a no-op logger.
func WithLogger(log zerolog.Logger) Option { return func(h *Handler) { h.log = log } }

// WithMetrics enables Prometheus metrics.
func WithMetrics(enabled bool) Option { return func(h *Handler) { h.metrics = enabled } }

// WithTotalKey sets the context key carrying the session's running cost.
// It must match the content safety guard's TotalKey.
func WithTotalKey(key string) Option { return func(h *Handler) { h.totalKey = key } }

// WithHistoryLimit bounds the retained history. Older records are dropped
// first. A non-positive limit uses DefaultHistoryLimit.
func WithHistoryLimit(limit int) Option {
	return func(h *Handler) {
		if limit > 0 {
			h.historyLimit = limit
		}
	}
}

// Handler reacts to the end of host events.
type Handler struct {
	verifier  Verifier
	blocking  bool
	retrieval bool
	synthesis bool
	ledger    ledger.Ledger
	bus       events.EventBus
	log       zerolog.Logger
	metrics   bool
	totalKey  string

	mu           sync.Mutex
	history      []Record
	historyLimit int
	total        int
	passed       int
}

// New creates a Handler verifying with v.
func New(v Verifier, opts ...Option) *Handler {
	h := &Handler{
		verifier:  v,
		blocking:  true,
		retrieval: true,
		synthesis: true,
		log:       zerolog.Nop(),
		totalKey:  ContextTotalKey,

		historyLimit: DefaultHistoryLimit,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Blocking reports whether the handler is in blocking mode.
func (h *Handler) Blocking() bool { return h.blocking }

// OnEventEnd verifies what the finished event produced. In blocking mode
// the first unverified candidate stops processing and is returned as a
// *verify.BlockedError.
func (h *Handler) OnEventEnd(ctx context.Context, ev HostEvent) error {
	switch ev.Type {
	case EventRetrieve:
		if !h.retrieval {
			return nil
		}
		for _, node := range ev.Nodes {
			if _, err := h.check(ctx, ev, verify.BlockRetrieval, NodeCandidate(node), node); err != nil {
				return err
			}
		}
	case EventSynthesize:
		if !h.synthesis || ev.Response == "" {
			return nil
		}
		verdict, err := h.check(ctx, ev, verify.BlockResponse, ResponseCandidate(ev.Response, ev.Usage), ev.Response)
		if err != nil {
			return err
		}
		if verdict.Verified && ev.Usage != nil && ev.Usage.Cost > 0 {
			return h.recordSpend(ctx, ev.Session, ev.Usage.Cost)
		}
	case EventFunctionCall:
		if ev.FunctionCall == nil {
			return nil
		}
		if _, err := h.check(ctx, ev, verify.BlockFunctionCall, FunctionCallCandidate(*ev.FunctionCall), *ev.FunctionCall); err != nil {
			return err
		}
	}
	return nil
}

// NamedVerifier can run an explicit guard selection. *verify.Pipeline
// satisfies it.
type NamedVerifier interface {
	Guard(name string) (verify.Guard, bool)
	VerifyWith(candidate verify.Candidate, ctx verify.Context, guardNames ...string) (verify.Verdict, error)
}

// Verify runs the verifier over an arbitrary candidate with the same
// bookkeeping as OnEventEnd. Named guards replace the routed set and
// require the verifier to implement NamedVerifier. It never returns a
// BlockedError.
func (h *Handler) Verify(ctx context.Context, session string, candidate verify.Candidate, extra verify.Context, guardNames ...string) (Record, error) {
	verifyFn := h.verifyRouted
	if len(guardNames) > 0 {
		nv, ok := h.verifier.(NamedVerifier)
		if !ok {
			return Record{}, fmt.Errorf("verifier %T cannot select guards by name", h.verifier)
		}
		for _, name := range guardNames {
			if _, ok := nv.Guard(name); !ok {
				return Record{}, fmt.Errorf("%w: %s", verify.ErrGuardNotFound, name)
			}
		}
		verifyFn = func(c verify.Candidate, vc verify.Context) (verify.Verdict, error) {
			return nv.VerifyWith(c, vc, guardNames...)
		}
	}

	vctx, err := h.verifyContext(ctx, session, extra)
	if err != nil {
		return Record{}, err
	}
	kind := verify.BlockResponse
	switch candidate.Type() {
	case verify.TypeToolCall:
		kind = verify.BlockFunctionCall
	case verify.TypeRetrievalNode:
		kind = verify.BlockRetrieval
	}
	return h.run(verifyFn, kind, session, "", candidate, vctx)
}

func (h *Handler) verifyRouted(c verify.Candidate, vc verify.Context) (verify.Verdict, error) {
	return h.verifier.Verify(c, vc), nil
}

func (h *Handler) check(ctx context.Context, ev HostEvent, kind verify.BlockKind, candidate verify.Candidate, subject any) (verify.Verdict, error) {
	vctx, err := h.verifyContext(ctx, ev.Session, nil)
	if err != nil {
		if h.blocking {
			return verify.Verdict{}, err
		}
		h.log.Warn().Err(err).Str("session", ev.Session).Msg("Verifying without running cost")
		vctx = verify.Context{ContextSessionKey: ev.Session}
	}

	rec, err := h.run(h.verifyRouted, kind, ev.Session, ev.ID, candidate, vctx)
	if err != nil {
		return verify.Verdict{}, err
	}
	if !rec.Verdict.Verified && h.blocking {
		return rec.Verdict, &verify.BlockedError{Kind: kind, Verdict: rec.Verdict, Subject: subject}
	}
	return rec.Verdict, nil
}

func (h *Handler) verifyContext(ctx context.Context, session string, extra verify.Context) (verify.Context, error) {
	vctx := make(verify.Context, len(extra)+2)
	for k, v := range extra {
		vctx[k] = v
	}
	if session != "" {
		vctx[ContextSessionKey] = session
	}
	if h.ledger != nil && session != "" {
		total, err := h.ledger.Total(ctx, session)
		if err != nil {
			return nil, fmt.Errorf("read spend ledger: %w", err)
		}
		vctx[h.totalKey] = total
	}
	return vctx, nil
}

type verifyFunc func(verify.Candidate, verify.Context) (verify.Verdict, error)

func (h *Handler) run(verifyFn verifyFunc, kind verify.BlockKind, session, eventID string, candidate verify.Candidate, vctx verify.Context) (Record, error) {
	rec := Record{
		ID:        uuid.NewString(),
		Kind:      kind,
		Session:   session,
		EventID:   eventID,
		Timestamp: time.Now(),
	}
	data := events.VerifyData{RecordID: rec.ID, Kind: string(kind), CandidateType: candidate.Type()}
	h.publish(events.EventVerifyStart, session, data)

	start := time.Now()
	verdict, err := verifyFn(candidate, vctx)
	if err != nil {
		return Record{}, err
	}
	rec.Verdict = verdict
	elapsed := time.Since(start)

	h.mu.Lock()
	if len(h.history) >= h.historyLimit {
		n := copy(h.history, h.history[1:])
		h.history = h.history[:n]
	}
	h.history = append(h.history, rec)
	h.total++
	if verdict.Verified {
		h.passed++
	}
	h.mu.Unlock()

	data.Guards = len(rec.Verdict.GuardResults)
	data.Failed = rec.Verdict.GuardsFailed
	data.Verified = rec.Verdict.Verified
	data.BlockReason = rec.Verdict.BlockReason
	h.publishTimed(events.EventVerifyResult, session, data, elapsed)

	if h.metrics {
		verificationsTotal.WithLabelValues(string(kind), resultLabel(rec.Verdict.Verified)).Inc()
		verificationDuration.WithLabelValues(string(kind)).Observe(elapsed.Seconds())
		for _, r := range rec.Verdict.Failures() {
			guardFailuresTotal.WithLabelValues(r.Guard, string(r.Severity)).Inc()
		}
	}

	if rec.Verdict.Verified {
		h.log.Debug().
			Str("record", rec.ID).
			Str("kind", string(kind)).
			Int("guards", data.Guards).
			Dur("elapsed", elapsed).
			Msg("Candidate verified")
	} else {
		h.publish(events.EventVerifyBlocked, session, data)
		h.log.Warn().
			Str("record", rec.ID).
			Str("kind", string(kind)).
			Str("session", session).
			Strs("failed", failedGuards(rec.Verdict)).
			Str("reason", rec.Verdict.BlockReason).
			Bool("blocking", h.blocking).
			Msg("Candidate blocked")
	}
	return rec, nil
}

func (h *Handler) recordSpend(ctx context.Context, session string, cost float64) error {
	if h.ledger == nil || session == "" {
		return nil
	}
	total, err := h.ledger.Add(ctx, session, cost)
	if err != nil {
		return fmt.Errorf("record spend: %w", err)
	}
	if h.metrics {
		ledgerSpendTotal.Add(cost)
	}
	h.publish(events.EventLedgerUpdate, session, events.LedgerData{Cost: cost, Total: total})
	h.log.Debug().Str("session", session).Float64("cost", cost).Float64("total", total).Msg("Spend recorded")
	return nil
}

func (h *Handler) publish(typ events.EventType, session string, data any) {
	h.publishTimed(typ, session, data, 0)
}

func (h *Handler) publishTimed(typ events.EventType, session string, data any, d time.Duration) {
	if h.bus == nil {
		return
	}
	ev := events.NewEvent(typ, data).WithSession(session)
	ev.Duration = d
	h.bus.Publish(ev)
}

// History returns a copy of the retained verification history, oldest
// first.
func (h *Handler) History() []Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Record, len(h.history))
	copy(out, h.history)
	return out
}

// Summary counts every verification since the last Reset. The success
// rate with no verifications is 1.
func (h *Handler) Summary() Summary {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := Summary{Total: h.total, Passed: h.passed, Failed: h.total - h.passed, SuccessRate: 1.0}
	if s.Total > 0 {
		s.SuccessRate = float64(s.Passed) / float64(s.Total)
	}
	return s
}

// Reset clears the verification history and summary counts.
func (h *Handler) Reset() {
	h.mu.Lock()
	h.history = nil
	h.total, h.passed = 0, 0
	h.mu.Unlock()
}

func failedGuards(v verify.Verdict) []string {
	var names []string
	for _, r := range v.Failures() {
		names = append(names, r.Guard)
	}
	return names
}
