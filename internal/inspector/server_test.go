package inspector

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/cgast/vguard/pkg/events"
	"github.com/cgast/vguard/pkg/guards"
	"github.com/cgast/vguard/pkg/ledger"
	"github.com/cgast/vguard/pkg/middleware"
	"github.com/cgast/vguard/pkg/verify"
)

func newTestServer(t *testing.T) (*Server, *middleware.Handler, *events.MemoryBus, ledger.Ledger) {
	t.Helper()
	tool, err := guards.NewToolCallGuard()
	if err != nil {
		t.Fatal(err)
	}
	r := verify.NewRouter()
	if err := r.Register(tool); err != nil {
		t.Fatal(err)
	}
	r.Route(verify.TypeToolCall, guards.ToolCallName)
	p, err := r.Build(nil)
	if err != nil {
		t.Fatal(err)
	}

	bus := events.NewMemoryBus()
	l := ledger.NewMemoryLedger()
	h := middleware.New(p, middleware.WithEvents(bus), middleware.WithLedger(l), middleware.WithMetrics(true), middleware.WithBlocking(false))
	return New(bus, h, p, l, zerolog.Nop()), h, bus, l
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestStatusAndHistory(t *testing.T) {
	s, h, _, _ := newTestServer(t)
	ctx := context.Background()
	if err := h.OnEventEnd(ctx, middleware.HostEvent{Type: middleware.EventFunctionCall, FunctionCall: &middleware.FunctionCall{Name: "exec"}}); err != nil {
		t.Fatal(err)
	}

	rec := get(t, s, "/api/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}
	var status struct {
		Events  int                `json:"events"`
		Blocked int                `json:"blocked"`
		Guards  int                `json:"guards"`
		Summary middleware.Summary `json:"summary"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatal(err)
	}
	if status.Blocked != 1 || status.Guards != 1 || status.Summary.Failed != 1 {
		t.Errorf("status = %+v", status)
	}
	if status.Events != 3 {
		t.Errorf("events = %d, want start, result and blocked", status.Events)
	}

	rec = get(t, s, "/api/history")
	var history []middleware.Record
	if err := json.Unmarshal(rec.Body.Bytes(), &history); err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].Verdict.Verified {
		t.Errorf("history = %+v", history)
	}
}

func TestRoutes(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	rec := get(t, s, "/api/routes")
	var body struct {
		Guards []string           `json:"guards"`
		Routes []verify.RouteInfo `json:"routes"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Guards) != 1 || len(body.Routes) != 1 || body.Routes[0].Key != verify.TypeToolCall {
		t.Errorf("routes = %+v", body)
	}
}

func TestLedger(t *testing.T) {
	s, _, _, l := newTestServer(t)
	if _, err := l.Add(context.Background(), "s1", 1.25); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		path string
		code int
		want string
	}{
		{"/api/ledger?session=s1", http.StatusOK, `"total":1.25`},
		{"/api/ledger", http.StatusBadRequest, "session parameter required"},
	}
	for _, tt := range tests {
		rec := get(t, s, tt.path)
		if rec.Code != tt.code {
			t.Errorf("%s: code = %d, want %d", tt.path, rec.Code, tt.code)
		}
		if !strings.Contains(rec.Body.String(), tt.want) {
			t.Errorf("%s: body %q missing %q", tt.path, rec.Body.String(), tt.want)
		}
	}

	noLedger := New(events.NewMemoryBus(), s.handler, s.pipeline, nil, zerolog.Nop())
	if rec := get(t, noLedger, "/api/ledger?session=s1"); rec.Code != http.StatusNotFound {
		t.Errorf("code = %d, want 404", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, h, _, _ := newTestServer(t)
	if err := h.OnEventEnd(context.Background(), middleware.HostEvent{Type: middleware.EventFunctionCall, FunctionCall: &middleware.FunctionCall{Name: "search"}}); err != nil {
		t.Fatal(err)
	}
	rec := get(t, s, "/metrics")
	if !strings.Contains(rec.Body.String(), "vguard_verifications_total") {
		t.Error("expected vguard metrics in the scrape output")
	}
}

func TestEventStream(t *testing.T) {
	s, h, bus, _ := newTestServer(t)
	srv := httptest.NewServer(s)
	defer srv.Close()

	ch := bus.Subscribe()
	go s.broadcastEvents(ch)
	defer bus.Unsubscribe(ch)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	go func() {
		// Wait for the client to register before publishing.
		for {
			s.clientsMu.Lock()
			n := len(s.clients)
			s.clientsMu.Unlock()
			if n > 0 {
				break
			}
			time.Sleep(10 * time.Millisecond)
		}
		h.OnEventEnd(context.Background(), middleware.HostEvent{Type: middleware.EventFunctionCall, FunctionCall: &middleware.FunctionCall{Name: "search"}})
	}()

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev events.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("bad event %q: %v", line, err)
		}
		if ev.Type == events.EventVerifyResult {
			return
		}
	}
	t.Fatal("stream ended before a verify.result event")
}
