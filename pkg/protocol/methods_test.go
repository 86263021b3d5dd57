package protocol

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/cgast/vguard/pkg/guards"
	"github.com/cgast/vguard/pkg/ledger"
	"github.com/cgast/vguard/pkg/middleware"
	"github.com/cgast/vguard/pkg/verify"
)

func newTestService(t *testing.T, blocking bool) (*Handler, Service) {
	t.Helper()
	tool, err := guards.NewToolCallGuard()
	if err != nil {
		t.Fatalf("NewToolCallGuard: %v", err)
	}
	safety, err := guards.NewContentSafetyGuard(guards.DefaultSafetyConfig())
	if err != nil {
		t.Fatalf("NewContentSafetyGuard: %v", err)
	}

	r := verify.NewRouter()
	if err := r.Register(tool, safety); err != nil {
		t.Fatalf("Register: %v", err)
	}
	r.Route(verify.TypeToolCall, guards.ToolCallName)
	r.Fallback(guards.ContentSafetyName)
	p, err := r.Build(nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	l := ledger.NewMemoryLedger()
	svc := Service{
		Pipeline: p,
		Handler:  middleware.New(p, middleware.WithBlocking(blocking), middleware.WithLedger(l)),
		Ledger:   l,
	}
	h := NewHandler()
	RegisterMethods(h, svc)
	return h, svc
}

func call(t *testing.T, h *Handler, method string, params any) Response {
	t.Helper()
	raw, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	return h.Handle(Request{JSONRPC: "2.0", ID: 1, Method: method, Params: raw})
}

func TestMethodVerify(t *testing.T) {
	h, _ := newTestService(t, false)

	resp := call(t, h, MethodVerify, VerifyParams{
		Candidate: map[string]any{"type": "tool_call", "tool_name": "exec", "arguments": map[string]any{}},
	})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	res, ok := resp.Result.(VerifyResult)
	if !ok {
		t.Fatalf("result type %T", resp.Result)
	}
	if res.Verdict.Verified {
		t.Error("expected blocked verdict")
	}
	if res.RecordID == "" {
		t.Error("expected a record id")
	}
}

func TestMethodVerifyBlocking(t *testing.T) {
	h, _ := newTestService(t, true)

	resp := call(t, h, MethodVerify, VerifyParams{
		Candidate: map[string]any{"content": "reach me at bob@example.com"},
	})
	if resp.Error == nil {
		t.Fatal("expected verification error")
	}
	if resp.Error.Code != CodeVerifyFailed {
		t.Errorf("Code = %d, want %d", resp.Error.Code, CodeVerifyFailed)
	}
	data, ok := resp.Error.Data.(VerifyResult)
	if !ok || data.Verdict.BlockReason != "PII detected: email" {
		t.Errorf("error data = %#v", resp.Error.Data)
	}
}

func TestMethodVerifyErrors(t *testing.T) {
	h, _ := newTestService(t, false)

	tests := []struct {
		name   string
		params any
		code   int
	}{
		{"missing candidate", VerifyParams{}, CodeInvalidCandidate},
		{"unknown guard", VerifyParams{Candidate: map[string]any{"content": "x"}, Guards: []string{"nope"}}, CodeGuardNotFound},
		{"bad params", []int{1}, CodeInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := call(t, h, MethodVerify, tt.params)
			if resp.Error == nil || resp.Error.Code != tt.code {
				t.Errorf("error = %+v, want code %d", resp.Error, tt.code)
			}
		})
	}
}

func TestMethodEvent(t *testing.T) {
	h, svc := newTestService(t, true)

	resp := call(t, h, MethodEvent, middleware.HostEvent{
		Type:         middleware.EventFunctionCall,
		FunctionCall: &middleware.FunctionCall{Name: "run_sql", Arguments: `{"q":"DROP TABLE users"}`},
	})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	res := resp.Result.(EventResult)
	if res.Allowed {
		t.Error("expected the function call to be blocked")
	}

	resp = call(t, h, MethodEvent, middleware.HostEvent{
		Type:     middleware.EventSynthesize,
		Session:  "s1",
		Response: "All good.",
		Usage:    &middleware.Usage{Cost: 0.25},
	})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	if !resp.Result.(EventResult).Allowed {
		t.Error("expected the response to be allowed")
	}

	resp = call(t, h, MethodLedgerTotal, LedgerTotalParams{Session: "s1"})
	if resp.Error != nil {
		t.Fatalf("ledger.total: %v", resp.Error)
	}
	if got := resp.Result.(LedgerTotalResult).Total; got != 0.25 {
		t.Errorf("total = %v, want 0.25", got)
	}

	if s := svc.Handler.Summary(); s.Total != 2 || s.Failed != 1 {
		t.Errorf("summary = %+v", s)
	}
}

func TestMethodGuardsListAndSummary(t *testing.T) {
	h, svc := newTestService(t, false)

	resp := call(t, h, MethodGuardsList, nil)
	if resp.Error != nil {
		t.Fatalf("guards.list: %v", resp.Error)
	}
	list := resp.Result.(GuardsListResult)
	if len(list.Guards) != 2 || list.Guards[0] != guards.ToolCallName {
		t.Errorf("guards = %v", list.Guards)
	}
	if len(list.Routes) != 2 || list.Routes[1].Kind != "fallback" {
		t.Errorf("routes = %+v", list.Routes)
	}

	if _, err := svc.Handler.Verify(context.Background(), "", verify.Candidate{"content": "hello"}, nil); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	resp = call(t, h, MethodHistorySummary, nil)
	summary := resp.Result.(middleware.Summary)
	if summary.Total != 1 || summary.SuccessRate != 1 {
		t.Errorf("summary = %+v", summary)
	}
}

func TestMethodLedgerTotalErrors(t *testing.T) {
	h, _ := newTestService(t, false)
	resp := call(t, h, MethodLedgerTotal, LedgerTotalParams{})
	if resp.Error == nil || resp.Error.Code != CodeInvalidParams {
		t.Errorf("error = %+v, want invalid params", resp.Error)
	}

	h = NewHandler()
	RegisterMethods(h, Service{})
	resp = call(t, h, MethodLedgerTotal, LedgerTotalParams{Session: "s1"})
	if resp.Error == nil || resp.Error.Code != CodeLedgerUnavailable {
		t.Errorf("error = %+v, want ledger unavailable", resp.Error)
	}
}
