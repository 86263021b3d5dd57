package protocol

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/cgast/vguard/pkg/ledger"
	"github.com/cgast/vguard/pkg/middleware"
	"github.com/cgast/vguard/pkg/verify"
)

// Service is what the verification methods operate on.
type Service struct {
	Pipeline *verify.Pipeline
	Handler  *middleware.Handler
	Ledger   ledger.Ledger // optional
}

// RegisterMethods registers verify, event, guards.list, history.summary
// and ledger.total on h.
func RegisterMethods(h *Handler, svc Service) {
	h.Register(MethodVerify, func(params json.RawMessage) (any, *Error) {
		p, perr := ParseParams[VerifyParams](params)
		if perr != nil {
			return nil, perr
		}
		if p.Candidate == nil {
			return nil, &Error{Code: CodeInvalidCandidate, Message: "candidate is required"}
		}

		rec, err := svc.Handler.Verify(context.Background(), p.Session,
			verify.Candidate(p.Candidate), verify.Context(p.Context), p.Guards...)
		switch {
		case errors.Is(err, verify.ErrGuardNotFound):
			return nil, &Error{Code: CodeGuardNotFound, Message: err.Error()}
		case err != nil:
			return nil, &Error{Code: CodeLedgerUnavailable, Message: err.Error()}
		}

		if !rec.Verdict.Verified && svc.Handler.Blocking() {
			return nil, &Error{
				Code:    CodeVerifyFailed,
				Message: "verification failed: " + rec.Verdict.BlockReason,
				Data:    VerifyResult{RecordID: rec.ID, Verdict: rec.Verdict},
			}
		}
		return VerifyResult{RecordID: rec.ID, Verdict: rec.Verdict}, nil
	})

	h.Register(MethodEvent, func(params json.RawMessage) (any, *Error) {
		ev, perr := ParseParams[middleware.HostEvent](params)
		if perr != nil {
			return nil, perr
		}
		err := svc.Handler.OnEventEnd(context.Background(), ev)
		var blocked *verify.BlockedError
		switch {
		case errors.As(err, &blocked):
			return EventResult{Allowed: false, BlockReason: blocked.Error()}, nil
		case err != nil:
			return nil, &Error{Code: CodeInternalError, Message: err.Error()}
		}
		return EventResult{Allowed: true}, nil
	})

	h.Register(MethodGuardsList, func(json.RawMessage) (any, *Error) {
		return GuardsListResult{Guards: svc.Pipeline.Names(), Routes: svc.Pipeline.Routes()}, nil
	})

	h.Register(MethodHistorySummary, func(json.RawMessage) (any, *Error) {
		return svc.Handler.Summary(), nil
	})

	h.Register(MethodLedgerTotal, func(params json.RawMessage) (any, *Error) {
		p, perr := ParseParams[LedgerTotalParams](params)
		if perr != nil {
			return nil, perr
		}
		if svc.Ledger == nil {
			return nil, &Error{Code: CodeLedgerUnavailable, Message: "no spend ledger configured"}
		}
		if p.Session == "" {
			return nil, &Error{Code: CodeInvalidParams, Message: "session is required"}
		}
		total, err := svc.Ledger.Total(context.Background(), p.Session)
		if err != nil {
			return nil, &Error{Code: CodeLedgerUnavailable, Message: err.Error()}
		}
		return LedgerTotalResult{Session: p.Session, Total: total}, nil
	})
}
