package events

import "time"

// EventType identifies the kind of event emitted during verification.
type EventType string

const (
	EventVerifyStart   EventType = "verify.start"
	EventVerifyResult  EventType = "verify.result"
	EventVerifyBlocked EventType = "verify.blocked"
	EventLedgerUpdate  EventType = "ledger.update"
	EventAgentMessage  EventType = "agent.message"
)

// Event represents a single verification event.
type Event struct {
	Type      EventType     `json:"type"`
	Timestamp time.Time     `json:"timestamp"`
	Session   string        `json:"session,omitempty"`
	Data      any           `json:"data"`
	Duration  time.Duration `json:"duration,omitempty"`
}

// NewEvent creates a new Event with the current timestamp.
func NewEvent(typ EventType, data any) Event {
	return Event{
		Type:      typ,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// WithSession returns a copy of e tagged with a session id.
func (e Event) WithSession(session string) Event {
	e.Session = session
	return e
}

// VerifyData is the payload of verify.start, verify.result and
// verify.blocked events.
type VerifyData struct {
	RecordID      string `json:"record_id"`
	Kind          string `json:"kind"`
	CandidateType string `json:"candidate_type,omitempty"`
	Guards        int    `json:"guards"`
	Failed        int    `json:"failed,omitempty"`
	Verified      bool   `json:"verified"`
	BlockReason   string `json:"block_reason,omitempty"`
}

// LedgerData is the payload of ledger.update events.
type LedgerData struct {
	Cost  float64 `json:"cost"`
	Total float64 `json:"total"`
}
