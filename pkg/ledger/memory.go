package ledger

import (
	"context"
	"sync"
)

// MemoryLedger keeps totals in process memory.
type MemoryLedger struct {
	mu     sync.Mutex
	totals map[string]float64
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{totals: make(map[string]float64)}
}

func (l *MemoryLedger) Total(_ context.Context, session string) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totals[session], nil
}

func (l *MemoryLedger) Add(_ context.Context, session string, cost float64) (float64, error) {
	if err := checkSession(session); err != nil {
		return 0, err
	}
	if err := checkCost(cost); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.totals[session] += cost
	return l.totals[session], nil
}

func (l *MemoryLedger) Reset(_ context.Context, session string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.totals, session)
	return nil
}

func (l *MemoryLedger) Close() error { return nil }
