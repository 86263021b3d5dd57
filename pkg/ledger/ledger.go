// Package ledger tracks cumulative model spend per session. The content
// safety guard reads the running total from the verification context to
// enforce a cumulative budget.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// ErrNegativeCost is returned by Add for negative or non-finite costs.
var ErrNegativeCost = errors.New("cost must be a finite non-negative number")

// Ledger records spend per session.
type Ledger interface {
	// Total returns the session's spend so far, zero for unknown sessions.
	Total(ctx context.Context, session string) (float64, error)
	// Add records cost against the session and returns the new total.
	Add(ctx context.Context, session string, cost float64) (float64, error)
	// Reset clears the session's spend.
	Reset(ctx context.Context, session string) error
	Close() error
}

func checkCost(cost float64) error {
	if cost < 0 || math.IsNaN(cost) || math.IsInf(cost, 0) {
		return fmt.Errorf("%w: %v", ErrNegativeCost, cost)
	}
	return nil
}

func checkSession(session string) error {
	if session == "" {
		return errors.New("session id is required")
	}
	return nil
}
