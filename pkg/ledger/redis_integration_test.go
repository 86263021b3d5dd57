//go:build integration

package ledger

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// Uses localhost:6379 by default or the REDIS_ADDR env var.
func TestRedisLedger(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	l, err := NewRedisLedger(ctx, RedisOptions{Addr: addr, MaxRetries: 1, TTL: time.Minute}, zerolog.Nop())
	if err != nil {
		t.Skipf("Redis not available at %s: %v", addr, err)
	}
	defer l.Close()

	// Isolate from other runs sharing the server.
	prefixed := &sessionPrefix{Ledger: l, prefix: uuid.NewString() + ":"}
	t.Cleanup(func() {
		for _, s := range []string{"s1", "s2", "busy", "nobody", "never-seen"} {
			require.NoError(t, prefixed.Reset(context.Background(), s))
		}
	})
	runLedgerContract(t, prefixed)
}

type sessionPrefix struct {
	Ledger
	prefix string
}

func (p *sessionPrefix) Total(ctx context.Context, s string) (float64, error) {
	return p.Ledger.Total(ctx, p.prefix+s)
}

func (p *sessionPrefix) Add(ctx context.Context, s string, cost float64) (float64, error) {
	if s == "" {
		return p.Ledger.Add(ctx, s, cost)
	}
	return p.Ledger.Add(ctx, p.prefix+s, cost)
}

func (p *sessionPrefix) Reset(ctx context.Context, s string) error {
	return p.Ledger.Reset(ctx, p.prefix+s)
}
