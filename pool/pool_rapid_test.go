package pool

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"go.uber.org/zap"
	"pgregory.net/rapid"
)

// TestProperty_PoolLeaseInvariants drives a pool through random
// acquire/release sequences and checks the bookkeeping invariants:
// the total never changes, a connection is never leased twice, and
// in-use plus available always equals the total.
func TestProperty_PoolLeaseInvariants(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		capacity := rapid.IntRange(1, 5).Draw(rt, "capacity")

		factory := func(ctx context.Context) (*sql.DB, error) {
			db, _, err := sqlmock.New()
			return db, err
		}
		p := New(Config{Capacity: capacity, AcquireTimeout: time.Second}, factory, zap.NewNop())
		if err := p.Initialize(context.Background()); err != nil {
			rt.Fatalf("initialize: %v", err)
		}
		defer p.CloseAll()

		held := make(map[uint64]*Conn)

		steps := rapid.IntRange(1, 40).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			acquire := rapid.Bool().Draw(rt, "acquire")

			if acquire && len(held) < capacity {
				c, err := p.AcquireTimeout(context.Background(), 100*time.Millisecond)
				if err != nil {
					rt.Fatalf("acquire with free capacity failed: %v", err)
				}
				if _, dup := held[c.ID()]; dup {
					rt.Fatalf("connection %d leased twice", c.ID())
				}
				held[c.ID()] = c
			} else if len(held) > 0 {
				for id, c := range held {
					p.Release(c)
					delete(held, id)
					break
				}
			}

			h := p.Health()
			if h.Total != capacity {
				rt.Fatalf("total drifted: have %d, want %d", h.Total, capacity)
			}
			if h.InUse != len(held) {
				rt.Fatalf("in-use mismatch: pool says %d, holding %d", h.InUse, len(held))
			}
			if h.InUse+h.Available != h.Total {
				rt.Fatalf("accounting broken: in_use=%d available=%d total=%d",
					h.InUse, h.Available, h.Total)
			}
		}
	})
}
