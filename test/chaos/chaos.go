// Package chaos injects database and chain failures while actors run.
package chaos

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"pactflow/chain/chaintest"
)

// TerminateRandomBackend kills a random backend of the current database now and then.
func TerminateRandomBackend(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if rand.Intn(5) == 0 {
				_, _ = pool.Exec(ctx, `SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = current_database() AND pid <> pg_backend_pid() ORDER BY random() LIMIT 1`)
			}
		}
	}
}

// FlakyChain holds receipts back, rejects sends, or applies sends and drops
// the response, in short bursts. The chain is healthy again when it returns.
func FlakyChain(ctx context.Context, sim *chaintest.Chain, stop <-chan struct{}) {
	ticker := time.NewTicker(1500 * time.Millisecond)
	defer func() {
		ticker.Stop()
		sim.SetFaults(chaintest.Faults{})
		sim.Release()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			switch rand.Intn(5) {
			case 0:
				sim.SetFaults(chaintest.Faults{HoldReceipts: true})
			case 1:
				sim.SetFaults(chaintest.Faults{SendErr: &chaintest.RPCError{Code: -32000, Message: "chaos: txpool is full"}})
			case 2:
				sim.SetFaults(chaintest.Faults{LoseResponse: errors.New("chaos: connection reset by peer")})
			default:
				sim.SetFaults(chaintest.Faults{})
				sim.Release()
			}
		}
	}
}
