// Package app wires the stores, the chain clients and the orchestrator shared
// by every binary.
package app

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"pactflow/agreement"
	"pactflow/chain"
	"pactflow/config"
	"pactflow/db"
	"pactflow/dispute"
	"pactflow/idempotency"
	"pactflow/lifecycle"
	"pactflow/metrics"
	"pactflow/party"
	"pactflow/reconcile"
	"pactflow/wallet"
)

// App is a fully wired process.
type App struct {
	Orchestrator *lifecycle.Orchestrator
	Parties      *party.Service
	Disputes     *dispute.Service
	Idempotency  idempotency.Store
	Metrics      *metrics.Metrics

	pool   *pgxpool.Pool
	client *ethclient.Client
}

// Build connects to Postgres when DATABASE_URL is set (in-memory stores
// otherwise), applies migrations, seeds parties and dials the chain RPC.
func Build(ctx context.Context, cfg config.Config, log logrus.FieldLogger, reg prometheus.Registerer) (*App, error) {
	a := &App{Metrics: metrics.New(reg)}

	var (
		repo      agreement.Repository
		partyRepo party.Store
		disputes  dispute.Store
		idemStore idempotency.Store
	)
	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBPool)
		if err != nil {
			return nil, fmt.Errorf("app: bootstrap database pool: %w", err)
		}
		a.pool = pool
		if err := db.Migrate(ctx, pool); err != nil {
			a.Close()
			return nil, fmt.Errorf("app: migrate: %w", err)
		}
		repo = agreement.NewPGRepository(pool)
		partyRepo = party.NewRepository(pool)
		disputes = dispute.NewRepository(pool)
		idemStore = idempotency.NewPGStore(pool)
	} else {
		log.Warn("DATABASE_URL not set, using in-memory stores")
		repo = agreement.NewMemoryRepository()
		partyRepo = party.NewMemoryRepository()
		disputes = dispute.NewMemoryRepository()
		idemStore = idempotency.NewMemoryStore()
	}
	a.Parties = party.NewService(partyRepo)
	a.Disputes = dispute.NewService(disputes)
	a.Idempotency = idemStore

	if cfg.PartySeed != "" {
		n, err := a.Parties.Seed(ctx, cfg.PartySeed)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("app: seed parties: %w", err)
		}
		log.WithField("count", n).Info("parties seeded")
	}

	adapter, err := chain.NewAdapter(cfg.Contracts)
	if err != nil {
		a.Close()
		return nil, err
	}
	keys, err := wallet.ParseStaticKeys(cfg.WalletKeys)
	if err != nil {
		a.Close()
		return nil, err
	}
	client, err := wallet.Dial(ctx, cfg.RPCURL)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.client = client

	wallets := wallet.NewProvider(client, keys, wallet.Config{
		Policy:       cfg.Mismatch,
		PollInterval: cfg.PollInterval,
		WaitTimeout:  cfg.WaitTimeout,
	}, log)

	a.Orchestrator = lifecycle.New(lifecycle.Deps{
		Repo:       repo,
		Parties:    a.Parties,
		Disputes:   a.Disputes,
		Adapter:    adapter,
		Wallets:    wallets,
		Reader:     wallet.ReadOnly(client),
		Reconciler: reconcile.New(adapter, log, a.Metrics),
		Metrics:    a.Metrics,
		Log:        log,
	}, lifecycle.Config{
		PendingTTL: cfg.PendingTTL,
		DropAfter:  cfg.DropAfter,
	})
	return a, nil
}

// Close releases the database pool and the RPC client.
func (a *App) Close() {
	if a.client != nil {
		a.client.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
