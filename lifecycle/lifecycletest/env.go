// Package lifecycletest wires an Orchestrator against in-memory stores and a
// simulated chain.
package lifecycletest

import (
	"context"
	"crypto/ecdsa"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"pactflow/agreement"
	"pactflow/chain"
	"pactflow/chain/chaintest"
	"pactflow/dispute"
	"pactflow/lifecycle"
	"pactflow/metrics"
	"pactflow/party"
	"pactflow/reconcile"
	"pactflow/wallet"
)

// ChainID is the id the simulated chain reports.
const ChainID = 300

// Clock is a settable time source shared by the orchestrator and the chain.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(t time.Time) *Clock {
	return &Clock{now: t}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Options tune New. Zero values are fine. Repo and Disputes replace the
// in-memory stores, leaving Env.Repo and Env.Disputes nil.
type Options struct {
	Config   lifecycle.Config
	Metrics  *metrics.Metrics
	Start    time.Time
	Repo     agreement.Repository
	Disputes dispute.Store
}

// Env is a ready orchestrator plus handles on everything behind it.
type Env struct {
	Orchestrator *lifecycle.Orchestrator
	Repo         *agreement.MemoryRepository
	Disputes     *dispute.MemoryRepository
	Parties      *party.MemoryRepository
	Chain        *chaintest.Chain
	Adapter      *chain.Adapter
	Wallets      *wallet.Provider
	Clock        *Clock
	Hook         *test.Hook

	keys wallet.StaticKeySource
}

// New registers each named party with a fresh key and wallet profile.
func New(tb testing.TB, opts Options, parties ...string) *Env {
	tb.Helper()
	adapter, err := chain.NewAdapter(chain.DefaultAddresses())
	if err != nil {
		tb.Fatalf("adapter: %v", err)
	}
	start := opts.Start
	if start.IsZero() {
		start = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	}
	clock := NewClock(start)

	sim := chaintest.New(adapter, ChainID)
	sim.SetClock(clock.Now)

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	keys := wallet.StaticKeySource{}
	partyRepo := party.NewMemoryRepository()
	for _, id := range parties {
		key, err := crypto.GenerateKey()
		if err != nil {
			tb.Fatalf("generate key: %v", err)
		}
		keys[id] = key
		err = partyRepo.Upsert(context.Background(), party.Profile{
			ID:            id,
			Email:         id + "@example.com",
			Name:          id,
			WalletAddress: crypto.PubkeyToAddress(key.PublicKey).Hex(),
		})
		if err != nil {
			tb.Fatalf("seed party %s: %v", id, err)
		}
	}

	wallets := wallet.NewProvider(sim, keys, wallet.Config{
		Policy:       wallet.PolicyAdopt,
		PollInterval: time.Millisecond,
		WaitTimeout:  50 * time.Millisecond,
	}, logger)

	cfg := opts.Config
	if cfg.PendingTTL == 0 {
		cfg.PendingTTL = 5 * time.Minute
	}
	if cfg.DropAfter == 0 {
		cfg.DropAfter = 30 * time.Minute
	}

	var (
		repo     *agreement.MemoryRepository
		disputes *dispute.MemoryRepository
		store    = opts.Repo
		records  = opts.Disputes
	)
	if store == nil {
		repo = agreement.NewMemoryRepository()
		store = repo
	}
	if records == nil {
		disputes = dispute.NewMemoryRepository()
		records = disputes
	}
	orch := lifecycle.New(lifecycle.Deps{
		Repo:       store,
		Parties:    party.NewService(partyRepo),
		Disputes:   dispute.NewService(records),
		Adapter:    adapter,
		Wallets:    wallets,
		Reader:     wallet.ReadOnly(sim),
		Reconciler: reconcile.New(adapter, logger, opts.Metrics),
		Metrics:    opts.Metrics,
		Log:        logger,
		Now:        clock.Now,
	}, cfg)

	return &Env{
		Orchestrator: orch,
		Repo:         repo,
		Disputes:     disputes,
		Parties:      partyRepo,
		Chain:        sim,
		Adapter:      adapter,
		Wallets:      wallets,
		Clock:        clock,
		Hook:         hook,
		keys:         keys,
	}
}

// Session returns a reconnectable session for a registered party.
func (e *Env) Session(id string) *wallet.Session {
	return &wallet.Session{UserID: id, VerifierID: id, IDToken: "token-" + id}
}

// Address is the wallet address of a registered party.
func (e *Env) Address(id string) common.Address {
	return crypto.PubkeyToAddress(e.key(id).PublicKey)
}

func (e *Env) key(id string) *ecdsa.PrivateKey {
	return e.keys[id]
}

// Params returns valid creation params of type t starting at the clock's
// current time.
func (e *Env) Params(t agreement.Type, counterparty string) agreement.CreateParams {
	start := e.Clock.Now()
	p := agreement.CreateParams{
		Type:           t,
		Title:          "Agreement with " + counterparty,
		Terms:          "standard terms",
		CounterpartyID: counterparty,
		Amount:         "0.5",
		StartDate:      start,
		DueDate:        start.Add(90 * 24 * time.Hour),
	}
	switch t {
	case agreement.TypeSoftwareFreelancing:
		p.Deliverables = "api and dashboard"
		p.Milestones = "design, build, launch"
	case agreement.TypeRental:
		p.PropertyAddress = "12 Harbour St"
		p.SecurityDeposit = "1"
	case agreement.TypeSubscription:
		p.SubscriptionDetails = "managed hosting"
		p.BillingInterval = int64((30 * 24 * time.Hour).Seconds())
	}
	return p
}

// Active creates t between creator and counterparty and drives it to Active.
func (e *Env) Active(tb testing.TB, t agreement.Type, creator, counterparty string) agreement.Agreement {
	tb.Helper()
	ctx := context.Background()
	res, err := e.Orchestrator.Create(ctx, e.Session(creator), e.Params(t, counterparty))
	if err != nil {
		tb.Fatalf("create: %v", err)
	}
	if _, err := e.Orchestrator.Accept(ctx, e.Session(counterparty), res.Agreement.ID); err != nil {
		tb.Fatalf("accept: %v", err)
	}
	funded, err := e.Orchestrator.Fund(ctx, e.Session(creator), res.Agreement.ID)
	if err != nil {
		tb.Fatalf("fund: %v", err)
	}
	return funded.Agreement
}
