package reconcile_test

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"pactflow/agreement"
	"pactflow/chain"
	"pactflow/chain/chaintest"
	"pactflow/reconcile"
	"pactflow/wallet"
)

type tierCounter map[string]int

func (c tierCounter) ReconcileTier(tier string) { c[tier]++ }

type env struct {
	adapter *chain.Adapter
	sim     *chaintest.Chain
	signer  *wallet.Signer
	rec     *reconcile.Reconciler
	tiers   tierCounter
	hook    *test.Hook
}

func newEnv(t *testing.T) *env {
	t.Helper()
	adapter, err := chain.NewAdapter(chain.DefaultAddresses())
	if err != nil {
		t.Fatalf("adapter: %v", err)
	}
	sim := chaintest.New(adapter, 300)
	key, _ := crypto.GenerateKey()
	provider := wallet.NewProvider(sim, wallet.StaticKeySource{"sub": key}, wallet.Config{PollInterval: time.Millisecond}, nil)
	signer, err := provider.Resolve(context.Background(), &wallet.Session{UserID: "u", VerifierID: "sub", IDToken: "tok"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	logger, hook := test.NewNullLogger()
	tiers := tierCounter{}
	return &env{adapter: adapter, sim: sim, signer: signer, rec: reconcile.New(adapter, logger, tiers), tiers: tiers, hook: hook}
}

func (e *env) create(t *testing.T) (*big.Int, *types.Receipt) {
	t.Helper()
	provider, _ := crypto.GenerateKey()
	inv, err := e.adapter.Create(agreement.TypeSubscription, chain.CreateTerms{
		Counterparty:    crypto.PubkeyToAddress(provider.PublicKey),
		Amount:          big.NewInt(10),
		BillingInterval: 3600,
		Start:           time.Now(),
	})
	if err != nil {
		t.Fatalf("invocation: %v", err)
	}
	ctx := context.Background()
	pre := e.rec.Preflight(ctx, e.signer, inv)
	receipt, err := e.signer.Submit(ctx, wallet.TxRequest{To: inv.Contract, Data: inv.Data, Method: inv.Method})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return pre, receipt
}

func TestResolve_Tiers(t *testing.T) {
	cases := []struct {
		name   string
		faults chaintest.Faults
		tier   reconcile.Tier
	}{
		{"preflight return", chaintest.Faults{}, reconcile.TierPreflight},
		{"creation event", chaintest.Faults{HideCreateReturn: true}, reconcile.TierEvent},
		{"count minus one", chaintest.Faults{HideCreateReturn: true, SuppressEvents: true}, reconcile.TierCount},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newEnv(t)
			e.create(t)
			e.create(t)

			e.sim.SetFaults(tc.faults)
			pre, receipt := e.create(t)
			res, err := e.rec.Resolve(context.Background(), e.signer, agreement.TypeSubscription, pre, receipt)
			if err != nil {
				t.Fatalf("resolve: %v", err)
			}
			if res.Tier != tc.tier {
				t.Fatalf("expected tier %s, got %s", tc.tier, res.Tier)
			}
			if res.ID != "2" {
				t.Fatalf("expected id 2, got %s", res.ID)
			}
			if e.tiers[tc.tier.String()] != 1 {
				t.Fatalf("observer not notified: %v", e.tiers)
			}
		})
	}
}

func TestResolve_AllTiersFail(t *testing.T) {
	e := newEnv(t)
	e.sim.SetFaults(chaintest.Faults{HideCreateReturn: true, SuppressEvents: true, BreakCount: true})
	pre, receipt := e.create(t)
	if pre != nil {
		t.Fatalf("pre-flight should be hidden, got %v", pre)
	}

	res, err := e.rec.Resolve(context.Background(), e.signer, agreement.TypeSubscription, pre, receipt)
	if !errors.Is(err, agreement.ErrReconciliation) {
		t.Fatalf("expected ErrReconciliation, got %v", err)
	}
	if res.ID != agreement.UnresolvedID || res.Tier != reconcile.TierNone {
		t.Fatalf("unexpected result %+v", res)
	}
	if entry := e.hook.LastEntry(); entry == nil || entry.Level != logrus.ErrorLevel {
		t.Fatalf("expected an error log, got %+v", entry)
	}
}

func TestResolve_EventWinsOverStalePreflight(t *testing.T) {
	e := newEnv(t)
	_, receipt := e.create(t)

	res, err := e.rec.Resolve(context.Background(), e.signer, agreement.TypeSubscription, big.NewInt(9), receipt)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.ID != "0" || res.Tier != reconcile.TierEvent {
		t.Fatalf("expected event id 0, got %+v", res)
	}
	if entry := e.hook.LastEntry(); entry == nil || entry.Level != logrus.WarnLevel {
		t.Fatalf("expected a disagreement warning, got %+v", entry)
	}
}

func TestFromReceipt(t *testing.T) {
	e := newEnv(t)
	reader := wallet.ReadOnly(e.sim)
	ctx := context.Background()

	e.sim.SetFaults(chaintest.Faults{SuppressEvents: true})
	_, late := e.create(t)
	e.sim.SetFaults(chaintest.Faults{})
	_, withEvent := e.create(t)
	e.create(t)

	res, err := e.rec.FromReceipt(ctx, reader, agreement.TypeSubscription, withEvent)
	if err != nil || res.ID != "1" || res.Tier != reconcile.TierEvent {
		t.Fatalf("expected event id 1, got %+v %v", res, err)
	}

	// The latest counter is 3; the creation block still says 0.
	res, err = e.rec.FromReceipt(ctx, reader, agreement.TypeSubscription, late)
	if err != nil || res.ID != "0" || res.Tier != reconcile.TierCount {
		t.Fatalf("expected block count id 0, got %+v %v", res, err)
	}

	e.sim.SetFaults(chaintest.Faults{BreakCount: true})
	res, err = e.rec.FromReceipt(ctx, reader, agreement.TypeSubscription, late)
	if !errors.Is(err, agreement.ErrReconciliation) || res.ID != agreement.UnresolvedID {
		t.Fatalf("expected unresolved, got %+v %v", res, err)
	}
}
