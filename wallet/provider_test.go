package wallet_test

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"pactflow/agreement"
	"pactflow/chain"
	"pactflow/chain/chaintest"
	"pactflow/wallet"
)

type countingKeys struct {
	keys  wallet.StaticKeySource
	calls int
}

func (c *countingKeys) Connect(ctx context.Context, verifierID, idToken string) (*ecdsa.PrivateKey, error) {
	c.calls++
	if idToken == "revoked" {
		return nil, errors.New("token revoked")
	}
	return c.keys.Connect(ctx, verifierID, idToken)
}

func newKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func setup(t *testing.T, policy wallet.MismatchPolicy) (*wallet.Provider, *chaintest.Chain, *chain.Adapter, *countingKeys, *test.Hook) {
	t.Helper()
	adapter, err := chain.NewAdapter(chain.DefaultAddresses())
	if err != nil {
		t.Fatalf("adapter: %v", err)
	}
	sim := chaintest.New(adapter, 300)
	keys := &countingKeys{keys: wallet.StaticKeySource{"tenant": newKey(t)}}
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	p := wallet.NewProvider(sim, keys, wallet.Config{
		Policy:       policy,
		PollInterval: time.Millisecond,
		WaitTimeout:  50 * time.Millisecond,
	}, logger)
	return p, sim, adapter, keys, hook
}

func TestResolve_NoMaterialExpires(t *testing.T) {
	p, _, _, _, _ := setup(t, wallet.PolicyAdopt)

	for _, sess := range []*wallet.Session{nil, {UserID: "u1"}, {UserID: "u1", VerifierID: "tenant"}} {
		if _, err := p.Resolve(context.Background(), sess); !errors.Is(err, wallet.ErrSessionExpired) {
			t.Fatalf("expected ErrSessionExpired for %+v, got %v", sess, err)
		}
	}

	_, err := p.Resolve(context.Background(), &wallet.Session{UserID: "u1", VerifierID: "nobody", IDToken: "tok"})
	if !errors.Is(err, wallet.ErrSessionExpired) {
		t.Fatalf("failed reconnect should expire the session, got %v", err)
	}
}

func TestResolve_ReconnectsOnceThenCaches(t *testing.T) {
	p, _, _, keys, _ := setup(t, wallet.PolicyAdopt)
	sess := &wallet.Session{UserID: "u1", VerifierID: "tenant", IDToken: "tok"}

	first, err := p.Resolve(context.Background(), sess)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	second, err := p.Resolve(context.Background(), sess)
	if err != nil {
		t.Fatalf("resolve cached: %v", err)
	}
	if keys.calls != 1 {
		t.Fatalf("expected a single reconnect, got %d", keys.calls)
	}
	if first.Address() != second.Address() {
		t.Fatalf("cached signer changed address")
	}
	if first.ChainID().Int64() != 300 {
		t.Fatalf("unexpected chain id %v", first.ChainID())
	}

	renewed := &wallet.Session{UserID: "u1", VerifierID: "tenant", IDToken: "tok-2"}
	if _, err := p.Resolve(context.Background(), renewed); err != nil {
		t.Fatalf("resolve with new token: %v", err)
	}
	if keys.calls != 2 {
		t.Fatalf("expected reconnect for a new token, got %d calls", keys.calls)
	}
}

func TestResolve_FailedReconnectDropsCachedKey(t *testing.T) {
	p, _, _, keys, _ := setup(t, wallet.PolicyAdopt)
	ctx := context.Background()
	sess := &wallet.Session{UserID: "u1", VerifierID: "tenant", IDToken: "tok"}
	if _, err := p.Resolve(ctx, sess); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	revoked := &wallet.Session{UserID: "u1", VerifierID: "tenant", IDToken: "revoked"}
	if _, err := p.Resolve(ctx, revoked); !errors.Is(err, wallet.ErrSessionExpired) {
		t.Fatalf("revoked token should expire the session, got %v", err)
	}

	// The old token no longer rides on the cache.
	if _, err := p.Resolve(ctx, sess); err != nil {
		t.Fatalf("resolve after revocation: %v", err)
	}
	if keys.calls != 3 {
		t.Fatalf("expected the cached key to be dropped, got %d connects", keys.calls)
	}
}

func TestResolve_AddressMismatch(t *testing.T) {
	const stale = "0x00000000000000000000000000000000000000aa"

	p, _, _, _, hook := setup(t, wallet.PolicyAdopt)
	sess := &wallet.Session{UserID: "u1", VerifierID: "tenant", IDToken: "tok", WalletAddress: stale}
	signer, err := p.Resolve(context.Background(), sess)
	if err != nil {
		t.Fatalf("adopt: %v", err)
	}
	if sess.WalletAddress != signer.Address().Hex() {
		t.Fatalf("adopt should overwrite the session address, got %s", sess.WalletAddress)
	}
	if entry := hook.LastEntry(); entry == nil || entry.Level != logrus.WarnLevel {
		t.Fatalf("expected a mismatch warning, got %+v", entry)
	}

	p, _, _, _, _ = setup(t, wallet.PolicyReject)
	sess = &wallet.Session{UserID: "u1", VerifierID: "tenant", IDToken: "tok", WalletAddress: stale}
	_, err = p.Resolve(context.Background(), sess)
	if !errors.Is(err, wallet.ErrAddressMismatch) || !errors.Is(err, agreement.ErrUnauthorized) {
		t.Fatalf("expected ErrAddressMismatch, got %v", err)
	}
	if sess.WalletAddress != stale {
		t.Fatalf("reject must leave the session untouched")
	}
}

func TestSigner_SubmitAndRevert(t *testing.T) {
	p, sim, adapter, _, _ := setup(t, wallet.PolicyAdopt)
	ctx := context.Background()
	signer, err := p.Resolve(ctx, &wallet.Session{UserID: "u1", VerifierID: "tenant", IDToken: "tok"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	start := time.Now().Add(time.Hour)
	inv, err := adapter.Create(agreement.TypeRental, chain.CreateTerms{
		Counterparty: crypto.PubkeyToAddress(newKey(t).PublicKey),
		Amount:       big.NewInt(100),
		Deposit:      big.NewInt(50),
		Start:        start,
		Deadline:     start.Add(24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("create invocation: %v", err)
	}
	receipt, err := signer.Submit(ctx, wallet.TxRequest{To: inv.Contract, Data: inv.Data, Method: inv.Method})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(receipt.Logs) != 1 || sim.Count(agreement.TypeRental) != 1 {
		t.Fatalf("expected one created agreement, logs=%d", len(receipt.Logs))
	}

	activate, _ := adapter.Invoke(agreement.TypeRental, chain.ActionActivate, big.NewInt(0))
	_, err = signer.Submit(ctx, wallet.TxRequest{To: activate.Contract, Data: activate.Data, Value: big.NewInt(1), Method: activate.Method})
	var cce *wallet.ChainCallError
	if !errors.As(err, &cce) {
		t.Fatalf("expected ChainCallError, got %v", err)
	}
	if cce.Stage != wallet.StageEstimate || cce.Reason != "incorrect value" || cce.Broadcast() {
		t.Fatalf("unexpected error %+v", cce)
	}
	if len(sim.Transactions()) != 1 {
		t.Fatalf("estimation failure must not broadcast")
	}
}

func TestSigner_WaitTimesOutAfterBroadcast(t *testing.T) {
	p, sim, adapter, _, _ := setup(t, wallet.PolicyAdopt)
	ctx := context.Background()
	signer, _ := p.Resolve(ctx, &wallet.Session{UserID: "u1", VerifierID: "tenant", IDToken: "tok"})

	sim.SetFaults(chaintest.Faults{HoldReceipts: true})
	inv, _ := adapter.Create(agreement.TypeSoftwareFreelancing, chain.CreateTerms{
		Counterparty: crypto.PubkeyToAddress(newKey(t).PublicKey),
		Amount:       big.NewInt(10),
		Deadline:     time.Now().Add(time.Hour),
	})
	hash, err := signer.Send(ctx, wallet.TxRequest{To: inv.Contract, Data: inv.Data, Method: inv.Method})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	_, err = signer.Wait(ctx, hash, inv.Method)
	var cce *wallet.ChainCallError
	if !errors.As(err, &cce) || !cce.Broadcast() {
		t.Fatalf("expected a broadcast wait failure, got %v", err)
	}

	sim.Release()
	reader := wallet.ReadOnly(sim)
	receipt, err := reader.Receipt(ctx, hash)
	if err != nil || receipt.TxHash != hash {
		t.Fatalf("receipt after release: %v", err)
	}
}

func TestParseStaticKeys(t *testing.T) {
	keys, err := wallet.ParseStaticKeys("alice=4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318, bob=0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(keys))
	}
	if _, err := wallet.ParseStaticKeys("alice"); err == nil {
		t.Fatal("expected malformed entry to fail")
	}
}

func TestParseMismatchPolicy(t *testing.T) {
	if p, _ := wallet.ParseMismatchPolicy(""); p != wallet.PolicyAdopt {
		t.Fatalf("default policy = %s", p)
	}
	if p, _ := wallet.ParseMismatchPolicy("REJECT"); p != wallet.PolicyReject {
		t.Fatalf("reject policy = %s", p)
	}
	if _, err := wallet.ParseMismatchPolicy("ignore"); err == nil {
		t.Fatal("expected unknown policy to fail")
	}
}

func TestSigner_SendFailureClassification(t *testing.T) {
	p, sim, adapter, _, _ := setup(t, wallet.PolicyAdopt)
	ctx := context.Background()
	signer, _ := p.Resolve(ctx, &wallet.Session{UserID: "u1", VerifierID: "tenant", IDToken: "tok"})
	inv, _ := adapter.Create(agreement.TypeSoftwareFreelancing, chain.CreateTerms{
		Counterparty: crypto.PubkeyToAddress(newKey(t).PublicKey),
		Amount:       big.NewInt(10),
		Deadline:     time.Now().Add(time.Hour),
	})
	req := wallet.TxRequest{To: inv.Contract, Data: inv.Data, Method: inv.Method}

	sim.SetFaults(chaintest.Faults{SendErr: &chaintest.RPCError{Code: -32000, Message: "replacement transaction underpriced"}})
	hash, err := signer.Send(ctx, req)
	var cce *wallet.ChainCallError
	if !errors.As(err, &cce) || cce.Stage != wallet.StageSubmit || cce.Broadcast() || hash != (common.Hash{}) {
		t.Fatalf("node rejection should be final, got %v %s", err, hash.Hex())
	}

	sim.SetFaults(chaintest.Faults{LoseResponse: errors.New("connection reset by peer")})
	var signed common.Hash
	req.OnSigned = func(h common.Hash) error {
		signed = h
		return nil
	}
	hash, err = signer.Send(ctx, req)
	if !errors.As(err, &cce) || cce.Stage != wallet.StageBroadcast || !cce.Broadcast() {
		t.Fatalf("lost response should leave the outcome open, got %v", err)
	}
	if hash == (common.Hash{}) || hash != signed {
		t.Fatalf("hash %s should match the signed hash %s", hash.Hex(), signed.Hex())
	}
	if txs := sim.Transactions(); len(txs) != 1 || txs[0].Hash != hash {
		t.Fatalf("transaction should be on chain, got %+v", txs)
	}
}

func TestSigner_OnSignedErrorAbortsSend(t *testing.T) {
	p, sim, adapter, _, _ := setup(t, wallet.PolicyAdopt)
	ctx := context.Background()
	signer, _ := p.Resolve(ctx, &wallet.Session{UserID: "u1", VerifierID: "tenant", IDToken: "tok"})
	inv, _ := adapter.Create(agreement.TypeSoftwareFreelancing, chain.CreateTerms{
		Counterparty: crypto.PubkeyToAddress(newKey(t).PublicKey),
		Amount:       big.NewInt(10),
		Deadline:     time.Now().Add(time.Hour),
	})

	_, err := signer.Send(ctx, wallet.TxRequest{
		To:       inv.Contract,
		Data:     inv.Data,
		Method:   inv.Method,
		OnSigned: func(common.Hash) error { return errors.New("store unavailable") },
	})
	var cce *wallet.ChainCallError
	if !errors.As(err, &cce) || cce.Broadcast() {
		t.Fatalf("expected a final submit error, got %v", err)
	}
	if len(sim.Transactions()) != 0 {
		t.Fatal("nothing may be sent when the hash cannot be recorded")
	}
}
