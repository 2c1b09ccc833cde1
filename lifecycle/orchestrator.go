// Package lifecycle drives agreements through their off-chain and on-chain
// transitions. Every chain-backed step marks the record pending, submits the
// transaction, and commits the new state only after a successful receipt.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"pactflow/agreement"
	"pactflow/chain"
	"pactflow/dispute"
	"pactflow/metrics"
	"pactflow/party"
	"pactflow/reconcile"
	"pactflow/units"
	"pactflow/wallet"
)

// Parties resolves counterparties to their wallet addresses.
type Parties interface {
	Counterparty(ctx context.Context, id string) (party.Profile, common.Address, error)
}

// Disputes records confirmed on-chain disputes.
type Disputes interface {
	Open(ctx context.Context, agreementID, raisedBy, reason, txHash string) (dispute.Record, error)
}

type Config struct {
	// PendingTTL is how long a marker may sit before the sweep inspects it.
	PendingTTL time.Duration
	// DropAfter releases a marker whose transaction never got mined.
	DropAfter   time.Duration
	MaxAttempts int
	SweepLimit  int
	Concurrency int
}

func (c Config) withDefaults() Config {
	if c.PendingTTL <= 0 {
		c.PendingTTL = 10 * time.Minute
	}
	if c.DropAfter <= 0 {
		c.DropAfter = time.Hour
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.SweepLimit <= 0 {
		c.SweepLimit = 100
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	return c
}

// Deps wires the orchestrator. Metrics, Log, Now and NewID are optional.
type Deps struct {
	Repo       agreement.Repository
	Parties    Parties
	Disputes   Disputes
	Adapter    *chain.Adapter
	Wallets    *wallet.Provider
	Reader     *wallet.Reader
	Reconciler *reconcile.Reconciler
	Metrics    *metrics.Metrics
	Log        logrus.FieldLogger
	Now        func() time.Time
	NewID      func() string
}

type Orchestrator struct {
	repo       agreement.Repository
	parties    Parties
	disputes   Disputes
	adapter    *chain.Adapter
	wallets    *wallet.Provider
	reader     *wallet.Reader
	reconciler *reconcile.Reconciler
	metrics    *metrics.Metrics
	log        logrus.FieldLogger
	now        func() time.Time
	newID      func() string
	cfg        Config
}

func New(deps Deps, cfg Config) *Orchestrator {
	o := &Orchestrator{
		repo:       deps.Repo,
		parties:    deps.Parties,
		disputes:   deps.Disputes,
		adapter:    deps.Adapter,
		wallets:    deps.Wallets,
		reader:     deps.Reader,
		reconciler: deps.Reconciler,
		metrics:    deps.Metrics,
		log:        deps.Log,
		now:        deps.Now,
		newID:      deps.NewID,
		cfg:        cfg.withDefaults(),
	}
	if o.log == nil {
		o.log = logrus.StandardLogger()
	}
	o.log = o.log.WithField("component", "lifecycle")
	if o.now == nil {
		o.now = func() time.Time { return time.Now().UTC() }
	}
	if o.newID == nil {
		o.newID = uuid.NewString
	}
	return o
}

// CreateResult is a persisted agreement and the tier that produced its
// on-chain id.
type CreateResult struct {
	Agreement agreement.Agreement
	Tier      reconcile.Tier
}

// TxResult is the committed agreement and the transaction that moved it.
type TxResult struct {
	Agreement agreement.Agreement
	TxHash    string
}

// Get returns one agreement.
func (o *Orchestrator) Get(ctx context.Context, id string) (agreement.Agreement, error) {
	return o.repo.Get(ctx, id)
}

// List pages through the agreements a party takes part in.
func (o *Orchestrator) List(ctx context.Context, filters agreement.ListFilters) ([]agreement.Agreement, int, error) {
	if filters.PartyID == "" {
		return nil, 0, fmt.Errorf("%w: party id required", agreement.ErrValidation)
	}
	return o.repo.List(ctx, filters)
}

// Timeline returns the ordered business events of an agreement.
func (o *Orchestrator) Timeline(ctx context.Context, id string) ([]agreement.TimelineEvent, error) {
	if _, err := o.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	return o.repo.Timeline(ctx, id)
}

// Create mirrors a new agreement on chain. A draft is stored under a pending
// create marker before the transaction is sent and is discarded if the
// transaction is rejected or reverts. When the on-chain id cannot be recovered
// the committed agreement is returned together with an error wrapping
// agreement.ErrReconciliation.
func (o *Orchestrator) Create(ctx context.Context, sess *wallet.Session, p agreement.CreateParams) (CreateResult, error) {
	res, err := o.create(ctx, sess, p)
	o.metrics.TransitionApplied(string(agreement.ActionCreate), outcome(err))
	return res, err
}

func (o *Orchestrator) create(ctx context.Context, sess *wallet.Session, p agreement.CreateParams) (CreateResult, error) {
	if sess == nil || sess.UserID == "" {
		return CreateResult{}, wallet.ErrSessionExpired
	}
	p.CreatorID = sess.UserID
	if err := p.Validate(); err != nil {
		return CreateResult{}, err
	}

	_, counterparty, err := o.parties.Counterparty(ctx, p.CounterpartyID)
	switch {
	case errors.Is(err, party.ErrNotFound):
		return CreateResult{}, fmt.Errorf("%w: counterparty %s not found", agreement.ErrValidation, p.CounterpartyID)
	case errors.Is(err, party.ErrNoWallet):
		return CreateResult{}, fmt.Errorf("%w: %v", agreement.ErrInvalidAgreementTerms, err)
	case err != nil:
		return CreateResult{}, err
	}
	p.CounterpartyAddress = counterparty.Hex()

	draft, err := agreement.New(o.newID(), p, o.now())
	if err != nil {
		return CreateResult{}, err
	}
	terms, err := createTerms(draft, counterparty)
	if err != nil {
		return CreateResult{}, err
	}
	inv, err := o.adapter.Create(draft.Type, terms)
	if err != nil {
		return CreateResult{}, err
	}

	signer, err := o.wallets.Resolve(ctx, sess)
	if err != nil {
		return CreateResult{}, err
	}
	if signer.Address() == counterparty {
		return CreateResult{}, fmt.Errorf("%w: counterparty wallet belongs to the creator", agreement.ErrInvalidAgreementTerms)
	}

	preflight := o.reconciler.Preflight(ctx, signer, inv)

	draft.Pending = &agreement.Pending{
		Action:  agreement.ActionCreate,
		ActorID: sess.UserID,
		Since:   o.now(),
	}
	if err := o.repo.Insert(ctx, draft); err != nil {
		return CreateResult{}, err
	}
	log := o.log.WithFields(logrus.Fields{"agreement_id": draft.ID, "action": agreement.ActionCreate})

	receipt, marked, err := o.broadcast(ctx, signer, draft, inv, nil)
	if err != nil {
		return CreateResult{Agreement: marked}, err
	}

	detached := context.WithoutCancel(ctx)
	res, rerr := o.reconciler.Resolve(detached, signer, marked.Type, preflight, receipt)
	saved, err := o.commitCreate(detached, marked, receipt, res, rerr)
	if err != nil && !errors.Is(err, agreement.ErrReconciliation) {
		log.WithError(err).Error("confirmed creation not persisted, left for recovery")
		return CreateResult{Agreement: marked}, err
	}
	log.WithFields(logrus.Fields{"blockchain_id": saved.BlockchainID, "tier": res.Tier}).Info("agreement created")
	return CreateResult{Agreement: saved, Tier: res.Tier}, err
}

// broadcast submits inv on behalf of the pending record. The tx hash is
// recorded on the marker before the transaction leaves the process. A
// rejected or reverted transaction releases the marker; when the outcome is
// unknown the marker stays with its hash for recovery. The returned agreement
// carries the recorded tx hash.
func (o *Orchestrator) broadcast(ctx context.Context, signer *wallet.Signer, marked agreement.Agreement, inv chain.Invocation, value *big.Int) (*types.Receipt, agreement.Agreement, error) {
	log := o.log.WithFields(logrus.Fields{"agreement_id": marked.ID, "action": marked.Pending.Action, "method": inv.Method})
	detached := context.WithoutCancel(ctx)

	start := time.Now()
	receipt, err := signer.Submit(ctx, wallet.TxRequest{
		To:     inv.Contract,
		Data:   inv.Data,
		Value:  value,
		Method: inv.Method,
		OnSigned: func(hash common.Hash) error {
			saved, err := o.recordHash(detached, marked, hash)
			if err != nil {
				return err
			}
			marked = saved
			return nil
		},
	})
	o.observe(inv.Method, start, err)
	if err != nil {
		var cce *wallet.ChainCallError
		if errors.As(err, &cce) && cce.Broadcast() {
			log.WithError(err).WithField("tx", pendingHash(marked)).Warn("transaction outcome unknown, left pending")
			return nil, marked, err
		}
		if rerr := o.release(detached, marked); rerr != nil {
			log.WithError(rerr).Error("pending marker not released")
		}
		return nil, agreement.Agreement{}, err
	}
	return receipt, marked, nil
}

// commitCreate records the resolved id of a confirmed creation and clears the
// pending marker. A resolution error wrapping agreement.ErrReconciliation is
// returned after the record is saved as unresolved.
func (o *Orchestrator) commitCreate(ctx context.Context, marked agreement.Agreement, receipt *types.Receipt, res reconcile.Result, rerr error) (agreement.Agreement, error) {
	next := marked
	next.BlockchainID = res.ID
	next.TxHash = marked.Pending.TxHash
	if next.TxHash == "" && receipt != nil {
		next.TxHash = receipt.TxHash.Hex()
	}
	next.Pending = nil

	saved, err := o.repo.Update(ctx, next, agreement.Change{
		ExpectedStatus:  marked.Status,
		ExpectedVersion: marked.Version,
		ActorID:         marked.Pending.ActorID,
		Event:           agreement.EventCreated,
		Topic:           agreement.OutboxTopicCreated,
		Payload: map[string]any{
			"agreement_id":  next.ID,
			"type":          next.Type,
			"blockchain_id": next.BlockchainID,
			"tier":          res.Tier.String(),
			"tx_hash":       next.TxHash,
			"status":        next.Status,
		},
	})
	if err != nil {
		return marked, err
	}
	return saved, rerr
}

// markPending claims a for action. Losing the compare-and-swap surfaces
// agreement.ErrConcurrentUpdate.
func (o *Orchestrator) markPending(ctx context.Context, a agreement.Agreement, action agreement.Action, actorID string, payload map[string]string) (agreement.Agreement, error) {
	next := a
	next.Pending = &agreement.Pending{
		Action:  action,
		ActorID: actorID,
		Since:   o.now(),
		Payload: payload,
	}
	return o.repo.Update(ctx, next, agreement.Change{ExpectedStatus: a.Status, ExpectedVersion: a.Version})
}

// recordHash stores hash on the pending marker. The transaction must not be
// sent when this fails, or recovery could not find it.
func (o *Orchestrator) recordHash(ctx context.Context, marked agreement.Agreement, hash common.Hash) (agreement.Agreement, error) {
	next := marked
	pending := *marked.Pending
	pending.TxHash = hash.Hex()
	next.Pending = &pending
	saved, err := o.repo.Update(ctx, next, agreement.Change{ExpectedStatus: marked.Status, ExpectedVersion: marked.Version})
	if err != nil {
		o.log.WithError(err).WithFields(logrus.Fields{"agreement_id": marked.ID, "tx": hash.Hex()}).
			Warn("tx hash not recorded on pending marker, send aborted")
		return marked, fmt.Errorf("lifecycle: record tx hash: %w", err)
	}
	return saved, nil
}

// release undoes a pending marker whose transaction did not take effect. A
// create draft is discarded; any other record keeps its state.
func (o *Orchestrator) release(ctx context.Context, marked agreement.Agreement) error {
	if marked.Pending == nil {
		return nil
	}
	if marked.Pending.Action == agreement.ActionCreate {
		return o.repo.Discard(ctx, marked.ID)
	}
	next := marked
	next.Pending = nil
	_, err := o.repo.Update(ctx, next, agreement.Change{ExpectedStatus: marked.Status, ExpectedVersion: marked.Version})
	return err
}

func (o *Orchestrator) observe(method string, start time.Time, err error) {
	stage := ""
	if err != nil {
		stage = "error"
		var cce *wallet.ChainCallError
		if errors.As(err, &cce) {
			stage = string(cce.Stage)
		}
	}
	o.metrics.ObserveChainCall(method, stage, time.Since(start))
}

func createTerms(a agreement.Agreement, counterparty common.Address) (chain.CreateTerms, error) {
	amount, err := units.ToWei(a.Amount)
	if err != nil {
		return chain.CreateTerms{}, fmt.Errorf("%w: amount: %v", agreement.ErrInvalidAgreementTerms, err)
	}
	terms := chain.CreateTerms{
		Counterparty:    counterparty,
		Amount:          amount,
		Start:           a.StartDate,
		Deadline:        a.DueDate,
		BillingInterval: a.BillingInterval,
	}
	if a.Type == agreement.TypeRental {
		deposit, err := units.ToWei(a.SecurityDeposit)
		if err != nil {
			return chain.CreateTerms{}, fmt.Errorf("%w: securityDeposit: %v", agreement.ErrInvalidAgreementTerms, err)
		}
		terms.Deposit = deposit
	}
	return terms, nil
}

func outcome(err error) string {
	var cce *wallet.ChainCallError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, agreement.ErrReconciliation):
		return "unresolved"
	case errors.Is(err, wallet.ErrSessionExpired):
		return "session_expired"
	case errors.Is(err, agreement.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, agreement.ErrNotFound):
		return "not_found"
	case errors.Is(err, agreement.ErrStateConflict), errors.Is(err, agreement.ErrConcurrentUpdate):
		return "state_conflict"
	case errors.Is(err, agreement.ErrValidation),
		errors.Is(err, agreement.ErrInvalidAgreementTerms),
		errors.Is(err, agreement.ErrUnsupportedAction),
		errors.Is(err, agreement.ErrUnsupportedAgreementType):
		return "validation"
	case errors.As(err, &cce):
		return "chain_" + string(cce.Stage)
	default:
		return "error"
	}
}
