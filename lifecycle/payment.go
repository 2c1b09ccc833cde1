package lifecycle

import (
	"context"
	"fmt"
	"math/big"

	"pactflow/agreement"
	"pactflow/chain"
)

// PaymentRequest is the next value-bearing call of an agreement rendered as an
// EIP-681 URI.
type PaymentRequest struct {
	Action agreement.Action
	Method string
	Value  string
	URI    string
}

// NextPayment builds the payment the payer owes next: the escrow fund while
// the agreement is Accepted, an installment while it is Active.
func (o *Orchestrator) NextPayment(ctx context.Context, actorID, id string) (PaymentRequest, error) {
	a, err := o.repo.Get(ctx, id)
	if err != nil {
		return PaymentRequest{}, err
	}

	action, err := nextPaymentAction(a)
	if err != nil {
		return PaymentRequest{}, err
	}
	rule, err := agreement.RuleFor(action)
	if err != nil {
		return PaymentRequest{}, err
	}
	if err := rule.Check(a, actorID); err != nil {
		return PaymentRequest{}, err
	}
	if !a.IdentifierResolved() {
		return PaymentRequest{}, fmt.Errorf("%w: on-chain id of %s is unresolved", agreement.ErrStateConflict, a.ID)
	}

	onChainID, ok := new(big.Int).SetString(a.BlockchainID, 10)
	if !ok {
		return PaymentRequest{}, fmt.Errorf("lifecycle: blockchain id %q is not numeric", a.BlockchainID)
	}
	inv, err := o.adapter.Invoke(a.Type, steps[action].chainAction, onChainID)
	if err != nil {
		return PaymentRequest{}, err
	}
	value, err := o.prepare(ctx, o.reader, a, action, inv, onChainID)
	if err != nil {
		return PaymentRequest{}, err
	}
	chainID, err := o.reader.ChainID(ctx)
	if err != nil {
		return PaymentRequest{}, err
	}
	uri, err := chain.PaymentURI(inv, chainID, onChainID, value)
	if err != nil {
		return PaymentRequest{}, err
	}
	return PaymentRequest{Action: action, Method: inv.Method, Value: value.String(), URI: uri}, nil
}

func nextPaymentAction(a agreement.Agreement) (agreement.Action, error) {
	switch {
	case a.Status == agreement.StatusAccepted:
		return agreement.ActionFund, nil
	case a.Status == agreement.StatusActive && a.Type == agreement.TypeRental:
		return agreement.ActionPayRent, nil
	case a.Status == agreement.StatusActive && a.Type == agreement.TypeSubscription:
		return agreement.ActionPaySubscription, nil
	default:
		return "", fmt.Errorf("%w: no payment is due while %s", agreement.ErrStateConflict, a.Status)
	}
}
