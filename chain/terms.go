package chain

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"pactflow/agreement"
)

// On-chain status codes shared by the three contracts.
const (
	OnChainCreated uint8 = iota
	OnChainActive
	OnChainCompleted
	OnChainCancelled
	OnChainDisputed
)

// Terms is the contract-held view of one agreement.
type Terms struct {
	Amount          *big.Int
	Deposit         *big.Int
	Payer           common.Address
	Payee           common.Address
	Status          uint8
	NextBillingDate time.Time
	Values          map[string]any
}

// Value returns the term a payable method of the given source carries.
func (t Terms) Value(src ValueSource) *big.Int {
	switch src {
	case ValueAmount:
		return t.Amount
	case ValueDeposit:
		return t.Deposit
	default:
		return nil
	}
}

// TermsCall builds the read of agreements(id) or subscriptions(id).
func (a *Adapter) TermsCall(t agreement.Type, id *big.Int) (Invocation, error) {
	c, err := a.Contract(t)
	if err != nil {
		return Invocation{}, err
	}
	data, err := c.ABI.Pack(c.TermsMethod, id)
	if err != nil {
		return Invocation{}, fmt.Errorf("chain: pack %s: %w", c.TermsMethod, err)
	}
	return Invocation{Type: t, Contract: c.Address, Method: c.TermsMethod, Data: data}, nil
}

// DecodeTerms unpacks the output of TermsCall into named values.
func (a *Adapter) DecodeTerms(t agreement.Type, out []byte) (Terms, error) {
	c, err := a.Contract(t)
	if err != nil {
		return Terms{}, err
	}
	values := make(map[string]any)
	if err := c.ABI.UnpackIntoMap(values, c.TermsMethod, out); err != nil {
		return Terms{}, fmt.Errorf("chain: unpack %s: %w", c.TermsMethod, err)
	}

	terms := Terms{Values: values}
	if terms.Amount, err = bigField(values, c.AmountField); err != nil {
		return Terms{}, err
	}
	if c.DepositField != "" {
		if terms.Deposit, err = bigField(values, c.DepositField); err != nil {
			return Terms{}, err
		}
	}
	if terms.Payer, err = addressField(values, c.PayerField); err != nil {
		return Terms{}, err
	}
	if terms.Payee, err = addressField(values, c.PayeeField); err != nil {
		return Terms{}, err
	}
	status, ok := values["status"].(uint8)
	if !ok {
		return Terms{}, fmt.Errorf("chain: %s: status has type %T", c.TermsMethod, values["status"])
	}
	terms.Status = status
	if next, ok := values["nextBillingDate"].(*big.Int); ok && next.Sign() > 0 {
		terms.NextBillingDate = time.Unix(next.Int64(), 0).UTC()
	}
	return terms, nil
}

func bigField(values map[string]any, name string) (*big.Int, error) {
	v, ok := values[name].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("chain: field %s has type %T", name, values[name])
	}
	return v, nil
}

func addressField(values map[string]any, name string) (common.Address, error) {
	v, ok := values[name].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("chain: field %s has type %T", name, values[name])
	}
	return v, nil
}
