// Package chain maps agreement lifecycle actions onto the three deployed
// agreement contracts. It only builds and decodes calldata; submitting it is
// the wallet's job.
package chain

import (
	"bytes"
	"embed"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"pactflow/agreement"
)

//go:embed abi/*.json
var abiFS embed.FS

// Action is a contract-level operation, independent of agreement type.
type Action string

const (
	ActionCreate         Action = "create"
	ActionActivate       Action = "activate"
	ActionSettle         Action = "settle"
	ActionPayInstallment Action = "pay_installment"
	ActionTerminate      Action = "terminate"
)

// ValueSource names the agreement term a payable method must carry as value.
type ValueSource int

const (
	ValueNone ValueSource = iota
	ValueAmount
	ValueDeposit
)

// Method describes one contract entry point.
type Method struct {
	Name      string
	Payable   bool
	Value     ValueSource
	ReturnsID bool
}

// Contract is the resolved method table for one agreement type.
type Contract struct {
	Type    agreement.Type
	Address common.Address
	ABI     abi.ABI
	Methods map[Action]Method

	CreatedEvent string
	IDField      string
	CountMethod  string
	TermsMethod  string

	// on-chain field names read back through TermsMethod
	AmountField  string
	DepositField string
	PayerField   string
	PayeeField   string
}

// Addresses maps each agreement type to its deployed contract.
type Addresses map[agreement.Type]common.Address

// DefaultAddresses are the zkSync Era Sepolia deployments.
func DefaultAddresses() Addresses {
	return Addresses{
		agreement.TypeSoftwareFreelancing: common.HexToAddress("0xBEb0431ee4A665CE0deDB612F953C867dfAF0c50"),
		agreement.TypeRental:              common.HexToAddress("0xb533a1cfE98E0B6Cb148Bfd2DD0d202F901D0d07"),
		agreement.TypeSubscription:        common.HexToAddress("0xb7D8F3aCcF61BA9407E1cd3f67fc531C18eeffBE"),
	}
}

type contractSpec struct {
	abiFile string
	c       Contract
}

var specs = map[agreement.Type]contractSpec{
	agreement.TypeSoftwareFreelancing: {
		abiFile: "abi/freelance.json",
		c: Contract{
			Methods: map[Action]Method{
				ActionCreate:    {Name: "createAgreement", ReturnsID: true},
				ActionActivate:  {Name: "fundAgreement", Payable: true, Value: ValueAmount},
				ActionSettle:    {Name: "completeAgreement"},
				ActionTerminate: {Name: "disputeAgreement"},
			},
			CreatedEvent: "AgreementCreated",
			IDField:      "agreementId",
			CountMethod:  "agreementCount",
			TermsMethod:  "agreements",
			AmountField:  "amount",
			PayerField:   "client",
			PayeeField:   "freelancer",
		},
	},
	agreement.TypeRental: {
		abiFile: "abi/rental.json",
		c: Contract{
			Methods: map[Action]Method{
				ActionCreate:         {Name: "createAgreement", ReturnsID: true},
				ActionActivate:       {Name: "activateAgreement", Payable: true, Value: ValueDeposit},
				ActionSettle:         {Name: "completeAgreement"},
				ActionPayInstallment: {Name: "payRent", Payable: true, Value: ValueAmount},
				ActionTerminate:      {Name: "disputeAgreement"},
			},
			CreatedEvent: "AgreementCreated",
			IDField:      "agreementId",
			CountMethod:  "agreementCount",
			TermsMethod:  "agreements",
			AmountField:  "rentAmount",
			DepositField: "securityDeposit",
			PayerField:   "tenant",
			PayeeField:   "landlord",
		},
	},
	agreement.TypeSubscription: {
		abiFile: "abi/subscription.json",
		c: Contract{
			Methods: map[Action]Method{
				ActionCreate:         {Name: "createSubscription", ReturnsID: true},
				ActionActivate:       {Name: "activateSubscription", Payable: true, Value: ValueAmount},
				ActionSettle:         {Name: "completeSubscription"},
				ActionPayInstallment: {Name: "paySubscriptionFee", Payable: true, Value: ValueAmount},
				ActionTerminate:      {Name: "cancelSubscription"},
			},
			CreatedEvent: "SubscriptionCreated",
			IDField:      "subscriptionId",
			CountMethod:  "subscriptionCount",
			TermsMethod:  "subscriptions",
			AmountField:  "feeAmount",
			PayerField:   "subscriber",
			PayeeField:   "serviceProvider",
		},
	},
}

// Adapter resolves (type, action) pairs to concrete invocations.
type Adapter struct {
	contracts map[agreement.Type]*Contract
}

// NewAdapter parses the embedded ABIs and checks every table entry against them.
func NewAdapter(addrs Addresses) (*Adapter, error) {
	a := &Adapter{contracts: make(map[agreement.Type]*Contract, len(specs))}
	for typ, spec := range specs {
		addr, ok := addrs[typ]
		if !ok || addr == (common.Address{}) {
			return nil, fmt.Errorf("chain: no contract address for %s", typ)
		}
		raw, err := abiFS.ReadFile(spec.abiFile)
		if err != nil {
			return nil, fmt.Errorf("chain: read %s: %w", spec.abiFile, err)
		}
		parsed, err := abi.JSON(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("chain: parse %s: %w", spec.abiFile, err)
		}

		c := spec.c
		c.Type = typ
		c.Address = addr
		c.ABI = parsed
		if err := c.check(); err != nil {
			return nil, err
		}
		a.contracts[typ] = &c
	}
	return a, nil
}

func (c *Contract) check() error {
	for action, m := range c.Methods {
		method, ok := c.ABI.Methods[m.Name]
		if !ok {
			return fmt.Errorf("chain: %s %s: method %s missing from ABI", c.Type, action, m.Name)
		}
		if method.IsPayable() != m.Payable {
			return fmt.Errorf("chain: %s %s: payable mismatch for %s", c.Type, action, m.Name)
		}
	}
	for _, name := range []string{c.CountMethod, c.TermsMethod} {
		if _, ok := c.ABI.Methods[name]; !ok {
			return fmt.Errorf("chain: %s: method %s missing from ABI", c.Type, name)
		}
	}
	if _, ok := c.ABI.Events[c.CreatedEvent]; !ok {
		return fmt.Errorf("chain: %s: event %s missing from ABI", c.Type, c.CreatedEvent)
	}
	return nil
}

// Contract returns the method table for t.
func (a *Adapter) Contract(t agreement.Type) (*Contract, error) {
	c, ok := a.contracts[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", agreement.ErrUnsupportedAgreementType, t)
	}
	return c, nil
}

// Invocation is packed calldata plus what the wallet needs to send it.
type Invocation struct {
	Type      agreement.Type
	Action    Action
	Contract  common.Address
	Method    string
	Data      []byte
	Payable   bool
	Value     ValueSource
	ReturnsID bool
}

// CreateTerms are the arguments of a creation call, already in chain units.
type CreateTerms struct {
	Counterparty    common.Address
	Amount          *big.Int
	Deposit         *big.Int
	Start           time.Time
	Deadline        time.Time
	BillingInterval int64
}

// Create builds the creation call for t.
func (a *Adapter) Create(t agreement.Type, terms CreateTerms) (Invocation, error) {
	c, err := a.Contract(t)
	if err != nil {
		return Invocation{}, err
	}
	if terms.Counterparty == (common.Address{}) {
		return Invocation{}, fmt.Errorf("%w: counterparty wallet address required", agreement.ErrInvalidAgreementTerms)
	}
	if terms.Amount == nil || terms.Amount.Sign() <= 0 {
		return Invocation{}, fmt.Errorf("%w: amount must be positive", agreement.ErrInvalidAgreementTerms)
	}

	var args []any
	switch t {
	case agreement.TypeSoftwareFreelancing:
		args = []any{terms.Counterparty, terms.Amount, unix(terms.Deadline)}
	case agreement.TypeRental:
		if terms.Deposit == nil || terms.Deposit.Sign() < 0 {
			return Invocation{}, fmt.Errorf("%w: security deposit required", agreement.ErrInvalidAgreementTerms)
		}
		args = []any{terms.Counterparty, terms.Amount, terms.Deposit, unix(terms.Start), unix(terms.Deadline)}
	case agreement.TypeSubscription:
		if terms.BillingInterval <= 0 {
			return Invocation{}, fmt.Errorf("%w: billing interval required", agreement.ErrInvalidAgreementTerms)
		}
		args = []any{terms.Counterparty, terms.Amount, big.NewInt(terms.BillingInterval), unix(terms.Start)}
	}
	return c.invocation(ActionCreate, args...)
}

// Invoke builds a call for an action that takes only the on-chain id.
func (a *Adapter) Invoke(t agreement.Type, action Action, id *big.Int) (Invocation, error) {
	if action == ActionCreate {
		return Invocation{}, fmt.Errorf("chain: use Create for %s", action)
	}
	c, err := a.Contract(t)
	if err != nil {
		return Invocation{}, err
	}
	if id == nil || id.Sign() < 0 {
		return Invocation{}, fmt.Errorf("%w: blockchain id required", agreement.ErrInvalidAgreementTerms)
	}
	return c.invocation(action, id)
}

func (c *Contract) invocation(action Action, args ...any) (Invocation, error) {
	m, ok := c.Methods[action]
	if !ok {
		return Invocation{}, fmt.Errorf("%w: %s has no %s", agreement.ErrUnsupportedAction, c.Type, action)
	}
	data, err := c.ABI.Pack(m.Name, args...)
	if err != nil {
		return Invocation{}, fmt.Errorf("%w: pack %s: %v", agreement.ErrInvalidAgreementTerms, m.Name, err)
	}
	return Invocation{
		Type:      c.Type,
		Action:    action,
		Contract:  c.Address,
		Method:    m.Name,
		Data:      data,
		Payable:   m.Payable,
		Value:     m.Value,
		ReturnsID: m.ReturnsID,
	}, nil
}

// DecodeID unpacks the uint256 returned by a creation call.
func (a *Adapter) DecodeID(t agreement.Type, out []byte) (*big.Int, error) {
	c, err := a.Contract(t)
	if err != nil {
		return nil, err
	}
	return c.unpackUint(c.Methods[ActionCreate].Name, out)
}

// CountCall builds the read of the contract's agreement counter.
func (a *Adapter) CountCall(t agreement.Type) (Invocation, error) {
	c, err := a.Contract(t)
	if err != nil {
		return Invocation{}, err
	}
	data, err := c.ABI.Pack(c.CountMethod)
	if err != nil {
		return Invocation{}, fmt.Errorf("chain: pack %s: %w", c.CountMethod, err)
	}
	return Invocation{Type: t, Contract: c.Address, Method: c.CountMethod, Data: data}, nil
}

// DecodeCount unpacks the counter value.
func (a *Adapter) DecodeCount(t agreement.Type, out []byte) (*big.Int, error) {
	c, err := a.Contract(t)
	if err != nil {
		return nil, err
	}
	return c.unpackUint(c.CountMethod, out)
}

func (c *Contract) unpackUint(method string, out []byte) (*big.Int, error) {
	values, err := c.ABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("chain: unpack %s: %w", method, err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("chain: unpack %s: expected 1 value, got %d", method, len(values))
	}
	v, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("chain: unpack %s: unexpected %T", method, values[0])
	}
	return v, nil
}

func unix(t time.Time) *big.Int {
	return big.NewInt(t.Unix())
}
