package chain

import (
	"bytes"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"pactflow/agreement"
)

var (
	tenant   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	landlord = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	a, err := NewAdapter(DefaultAddresses())
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	return a
}

func TestAdapter_MethodTable(t *testing.T) {
	a := newTestAdapter(t)
	id := big.NewInt(4)

	cases := []struct {
		typ     agreement.Type
		action  Action
		method  string
		payable bool
		value   ValueSource
	}{
		{agreement.TypeSoftwareFreelancing, ActionActivate, "fundAgreement", true, ValueAmount},
		{agreement.TypeSoftwareFreelancing, ActionSettle, "completeAgreement", false, ValueNone},
		{agreement.TypeSoftwareFreelancing, ActionTerminate, "disputeAgreement", false, ValueNone},
		{agreement.TypeRental, ActionActivate, "activateAgreement", true, ValueDeposit},
		{agreement.TypeRental, ActionPayInstallment, "payRent", true, ValueAmount},
		{agreement.TypeRental, ActionTerminate, "disputeAgreement", false, ValueNone},
		{agreement.TypeSubscription, ActionActivate, "activateSubscription", true, ValueAmount},
		{agreement.TypeSubscription, ActionSettle, "completeSubscription", false, ValueNone},
		{agreement.TypeSubscription, ActionPayInstallment, "paySubscriptionFee", true, ValueAmount},
		{agreement.TypeSubscription, ActionTerminate, "cancelSubscription", false, ValueNone},
	}
	for _, tc := range cases {
		inv, err := a.Invoke(tc.typ, tc.action, id)
		if err != nil {
			t.Fatalf("%s/%s: %v", tc.typ, tc.action, err)
		}
		if inv.Method != tc.method || inv.Payable != tc.payable || inv.Value != tc.value {
			t.Errorf("%s/%s: got %s payable=%v value=%v", tc.typ, tc.action, inv.Method, inv.Payable, inv.Value)
		}
		c, _ := a.Contract(tc.typ)
		if !bytes.Equal(inv.Data[:4], c.ABI.Methods[tc.method].ID) {
			t.Errorf("%s/%s: selector mismatch", tc.typ, tc.action)
		}
		if inv.Contract != c.Address {
			t.Errorf("%s/%s: wrong contract %s", tc.typ, tc.action, inv.Contract.Hex())
		}
	}
}

func TestAdapter_Errors(t *testing.T) {
	a := newTestAdapter(t)

	if _, err := a.Invoke("Timeshare", ActionSettle, big.NewInt(1)); !errors.Is(err, agreement.ErrUnsupportedAgreementType) {
		t.Fatalf("expected unsupported type, got %v", err)
	}
	if _, err := a.Invoke(agreement.TypeSoftwareFreelancing, ActionPayInstallment, big.NewInt(1)); !errors.Is(err, agreement.ErrUnsupportedAction) {
		t.Fatalf("expected unsupported action, got %v", err)
	}
	if _, err := a.Invoke(agreement.TypeRental, ActionSettle, nil); !errors.Is(err, agreement.ErrInvalidAgreementTerms) {
		t.Fatalf("expected invalid terms for missing id, got %v", err)
	}

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := a.Create(agreement.TypeRental, CreateTerms{
		Counterparty: landlord, Amount: big.NewInt(10), Start: start, Deadline: start.Add(time.Hour),
	})
	if !errors.Is(err, agreement.ErrInvalidAgreementTerms) {
		t.Fatalf("expected missing deposit to fail, got %v", err)
	}
	_, err = a.Create(agreement.TypeSubscription, CreateTerms{Counterparty: landlord, Amount: big.NewInt(10), Start: start})
	if !errors.Is(err, agreement.ErrInvalidAgreementTerms) {
		t.Fatalf("expected missing interval to fail, got %v", err)
	}
	_, err = a.Create(agreement.TypeSoftwareFreelancing, CreateTerms{Amount: big.NewInt(10)})
	if !errors.Is(err, agreement.ErrInvalidAgreementTerms) {
		t.Fatalf("expected missing counterparty to fail, got %v", err)
	}
}

func TestAdapter_CreatePacksArguments(t *testing.T) {
	a := newTestAdapter(t)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(30 * 24 * time.Hour)

	inv, err := a.Create(agreement.TypeRental, CreateTerms{
		Counterparty: landlord,
		Amount:       big.NewInt(1e18),
		Deposit:      big.NewInt(5e17),
		Start:        start,
		Deadline:     end,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !inv.ReturnsID || inv.Method != "createAgreement" {
		t.Fatalf("unexpected invocation %+v", inv)
	}

	c, _ := a.Contract(agreement.TypeRental)
	args, err := c.ABI.Methods["createAgreement"].Inputs.Unpack(inv.Data[4:])
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if args[0].(common.Address) != landlord {
		t.Errorf("landlord = %v", args[0])
	}
	if args[2].(*big.Int).Cmp(big.NewInt(5e17)) != 0 {
		t.Errorf("deposit = %v", args[2])
	}
	if args[4].(*big.Int).Int64() != end.Unix() {
		t.Errorf("end = %v", args[4])
	}
}

func TestAdapter_DecodeIDAndCount(t *testing.T) {
	a := newTestAdapter(t)
	c, _ := a.Contract(agreement.TypeSubscription)

	out, _ := c.ABI.Methods["createSubscription"].Outputs.Pack(big.NewInt(12))
	id, err := a.DecodeID(agreement.TypeSubscription, out)
	if err != nil || id.Int64() != 12 {
		t.Fatalf("decode id: %v %v", id, err)
	}

	out, _ = c.ABI.Methods["subscriptionCount"].Outputs.Pack(big.NewInt(13))
	count, err := a.DecodeCount(agreement.TypeSubscription, out)
	if err != nil || count.Int64() != 13 {
		t.Fatalf("decode count: %v %v", count, err)
	}

	if _, err := a.DecodeID(agreement.TypeSubscription, nil); err == nil {
		t.Fatal("expected empty return data to fail")
	}
}

func TestAdapter_CreatedID(t *testing.T) {
	a := newTestAdapter(t)
	c, _ := a.Contract(agreement.TypeRental)
	ev := c.ABI.Events["AgreementCreated"]

	data, err := ev.Inputs.NonIndexed().Pack(big.NewInt(7), landlord, tenant, big.NewInt(1), big.NewInt(2), big.NewInt(3), big.NewInt(4))
	if err != nil {
		t.Fatalf("pack event: %v", err)
	}
	other := common.HexToAddress("0x00000000000000000000000000000000000000ff")
	logs := []*types.Log{
		{Address: other, Topics: []common.Hash{ev.ID}, Data: data},
		{Address: c.Address, Topics: []common.Hash{c.ABI.Events["RentPaid"].ID}},
		{Address: c.Address, Topics: []common.Hash{ev.ID}, Data: data},
	}

	id, err := a.CreatedID(agreement.TypeRental, logs)
	if err != nil {
		t.Fatalf("created id: %v", err)
	}
	if id.Int64() != 7 {
		t.Fatalf("expected 7, got %v", id)
	}

	if _, err := a.CreatedID(agreement.TypeRental, logs[:2]); !errors.Is(err, ErrNoCreationEvent) {
		t.Fatalf("expected ErrNoCreationEvent, got %v", err)
	}
}

func TestAdapter_DecodeTerms(t *testing.T) {
	a := newTestAdapter(t)
	c, _ := a.Contract(agreement.TypeRental)

	out, err := c.ABI.Methods["agreements"].Outputs.Pack(
		landlord, tenant, big.NewInt(100), big.NewInt(50), big.NewInt(1), big.NewInt(2), big.NewInt(0), OnChainActive,
	)
	if err != nil {
		t.Fatalf("pack terms: %v", err)
	}
	terms, err := a.DecodeTerms(agreement.TypeRental, out)
	if err != nil {
		t.Fatalf("decode terms: %v", err)
	}
	if terms.Payer != tenant || terms.Payee != landlord {
		t.Errorf("parties swapped: payer=%s payee=%s", terms.Payer.Hex(), terms.Payee.Hex())
	}
	if terms.Value(ValueDeposit).Int64() != 50 || terms.Value(ValueAmount).Int64() != 100 {
		t.Errorf("unexpected values %v %v", terms.Deposit, terms.Amount)
	}
	if terms.Status != OnChainActive {
		t.Errorf("status = %d", terms.Status)
	}
}

func TestPaymentURI(t *testing.T) {
	a := newTestAdapter(t)
	inv, _ := a.Invoke(agreement.TypeRental, ActionPayInstallment, big.NewInt(3))

	uri, err := PaymentURI(inv, big.NewInt(300), big.NewInt(3), big.NewInt(1e18))
	if err != nil {
		t.Fatalf("payment uri: %v", err)
	}
	want := "ethereum:" + inv.Contract.Hex() + "@300/payRent?uint256=3&value=1000000000000000000"
	if uri != want {
		t.Fatalf("got %s\nwant %s", uri, want)
	}

	settle, _ := a.Invoke(agreement.TypeRental, ActionSettle, big.NewInt(3))
	if _, err := PaymentURI(settle, big.NewInt(300), big.NewInt(3), big.NewInt(1)); err == nil || !strings.Contains(err.Error(), "not payable") {
		t.Fatalf("expected non-payable error, got %v", err)
	}
}
