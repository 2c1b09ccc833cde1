// Package chaintest simulates the three agreement contracts behind the same
// RPC surface the wallet uses, so lifecycle code can be driven end to end
// without a node.
package chaintest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"pactflow/agreement"
	"pactflow/chain"
)

// Faults switch off parts of the simulated chain.
type Faults struct {
	// HideCreateReturn makes eth_call of a create method return no data.
	HideCreateReturn bool
	// SuppressEvents drops all logs from receipts.
	SuppressEvents bool
	// BreakCount makes the count methods fail.
	BreakCount bool
	// HoldReceipts keeps receipts back until Release is called.
	HoldReceipts bool
	// SendErr is returned by SendTransaction without touching state.
	SendErr error
	// LoseResponse is returned by SendTransaction after the transaction has
	// been applied, like a connection dropped on the way back.
	LoseResponse error
}

// Tx records one mined transaction.
type Tx struct {
	Hash     common.Hash
	From     common.Address
	Contract common.Address
	Method   string
	Value    *big.Int
	Reverted bool
}

// Record is the simulated contract storage for one agreement.
type Record struct {
	Payer       common.Address
	Payee       common.Address
	Amount      *big.Int
	Deposit     *big.Int
	Start       *big.Int
	End         *big.Int
	Interval    *big.Int
	NextBilling *big.Int
	TotalPaid   *big.Int
	Status      uint8
	// Block is the block the record was created in.
	Block uint64
}

type contract struct {
	typ     agreement.Type
	abi     abi.ABI
	records []*Record
}

// Chain is an in-memory chain hosting the three agreement contracts.
type Chain struct {
	mu        sync.Mutex
	chainID   *big.Int
	now       func() time.Time
	contracts map[common.Address]*contract
	nonces    map[common.Address]uint64
	receipts  map[common.Hash]*types.Receipt
	held      map[common.Hash]*types.Receipt
	reverts   map[string]string
	txs       []Tx
	faults    Faults
	block     uint64
	at        *big.Int
}

// New deploys the adapter's contracts on a fresh chain.
func New(adapter *chain.Adapter, chainID int64) *Chain {
	c := &Chain{
		chainID:   big.NewInt(chainID),
		now:       time.Now,
		contracts: make(map[common.Address]*contract),
		nonces:    make(map[common.Address]uint64),
		receipts:  make(map[common.Hash]*types.Receipt),
		held:      make(map[common.Hash]*types.Receipt),
		reverts:   make(map[string]string),
	}
	for _, typ := range agreement.Types {
		desc, err := adapter.Contract(typ)
		if err != nil {
			panic(err)
		}
		c.contracts[desc.Address] = &contract{typ: typ, abi: desc.ABI}
	}
	return c
}

// SetClock overrides the block timestamp source.
func (c *Chain) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// SetFaults replaces the active fault set.
func (c *Chain) SetFaults(f Faults) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faults = f
}

// RevertOn makes every execution of method revert with reason. An empty reason clears it.
func (c *Chain) RevertOn(method, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if reason == "" {
		delete(c.reverts, method)
		return
	}
	c.reverts[method] = reason
}

// Release publishes every held receipt.
func (c *Chain) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for h, r := range c.held {
		c.receipts[h] = r
		delete(c.held, h)
	}
}

// Transactions returns mined transactions in order.
func (c *Chain) Transactions() []Tx {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Tx(nil), c.txs...)
}

// Record returns a copy of the stored agreement id on the contract for typ.
func (c *Chain) Record(typ agreement.Type, id int64) (Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ct := range c.contracts {
		if ct.typ == typ && id >= 0 && id < int64(len(ct.records)) {
			return *ct.records[id], true
		}
	}
	return Record{}, false
}

// Count returns the number of agreements created on the contract for typ.
func (c *Chain) Count(typ agreement.Type) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ct := range c.contracts {
		if ct.typ == typ {
			return len(ct.records)
		}
	}
	return 0
}

func (c *Chain) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).Set(c.chainID), nil
}

func (c *Chain) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (c *Chain) PendingNonceAt(_ context.Context, account common.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nonces[account], nil
}

// CallContract runs msg against the latest state. With blockNumber set, the
// count methods answer as of that block; other methods ignore it.
func (c *Chain) CallContract(_ context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if blockNumber != nil && blockNumber.Uint64() > c.block {
		return nil, &RPCError{Code: -32000, Message: "header not found"}
	}
	c.at = blockNumber
	defer func() { c.at = nil }()
	res, err := c.dryRun(msg.From, msg.To, msg.Value, msg.Data)
	if err != nil {
		return nil, err
	}
	if res.create && c.faults.HideCreateReturn {
		return nil, nil
	}
	return res.out, nil
}

func (c *Chain) EstimateGas(_ context.Context, msg ethereum.CallMsg) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.dryRun(msg.From, msg.To, msg.Value, msg.Data); err != nil {
		return 0, err
	}
	return 150_000, nil
}

func (c *Chain) SendTransaction(_ context.Context, tx *types.Transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.faults.SendErr != nil {
		return c.faults.SendErr
	}

	from, err := types.Sender(types.LatestSignerForChainID(c.chainID), tx)
	if err != nil {
		return &RPCError{Code: -32000, Message: "invalid sender: " + err.Error()}
	}
	if tx.Nonce() != c.nonces[from] {
		return &RPCError{Code: -32000, Message: fmt.Sprintf("nonce too low: have %d, want %d", tx.Nonce(), c.nonces[from])}
	}
	c.nonces[from]++
	c.block++

	receipt := &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      tx.Hash(),
		BlockNumber: new(big.Int).SetUint64(c.block),
		GasUsed:     21_000,
	}
	record := Tx{Hash: tx.Hash(), From: from, Value: tx.Value()}
	if tx.To() != nil {
		record.Contract = *tx.To()
	}

	res, err := c.execute(from, tx.To(), tx.Value(), tx.Data())
	if err != nil {
		receipt.Status = types.ReceiptStatusFailed
		record.Reverted = true
	} else {
		record.Method = res.method
		if !c.faults.SuppressEvents {
			receipt.Logs = res.logs
		}
	}
	if record.Method == "" {
		record.Method = c.methodName(tx.To(), tx.Data())
	}
	for _, lg := range receipt.Logs {
		lg.TxHash = receipt.TxHash
		lg.BlockNumber = c.block
	}
	c.txs = append(c.txs, record)

	if c.faults.HoldReceipts {
		c.held[tx.Hash()] = receipt
	} else {
		c.receipts[tx.Hash()] = receipt
	}
	return c.faults.LoseResponse
}

func (c *Chain) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

// RPCError is a JSON-RPC error response from the node.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string  { return e.Message }
func (e *RPCError) ErrorCode() int { return e.Code }

// RevertError mimics the JSON-RPC error returned for a reverted call.
type RevertError struct {
	Reason string
}

func (e *RevertError) Error() string {
	return "execution reverted: " + e.Reason
}

func (e *RevertError) ErrorCode() int { return 3 }

// ErrorData returns the ABI-encoded Error(string) payload like a node does.
func (e *RevertError) ErrorData() interface{} {
	return hexutil.Encode(encodeRevert(e.Reason))
}

func encodeRevert(reason string) []byte {
	str, _ := abi.NewType("string", "", nil)
	packed, err := abi.Arguments{{Type: str}}.Pack(reason)
	if err != nil {
		return nil
	}
	return append([]byte{0x08, 0xc3, 0x79, 0xa0}, packed...)
}

type result struct {
	method string
	create bool
	out    []byte
	logs   []*types.Log
}

func (c *Chain) methodName(to *common.Address, data []byte) string {
	if to == nil || len(data) < 4 {
		return ""
	}
	ct, ok := c.contracts[*to]
	if !ok {
		return ""
	}
	m, err := ct.abi.MethodById(data[:4])
	if err != nil {
		return ""
	}
	return m.Name
}

// dryRun executes against a snapshot and throws the writes away.
func (c *Chain) dryRun(from common.Address, to *common.Address, value *big.Int, data []byte) (result, error) {
	if to == nil {
		return result{}, errors.New("contract creation not supported")
	}
	ct, ok := c.contracts[*to]
	if !ok {
		return result{}, nil
	}
	saved := ct.records
	ct.records = cloneRecords(saved)
	defer func() { ct.records = saved }()
	return c.execute(from, to, value, data)
}

func cloneRecords(in []*Record) []*Record {
	out := make([]*Record, len(in))
	for i, r := range in {
		cp := *r
		cp.TotalPaid = new(big.Int).Set(r.TotalPaid)
		cp.NextBilling = new(big.Int).Set(r.NextBilling)
		out[i] = &cp
	}
	return out
}

func (c *Chain) execute(from common.Address, to *common.Address, value *big.Int, data []byte) (result, error) {
	if to == nil {
		return result{}, errors.New("contract creation not supported")
	}
	ct, ok := c.contracts[*to]
	if !ok {
		return result{}, nil
	}
	if len(data) < 4 {
		return result{}, &RevertError{Reason: "no method"}
	}
	method, err := ct.abi.MethodById(data[:4])
	if err != nil {
		return result{}, &RevertError{Reason: "unknown selector"}
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return result{}, &RevertError{Reason: "bad calldata"}
	}
	if reason, ok := c.reverts[method.Name]; ok && !method.IsConstant() {
		return result{}, &RevertError{Reason: reason}
	}
	if value == nil {
		value = new(big.Int)
	}
	if !method.IsPayable() && value.Sign() != 0 {
		return result{}, &RevertError{Reason: "non-payable"}
	}

	x := &execution{chain: c, ct: ct, addr: *to, from: from, value: value, method: method}
	res, err := x.run(args)
	if err != nil {
		return result{}, err
	}
	res.method = method.Name
	return res, nil
}

type execution struct {
	chain  *Chain
	ct     *contract
	addr   common.Address
	from   common.Address
	value  *big.Int
	method *abi.Method
}

func (x *execution) run(args []any) (result, error) {
	now := big.NewInt(x.chain.now().Unix())
	switch x.method.Name {
	case "agreementCount", "subscriptionCount":
		if x.chain.faults.BreakCount {
			return result{}, errors.New("count unavailable")
		}
		n := len(x.ct.records)
		if at := x.chain.at; at != nil {
			n = 0
			for _, r := range x.ct.records {
				if r.Block <= at.Uint64() {
					n++
				}
			}
		}
		return x.ret(big.NewInt(int64(n)))

	case "agreements", "subscriptions":
		r, err := x.record(args[0])
		if err != nil {
			return result{}, err
		}
		return x.ret(x.termsValues(r)...)

	case "createAgreement", "createSubscription":
		return x.create(args, now)
	}

	r, err := x.record(args[0])
	if err != nil {
		return result{}, err
	}
	id := args[0].(*big.Int)

	switch x.method.Name {
	case "fundAgreement", "activateAgreement", "activateSubscription":
		if x.from != r.Payer {
			return result{}, &RevertError{Reason: "only payer can activate"}
		}
		if r.Status != chain.OnChainCreated {
			return result{}, &RevertError{Reason: "not awaiting activation"}
		}
		want := r.Amount
		if x.ct.typ == agreement.TypeRental {
			want = r.Deposit
		}
		if x.value.Cmp(want) != 0 {
			return result{}, &RevertError{Reason: "incorrect value"}
		}
		r.Status = chain.OnChainActive
		if x.ct.typ == agreement.TypeSoftwareFreelancing {
			return x.emit("AgreementFunded", id)
		}
		return result{}, nil

	case "payRent", "paySubscriptionFee":
		if x.from != r.Payer {
			return result{}, &RevertError{Reason: "only payer can pay"}
		}
		if r.Status != chain.OnChainActive {
			return result{}, &RevertError{Reason: "not active"}
		}
		if x.value.Cmp(r.Amount) != 0 {
			return result{}, &RevertError{Reason: "incorrect value"}
		}
		r.TotalPaid = new(big.Int).Add(r.TotalPaid, x.value)
		if x.ct.typ == agreement.TypeRental {
			return x.emit("RentPaid", id, x.value, r.TotalPaid)
		}
		r.NextBilling = new(big.Int).Add(r.NextBilling, r.Interval)
		return x.emit("PaymentMade", id, x.value, r.TotalPaid)

	case "completeAgreement", "completeSubscription":
		if x.from != r.Payer && x.from != r.Payee {
			return result{}, &RevertError{Reason: "not a party"}
		}
		if r.Status != chain.OnChainActive {
			return result{}, &RevertError{Reason: "not active"}
		}
		r.Status = chain.OnChainCompleted
		if x.ct.typ == agreement.TypeSubscription {
			return x.emit("SubscriptionCompleted", id)
		}
		return x.emit("AgreementCompleted", id)

	case "disputeAgreement":
		if x.from != r.Payer && x.from != r.Payee {
			return result{}, &RevertError{Reason: "not a party"}
		}
		if r.Status != chain.OnChainActive {
			return result{}, &RevertError{Reason: "not active"}
		}
		r.Status = chain.OnChainDisputed
		return x.emit("AgreementDisputed", id)

	case "cancelSubscription":
		if x.from != r.Payer {
			return result{}, &RevertError{Reason: "only subscriber can cancel"}
		}
		if r.Status != chain.OnChainActive {
			return result{}, &RevertError{Reason: "not active"}
		}
		r.Status = chain.OnChainCancelled
		return x.emit("SubscriptionCancelled", id)
	}
	return result{}, &RevertError{Reason: "unsupported method " + x.method.Name}
}

func (x *execution) create(args []any, now *big.Int) (result, error) {
	id := big.NewInt(int64(len(x.ct.records)))
	r := &Record{Payer: x.from, TotalPaid: new(big.Int), NextBilling: new(big.Int), Deposit: new(big.Int), Interval: new(big.Int), Block: x.chain.block}
	r.Payee = args[0].(common.Address)
	r.Amount = args[1].(*big.Int)

	var event []any
	switch x.ct.typ {
	case agreement.TypeSoftwareFreelancing:
		r.Start = now
		r.End = args[2].(*big.Int)
		event = []any{id, r.Payer, r.Payee, r.Amount, r.Start, r.End}
	case agreement.TypeRental:
		r.Deposit = args[2].(*big.Int)
		r.Start = args[3].(*big.Int)
		r.End = args[4].(*big.Int)
		event = []any{id, r.Payee, r.Payer, r.Amount, r.Deposit, r.Start, r.End}
	case agreement.TypeSubscription:
		r.Interval = args[2].(*big.Int)
		r.Start = args[3].(*big.Int)
		r.NextBilling = new(big.Int).Set(r.Start)
		event = []any{id, r.Payee, r.Payer, r.Amount, r.Interval, r.Start}
	}
	if r.Payee == (common.Address{}) || r.Payee == r.Payer {
		return result{}, &RevertError{Reason: "invalid counterparty"}
	}
	if r.Amount.Sign() <= 0 {
		return result{}, &RevertError{Reason: "amount must be positive"}
	}
	x.ct.records = append(x.ct.records, r)

	name := "AgreementCreated"
	if x.ct.typ == agreement.TypeSubscription {
		name = "SubscriptionCreated"
	}
	logs, err := x.emit(name, event...)
	if err != nil {
		return result{}, err
	}
	out, err := x.ret(id)
	if err != nil {
		return result{}, err
	}
	out.logs = logs.logs
	out.create = true
	return out, nil
}

func (x *execution) termsValues(r *Record) []any {
	switch x.ct.typ {
	case agreement.TypeSoftwareFreelancing:
		return []any{r.Payee, r.Payer, r.Amount, r.Start, r.End, r.Status}
	case agreement.TypeRental:
		return []any{r.Payee, r.Payer, r.Amount, r.Deposit, r.Start, r.End, r.TotalPaid, r.Status}
	default:
		return []any{r.Payee, r.Payer, r.Amount, r.Interval, r.Start, r.NextBilling, r.TotalPaid, r.Status}
	}
}

func (x *execution) record(arg any) (*Record, error) {
	id, ok := arg.(*big.Int)
	if !ok || !id.IsInt64() || id.Sign() < 0 || id.Int64() >= int64(len(x.ct.records)) {
		return nil, &RevertError{Reason: "agreement does not exist"}
	}
	return x.ct.records[id.Int64()], nil
}

func (x *execution) ret(values ...any) (result, error) {
	out, err := x.method.Outputs.Pack(values...)
	if err != nil {
		return result{}, fmt.Errorf("pack %s outputs: %w", x.method.Name, err)
	}
	return result{out: out}, nil
}

func (x *execution) emit(name string, values ...any) (result, error) {
	ev, ok := x.ct.abi.Events[name]
	if !ok {
		return result{}, fmt.Errorf("event %s not in ABI", name)
	}
	data, err := ev.Inputs.NonIndexed().Pack(values...)
	if err != nil {
		return result{}, fmt.Errorf("pack %s: %w", name, err)
	}
	return result{logs: []*types.Log{{Address: x.addr, Topics: []common.Hash{ev.ID}, Data: data}}}, nil
}
