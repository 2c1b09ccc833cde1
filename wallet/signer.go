package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
)

// TxRequest is a state-changing contract call. OnSigned, when set, runs
// with the transaction hash after signing and before the transaction leaves
// the process; an error aborts the send.
type TxRequest struct {
	To       common.Address
	Data     []byte
	Value    *big.Int
	Method   string
	OnSigned func(common.Hash) error
}

// Caller performs read-only contract calls.
type Caller interface {
	Call(ctx context.Context, to common.Address, data []byte, value *big.Int) ([]byte, error)
}

// Signer signs and submits transactions for one resolved address.
type Signer struct {
	backend Backend
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
	sendMu  *sync.Mutex
	cfg     Config
	log     logrus.FieldLogger
}

// Address is the address the signer controls.
func (s *Signer) Address() common.Address { return s.address }

// ChainID is the chain the signer signs for.
func (s *Signer) ChainID() *big.Int { return new(big.Int).Set(s.chainID) }

// Call runs a read-only call from the signer's address.
func (s *Signer) Call(ctx context.Context, to common.Address, data []byte, value *big.Int) ([]byte, error) {
	return call(ctx, s.backend, s.address, to, data, value)
}

// Send estimates, signs and broadcasts req, returning the transaction hash.
// When the node may have received the transaction but the send still failed,
// the hash is returned with a StageBroadcast error.
func (s *Signer) Send(ctx context.Context, req TxRequest) (common.Hash, error) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	msg := ethereum.CallMsg{From: s.address, To: &req.To, Value: req.Value, Data: req.Data}
	gas, err := s.backend.EstimateGas(ctx, msg)
	if err != nil {
		return common.Hash{}, &ChainCallError{Stage: StageEstimate, Method: req.Method, Reason: RevertReason(err), Err: err}
	}
	nonce, err := s.backend.PendingNonceAt(ctx, s.address)
	if err != nil {
		return common.Hash{}, &ChainCallError{Stage: StageSubmit, Method: req.Method, Err: err}
	}
	gasPrice, err := s.backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, &ChainCallError{Stage: StageSubmit, Method: req.Method, Err: err}
	}

	value := req.Value
	if value == nil {
		value = new(big.Int)
	}
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas + gas/5,
		To:       &req.To,
		Value:    value,
		Data:     req.Data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.key)
	if err != nil {
		return common.Hash{}, &ChainCallError{Stage: StageSubmit, Method: req.Method, Err: err}
	}
	if req.OnSigned != nil {
		if err := req.OnSigned(signed.Hash()); err != nil {
			return common.Hash{}, &ChainCallError{Stage: StageSubmit, Method: req.Method, Err: err}
		}
	}
	if err := s.backend.SendTransaction(ctx, signed); err != nil {
		if rejected(err) {
			return common.Hash{}, &ChainCallError{Stage: StageSubmit, Method: req.Method, Reason: RevertReason(err), Err: err}
		}
		return signed.Hash(), &ChainCallError{Stage: StageBroadcast, Method: req.Method, Err: err}
	}

	s.log.WithFields(logrus.Fields{
		"method": req.Method,
		"tx":     signed.Hash().Hex(),
		"nonce":  nonce,
	}).Debug("transaction broadcast")
	return signed.Hash(), nil
}

// Wait polls until hash is mined. A reverted receipt is reported as a
// StageExecution error together with the receipt.
func (s *Signer) Wait(ctx context.Context, hash common.Hash, method string) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.WaitTimeout)
	defer cancel()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		receipt, err := s.backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			if receipt.Status != types.ReceiptStatusSuccessful {
				return receipt, &ChainCallError{Stage: StageExecution, Method: method, Reason: "transaction reverted"}
			}
			return receipt, nil
		case errors.Is(err, ethereum.NotFound):
		default:
			return nil, &ChainCallError{Stage: StageWait, Method: method, Err: err}
		}

		select {
		case <-ctx.Done():
			return nil, &ChainCallError{Stage: StageWait, Method: method, Err: ctx.Err()}
		case <-ticker.C:
		}
	}
}

// Submit is Send followed by Wait. Set req.OnSigned to learn the hash before
// an error can hide it.
func (s *Signer) Submit(ctx context.Context, req TxRequest) (*types.Receipt, error) {
	hash, err := s.Send(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.Wait(ctx, hash, req.Method)
}

// Reader serves read-only calls and receipt lookups without a session.
type Reader struct {
	backend Backend
}

// ReadOnly wraps backend for background work that never signs.
func ReadOnly(backend Backend) *Reader {
	return &Reader{backend: backend}
}

// Call runs a read-only call from the zero address.
func (r *Reader) Call(ctx context.Context, to common.Address, data []byte, value *big.Int) ([]byte, error) {
	return call(ctx, r.backend, common.Address{}, to, data, value)
}

// CallAt runs a read-only call against the state at block.
func (r *Reader) CallAt(ctx context.Context, to common.Address, data []byte, block *big.Int) ([]byte, error) {
	out, err := r.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, block)
	if err != nil {
		return nil, &ChainCallError{Stage: StageCall, Reason: RevertReason(err), Err: err}
	}
	return out, nil
}

// ChainID reports the id of the connected chain.
func (r *Reader) ChainID(ctx context.Context) (*big.Int, error) {
	id, err := r.backend.ChainID(ctx)
	if err != nil {
		return nil, &ChainCallError{Stage: StageCall, Method: "eth_chainId", Err: err}
	}
	return id, nil
}

// Receipt returns the receipt for hash, or ethereum.NotFound while it is unmined.
func (r *Reader) Receipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	receipt, err := r.backend.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, err
		}
		return nil, &ChainCallError{Stage: StageWait, Method: "eth_getTransactionReceipt", Err: err}
	}
	return receipt, nil
}

func call(ctx context.Context, backend Backend, from, to common.Address, data []byte, value *big.Int) ([]byte, error) {
	out, err := backend.CallContract(ctx, ethereum.CallMsg{From: from, To: &to, Value: value, Data: data}, nil)
	if err != nil {
		return nil, &ChainCallError{Stage: StageCall, Reason: RevertReason(err), Err: err}
	}
	return out, nil
}
