package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
)

// Backend is the subset of the JSON-RPC client the wallet needs.
// *ethclient.Client satisfies it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// MismatchPolicy decides what happens when the live key does not control the
// address recorded in the session.
type MismatchPolicy string

const (
	// PolicyAdopt logs the mismatch and continues with the live address.
	PolicyAdopt MismatchPolicy = "adopt"
	// PolicyReject refuses to sign.
	PolicyReject MismatchPolicy = "reject"
)

// ParseMismatchPolicy maps a config value onto a policy, defaulting to adopt.
func ParseMismatchPolicy(s string) (MismatchPolicy, error) {
	switch MismatchPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyAdopt:
		return PolicyAdopt, nil
	case PolicyReject:
		return PolicyReject, nil
	default:
		return "", fmt.Errorf("wallet: unknown mismatch policy %q", s)
	}
}

// Config tunes a Provider.
type Config struct {
	Policy       MismatchPolicy
	PollInterval time.Duration
	WaitTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Policy == "" {
		c.Policy = PolicyAdopt
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = 2 * time.Minute
	}
	return c
}

// Provider hands out signers for sessions. Live keys are cached per verifier
// together with the token they were connected with.
type Provider struct {
	backend Backend
	keys    KeySource
	cfg     Config
	log     logrus.FieldLogger

	mu      sync.Mutex
	live    map[string]cachedKey
	locks   map[common.Address]*sync.Mutex
	chainID *big.Int
}

// NewProvider builds a Provider over backend.
func NewProvider(backend Backend, keys KeySource, cfg Config, log logrus.FieldLogger) *Provider {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Provider{
		backend: backend,
		keys:    keys,
		cfg:     cfg.withDefaults(),
		log:     log.WithField("component", "wallet"),
		live:    make(map[string]cachedKey),
		locks:   make(map[common.Address]*sync.Mutex),
	}
}

// Resolve returns a signer for sess. Without a live key it reconnects once
// through the KeySource; under PolicyAdopt a mismatched session address is
// overwritten with the live one.
func (p *Provider) Resolve(ctx context.Context, sess *Session) (*Signer, error) {
	if sess == nil {
		return nil, ErrSessionExpired
	}

	key, err := p.liveKey(ctx, sess)
	if err != nil {
		return nil, err
	}
	address := crypto.PubkeyToAddress(key.PublicKey)

	if sess.WalletAddress != "" && !strings.EqualFold(sess.WalletAddress, address.Hex()) {
		entry := p.log.WithFields(logrus.Fields{
			"user_id":         sess.UserID,
			"session_address": sess.WalletAddress,
			"live_address":    address.Hex(),
			"policy":          p.cfg.Policy,
		})
		if p.cfg.Policy == PolicyReject {
			entry.Warn("wallet address mismatch, refusing to sign")
			return nil, ErrAddressMismatch
		}
		entry.Warn("wallet address mismatch, adopting live address")
	}
	sess.WalletAddress = address.Hex()

	chainID, err := p.chain(ctx)
	if err != nil {
		return nil, err
	}
	return &Signer{
		backend: p.backend,
		key:     key,
		address: address,
		chainID: chainID,
		sendMu:  p.lockFor(address),
		cfg:     p.cfg,
		log:     p.log.WithField("address", address.Hex()),
	}, nil
}

type cachedKey struct {
	key   *ecdsa.PrivateKey
	token string
}

// liveKey returns the cached key when the session presents the token it was
// connected with, or no token at all. A different token reconnects; if that
// fails the cached key is dropped as well.
func (p *Provider) liveKey(ctx context.Context, sess *Session) (*ecdsa.PrivateKey, error) {
	p.mu.Lock()
	cached, ok := p.live[sess.VerifierID]
	p.mu.Unlock()
	if ok && sess.VerifierID != "" && (sess.IDToken == "" || sess.IDToken == cached.token) {
		return cached.key, nil
	}
	if !sess.Reconnectable() || p.keys == nil {
		return nil, ErrSessionExpired
	}

	key, err := p.keys.Connect(ctx, sess.VerifierID, sess.IDToken)
	if err != nil {
		if ok {
			p.forget(sess.VerifierID)
		}
		p.log.WithError(err).WithField("user_id", sess.UserID).Warn("wallet reconnect failed")
		return nil, fmt.Errorf("%w: reconnect: %v", ErrSessionExpired, err)
	}
	p.mu.Lock()
	p.live[sess.VerifierID] = cachedKey{key: key, token: sess.IDToken}
	p.mu.Unlock()
	p.log.WithField("user_id", sess.UserID).Info("wallet reconnected")
	return key, nil
}

func (p *Provider) forget(verifierID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.live, verifierID)
}

func (p *Provider) chain(ctx context.Context) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.chainID != nil {
		return p.chainID, nil
	}
	id, err := p.backend.ChainID(ctx)
	if err != nil {
		return nil, &ChainCallError{Stage: StageCall, Method: "eth_chainId", Err: err}
	}
	p.chainID = id
	return id, nil
}

func (p *Provider) lockFor(address common.Address) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	mu, ok := p.locks[address]
	if !ok {
		mu = &sync.Mutex{}
		p.locks[address] = mu
	}
	return mu
}
