package wallet

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"

	"pactflow/agreement"
)

var (
	// ErrSessionExpired means no live signer exists and the session cannot reconnect.
	ErrSessionExpired = errors.New("wallet: session expired")
	// ErrAddressMismatch is returned under the reject policy when the live key
	// does not control the address the session was issued for.
	ErrAddressMismatch = fmt.Errorf("%w: wallet address mismatch", agreement.ErrUnauthorized)
)

// Stage identifies where a chain round trip failed.
type Stage string

const (
	StageCall      Stage = "call"
	StageEstimate  Stage = "estimate"
	StageSubmit    Stage = "submit"
	StageBroadcast Stage = "broadcast"
	StageWait      Stage = "wait"
	StageExecution Stage = "execution"
)

// ChainCallError wraps a failed chain interaction with its stage and, when the
// node reported one, the revert reason.
type ChainCallError struct {
	Stage  Stage
	Method string
	Reason string
	Err    error
}

func (e *ChainCallError) Error() string {
	msg := fmt.Sprintf("wallet: %s %s failed", e.Stage, e.Method)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ChainCallError) Unwrap() error { return e.Err }

// Broadcast reports whether the transaction may already be on chain, in which
// case its outcome is still unknown.
func (e *ChainCallError) Broadcast() bool {
	return e.Stage == StageBroadcast || e.Stage == StageWait
}

// rejected reports whether the node answered a send with a JSON-RPC error,
// meaning the transaction was not accepted. Transport failures and
// cancellations leave the outcome open.
func rejected(err error) bool {
	var re rpc.Error
	return errors.As(err, &re)
}

// RevertReason extracts the Error(string) payload of a reverted call, falling
// back to the node's message.
func RevertReason(err error) string {
	if err == nil {
		return ""
	}
	var de rpc.DataError
	if errors.As(err, &de) {
		if hex, ok := de.ErrorData().(string); ok {
			if reason, uerr := abi.UnpackRevert(common.FromHex(hex)); uerr == nil {
				return reason
			}
		}
	}
	msg := err.Error()
	if i := strings.Index(msg, "execution reverted"); i >= 0 {
		return strings.TrimPrefix(strings.TrimPrefix(msg[i:], "execution reverted"), ": ")
	}
	return ""
}
