package chain

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/core/types"

	"pactflow/agreement"
)

// ErrNoCreationEvent is returned when a receipt carries no creation event from the contract.
var ErrNoCreationEvent = errors.New("chain: creation event not found in logs")

// CreatedID scans logs for the type's creation event emitted by its contract
// and returns the id field of the first match.
func (a *Adapter) CreatedID(t agreement.Type, logs []*types.Log) (*big.Int, error) {
	c, err := a.Contract(t)
	if err != nil {
		return nil, err
	}
	event := c.ABI.Events[c.CreatedEvent]

	for _, lg := range logs {
		if lg == nil || lg.Address != c.Address || len(lg.Topics) == 0 || lg.Topics[0] != event.ID {
			continue
		}
		fields, err := decodeEvent(c.ABI, event, lg)
		if err != nil {
			return nil, fmt.Errorf("chain: decode %s: %w", c.CreatedEvent, err)
		}
		id, ok := fields[c.IDField].(*big.Int)
		if !ok {
			return nil, fmt.Errorf("chain: %s.%s has type %T", c.CreatedEvent, c.IDField, fields[c.IDField])
		}
		return id, nil
	}
	return nil, ErrNoCreationEvent
}

func decodeEvent(contract abi.ABI, event abi.Event, lg *types.Log) (map[string]any, error) {
	fields := make(map[string]any)
	if len(lg.Data) > 0 {
		if err := contract.UnpackIntoMap(fields, event.Name, lg.Data); err != nil {
			return nil, err
		}
	}

	var indexed abi.Arguments
	for _, arg := range event.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if len(indexed) > 0 {
		if err := abi.ParseTopicsIntoMap(fields, indexed, lg.Topics[1:]); err != nil {
			return nil, err
		}
	}
	return fields, nil
}
