package chain

import (
	"fmt"
	"math/big"
	"net/url"
)

// PaymentURI renders an EIP-681 request for a value-bearing invocation so a
// mobile wallet can sign it directly.
func PaymentURI(inv Invocation, chainID, id, value *big.Int) (string, error) {
	if !inv.Payable {
		return "", fmt.Errorf("chain: %s is not payable", inv.Method)
	}
	if value == nil || value.Sign() <= 0 {
		return "", fmt.Errorf("chain: %s needs a positive value", inv.Method)
	}
	q := url.Values{}
	q.Set("uint256", id.String())
	q.Set("value", value.String())
	return fmt.Sprintf("ethereum:%s@%s/%s?%s", inv.Contract.Hex(), chainID.String(), inv.Method, q.Encode()), nil
}
