package wallet

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/ethclient"
)

// Dial connects to a JSON-RPC endpoint.
func Dial(ctx context.Context, rawURL string) (*ethclient.Client, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("wallet: rpc url is empty")
	}
	client, err := ethclient.DialContext(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("wallet: dial %s: %w", rawURL, err)
	}
	return client, nil
}
