package party

import "time"

// Profile is a party that can be named as a counterparty on an agreement.
type Profile struct {
	ID            string
	Email         string
	Name          string
	WalletAddress string
	CreatedAt     time.Time
}
