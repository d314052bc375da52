package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DonationIntent is an off-chain pledge expected to be backed by a flow.
// Intents are never deleted; only the matcher flips Matched.
type DonationIntent struct {
	CreatedAt        time.Time
	MatchedAt        *time.Time
	ExpectedFlowRate decimal.Decimal
	ID               string
	Sender           string
	Receiver         string
	TransactionHash  string // optional association recorded before the flow is seen
	MatchedEventID   string
	Gated            bool // the round requires proof of NFT ownership
	Matched          bool
}

// IntentQuery selects intents sharing a stream's identifying parameters.
type IntentQuery struct {
	CreatedAtOrBefore *time.Time
	FlowRate          decimal.Decimal
	Sender            string
	Receiver          string
	TransactionHash   string
}
