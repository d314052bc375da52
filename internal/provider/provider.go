// Package provider talks to the flow indexing provider: the subgraph that
// records stream updates and account balances.
package provider

import (
	"context"
	"time"

	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/model"
)

// FlowQuery identifies a stream by its parties and rate.
type FlowQuery struct {
	Receiver        string
	Sender          string
	FlowRate        string
	TransactionHash string
}

// FlowProvider is the consumed provider surface. Lookups return nil, nil
// when no event matches.
type FlowProvider interface {
	GetFlowByTxHash(ctx context.Context, q FlowQuery) (*model.RawFlowEvent, error)
	GetFlowByReceiverSenderFlowRate(ctx context.Context, q FlowQuery, timestampGT time.Time) (*model.RawFlowEvent, error)
	AccountBalance(ctx context.Context, accountID string) ([]model.TokenBalance, error)
}
