package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// RawFlowEvent is a FlowUpdatedEvent as pushed by the indexing provider.
// Numeric and temporal values stay strings so nothing is lost before validation.
type RawFlowEvent struct {
	ID              string `json:"id"`
	FlowOperator    string `json:"flowOperator"`
	FlowRate        string `json:"flowRate"`
	TransactionHash string `json:"transactionHash"`
	Receiver        string `json:"receiver"`
	Sender          string `json:"sender"`
	Token           string `json:"token"`
	Timestamp       string `json:"timestamp"`
}

// EventState is the reconciliation state of a stored flow event.
type EventState string

// Reconciliation states. Finalized is terminal; unmatched is revisited by the sweep.
const (
	StateIngested  EventState = "ingested"
	StateMatched   EventState = "matched"
	StateUnmatched EventState = "unmatched"
	StateValuated  EventState = "valuated"
	StateFinalized EventState = "finalized"
)

var transitions = map[EventState][]EventState{
	StateIngested:  {StateMatched, StateUnmatched},
	StateUnmatched: {StateMatched, StateUnmatched},
	StateMatched:   {StateValuated},
	StateValuated:  {StateFinalized},
}

// CanTransition reports whether the state machine allows moving from s to next.
func (s EventState) CanTransition(next EventState) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further reconciliation happens from s.
func (s EventState) IsTerminal() bool {
	return s == StateFinalized
}

// Valid reports whether s is a known state.
func (s EventState) Valid() bool {
	switch s {
	case StateIngested, StateMatched, StateUnmatched, StateValuated, StateFinalized:
		return true
	}
	return false
}

// PendingStates are the states the reconciliation sweep revisits.
func PendingStates() []EventState {
	return []EventState{StateIngested, StateUnmatched, StateMatched, StateValuated}
}

// Confidence describes how an event was attributed to an intent.
type Confidence string

// Match confidence levels.
const (
	ConfidenceExact Confidence = "EXACT"
	ConfidenceFuzzy Confidence = "FUZZY"
	ConfidenceNone  Confidence = "NONE"
)

// FlowEvent is a validated, normalized provider event together with its
// reconciliation progress. The provider fields never change once stored.
type FlowEvent struct {
	Timestamp       time.Time
	IngestedAt      time.Time
	UpdatedAt       time.Time
	PriceSampleAt   *time.Time
	ValuationUSD    *decimal.Decimal // USD per second attributed to the stream
	FlowRate        decimal.Decimal
	ID              string
	FlowOperator    string
	TransactionHash string
	Receiver        string
	Sender          string
	Token           string
	IntentID        string
	LastError       string
	State           EventState
	Confidence      Confidence
	Attempts        int
}

// SameFlow reports whether two events carry identical provider payloads.
func (e *FlowEvent) SameFlow(other *FlowEvent) bool {
	return e.ID == other.ID &&
		e.FlowOperator == other.FlowOperator &&
		e.FlowRate.Equal(other.FlowRate) &&
		e.TransactionHash == other.TransactionHash &&
		e.Receiver == other.Receiver &&
		e.Sender == other.Sender &&
		e.Token == other.Token &&
		e.Timestamp.Equal(other.Timestamp)
}
