package api

import "github.com/GeneralMagicio/QAcc-BE-sub001/internal/model"

type eventView struct {
	ValuationUSD    *string `json:"valuationUsdPerSecond,omitempty"`
	PriceSampleAt   *int64  `json:"priceSampleAt,omitempty"`
	ID              string  `json:"id"`
	FlowOperator    string  `json:"flowOperator"`
	FlowRate        string  `json:"flowRate"`
	TransactionHash string  `json:"transactionHash"`
	Receiver        string  `json:"receiver"`
	Sender          string  `json:"sender"`
	Token           string  `json:"token"`
	State           string  `json:"state"`
	Confidence      string  `json:"confidence"`
	IntentID        string  `json:"intentId,omitempty"`
	LastError       string  `json:"lastError,omitempty"`
	Timestamp       int64   `json:"timestamp"`
	IngestedAt      int64   `json:"ingestedAt"`
	UpdatedAt       int64   `json:"updatedAt"`
	Attempts        int     `json:"attempts"`
}

func newEventView(event *model.FlowEvent) eventView {
	view := eventView{
		ID:              event.ID,
		FlowOperator:    event.FlowOperator,
		FlowRate:        event.FlowRate.String(),
		TransactionHash: event.TransactionHash,
		Receiver:        event.Receiver,
		Sender:          event.Sender,
		Token:           event.Token,
		State:           string(event.State),
		Confidence:      string(event.Confidence),
		IntentID:        event.IntentID,
		LastError:       event.LastError,
		Timestamp:       event.Timestamp.Unix(),
		IngestedAt:      event.IngestedAt.Unix(),
		UpdatedAt:       event.UpdatedAt.Unix(),
		Attempts:        event.Attempts,
	}
	if event.ValuationUSD != nil {
		usd := event.ValuationUSD.String()
		view.ValuationUSD = &usd
	}
	if event.PriceSampleAt != nil {
		at := event.PriceSampleAt.Unix()
		view.PriceSampleAt = &at
	}
	return view
}
