package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TokenHolder is reference data about a known holder address.
type TokenHolder struct {
	ProjectName string
	Address     string
	Tag         string
}

// VestingSchedule describes a token release window.
type VestingSchedule struct {
	Start time.Time
	Cliff time.Time
	End   time.Time
	Name  string
}

// Validate enforces start <= cliff <= end.
func (v VestingSchedule) Validate() error {
	if v.Name == "" {
		return &ValidationError{Field: "name", Reason: "required"}
	}
	if v.Start.IsZero() || v.Cliff.IsZero() || v.End.IsZero() {
		return &ValidationError{Field: "start/cliff/end", Reason: "required"}
	}
	if v.Cliff.Before(v.Start) {
		return &ValidationError{Field: "cliff", Reason: fmt.Sprintf("cliff %s precedes start %s", v.Cliff.Format(time.RFC3339), v.Start.Format(time.RFC3339))}
	}
	if v.End.Before(v.Cliff) {
		return &ValidationError{Field: "end", Reason: fmt.Sprintf("end %s precedes cliff %s", v.End.Format(time.RFC3339), v.Cliff.Format(time.RFC3339))}
	}
	return nil
}

// AbcLaunchData is the bonding-curve launch metadata for a project's token.
type AbcLaunchData struct {
	Vesting               *VestingSchedule `json:"vesting,omitempty"`
	ProjectAddress        string           `json:"projectAddress"`
	IssuanceTokenAddress  string           `json:"issuanceTokenAddress"`
	FundingManagerAddress string           `json:"fundingManagerAddress"`
	TokenTicker           string           `json:"tokenTicker"`
	NFTContractAddress    string           `json:"nftContractAddress,omitempty"`
}

// Gated reports whether participation requires holding the program NFT.
func (d *AbcLaunchData) Gated() bool {
	return d != nil && d.NFTContractAddress != ""
}

// TokenBalance is a provider snapshot of an account's balance in one token.
type TokenBalance struct {
	UpdatedAt        time.Time
	Balance          decimal.Decimal
	TotalNetFlowRate decimal.Decimal
	Account          string
	Token            string
}
