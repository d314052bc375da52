package eligibility

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/common"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/model"
)

// LaunchDataAdapter is the external source of launch data and NFT ownership.
type LaunchDataAdapter interface {
	// GetProjectAbcLaunchData returns nil, nil when the project has no launch data.
	GetProjectAbcLaunchData(ctx context.Context, projectAddress string) (*model.AbcLaunchData, error)
	OwnsNFT(ctx context.Context, nftContractAddress, userAddress string) (bool, error)
}

// HTTPAdapter reads launch data from a JSON HTTP service.
//
//	GET {base}/projects/{address}/abc-launch      200 launch data, 404 absent
//	GET {base}/nfts/{contract}/owners/{address}   200 {"owns": bool}
type HTTPAdapter struct {
	client  *http.Client
	baseURL string
}

// NewHTTPAdapter creates an adapter whose calls are bounded by timeout.
func NewHTTPAdapter(baseURL string, timeout time.Duration) (*HTTPAdapter, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("%w: launch adapter base URL", common.ErrMissingConfig)
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("%w: launch adapter base URL: %w", common.ErrInvalidConfig, err)
	}
	return &HTTPAdapter{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

// launchData is the adapter's wire form; dates travel as ISO-8601 strings.
type launchData struct {
	Vesting *struct {
		Name  string    `json:"name"`
		Start time.Time `json:"start"`
		Cliff time.Time `json:"cliff"`
		End   time.Time `json:"end"`
	} `json:"vesting"`
	ProjectAddress        string `json:"projectAddress"`
	IssuanceTokenAddress  string `json:"issuanceTokenAddress"`
	FundingManagerAddress string `json:"fundingManagerAddress"`
	TokenTicker           string `json:"tokenTicker"`
	NFTContractAddress    string `json:"nftContractAddress"`
}

// GetProjectAbcLaunchData implements LaunchDataAdapter.
func (a *HTTPAdapter) GetProjectAbcLaunchData(ctx context.Context, projectAddress string) (*model.AbcLaunchData, error) {
	var wire launchData
	found, err := a.getJSON(ctx, "/projects/"+url.PathEscape(projectAddress)+"/abc-launch", &wire)
	if err != nil || !found {
		return nil, err
	}

	data := &model.AbcLaunchData{
		ProjectAddress:        model.NormalizeAddress(wire.ProjectAddress),
		IssuanceTokenAddress:  model.NormalizeAddress(wire.IssuanceTokenAddress),
		FundingManagerAddress: model.NormalizeAddress(wire.FundingManagerAddress),
		TokenTicker:           wire.TokenTicker,
		NFTContractAddress:    model.NormalizeAddress(wire.NFTContractAddress),
	}
	if wire.Vesting != nil {
		data.Vesting = &model.VestingSchedule{
			Name:  wire.Vesting.Name,
			Start: wire.Vesting.Start.UTC(),
			Cliff: wire.Vesting.Cliff.UTC(),
			End:   wire.Vesting.End.UTC(),
		}
	}
	return data, nil
}

// OwnsNFT implements LaunchDataAdapter.
func (a *HTTPAdapter) OwnsNFT(ctx context.Context, nftContractAddress, userAddress string) (bool, error) {
	var body struct {
		Owns bool `json:"owns"`
	}
	found, err := a.getJSON(ctx, "/nfts/"+url.PathEscape(nftContractAddress)+"/owners/"+url.PathEscape(userAddress), &body)
	if err != nil {
		return false, err
	}
	return found && body.Owns, nil
}

func (a *HTTPAdapter) getJSON(ctx context.Context, path string, out any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+path, nil)
	if err != nil {
		return false, fmt.Errorf("failed to build launch adapter request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: launch adapter: %w", common.ErrUpstreamUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode != http.StatusOK:
		return false, fmt.Errorf("%w: launch adapter returned %s", common.ErrUpstreamUnavailable, resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("%w: launch adapter sent invalid JSON: %w", common.ErrUpstreamUnavailable, err)
	}
	return true, nil
}
