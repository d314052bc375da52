package eligibility

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/common"
)

func TestHTTPAdapter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/projects/" + project + "/abc-launch":
			_, _ = w.Write([]byte(`{
				"projectAddress": "0x00000000000000000000000000000000000000AA",
				"issuanceTokenAddress": "0x00000000000000000000000000000000000000dd",
				"tokenTicker": "ABC",
				"nftContractAddress": "0x00000000000000000000000000000000000000CC",
				"vesting": {"name": "s1", "start": "2024-01-01T00:00:00Z", "cliff": "2024-06-01T00:00:00Z", "end": "2025-01-01T00:00:00Z"}
			}`))
		case "/nfts/" + nft + "/owners/" + holder:
			_, _ = w.Write([]byte(`{"owns": true}`))
		case "/projects/broken/abc-launch":
			w.WriteHeader(http.StatusBadGateway)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	adapter, err := NewHTTPAdapter(server.URL+"/", time.Second)
	require.NoError(t, err)
	ctx := context.Background()

	data, err := adapter.GetProjectAbcLaunchData(ctx, project)
	require.NoError(t, err)
	require.NotNil(t, data)
	assert.Equal(t, project, data.ProjectAddress)
	assert.True(t, data.Gated())
	require.NotNil(t, data.Vesting)
	assert.NoError(t, data.Vesting.Validate())

	absent, err := adapter.GetProjectAbcLaunchData(ctx, "0xunknown")
	require.NoError(t, err)
	assert.Nil(t, absent)

	_, err = adapter.GetProjectAbcLaunchData(ctx, "broken")
	assert.ErrorIs(t, err, common.ErrUpstreamUnavailable)

	owns, err := adapter.OwnsNFT(ctx, nft, holder)
	require.NoError(t, err)
	assert.True(t, owns)

	owns, err = adapter.OwnsNFT(ctx, nft, project)
	require.NoError(t, err)
	assert.False(t, owns)
}

func TestNewHTTPAdapter_RequiresBaseURL(t *testing.T) {
	_, err := NewHTTPAdapter("", time.Second)
	assert.ErrorIs(t, err, common.ErrMissingConfig)
}
