package pricing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/common"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/model"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/testutil"
)

func TestHTTPSource_CurrentPrice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tokens/"+testutil.Token+"/price", r.URL.Path)
		_, _ = w.Write([]byte(`{"token":"ABC","price":"0.5","priceUSD":"1.25","timestamp":1000}`))
	}))
	defer server.Close()

	source, err := NewHTTPSource(server.URL+"/", time.Second)
	require.NoError(t, err)

	sample, err := source.CurrentPrice(context.Background(), testutil.Token)
	require.NoError(t, err)
	assert.Equal(t, "ABC", sample.Token)
	require.NotNil(t, sample.PriceUSD)
	assert.True(t, sample.PriceUSD.Equal(decimal.RequireFromString("1.25")))
	assert.Nil(t, sample.MarketCap)
	assert.Equal(t, int64(1000), sample.Timestamp.Unix())
}

func TestHTTPSource_Errors(t *testing.T) {
	_, err := NewHTTPSource("", time.Second)
	assert.ErrorIs(t, err, common.ErrMissingConfig)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	source, err := NewHTTPSource(server.URL, time.Second)
	require.NoError(t, err)
	_, err = source.CurrentPrice(context.Background(), testutil.Token)
	assert.ErrorIs(t, err, common.ErrUpstreamUnavailable)
}

type stubSource struct {
	prices map[string]*model.PriceSample
}

func (s *stubSource) CurrentPrice(_ context.Context, token string) (*model.PriceSample, error) {
	sample, ok := s.prices[token]
	if !ok {
		return nil, errors.New("unknown token")
	}
	copied := *sample
	return &copied, nil
}

func TestPoller_PollOnce(t *testing.T) {
	svc, _ := newTestService(t, time.Hour)
	usd := decimal.RequireFromString("1.5")
	source := &stubSource{prices: map[string]*model.PriceSample{
		testutil.Token: {Token: "ABC", TokenAddress: testutil.Token, Price: usd, PriceUSD: &usd, Timestamp: time.Unix(1000, 0)},
	}}

	poller := NewPoller(source, svc, []string{testutil.Token, "0x4444444444444444444444444444444444444444"}, time.Minute)

	assert.Equal(t, 1, poller.PollOnce(context.Background()), "unknown token is skipped")
	assert.Equal(t, 0, poller.PollOnce(context.Background()), "same sample is not stored twice")

	v, err := svc.Valuate(context.Background(), testutil.Token, time.Unix(1001, 0))
	require.NoError(t, err)
	assert.True(t, v.PriceUSD.Equal(usd))
}

func TestPoller_RunStopsOnCancel(t *testing.T) {
	svc, _ := newTestService(t, time.Hour)
	poller := NewPoller(&stubSource{}, svc, nil, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- poller.Run(ctx) }()

	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}
