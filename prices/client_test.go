package prices

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"metals_scanner/fetch"
	"metals_scanner/models"
	"metals_scanner/pricecache"
)

type fakeRequester struct {
	body      string
	err       error
	gotParams map[string]string
}

func (f *fakeRequester) Request(_ context.Context, _ string, params map[string]string, _ string) (*fetch.Response, error) {
	f.gotParams = params
	if f.err != nil {
		return nil, f.err
	}
	return &fetch.Response{StatusCode: http.StatusOK, Body: []byte(f.body)}, nil
}

type fakeLimiter struct {
	err   error
	calls int
}

func (f *fakeLimiter) CheckAndIncrement(context.Context, string) error {
	f.calls++
	return f.err
}

// passthroughCache invokes the fetch function directly so fetchSpot is
// exercised without freshness logic.
type passthroughCache struct {
	cached map[string]float64
}

func (c *passthroughCache) GetOrFetch(ctx context.Context, metalType string, fn pricecache.FetchFunc) (*pricecache.Result, error) {
	price, err := fn(ctx, metalType)
	if err != nil {
		return nil, err
	}
	return &pricecache.Result{PricePerOz: price, Source: pricecache.SourceFresh}, nil
}

func (c *passthroughCache) GetCachedOnly(_ context.Context, metalType string) (*pricecache.Result, error) {
	price, ok := c.cached[metalType]
	if !ok {
		return nil, nil
	}
	return &pricecache.Result{PricePerOz: price, Source: pricecache.SourceCached}, nil
}

func TestSpotPrices_InvertsRates(t *testing.T) {
	requester := &fakeRequester{
		// metals-api reports ounces per USD; 0.0005 XAU/USD = 2000 USD/oz.
		body: `{"success": true, "rates": {"XAU": 0.0005, "XAG": 0.04}}`,
	}
	limiter := &fakeLimiter{}
	c := NewClient("key", requester, limiter, &passthroughCache{}, nil)

	prices := c.SpotPrices(context.Background())

	require.InDelta(t, 2000.0, prices[models.MetalGold], 1e-9)
	require.InDelta(t, 25.0, prices[models.MetalSilver], 1e-9)
	require.Equal(t, 2, limiter.calls, "one quota increment per metal")
	require.Equal(t, "key", requester.gotParams["access_key"])
	require.Equal(t, "USD", requester.gotParams["base"])
}

func TestSpotPrices_APIErrorOmitsMetal(t *testing.T) {
	requester := &fakeRequester{
		body: `{"success": false, "error": {"info": "quota reached"}}`,
	}
	c := NewClient("key", requester, &fakeLimiter{}, &passthroughCache{}, nil)

	prices := c.SpotPrices(context.Background())
	require.Empty(t, prices, "a failed provider yields no prices, not zeros")
}

func TestSpotPrices_TransportErrorOmitsMetal(t *testing.T) {
	requester := &fakeRequester{err: errors.New("upstream down")}
	c := NewClient("key", requester, &fakeLimiter{}, &passthroughCache{}, nil)

	prices := c.SpotPrices(context.Background())
	require.Empty(t, prices)
}

func TestSpotPrices_QuotaRejectionOmitsMetal(t *testing.T) {
	requester := &fakeRequester{body: `{"success": true, "rates": {"XAU": 0.0005}}`}
	limiter := &fakeLimiter{err: errors.New("quota exceeded")}
	c := NewClient("key", requester, limiter, &passthroughCache{}, nil)

	prices := c.SpotPrices(context.Background())
	require.Empty(t, prices)
	require.Nil(t, requester.gotParams, "no upstream call once the quota is spent")
}

func TestFetchSpot_RejectsNonPositiveRate(t *testing.T) {
	requester := &fakeRequester{body: `{"success": true, "rates": {"XAU": 0}}`}
	c := NewClient("key", requester, &fakeLimiter{}, &passthroughCache{}, nil)

	_, err := c.fetchSpot(context.Background(), models.MetalGold)
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid rate")
}

func TestFetchSpot_UnknownMetal(t *testing.T) {
	c := NewClient("key", &fakeRequester{}, &fakeLimiter{}, &passthroughCache{}, nil)
	_, err := c.fetchSpot(context.Background(), "platinum")
	require.Error(t, err)
}

func TestCachedOnly(t *testing.T) {
	cache := &passthroughCache{cached: map[string]float64{
		models.MetalGold: 1995.0,
	}}
	c := NewClient("key", &fakeRequester{}, &fakeLimiter{}, cache, nil)

	prices := c.CachedOnly(context.Background())
	require.Equal(t, map[string]float64{models.MetalGold: 1995.0}, prices)
}
