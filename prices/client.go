package prices

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"metals_scanner/fetch"
	"metals_scanner/models"
	"metals_scanner/pricecache"
)

const (
	metalsAPIName = "metals-api"
	metalsBaseURL = "https://metals-api.com/api"
)

// symbolFor maps metal classes to upstream currency symbols.
var symbolFor = map[string]string{
	models.MetalGold:   "XAU",
	models.MetalSilver: "XAG",
}

// MetalsBaseURL returns the upstream endpoint, exported for wiring.
func MetalsBaseURL() string { return metalsBaseURL }

// Requester performs one logical HTTP operation with retries and auditing.
type Requester interface {
	Request(ctx context.Context, endpoint string, params map[string]string, method string) (*fetch.Response, error)
}

// Limiter gates calls against a provider quota.
type Limiter interface {
	CheckAndIncrement(ctx context.Context, provider string) error
}

// PriceCache serves freshness-governed price lookups.
type PriceCache interface {
	GetOrFetch(ctx context.Context, metalType string, fn pricecache.FetchFunc) (*pricecache.Result, error)
	GetCachedOnly(ctx context.Context, metalType string) (*pricecache.Result, error)
}

// Client obtains spot prices from metals-api.com through the cache and the
// rate limiter.
type Client struct {
	apiKey  string
	client  Requester
	limiter Limiter
	cache   PriceCache
	log     *zap.SugaredLogger
}

func NewClient(apiKey string, client Requester, limiter Limiter, cache PriceCache, log *zap.SugaredLogger) *Client {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Client{apiKey: apiKey, client: client, limiter: limiter, cache: cache, log: log}
}

// SpotPrices returns the current price per troy ounce for every tracked
// metal. A metal whose price cannot be obtained (even via stale fallback)
// is absent from the map; the scan degrades instead of aborting.
func (c *Client) SpotPrices(ctx context.Context) map[string]float64 {
	prices := make(map[string]float64, len(symbolFor))

	for _, metal := range []string{models.MetalGold, models.MetalSilver} {
		result, err := c.cache.GetOrFetch(ctx, metal, c.fetchSpot)
		if err != nil {
			c.log.Errorw("Failed to get spot price", "metal", metal, "error", err)
			continue
		}
		prices[metal] = result.PricePerOz

		if result.Source != pricecache.SourceFresh {
			c.log.Infow("Spot price served from cache",
				"metal", metal,
				"source", result.Source,
				"age", result.Age,
			)
		}
	}
	return prices
}

// CachedOnly returns whatever prices are cached without spending any call
// budget. Metals with an empty cache are absent from the map.
func (c *Client) CachedOnly(ctx context.Context) map[string]float64 {
	prices := make(map[string]float64, len(symbolFor))
	for _, metal := range []string{models.MetalGold, models.MetalSilver} {
		result, err := c.cache.GetCachedOnly(ctx, metal)
		if err != nil {
			c.log.Errorw("Failed to read cached price", "metal", metal, "error", err)
			continue
		}
		if result != nil {
			prices[metal] = result.PricePerOz
		}
	}
	return prices
}

// fetchSpot makes one rate-limited upstream call. The API reports an
// inverse rate (ounces per USD), so the price per ounce is its reciprocal.
func (c *Client) fetchSpot(ctx context.Context, metal string) (float64, error) {
	symbol, ok := symbolFor[metal]
	if !ok {
		return 0, fmt.Errorf("unknown metal type: %s", metal)
	}

	if err := c.limiter.CheckAndIncrement(ctx, metalsAPIName); err != nil {
		return 0, err
	}

	resp, err := c.client.Request(ctx, "/latest", map[string]string{
		"access_key": c.apiKey,
		"base":       "USD",
		"symbols":    symbol,
	}, http.MethodGet)
	if err != nil {
		return 0, err
	}

	var payload struct {
		Success bool               `json:"success"`
		Rates   map[string]float64 `json:"rates"`
		Error   struct {
			Info string `json:"info"`
		} `json:"error"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return 0, fmt.Errorf("decode %s response: %w", metalsAPIName, err)
	}
	if !payload.Success {
		info := payload.Error.Info
		if info == "" {
			info = "unknown error"
		}
		return 0, fmt.Errorf("%s error: %s", metalsAPIName, info)
	}

	rate := payload.Rates[symbol]
	if rate <= 0 {
		return 0, fmt.Errorf("invalid rate for %s: %v", symbol, rate)
	}

	pricePerOz := 1.0 / rate
	c.log.Infow("Spot price fetched", "symbol", symbol, "price_per_oz", pricePerOz)
	return pricePerOz, nil
}
