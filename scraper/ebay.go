package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"metals_scanner/fetch"
	"metals_scanner/models"
)

const (
	ebayAPIName = "ebay"
	ebayBaseURL = "https://svcs.ebay.com/services/search/FindingService/v1"
)

// DefaultSearchTerms cover the tracked metal classes.
var DefaultSearchTerms = []string{
	"gold bullion",
	"silver bullion",
	"gold eagle",
	"silver eagle",
}

// Requester performs one logical HTTP operation with retries and auditing.
type Requester interface {
	Request(ctx context.Context, endpoint string, params map[string]string, method string) (*fetch.Response, error)
}

// Limiter gates calls against a provider quota.
type Limiter interface {
	CheckAndIncrement(ctx context.Context, provider string) error
}

// EbayBaseURL returns the Finding API endpoint, exported for wiring.
func EbayBaseURL() string { return ebayBaseURL }

// EbayScraper searches the eBay Finding API and normalizes results into
// listings with extracted weights.
type EbayScraper struct {
	appID   string
	client  Requester
	limiter Limiter
	log     *zap.SugaredLogger
}

func NewEbay(appID string, client Requester, limiter Limiter, log *zap.SugaredLogger) *EbayScraper {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &EbayScraper{appID: appID, client: client, limiter: limiter, log: log}
}

// ScrapeAndDedup searches every term and deduplicates the combined results
// by external id. A failed term is logged and skipped; partial results are
// acceptable. When the same id shows up under several terms the last one
// seen wins.
func (s *EbayScraper) ScrapeAndDedup(ctx context.Context, searchTerms []string, maxResults int) ([]models.Listing, error) {
	if len(searchTerms) == 0 {
		searchTerms = DefaultSearchTerms
	}

	var all []models.Listing
	for _, term := range searchTerms {
		if err := s.limiter.CheckAndIncrement(ctx, ebayAPIName); err != nil {
			s.log.Errorw("Skipping search term", "term", term, "error", err)
			continue
		}

		listings, err := s.search(ctx, term, maxResults)
		if err != nil {
			s.log.Errorw("Skipping search term", "term", term, "error", err)
			continue
		}
		all = append(all, listings...)
		s.log.Infow("Search term scraped", "term", term, "listings", len(listings))
	}

	// Last-seen occurrence wins; order of first appearance is kept.
	index := make(map[string]int, len(all))
	unique := make([]models.Listing, 0, len(all))
	for _, l := range all {
		if i, ok := index[l.ExternalID]; ok {
			unique[i] = l
			continue
		}
		index[l.ExternalID] = len(unique)
		unique = append(unique, l)
	}

	s.log.Infow("Scrape complete", "total", len(all), "unique", len(unique))
	return unique, nil
}

func (s *EbayScraper) search(ctx context.Context, keyword string, maxResults int) ([]models.Listing, error) {
	if maxResults > 100 {
		maxResults = 100
	}
	params := map[string]string{
		"OPERATION-NAME":                  "findItemsByKeywords",
		"SERVICE-VERSION":                 "1.0.0",
		"SECURITY-APPNAME":                s.appID,
		"RESPONSE-DATA-FORMAT":            "JSON",
		"REST-PAYLOAD":                    "",
		"keywords":                        keyword,
		"paginationInput.entriesPerPage":  strconv.Itoa(maxResults),
		"itemFilter(0).name":              "ListingType",
		"itemFilter(0).value":             "FixedPrice",
		"itemFilter(1).name":              "Currency",
		"itemFilter(1).value":             "USD",
		"itemFilter(2).name":              "MaxPrice",
		"itemFilter(2).value":             "10000",
		"itemFilter(3).name":              "MinPrice",
		"itemFilter(3).value":             "50",
		"sortOrder":                       "PricePlusShippingLowest",
	}

	resp, err := s.client.Request(ctx, "", params, http.MethodGet)
	if err != nil {
		return nil, err
	}

	var payload ebayResponse
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return nil, fmt.Errorf("decode finding response: %w", err)
	}

	items := payload.items()
	listings := make([]models.Listing, 0, len(items))
	for _, item := range items {
		if l := s.ParseItem(item, keyword); l != nil {
			listings = append(listings, *l)
		}
	}
	return listings, nil
}

// ParseItem normalizes one raw Finding API item. It returns nil when a
// required field is missing; that is a data-quality signal, not an error.
func (s *EbayScraper) ParseItem(item Item, keyword string) *models.Listing {
	id := first(item.ItemID)
	title := first(item.Title)
	url := first(item.ViewItemURL)
	price := item.price()

	if id == "" || title == "" || url == "" || price == 0 {
		s.log.Debugw("Skipping item with missing fields", "id", id)
		return nil
	}

	weight, failed := ExtractWeight(title)

	return &models.Listing{
		Source:                 ebayAPIName,
		ExternalID:             id,
		Title:                  title,
		Price:                  price,
		MetalType:              classifyMetal(keyword, title),
		WeightOz:               weight,
		WeightExtractionFailed: failed,
		URL:                    url,
		FetchedAt:              time.Now().UTC(),
	}
}

// classifyMetal checks the search keyword first, then the title, falling
// back to the keyword-implied metal.
func classifyMetal(keyword, title string) string {
	k := strings.ToLower(keyword)
	t := strings.ToLower(title)

	switch {
	case strings.Contains(k, models.MetalGold) || strings.Contains(t, models.MetalGold):
		return models.MetalGold
	case strings.Contains(k, models.MetalSilver) || strings.Contains(t, models.MetalSilver):
		return models.MetalSilver
	default:
		return models.MetalSilver
	}
}

// Finding API wraps every field in a single-element array.
type Item struct {
	ItemID        []string `json:"itemId"`
	Title         []string `json:"title"`
	ViewItemURL   []string `json:"viewItemURL"`
	SellingStatus []struct {
		CurrentPrice []struct {
			Value string `json:"__value__"`
		} `json:"currentPrice"`
	} `json:"sellingStatus"`
}

func (i Item) price() float64 {
	if len(i.SellingStatus) == 0 || len(i.SellingStatus[0].CurrentPrice) == 0 {
		return 0
	}
	v, err := strconv.ParseFloat(i.SellingStatus[0].CurrentPrice[0].Value, 64)
	if err != nil {
		return 0
	}
	return v
}

type ebayResponse struct {
	FindItemsByKeywordsResponse []struct {
		SearchResult []struct {
			Item []Item `json:"item"`
		} `json:"searchResult"`
	} `json:"findItemsByKeywordsResponse"`
}

func (r ebayResponse) items() []Item {
	if len(r.FindItemsByKeywordsResponse) == 0 {
		return nil
	}
	if len(r.FindItemsByKeywordsResponse[0].SearchResult) == 0 {
		return nil
	}
	return r.FindItemsByKeywordsResponse[0].SearchResult[0].Item
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
