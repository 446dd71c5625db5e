// Package oracle is the HTTP client for the external price oracle.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"pf-ledger/internal/model"
	"pf-ledger/internal/types"
)

// ErrAssetUnavailable means the oracle has no usable quote for the asset.
var ErrAssetUnavailable = errors.New("asset unavailable")

// Client fetches quotes from GET {base}/quote?symbol=X. The engine treats any
// error from here as price unavailability.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type quoteResponse struct {
	MarketState        string          `json:"market_state"`
	RegularMarketPrice decimal.Decimal `json:"regular_market_price"`
	PreviousClose      decimal.Decimal `json:"previous_close"`
	QuoteType          string          `json:"quote_type"`
	Sector             string          `json:"sector"`
}

// GetPrice returns the current price, asset class and sector for an asset.
// Outside regular trading hours the previous close is used; an unrecognized
// market state or a non-positive price fails rather than defaulting.
func (c *Client) GetPrice(ctx context.Context, asset string) (*model.PriceQuote, error) {
	u := fmt.Sprintf("%s/quote?symbol=%s", c.baseURL, url.QueryEscape(asset))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("oracle - GetPrice - NewRequest: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oracle - GetPrice - Do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrAssetUnavailable, asset)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("oracle - GetPrice: unexpected status %s", resp.Status)
	}

	var q quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&q); err != nil {
		return nil, fmt.Errorf("oracle - GetPrice - Decode: %w", err)
	}

	var price decimal.Decimal
	switch q.MarketState {
	case "CLOSED", "PRE", "POST", "POSTPOST":
		price = q.PreviousClose
	case "REGULAR":
		price = q.RegularMarketPrice
	default:
		return nil, fmt.Errorf("%w: %s: unrecognized market state %q", ErrAssetUnavailable, asset, q.MarketState)
	}
	if price.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: %s: non-positive price %s", ErrAssetUnavailable, asset, price)
	}

	return &model.PriceQuote{
		Price:      price,
		AssetClass: assetClass(q.QuoteType),
		Sector:     sector(q.Sector),
	}, nil
}

func assetClass(quoteType string) types.AssetClass {
	switch strings.ToUpper(strings.TrimSpace(quoteType)) {
	case "EQUITY", "STOCK":
		return types.AssetClassStock
	case "ETF":
		return types.AssetClassETF
	case "CRYPTOCURRENCY", "CRYPTO":
		return types.AssetClassCrypto
	default:
		return types.AssetClassUnknown
	}
}

func sector(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "N/A"
	}
	return s
}
