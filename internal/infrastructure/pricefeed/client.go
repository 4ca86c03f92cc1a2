package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"chainsettle/internal/domain"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://api.coingecko.com/api/v3"

type Config struct {
	BaseURL           string
	APIKey            string
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
}

// Client reads USD quotes from a CoinGecko-compatible /simple/price endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid price api url: %w", err)
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
	}, nil
}

// USDPrice returns the current USD rate of the asset identified by id. Any
// failure, including a missing or non-positive quote, wraps
// domain.ErrPriceFetchFailed.
func (c *Client) USDPrice(ctx context.Context, id string) (*big.Rat, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: price id is required", domain.ErrPriceFetchFailed)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPriceFetchFailed, err)
	}

	query := url.Values{}
	query.Set("ids", id)
	query.Set("vs_currencies", "usd")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/simple/price?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPriceFetchFailed, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-cg-pro-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPriceFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: price api status %d", domain.ErrPriceFetchFailed, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPriceFetchFailed, err)
	}
	return parseUSDPrice(body, id)
}

func parseUSDPrice(body []byte, id string) (*big.Rat, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: malformed price response", domain.ErrPriceFetchFailed)
	}
	quote := gjson.GetBytes(body, gjson.Escape(id)+".usd")
	if !quote.Exists() || quote.Type != gjson.Number {
		return nil, fmt.Errorf("%w: no usd quote for %s", domain.ErrPriceFetchFailed, id)
	}
	price, ok := new(big.Rat).SetString(quote.Raw)
	if !ok {
		return nil, fmt.Errorf("%w: invalid quote %q", domain.ErrPriceFetchFailed, quote.Raw)
	}
	if price.Sign() <= 0 {
		return nil, errors.Join(domain.ErrPriceFetchFailed, fmt.Errorf("non-positive quote for %s", id))
	}
	return price, nil
}
