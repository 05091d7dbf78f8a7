// Package backend talks to the prediction market backend: the REST API that
// lists markets and records wallet activity, and its socket.io push channel.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/bnbmarket/internal/domain"
	"github.com/alanyoungcy/bnbmarket/internal/market"
)

// Client is the REST client for the backend API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a backend client.
//
// baseURL is the API root including its /api prefix, e.g.
// "http://localhost:9000/api". Trailing slashes are stripped.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// BaseURL returns the normalized API root.
func (c *Client) BaseURL() string { return c.baseURL }

// ListMarkets returns one page of market documents. The documents are
// returned undecoded so the caller normalizes them.
func (c *Client) ListMarkets(ctx context.Context, opts ListOpts) (MarketPage, error) {
	params := url.Values{}
	page, limit := opts.Page, opts.Limit
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 10
	}
	params.Set("page", strconv.Itoa(page))
	params.Set("limit", strconv.Itoa(limit))
	if opts.Status != "" {
		params.Set("marketStatus", opts.Status)
	}
	if opts.Field != nil {
		params.Set("marketField", strconv.Itoa(*opts.Field))
	}

	body, err := c.doGet(ctx, "/market/get?"+params.Encode())
	if err != nil {
		return MarketPage{}, fmt.Errorf("backend: list markets: %w", err)
	}

	var resp struct {
		Data  json.RawMessage `json:"data"`
		Total *int            `json:"total"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return MarketPage{}, fmt.Errorf("backend: decode markets: %w", err)
	}

	out := MarketPage{Page: page, Limit: limit}
	// A missing or non-array data member is an empty page.
	if trimmed := bytes.TrimSpace(resp.Data); len(trimmed) > 0 && trimmed[0] == '[' {
		raws, err := market.DecodeRawList(trimmed)
		if err != nil {
			return MarketPage{}, fmt.Errorf("backend: decode markets: %w", err)
		}
		out.Markets = raws
	}
	if out.Markets == nil {
		out.Markets = []market.Raw{}
	}
	if resp.Total != nil {
		out.Total = *resp.Total
	} else {
		out.Total = len(out.Markets)
	}
	return out, nil
}

// RecordBet reports a confirmed bet.
func (c *Client) RecordBet(ctx context.Context, rec BetRecord) error {
	if _, err := c.doPost(ctx, "/market/betting", rec); err != nil {
		return fmt.Errorf("backend: record bet %s: %w", rec.TxHash, err)
	}
	return nil
}

// RecordWithdraw reports a confirmed position withdrawal.
func (c *Client) RecordWithdraw(ctx context.Context, rec WithdrawRecord) error {
	if _, err := c.doPost(ctx, "/market/withdraw", rec); err != nil {
		return fmt.Errorf("backend: record withdraw %s: %w", rec.TxHash, err)
	}
	return nil
}

// RecordLiquidity reports a liquidity deposit.
func (c *Client) RecordLiquidity(ctx context.Context, rec LiquidityRecord) error {
	if _, err := c.doPost(ctx, "/market/liquidity", rec); err != nil {
		return fmt.Errorf("backend: record liquidity for %s: %w", rec.MarketID, err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req)
}

func (c *Client) doPost(ctx context.Context, path string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// checkHTTPStatus maps non-2xx status codes to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
