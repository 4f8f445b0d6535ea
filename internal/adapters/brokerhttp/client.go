// Package brokerhttp implements ports.BrokerClient over the broker's REST
// API. It maps transport failures onto the standard port errors so callers
// can branch without knowing HTTP.
package brokerhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"optionsSentry/internal/ports"
)

// Client is an HTTP broker client.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  ports.Logger
}

// Config holds configuration for the broker client.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	Logger  ports.Logger
}

// NewClient creates a broker client. The default request timeout is 5s.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: broker base URL required", ports.ErrConfigurationError)
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("%w: logger required", ports.ErrConfigurationError)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		http:    &http.Client{Timeout: timeout},
		logger:  cfg.Logger,
	}, nil
}

type closeOrderPayload struct {
	ClientOrderID string `json:"client_order_id"`
	Symbol        string `json:"symbol"`
	Quantity      int    `json:"quantity"`
	Side          string `json:"side"`
	OrderType     string `json:"order_type"`
	Tag           string `json:"tag"`
}

type closeOrderResponse struct {
	OrderID   string  `json:"order_id"`
	FillPrice float64 `json:"fill_price"`
	Status    string  `json:"status"`
}

// PlaceCloseOrder submits a market sell for the full quantity. The client
// order id makes retried submissions idempotent on the broker side.
func (c *Client) PlaceCloseOrder(ctx context.Context, req ports.CloseOrderRequest) (*ports.CloseOrderResult, error) {
	op := "PlaceCloseOrder"

	payload := closeOrderPayload{
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Quantity:      req.Quantity,
		Side:          "SELL",
		OrderType:     "MARKET",
		Tag:           req.Reason,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal payload: %w", op, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/orders/close", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", op, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.authorize(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s: %w", op, ports.ErrContextCanceled)
		}
		return nil, fmt.Errorf("%s: %w: %v", op, ports.ErrBrokerUnavailable, err)
	}
	defer resp.Body.Close()

	if err := c.checkStatus(op, resp); err != nil {
		return nil, err
	}

	var parsed closeOrderResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", op, err)
	}
	if parsed.Status == "REJECTED" {
		return nil, fmt.Errorf("%s: order %s: %w", op, parsed.OrderID, ports.ErrOrderRejected)
	}
	return &ports.CloseOrderResult{OrderID: parsed.OrderID, FillPrice: parsed.FillPrice}, nil
}

type brokerPositionPayload struct {
	Symbol    string  `json:"symbol"`
	Quantity  int     `json:"quantity"`
	LastPrice float64 `json:"last_price"`
}

// FetchPositions returns the broker's current open positions.
func (c *Client) FetchPositions(ctx context.Context) ([]ports.BrokerPosition, error) {
	op := "FetchPositions"

	var parsed []brokerPositionPayload
	if err := c.getJSON(ctx, op, "/positions", &parsed); err != nil {
		return nil, err
	}

	out := make([]ports.BrokerPosition, 0, len(parsed))
	for _, p := range parsed {
		out = append(out, ports.BrokerPosition{Symbol: p.Symbol, Quantity: p.Quantity, LastPrice: p.LastPrice})
	}
	return out, nil
}

type quotePayload struct {
	Symbol string  `json:"symbol"`
	LTP    float64 `json:"ltp"`
}

// FetchQuote returns the last traded premium for a contract.
func (c *Client) FetchQuote(ctx context.Context, symbol string) (float64, error) {
	op := "FetchQuote"

	var parsed quotePayload
	path := "/quote?symbol=" + url.QueryEscape(symbol)
	if err := c.getJSON(ctx, op, path, &parsed); err != nil {
		return 0, err
	}
	if parsed.LTP <= 0 {
		return 0, fmt.Errorf("%s: no quote for %s: %w", op, symbol, ports.ErrNotFound)
	}
	return parsed.LTP, nil
}

func (c *Client) getJSON(ctx context.Context, op, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", op, err)
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", op, ports.ErrContextCanceled)
		}
		return fmt.Errorf("%s: %w: %v", op, ports.ErrBrokerUnavailable, err)
	}
	defer resp.Body.Close()

	if err := c.checkStatus(op, resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// checkStatus maps HTTP status codes onto the standard port errors.
func (c *Client) checkStatus(op string, resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%s: %w", op, ports.ErrRateLimited)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s: status %d (%s): %w", op, resp.StatusCode, string(body), ports.ErrOrderRejected)
	default:
		return fmt.Errorf("%s: status %d: %w", op, resp.StatusCode, ports.ErrBrokerUnavailable)
	}
}

// Compile-time interface check.
var _ ports.BrokerClient = (*Client)(nil)
