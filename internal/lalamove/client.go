package lalamove

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const defaultTimeout = 10 * time.Second

// Config holds API credentials and request defaults.
type Config struct {
	BaseURL   string
	APIKey    string
	APISecret string
	Market    string
	Timeout   time.Duration
}

// Client talks to the Lalamove v3 REST API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	apiSecret  string
	market     string
	now        func() time.Time
}

// NewClient creates new Client instance
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		market:     cfg.Market,
		now:        time.Now,
	}
}

type envelope struct {
	Data interface{} `json:"data"`
}

// Quote requests a delivery quotation.
// POST /v3/quotations
func (c *Client) Quote(ctx context.Context, req QuoteRequest) (*Quotation, error) {
	var q Quotation
	if err := c.do(ctx, http.MethodPost, "/v3/quotations", req, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

// PlaceOrder books a courier for a quotation.
// POST /v3/orders
func (c *Client) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*DeliveryOrder, error) {
	var o DeliveryOrder
	if err := c.do(ctx, http.MethodPost, "/v3/orders", req, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// GetOrder returns the current state of a courier order.
// GET /v3/orders/{orderId}
func (c *Client) GetOrder(ctx context.Context, orderID string) (*DeliveryOrder, error) {
	var o DeliveryOrder
	if err := c.do(ctx, http.MethodGet, "/v3/orders/"+url.PathEscape(orderID), nil, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// CancelOrder cancels a courier order.
// DELETE /v3/orders/{orderId}
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	return c.do(ctx, http.MethodDelete, "/v3/orders/"+url.PathEscape(orderID), nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(envelope{Data: in})
		if err != nil {
			return fmt.Errorf("failed to marshal %s %s request: %w", method, path, err)
		}
	}

	endpoint, err := url.JoinPath(c.baseURL, path)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}

	timestamp := strconv.FormatInt(c.now().UnixMilli(), 10)
	signature := Sign(c.apiSecret, timestamp, method, path, string(body))
	req.Header.Set("Authorization", fmt.Sprintf("hmac %s:%s:%s", c.apiKey, timestamp, signature))
	req.Header.Set("Market", c.market)
	req.Header.Set("Request-ID", uuid.New().String())
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s %s response: %w", method, path, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil || len(raw) == 0 {
			return nil
		}
		var env struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(raw, &env); err != nil {
			return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
		}
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("failed to decode %s %s data: %w", method, path, err)
		}
		return nil
	default:
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if len(raw) > 0 {
			// Best effort; some gateway errors are not JSON.
			_ = json.Unmarshal(raw, apiErr)
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
				apiErr.RetryAfter = time.Duration(secs) * time.Second
			}
		}
		return apiErr
	}
}
