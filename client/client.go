// Package client is a small REST client for the marketplace order API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"marketplace-orders/models"
)

// APIError is a non-2xx answer from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("api: %d: %s", e.StatusCode, e.Message)
}

// StatusCode returns the HTTP status of an *APIError in err's chain, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// TokenSource supplies the bearer token for each request.
type TokenSource func(ctx context.Context) (string, error)

// StaticToken always returns the same token.
func StaticToken(token string) TokenSource {
	return func(context.Context) (string, error) { return token, nil }
}

type Client struct {
	baseURL string
	token   TokenSource
	http    *http.Client
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New returns a client for the API rooted at baseURL, e.g. "https://api.example.com/api".
func New(baseURL string, token TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != nil {
		token, err := c.token(ctx)
		if err != nil {
			return fmt.Errorf("token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &payload) == nil {
			apiErr.Message = payload.Error
		}
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) CreateOrder(ctx context.Context, req models.CreateOrderRequest) (*models.Order, error) {
	var order models.Order
	if err := c.do(ctx, http.MethodPost, "/orders", req, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *Client) ListOrders(ctx context.Context) ([]models.Order, error) {
	var orders []models.Order
	if err := c.do(ctx, http.MethodGet, "/orders", nil, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (c *Client) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/orders/%d", id), nil, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *Client) UpdateStatus(ctx context.Context, id int64, status models.OrderStatus) (*models.Order, error) {
	var order models.Order
	if err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/orders/%d", id), models.UpdateStatusRequest{Status: status}, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *Client) CancelOrder(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/orders/%d/cancel", id), nil, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *Client) InitiatePayment(ctx context.Context, req models.InitiatePaymentRequest) (models.InitiatePaymentResponse, error) {
	var resp models.InitiatePaymentResponse
	err := c.do(ctx, http.MethodPost, "/payments/initiate", req, &resp)
	return resp, err
}

func (c *Client) PaymentStatus(ctx context.Context, checkoutRequestID string) (*models.Transaction, error) {
	var txn models.Transaction
	if err := c.do(ctx, http.MethodGet, "/payments/"+url.PathEscape(checkoutRequestID), nil, &txn); err != nil {
		return nil, err
	}
	return &txn, nil
}

func (c *Client) Transactions(ctx context.Context) ([]models.Transaction, error) {
	var txns []models.Transaction
	if err := c.do(ctx, http.MethodGet, "/payments/transactions", nil, &txns); err != nil {
		return nil, err
	}
	return txns, nil
}

// SimulateConfirmation posts a confirmation through the simulation route,
// which the server only exposes when simulated payments are enabled.
func (c *Client) SimulateConfirmation(ctx context.Context, conf models.PaymentConfirmation) (*models.Transaction, error) {
	var resp struct {
		Message     string              `json:"message"`
		Transaction *models.Transaction `json:"transaction"`
	}
	if err := c.do(ctx, http.MethodPost, "/payments/confirm/simulate", conf, &resp); err != nil {
		return nil, err
	}
	if resp.Transaction == nil {
		return nil, errors.New("confirmation response carries no transaction")
	}
	return resp.Transaction, nil
}
