// Package gateway is the HTTP client for the external payment gateway.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Config holds gateway client configuration.
type Config struct {
	BaseURL            string        `envconfig:"GATEWAY_BASE_URL" default:"https://sandbox.wompi.co/v1"`
	PublicKey          string        `envconfig:"GATEWAY_PUBLIC_KEY"`
	PrivateKey         string        `envconfig:"GATEWAY_PRIVATE_KEY"`
	IntegritySecret    string        `envconfig:"GATEWAY_INTEGRITY_SECRET"`
	RequestTimeout     time.Duration `envconfig:"GATEWAY_REQUEST_TIMEOUT" default:"10s"`
	BreakerFailures    uint32        `envconfig:"GATEWAY_BREAKER_FAILURES" default:"5"`
	BreakerOpenTimeout time.Duration `envconfig:"GATEWAY_BREAKER_OPEN_TIMEOUT" default:"30s"`
}

// Client talks to the gateway. It never retries: transaction creation is
// not idempotent on the gateway side.
type Client struct {
	config     Config
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[[]byte]
	logger     *slog.Logger
}

// NewClient creates a new gateway client. A nil httpClient uses a default client.
func NewClient(cfg Config, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}

	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:    "payment-gateway",
		Timeout: cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		// Rejections from the gateway (4xx) say nothing about its health.
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return !apiErr.Temporary()
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("gateway circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})

	return &Client{
		config:     cfg,
		httpClient: httpClient,
		breaker:    breaker,
		logger:     logger,
	}
}

// Signature computes the integrity signature with the configured secret.
func (c *Client) Signature(reference string, amountInCents int64, currency string) string {
	return IntegritySignature(reference, amountInCents, currency, c.config.IntegritySecret)
}

// GetMerchant fetches the merchant descriptor with fresh consent tokens.
func (c *Client) GetMerchant(ctx context.Context) (*Merchant, error) {
	body, err := c.do(ctx, http.MethodGet, "/merchants/"+url.PathEscape(c.config.PublicKey), nil, false)
	if err != nil {
		return nil, fmt.Errorf("get merchant: %w", err)
	}

	var env envelope[Merchant]
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("unmarshal merchant: %w", err)
	}
	if env.Data.AcceptanceToken() == "" {
		return nil, fmt.Errorf("get merchant: %w", &APIError{StatusCode: http.StatusOK, Reason: "merchant response has no acceptance token"})
	}

	return &env.Data, nil
}

// CreateTransaction submits a transaction. The signature is computed from
// the request when the caller leaves it empty.
func (c *Client) CreateTransaction(ctx context.Context, req *CreateTransactionRequest) (*CreatedTransaction, error) {
	if req.Signature == "" {
		req.Signature = c.Signature(req.Reference, req.AmountInCents, req.Currency)
	}

	c.logger.Info("submitting gateway transaction",
		"reference", req.Reference,
		"amount", req.AmountInCents,
		"currency", req.Currency,
	)

	body, err := c.do(ctx, http.MethodPost, "/transactions", req, true)
	if err != nil {
		return nil, fmt.Errorf("create transaction: %w", err)
	}

	var env envelope[CreatedTransaction]
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("unmarshal created transaction: %w", err)
	}
	if env.Data.ID == "" {
		return nil, fmt.Errorf("create transaction: %w", &APIError{StatusCode: http.StatusOK, Reason: "response has no transaction id"})
	}

	c.logger.Info("gateway transaction created",
		"reference", req.Reference,
		"gateway_id", env.Data.ID,
		"status", env.Data.Status,
	)

	return &env.Data, nil
}

// GetTransaction fetches the current status of a gateway transaction.
func (c *Client) GetTransaction(ctx context.Context, gatewayID string) (*TransactionStatus, error) {
	body, err := c.do(ctx, http.MethodGet, "/transactions/"+url.PathEscape(gatewayID), nil, true)
	if err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", gatewayID, err)
	}

	var env envelope[json.RawMessage]
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("unmarshal transaction: %w", err)
	}

	var status TransactionStatus
	if err := json.Unmarshal(env.Data, &status); err != nil {
		return nil, fmt.Errorf("unmarshal transaction data: %w", err)
	}
	status.Raw = env.Data

	return &status, nil
}

// do performs one request under the per-call timeout and the circuit breaker.
func (c *Client) do(ctx context.Context, method, path string, payload any, auth bool) ([]byte, error) {
	if c.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.RequestTimeout)
		defer cancel()
	}

	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.roundTrip(ctx, method, path, payload, auth)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	}
	return body, err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, payload any, auth bool) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Accept", "application/json")
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if auth {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.PrivateKey)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if httpResp.StatusCode >= 400 {
		return nil, newAPIError(httpResp.StatusCode, respBody)
	}

	return respBody, nil
}
