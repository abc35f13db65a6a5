// Package provider implements the protocol client for the card-issuing
// provider's encrypted HTTP API. Every payload travels inside the AES
// envelope; every response arrives wrapped in the provider's {code,msg,data}
// structure with the business payload encrypted under data.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cardbridge-reconciler/internal/config"
	"github.com/cardbridge-reconciler/internal/provider/envelope"
	"github.com/shopspring/decimal"
)

// TokenHeader is the header name the provider requires the auth token under
const TokenHeader = "Token"

// Client talks to the provider API. It holds no per-call state beyond
// configuration, so one instance is safe to share across concurrent
// callers; each call runs one outstanding request at a time.
type Client struct {
	baseURL    string
	token      string
	codec      *envelope.Codec
	httpClient *http.Client
	retries    int
	backoff    time.Duration
	pageSize   int
	logger     *slog.Logger
}

// NewClient builds a provider client from configuration. The AES key length
// is enforced here, before any network call can be attempted.
func NewClient(logger *slog.Logger, cfg *config.ProviderConfig) (*Client, error) {
	codec, err := envelope.NewCodec([]byte(cfg.AESKey))
	if err != nil {
		return nil, fmt.Errorf("invalid provider configuration: %w", err)
	}

	retries := cfg.Retries
	if retries <= 0 {
		retries = 3
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = time.Second
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}

	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		codec:   codec,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		retries:  retries,
		backoff:  backoff,
		pageSize: pageSize,
		logger:   logger,
	}, nil
}

// PageSize returns the configured page size for listing endpoints
func (c *Client) PageSize() int {
	return c.pageSize
}

// QueryBalance returns the current balance of a card
func (c *Client) QueryBalance(ctx context.Context, cardID string) (*Balance, error) {
	var balance Balance
	if err := c.call(ctx, endpointBalance, &BalanceRequest{CardID: cardID}, &balance); err != nil {
		return nil, err
	}
	return &balance, nil
}

// CreateCard opens a new card for a user
func (c *Client) CreateCard(ctx context.Context, userID, currency string) (*Card, error) {
	var card Card
	if err := c.call(ctx, endpointCreateCard, &CreateCardRequest{UserID: userID, Currency: currency}, &card); err != nil {
		return nil, err
	}
	return &card, nil
}

// Recharge credits a card with the given amount
func (c *Client) Recharge(ctx context.Context, cardID, currency string, amount decimal.Decimal) (*MoneyResult, error) {
	var result MoneyResult
	req := &MoneyRequest{CardID: cardID, Currency: currency, Amount: amount}
	if err := c.call(ctx, endpointRecharge, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Withdraw debits a card with the given amount
func (c *Client) Withdraw(ctx context.Context, cardID, currency string, amount decimal.Decimal) (*MoneyResult, error) {
	var result MoneyResult
	req := &MoneyRequest{CardID: cardID, Currency: currency, Amount: amount}
	if err := c.call(ctx, endpointWithdraw, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListAuthorizations fetches one page of authorization records
func (c *Client) ListAuthorizations(ctx context.Context, req *ListRequest) (*TxnPage, error) {
	var page TxnPage
	if err := c.call(ctx, endpointAuthList, req, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// ListSettlements fetches one page of settlement records
func (c *Client) ListSettlements(ctx context.Context, req *ListRequest) (*TxnPage, error) {
	var page TxnPage
	if err := c.call(ctx, endpointSettleList, req, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// TestConnection probes the provider with a single no-retry balance query
// and reduces any error to a boolean, for health-check use
func (c *Client) TestConnection(ctx context.Context) bool {
	var balance Balance
	err := c.doOnce(ctx, endpointBalance, &BalanceRequest{}, &balance)
	if err != nil {
		// A business rejection still proves the provider is reachable and
		// decrypting our traffic
		var provErr *Error
		if errors.As(err, &provErr) {
			return true
		}
		c.logger.Warn("Provider connectivity probe failed", "error", err)
		return false
	}
	return true
}

// call sends one encrypted request and decodes the encrypted response into
// out, retrying transport and envelope failures with exponential backoff.
// Provider business failures (code != 1) are surfaced immediately and never
// retried. After the last attempt the original error is returned unwrapped
// so callers can still distinguish the cause.
func (c *Client) call(ctx context.Context, endpoint string, payload, out interface{}) error {
	var lastErr error

	for attempt := 1; attempt <= c.retries; attempt++ {
		if attempt > 1 {
			// Backoff doubles per failed attempt: unit, 2*unit, 4*unit...
			delay := c.backoff << (attempt - 2)
			c.logger.Warn("Retrying provider call",
				"endpoint", endpoint,
				"attempt", attempt,
				"delay", delay.String(),
				"error", lastErr,
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := c.doOnce(ctx, endpoint, payload, out)
		if err == nil {
			return nil
		}

		// Business rejections are final: the provider understood the
		// request and said no
		var provErr *Error
		if errors.As(err, &provErr) {
			return err
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		lastErr = err
	}

	return lastErr
}

// doOnce performs a single request/response cycle with no retry
func (c *Client) doOnce(ctx context.Context, endpoint string, payload, out interface{}) error {
	ciphertext, err := c.codec.Encrypt(payload)
	if err != nil {
		return fmt.Errorf("failed to encrypt request payload: %w", err)
	}

	body, err := json.Marshal(&requestEnvelope{Data: ciphertext})
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build provider request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(TokenHeader, c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &StatusError{StatusCode: resp.StatusCode}
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read provider response: %w", err)
	}

	var env responseEnvelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return &envelope.Error{Op: "envelope", Err: err}
	}

	if env.Code != codeSuccess {
		return &Error{Code: env.Code, Msg: env.Msg}
	}

	if err := c.codec.Decrypt(env.Data, out); err != nil {
		return err
	}

	return nil
}
