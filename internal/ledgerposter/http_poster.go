// Package ledgerposter delivers balance movements to the external ledger
// service. The ledger deduplicates on business id, so redelivering a post
// is safe.
package ledgerposter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/cardbridge-reconciler/internal/config"
	"github.com/cardbridge-reconciler/internal/domain/ledgerpost"
)

const postPath = "/internal/v1/ledger/posts"

// HTTPPoster implements ledgerpost.Poster over the ledger service's HTTP API
type HTTPPoster struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPPoster creates a poster for the configured ledger service
func NewHTTPPoster(logger *slog.Logger, cfg *config.LedgerConfig) *HTTPPoster {
	return &HTTPPoster{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

// Post sends one balance movement. A 409 response means the ledger already
// applied a post with this business id; that counts as success.
func (p *HTTPPoster) Post(ctx context.Context, post *ledgerpost.Post) error {
	body, err := json.Marshal(post)
	if err != nil {
		return fmt.Errorf("failed to marshal ledger post: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+postPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build ledger post request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver ledger post: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		p.logger.Debug("Delivered ledger post", "business_id", post.BusinessID)
		return nil
	case resp.StatusCode == http.StatusConflict:
		// Already applied under this business id
		p.logger.Info("Ledger post already applied", "business_id", post.BusinessID)
		return nil
	default:
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		p.logger.Error("Ledger rejected post",
			"business_id", post.BusinessID,
			"status", resp.StatusCode,
			"body", string(respBody),
		)
		return fmt.Errorf("ledger rejected post %s: status %d", post.BusinessID, resp.StatusCode)
	}
}
