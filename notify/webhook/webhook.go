// Package webhook delivers the completion callback to a Request's
// response_url, following notify/discord's non-blocking goroutine
// dispatch pattern.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/deliverkit/verifier/db"
)

// Config bundles the Notifier's tunables.
type Config struct {
	MaxAttempts int
	Timeout     time.Duration
	// BackoffUnit scales the linear retry backoff: attempt N waits
	// N * BackoffUnit, capped at backoffCap.
	BackoffUnit time.Duration
}

// DefaultConfig is 5 attempts with a 2s linear backoff unit, each POST
// bounded to 10s.
func DefaultConfig() Config {
	return Config{MaxAttempts: 5, Timeout: 10 * time.Second, BackoffUnit: 2 * time.Second}
}

const backoffCap = 10 * time.Second

type payload struct {
	RequestID       string              `json:"request_id"`
	Status          string              `json:"status"`
	TotalEmails     int                 `json:"total_emails"`
	CompletedEmails int                 `json:"completed_emails"`
	Results         []db.VerificationObj `json:"results"`
	Timestamp       string              `json:"timestamp"`
}

// Notifier POSTs a completed Request's results to its response_url.
type Notifier struct {
	cfg        Config
	logger     *slog.Logger
	httpClient *http.Client
}

func New(cfg Config, logger *slog.Logger) *Notifier {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BackoffUnit <= 0 {
		cfg.BackoffUnit = 2 * time.Second
	}
	return &Notifier{cfg: cfg, logger: logger, httpClient: &http.Client{}}
}

// Deliver dispatches the webhook in a background goroutine and invokes
// done(sent, attempts) when the outcome is known. A request with no
// response_url is recorded as already sent with 0 attempts so nothing
// ever retries it, and done is invoked synchronously in that case.
func (n *Notifier) Deliver(row db.ResultsRow, responseURL string, done func(sent bool, attempts int)) {
	if responseURL == "" {
		done(true, 0)
		return
	}

	body := payload{
		RequestID:       row.RequestID,
		Status:          db.StatusCompleted,
		TotalEmails:     row.TotalEmails,
		CompletedEmails: row.CompletedEmails,
		Results:         row.Results,
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
	}

	go func() {
		sent, attempts := n.deliverWithRetry(responseURL, body)
		done(sent, attempts)
	}()
}

func (n *Notifier) deliverWithRetry(responseURL string, body payload) (bool, int) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		n.logger.Error("webhook: failed to marshal payload", "request_id", body.RequestID, "error", err)
		return false, 0
	}

	attempts := 0
	for attempt := 1; attempt <= n.cfg.MaxAttempts; attempt++ {
		attempts = attempt
		if n.post(responseURL, jsonBody) {
			return true, attempts
		}
		if attempt == n.cfg.MaxAttempts {
			break
		}
		backoff := time.Duration(attempt) * n.cfg.BackoffUnit
		if backoff > backoffCap {
			backoff = backoffCap
		}
		time.Sleep(backoff)
	}

	n.logger.Error("webhook: delivery failed after retries", "request_id", body.RequestID, "attempts", attempts)
	return false, attempts
}

func (n *Notifier) post(responseURL string, jsonBody []byte) bool {
	ctx, cancel := context.WithTimeout(context.Background(), n.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, responseURL, bytes.NewReader(jsonBody))
	if err != nil {
		n.logger.Error("webhook: failed to build request", "error", err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		n.logger.Warn("webhook: post failed", "error", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		n.logger.Warn("webhook: non-200 response", "status", resp.StatusCode)
		return false
	}
	return true
}
