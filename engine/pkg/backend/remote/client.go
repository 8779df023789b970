// Package remote is the HTTP client of the hosted geospatial backend. It
// authenticates with a service account, rate limits its requests and retries
// transient transport failures.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	"github.com/malbeclabs/wapor/engine/pkg/backend"
	"github.com/malbeclabs/wapor/engine/pkg/metrics"
	"github.com/malbeclabs/wapor/engine/pkg/werr"
	"github.com/malbeclabs/wapor/utils/pkg/retry"
)

const maxErrorBody = 4 << 10

var errClosed = errors.New("backend client is closed")

// submitOps start work on the backend. A timed out submission may still have
// been accepted, so they are sent once and never retried.
var submitOps = map[string]bool{
	"export": true,
}

var _ backend.GeospatialBackend = (*Client)(nil)

type Client struct {
	log     *slog.Logger
	cfg     Config
	base    string
	http    *http.Client
	limiter *rate.Limiter
	closed  atomic.Bool
}

// Open acquires a token for cfg.Credentials and returns a client bound to
// it. Authentication failures surface here, before any other call. Callers
// must Close the client.
func Open(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}

	cc := &clientcredentials.Config{
		ClientID:     cfg.Credentials.ClientID,
		ClientSecret: cfg.Credentials.ClientSecret,
		TokenURL:     cfg.Credentials.TokenURL,
		Scopes:       cfg.Credentials.Scopes,
	}
	// Token refreshes outlive the caller's context.
	tokenCtx := context.WithValue(context.WithoutCancel(ctx), oauth2.HTTPClient, cfg.HTTPClient)
	src := cc.TokenSource(tokenCtx)
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate with backend: %w", err)
	}

	httpClient := oauth2.NewClient(tokenCtx, oauth2.ReuseTokenSource(tok, src))
	httpClient.Timeout = cfg.Timeout

	cfg.Logger.Info("remote: backend session opened", "url", cfg.BaseURL, "client_id", cfg.Credentials.ClientID)
	return &Client{
		log:     cfg.Logger,
		cfg:     cfg,
		base:    strings.TrimRight(cfg.BaseURL, "/"),
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
	}, nil
}

// Close releases the session. It is safe to call more than once.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.http.CloseIdleConnections()
	c.log.Debug("remote: backend session closed")
	return nil
}

// call performs one JSON request. Non-2xx responses become BackendErrors
// carrying the status, which lets retry classify 429 and 5xx as transient.
func (c *Client) call(ctx context.Context, op, method, path string, in, out any) error {
	if c.closed.Load() {
		return werr.Backend(op, errClosed)
	}

	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode %s request: %w", op, err)
		}
	}

	start := time.Now()
	status := 0
	cfg := c.cfg.Retry
	cfg.OnRetry = func(attempt int, err error) {
		c.log.Warn("remote: retrying request", "op", op, "attempt", attempt, "error", err)
	}
	if submitOps[op] {
		cfg.MaxAttempts = 1
		cfg.Retryable = func(error) bool { return false }
	}
	err := retry.Do(ctx, cfg, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
		if err != nil {
			return fmt.Errorf("failed to build %s request: %w", op, err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return werr.Backend(op, err)
		}
		defer resp.Body.Close()
		status = resp.StatusCode

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			return &werr.BackendError{Op: op, Status: resp.StatusCode, Err: errors.New(strings.TrimSpace(string(msg)))}
		}
		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return werr.Backend(op, fmt.Errorf("failed to decode response: %w", err))
			}
		}
		return nil
	})

	label := strconv.Itoa(status)
	if status == 0 {
		label = "error"
	}
	metrics.BackendRequestsTotal.WithLabelValues(op, label).Inc()
	metrics.BackendRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		c.log.Debug("remote: request failed", "op", op, "path", path, "status", status, "error", err)
	}
	return err
}

func statusOf(err error) int {
	var be *werr.BackendError
	if errors.As(err, &be) {
		return be.Status
	}
	return 0
}
