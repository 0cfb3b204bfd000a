// Askrelay - Durable Question Queue and Auto-Posting Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/askrelay

package poster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/askrelay/internal/logging"
)

const (
	defaultTimeout        = 30 * time.Second
	defaultMinPostSpacing = 5 * time.Second
	defaultRetryAfter     = 60 * time.Second
	maxResponseBytes      = 8192
)

// Config holds posting client configuration.
type Config struct {
	// Endpoint is the URL posts are submitted to.
	Endpoint string

	// Timeout bounds a single HTTP round trip. Default: 30s.
	Timeout time.Duration

	// MinPostSpacing is the minimum interval between outgoing posts,
	// enforced client-side. Default: 5s.
	MinPostSpacing time.Duration

	// MaxNetworkRetries is how many times a transient failure is
	// retried within a single Post call. Default: 3.
	MaxNetworkRetries int

	// UserAgent is sent with every request.
	UserAgent string
}

// Result describes a successful post.
type Result struct {
	ExternalID string
	PostedAt   time.Time
	Attempts   int
}

// Client posts question text to the configured endpoint. Transient
// failures are retried with exponential backoff inside Post; typed
// errors from the taxonomy in this package are returned for everything
// the caller must handle itself.
type Client struct {
	http    *http.Client
	config  Config
	creds   CredentialProvider
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[*Result]
	logger  zerolog.Logger

	// injectable for tests
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

type postRequest struct {
	Text string `json:"text"`
}

type postResponse struct {
	ID      string `json:"id"`
	Message string `json:"message,omitempty"`
}

// New creates a posting client.
func New(cfg Config, creds CredentialProvider) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MinPostSpacing <= 0 {
		cfg.MinPostSpacing = defaultMinPostSpacing
	}
	if cfg.MaxNetworkRetries <= 0 {
		cfg.MaxNetworkRetries = 3
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "askrelay/1.0"
	}

	logger := logging.With().Str("component", "poster").Logger()

	breaker := gobreaker.NewCircuitBreaker[*Result](gobreaker.Settings{
		Name:        "post-endpoint",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Only transport and server-side failures count against the
		// endpoint's health. Auth and request errors are ours.
		IsSuccessful: func(err error) bool {
			return err == nil || !Retryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("from", breakerStateString(from)).Str("to", breakerStateString(to)).Msg("Circuit breaker state changed")
			updateBreakerState(to)
		},
	})

	return &Client{
		http:    &http.Client{Timeout: cfg.Timeout},
		config:  cfg,
		creds:   creds,
		limiter: rate.NewLimiter(rate.Every(cfg.MinPostSpacing), 1),
		breaker: breaker,
		logger:  logger,
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

// Post submits text to the endpoint. Transient failures are retried
// up to MaxNetworkRetries times with 1s, 2s, 4s... backoff. All other
// errors return immediately with their typed classification; in
// particular a RateLimitedError is never retried here, the caller
// decides when to come back.
func (c *Client) Post(ctx context.Context, text string) (*Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	token, err := c.creds.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("poster: credential lookup: %w", err)
	}
	if err := checkTokenExpiry(token, c.now()); err != nil {
		recordPost("auth_error", 0)
		return nil, err
	}

	start := c.now()
	attempts := 0
	for {
		attempts++
		result, err := c.breaker.Execute(func() (*Result, error) {
			return c.doPost(ctx, token, text)
		})
		if err == nil {
			result.Attempts = attempts
			recordPost("success", c.now().Sub(start))
			c.logger.Info().Str("external_id", result.ExternalID).Int("attempts", attempts).Msg("Question posted")
			return result, nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = &NetworkError{Err: err}
		}

		if !Retryable(err) || attempts > c.config.MaxNetworkRetries {
			recordPost(outcomeLabel(err), c.now().Sub(start))
			return nil, err
		}

		backoff := time.Duration(1<<(attempts-1)) * time.Second
		c.logger.Warn().Err(err).Int("attempt", attempts).Dur("backoff", backoff).Msg("Transient post failure, retrying")
		recordRetry()
		if err := c.sleep(ctx, backoff); err != nil {
			return nil, err
		}
	}
}

// doPost performs one HTTP round trip and classifies the outcome.
func (c *Client) doPost(ctx context.Context, token, text string) (*Result, error) {
	payload, err := json.Marshal(postRequest{Text: text})
	if err != nil {
		return nil, &BadRequestError{Message: fmt.Sprintf("marshal payload: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &BadRequestError{Message: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", c.config.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &NetworkError{Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		var parsed postResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			// Accepted but unparseable; treat the post as delivered.
			c.logger.Warn().Err(err).Msg("Unparseable success response")
		}
		return &Result{ExternalID: parsed.ID, PostedAt: c.now()}, nil
	}

	return nil, classifyStatus(resp, body)
}

// classifyStatus maps an HTTP error response to the typed taxonomy.
func classifyStatus(resp *http.Response, body []byte) error {
	message := responseMessage(body)

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return &AuthError{Message: message}
	case http.StatusForbidden:
		return &PermissionError{Message: message}
	case http.StatusTooManyRequests:
		return &RateLimitedError{RetryAfter: retryAfterHeader(resp), Message: message}
	case http.StatusBadRequest, http.StatusNotFound, http.StatusGone:
		return &BadRequestError{StatusCode: resp.StatusCode, Message: message}
	}
	if resp.StatusCode >= 500 {
		return &NetworkError{Err: fmt.Errorf("server error %d: %s", resp.StatusCode, message)}
	}
	return &BadRequestError{StatusCode: resp.StatusCode, Message: message}
}

// retryAfterHeader parses Retry-After as delay seconds, falling back
// to a fixed default when absent or malformed.
func retryAfterHeader(resp *http.Response) time.Duration {
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return defaultRetryAfter
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(raw); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return defaultRetryAfter
}

func responseMessage(body []byte) string {
	var parsed postResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Message != "" {
		return parsed.Message
	}
	if len(body) == 0 {
		return "no response body"
	}
	return string(body)
}

func outcomeLabel(err error) string {
	var (
		authErr *AuthError
		permErr *PermissionError
		rlErr   *RateLimitedError
		reqErr  *BadRequestError
	)
	switch {
	case errors.As(err, &authErr):
		return "auth_error"
	case errors.As(err, &permErr):
		return "permission_error"
	case errors.As(err, &rlErr):
		return "rate_limited"
	case errors.As(err, &reqErr):
		return "bad_request"
	default:
		return "network_error"
	}
}

func breakerStateString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
