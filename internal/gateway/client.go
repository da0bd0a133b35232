// Package gateway is the only code that talks to the external record store.
package gateway

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

	"hiring-pipeline-agents/internal/config"
	"hiring-pipeline-agents/internal/models"
)

const maxResponseBytes = 16 << 20

// ErrConflict is returned by SetStatus when the store rejected a conditional
// update because the record no longer holds the expected status.
var ErrConflict = errors.New("record status changed since it was read")

// StatusError reports a non-2xx response from the record store.
type StatusError struct {
	Method string
	Path   string
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Code)
}

// Limiter throttles writes. Implemented by ratelimit.TokenBucket.
type Limiter interface {
	Wait(ctx context.Context, key string) error
}

// Batch is the decoded candidates listing. Skipped holds one error per entry
// that could not be used.
type Batch struct {
	Candidates []models.Candidate
	Skipped    []error
}

// Client issues bounded-timeout requests against the record store.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	timeout     time.Duration
	conditional bool
	limiter     Limiter
	limiterKey  string
}

// Option customizes a Client.
type Option func(*Client)

// WithLimiter throttles SetStatus through l.
func WithLimiter(l Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithHTTPClient replaces the underlying transport. The per-call timeout still applies.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New constructs a client from config.
func New(cfg config.Config, opts ...Option) *Client {
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	base := strings.TrimRight(cfg.APIBaseURL, "/")
	c := &Client{
		baseURL:     base,
		httpClient:  &http.Client{Timeout: timeout},
		timeout:     timeout,
		conditional: cfg.ConditionalUpdates,
		limiterKey:  "status-writes:" + base,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchAll lists every candidate. Any transport failure, timeout, non-2xx
// response or undecodable body is returned as an error; callers treat it as an
// empty listing.
func (c *Client) FetchAll(ctx context.Context) (Batch, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/candidates", nil)
	if err != nil {
		return Batch{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Batch{}, fmt.Errorf("fetch candidates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		drain(resp.Body)
		return Batch{}, &StatusError{Method: http.MethodGet, Path: "/candidates", Code: resp.StatusCode}
	}

	var entries []json.RawMessage
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&entries); err != nil {
		return Batch{}, fmt.Errorf("decode candidates: %w", err)
	}

	batch := Batch{Candidates: make([]models.Candidate, 0, len(entries))}
	for i, raw := range entries {
		cand, err := models.DecodeCandidate(raw)
		if err != nil {
			batch.Skipped = append(batch.Skipped, fmt.Errorf("entry %d: %w", i, err))
			continue
		}
		batch.Candidates = append(batch.Candidates, cand)
	}
	return batch, nil
}

type statusRequest struct {
	Status         string  `json:"status"`
	ExpectedStatus *string `json:"expectedStatus,omitempty"`
}

// SetStatus writes next as the candidate's status. When conditional updates
// are enabled the status the caller observed is sent along so a store that
// supports it can reject a stale write with 409. expected is sent exactly as
// it was read. The throttle wait counts against the request timeout. There is
// no internal retry.
func (c *Client) SetStatus(ctx context.Context, id models.CandidateID, next, expected string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, c.limiterKey); err != nil {
			return fmt.Errorf("throttle update for %s: %w", id, err)
		}
	}

	body := statusRequest{Status: next}
	if c.conditional {
		body.ExpectedStatus = &expected
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}

	path := "/candidates/" + url.PathEscape(id.String()) + "/status"
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("update candidate %s: %w", id, err)
	}
	defer resp.Body.Close()
	drain(resp.Body)

	switch {
	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("update candidate %s: %w", id, ErrConflict)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return &StatusError{Method: http.MethodPut, Path: path, Code: resp.StatusCode}
	}
	return nil
}

type heartbeatRequest struct {
	AgentName      string `json:"agentName"`
	ProcessedCount int    `json:"processedCount"`
}

// Heartbeat reports liveness and the number of transitions applied in the last
// cycle to the store's agent status endpoint.
func (c *Client) Heartbeat(ctx context.Context, agent string, processed int) error {
	payload, err := json.Marshal(heartbeatRequest{AgentName: agent, ProcessedCount: processed})
	if err != nil {
		return fmt.Errorf("marshal heartbeat: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/agentstatus/heartbeat", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	defer resp.Body.Close()
	drain(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Method: http.MethodPost, Path: "/agentstatus/heartbeat", Code: resp.StatusCode}
	}
	return nil
}

func drain(r io.Reader) {
	_, _ = io.Copy(io.Discard, io.LimitReader(r, 64<<10))
}
