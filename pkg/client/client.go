// Package client is a small HTTP client for the vidgen engine API.
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
	"strconv"
	"strings"
	"time"
)

// Client talks to one engine instance.
type Client struct {
	BaseURL    string
	AdminToken string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{BaseURL: baseURL, Timeout: 15 * time.Second}
}

// Brief is the submit payload. Money values are decimal dollar strings.
type Brief struct {
	Prompt          string `json:"prompt"`
	Platform        string `json:"platform"`
	DurationSeconds int    `json:"duration_seconds"`
	Style           string `json:"style,omitempty"`
	Priority        string `json:"priority,omitempty"`
	MaxCost         string `json:"max_cost,omitempty"`
	AspectRatio     string `json:"aspect_ratio,omitempty"`
	Resolution      string `json:"resolution,omitempty"`
	SourceImageURL  string `json:"source_image_url,omitempty"`
}

// Artifact is the delivered video (partial).
type Artifact struct {
	URL         string   `json:"url"`
	Format      string   `json:"format"`
	Width       int      `json:"width"`
	Height      int      `json:"height"`
	FileSize    int64    `json:"file_size"`
	Provider    string   `json:"provider"`
	Profile     string   `json:"profile"`
	Corrections []string `json:"corrections"`
	TotalCost   string   `json:"total_cost"`
}

// Attempt is one provider try.
type Attempt struct {
	Provider  string `json:"provider"`
	Status    string `json:"status"`
	Estimated string `json:"estimated"`
	Charged   string `json:"charged"`
	ErrorKind string `json:"error_kind"`
	Error     string `json:"error"`
}

// Job mirrors the queued job view.
type Job struct {
	ID          string    `json:"id"`
	Brief       Brief     `json:"brief"`
	Priority    string    `json:"priority"`
	Status      string    `json:"status"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	InFlight    bool      `json:"in_flight"`
	ErrorKind   string    `json:"error_kind"`
	Error       string    `json:"error"`
	Artifact    *Artifact `json:"artifact"`
	History     []Attempt `json:"history"`
	TotalCost   string    `json:"total_cost"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Terminal reports whether the job will not change again.
func (j Job) Terminal() bool {
	switch j.Status {
	case "succeeded", "failed", "cancelled":
		return true
	}
	return false
}

// RateLimit is a provider's current request window.
type RateLimit struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// Provider is one chain entry.
type Provider struct {
	ID                 string    `json:"id"`
	Kind               string    `json:"kind"`
	Enabled            bool      `json:"enabled"`
	Priority           int       `json:"priority"`
	CostPerUnit        string    `json:"cost_per_unit"`
	CostUnit           string    `json:"cost_unit"`
	RequestsPerMinute  int       `json:"requests_per_minute"`
	MaxDurationSeconds int       `json:"max_duration_seconds"`
	TimeoutSeconds     int       `json:"timeout_seconds"`
	Styles             []string  `json:"styles"`
	ImageToVideo       bool      `json:"image_to_video"`
	RateLimit          RateLimit `json:"rate_limit"`
}

// Chain is the provider chain view.
type Chain struct {
	Version   uint64     `json:"version"`
	LoadedAt  time.Time  `json:"loaded_at"`
	Providers []Provider `json:"providers"`
}

// Window is one budget window.
type Window struct {
	Scope       string    `json:"scope"`
	Key         string    `json:"key"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	Limit       string    `json:"limit"`
	Spent       string    `json:"spent"`
	Reserved    string    `json:"reserved"`
}

// Budget is the ledger view.
type Budget struct {
	Tolerance string   `json:"tolerance"`
	Windows   []Window `json:"windows"`
}

// Event is one entry of the event stream.
type Event struct {
	Seq       int64           `json:"seq"`
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Kind      string          `json:"kind"`
	JobID     string          `json:"job_id"`
	Provider  string          `json:"provider"`
	Status    string          `json:"status"`
	ErrorKind string          `json:"error_kind"`
	Estimated string          `json:"estimated"`
	Cost      string          `json:"cost"`
	Payload   json.RawMessage `json:"payload"`
}

// EventsPage is a slice of the stream plus the cursor to resume from.
type EventsPage struct {
	Items   []Event `json:"items"`
	LastSeq int64   `json:"last_seq"`
}

// ProviderStats aggregates attempts per provider.
type ProviderStats struct {
	Provider    string  `json:"provider"`
	Attempts    int64   `json:"attempts"`
	Succeeded   int64   `json:"succeeded"`
	Failed      int64   `json:"failed"`
	TimedOut    int64   `json:"timed_out"`
	Skipped     int64   `json:"skipped"`
	TotalCost   string  `json:"total_cost"`
	SuccessRate float64 `json:"success_rate"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsNotFound reports whether err is a 404 from the engine.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

type submitResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// Submit enqueues a brief and returns the job id.
func (c *Client) Submit(ctx context.Context, b Brief) (string, error) {
	var resp submitResponse
	err := c.do(ctx, http.MethodPost, "v1/jobs", b, &resp)
	return resp.JobID, err
}

// Job fetches one job.
func (c *Client) Job(ctx context.Context, id string) (Job, error) {
	var resp Job
	err := c.do(ctx, http.MethodGet, "v1/jobs/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Jobs lists retained jobs, optionally filtered by status.
func (c *Client) Jobs(ctx context.Context, status string) ([]Job, error) {
	endpoint := "v1/jobs"
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp []Job
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Cancel cancels a job that has not resolved yet.
func (c *Client) Cancel(ctx context.Context, id string) (Job, error) {
	var resp Job
	err := c.do(ctx, http.MethodPost, "v1/jobs/"+url.PathEscape(id)+"/cancel", nil, &resp)
	return resp, err
}

// Wait polls a job every interval until it is terminal or ctx ends.
func (c *Client) Wait(ctx context.Context, id string, interval time.Duration) (Job, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		job, err := c.Job(ctx, id)
		if err != nil {
			return job, err
		}
		if job.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Providers returns the current chain.
func (c *Client) Providers(ctx context.Context) (Chain, error) {
	var resp Chain
	err := c.do(ctx, http.MethodGet, "v1/providers", nil, &resp)
	return resp, err
}

// SetEnabled toggles a provider. Requires the admin token.
func (c *Client) SetEnabled(ctx context.Context, id string, enabled bool) (Chain, error) {
	action := "disable"
	if enabled {
		action = "enable"
	}
	var resp Chain
	err := c.do(ctx, http.MethodPost, "v1/providers/"+url.PathEscape(id)+"/"+action, nil, &resp)
	return resp, err
}

// Reload asks the engine to re-read its provider file. Requires the admin token.
func (c *Client) Reload(ctx context.Context) (Chain, error) {
	var resp Chain
	err := c.do(ctx, http.MethodPost, "v1/providers/reload", nil, &resp)
	return resp, err
}

// Budget returns the ledger windows.
func (c *Client) Budget(ctx context.Context) (Budget, error) {
	var resp Budget
	err := c.do(ctx, http.MethodGet, "v1/budget", nil, &resp)
	return resp, err
}

// Events returns events after since.
func (c *Client) Events(ctx context.Context, since int64, limit int) (EventsPage, error) {
	q := url.Values{}
	q.Set("since", strconv.FormatInt(since, 10))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp EventsPage
	err := c.do(ctx, http.MethodGet, "v1/events?"+q.Encode(), nil, &resp)
	return resp, err
}

// ProviderStats returns per-provider attempt aggregates.
func (c *Client) ProviderStats(ctx context.Context) ([]ProviderStats, error) {
	var resp []ProviderStats
	err := c.do(ctx, http.MethodGet, "v1/stats/providers", nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.AdminToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.AdminToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	b, _ := io.ReadAll(resp.Body)
	apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(b, &envelope) == nil {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	}
	return apiErr
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
