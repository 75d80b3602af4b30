package video

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"vidgen/internal/domain"
	"vidgen/internal/infra"
	"vidgen/internal/ratelimit"
)

// ErrMissingAPIKey indicates that a remote provider was configured without credentials.
var ErrMissingAPIKey = errors.New("video: api key is required")

const defaultRetryAfter = time.Minute

// apiClient performs the JSON calls shared by the remote providers.
type apiClient struct {
	provider   string
	baseURL    string
	headers    map[string]string
	httpClient *http.Client
	window     *ratelimit.Window
	logger     *infra.Logger
	now        func() time.Time
}

func newAPIClient(s Settings, defaultBaseURL string, b *base, headers map[string]string) (*apiClient, error) {
	if strings.TrimSpace(s.APIKey) == "" {
		return nil, fmt.Errorf("%s: %w", s.ID, ErrMissingAPIKey)
	}
	httpClient := s.HTTPClient
	if httpClient == nil {
		timeout := s.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(s.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &apiClient{
		provider:   s.ID,
		baseURL:    baseURL,
		headers:    headers,
		httpClient: httpClient,
		window:     b.window,
		logger:     b.logger,
		now:        b.now,
	}, nil
}

type errorBody struct {
	Error   any    `json:"error"`
	Message string `json:"message"`
}

// do sends in as JSON and decodes the response into out. HTTP failures are
// mapped onto the domain error kinds.
func (c *apiClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", c.provider, err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", c.provider, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return domain.NewProviderError(c.provider, domain.ErrProviderUnavailable, "http request: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return domain.NewProviderError(c.provider, domain.ErrProviderUnavailable, "read response: %v", err)
	}

	if resp.StatusCode >= 300 {
		detail := errorDetail(raw, resp.StatusCode)
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			c.window.Block(c.now().Add(retryAfter(resp.Header.Get("Retry-After"))))
			return domain.NewProviderError(c.provider, domain.ErrRateLimited, "%s", detail)
		case resp.StatusCode >= 500:
			return domain.NewProviderError(c.provider, domain.ErrProviderUnavailable, "%s", detail)
		default:
			return domain.NewProviderError(c.provider, domain.ErrRequestRejected, "%s", detail)
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return domain.NewProviderError(c.provider, domain.ErrGenerationFailed, "decode response: %v", err)
	}
	return nil
}

func errorDetail(raw []byte, status int) string {
	var eb errorBody
	if err := json.Unmarshal(raw, &eb); err == nil {
		if eb.Message != "" {
			return fmt.Sprintf("status %d: %s", status, eb.Message)
		}
		if s, ok := eb.Error.(string); ok && s != "" {
			return fmt.Sprintf("status %d: %s", status, s)
		}
	}
	text := strings.TrimSpace(string(raw))
	if len(text) > 200 {
		text = text[:200]
	}
	if text == "" {
		return fmt.Sprintf("status %d", status)
	}
	return fmt.Sprintf("status %d: %s", status, text)
}

func retryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return defaultRetryAfter
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return defaultRetryAfter
}
