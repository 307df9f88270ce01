// Package client drives the agent server's control plane and consumes its
// event streams. Each streaming operation (start, execute-approved, resume)
// owns one decode loop that feeds a single session; synchronous operations
// (approve, reject, cancel, answer, settings) apply optimistic local
// transitions and revert them when the server call fails.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"overseer/pkg/approval"
	"overseer/pkg/eventlog"
	"overseer/pkg/logx"
	"overseer/pkg/metrics"
	"overseer/pkg/utils"
)

// Stream phases, used as journal and metrics labels.
const (
	PhaseStart   = "start"
	PhaseExecute = "execute"
	PhaseResume  = "resume"
)

// ErrNoPendingQuestion is returned when answering or resuming without a
// suspended question.
var ErrNoPendingQuestion = errors.New("no pending question to answer")

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

// WithJournal journals every decoded frame to the given writer.
func WithJournal(journal *eventlog.Writer) Option {
	return func(c *Client) { c.journal = journal }
}

// WithRecorder records protocol metrics to the given recorder.
func WithRecorder(recorder metrics.Recorder) Option {
	return func(c *Client) { c.recorder = recorder }
}

// WithTokenCounter tracks transcript size in tokens as text streams in.
func WithTokenCounter(counter *utils.TokenCounter) Option {
	return func(c *Client) { c.counter = counter }
}

// WithRequestTimeout bounds synchronous control calls. Streams are never
// bounded by this timeout.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(c *Client) { c.requestTimeout = timeout }
}

// Client talks to one agent server.
type Client struct {
	baseURL        string
	token          string
	httpClient     *http.Client
	requestTimeout time.Duration
	journal        *eventlog.Writer
	recorder       metrics.Recorder
	counter        *utils.TokenCounter
	logger         *logx.Logger
}

// New creates a client for the agent server at baseURL authenticating with
// the given bearer token.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:        baseURL,
		token:          token,
		httpClient:     &http.Client{},
		requestTimeout: 30 * time.Second,
		recorder:       metrics.NopRecorder{},
		logger:         logx.NewLogger("client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// newRequest builds an authenticated JSON request with a correlation id.
func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("X-Request-ID", uuid.NewString())
	return req, nil
}

// doJSON performs a synchronous control call and decodes the response into
// out (which may be nil).
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("request to %s failed: %s", path, readErrorBody(resp))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response from %s: %w", path, err)
		}
	}
	return nil
}

// openStream performs a streaming call and returns the live response body.
func (c *Client) openStream(ctx context.Context, path string, body any) (io.ReadCloser, error) {
	req, err := c.newRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stream request to %s failed: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		message := readErrorBody(resp)
		_ = resp.Body.Close()
		return nil, fmt.Errorf("stream request to %s failed: %s", path, message)
	}
	if resp.Body == nil {
		return nil, fmt.Errorf("stream request to %s returned no body", path)
	}
	return resp.Body, nil
}

// readErrorBody extracts a human-readable message from a non-2xx response.
func readErrorBody(resp *http.Response) string {
	if resp.Body != nil {
		data, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if err == nil && len(data) > 0 {
			var payload struct {
				Error string `json:"error"`
			}
			if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
				return fmt.Sprintf("%s (HTTP %d)", payload.Error, resp.StatusCode)
			}
			return fmt.Sprintf("%s (HTTP %d)", string(data), resp.StatusCode)
		}
	}
	return fmt.Sprintf("HTTP %d", resp.StatusCode)
}

// GetToolApprovals fetches the per-project tool approval settings.
func (c *Client) GetToolApprovals(ctx context.Context) (approval.Settings, error) {
	var settings approval.Settings
	if err := c.doJSON(ctx, http.MethodGet, "/api/settings/tool-approvals", nil, &settings); err != nil {
		return approval.Settings{}, err
	}
	return settings, nil
}

// UpdateToolApprovals replaces the per-project tool approval settings.
func (c *Client) UpdateToolApprovals(ctx context.Context, settings approval.Settings) error {
	return c.doJSON(ctx, http.MethodPut, "/api/settings/tool-approvals", settings, nil)
}
