// Package kayas provides a small Go client for the assistant REST API.
package kayas

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. Synchronous runs can take a while, so it is generous.
const DefaultHTTPTimeout = 120 * time.Second

// Client wraps the HTTP interactions with the assistant REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// RunRequest describes a goal to execute.
type RunRequest struct {
	ID        string         `json:"id,omitempty"`
	Goal      string         `json:"goal"`
	MaxSteps  int            `json:"max_steps,omitempty"`
	BeamWidth int            `json:"beam_width,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ActionRecord is one executed action and its result.
type ActionRecord struct {
	Tool   string         `json:"tool"`
	Args   map[string]any `json:"args"`
	Result map[string]any `json:"result"`
}

// RunResult is the full outcome of a finished run.
type RunResult struct {
	RunID        string         `json:"run_id"`
	Goal         string         `json:"goal"`
	FinalText    string         `json:"final_text"`
	ActionsTaken []ActionRecord `json:"actions_taken"`
	Traces       []string       `json:"traces,omitempty"`
	CreatedAt    int64          `json:"created_at"`
}

// ExecutionResult is the archived outcome attached to a completed task.
type ExecutionResult struct {
	RunID        string `json:"run_id"`
	FinalText    string `json:"final_text"`
	Actions      string `json:"actions"`
	Observations string `json:"observations"`
}

// Task is a queued goal with its lifecycle state.
type Task struct {
	ID         string           `json:"id"`
	Goal       string           `json:"goal"`
	MaxSteps   int              `json:"max_steps"`
	BeamWidth  int              `json:"beam_width"`
	Metadata   map[string]any   `json:"metadata,omitempty"`
	Status     string           `json:"status"`
	Attempts   int              `json:"attempts"`
	MaxRetries int              `json:"max_retries"`
	LastError  string           `json:"last_error,omitempty"`
	ErrorCode  string           `json:"error_code,omitempty"`
	Result     *ExecutionResult `json:"result,omitempty"`
	CreatedAt  int64            `json:"created_at"`
	UpdatedAt  int64            `json:"updated_at"`
}

// Task lifecycle states as reported by the server.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// TaskStats aggregates queue state counters.
type TaskStats struct {
	Total           int   `json:"total"`
	Pending         int   `json:"pending"`
	Running         int   `json:"running"`
	Succeeded       int   `json:"succeeded"`
	Failed          int   `json:"failed"`
	OldestUpdatedAt int64 `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64 `json:"newest_updated_at,omitempty"`
}

// ListTasksOptions filters the task listing endpoint.
type ListTasksOptions struct {
	Limit    int
	Statuses []string
	Query    string
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("kayas api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the assistant API. When httpClient is
// nil, a default client with a generous timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// Run executes a goal synchronously and returns the finished result.
func (c *Client) Run(ctx context.Context, req RunRequest) (RunResult, error) {
	var result RunResult
	if err := c.post(ctx, "/api/v1/runs", req, &result); err != nil {
		return RunResult{}, err
	}
	return result, nil
}

// ListRuns returns the most recent archived runs, newest first.
func (c *Client) ListRuns(ctx context.Context, limit int) ([]RunResult, error) {
	endpoint := "/api/v1/runs"
	if limit > 0 {
		endpoint += "?limit=" + strconv.Itoa(limit)
	}
	var results []RunResult
	if err := c.get(ctx, endpoint, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// SendFeedback attaches free-form user feedback to an archived run. The
// server turns accumulated feedback into preference training data.
func (c *Client) SendFeedback(ctx context.Context, runID, feedback string) error {
	endpoint := fmt.Sprintf("/api/v1/runs/%s/feedback", url.PathEscape(runID))
	payload := map[string]string{"feedback": feedback}
	return c.post(ctx, endpoint, payload, nil)
}

// SubmitTask queues a goal for asynchronous execution.
func (c *Client) SubmitTask(ctx context.Context, req RunRequest) (Task, error) {
	var submitted Task
	if err := c.post(ctx, "/api/v1/tasks", req, &submitted); err != nil {
		return Task{}, err
	}
	return submitted, nil
}

// GetTask fetches task details by identifier.
func (c *Client) GetTask(ctx context.Context, taskID string) (Task, error) {
	var detail Task
	endpoint := "/api/v1/tasks/" + url.PathEscape(taskID)
	if err := c.get(ctx, endpoint, &detail); err != nil {
		return Task{}, err
	}
	return detail, nil
}

// ListTasks returns tasks matching the given filters, newest first.
func (c *Client) ListTasks(ctx context.Context, opts ListTasksOptions) ([]Task, error) {
	values := url.Values{}
	if opts.Limit > 0 {
		values.Set("limit", strconv.Itoa(opts.Limit))
	}
	if len(opts.Statuses) > 0 {
		values.Set("status", joinComma(opts.Statuses))
	}
	if opts.Query != "" {
		values.Set("q", opts.Query)
	}
	endpoint := "/api/v1/tasks"
	if encoded := values.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}
	var tasks []Task
	if err := c.get(ctx, endpoint, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// TaskStats returns aggregate queue counters.
func (c *Client) TaskStats(ctx context.Context) (TaskStats, error) {
	var stats TaskStats
	if err := c.get(ctx, "/api/v1/tasks/stats", &stats); err != nil {
		return TaskStats{}, err
	}
	return stats, nil
}

// WaitForTask polls until the task reaches a terminal state or the context
// is cancelled.
func (c *Client) WaitForTask(ctx context.Context, taskID string, interval time.Duration) (Task, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		detail, err := c.GetTask(ctx, taskID)
		if err != nil {
			return Task{}, err
		}
		if detail.Status == StatusSucceeded || detail.Status == StatusFailed {
			return detail, nil
		}
		select {
		case <-ctx.Done():
			return Task{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Health checks the server liveness endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.get(ctx, "/healthz", nil)
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	rel := &url.URL{Path: path.Join(c.baseURL.Path, parsed.Path), RawQuery: parsed.RawQuery}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(bytes.TrimSpace(data)),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func joinComma(items []string) string {
	var b bytes.Buffer
	for i, item := range items {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(item)
	}
	return b.String()
}
