package actionlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Actionline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Task represents one extracted action item (partial tree node).
type Task struct {
	ID                   string   `json:"id"`
	Title                string   `json:"title"`
	Status               string   `json:"status"`
	CompletionSuggested  bool     `json:"completion_suggested,omitempty"`
	CompletionConfidence *float64 `json:"completion_confidence,omitempty"`
	Subtasks             []Task   `json:"subtasks,omitempty"`
}

// Session represents a meeting or chat record.
type Session struct {
	ID        string `json:"id"`
	Alias     string `json:"alias,omitempty"`
	Kind      string `json:"kind"`
	Title     string `json:"title,omitempty"`
	TaskCount int    `json:"task_count"`
	Tasks     []Task `json:"tasks,omitempty"`
	UpdatedAt string `json:"updated_at"`
}

// FlatTask is the per-person projection of a tree task.
type FlatTask struct {
	ID                  string `json:"id"`
	SourceSessionID     string `json:"source_session_id"`
	Title               string `json:"title"`
	Status              string `json:"status"`
	AssigneeEmail       string `json:"assignee_email,omitempty"`
	CompletionSuggested bool   `json:"completion_suggested,omitempty"`
}

// RescanStats summarizes one reconciliation run.
type RescanStats struct {
	Mode              string `json:"mode"`
	NewTasksAdded     int    `json:"new_tasks_added"`
	CompletionUpdates int    `json:"completion_updates"`
	AutoApproved      int    `json:"auto_approved"`
}

// RescanJob is the lifecycle record of one queued rescan.
type RescanJob struct {
	ID        string       `json:"id"`
	Status    string       `json:"status"`
	MeetingID string       `json:"meeting_id"`
	Error     string       `json:"error,omitempty"`
	Stats     *RescanStats `json:"stats,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	SessionID  string         `json:"session_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ImportSession registers a meeting or chat session.
func (c *Client) ImportSession(ctx context.Context, id, kind, title, transcript string) (Session, error) {
	body := map[string]any{
		"id":         id,
		"kind":       kind,
		"title":      title,
		"transcript": transcript,
	}
	var resp Session
	err := c.do(ctx, http.MethodPost, "v0/sessions", body, &resp)
	return resp, err
}

// Rescan queues a reconciliation run for a meeting.
func (c *Client) Rescan(ctx context.Context, meetingID, mode string) (RescanJob, error) {
	body := map[string]any{
		"meeting_id": meetingID,
		"mode":       mode,
	}
	var resp RescanJob
	err := c.do(ctx, http.MethodPost, "v0/rescans", body, &resp)
	return resp, err
}

// RescanStatus fetches a queued rescan's state.
func (c *Client) RescanStatus(ctx context.Context, jobID string) (RescanJob, error) {
	var resp RescanJob
	err := c.do(ctx, http.MethodGet, "v0/rescans/"+url.PathEscape(jobID), nil, &resp)
	return resp, err
}

// WaitForRescan polls a job until it leaves the queue or the context ends.
func (c *Client) WaitForRescan(ctx context.Context, jobID string, interval time.Duration) (RescanJob, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	for {
		job, err := c.RescanStatus(ctx, jobID)
		if err != nil {
			return job, err
		}
		if job.Status == "done" || job.Status == "failed" {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-time.After(interval):
		}
	}
}

// GetSession fetches a session with its task tree.
func (c *Client) GetSession(ctx context.Context, idOrAlias string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodGet, "v0/sessions/"+url.PathEscape(idOrAlias), nil, &resp)
	return resp, err
}

// ListTasks returns flat tasks for the authenticated user.
func (c *Client) ListTasks(ctx context.Context, sessionID, status string) ([]FlatTask, error) {
	endpoint := "v0/tasks"
	q := url.Values{}
	if sessionID != "" {
		q.Set("session_id", sessionID)
	}
	if status != "" {
		q.Set("status", status)
	}
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []FlatTask
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent events newest-first.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
