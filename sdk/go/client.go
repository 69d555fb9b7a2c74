package stewardsdk

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

// Client is a minimal Steward HTTP API client.
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

// Verdict is an authorization outcome.
type Verdict struct {
	Outcome string `json:"outcome"`
	Reason  string `json:"reason"`
}

// Proceed reports whether the caller may continue without review.
func (v Verdict) Proceed() bool {
	return v.Outcome == "AUTO_APPROVE" || v.Outcome == "ALLOWED"
}

// HandoffReport is a handoff validation result.
type HandoffReport struct {
	Valid    bool     `json:"valid"`
	FromRole string   `json:"from_role"`
	ToRole   string   `json:"to_role"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Notification is one mailbox deposit produced by a sync event.
type Notification struct {
	Type   string `json:"type"`
	TaskID string `json:"taskId"`
	Actor  string `json:"actor,omitempty"`
	TS     string `json:"ts"`
}

// SyncResult is the outcome of processing one state-change event.
type SyncResult struct {
	TaskID        string         `json:"taskId"`
	Version       int64          `json:"version"`
	Notifications []Notification `json:"notifications"`
}

// SyncState mirrors the durable per-task version counters.
type SyncState struct {
	LastUpdated  string           `json:"last_updated,omitempty"`
	TaskVersions map[string]int64 `json:"task_versions"`
}

// InboxRecord is one mailbox entry.
type InboxRecord struct {
	ID      string `json:"id"`
	Role    string `json:"role"`
	Type    string `json:"type"`
	TaskID  string `json:"taskId,omitempty"`
	ActorID string `json:"actor_id,omitempty"`
	TS      string `json:"ts"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CheckProposal authorizes a proposal document.
func (c *Client) CheckProposal(ctx context.Context, proposal map[string]any) (Verdict, error) {
	var resp Verdict
	err := c.do(ctx, http.MethodPost, "v0/decisions/proposals", proposal, &resp)
	return resp, err
}

// CheckTransition authorizes a task transition for a role.
func (c *Client) CheckTransition(ctx context.Context, taskID, status, owner, role string) (Verdict, error) {
	body := map[string]any{
		"taskId": taskID,
		"role":   role,
	}
	if status != "" {
		body["status"] = status
	}
	if owner != "" {
		body["owner"] = owner
	}
	var resp Verdict
	err := c.do(ctx, http.MethodPost, "v0/decisions/transitions", body, &resp)
	return resp, err
}

// ValidateHandoff validates a handoff document readable by the server.
func (c *Client) ValidateHandoff(ctx context.Context, path, fromRole, toRole string) (HandoffReport, error) {
	body := map[string]any{
		"path":      path,
		"from_role": fromRole,
		"to_role":   toRole,
	}
	var resp HandoffReport
	err := c.do(ctx, http.MethodPost, "v0/handoffs/validations", body, &resp)
	return resp, err
}

// Notify reports a task state change and returns the new version.
func (c *Client) Notify(ctx context.Context, taskID, status, actor string) (SyncResult, error) {
	body := map[string]any{
		"taskId": taskID,
		"status": status,
	}
	if actor != "" {
		body["actor"] = actor
	}
	var resp SyncResult
	err := c.do(ctx, http.MethodPost, "v0/sync/notifications", body, &resp)
	return resp, err
}

// SyncState returns the per-task version counters.
func (c *Client) SyncState(ctx context.Context) (SyncState, error) {
	var resp SyncState
	err := c.do(ctx, http.MethodGet, "v0/sync/state", nil, &resp)
	return resp, err
}

// Inbox lists a role's mailbox, oldest first.
func (c *Client) Inbox(ctx context.Context, role string, limit int) ([]InboxRecord, error) {
	endpoint := fmt.Sprintf("v0/inboxes/%s", url.PathEscape(role))
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []InboxRecord
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
