// Package client is a typed HTTP client for the daemon API. The doctor
// probe and operator tooling drive the daemon through it.
package client

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

const defaultTimeout = 10 * time.Second

// StatusError is a non-2xx response, carrying the body's detail text.
type StatusError struct {
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Detail)
}

// Config carries the connection settings.
type Config struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client talks to one daemon.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New builds a client. The bearer token is attached to every request.
func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    httpClient,
	}
}

// CreateSession opens a session. Empty mode defaults server-side.
func (c *Client) CreateSession(ctx context.Context, goal, mode string) (map[string]any, error) {
	body := map[string]any{}
	if goal != "" {
		body["goal"] = goal
	}
	if mode != "" {
		body["mode"] = mode
	}
	return c.do(ctx, http.MethodPost, "/api/v1/sessions", body, nil)
}

// GetSession loads a session.
func (c *Client) GetSession(ctx context.Context, sessionID string) (map[string]any, error) {
	return c.do(ctx, http.MethodGet, "/api/v1/sessions/"+sessionID, nil, nil)
}

// ImportPlan uploads a plan version. Pass sessionGoal "" to leave the goal.
func (c *Client) ImportPlan(ctx context.Context, sessionID string, version int, title string, steps []map[string]any, sessionGoal string) (map[string]any, error) {
	body := map[string]any{
		"version": version,
		"title":   title,
		"steps":   steps,
	}
	if sessionGoal != "" {
		body["session_goal"] = sessionGoal
	}
	return c.do(ctx, http.MethodPost,
		fmt.Sprintf("/api/v1/sessions/%s/plans/import", sessionID), body, nil)
}

// GetPlan loads one plan version with its steps.
func (c *Client) GetPlan(ctx context.Context, sessionID string, version int) (map[string]any, error) {
	return c.do(ctx, http.MethodGet,
		fmt.Sprintf("/api/v1/sessions/%s/plans/%d", sessionID, version), nil, nil)
}

// ApprovePlan records a plan approval.
func (c *Client) ApprovePlan(ctx context.Context, sessionID string, version int, approvedBy, source string) (map[string]any, error) {
	return c.do(ctx, http.MethodPost,
		fmt.Sprintf("/api/v1/sessions/%s/plans/%d/approve", sessionID, version),
		map[string]any{"approved_by": approvedBy, "source": source}, nil)
}

// ApproveStep records a step approval.
func (c *Client) ApproveStep(ctx context.Context, sessionID, stepID, approvedBy, source string) (map[string]any, error) {
	return c.do(ctx, http.MethodPost,
		fmt.Sprintf("/api/v1/sessions/%s/steps/%s/approve", sessionID, stepID),
		map[string]any{"approved_by": approvedBy, "source": source}, nil)
}

// ExecuteStep runs an approved step.
func (c *Client) ExecuteStep(ctx context.Context, sessionID, stepID string, confirmHighRisk bool) (map[string]any, error) {
	return c.do(ctx, http.MethodPost,
		fmt.Sprintf("/api/v1/sessions/%s/steps/%s/execute", sessionID, stepID),
		map[string]any{"confirm_high_risk": confirmHighRisk}, nil)
}

// StopSession cancels a session.
func (c *Client) StopSession(ctx context.Context, sessionID string) (map[string]any, error) {
	return c.do(ctx, http.MethodPost,
		fmt.Sprintf("/api/v1/sessions/%s/stop", sessionID), nil, nil)
}

// SearchEvents queries the session journal. Empty q returns the latest page.
func (c *Client) SearchEvents(ctx context.Context, sessionID, q string) (map[string]any, error) {
	var params url.Values
	if q != "" {
		params = url.Values{"q": {q}}
	}
	return c.do(ctx, http.MethodGet,
		fmt.Sprintf("/api/v1/sessions/%s/events/search", sessionID), nil, params)
}

// ListArtifacts returns the session's artifacts.
func (c *Client) ListArtifacts(ctx context.Context, sessionID string) (map[string]any, error) {
	return c.do(ctx, http.MethodGet,
		fmt.Sprintf("/api/v1/sessions/%s/artifacts", sessionID), nil, nil)
}

// ListTools returns the tool registry.
func (c *Client) ListTools(ctx context.Context) (map[string]any, error) {
	return c.do(ctx, http.MethodGet, "/api/v1/tools", nil, nil)
}

// GetToolPermissions returns one tool's registry entry.
func (c *Client) GetToolPermissions(ctx context.Context, toolName string) (map[string]any, error) {
	return c.do(ctx, http.MethodGet, "/api/v1/tools/"+toolName+"/permissions", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body any, params url.Values) (map[string]any, error) {
	target := c.baseURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Detail: errorDetail(raw)}
	}
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode response body: %w", err)
	}
	return decoded, nil
}

// errorDetail prefers the API's {"detail": ...} field over the raw body.
func errorDetail(raw []byte) string {
	var payload struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Detail != "" {
		return payload.Detail
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return "request failed"
	}
	return text
}
