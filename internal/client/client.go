// Package client is the HTTP client for the commander API, used by the CLI
// and the terminal presence watcher.
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
	"strings"
	"time"

	"github.com/opencommander/commander/internal/core"
	"github.com/opencommander/commander/internal/logging"
	"github.com/opencommander/commander/internal/tasks"
)

const maxResponseBytes = 16 << 20

// Config configures a Client.
type Config struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Logger     *logging.Logger
}

// Client calls the commander REST API with a bearer token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *logging.Logger
}

// New creates a client. BaseURL must be an http or https URL.
func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	u, err := url.Parse(base)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("client: invalid server URL %q", cfg.BaseURL)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Client{baseURL: base, token: cfg.Token, httpClient: httpClient, logger: logger}, nil
}

// APIError is a non-2xx response whose body did not map to a domain error.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s", e.Status, e.Message)
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// do sends a request and decodes a JSON response into out when non-nil.
// Error statuses come back as domain errors so callers can branch on
// category.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("client: encoding request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("client: building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return core.ErrTimeout(fmt.Sprintf("%s %s timed out", method, path))
		}
		return core.ErrUnavailable("server", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("client: reading response: %w", err)
	}
	c.logger.Debug("api call", "method", method, "path", path, "status", resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return responseError(resp.StatusCode, data)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("client: decoding response: %w", err)
	}
	return nil
}

func responseError(status int, data []byte) error {
	var body errorBody
	if err := json.Unmarshal(data, &body); err != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(data))
		if body.Error == "" {
			body.Error = http.StatusText(status)
		}
	}

	var cat core.ErrorCategory
	switch status {
	case http.StatusUnprocessableEntity, http.StatusBadRequest:
		cat = core.ErrCatValidation
	case http.StatusNotFound:
		cat = core.ErrCatNotFound
	case http.StatusUnauthorized:
		cat = core.ErrCatAuth
	case http.StatusConflict:
		cat = core.ErrCatConflict
	case http.StatusGatewayTimeout:
		cat = core.ErrCatTimeout
	default:
		return &APIError{Status: status, Message: body.Error}
	}
	return &core.DomainError{Category: cat, Code: body.Code, Message: body.Error}
}

// Health fetches GET /health.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	return out, c.do(ctx, http.MethodGet, "/health", nil, &out)
}

// Me returns the user the token belongs to.
func (c *Client) Me(ctx context.Context) (*core.User, error) {
	var u core.User
	if err := c.do(ctx, http.MethodGet, "/api/v1/me", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Heartbeat reports the caller's presence in a session.
func (c *Client) Heartbeat(ctx context.Context, sessionID string, status core.PresenceStatus) error {
	return c.do(ctx, http.MethodPost, "/api/v1/presence/heartbeat", map[string]string{
		"sessionId": sessionID,
		"status":    string(status),
	}, nil)
}

// Leave deletes the caller's presence record.
func (c *Client) Leave(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/v1/presence/leave", nil, nil)
}

// ListPresence returns presence across a project.
func (c *Client) ListPresence(ctx context.Context, projectID string) ([]core.PresenceEntry, error) {
	var out []core.PresenceEntry
	err := c.do(ctx, http.MethodGet, "/api/v1/presence?projectId="+url.QueryEscape(projectID), nil, &out)
	return out, err
}

// SessionPresence returns presence in one session.
func (c *Client) SessionPresence(ctx context.Context, sessionID string) ([]core.PresenceEntry, error) {
	var out []core.PresenceEntry
	err := c.do(ctx, http.MethodGet, "/api/v1/sessions/"+url.PathEscape(sessionID)+"/presence", nil, &out)
	return out, err
}

// ListProjects returns the caller's projects.
func (c *Client) ListProjects(ctx context.Context) ([]core.Project, error) {
	var out []core.Project
	return out, c.do(ctx, http.MethodGet, "/api/v1/projects", nil, &out)
}

// CreateProject creates a project owned by the caller.
func (c *Client) CreateProject(ctx context.Context, name string) (*core.Project, error) {
	var p core.Project
	if err := c.do(ctx, http.MethodPost, "/api/v1/projects", map[string]string{"name": name}, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetProject returns one project.
func (c *Client) GetProject(ctx context.Context, projectID string) (*core.Project, error) {
	var p core.Project
	if err := c.do(ctx, http.MethodGet, "/api/v1/projects/"+url.PathEscape(projectID), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// AddMember grants userID access to a project the caller owns.
func (c *Client) AddMember(ctx context.Context, projectID, userID string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/projects/"+url.PathEscape(projectID)+"/members",
		map[string]string{"userId": userID}, nil)
}

// ListSessions returns the sessions of a project.
func (c *Client) ListSessions(ctx context.Context, projectID string) ([]core.Session, error) {
	var out []core.Session
	err := c.do(ctx, http.MethodGet, "/api/v1/projects/"+url.PathEscape(projectID)+"/sessions", nil, &out)
	return out, err
}

// CreateSession creates a session in a project.
func (c *Client) CreateSession(ctx context.Context, projectID, name string) (*core.Session, error) {
	var s core.Session
	if err := c.do(ctx, http.MethodPost, "/api/v1/projects/"+url.PathEscape(projectID)+"/sessions",
		map[string]string{"name": name}, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// DeleteSession removes a session.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/sessions/"+url.PathEscape(sessionID), nil, nil)
}

// CreatedTask is a new task with its first execution.
type CreatedTask struct {
	core.Task
	Execution *core.TaskExecution `json:"execution"`
}

// CreateTask creates and enqueues a task.
func (c *Client) CreateTask(ctx context.Context, projectID string, in tasks.CreateInput) (*CreatedTask, error) {
	var out CreatedTask
	if err := c.do(ctx, http.MethodPost, "/api/v1/projects/"+url.PathEscape(projectID)+"/tasks", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListTasks returns a project's tasks, newest first.
func (c *Client) ListTasks(ctx context.Context, projectID string) ([]core.Task, error) {
	var out []core.Task
	err := c.do(ctx, http.MethodGet, "/api/v1/projects/"+url.PathEscape(projectID)+"/tasks", nil, &out)
	return out, err
}

// GetTask returns a task with its executions.
func (c *Client) GetTask(ctx context.Context, taskID string) (*tasks.Detail, error) {
	var out tasks.Detail
	if err := c.do(ctx, http.MethodGet, "/api/v1/tasks/"+url.PathEscape(taskID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RerunTask enqueues a new execution of a task.
func (c *Client) RerunTask(ctx context.Context, taskID string) (*core.TaskExecution, error) {
	var out core.TaskExecution
	if err := c.do(ctx, http.MethodPost, "/api/v1/tasks/"+url.PathEscape(taskID)+"/executions", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetExecution returns an execution with its logs.
func (c *Client) GetExecution(ctx context.Context, executionID string) (*core.TaskExecution, error) {
	var out core.TaskExecution
	if err := c.do(ctx, http.MethodGet, "/api/v1/executions/"+url.PathEscape(executionID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// QueueStats returns job counts per state.
func (c *Client) QueueStats(ctx context.Context) (core.JobCounts, error) {
	var out core.JobCounts
	return out, c.do(ctx, http.MethodGet, "/api/v1/queue/stats", nil, &out)
}
