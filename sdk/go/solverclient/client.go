// Package solverclient provides a small evaluator-side client for the
// solver's agent-to-agent JSON-RPC API: submitting challenges, polling task
// state, and cancelling runs.
package solverclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

const rpcEndpoint = "/a2a/v1"

// Client wraps the HTTP interactions with the solver's JSON-RPC API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string

	nextID int64
}

// Challenge describes a solve request.
type Challenge struct {
	// TaskID is optional; set it to make submissions idempotent.
	TaskID string
	// Goal is the natural language description of the challenge.
	Goal string
	// Address is the deployed challenge instance, when known.
	Address string
	// MaxActions and MaxSeconds override the solver's default budget.
	MaxActions int
	MaxSeconds int
	Metadata   map[string]any
}

// Part is a single unit of message content.
type Part struct {
	Kind string `json:"kind"`
	Text string `json:"text,omitempty"`
}

// Message mirrors the protocol message shape.
type Message struct {
	Role      string `json:"role"`
	Parts     []Part `json:"parts"`
	MessageID string `json:"messageId"`
	TaskID    string `json:"taskId,omitempty"`
	Kind      string `json:"kind"`
}

// TaskStatus carries the task state and an optional agent message.
type TaskStatus struct {
	State     string    `json:"state"`
	Message   *Message  `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Artifact is a named piece of task output.
type Artifact struct {
	ArtifactID string `json:"artifactId"`
	Name       string `json:"name,omitempty"`
	Parts      []Part `json:"parts"`
}

// Task is the protocol view of a solve task.
type Task struct {
	ID        string         `json:"id"`
	Status    TaskStatus     `json:"status"`
	Artifacts []Artifact     `json:"artifacts,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Kind      string         `json:"kind"`
}

// Terminal reports whether the task has reached a final state.
func (t Task) Terminal() bool {
	switch t.Status.State {
	case "completed", "canceled", "failed":
		return true
	default:
		return false
	}
}

// TaskFilter narrows the tasks returned by ListTasks. Zero values leave
// the corresponding dimension unfiltered.
type TaskFilter struct {
	// States uses protocol values: submitted, working, completed,
	// failed, canceled.
	States []string
	// Query fuzzy-matches goal and address.
	Query  string
	Limit  int
	Offset int
}

// TaskStats summarizes the state distribution of matching tasks.
type TaskStats struct {
	Total     int `json:"total"`
	Submitted int `json:"submitted"`
	Working   int `json:"working"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Canceled  int `json:"canceled"`
}

// TaskList bundles matching tasks with their state distribution.
type TaskList struct {
	Tasks []Task    `json:"tasks"`
	Stats TaskStats `json:"stats"`
}

// AgentCard is the discovery document published by the solver.
type AgentCard struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	URL         string `json:"url"`
	Version     string `json:"version"`
}

// RPCError represents a JSON-RPC level failure.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("solver rpc error (%d): %s", e.Code, e.Message)
}

// Protocol extension error codes surfaced by the solver.
const (
	CodeTaskNotFound  = -32001
	CodeTaskNotCancel = -32002
	CodeDuplicateTask = -32010
)

// NewClient instantiates a client for the solver API. When httpClient is nil,
// a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) *Client {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		panic(fmt.Sprintf("invalid base url: %v", err))
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}
}

// AccessToken returns the currently stored token string.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// SetAccessToken stores the bearer token used for subsequent calls.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

// FetchAgentCard retrieves the discovery document.
func (c *Client) FetchAgentCard(ctx context.Context) (AgentCard, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, "/.well-known/agent.json")}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return AgentCard{}, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return AgentCard{}, fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return AgentCard{}, fmt.Errorf("fetch agent card: status %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}
	var card AgentCard
	if err := json.NewDecoder(resp.Body).Decode(&card); err != nil {
		return AgentCard{}, fmt.Errorf("decode agent card: %w", err)
	}
	return card, nil
}

// SubmitChallenge sends the challenge via message/send and returns the
// created task view.
func (c *Client) SubmitChallenge(ctx context.Context, challenge Challenge) (Task, error) {
	message := Message{
		Role:      "user",
		Parts:     []Part{{Kind: "text", Text: challenge.Goal}},
		MessageID: fmt.Sprintf("msg-%d", time.Now().UnixNano()),
		TaskID:    challenge.TaskID,
		Kind:      "message",
	}
	metadata := map[string]any{}
	for key, value := range challenge.Metadata {
		metadata[key] = value
	}
	if challenge.Address != "" {
		metadata["address"] = challenge.Address
	}
	if challenge.MaxActions > 0 {
		metadata["max_actions"] = challenge.MaxActions
	}
	if challenge.MaxSeconds > 0 {
		metadata["max_seconds"] = challenge.MaxSeconds
	}
	params := map[string]any{"message": message}
	if len(metadata) > 0 {
		params["metadata"] = metadata
	}

	var task Task
	if err := c.call(ctx, "message/send", params, &task); err != nil {
		return Task{}, err
	}
	return task, nil
}

// GetTask fetches the task view by identifier.
func (c *Client) GetTask(ctx context.Context, taskID string) (Task, error) {
	var task Task
	if err := c.call(ctx, "tasks/get", map[string]any{"id": taskID}, &task); err != nil {
		return Task{}, err
	}
	return task, nil
}

// ListTasks returns tasks matching the filter together with aggregate
// state counts.
func (c *Client) ListTasks(ctx context.Context, filter TaskFilter) (TaskList, error) {
	params := map[string]any{}
	if len(filter.States) > 0 {
		params["states"] = filter.States
	}
	if filter.Query != "" {
		params["query"] = filter.Query
	}
	if filter.Limit > 0 {
		params["limit"] = filter.Limit
	}
	if filter.Offset > 0 {
		params["offset"] = filter.Offset
	}

	var list TaskList
	if err := c.call(ctx, "tasks/list", params, &list); err != nil {
		return TaskList{}, err
	}
	return list, nil
}

// CancelTask requests cancellation and returns the task view afterwards.
func (c *Client) CancelTask(ctx context.Context, taskID string) (Task, error) {
	var task Task
	if err := c.call(ctx, "tasks/cancel", map[string]any{"id": taskID}, &task); err != nil {
		return Task{}, err
	}
	return task, nil
}

// WaitForCompletion polls tasks/get until the task reaches a terminal state
// or the context expires.
func (c *Client) WaitForCompletion(ctx context.Context, taskID string, interval time.Duration) (Task, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		task, err := c.GetTask(ctx, taskID)
		if err != nil {
			return Task{}, err
		}
		if task.Terminal() {
			return task, nil
		}
		select {
		case <-ctx.Done():
			return task, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.mu.Unlock()

	body, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	rel := &url.URL{Path: path.Join(c.baseURL.Path, rpcEndpoint)}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token := c.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("solver http error (%d): %s", resp.StatusCode, bytes.TrimSpace(data))
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if envelope.Error != nil {
		return envelope.Error
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}
