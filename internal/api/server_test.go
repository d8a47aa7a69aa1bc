package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"Ethernaut-Agent/internal/a2a"
	"Ethernaut-Agent/internal/auth"
	"Ethernaut-Agent/internal/task"
)

type rpcEnvelope struct {
	JSONRPC string             `json:"jsonrpc"`
	ID      any                `json:"id"`
	Result  json.RawMessage    `json:"result"`
	Error   *a2a.JSONRPCError  `json:"error"`
}

func newTestServer(t *testing.T, opts ...Option) (*Server, *task.Service) {
	t.Helper()
	svc := task.NewService(task.NewMemoryStore(), task.NewMemoryQueue(16), 3)
	card := DefaultAgentCard("ethernaut-solver", "0.1.0", "http://localhost:8080")
	return NewServer(":0", svc, card, opts...), svc
}

func postRPC(t *testing.T, handler http.Handler, payload any) rpcEnvelope {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/a2a/v1", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusOK)
	}
	var resp rpcEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func sendParams(taskID, text string, metadata map[string]any) map[string]any {
	message := map[string]any{
		"role":      "user",
		"parts":     []map[string]any{{"kind": "text", "text": text}},
		"messageId": "msg-1",
		"kind":      "message",
	}
	if taskID != "" {
		message["taskId"] = taskID
	}
	params := map[string]any{"message": message}
	if metadata != nil {
		params["metadata"] = metadata
	}
	return params
}

func TestAgentCardEndpoint(t *testing.T) {
	server, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, a2a.WellKnownPath, nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var card a2a.AgentCard
	if err := json.Unmarshal(rec.Body.Bytes(), &card); err != nil {
		t.Fatalf("decode card: %v", err)
	}
	if card.Name != "ethernaut-solver" || len(card.Skills) == 0 {
		t.Fatalf("unexpected card: %+v", card)
	}
}

func TestMessageSendCreatesTask(t *testing.T) {
	server, svc := newTestServer(t)
	handler := server.Handler()

	resp := postRPC(t, handler, map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "message/send",
		"params": sendParams("task-1", "攻破 Fallback 挑战", map[string]any{
			"address":     "0x1111111111111111111111111111111111111111",
			"max_actions": float64(12),
			"level":       "fallback",
		}),
	})
	if resp.Error != nil {
		t.Fatalf("unexpected rpc error: %+v", resp.Error)
	}

	var view a2a.Task
	if err := json.Unmarshal(resp.Result, &view); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if view.ID != "task-1" || view.Status.State != a2a.TaskStateSubmitted {
		t.Fatalf("unexpected view: %+v", view)
	}

	stored, err := svc.Get(httptest.NewRequest(http.MethodGet, "/", nil).Context(), "task-1")
	if err != nil {
		t.Fatalf("get stored task: %v", err)
	}
	if stored.Address != "0x1111111111111111111111111111111111111111" {
		t.Fatalf("address not propagated: %q", stored.Address)
	}
	if stored.MaxActions != 12 {
		t.Fatalf("max_actions not propagated: %d", stored.MaxActions)
	}
	if stored.Metadata["level"] != "fallback" {
		t.Fatalf("metadata not propagated: %+v", stored.Metadata)
	}
}

func TestMessageSendRejectsDuplicates(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Handler()

	request := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "message/send",
		"params":  sendParams("dup-task", "攻破挑战", nil),
	}
	if resp := postRPC(t, handler, request); resp.Error != nil {
		t.Fatalf("first submission failed: %+v", resp.Error)
	}
	resp := postRPC(t, handler, request)
	if resp.Error == nil || resp.Error.Code != a2a.CodeDuplicateTask {
		t.Fatalf("expected duplicate task error, got %+v", resp.Error)
	}
}

func TestMessageSendRejectsEmptyGoal(t *testing.T) {
	server, _ := newTestServer(t)
	resp := postRPC(t, server.Handler(), map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "message/send",
		"params":  sendParams("", "   ", nil),
	})
	if resp.Error == nil || resp.Error.Code != a2a.CodeInvalidParams {
		t.Fatalf("expected invalid params error, got %+v", resp.Error)
	}
}

func TestTasksGetAndCancel(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Handler()

	if resp := postRPC(t, handler, map[string]any{
		"jsonrpc": "2.0", "id": 1, "method": "message/send",
		"params": sendParams("task-get", "攻破挑战", nil),
	}); resp.Error != nil {
		t.Fatalf("submit failed: %+v", resp.Error)
	}

	resp := postRPC(t, handler, map[string]any{
		"jsonrpc": "2.0", "id": 2, "method": "tasks/get",
		"params": map[string]any{"id": "task-get"},
	})
	if resp.Error != nil {
		t.Fatalf("tasks/get failed: %+v", resp.Error)
	}

	resp = postRPC(t, handler, map[string]any{
		"jsonrpc": "2.0", "id": 3, "method": "tasks/get",
		"params": map[string]any{"id": "missing"},
	})
	if resp.Error == nil || resp.Error.Code != a2a.CodeTaskNotFound {
		t.Fatalf("expected not found error, got %+v", resp.Error)
	}

	resp = postRPC(t, handler, map[string]any{
		"jsonrpc": "2.0", "id": 4, "method": "tasks/cancel",
		"params": map[string]any{"id": "task-get"},
	})
	if resp.Error != nil {
		t.Fatalf("tasks/cancel failed: %+v", resp.Error)
	}
	var view a2a.Task
	if err := json.Unmarshal(resp.Result, &view); err != nil {
		t.Fatalf("decode cancel result: %v", err)
	}
	if view.Status.State != a2a.TaskStateCanceled {
		t.Fatalf("state = %s, want %s", view.Status.State, a2a.TaskStateCanceled)
	}

	// 终态任务再取消返回协议扩展错误码。
	resp = postRPC(t, handler, map[string]any{
		"jsonrpc": "2.0", "id": 5, "method": "tasks/cancel",
		"params": map[string]any{"id": "task-get"},
	})
	if resp.Error == nil || resp.Error.Code != a2a.CodeTaskNotCancel {
		t.Fatalf("expected not cancelable error, got %+v", resp.Error)
	}
}

func TestRPCEnvelopeValidation(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Handler()

	resp := postRPC(t, handler, map[string]any{
		"jsonrpc": "2.0", "id": 1, "method": "tasks/unknown",
	})
	if resp.Error == nil || resp.Error.Code != a2a.CodeMethodNotFound {
		t.Fatalf("expected method not found, got %+v", resp.Error)
	}

	resp = postRPC(t, handler, map[string]any{
		"jsonrpc": "1.0", "id": 1, "method": "tasks/get",
	})
	if resp.Error == nil || resp.Error.Code != a2a.CodeInvalidRequest {
		t.Fatalf("expected invalid request, got %+v", resp.Error)
	}

	req := httptest.NewRequest(http.MethodPost, "/a2a/v1", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	var parsed rpcEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &parsed); err != nil {
		t.Fatalf("decode parse error response: %v", err)
	}
	if parsed.Error == nil || parsed.Error.Code != a2a.CodeParseError {
		t.Fatalf("expected parse error, got %+v", parsed.Error)
	}
}

func TestAuthProtectsRPCButNotDiscovery(t *testing.T) {
	server, _ := newTestServer(t, WithAuth(auth.NewService("token-1")))
	handler := server.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, a2a.WellKnownPath, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("discovery should be open, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/a2a/v1", bytes.NewReader([]byte("{}"))))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("rpc without token should be rejected, got %d", rec.Code)
	}

	body, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0", "id": 1, "method": "tasks/get",
		"params": map[string]any{"id": "missing"},
	})
	req := httptest.NewRequest(http.MethodPost, "/a2a/v1", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer token-1")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("authorized rpc status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestTasksListFiltersAndStats(t *testing.T) {
	server, svc := newTestServer(t)
	handler := server.Handler()

	for i, goal := range []string{"break the vault", "drain the token", "claim the vault key"} {
		resp := postRPC(t, handler, map[string]any{
			"jsonrpc": "2.0", "id": i + 1, "method": "message/send",
			"params": sendParams("", goal, nil),
		})
		if resp.Error != nil {
			t.Fatalf("submit %q: %+v", goal, resp.Error)
		}
	}
	if _, err := svc.Cancel(context.Background(), mustListFirstID(t, svc, "drain")); err != nil {
		t.Fatalf("cancel task: %v", err)
	}

	resp := postRPC(t, handler, map[string]any{
		"jsonrpc": "2.0", "id": 10, "method": "tasks/list",
		"params": map[string]any{"states": []string{"submitted"}, "query": "vault"},
	})
	if resp.Error != nil {
		t.Fatalf("tasks/list error: %+v", resp.Error)
	}
	var list a2a.TaskList
	if err := json.Unmarshal(resp.Result, &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Tasks) != 2 {
		t.Fatalf("expected 2 submitted vault tasks, got %d", len(list.Tasks))
	}
	for _, item := range list.Tasks {
		if item.Status.State != a2a.TaskStateSubmitted {
			t.Fatalf("unexpected state %s", item.Status.State)
		}
	}
	if list.Stats.Total != 2 || list.Stats.Submitted != 2 {
		t.Fatalf("unexpected stats: %+v", list.Stats)
	}

	resp = postRPC(t, handler, map[string]any{
		"jsonrpc": "2.0", "id": 11, "method": "tasks/list",
		"params": map[string]any{"states": []string{"canceled"}},
	})
	if resp.Error != nil {
		t.Fatalf("tasks/list error: %+v", resp.Error)
	}
	if err := json.Unmarshal(resp.Result, &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Tasks) != 1 || list.Stats.Canceled != 1 {
		t.Fatalf("expected exactly one canceled task, got %d (stats %+v)", len(list.Tasks), list.Stats)
	}

	resp = postRPC(t, handler, map[string]any{
		"jsonrpc": "2.0", "id": 12, "method": "tasks/list",
		"params": map[string]any{"states": []string{"sideways"}},
	})
	if resp.Error == nil || resp.Error.Code != a2a.CodeInvalidParams {
		t.Fatalf("unknown state should be rejected, got %+v", resp.Error)
	}
}

func mustListFirstID(t *testing.T, svc *task.Service, query string) string {
	t.Helper()
	tasks, err := svc.List(context.Background(), task.WithQuery(query))
	if err != nil || len(tasks) == 0 {
		t.Fatalf("list tasks for %q: %v (%d hits)", query, err, len(tasks))
	}
	return tasks[0].ID
}
