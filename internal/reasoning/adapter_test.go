package reasoning

import (
	"context"
	"errors"
	"strings"
	"testing"

	xerrors "Ethernaut-Agent/internal/errors"
	"Ethernaut-Agent/internal/knowledge"
	"Ethernaut-Agent/internal/llm"
	"Ethernaut-Agent/internal/solver"
)

type stubLLM struct {
	lastRequest llm.Request
	content     string
	err         error
}

func (s *stubLLM) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	s.lastRequest = req
	if s.err != nil {
		return nil, s.err
	}
	return &llm.Response{Content: s.content}, nil
}

func newTestSession() *solver.Session {
	return solver.NewSession("task-1", "攻破 reentrancy 挑战合约", "0x00000000000000000000000000000000000000aa", nil, solver.Budget{})
}

func TestNextStepComposesPrompt(t *testing.T) {
	client := &stubLLM{content: `<json>{"name": "query-state", "arguments": {"address": "0xaa", "kind": "code"}}</json>`}
	adapter, err := NewAdapter(client, []string{"execute-code", "query-state"},
		WithKnowledge(knowledge.NewStaticProvider(knowledge.DefaultPatterns(), 4)))
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}

	decision, err := adapter.NextStep(context.Background(), newTestSession())
	if err != nil {
		t.Fatalf("next step: %v", err)
	}
	if decision.Action == nil || decision.Action.Tool != "query-state" {
		t.Fatalf("unexpected decision %+v", decision)
	}

	if len(client.lastRequest.Messages) != 2 {
		t.Fatalf("fresh session should yield system+task messages, got %d", len(client.lastRequest.Messages))
	}
	system := client.lastRequest.Messages[0]
	if system.Role != llm.RoleSystem {
		t.Fatalf("first message role = %q", system.Role)
	}
	if !strings.Contains(system.Content, "query-state") {
		t.Fatalf("system prompt should list the tools")
	}
	if !strings.Contains(system.Content, "重入") {
		t.Fatalf("matched knowledge card should be injected into the system prompt")
	}
	task := client.lastRequest.Messages[1]
	if !strings.Contains(task.Content, "0x00000000000000000000000000000000000000aa") {
		t.Fatalf("task prompt should carry the contract address")
	}
}

func TestNextStepClassifiesFailures(t *testing.T) {
	client := &stubLLM{err: errors.New("connection refused")}
	adapter, err := NewAdapter(client, []string{"execute-code"})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}

	if _, err := adapter.NextStep(context.Background(), newTestSession()); xerrors.CodeOf(err) != xerrors.CodeReasoningFailure {
		t.Fatalf("transport failure should map to a reasoning failure, got %v", err)
	}

	client.err = nil
	client.content = `<json>{"bogus": true}</json>`
	if _, err := adapter.NextStep(context.Background(), newTestSession()); xerrors.CodeOf(err) != xerrors.CodeReasoningFailure {
		t.Fatalf("unparseable reply should map to a reasoning failure, got %v", err)
	}
}

func TestRenderObservation(t *testing.T) {
	ok := renderObservation(&solver.Observation{Success: true, Payload: `{"value":"0x2a"}`})
	if !strings.Contains(ok, "0x2a") {
		t.Fatalf("payload missing from rendered observation: %q", ok)
	}

	bad := renderObservation(&solver.Observation{Success: false, Error: "execution reverted", Category: xerrors.CodeBackendFailure})
	if !strings.Contains(bad, "execution reverted") || !strings.Contains(bad, string(xerrors.CodeBackendFailure)) {
		t.Fatalf("failure details missing: %q", bad)
	}

	long := renderObservation(&solver.Observation{Success: true, Payload: strings.Repeat("x", maxObservationChars+100)})
	if len(long) > maxObservationChars+100 {
		t.Fatalf("observation should be truncated, got %d chars", len(long))
	}
}
