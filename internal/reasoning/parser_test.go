package reasoning

import (
	"strings"
	"testing"
)

func TestParseDecisionToolCall(t *testing.T) {
	content := "先读取第 1 个存储槽。\n<json>{\"name\": \"query-state\", \"arguments\": {\"address\": \"0xabc\", \"kind\": \"storage\", \"slot\": \"0x1\"}}</json>"

	decision, err := ParseDecision(content)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Action == nil || decision.Final != nil {
		t.Fatalf("expected an action, got %+v", decision)
	}
	if decision.Action.Tool != "query-state" {
		t.Fatalf("tool = %q, want query-state", decision.Action.Tool)
	}
	if !strings.Contains(string(decision.Action.Arguments), "0xabc") {
		t.Fatalf("arguments not preserved: %s", decision.Action.Arguments)
	}
}

func TestParseDecisionFinalAnswer(t *testing.T) {
	content := `<json>{"final": true, "solved": true, "message": "owner 已被接管"}</json>`

	decision, err := ParseDecision(content)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Final == nil || decision.Action != nil {
		t.Fatalf("expected a final answer, got %+v", decision)
	}
	if !decision.Final.Solved {
		t.Fatalf("solved assertion lost")
	}
	if decision.Final.Message != "owner 已被接管" {
		t.Fatalf("message = %q", decision.Final.Message)
	}
}

func TestParseDecisionPlainTextIsUnsolvedFinal(t *testing.T) {
	decision, err := ParseDecision("我无法继续推进这个挑战。")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Final == nil {
		t.Fatalf("plain text should become a final answer, got %+v", decision)
	}
	if decision.Final.Solved {
		t.Fatalf("plain text must not assert the challenge solved")
	}
}

func TestParseDecisionRepairsSloppyJSON(t *testing.T) {
	// 尾逗号与单引号是模型输出里最常见的毛病。
	content := `<json>{'name': 'execute-code', 'arguments': {'code': 'print(1)',},}</json>`

	decision, err := ParseDecision(content)
	if err != nil {
		t.Fatalf("repairable payload should parse, got %v", err)
	}
	if decision.Action == nil || decision.Action.Tool != "execute-code" {
		t.Fatalf("unexpected decision %+v", decision)
	}
}

func TestParseDecisionMissingCloseTag(t *testing.T) {
	content := `<json>{"name": "call-contract", "arguments": {"address": "0xabc"}}`

	decision, err := ParseDecision(content)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Action == nil || decision.Action.Tool != "call-contract" {
		t.Fatalf("unexpected decision %+v", decision)
	}
}

func TestParseDecisionRejectsEmptyAndGarbage(t *testing.T) {
	if _, err := ParseDecision("   "); err == nil {
		t.Fatalf("empty content must fail")
	}
	if _, err := ParseDecision("<json>((((</json>"); err == nil {
		t.Fatalf("unrepairable content must fail")
	}
	if _, err := ParseDecision(`<json>{"irrelevant": 1}</json>`); err == nil {
		t.Fatalf("unknown instruction shape must fail")
	}
	if _, err := ParseDecision(`<json>{"name": "  "}</json>`); err == nil {
		t.Fatalf("blank tool name must fail")
	}
}
