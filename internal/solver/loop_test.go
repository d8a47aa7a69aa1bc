package solver

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	xerrors "Ethernaut-Agent/internal/errors"
)

// scriptedAdapter 按脚本逐回合返回决策，脚本耗尽后重复最后一项。
type scriptedAdapter struct {
	steps []func(*Session) (Decision, error)
	calls int
}

func (a *scriptedAdapter) NextStep(ctx context.Context, session *Session) (Decision, error) {
	idx := a.calls
	if idx >= len(a.steps) {
		idx = len(a.steps) - 1
	}
	a.calls++
	return a.steps[idx](session)
}

type recordingGateway struct {
	calls        int
	observation  Observation
	observations []Observation
}

func (g *recordingGateway) Invoke(ctx context.Context, tool string, arguments json.RawMessage) Observation {
	g.calls++
	if len(g.observations) > 0 {
		obs := g.observations[0]
		if len(g.observations) > 1 {
			g.observations = g.observations[1:]
		}
		return obs
	}
	return g.observation
}

func actionStep(tool string) func(*Session) (Decision, error) {
	return func(*Session) (Decision, error) {
		return Decision{Action: &Action{Tool: tool, Arguments: json.RawMessage(`{}`)}}, nil
	}
}

func finalStep(solved bool, message string) func(*Session) (Decision, error) {
	return func(*Session) (Decision, error) {
		return Decision{Final: &FinalAnswer{Solved: solved, Message: message}}, nil
	}
}

func TestRunImmediateFinalAnswer(t *testing.T) {
	adapter := &scriptedAdapter{steps: []func(*Session) (Decision, error){
		finalStep(true, "done"),
	}}
	gateway := &recordingGateway{observation: Observation{Success: true, Payload: "ok"}}
	loop := NewLoop(adapter, gateway, WithWinConfirmation(false))

	session := NewSession("task-1", "goal", "0xaa", nil, Budget{MaxActions: 5})
	verdict := loop.Run(context.Background(), session)

	if verdict.Status != StatusSucceeded {
		t.Fatalf("status = %s, want %s", verdict.Status, StatusSucceeded)
	}
	if verdict.Actions != 0 || gateway.calls != 0 {
		t.Fatalf("no tool calls expected, got actions=%d gateway=%d", verdict.Actions, gateway.calls)
	}
	if len(verdict.Turns) != 1 || verdict.Turns[0].Final == nil {
		t.Fatalf("verdict should carry the final turn, got %+v", verdict.Turns)
	}
}

func TestRunAbortsExactlyAtActionBudget(t *testing.T) {
	// 适配器永远要求再调一次工具，观察永远失败。
	adapter := &scriptedAdapter{steps: []func(*Session) (Decision, error){
		actionStep("execute-code"),
	}}
	gateway := &recordingGateway{observation: Observation{Success: false, Error: "boom", Category: xerrors.CodeBackendFailure}}
	loop := NewLoop(adapter, gateway)

	const maxActions = 4
	session := NewSession("task-1", "goal", "", nil, Budget{MaxActions: maxActions})
	verdict := loop.Run(context.Background(), session)

	if verdict.Status != StatusAborted {
		t.Fatalf("status = %s, want %s", verdict.Status, StatusAborted)
	}
	if verdict.Reason != xerrors.CodeBudgetExceeded {
		t.Fatalf("reason = %s, want %s", verdict.Reason, xerrors.CodeBudgetExceeded)
	}
	if verdict.Actions != maxActions || gateway.calls != maxActions {
		t.Fatalf("exactly %d actions expected, got actions=%d gateway=%d", maxActions, verdict.Actions, gateway.calls)
	}
	// 失败的观察不会提前终止循环，每个动作都有对应观察。
	for i, turn := range verdict.Turns {
		if turn.Action == nil || turn.Observation == nil {
			t.Fatalf("turn %d incomplete: %+v", i, turn)
		}
		if turn.Action.Seq != i+1 || turn.Observation.Seq != i+1 {
			t.Fatalf("turn %d has wrong seq: action=%d observation=%d", i, turn.Action.Seq, turn.Observation.Seq)
		}
	}
}

func TestRunFinalAnswerAtBudgetBoundaryStillCounts(t *testing.T) {
	// 预算允许两次动作：第一回合调工具，第二回合给出终局。
	adapter := &scriptedAdapter{steps: []func(*Session) (Decision, error){
		actionStep("query-state"),
		actionStep("query-state"),
		finalStep(true, "solved at the edge"),
	}}
	gateway := &recordingGateway{observation: Observation{Success: true, Payload: "ok"}}
	loop := NewLoop(adapter, gateway, WithWinConfirmation(false))

	session := NewSession("task-1", "goal", "", nil, Budget{MaxActions: 2})
	verdict := loop.Run(context.Background(), session)

	if verdict.Status != StatusSucceeded {
		t.Fatalf("final answer on the budget boundary must stand, got %s (%s)", verdict.Status, verdict.Reason)
	}
	if verdict.Actions != 2 {
		t.Fatalf("actions = %d, want 2", verdict.Actions)
	}
}

func TestRunReasoningRetriesThenAbort(t *testing.T) {
	adapter := &scriptedAdapter{steps: []func(*Session) (Decision, error){
		func(*Session) (Decision, error) {
			return Decision{}, xerrors.New(xerrors.CodeReasoningFailure, "model glitch")
		},
	}}
	gateway := &recordingGateway{}
	loop := NewLoop(adapter, gateway)

	session := NewSession("task-1", "goal", "", nil, Budget{MaxActions: 5, MaxReasoningRetries: 3})
	verdict := loop.Run(context.Background(), session)

	if verdict.Status != StatusAborted {
		t.Fatalf("status = %s, want %s", verdict.Status, StatusAborted)
	}
	if verdict.Reason != xerrors.CodeReasoningUnavailable {
		t.Fatalf("reason = %s, want %s", verdict.Reason, xerrors.CodeReasoningUnavailable)
	}
	// 第 1 次失败 + 3 次重试，之后放弃。
	if adapter.calls != 4 {
		t.Fatalf("adapter calls = %d, want 4", adapter.calls)
	}
	if gateway.calls != 0 {
		t.Fatalf("no tool calls expected, got %d", gateway.calls)
	}
}

func TestRunRetryCounterResetsOnSuccess(t *testing.T) {
	fail := func(*Session) (Decision, error) {
		return Decision{}, errors.New("transient")
	}
	adapter := &scriptedAdapter{steps: []func(*Session) (Decision, error){
		fail, fail,
		actionStep("execute-code"),
		fail, fail,
		finalStep(false, "gave up"),
	}}
	gateway := &recordingGateway{observation: Observation{Success: true, Payload: "ok"}}
	loop := NewLoop(adapter, gateway)

	session := NewSession("task-1", "goal", "", nil, Budget{MaxActions: 5, MaxReasoningRetries: 2})
	verdict := loop.Run(context.Background(), session)

	// 两段各两次失败都在上限之内，因为成功回合重置了计数。
	if verdict.Status != StatusFailed {
		t.Fatalf("status = %s (%s), want %s", verdict.Status, verdict.Reason, StatusFailed)
	}
	if adapter.calls != 6 {
		t.Fatalf("adapter calls = %d, want 6", adapter.calls)
	}
}

func TestRunCancelledBeforeNextTurn(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	adapter := &scriptedAdapter{steps: []func(*Session) (Decision, error){
		func(*Session) (Decision, error) {
			// 第一回合之后触发取消。
			cancel()
			return Decision{Action: &Action{Tool: "execute-code", Arguments: json.RawMessage(`{}`)}}, nil
		},
	}}
	gateway := &recordingGateway{observation: Observation{Success: true, Payload: "ok"}}
	loop := NewLoop(adapter, gateway)

	session := NewSession("task-1", "goal", "", nil, Budget{MaxActions: 10})
	verdict := loop.Run(ctx, session)

	if verdict.Status != StatusAborted || verdict.Reason != xerrors.CodeCancelled {
		t.Fatalf("cancelled session should abort with %s, got %s (%s)",
			xerrors.CodeCancelled, verdict.Status, verdict.Reason)
	}
	// 取消发生在第一回合之后：恰好一个回合，没有第二回合。
	if verdict.Actions != 1 || adapter.calls != 1 {
		t.Fatalf("no further turns after cancellation, actions=%d adapter=%d", verdict.Actions, adapter.calls)
	}
}

func TestRunMalformedDecisionCountsAsReasoningFailure(t *testing.T) {
	adapter := &scriptedAdapter{steps: []func(*Session) (Decision, error){
		func(*Session) (Decision, error) { return Decision{}, nil },
	}}
	loop := NewLoop(adapter, &recordingGateway{})

	session := NewSession("task-1", "goal", "", nil, Budget{MaxActions: 5, MaxReasoningRetries: 2})
	verdict := loop.Run(context.Background(), session)

	if verdict.Status != StatusAborted || verdict.Reason != xerrors.CodeReasoningUnavailable {
		t.Fatalf("empty decision should exhaust retries, got %s (%s)", verdict.Status, verdict.Reason)
	}
}

func TestRunWinConfirmationAppendsEvidence(t *testing.T) {
	adapter := &scriptedAdapter{steps: []func(*Session) (Decision, error){
		finalStep(true, "owner taken over"),
	}}
	gateway := &recordingGateway{observation: Observation{Success: true, Payload: `{"value":"0x1"}`}}
	loop := NewLoop(adapter, gateway, WithWinConfirmation(true))

	session := NewSession("task-1", "goal", "0xaa", nil, Budget{MaxActions: 5})
	verdict := loop.Run(context.Background(), session)

	if verdict.Status != StatusSucceeded {
		t.Fatalf("status = %s, want %s", verdict.Status, StatusSucceeded)
	}
	if gateway.calls != 1 {
		t.Fatalf("confirmation should invoke the gateway once, got %d", gateway.calls)
	}
	// 历史包含终局回合和补充的证据回合。
	if len(verdict.Turns) != 2 {
		t.Fatalf("expected final + evidence turns, got %d", len(verdict.Turns))
	}
	evidence := verdict.Turns[1]
	if evidence.Action == nil || evidence.Action.Tool != "query-state" || evidence.Observation == nil {
		t.Fatalf("evidence turn malformed: %+v", evidence)
	}

	// 证据查询失败不改变结论，断言仍然成立。
	adapter2 := &scriptedAdapter{steps: []func(*Session) (Decision, error){
		finalStep(true, "still solved"),
	}}
	gateway2 := &recordingGateway{observation: Observation{Success: false, Error: "rpc down", Category: xerrors.CodeBackendFailure}}
	session2 := NewSession("task-2", "goal", "0xaa", nil, Budget{MaxActions: 5})
	verdict2 := NewLoop(adapter2, gateway2, WithWinConfirmation(true)).Run(context.Background(), session2)
	if verdict2.Status != StatusSucceeded {
		t.Fatalf("failed evidence query must not overturn the assertion, got %s", verdict2.Status)
	}
}

func TestRunTimeBudget(t *testing.T) {
	adapter := &scriptedAdapter{steps: []func(*Session) (Decision, error){
		actionStep("execute-code"),
	}}
	gateway := &recordingGateway{observation: Observation{Success: true, Payload: "ok"}}
	loop := NewLoop(adapter, gateway)

	session := NewSession("task-1", "goal", "", nil, Budget{MaxActions: 1000, MaxDuration: time.Nanosecond})
	time.Sleep(time.Millisecond)
	verdict := loop.Run(context.Background(), session)

	if verdict.Status != StatusAborted || verdict.Reason != xerrors.CodeBudgetExceeded {
		t.Fatalf("expired time budget should abort, got %s (%s)", verdict.Status, verdict.Reason)
	}
	if verdict.Actions != 0 {
		t.Fatalf("no actions expected after expiry, got %d", verdict.Actions)
	}
}

func TestSessionStatusIsMonotone(t *testing.T) {
	session := NewSession("task-1", "goal", "", nil, Budget{})
	session.finish(StatusSucceeded)
	session.finish(StatusFailed)
	session.finish(StatusAborted)
	if session.Status() != StatusSucceeded {
		t.Fatalf("terminal status must not change, got %s", session.Status())
	}
}
