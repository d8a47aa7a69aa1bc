package solver

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	xerrors "Ethernaut-Agent/internal/errors"
)

// Status 表示一次求解会话所处的状态。
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusAborted   Status = "aborted"
)

// Terminal 判断状态是否为终态。终态之后状态不再变化。
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusAborted
}

// Action 是推理层产出的一次工具调用请求。
type Action struct {
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Seq       int             `json:"seq"`
}

// Observation 记录一次 Action 的执行结果，Seq 与对应 Action 一致。
type Observation struct {
	Success  bool         `json:"success"`
	Payload  string       `json:"payload,omitempty"`
	Error    string       `json:"error,omitempty"`
	Category xerrors.Code `json:"category,omitempty"`
	Seq      int          `json:"seq"`
}

// FinalAnswer 是推理层给出的终局回答。Solved 为推理层的自我断言，
// 循环只记录不裁决，最终裁决由评测方完成。
type FinalAnswer struct {
	Solved  bool   `json:"solved"`
	Message string `json:"message"`
}

// Decision 是推理适配器的输出，Action 与 Final 恰有一个非空。
type Decision struct {
	Action *Action
	Final  *FinalAnswer
}

// Turn 是会话历史中的一个回合：一次动作及其观察，或终局回答。
type Turn struct {
	Action      *Action      `json:"action,omitempty"`
	Observation *Observation `json:"observation,omitempty"`
	Final       *FinalAnswer `json:"final,omitempty"`
	At          int64        `json:"at"`
}

// Budget 约束单次会话可消耗的资源。
type Budget struct {
	MaxActions          int
	MaxDuration         time.Duration
	MaxReasoningRetries int
}

func (b Budget) withDefaults() Budget {
	if b.MaxActions <= 0 {
		b.MaxActions = 30
	}
	if b.MaxDuration <= 0 {
		b.MaxDuration = 10 * time.Minute
	}
	if b.MaxReasoningRetries <= 0 {
		b.MaxReasoningRetries = 3
	}
	return b
}

// Verdict 是会话的终局产物，交还给协议层后只读。
type Verdict struct {
	Status     Status       `json:"status"`
	Reason     xerrors.Code `json:"reason,omitempty"`
	Message    string       `json:"message"`
	Solved     bool         `json:"solved"`
	Turns      []Turn       `json:"turns"`
	Actions    int          `json:"actions"`
	StartedAt  int64        `json:"started_at"`
	FinishedAt int64        `json:"finished_at"`
}

// Session 是单个任务的可变求解状态，由且仅由其 Loop 实例持有和修改。
type Session struct {
	id       string
	taskID   string
	goal     string
	address  string
	metadata map[string]any

	turns       []Turn
	actionCount int
	budget      Budget
	startedAt   time.Time
	deadline    time.Time
	status      Status
}

// NewSession 创建一个处于 running 状态的会话。
func NewSession(taskID, goal, address string, metadata map[string]any, budget Budget) *Session {
	now := time.Now()
	budget = budget.withDefaults()
	return &Session{
		id:        uuid.NewString(),
		taskID:    taskID,
		goal:      goal,
		address:   address,
		metadata:  metadata,
		budget:    budget,
		startedAt: now,
		deadline:  now.Add(budget.MaxDuration),
		status:    StatusRunning,
	}
}

// ID 返回会话标识。
func (s *Session) ID() string { return s.id }

// TaskID 返回会话所属任务标识。
func (s *Session) TaskID() string { return s.taskID }

// Goal 返回挑战描述。
func (s *Session) Goal() string { return s.goal }

// ContractAddress 返回任务关联的合约地址，可能为空。
func (s *Session) ContractAddress() string { return s.address }

// Metadata 返回任务附带的上下文参数。
func (s *Session) Metadata() map[string]any { return s.metadata }

// Status 返回当前状态。
func (s *Session) Status() Status { return s.status }

// ActionCount 返回已执行的动作数量。
func (s *Session) ActionCount() int { return s.actionCount }

// Budget 返回会话预算。
func (s *Session) BudgetLimits() Budget { return s.budget }

// Turns 返回历史回合的副本，供推理层只读消费。
func (s *Session) Turns() []Turn {
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// budgetExhausted 判断动作或时间预算是否已经用尽。
func (s *Session) budgetExhausted(now time.Time) (bool, string) {
	if s.actionCount >= s.budget.MaxActions {
		return true, "action budget exhausted"
	}
	if now.After(s.deadline) {
		return true, "time budget exhausted"
	}
	return false, ""
}

// nextSeq 为下一个动作分配序号。
func (s *Session) nextSeq() int {
	return s.actionCount + 1
}

// recordAction 追加一个待观察的回合并递增动作计数。
// 前置条件：actionCount < budget.MaxActions。
func (s *Session) recordAction(action Action) *Turn {
	s.actionCount++
	s.turns = append(s.turns, Turn{Action: &action, At: time.Now().Unix()})
	return &s.turns[len(s.turns)-1]
}

// recordFinal 追加终局回合。
func (s *Session) recordFinal(final FinalAnswer) {
	s.turns = append(s.turns, Turn{Final: &final, At: time.Now().Unix()})
}

// finish 执行单调的终态迁移，重复调用只有第一次生效。
func (s *Session) finish(status Status) {
	if s.status.Terminal() {
		return
	}
	s.status = status
}

// verdict 汇总会话成一份 Verdict。
func (s *Session) verdict(reason xerrors.Code, message string, solved bool) *Verdict {
	return &Verdict{
		Status:     s.status,
		Reason:     reason,
		Message:    message,
		Solved:     solved,
		Turns:      s.Turns(),
		Actions:    s.actionCount,
		StartedAt:  s.startedAt.Unix(),
		FinishedAt: time.Now().Unix(),
	}
}
