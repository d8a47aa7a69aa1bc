package a2a

import (
	"time"

	"github.com/google/uuid"
)

// TaskState 枚举了 A2A 协议中任务的互斥状态，零值为 unknown。
type TaskState string

const (
	TaskStateSubmitted TaskState = "submitted"
	TaskStateWorking   TaskState = "working"
	TaskStateCompleted TaskState = "completed"
	TaskStateCanceled  TaskState = "canceled"
	TaskStateFailed    TaskState = "failed"
	TaskStateUnknown   TaskState = "unknown"
)

// Terminal 判断状态是否为终态。
func (s TaskState) Terminal() bool {
	switch s {
	case TaskStateCompleted, TaskStateCanceled, TaskStateFailed:
		return true
	default:
		return false
	}
}

// TaskStatus 描述任务当前状态及伴随消息。
type TaskStatus struct {
	State     TaskState `json:"state"`
	Message   *Message  `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Part 是消息内容的最小单元。目前仅支持文本。
type Part struct {
	Kind string `json:"kind"`
	Text string `json:"text,omitempty"`
}

// NewTextPart 构造文本片段。
func NewTextPart(text string) Part {
	return Part{Kind: "text", Text: text}
}

// Message 是协议层的一条会话消息。
type Message struct {
	Role      string         `json:"role"`
	Parts     []Part         `json:"parts"`
	MessageID string         `json:"messageId"`
	TaskID    string         `json:"taskId,omitempty"`
	Kind      string         `json:"kind"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewUserMessage 构造一条用户消息。
func NewUserMessage(text string) Message {
	return Message{
		Role:      "user",
		Parts:     []Part{NewTextPart(text)},
		MessageID: uuid.NewString(),
		Kind:      "message",
	}
}

// Text 拼接消息中的所有文本片段。
func (m Message) Text() string {
	var out string
	for _, part := range m.Parts {
		if part.Kind == "text" {
			out += part.Text
		}
	}
	return out
}

// Artifact 表示任务产出的一段结果数据。
type Artifact struct {
	ArtifactID string `json:"artifactId"`
	Name       string `json:"name,omitempty"`
	Parts      []Part `json:"parts"`
}

// Task 是协议层对一次求解任务的展示视图。
type Task struct {
	ID        string         `json:"id"`
	ContextID string         `json:"contextId,omitempty"`
	Status    TaskStatus     `json:"status"`
	History   []Message      `json:"history,omitempty"`
	Artifacts []Artifact     `json:"artifacts,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Kind      string         `json:"kind"`
}

// AgentCapabilities 声明智能体支持的协议特性。
type AgentCapabilities struct {
	Streaming              bool `json:"streaming"`
	PushNotifications      bool `json:"pushNotifications"`
	StateTransitionHistory bool `json:"stateTransitionHistory"`
}

// AgentSkill 描述智能体对外公布的一项能力。
type AgentSkill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
	Examples    []string `json:"examples,omitempty"`
}

// AgentCard 是发布在 well-known 路径下的智能体元数据。
type AgentCard struct {
	Name               string            `json:"name"`
	Description        string            `json:"description"`
	URL                string            `json:"url"`
	Version            string            `json:"version"`
	DefaultInputModes  []string          `json:"defaultInputModes"`
	DefaultOutputModes []string          `json:"defaultOutputModes"`
	Capabilities       AgentCapabilities `json:"capabilities"`
	Skills             []AgentSkill      `json:"skills"`
}

// WellKnownPath 是智能体发现文档的固定路径。
const WellKnownPath = "/.well-known/agent.json"
