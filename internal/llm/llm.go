package llm

import "context"

// 对话角色取值。
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message 是一轮对话中的单条消息。
type Message struct {
	Role    string
	Content string
}

// Request 描述发送给大模型的完整对话上下文。求解循环每个回合
// 重建一次消息序列：系统提示、任务描述、历史动作与观察。
type Request struct {
	Messages []Message
	// Temperature 为可选的采样温度，零值使用服务端默认。
	Temperature float64
}

// Response 是大模型的原始回复文本，结构化解析由上层完成。
type Response struct {
	Content string
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}
