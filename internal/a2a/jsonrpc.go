package a2a

import "encoding/json"

// 协议支持的 JSON-RPC 方法。tasks/list 是本智能体的扩展方法。
const (
	MethodMessageSend = "message/send"
	MethodTasksGet    = "tasks/get"
	MethodTasksCancel = "tasks/cancel"
	MethodTasksList   = "tasks/list"
)

// JSON-RPC 2.0 标准错误码与本协议扩展错误码。
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// A2A 扩展区间。
	CodeTaskNotFound  = -32001
	CodeTaskNotCancel = -32002
	CodeDuplicateTask = -32010
)

// JSONRPCRequest 是 JSON-RPC 2.0 请求信封。
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCError 是响应中的错误对象。
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// JSONRPCResponse 是 JSON-RPC 2.0 响应信封。
type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      any           `json:"id,omitempty"`
	Result  any           `json:"result,omitempty"`
	Error   *JSONRPCError `json:"error,omitempty"`
}

// NewResponse 构造成功响应。
func NewResponse(id any, result any) JSONRPCResponse {
	return JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: result}
}

// NewErrorResponse 构造错误响应。
func NewErrorResponse(id any, code int, message string) JSONRPCResponse {
	return JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &JSONRPCError{Code: code, Message: message},
	}
}

// MessageSendParams 是 message/send 的参数。
type MessageSendParams struct {
	Message  Message        `json:"message"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// TaskQueryParams 是 tasks/get 与 tasks/cancel 的参数。
type TaskQueryParams struct {
	ID            string `json:"id"`
	HistoryLength int    `json:"historyLength,omitempty"`
}

// TaskListParams 是 tasks/list 的参数。状态使用协议层的取值
// （submitted/working/completed/failed/canceled）。
type TaskListParams struct {
	States     []string `json:"states,omitempty"`
	Query      string   `json:"query,omitempty"`
	HasVerdict *bool    `json:"hasVerdict,omitempty"`
	Limit      int      `json:"limit,omitempty"`
	Offset     int      `json:"offset,omitempty"`
}

// TaskList 是 tasks/list 的结果。
type TaskList struct {
	Tasks []Task        `json:"tasks"`
	Stats TaskListStats `json:"stats"`
}

// TaskListStats 汇总了命中过滤条件的任务状态分布。
type TaskListStats struct {
	Total     int `json:"total"`
	Submitted int `json:"submitted"`
	Working   int `json:"working"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Canceled  int `json:"canceled"`
}
