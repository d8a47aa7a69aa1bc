// Package reasoning 把大模型封装成求解循环可消费的决策来源。
// 适配器负责三件事：把会话历史编排成对话、调用模型、把回复解析
// 成工具调用或终局回答。
package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	xerrors "Ethernaut-Agent/internal/errors"
	"Ethernaut-Agent/internal/knowledge"
	"Ethernaut-Agent/internal/llm"
	"Ethernaut-Agent/internal/solver"
	"Ethernaut-Agent/pkg/logger"
)

// 观察结果在提示词中的截断长度，避免超长输出撑爆上下文窗口。
const maxObservationChars = 4000

// Adapter 基于大模型实现 solver.Adapter。
type Adapter struct {
	client      llm.Client
	knowledge   knowledge.Provider
	tools       []string
	temperature float64
	log         *slog.Logger
}

// Option 配置推理适配器。
type Option func(*Adapter)

// WithKnowledge 注入漏洞模式知识库。
func WithKnowledge(provider knowledge.Provider) Option {
	return func(a *Adapter) { a.knowledge = provider }
}

// WithTemperature 设置采样温度。
func WithTemperature(temperature float64) Option {
	return func(a *Adapter) { a.temperature = temperature }
}

// NewAdapter 创建推理适配器。tools 是网关支持的工具名称，写进
// 系统提示约束模型的选择范围。
func NewAdapter(client llm.Client, tools []string, opts ...Option) (*Adapter, error) {
	if client == nil {
		return nil, fmt.Errorf("未提供大模型客户端")
	}
	adapter := &Adapter{
		client: client,
		tools:  tools,
		log:    logger.Named("reasoning"),
	}
	for _, opt := range opts {
		opt(adapter)
	}
	return adapter, nil
}

// NextStep 根据会话历史请求模型给出下一步决策。所有失败都归为
// 可重试的推理失败，由循环决定是否继续。
func (a *Adapter) NextStep(ctx context.Context, session *solver.Session) (solver.Decision, error) {
	req := llm.Request{
		Messages:    a.buildMessages(session),
		Temperature: a.temperature,
	}

	resp, err := a.client.Generate(ctx, req)
	if err != nil {
		return solver.Decision{}, xerrors.Wrap(xerrors.CodeReasoningFailure, err, "调用大模型失败")
	}

	decision, err := ParseDecision(resp.Content)
	if err != nil {
		a.log.Warn("模型回复无法解析", "error", err, "session_id", session.ID())
		return solver.Decision{}, xerrors.Wrap(xerrors.CodeReasoningFailure, err, "模型回复无法解析")
	}
	return decision, nil
}

// buildMessages 把会话重建为一次完整对话：系统提示、任务描述、
// 逐回合的动作与观察。
func (a *Adapter) buildMessages(session *solver.Session) []llm.Message {
	messages := make([]llm.Message, 0, 2+2*len(session.Turns()))
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: a.systemPrompt(session)})
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: a.taskPrompt(session)})

	for _, turn := range session.Turns() {
		if turn.Action == nil {
			continue
		}
		call, err := json.Marshal(map[string]any{
			"name":      turn.Action.Tool,
			"arguments": turn.Action.Arguments,
		})
		if err != nil {
			continue
		}
		messages = append(messages, llm.Message{
			Role:    llm.RoleAssistant,
			Content: jsonOpenTag + string(call) + jsonCloseTag,
		})
		messages = append(messages, llm.Message{
			Role:    llm.RoleUser,
			Content: renderObservation(turn.Observation),
		})
	}
	return messages
}

func (a *Adapter) systemPrompt(session *solver.Session) string {
	var builder strings.Builder
	builder.WriteString("你是一名智能合约安全专家，任务是攻破给定的链上挑战合约。\n")
	builder.WriteString("每个回合只做一件事：调用一个工具，或给出终局回答。\n\n")

	builder.WriteString("## 可用工具\n")
	for _, tool := range a.tools {
		builder.WriteString("- ")
		builder.WriteString(tool)
		builder.WriteString(": ")
		builder.WriteString(toolHint(tool))
		builder.WriteString("\n")
	}

	builder.WriteString("\n## 输出格式\n")
	builder.WriteString("调用工具时，输出恰好一个指令块:\n")
	builder.WriteString("<json>{\"name\": \"工具名\", \"arguments\": {...}}</json>\n")
	builder.WriteString("认定挑战已经解决或无法解决时，输出:\n")
	builder.WriteString("<json>{\"final\": true, \"solved\": true或false, \"message\": \"结论说明\"}</json>\n")
	builder.WriteString("指令块外可以写简短的思考过程。失败的观察是线索而不是终点，调整思路继续尝试。\n")

	if a.knowledge != nil {
		if cards := a.knowledge.Query(session.Goal()); len(cards) > 0 {
			builder.WriteString("\n## 相关漏洞模式\n")
			for _, card := range cards {
				builder.WriteString("### ")
				builder.WriteString(card.Title)
				builder.WriteString("\n")
				builder.WriteString(card.Content)
				builder.WriteString("\n")
			}
		}
	}
	return builder.String()
}

func (a *Adapter) taskPrompt(session *solver.Session) string {
	var builder strings.Builder
	builder.WriteString("## 挑战描述\n")
	builder.WriteString(strings.TrimSpace(session.Goal()))
	builder.WriteString("\n")
	if address := strings.TrimSpace(session.ContractAddress()); address != "" {
		builder.WriteString("目标合约地址: ")
		builder.WriteString(address)
		builder.WriteString("\n")
	}
	if metadata := session.Metadata(); len(metadata) > 0 {
		if encoded, err := json.Marshal(metadata); err == nil {
			builder.WriteString("附加参数: ")
			builder.Write(encoded)
			builder.WriteString("\n")
		}
	}
	budget := session.BudgetLimits()
	builder.WriteString(fmt.Sprintf("工具调用上限: %d 次，已用 %d 次。\n", budget.MaxActions, session.ActionCount()))
	return builder.String()
}

// renderObservation 把观察结果编排为回给模型的消息。
func renderObservation(obs *solver.Observation) string {
	if obs == nil {
		return "观察结果缺失。"
	}
	if obs.Success {
		return "执行成功，观察结果:\n" + truncate(obs.Payload, maxObservationChars)
	}
	var builder strings.Builder
	builder.WriteString("执行失败")
	if obs.Category != "" {
		builder.WriteString("（")
		builder.WriteString(string(obs.Category))
		builder.WriteString("）")
	}
	builder.WriteString(": ")
	builder.WriteString(truncate(obs.Error, maxObservationChars))
	return builder.String()
}

func toolHint(tool string) string {
	switch tool {
	case "execute-code":
		return `在隔离沙箱中执行脚本，arguments: {"code": "脚本内容"}`
	case "deploy-contract":
		return `部署攻击合约，arguments: {"bytecode": "0x开头的部署字节码", "value": "可选的wei金额"}`
	case "query-state":
		return `读取链上状态，arguments: {"address": "地址", "kind": "balance|nonce|code|storage|chain", "slot": "storage时的槽位"}，kind=chain 返回网络快照且不需要 address`
	case "call-contract":
		return `调用合约，arguments: {"address": "地址", "data": "calldata", "value": "可选金额", "send": 是否上链}`
	default:
		return "见工具文档"
	}
}

var _ solver.Adapter = (*Adapter)(nil)
