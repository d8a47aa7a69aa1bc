package reasoning

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"Ethernaut-Agent/internal/solver"
)

// 模型用 <json> 标签包裹结构化指令，标签外的文字视为思考过程。
const (
	jsonOpenTag  = "<json>"
	jsonCloseTag = "</json>"
)

// ParseDecision 把模型回复解析成下一步决策。
//
// 识别两种结构化指令：
//
//	<json>{"name": "query-state", "arguments": {...}}</json>
//	<json>{"final": true, "solved": true, "message": "..."}</json>
//
// 不含 <json> 块的回复整体视为终局陈述，且不构成解题断言。
func ParseDecision(content string) (solver.Decision, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return solver.Decision{}, fmt.Errorf("模型回复为空")
	}

	block, ok := extractJSONBlock(content)
	if !ok {
		return solver.Decision{
			Final: &solver.FinalAnswer{Solved: false, Message: content},
		}, nil
	}

	fields, block, err := decodeBlock(block)
	if err != nil {
		return solver.Decision{}, err
	}

	if _, isFinal := fields["final"]; isFinal {
		var final struct {
			Solved  bool   `json:"solved"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(block, &final); err != nil {
			return solver.Decision{}, fmt.Errorf("解析终局回答失败: %w", err)
		}
		if strings.TrimSpace(final.Message) == "" {
			final.Message = content
		}
		return solver.Decision{
			Final: &solver.FinalAnswer{Solved: final.Solved, Message: final.Message},
		}, nil
	}

	if _, isAction := fields["name"]; isAction {
		var action struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := json.Unmarshal(block, &action); err != nil {
			return solver.Decision{}, fmt.Errorf("解析工具调用失败: %w", err)
		}
		if strings.TrimSpace(action.Name) == "" {
			return solver.Decision{}, fmt.Errorf("工具调用缺少 name 字段")
		}
		arguments := action.Arguments
		if len(arguments) == 0 {
			arguments = json.RawMessage(`{}`)
		}
		return solver.Decision{
			Action: &solver.Action{Tool: action.Name, Arguments: arguments},
		}, nil
	}

	return solver.Decision{}, fmt.Errorf("无法识别的指令结构: %s", truncate(string(block), 200))
}

// extractJSONBlock 取出第一个 <json> 块的内容。闭合标签缺失时取到
// 文本末尾，交给修复逻辑兜底。
func extractJSONBlock(content string) (json.RawMessage, bool) {
	start := strings.Index(content, jsonOpenTag)
	if start < 0 {
		return nil, false
	}
	rest := content[start+len(jsonOpenTag):]
	if end := strings.Index(rest, jsonCloseTag); end >= 0 {
		rest = rest[:end]
	}
	return json.RawMessage(strings.TrimSpace(rest)), true
}

// decodeBlock 解析块内 JSON，非法时先经 jsonrepair 修复再试一次。
// 模型输出常见缺引号、尾逗号一类的小毛病。返回归一化后的块
// 供后续类型化解析使用。
func decodeBlock(block json.RawMessage) (map[string]json.RawMessage, json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(block, &fields); err == nil {
		return fields, block, nil
	}

	repaired, err := jsonrepair.JSONRepair(string(block))
	if err != nil {
		return nil, nil, fmt.Errorf("指令不是合法 JSON 且无法修复: %w", err)
	}
	normalized := json.RawMessage(repaired)
	if err := json.Unmarshal(normalized, &fields); err != nil {
		return nil, nil, fmt.Errorf("修复后的指令仍无法解析: %w", err)
	}
	return fields, normalized, nil
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
