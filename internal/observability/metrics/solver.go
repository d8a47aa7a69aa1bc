package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

type sessionKey struct {
	status string
	reason string
}

type toolKey struct {
	tool    string
	outcome string
}

type solveMetrics struct {
	mu       sync.Mutex
	sessions map[sessionKey]uint64
	actions  uint64
	tools    map[toolKey]uint64
}

var solveCollector = &solveMetrics{
	sessions: make(map[sessionKey]uint64),
	tools:    make(map[toolKey]uint64),
}

// ObserveSolveSession 记录一次求解会话的裁决结果。
// reason 仅对中止会话有意义，其余情况传空串。
func ObserveSolveSession(status, reason string, actions int) {
	solveCollector.mu.Lock()
	defer solveCollector.mu.Unlock()
	solveCollector.sessions[sessionKey{status: status, reason: reason}]++
	if actions > 0 {
		solveCollector.actions += uint64(actions)
	}
}

// ObserveToolInvocation 记录一次工具调用及其成败。
func ObserveToolInvocation(tool string, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	solveCollector.mu.Lock()
	defer solveCollector.mu.Unlock()
	solveCollector.tools[toolKey{tool: tool, outcome: outcome}]++
}

func (m *solveMetrics) render() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	type sessionMetric struct {
		sessionKey
		value uint64
	}
	type toolMetric struct {
		toolKey
		value uint64
	}

	sessions := make([]sessionMetric, 0, len(m.sessions))
	for key, value := range m.sessions {
		sessions = append(sessions, sessionMetric{sessionKey: key, value: value})
	}
	tools := make([]toolMetric, 0, len(m.tools))
	for key, value := range m.tools {
		tools = append(tools, toolMetric{toolKey: key, value: value})
	}

	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].status == sessions[j].status {
			return sessions[i].reason < sessions[j].reason
		}
		return sessions[i].status < sessions[j].status
	})
	sort.Slice(tools, func(i, j int) bool {
		if tools[i].tool == tools[j].tool {
			return tools[i].outcome < tools[j].outcome
		}
		return tools[i].tool < tools[j].tool
	})

	var builder strings.Builder
	builder.Grow(512)

	builder.WriteString("# HELP ethernaut_solve_sessions_total Total number of solve sessions by verdict.\n")
	builder.WriteString("# TYPE ethernaut_solve_sessions_total counter\n")
	for _, metric := range sessions {
		builder.WriteString(fmt.Sprintf("ethernaut_solve_sessions_total{status=\"%s\",reason=\"%s\"} %d\n",
			escape(metric.status), escape(metric.reason), metric.value))
	}

	builder.WriteString("# HELP ethernaut_solve_actions_total Total number of tool actions consumed by solve sessions.\n")
	builder.WriteString("# TYPE ethernaut_solve_actions_total counter\n")
	builder.WriteString(fmt.Sprintf("ethernaut_solve_actions_total %d\n", m.actions))

	builder.WriteString("# HELP ethernaut_tool_invocations_total Total number of tool invocations by outcome.\n")
	builder.WriteString("# TYPE ethernaut_tool_invocations_total counter\n")
	for _, metric := range tools {
		builder.WriteString(fmt.Sprintf("ethernaut_tool_invocations_total{tool=\"%s\",outcome=\"%s\"} %d\n",
			escape(metric.tool), escape(metric.outcome), metric.value))
	}

	return builder.String()
}
