package solver

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	xerrors "Ethernaut-Agent/internal/errors"
	"Ethernaut-Agent/pkg/logger"
)

// Adapter 封装不透明的推理能力：给定会话状态，返回下一步决策。
// 适配器不得修改会话，状态变更是 Loop 的专属职责。
type Adapter interface {
	NextStep(ctx context.Context, session *Session) (Decision, error)
}

// Gateway 是工具网关的消费侧接口。Invoke 永不返回 error：
// 一切失败都折叠进 Observation，由下一轮推理自行消化。
type Gateway interface {
	Invoke(ctx context.Context, tool string, arguments json.RawMessage) Observation
}

// Loop 驱动单个会话完成 推理 → 工具 的循环，直至终态。
type Loop struct {
	adapter Adapter
	gateway Gateway

	reasoningTimeout time.Duration
	toolTimeout      time.Duration
	confirmWin       bool
	log              *slog.Logger
}

// LoopOption 定义可选配置。
type LoopOption func(*Loop)

// WithReasoningTimeout 设置单次推理调用的超时时间。
func WithReasoningTimeout(timeout time.Duration) LoopOption {
	return func(l *Loop) {
		if timeout > 0 {
			l.reasoningTimeout = timeout
		}
	}
}

// WithToolTimeout 设置单次工具调用的超时时间。
func WithToolTimeout(timeout time.Duration) LoopOption {
	return func(l *Loop) {
		if timeout > 0 {
			l.toolTimeout = timeout
		}
	}
}

// WithWinConfirmation 控制在推理层断言成功后，是否追加一次
// query-state 调用，把链上状态作为独立证据写入历史。
func WithWinConfirmation(enabled bool) LoopOption {
	return func(l *Loop) {
		l.confirmWin = enabled
	}
}

// WithLoopLogger 指定日志输出。
func WithLoopLogger(log *slog.Logger) LoopOption {
	return func(l *Loop) {
		l.log = log
	}
}

// NewLoop 构造求解循环。
func NewLoop(adapter Adapter, gateway Gateway, opts ...LoopOption) *Loop {
	l := &Loop{
		adapter:          adapter,
		gateway:          gateway,
		reasoningTimeout: 2 * time.Minute,
		toolTimeout:      time.Minute,
		confirmWin:       true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	if l.log == nil {
		l.log = logger.Named("solver")
	}
	return l
}

// Run 执行状态机直到终态并产出 Verdict。预算检查先于推理调用：
// 恰好在预算边界上返回的终局回答仍然有效。
func (l *Loop) Run(ctx context.Context, session *Session) *Verdict {
	if l.adapter == nil || l.gateway == nil {
		session.finish(StatusAborted)
		return session.verdict(xerrors.CodeInitializationFailure, "solve loop not initialised", false)
	}

	retries := 0
	for {
		// 外部取消优先于一切：不再发起任何新的回合。
		if err := ctx.Err(); err != nil {
			return l.abort(session, xerrors.CodeCancelled, "session cancelled by caller")
		}

		if exhausted, why := session.budgetExhausted(time.Now()); exhausted {
			return l.abort(session, xerrors.CodeBudgetExceeded, why)
		}

		decision, err := l.nextStep(ctx, session)
		if err != nil {
			if ctx.Err() != nil {
				return l.abort(session, xerrors.CodeCancelled, "session cancelled by caller")
			}
			retries++
			l.log.Warn("推理调用失败",
				slog.String("session_id", session.ID()),
				slog.Int("retries", retries),
				slog.Any("error", err),
			)
			if retries > session.BudgetLimits().MaxReasoningRetries {
				return l.abort(session, xerrors.CodeReasoningUnavailable,
					fmt.Sprintf("reasoning failed %d times: %v", retries, err))
			}
			continue
		}
		retries = 0

		if decision.Final != nil {
			return l.finishFinal(ctx, session, *decision.Final)
		}

		action := decision.Action
		action.Seq = session.nextSeq()
		turn := session.recordAction(*action)

		observation := l.invoke(ctx, action.Tool, action.Arguments)
		observation.Seq = action.Seq
		turn.Observation = &observation

		// 失败的观察是信息而非故障：推理层在下一轮看到后自行决定
		// 重试、换路还是放弃。
		l.log.Debug("工具调用完成",
			slog.String("session_id", session.ID()),
			slog.String("tool", action.Tool),
			slog.Int("seq", action.Seq),
			slog.Bool("success", observation.Success),
		)
	}
}

// nextStep 调用推理适配器，并统一校验决策的形状。
func (l *Loop) nextStep(ctx context.Context, session *Session) (Decision, error) {
	stepCtx := ctx
	if l.reasoningTimeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, l.reasoningTimeout)
		defer cancel()
	}

	decision, err := l.adapter.NextStep(stepCtx, session)
	if err != nil {
		if stdErrors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return Decision{}, xerrors.Wrap(xerrors.CodeReasoningFailure, err, "推理调用超时")
		}
		return Decision{}, err
	}
	if (decision.Action == nil) == (decision.Final == nil) {
		return Decision{}, xerrors.New(xerrors.CodeReasoningFailure,
			"适配器必须恰好返回 Action 或 FinalAnswer 之一")
	}
	return decision, nil
}

// invoke 以独立超时执行一次工具调用。
func (l *Loop) invoke(ctx context.Context, tool string, arguments json.RawMessage) Observation {
	toolCtx := ctx
	if l.toolTimeout > 0 {
		var cancel context.CancelFunc
		toolCtx, cancel = context.WithTimeout(ctx, l.toolTimeout)
		defer cancel()
	}
	return l.gateway.Invoke(toolCtx, tool, arguments)
}

// finishFinal 记录终局回答并完成终态迁移。Solved 断言只被记录，
// 不被裁决；但在允许的情况下补充一次链上状态查询作为独立证据。
func (l *Loop) finishFinal(ctx context.Context, session *Session, final FinalAnswer) *Verdict {
	session.recordFinal(final)

	if l.confirmWin && final.Solved && session.ContractAddress() != "" &&
		session.ActionCount() < session.BudgetLimits().MaxActions && ctx.Err() == nil {
		args, _ := json.Marshal(map[string]string{"address": session.ContractAddress()})
		action := Action{Tool: "query-state", Arguments: args, Seq: session.nextSeq()}
		turn := session.recordAction(action)
		observation := l.invoke(ctx, action.Tool, action.Arguments)
		observation.Seq = action.Seq
		turn.Observation = &observation
	}

	if final.Solved {
		session.finish(StatusSucceeded)
	} else {
		session.finish(StatusFailed)
	}
	logger.Audit().Info("会话结束",
		slog.String("session_id", session.ID()),
		slog.String("task_id", session.TaskID()),
		slog.String("status", string(session.Status())),
		slog.Int("actions", session.ActionCount()),
	)
	return session.verdict("", final.Message, final.Solved)
}

// abort 执行放弃迁移并产出带原因的 Verdict。
func (l *Loop) abort(session *Session, reason xerrors.Code, message string) *Verdict {
	session.finish(StatusAborted)
	logger.Audit().Warn("会话中止",
		slog.String("session_id", session.ID()),
		slog.String("task_id", session.TaskID()),
		slog.String("reason", string(reason)),
		slog.Int("actions", session.ActionCount()),
	)
	return session.verdict(reason, message, false)
}
