package task

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	xerrors "Ethernaut-Agent/internal/errors"
	"Ethernaut-Agent/internal/observability/alerting"
	"Ethernaut-Agent/internal/observability/metrics"
	"Ethernaut-Agent/internal/solver"
	"Ethernaut-Agent/pkg/logger"
)

// RetryableHandlerError 判断队列回调返回的错误是否值得重投。
func RetryableHandlerError(err error) bool {
	return xerrors.RetryableError(err)
}

// Processor 负责从队列消费任务并驱动求解执行器。每个在跑的任务
// 持有独立的取消句柄，tasks/cancel 通过它中断求解循环。
type Processor struct {
	executor    Executor
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	logger      *slog.Logger
	recovery    RecoveryHandler
	alerter     alerting.Dispatcher
	archiver    VerdictArchiver

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithRecoveryHandler 配置失败补偿策略。
func WithRecoveryHandler(handler RecoveryHandler) ProcessorOption {
	return func(p *Processor) {
		p.recovery = handler
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// VerdictArchiver 把终局裁定写入独立的归档存储，供事后回放。
type VerdictArchiver interface {
	Archive(ctx context.Context, task *Task, verdict solver.Verdict) error
}

// WithVerdictArchiver 启用裁定归档。归档失败只记日志，不影响任务状态。
func WithVerdictArchiver(archiver VerdictArchiver) ProcessorOption {
	return func(p *Processor) {
		p.archiver = archiver
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(executor Executor, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
		running:     make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.workerCount <= 0 {
		p.workerCount = 1
	}
	return p
}

// Start 启动任务处理循环。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置任务消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

// Cancel 中断本实例上正在求解的任务。返回 false 表示该任务不在
// 本实例上运行。
func (p *Processor) Cancel(taskID string) bool {
	p.mu.Lock()
	cancel, ok := p.running[taskID]
	p.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (p *Processor) track(taskID string, cancel context.CancelFunc) {
	p.mu.Lock()
	p.running[taskID] = cancel
	p.mu.Unlock()
}

func (p *Processor) untrack(taskID string) {
	p.mu.Lock()
	delete(p.running, taskID)
	p.mu.Unlock()
}

func (p *Processor) handle(ctx context.Context, taskID string) error {
	if p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	task, err := p.store.Claim(ctx, taskID)
	if err != nil {
		if stdErrors.Is(err, ErrTaskNotFound) || stdErrors.Is(err, ErrTaskCompleted) || stdErrors.Is(err, ErrTaskExhausted) {
			p.logDebug("跳过任务", slog.String("task_id", taskID), slog.String("reason", err.Error()))
			return nil
		}
		logger.L().Error("领取任务失败", slog.Any("error", err), slog.String("task_id", taskID))
		p.emitAlert(ctx, &Task{ID: taskID}, CodeTaskProcessing, err, "claim")
		return err
	}

	solveCtx, cancel := context.WithCancel(ctx)
	p.track(task.ID, cancel)
	verdict, execErr := p.executor.Execute(solveCtx, task)
	p.untrack(task.ID)
	cancel()

	if execErr != nil {
		return p.handleExecutionFailure(ctx, task, execErr)
	}
	if verdict == nil {
		return p.handleExecutionFailure(ctx, task,
			xerrors.New(CodeTaskProcessing, "执行器没有产出裁定"))
	}
	return p.recordVerdict(ctx, task, verdict)
}

// recordVerdict 把求解裁定写回存储。会话状态到任务状态的映射：
// succeeded→succeeded，failed→failed，aborted 则按中止原因区分
// 取消与失败。
func (p *Processor) recordVerdict(ctx context.Context, task *Task, verdict *solver.Verdict) error {
	metrics.ObserveSolveSession(string(verdict.Status), string(verdict.Reason), verdict.Actions)
	if p.archiver != nil {
		if err := p.archiver.Archive(ctx, task, *verdict); err != nil {
			logger.L().Warn("裁定归档失败", slog.Any("error", err), slog.String("task_id", task.ID))
		}
	}
	switch verdict.Status {
	case solver.StatusSucceeded:
		if err := p.store.MarkSucceeded(ctx, task.ID, *verdict); err != nil {
			return p.retryAfterStoreFailure(ctx, task, err)
		}
		logger.Audit().Info("挑战求解成功",
			slog.String("task_id", task.ID),
			slog.String("goal", task.Goal),
			slog.Int("actions", verdict.Actions),
		)
		return nil

	case solver.StatusAborted:
		if verdict.Reason == xerrors.CodeCancelled {
			if err := p.store.MarkCanceled(ctx, task.ID, verdict); err != nil && !stdErrors.Is(err, ErrTaskNotCancelable) {
				return err
			}
			logger.Audit().Info("任务已取消",
				slog.String("task_id", task.ID),
				slog.Int("actions", verdict.Actions),
			)
			return nil
		}
		if err := p.store.MarkFailed(ctx, task.ID, verdict.Reason, verdict.Message, verdict); err != nil {
			return err
		}
		logger.Audit().Warn("求解中止",
			slog.String("task_id", task.ID),
			slog.String("reason", string(verdict.Reason)),
			slog.Int("actions", verdict.Actions),
		)
		p.emitAlert(ctx, task, verdict.Reason, stdErrors.New(verdict.Message), "aborted")
		return nil

	default:
		if err := p.store.MarkFailed(ctx, task.ID, verdict.Reason, verdict.Message, verdict); err != nil {
			return err
		}
		logger.Audit().Info("挑战未能解决",
			slog.String("task_id", task.ID),
			slog.String("goal", task.Goal),
			slog.Int("actions", verdict.Actions),
		)
		return nil
	}
}

// retryAfterStoreFailure 在结果落库失败时把任务重投队列。
func (p *Processor) retryAfterStoreFailure(ctx context.Context, task *Task, cause error) error {
	logger.L().Error("记录裁定失败", slog.Any("error", cause), slog.String("task_id", task.ID))
	if storeErr := p.store.MarkFailed(ctx, task.ID, CodeTaskProcessing, cause.Error(), nil); storeErr != nil {
		logger.L().Error("回写失败状态出错", slog.Any("error", storeErr), slog.String("task_id", task.ID))
		return storeErr
	}
	if p.producer != nil {
		if pubErr := p.producer.Publish(ctx, task.ID); pubErr != nil {
			return xerrors.Wrap(CodeTaskPublish, pubErr, fmt.Sprintf("任务 %s 在落库失败后重投失败", task.ID))
		}
	}
	return nil
}

// handleExecutionFailure 处理执行器自身的基础设施失败。求解层面
// 的失败（挑战没解开）不会走到这里，它们体现在裁定里。
func (p *Processor) handleExecutionFailure(ctx context.Context, task *Task, execErr error) error {
	code := xerrors.CodeOf(execErr)
	if code == xerrors.CodeUnknown {
		code = CodeTaskProcessing
	}
	retryable := xerrors.RetryableError(execErr)
	terminal := task.Attempts >= task.MaxRetries || !retryable

	if !retryable && p.recovery != nil {
		if fallback, recErr := p.recovery.Recover(ctx, task, execErr); recErr != nil {
			logger.L().Error("执行补偿逻辑失败",
				slog.Any("error", recErr),
				slog.String("task_id", task.ID))
			p.emitAlert(ctx, task, code, recErr, "compensate")
		} else if fallback != nil {
			if err := p.store.MarkFailed(ctx, task.ID, code, execErr.Error(), fallback); err != nil {
				return err
			}
			logger.Audit().Warn("任务降级完成",
				slog.String("task_id", task.ID),
				slog.String("goal", task.Goal),
			)
			p.emitAlert(ctx, task, code, execErr, "degraded")
			return nil
		}
	}

	if storeErr := p.store.MarkFailed(ctx, task.ID, code, execErr.Error(), nil); storeErr != nil {
		logger.L().Error("标记任务失败状态出错", slog.Any("error", storeErr), slog.String("task_id", task.ID))
		return storeErr
	}
	logger.Audit().Warn("任务执行失败",
		slog.String("task_id", task.ID),
		slog.String("goal", task.Goal),
		slog.Bool("terminal", terminal),
		slog.String("error", execErr.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", task.Attempts),
		slog.Int("max_retries", task.MaxRetries),
	)

	stage := "retry"
	if terminal {
		stage = "terminal"
	} else if !retryable {
		stage = "non_retryable"
	}
	p.emitAlert(ctx, task, code, execErr, stage)

	if retryable && !terminal && p.producer != nil {
		if pubErr := p.producer.Publish(ctx, task.ID); pubErr != nil {
			return xerrors.Wrap(CodeTaskPublish, pubErr, fmt.Sprintf("任务 %s 重投失败", task.ID))
		}
		p.logDebug("任务已重新排队", slog.String("task_id", task.ID), slog.Int("attempts", task.Attempts))
	}
	return nil
}

func (p *Processor) logDebug(msg string, attrs ...slog.Attr) {
	if p.logger != nil {
		args := make([]any, len(attrs))
		for i, attr := range attrs {
			args[i] = attr
		}
		p.logger.Debug(msg, args...)
	}
}

func (p *Processor) emitAlert(ctx context.Context, task *Task, code xerrors.Code, cause error, stage string) {
	if p == nil || p.alerter == nil || task == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	message := attrs.Message
	if cause != nil {
		message = cause.Error()
	}
	metadata := map[string]string{
		"stage": stage,
	}
	if cause != nil {
		metadata["cause"] = cause.Error()
	}
	event := alerting.Event{
		Code:       code,
		Message:    message,
		Severity:   attrs.Severity,
		TaskID:     task.ID,
		Attempts:   task.Attempts,
		MaxRetries: task.MaxRetries,
		Metadata:   metadata,
		OccurredAt: time.Now(),
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err),
			slog.String("task_id", task.ID),
			slog.String("stage", stage),
		)
	}
}
