package task

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "Ethernaut-Agent/internal/errors"
	"Ethernaut-Agent/pkg/logger"
)

// SubmitRequest 描述一次挑战提交。
type SubmitRequest struct {
	// ID 是调用方指定的任务标识，留空时由服务生成。
	ID         string
	Goal       string
	Address    string
	Metadata   map[string]any
	MaxActions int
	MaxSeconds int
}

// Canceler 中断正在本实例上求解的任务。
type Canceler interface {
	Cancel(taskID string) bool
}

// Service 负责任务的创建、查询与取消。
type Service struct {
	store      Store
	producer   Producer
	canceler   Canceler
	maxRetries int
}

// NewService 构造任务服务。
func NewService(store Store, producer Producer, maxRetries int) *Service {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Service{store: store, producer: producer, maxRetries: maxRetries}
}

// BindCanceler 注入运行中任务的取消能力，通常是 Processor。
func (s *Service) BindCanceler(canceler Canceler) {
	s.canceler = canceler
}

// Submit 创建一个新的任务并推送到队列。调用方指定的 ID 如果已经
// 存在，提交被整体拒绝，已有任务不受影响。
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Task, error) {
	if strings.TrimSpace(req.Goal) == "" {
		return nil, xerrors.New(CodeTaskValidation, "挑战描述不能为空")
	}
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化")
	}

	taskID := strings.TrimSpace(req.ID)
	if taskID == "" {
		taskID = uuid.NewString()
	}

	task := &Task{
		ID:         taskID,
		Goal:       req.Goal,
		Address:    strings.TrimSpace(req.Address),
		Metadata:   cloneMetadata(req.Metadata),
		MaxActions: req.MaxActions,
		MaxSeconds: req.MaxSeconds,
		Status:     StatusPending,
		Attempts:   0,
		MaxRetries: s.maxRetries,
	}
	if err := s.store.Create(ctx, task); err != nil {
		return nil, err
	}
	if err := s.producer.Publish(ctx, taskID); err != nil {
		logger.L().Error("任务入队失败", slog.Any("error", err), slog.String("task_id", taskID))
		wrapped := xerrors.Wrap(CodeTaskPublish, err, "发布任务到队列失败")
		_ = s.store.MarkFailed(ctx, taskID, CodeTaskPublish, wrapped.Error(), nil)
		return nil, wrapped
	}
	logger.Audit().Info("任务入队成功",
		slog.String("task_id", taskID),
		slog.String("goal", task.Goal),
		slog.String("address", task.Address),
		slog.Int("max_retries", task.MaxRetries),
	)
	return task, nil
}

// Get 返回指定任务的状态。
func (s *Service) Get(ctx context.Context, id string) (*Task, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.Get(ctx, id)
}

// Cancel 取消任务。排队中的任务直接落库为取消；正在求解的任务
// 通过取消句柄中断，终态由求解循环写入。
func (s *Service) Cancel(ctx context.Context, id string) (*Task, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	current, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status.Terminal() {
		return current, ErrTaskNotCancelable
	}

	if current.Status == StatusRunning && s.canceler != nil && s.canceler.Cancel(id) {
		logger.Audit().Info("取消信号已送达",
			slog.String("task_id", id),
		)
		return s.store.Get(ctx, id)
	}

	if err := s.store.MarkCanceled(ctx, id, nil); err != nil {
		if stdErrors.Is(err, ErrTaskNotCancelable) {
			task, getErr := s.store.Get(ctx, id)
			if getErr != nil {
				return nil, getErr
			}
			return task, ErrTaskNotCancelable
		}
		return nil, err
	}
	logger.Audit().Info("任务已取消",
		slog.String("task_id", id),
	)
	return s.store.Get(ctx, id)
}

// List 返回符合过滤条件的任务列表。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Task, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.List(ctx, opts...)
}

// Stats 返回符合过滤条件的任务统计信息。
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (TaskStats, error) {
	if s.store == nil {
		return TaskStats{}, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.Stats(ctx, opts...)
}

// Close 释放资源。
func (s *Service) Close() error {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			return err
		}
	}
	if s.producer != nil {
		return s.producer.Close()
	}
	return nil
}

// WaitUntilCompleted 在调用方上下文允许的时间内轮询任务直至终态。
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*Task, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		task, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if task.Status.Terminal() {
			return task, nil
		}
		select {
		case <-ctx.Done():
			return task, ctx.Err()
		case <-ticker.C:
		}
	}
}
