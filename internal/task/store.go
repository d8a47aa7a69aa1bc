package task

import (
	"context"

	xerrors "Ethernaut-Agent/internal/errors"
	"Ethernaut-Agent/internal/solver"
)

// Store 抽象了任务状态的持久化接口。
type Store interface {
	// Create 写入新任务，ID 已存在时返回 ErrTaskDuplicate。
	Create(ctx context.Context, task *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	// Claim 把 pending 任务迁移到 running 并递增尝试次数。
	Claim(ctx context.Context, id string) (*Task, error)
	// MarkSucceeded 记录成功的终局裁定。
	MarkSucceeded(ctx context.Context, id string, verdict solver.Verdict) error
	// MarkFailed 记录失败。verdict 可为空：没有跑完一个回合就失败的
	// 任务只有错误信息。
	MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, verdict *solver.Verdict) error
	// MarkCanceled 记录取消。对已处于终态的任务返回 ErrTaskNotCancelable。
	MarkCanceled(ctx context.Context, id string, verdict *solver.Verdict) error
	List(ctx context.Context, opts ...ListOption) ([]*Task, error)
	Stats(ctx context.Context, opts ...ListOption) (TaskStats, error)
	Close() error
}
