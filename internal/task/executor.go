package task

import (
	"context"

	xerrors "Ethernaut-Agent/internal/errors"
	"Ethernaut-Agent/internal/solver"
)

// Executor 把一个已领取的任务跑到终局。
type Executor interface {
	Execute(ctx context.Context, task *Task) (*solver.Verdict, error)
}

// SolveExecutor 为每个任务创建独立的求解会话并驱动其循环。
// 会话之间不共享任何可变状态，可以安全地并发执行。
type SolveExecutor struct {
	adapter  solver.Adapter
	gateway  solver.Gateway
	defaults solver.Budget
	loopOpts []solver.LoopOption
}

// NewSolveExecutor 构造执行器。defaults 是未被任务覆盖时的预算。
func NewSolveExecutor(adapter solver.Adapter, gateway solver.Gateway, defaults solver.Budget, loopOpts ...solver.LoopOption) (*SolveExecutor, error) {
	if adapter == nil || gateway == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "执行器缺少推理适配器或工具网关")
	}
	return &SolveExecutor{
		adapter:  adapter,
		gateway:  gateway,
		defaults: defaults,
		loopOpts: loopOpts,
	}, nil
}

// Execute 实现 Executor 接口。
func (e *SolveExecutor) Execute(ctx context.Context, task *Task) (*solver.Verdict, error) {
	if task == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "task 不能为空")
	}
	session := solver.NewSession(task.ID, task.Goal, task.Address, cloneMetadata(task.Metadata), task.Budget(e.defaults))
	loop := solver.NewLoop(e.adapter, e.gateway, e.loopOpts...)
	return loop.Run(ctx, session), nil
}

var _ Executor = (*SolveExecutor)(nil)
