package task

import (
	"context"

	"Ethernaut-Agent/internal/solver"
)

// RecoveryHandler 定义了任务执行基础设施失败时的补偿策略。
type RecoveryHandler interface {
	// Recover 尝试根据失败原因给出降级裁定。
	// 返回的 Verdict 将作为降级结果写入任务；返回 nil 则继续按失败流程处理。
	Recover(ctx context.Context, task *Task, cause error) (*solver.Verdict, error)
}
