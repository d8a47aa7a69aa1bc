package mysql

import (
	"context"

	"Ethernaut-Agent/internal/solver"
	"Ethernaut-Agent/internal/task"
)

// TaskArchiver 把归档仓库适配为任务处理器的归档钩子。
type TaskArchiver struct {
	repo ArchiveRepository
}

// NewTaskArchiver 构造归档适配器。
func NewTaskArchiver(repo ArchiveRepository) *TaskArchiver {
	return &TaskArchiver{repo: repo}
}

// Archive 实现 task.VerdictArchiver。
func (a *TaskArchiver) Archive(ctx context.Context, t *task.Task, verdict solver.Verdict) error {
	if a == nil || a.repo == nil {
		return nil
	}
	return a.repo.Save(ctx, NewArchiveRecord(t.ID, t.Goal, t.Address, verdict))
}

var _ task.VerdictArchiver = (*TaskArchiver)(nil)
