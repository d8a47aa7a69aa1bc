package mysql

import (
	"context"
	"testing"
	"time"

	xerrors "Ethernaut-Agent/internal/errors"
	"Ethernaut-Agent/internal/solver"
)

func TestFileArchiveRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	archive, err := NewFileArchive(dir)
	if err != nil {
		t.Fatalf("failed to create archive: %v", err)
	}

	ctx := context.Background()
	first := NewArchiveRecord("task-1", "攻破 Fallback 挑战", "0xabc", solver.Verdict{
		Status:  solver.StatusSucceeded,
		Solved:  true,
		Actions: 4,
		Message: "已攻破",
	})
	first.CreatedAt = time.Now().Unix() - 10
	second := NewArchiveRecord("task-2", "攻破 CoinFlip 挑战", "0xdef", solver.Verdict{
		Status:  solver.StatusAborted,
		Reason:  xerrors.CodeBudgetExceeded,
		Message: "预算耗尽",
	})

	if err := archive.Save(ctx, first); err != nil {
		t.Fatalf("save first: %v", err)
	}
	if err := archive.Save(ctx, second); err != nil {
		t.Fatalf("save second: %v", err)
	}

	list, err := archive.ListLatest(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 records, got %d", len(list))
	}
	if list[0].TaskID != "task-2" || list[0].Reason != string(xerrors.CodeBudgetExceeded) {
		t.Fatalf("unexpected newest record: %+v", list[0])
	}

	// 重新打开仓库应从磁盘恢复历史。
	reopened, err := NewFileArchive(dir)
	if err != nil {
		t.Fatalf("reopen archive: %v", err)
	}
	restored, err := reopened.ListLatest(ctx, 10)
	if err != nil {
		t.Fatalf("list restored: %v", err)
	}
	if len(restored) != 2 || restored[0].TaskID != "task-2" {
		t.Fatalf("unexpected restored records: %+v", restored)
	}
	if !restored[1].Solved || restored[1].Actions != 4 {
		t.Fatalf("record fields lost on reload: %+v", restored[1])
	}
}

func TestFileArchiveLimit(t *testing.T) {
	t.Parallel()

	archive, err := NewFileArchive(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create archive: %v", err)
	}
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		record := NewArchiveRecord("task", "goal", "", solver.Verdict{Status: solver.StatusFailed})
		if err := archive.Save(ctx, record); err != nil {
			t.Fatalf("save #%d: %v", i, err)
		}
	}
	list, err := archive.ListLatest(ctx, 3)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 records, got %d", len(list))
	}
}
