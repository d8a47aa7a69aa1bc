package task

import (
	stdErrors "errors"
	"time"

	xerrors "Ethernaut-Agent/internal/errors"
	"Ethernaut-Agent/internal/solver"
)

// Status 表示挑战任务在生命周期中的状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// Terminal 判断状态是否为终态。
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCanceled
}

// Task 描述了排队求解的智能合约挑战。
type Task struct {
	ID       string         `json:"id"`
	Goal     string         `json:"goal"`
	Address  string         `json:"address,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`

	// MaxActions 与 MaxSeconds 覆盖默认预算，零值表示使用默认。
	MaxActions int `json:"max_actions,omitempty"`
	MaxSeconds int `json:"max_seconds,omitempty"`

	Status     Status          `json:"status"`
	Attempts   int             `json:"attempts"`
	MaxRetries int             `json:"max_retries"`
	LastError  string          `json:"last_error,omitempty"`
	ErrorCode  string          `json:"error_code,omitempty"`
	Verdict    *solver.Verdict `json:"verdict,omitempty"`
	CreatedAt  int64           `json:"created_at"`
	UpdatedAt  int64           `json:"updated_at"`
}

var (
	// ErrTaskNotFound 表示指定的任务不存在。
	ErrTaskNotFound = xerrors.New(CodeTaskNotFound, "task not found")
	// ErrTaskDuplicate 表示已存在同 ID 的任务，提交被拒绝。
	ErrTaskDuplicate = xerrors.New(xerrors.CodeDuplicateTask, "duplicate task id", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrTaskConflict 表示任务在当前状态下无法进行所请求的操作。
	ErrTaskConflict = xerrors.New(CodeTaskConflict, "task conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrTaskCompleted 表示任务已经处于终态。
	ErrTaskCompleted = xerrors.New(CodeTaskCompleted, "task already completed", xerrors.WithSeverity(xerrors.SeverityInfo))
	// ErrTaskExhausted 表示任务的重试次数已经耗尽。
	ErrTaskExhausted = xerrors.New(CodeTaskExhausted, "task retries exhausted", xerrors.WithSeverity(xerrors.SeverityCritical))
	// ErrTaskNotCancelable 表示任务已处于终态，无法取消。
	ErrTaskNotCancelable = xerrors.New(CodeTaskNotCancelable, "task not cancelable", xerrors.WithSeverity(xerrors.SeverityInfo))
)

const (
	CodeTaskNotFound      xerrors.Code = "TASK_NOT_FOUND"
	CodeTaskConflict      xerrors.Code = "TASK_CONFLICT"
	CodeTaskCompleted     xerrors.Code = "TASK_COMPLETED"
	CodeTaskExhausted     xerrors.Code = "TASK_RETRIES_EXHAUSTED"
	CodeTaskValidation    xerrors.Code = "TASK_VALIDATION_FAILED"
	CodeTaskPublish       xerrors.Code = "TASK_PUBLISH_FAILED"
	CodeTaskProcessing    xerrors.Code = "TASK_PROCESSING_FAILED"
	CodeTaskNotCancelable xerrors.Code = "TASK_NOT_CANCELABLE"
)

func init() {
	xerrors.Register(CodeTaskNotFound, xerrors.Attributes{
		Message:   "task not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeTaskConflict, xerrors.Attributes{
		Message:   "task conflict",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeTaskCompleted, xerrors.Attributes{
		Message:   "task already completed",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeTaskExhausted, xerrors.Attributes{
		Message:   "task retries exhausted",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodeTaskValidation, xerrors.Attributes{
		Message:   "task validation failed",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeTaskPublish, xerrors.Attributes{
		Message:   "failed to publish task",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeTaskProcessing, xerrors.Attributes{
		Message:   "task execution failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeTaskNotCancelable, xerrors.Attributes{
		Message:   "task not cancelable",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
}

// IsTaskError 判断错误是否为指定编码的任务错误。
func IsTaskError(err error, target xerrors.Code) bool {
	if err == nil {
		return false
	}
	for _, known := range []error{
		ErrTaskNotFound, ErrTaskDuplicate, ErrTaskConflict,
		ErrTaskCompleted, ErrTaskExhausted, ErrTaskNotCancelable,
	} {
		if stdErrors.Is(err, known) {
			return xerrors.CodeOf(known) == target
		}
	}
	return false
}

func cloneMetadata(metadata map[string]any) map[string]any {
	if metadata == nil {
		return nil
	}
	cloned := make(map[string]any, len(metadata))
	for key, value := range metadata {
		cloned[key] = value
	}
	return cloned
}

// IsValidStatus 检查给定的任务状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusRunning, StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// Budget 把任务上的覆盖值转换成求解预算。
func (t *Task) Budget(defaults solver.Budget) solver.Budget {
	budget := defaults
	if t.MaxActions > 0 {
		budget.MaxActions = t.MaxActions
	}
	if t.MaxSeconds > 0 {
		budget.MaxDuration = time.Duration(t.MaxSeconds) * time.Second
	}
	return budget
}
