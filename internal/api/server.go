package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"Ethernaut-Agent/internal/a2a"
	"Ethernaut-Agent/internal/auth"
	xerrors "Ethernaut-Agent/internal/errors"
	"Ethernaut-Agent/internal/observability/metrics"
	"Ethernaut-Agent/internal/task"
)

// rpcPath 是 JSON-RPC 请求的统一入口。
const rpcPath = "/a2a/v1"

// Server 负责暴露 A2A 协议接口，供外部提交与管理求解任务。
type Server struct {
	addr     string
	service  *task.Service
	card     a2a.AgentCard
	auth     *auth.Service
	syncWait time.Duration
}

// Option 配置 Server 的可选行为。
type Option func(*Server)

// WithAuth 启用访问令牌校验。
func WithAuth(svc *auth.Service) Option {
	return func(s *Server) { s.auth = svc }
}

// WithSyncWait 让 message/send 在返回前等待任务进入终态，
// 超时后返回当时的任务快照。
func WithSyncWait(d time.Duration) Option {
	return func(s *Server) { s.syncWait = d }
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, svc *task.Service, card a2a.AgentCard, opts ...Option) *Server {
	server := &Server{addr: addr, service: svc, card: card}
	for _, opt := range opts {
		opt(server)
	}
	return server
}

// Handler 组装完整的 HTTP 路由。发现文档与健康检查不做鉴权。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(a2a.WellKnownPath, s.handleAgentCard)
	mux.HandleFunc(rpcPath, s.handleRPC)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())

	var handler http.Handler = mux
	if s.auth != nil {
		handler = s.auth.Middleware(a2a.WellKnownPath, "/healthz")(handler)
	}
	return observe(handler)
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// handleAgentCard 发布智能体元数据。
func (s *Server) handleAgentCard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.card)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleRPC 解析 JSON-RPC 信封并分发到各方法。
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	if s.service == nil {
		writeResponse(w, a2a.NewErrorResponse(nil, a2a.CodeInternalError, "任务服务未初始化"))
		return
	}

	var req a2a.JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeResponse(w, a2a.NewErrorResponse(nil, a2a.CodeParseError, "请求体不是合法的 JSON"))
		return
	}
	if req.JSONRPC != "2.0" || strings.TrimSpace(req.Method) == "" {
		writeResponse(w, a2a.NewErrorResponse(req.ID, a2a.CodeInvalidRequest, "不是合法的 JSON-RPC 2.0 请求"))
		return
	}

	ctx := r.Context()
	switch req.Method {
	case a2a.MethodMessageSend:
		writeResponse(w, s.handleMessageSend(ctx, req))
	case a2a.MethodTasksGet:
		writeResponse(w, s.handleTasksGet(ctx, req))
	case a2a.MethodTasksCancel:
		writeResponse(w, s.handleTasksCancel(ctx, req))
	case a2a.MethodTasksList:
		writeResponse(w, s.handleTasksList(ctx, req))
	default:
		writeResponse(w, a2a.NewErrorResponse(req.ID, a2a.CodeMethodNotFound, "不支持的方法 "+req.Method))
	}
}

// handleMessageSend 把协议消息转换为任务提交。挑战目标取消息的
// 文本内容，实例地址与预算覆盖从 metadata 中取。
func (s *Server) handleMessageSend(ctx context.Context, req a2a.JSONRPCRequest) a2a.JSONRPCResponse {
	var params a2a.MessageSendParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return a2a.NewErrorResponse(req.ID, a2a.CodeInvalidParams, "message/send 参数解析失败")
	}
	goal := strings.TrimSpace(params.Message.Text())
	if goal == "" {
		return a2a.NewErrorResponse(req.ID, a2a.CodeInvalidParams, "消息缺少挑战描述")
	}

	submit := task.SubmitRequest{
		ID:       strings.TrimSpace(params.Message.TaskID),
		Goal:     goal,
		Metadata: map[string]any{},
	}
	for key, value := range params.Metadata {
		switch key {
		case "address":
			if addr, ok := value.(string); ok {
				submit.Address = addr
			}
		case "max_actions":
			if n, ok := value.(float64); ok && n > 0 {
				submit.MaxActions = int(n)
			}
		case "max_seconds":
			if n, ok := value.(float64); ok && n > 0 {
				submit.MaxSeconds = int(n)
			}
		default:
			submit.Metadata[key] = value
		}
	}
	if len(submit.Metadata) == 0 {
		submit.Metadata = nil
	}

	created, err := s.service.Submit(ctx, submit)
	if err != nil {
		switch xerrors.CodeOf(err) {
		case xerrors.CodeDuplicateTask:
			return a2a.NewErrorResponse(req.ID, a2a.CodeDuplicateTask, "任务 ID 已存在")
		case task.CodeTaskValidation:
			return a2a.NewErrorResponse(req.ID, a2a.CodeInvalidParams, err.Error())
		default:
			return a2a.NewErrorResponse(req.ID, a2a.CodeInternalError, err.Error())
		}
	}

	if s.syncWait > 0 {
		waitCtx, cancel := context.WithTimeout(ctx, s.syncWait)
		defer cancel()
		if done, waitErr := s.service.WaitUntilCompleted(waitCtx, created.ID, 200*time.Millisecond); waitErr == nil || done != nil {
			created = done
		}
	}

	return a2a.NewResponse(req.ID, taskView(created))
}

func (s *Server) handleTasksGet(ctx context.Context, req a2a.JSONRPCRequest) a2a.JSONRPCResponse {
	var params a2a.TaskQueryParams
	if err := json.Unmarshal(req.Params, &params); err != nil || strings.TrimSpace(params.ID) == "" {
		return a2a.NewErrorResponse(req.ID, a2a.CodeInvalidParams, "tasks/get 需要任务 ID")
	}
	found, err := s.service.Get(ctx, params.ID)
	if err != nil {
		if errors.Is(err, task.ErrTaskNotFound) {
			return a2a.NewErrorResponse(req.ID, a2a.CodeTaskNotFound, "任务不存在")
		}
		return a2a.NewErrorResponse(req.ID, a2a.CodeInternalError, err.Error())
	}
	return a2a.NewResponse(req.ID, taskView(found))
}

func (s *Server) handleTasksCancel(ctx context.Context, req a2a.JSONRPCRequest) a2a.JSONRPCResponse {
	var params a2a.TaskQueryParams
	if err := json.Unmarshal(req.Params, &params); err != nil || strings.TrimSpace(params.ID) == "" {
		return a2a.NewErrorResponse(req.ID, a2a.CodeInvalidParams, "tasks/cancel 需要任务 ID")
	}
	canceled, err := s.service.Cancel(ctx, params.ID)
	if err != nil {
		switch {
		case errors.Is(err, task.ErrTaskNotFound):
			return a2a.NewErrorResponse(req.ID, a2a.CodeTaskNotFound, "任务不存在")
		case errors.Is(err, task.ErrTaskNotCancelable):
			return a2a.NewErrorResponse(req.ID, a2a.CodeTaskNotCancel, "任务已进入终态，无法取消")
		default:
			return a2a.NewErrorResponse(req.ID, a2a.CodeInternalError, err.Error())
		}
	}
	return a2a.NewResponse(req.ID, taskView(canceled))
}

// handleTasksList 按过滤条件返回任务列表与状态分布。参数可整体省略，
// 此时沿用存储层的默认分页。
func (s *Server) handleTasksList(ctx context.Context, req a2a.JSONRPCRequest) a2a.JSONRPCResponse {
	var params a2a.TaskListParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return a2a.NewErrorResponse(req.ID, a2a.CodeInvalidParams, "tasks/list 参数解析失败")
		}
	}

	var opts []task.ListOption
	if len(params.States) > 0 {
		statuses := make([]task.Status, 0, len(params.States))
		for _, raw := range params.States {
			status, ok := taskStatusFromState(a2a.TaskState(strings.TrimSpace(raw)))
			if !ok {
				return a2a.NewErrorResponse(req.ID, a2a.CodeInvalidParams, "未知的任务状态 "+raw)
			}
			statuses = append(statuses, status)
		}
		opts = append(opts, task.WithStatuses(statuses...))
	}
	if params.Query != "" {
		opts = append(opts, task.WithQuery(params.Query))
	}
	if params.HasVerdict != nil {
		opts = append(opts, task.WithVerdictPresence(*params.HasVerdict))
	}
	if params.Limit > 0 {
		opts = append(opts, task.WithLimit(params.Limit))
	}
	if params.Offset > 0 {
		opts = append(opts, task.WithOffset(params.Offset))
	}

	tasks, err := s.service.List(ctx, opts...)
	if err != nil {
		return a2a.NewErrorResponse(req.ID, a2a.CodeInternalError, err.Error())
	}
	stats, err := s.service.Stats(ctx, opts...)
	if err != nil {
		return a2a.NewErrorResponse(req.ID, a2a.CodeInternalError, err.Error())
	}

	result := a2a.TaskList{
		Tasks: make([]a2a.Task, 0, len(tasks)),
		Stats: a2a.TaskListStats{
			Total:     stats.Total,
			Submitted: stats.Pending,
			Working:   stats.Running,
			Completed: stats.Succeeded,
			Failed:    stats.Failed,
			Canceled:  stats.Canceled,
		},
	}
	for _, t := range tasks {
		result.Tasks = append(result.Tasks, taskView(t))
	}
	return a2a.NewResponse(req.ID, result)
}

// taskView 把内部任务映射为协议层视图。
func taskView(t *task.Task) a2a.Task {
	view := a2a.Task{
		ID:       t.ID,
		Status:   a2a.TaskStatus{State: taskState(t.Status), Timestamp: time.Unix(t.UpdatedAt, 0).UTC()},
		Metadata: t.Metadata,
		Kind:     "task",
	}
	if t.Verdict != nil {
		if msg := strings.TrimSpace(t.Verdict.Message); msg != "" {
			view.Status.Message = &a2a.Message{
				Role:  "agent",
				Parts: []a2a.Part{a2a.NewTextPart(msg)},
				Kind:  "message",
			}
		}
		if raw, err := json.Marshal(t.Verdict); err == nil {
			view.Artifacts = []a2a.Artifact{{
				ArtifactID: t.ID + "-verdict",
				Name:       "verdict",
				Parts:      []a2a.Part{a2a.NewTextPart(string(raw))},
			}}
		}
	} else if t.LastError != "" {
		view.Status.Message = &a2a.Message{
			Role:  "agent",
			Parts: []a2a.Part{a2a.NewTextPart(t.LastError)},
			Kind:  "message",
		}
	}
	return view
}

// taskState 把任务状态映射为协议状态。
func taskState(status task.Status) a2a.TaskState {
	switch status {
	case task.StatusPending:
		return a2a.TaskStateSubmitted
	case task.StatusRunning:
		return a2a.TaskStateWorking
	case task.StatusSucceeded:
		return a2a.TaskStateCompleted
	case task.StatusCanceled:
		return a2a.TaskStateCanceled
	case task.StatusFailed:
		return a2a.TaskStateFailed
	default:
		return a2a.TaskStateUnknown
	}
}

// taskStatusFromState 是 taskState 的逆映射。
func taskStatusFromState(state a2a.TaskState) (task.Status, bool) {
	switch state {
	case a2a.TaskStateSubmitted:
		return task.StatusPending, true
	case a2a.TaskStateWorking:
		return task.StatusRunning, true
	case a2a.TaskStateCompleted:
		return task.StatusSucceeded, true
	case a2a.TaskStateCanceled:
		return task.StatusCanceled, true
	case a2a.TaskStateFailed:
		return task.StatusFailed, true
	default:
		return "", false
	}
}

func writeResponse(w http.ResponseWriter, resp a2a.JSONRPCResponse) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// observe 为每个请求记录指标。
func observe(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		handler.ServeHTTP(sw, r)
		metrics.ObserveHTTPRequest(r.URL.Path, r.Method, sw.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}

// DefaultAgentCard 根据服务配置组装发现文档。
func DefaultAgentCard(name, version, url string) a2a.AgentCard {
	return a2a.AgentCard{
		Name:               name,
		Description:        "自主求解智能合约安全挑战的 A2A 智能体",
		URL:                url,
		Version:            version,
		DefaultInputModes:  []string{"text"},
		DefaultOutputModes: []string{"text"},
		Capabilities:       a2a.AgentCapabilities{},
		Skills: []a2a.AgentSkill{{
			ID:          "solve-challenge",
			Name:        "求解智能合约挑战",
			Description: "给定挑战描述与实例地址，自主推理并在链上执行攻击步骤",
			Tags:        []string{"ethereum", "security", "ctf"},
			Examples:    []string{"攻破位于 0x… 的 Fallback 挑战实例"},
		}},
	}
}
