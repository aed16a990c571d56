package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kayas881/kayas-Assistant/internal/agent"
	"github.com/kayas881/kayas-Assistant/internal/observability/metrics"
	"github.com/kayas881/kayas-Assistant/internal/storage/mysql"
	"github.com/kayas881/kayas-Assistant/internal/task"
)

// Server 负责暴露 REST 接口，供外部驱动智能体执行。
type Server struct {
	addr  string
	agent *agent.Agent
	tasks *task.Service
	runs  mysql.RunRepository
}

// ServerOption 定义可选的服务配置。
type ServerOption func(*Server)

// WithTaskService 开启异步任务接口。
func WithTaskService(svc *task.Service) ServerOption {
	return func(s *Server) {
		s.tasks = svc
	}
}

// WithRunRepository 开启反馈接口。
func WithRunRepository(repo mysql.RunRepository) ServerOption {
	return func(s *Server) {
		s.runs = repo
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, ag *agent.Agent, opts ...ServerOption) *Server {
	s := &Server{addr: addr, agent: ag}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Routes()),
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

// Routes 返回完整的路由表。
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/runs", instrument("runs", s.handleRuns))
	mux.HandleFunc("/api/v1/runs/", instrument("run_feedback", s.handleRunFeedback))
	mux.HandleFunc("/api/v1/tasks", instrument("tasks", s.handleTasks))
	mux.HandleFunc("/api/v1/tasks/", instrument("task_detail", s.handleTaskDetail))
	mux.HandleFunc("/api/v1/tasks/stats", instrument("task_stats", s.handleTaskStats))
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateRun(w, r)
	case http.MethodGet:
		s.handleListRuns(w, r)
	default:
		http.Error(w, "仅支持 GET/POST", http.StatusMethodNotAllowed)
	}
}

// handleCreateRun 同步执行一个目标并返回完整结果。
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	if s.agent == nil {
		http.Error(w, "Agent 未初始化", http.StatusServiceUnavailable)
		return
	}

	var req agent.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Goal) == "" {
		http.Error(w, "goal 不能为空", http.StatusBadRequest)
		return
	}

	result, err := s.agent.Execute(r.Context(), req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.agent == nil {
		http.Error(w, "Agent 未初始化", http.StatusServiceUnavailable)
		return
	}
	results, err := s.agent.ListHistory(r.Context(), parseLimit(r, 20))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// handleRunFeedback 处理 POST /api/v1/runs/{id}/feedback。
func (s *Server) handleRunFeedback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	if s.runs == nil {
		http.Error(w, "反馈接口未开启", http.StatusServiceUnavailable)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/runs/")
	runID, tail, found := strings.Cut(rest, "/")
	if !found || tail != "feedback" || strings.TrimSpace(runID) == "" {
		http.Error(w, "路径格式应为 /api/v1/runs/{id}/feedback", http.StatusBadRequest)
		return
	}

	var payload struct {
		Feedback string `json:"feedback"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(payload.Feedback) == "" {
		http.Error(w, "feedback 不能为空", http.StatusBadRequest)
		return
	}

	record := mysql.FeedbackRecord{
		RunID:     runID,
		Feedback:  payload.Feedback,
		CreatedAt: time.Now().Unix(),
	}
	if err := s.runs.SaveFeedback(r.Context(), record); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true, "run_id": runID})
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		http.Error(w, "任务接口未开启", http.StatusServiceUnavailable)
		return
	}
	switch r.Method {
	case http.MethodPost:
		s.handleSubmitTask(w, r)
	case http.MethodGet:
		s.handleListTasks(w, r)
	default:
		http.Error(w, "仅支持 GET/POST", http.StatusMethodNotAllowed)
	}
}

// handleSubmitTask 将目标排入队列，立即返回任务句柄。
func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var req agent.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}

	submitted, err := s.tasks.Submit(r.Context(), req)
	if err != nil {
		if task.IsTaskError(err, task.CodeTaskValidation) || strings.Contains(err.Error(), "不能为空") {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, submitted)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	opts := []task.ListOption{task.WithLimit(parseLimit(r, 20))}
	if raw := r.URL.Query().Get("status"); raw != "" {
		statuses := make([]task.Status, 0, 4)
		for _, status := range strings.Split(raw, ",") {
			statuses = append(statuses, task.Status(strings.TrimSpace(status)))
		}
		opts = append(opts, task.WithStatuses(statuses...))
	}
	if query := r.URL.Query().Get("q"); query != "" {
		opts = append(opts, task.WithQuery(query))
	}

	results, err := s.tasks.List(r.Context(), opts...)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// handleTaskDetail 处理 GET /api/v1/tasks/{id}。
func (s *Server) handleTaskDetail(w http.ResponseWriter, r *http.Request) {
	if strings.HasSuffix(r.URL.Path, "/stats") {
		s.handleTaskStats(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.tasks == nil {
		http.Error(w, "任务接口未开启", http.StatusServiceUnavailable)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/v1/tasks/")
	if strings.TrimSpace(id) == "" || strings.Contains(id, "/") {
		http.Error(w, "任务 ID 不能为空", http.StatusBadRequest)
		return
	}

	found, err := s.tasks.Get(r.Context(), id)
	if err != nil {
		if task.IsTaskError(err, task.CodeTaskNotFound) {
			http.Error(w, "任务不存在", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func (s *Server) handleTaskStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.tasks == nil {
		http.Error(w, "任务接口未开启", http.StatusServiceUnavailable)
		return
	}
	stats, err := s.tasks.Stats(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func parseLimit(r *http.Request, fallback int) int {
	limit := fallback
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	return limit
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// statusRecorder 捕获响应状态码供指标统计使用。
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument 记录每个接口的请求量与时延。
func instrument(handler string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(recorder, r)
		metrics.ObserveHTTPRequest(handler, r.Method, recorder.status, time.Since(start))
	}
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
