package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/kayas881/kayas-Assistant/internal/action"
	"github.com/kayas881/kayas-Assistant/internal/agent"
	"github.com/kayas881/kayas-Assistant/internal/api"
	"github.com/kayas881/kayas-Assistant/internal/config"
	"github.com/kayas881/kayas-Assistant/internal/knowledge"
	"github.com/kayas881/kayas-Assistant/internal/llm"
	"github.com/kayas881/kayas-Assistant/internal/llm/ollama"
	"github.com/kayas881/kayas-Assistant/internal/llm/openai"
	"github.com/kayas881/kayas-Assistant/internal/observability/alerting"
	"github.com/kayas881/kayas-Assistant/internal/perception"
	"github.com/kayas881/kayas-Assistant/internal/perception/worker"
	"github.com/kayas881/kayas-Assistant/internal/planner"
	"github.com/kayas881/kayas-Assistant/internal/safety"
	"github.com/kayas881/kayas-Assistant/internal/scoring"
	"github.com/kayas881/kayas-Assistant/internal/storage/mysql"
	"github.com/kayas881/kayas-Assistant/internal/task"
	"github.com/kayas881/kayas-Assistant/internal/tools"
	"github.com/kayas881/kayas-Assistant/pkg/logger"
)

// main 是 kayasd 守护进程的入口。带 perception-worker 参数启动时，
// 进程转为感知工作子进程，通过标准输入输出与父进程通信。
func main() {
	if len(os.Args) > 1 && os.Args[1] == "perception-worker" {
		if err := worker.Serve(newWorkerHost(), os.Stdin, os.Stdout); err != nil {
			log.Fatalf("感知工作进程退出: %v", err)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("kayasd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("KAYAS_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "kayas.yaml")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	mainLog := logger.Named("kayasd")

	llmClient, err := createLLMClient(cfg)
	if err != nil {
		return err
	}

	dataDir := cfg.Runtime.DataDir
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}

	var runRepo mysql.RunRepository
	switch cfg.Storage.RunStore.Driver {
	case "memory", "":
		repo, err := mysql.NewMemoryRunRepository(dataDir)
		if err != nil {
			return err
		}
		runRepo = repo
	case "mysql":
		repo, err := mysql.NewSQLRunRepository(ctx, mysql.Config{
			DSN:             cfg.Storage.RunStore.DSN,
			MaxOpenConns:    cfg.Storage.RunStore.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.RunStore.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Storage.RunStore.ConnMaxLifetimeSeconds) * time.Second,
			ConnMaxIdleTime: time.Duration(cfg.Storage.RunStore.ConnMaxIdleTimeSeconds) * time.Second,
		})
		if err != nil {
			return err
		}
		runRepo = repo
	default:
		return fmt.Errorf("未知的归档存储驱动: %s", cfg.Storage.RunStore.Driver)
	}
	if closer, ok := runRepo.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	taskStore := task.NewMemoryStore()
	defer func() { _ = taskStore.Close() }()

	var taskQueue task.Queue
	switch cfg.TaskQueue.Driver {
	case "", "memory":
		taskQueue = task.NewMemoryQueue(1024)
	case "redis":
		queue, err := task.NewRedisQueue(task.RedisQueueConfig{
			Address:   cfg.TaskQueue.Redis.Address,
			Password:  cfg.TaskQueue.Redis.Password,
			DB:        cfg.TaskQueue.Redis.DB,
			Queue:     cfg.TaskQueue.Redis.Queue,
			BlockWait: time.Duration(cfg.TaskQueue.Redis.BlockWait) * time.Second,
		})
		if err != nil {
			return err
		}
		taskQueue = queue
	case "rabbitmq":
		queue, err := task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:        cfg.TaskQueue.RabbitMQ.URL,
			Queue:      cfg.TaskQueue.RabbitMQ.Queue,
			Prefetch:   cfg.TaskQueue.RabbitMQ.Prefetch,
			Durable:    cfg.TaskQueue.RabbitMQ.Durable,
			AutoDelete: cfg.TaskQueue.RabbitMQ.AutoDelete,
		})
		if err != nil {
			return err
		}
		taskQueue = queue
	default:
		return fmt.Errorf("未知的队列驱动: %s", cfg.TaskQueue.Driver)
	}
	defer func() {
		if err := taskQueue.Close(); err != nil {
			mainLog.Warn("关闭任务队列失败", "error", err)
		}
	}()

	policy := safety.NewPolicy(
		safety.WithDeleteMode(safety.DeleteMode(cfg.Safety.DefaultDeleteAction)),
	)
	router := action.NewRouter(policy)

	perceptionBridge, stopPerception := buildPerception(cfg.Perception, mainLog)
	defer stopPerception()

	backends := tools.NewBackends(cfg.Tools, perceptionBridge)
	backends.Register(router)
	defer backends.Close()

	model := loadScoringModel(ctx, cfg.Scoring, runRepo, mainLog)
	hints := buildKnowledgeProvider(ctx, cfg.Knowledge, runRepo, mainLog)

	plannerOpts := []planner.Option{
		planner.WithMatchers(planner.DefaultMatchers(cfg.Planner.NotesFilename, cfg.Planner.SearchEngine)),
		planner.WithTools(router.Tools()),
	}
	if hints != nil {
		plannerOpts = append(plannerOpts, planner.WithHints(hints))
	}

	ag := agent.New(planner.New(llmClient, plannerOpts...), router,
		agent.WithMode(agent.Mode(cfg.Planner.Mode)),
		agent.WithMaxSteps(cfg.Planner.MaxSteps),
		agent.WithBeamWidth(cfg.Planner.BeamWidth),
		agent.WithScorer(model),
		agent.WithRunRepository(runRepo),
	)

	taskService := task.NewService(taskStore, taskQueue, cfg.Storage.RunStore.Retries)
	processorOpts := []task.ProcessorOption{
		task.WithWorkerCount(cfg.TaskQueue.Worker),
		task.WithProcessorLogger(logger.Named("task")),
	}
	if dispatcher := buildAlertDispatcher(cfg.Tools.SMTP, backends); dispatcher != nil {
		processorOpts = append(processorOpts, task.WithAlertDispatcher(dispatcher))
	}
	processor := task.NewProcessor(ag, taskStore, taskQueue, taskQueue, processorOpts...)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()
	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			mainLog.Error("任务处理器异常退出", "error", err)
		}
	}()

	server := api.NewServer(cfg.Server.Address, ag,
		api.WithTaskService(taskService),
		api.WithRunRepository(runRepo),
	)

	mainLog.Info("kayasd 已启动",
		"addr", cfg.Server.Address,
		"planner_mode", cfg.Planner.Mode,
		"queue", cfg.TaskQueue.Driver,
		"run_store", cfg.Storage.RunStore.Driver,
	)

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// createLLMClient 按配置构建推理客户端。react 模式优先使用强模型。
func createLLMClient(cfg *config.Config) (llm.Client, error) {
	switch cfg.LLM.Provider {
	case "", "ollama":
		model := cfg.LLM.Ollama.Model
		if cfg.Planner.Mode == "react" && cfg.LLM.Ollama.StrongModel != "" {
			model = cfg.LLM.Ollama.StrongModel
		}
		return ollama.NewClient(ollama.Config{
			BaseURL: cfg.LLM.Ollama.BaseURL,
			Model:   model,
			Timeout: cfg.LLM.Ollama.Timeout(),
		})
	case "openai":
		apiKey := strings.TrimSpace(cfg.LLM.OpenAI.APIKey)
		if apiKey == "" && cfg.LLM.OpenAI.APIKeyEnv != "" {
			apiKey = strings.TrimSpace(os.Getenv(cfg.LLM.OpenAI.APIKeyEnv))
		}
		if apiKey == "" {
			return nil, errors.New("OpenAI provider 需要配置 api_key 或 api_key_env")
		}
		return openai.NewClient(openai.Config{
			APIKey:  apiKey,
			BaseURL: cfg.LLM.OpenAI.BaseURL,
			Model:   cfg.LLM.OpenAI.Model,
			Timeout: cfg.LLM.OpenAI.Timeout(),
		})
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.LLM.Provider)
	}
}

// buildPerception 按配置的层顺序组装感知编排器。
// 平台屏幕采集与指针后端在无头环境下缺省为空，对应层会自动汇报不可用。
func buildPerception(cfg config.PerceptionConfig, mainLog *slog.Logger) (*tools.Perception, func()) {
	var session *worker.Session
	if cfg.Worker.Enabled {
		s, err := worker.Spawn(worker.Config{
			Command:         cfg.Worker.Command,
			Args:            cfg.Worker.Args,
			StartupTimeout:  time.Duration(cfg.Worker.StartupTimeoutSeconds) * time.Second,
			RequestTimeout:  time.Duration(cfg.Worker.RequestTimeoutSeconds) * time.Second,
			ShutdownTimeout: time.Duration(cfg.Worker.ShutdownTimeoutSeconds) * time.Second,
		})
		if err != nil {
			mainLog.Warn("无障碍工作进程不可用，降级到其余感知层", "error", err)
		} else {
			session = s
		}
	}

	var layers []perception.Layer
	var ocr *perception.OCRLayer
	for _, name := range cfg.Layers {
		switch name {
		case "accessibility":
			if session != nil {
				layers = append(layers, perception.NewAccessibilityLayer(session))
			}
		case "app":
			layers = append(layers, perception.NewAppLayer(nil))
		case "vision":
			layers = append(layers, perception.NewVisionLayer(nil, nil, cfg.VisionConfidence))
		case "ocr":
			ocr = perception.NewOCRLayer(nil, nil, nil,
				perception.WithConfidenceFloor(cfg.OCRConfidenceFloor))
			layers = append(layers, ocr)
		default:
			mainLog.Warn("忽略未知的感知层", "layer", name)
		}
	}

	engine := perception.NewEngine(layers,
		perception.WithOverallTimeout(time.Duration(cfg.TimeoutSeconds)*time.Second),
		perception.WithLayerTimeout(time.Duration(cfg.LayerTimeoutSeconds)*time.Second),
	)

	cleanup := func() {
		if session != nil {
			if err := session.Shutdown(); err != nil {
				mainLog.Warn("关闭感知工作进程失败", "error", err)
			}
		}
	}
	return tools.NewPerception(engine, ocr), cleanup
}

// loadScoringModel 先从磁盘恢复偏好模型，再用最新的反馈样本重训一轮。
// 训练失败只降级为告警，不阻塞启动。
func loadScoringModel(ctx context.Context, cfg config.ScoringConfig, repo mysql.RunRepository, mainLog *slog.Logger) *scoring.Model {
	model, err := scoring.Load(cfg.ModelPath)
	if err != nil {
		mainLog.Warn("加载偏好模型失败，使用中性模型", "path", cfg.ModelPath, "error", err)
		model = scoring.NewModel()
	}

	trainer := scoring.NewTrainer(repo, scoring.TrainOptions{
		Epochs:    cfg.Epochs,
		LearnRate: cfg.LearnRate,
		MaxVocab:  cfg.MaxVocab,
	})
	trained, err := trainer.Train(ctx)
	if err != nil {
		mainLog.Warn("偏好模型重训失败", "error", err)
		return model
	}
	if trained.Trained() {
		if err := trained.Save(cfg.ModelPath); err != nil {
			mainLog.Warn("保存偏好模型失败", "path", cfg.ModelPath, "error", err)
		}
		return trained
	}
	return model
}

// buildKnowledgeProvider 优先使用静态知识库，否则退回运行反馈备注。
func buildKnowledgeProvider(ctx context.Context, cfg config.KnowledgeConfig, repo mysql.RunRepository, mainLog *slog.Logger) knowledge.Provider {
	if cfg.Source != "" {
		provider, err := knowledge.LoadStaticProvider(cfg.Source, cfg.MaxResults)
		if err != nil {
			mainLog.Warn("加载静态知识库失败", "source", cfg.Source, "error", err)
			return nil
		}
		return provider
	}

	provider := knowledge.NewFeedbackProvider(repo, cfg.MaxResults)
	if err := provider.Refresh(ctx); err != nil {
		mainLog.Warn("加载历史反馈失败", "error", err)
	}
	return provider
}

// emailAlertSender 把邮件工具后端适配成告警发送器。
type emailAlertSender struct {
	email *tools.Email
}

func (s emailAlertSender) Send(ctx context.Context, subject, content string, to []string) error {
	return s.email.Deliver(ctx, subject, content, to)
}

// buildAlertDispatcher 在 SMTP 可用时把任务失败告警发到运维邮箱。
func buildAlertDispatcher(cfg config.SMTPConfig, backends *tools.Backends) alerting.Dispatcher {
	if cfg.Host == "" || cfg.From == "" || backends.Email == nil {
		return nil
	}
	return alerting.NewFanout(&alerting.EmailNotifier{
		Sender:        emailAlertSender{email: backends.Email},
		To:            []string{cfg.From},
		SubjectPrefix: "[kayas] ",
	})
}
