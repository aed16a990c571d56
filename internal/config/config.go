package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 描述了助手在启动阶段需要加载的全部配置。
// 配置在进程启动时加载一次，之后以只读方式传递给各组件。
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Storage    StorageConfig    `yaml:"storage"`
	TaskQueue  TaskQueueConfig  `yaml:"task_queue"`
	LLM        LLMConfig        `yaml:"llm"`
	Planner    PlannerConfig    `yaml:"planner"`
	Safety     SafetyConfig     `yaml:"safety"`
	Perception PerceptionConfig `yaml:"perception"`
	Scoring    ScoringConfig    `yaml:"scoring"`
	Tools      ToolsConfig      `yaml:"tools"`
	Knowledge  KnowledgeConfig  `yaml:"knowledge"`
	Runtime    RuntimeConfig    `yaml:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `yaml:"address"`
}

// LoggingConfig 控制结构化日志与审计日志输出。
type LoggingConfig struct {
	Level       string   `yaml:"level"`
	Format      string   `yaml:"format"`
	OutputPaths []string `yaml:"output_paths"`
	Audit       struct {
		Enabled    bool   `yaml:"enabled"`
		Path       string `yaml:"path"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"audit"`
}

// StorageConfig 描述运行归档仓库的后端。
type StorageConfig struct {
	RunStore RunStoreConfig `yaml:"run_store"`
}

// RunStoreConfig 支持内存与 MySQL 两种驱动。
type RunStoreConfig struct {
	Driver                 string `yaml:"driver"`
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `yaml:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `yaml:"conn_max_idle_time_seconds"`
	Retries                int    `yaml:"retries"`
}

// TaskQueueConfig 描述异步目标任务队列。
type TaskQueueConfig struct {
	Driver string `yaml:"driver"`
	Worker int    `yaml:"worker"`
	Redis  struct {
		Address   string `yaml:"address"`
		Password  string `yaml:"password"`
		DB        int    `yaml:"db"`
		Queue     string `yaml:"queue"`
		BlockWait int    `yaml:"block_wait_seconds"`
	} `yaml:"redis"`
	RabbitMQ struct {
		URL        string `yaml:"url"`
		Queue      string `yaml:"queue"`
		Prefetch   int    `yaml:"prefetch"`
		Durable    bool   `yaml:"durable"`
		AutoDelete bool   `yaml:"auto_delete"`
	} `yaml:"rabbitmq"`
}

// LLMConfig 用于配置大模型推理的调用方式。
type LLMConfig struct {
	Provider string       `yaml:"provider"`
	Ollama   OllamaConfig `yaml:"ollama"`
	OpenAI   OpenAIConfig `yaml:"openai"`
}

// OllamaConfig 描述本地 Ollama 服务的访问参数。
type OllamaConfig struct {
	BaseURL        string `yaml:"base_url"`
	Model          string `yaml:"model"`
	StrongModel    string `yaml:"strong_model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// OpenAIConfig 描述 OpenAI 兼容接口的访问参数。
type OpenAIConfig struct {
	APIKey         string `yaml:"api_key"`
	APIKeyEnv      string `yaml:"api_key_env"`
	BaseURL        string `yaml:"base_url"`
	Model          string `yaml:"model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout 返回超时时间。
func (c OpenAIConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Timeout 返回超时时间。
func (c OllamaConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// PlannerConfig 控制规划模式与 ReAct 循环预算。
type PlannerConfig struct {
	Mode          string `yaml:"mode"`
	MaxSteps      int    `yaml:"max_steps"`
	BeamWidth     int    `yaml:"beam_width"`
	NotesFilename string `yaml:"notes_filename"`
	SearchEngine  string `yaml:"search_engine"`
}

// SafetyConfig 控制安全策略的默认行为。
type SafetyConfig struct {
	// DefaultDeleteAction 取值 "archive" 或 "ask"。
	DefaultDeleteAction string `yaml:"default_delete_action"`
}

// PerceptionConfig 控制感知层的顺序与超时。
type PerceptionConfig struct {
	// Layers 指定感知层的固定尝试顺序。
	Layers              []string `yaml:"layers"`
	TimeoutSeconds      int      `yaml:"timeout_seconds"`
	LayerTimeoutSeconds int      `yaml:"layer_timeout_seconds"`
	OCRConfidenceFloor  float64  `yaml:"ocr_confidence_floor"`
	VisionConfidence    float64  `yaml:"vision_confidence"`
	Worker              WorkerConfig `yaml:"worker"`
}

// WorkerConfig 描述无障碍后端工作进程的启动方式。
type WorkerConfig struct {
	Enabled                bool     `yaml:"enabled"`
	Command                string   `yaml:"command"`
	Args                   []string `yaml:"args"`
	StartupTimeoutSeconds  int      `yaml:"startup_timeout_seconds"`
	RequestTimeoutSeconds  int      `yaml:"request_timeout_seconds"`
	ShutdownTimeoutSeconds int      `yaml:"shutdown_timeout_seconds"`
}

// ScoringConfig 控制候选动作打分模型。
type ScoringConfig struct {
	ModelPath string  `yaml:"model_path"`
	MaxVocab  int     `yaml:"max_vocab"`
	Epochs    int     `yaml:"epochs"`
	LearnRate float64 `yaml:"learn_rate"`
}

// ToolsConfig 描述各工具后端的本地配置。
type ToolsConfig struct {
	ArtifactsDir string     `yaml:"artifacts_dir"`
	ArchiveDir   string     `yaml:"archive_dir"`
	SandboxMode  string     `yaml:"sandbox_mode"`
	SearchRoot   string     `yaml:"search_root"`
	SMTP         SMTPConfig `yaml:"smtp"`
}

// SMTPConfig 描述邮件工具所需的连接参数。
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	UseTLS   bool   `yaml:"use_tls"`
}

// KnowledgeConfig 描述规划提示知识库。
type KnowledgeConfig struct {
	Source     string `yaml:"source"`
	MaxResults int    `yaml:"max_results"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `yaml:"data_dir"`
}

// Load 负责解析指定路径的 YAML 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Storage.RunStore.Driver == "" {
		c.Storage.RunStore.Driver = "memory"
	}
	if c.Storage.RunStore.Retries <= 0 {
		c.Storage.RunStore.Retries = 3
	}
	if c.TaskQueue.Driver == "" {
		c.TaskQueue.Driver = "memory"
	}
	if c.TaskQueue.Worker <= 0 {
		c.TaskQueue.Worker = 1
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = "ollama"
	}
	if c.LLM.Ollama.BaseURL == "" {
		c.LLM.Ollama.BaseURL = "http://localhost:11434"
	}
	if c.LLM.Ollama.Model == "" {
		c.LLM.Ollama.Model = "llama3"
	}
	if c.Planner.Mode == "" {
		c.Planner.Mode = "structured"
	}
	if c.Planner.MaxSteps <= 0 {
		c.Planner.MaxSteps = 6
	}
	if c.Planner.BeamWidth <= 0 {
		c.Planner.BeamWidth = 3
	}
	if c.Planner.NotesFilename == "" {
		c.Planner.NotesFilename = "notes.txt"
	}
	if c.Planner.SearchEngine == "" {
		c.Planner.SearchEngine = "google"
	}
	if c.Safety.DefaultDeleteAction == "" {
		c.Safety.DefaultDeleteAction = "archive"
	}
	if len(c.Perception.Layers) == 0 {
		c.Perception.Layers = []string{"accessibility", "app", "vision", "ocr"}
	}
	if c.Perception.TimeoutSeconds <= 0 {
		c.Perception.TimeoutSeconds = 10
	}
	if c.Perception.LayerTimeoutSeconds <= 0 {
		c.Perception.LayerTimeoutSeconds = 3
	}
	if c.Perception.OCRConfidenceFloor <= 0 {
		c.Perception.OCRConfidenceFloor = 60
	}
	if c.Perception.VisionConfidence <= 0 {
		c.Perception.VisionConfidence = 0.8
	}
	if c.Perception.Worker.StartupTimeoutSeconds <= 0 {
		c.Perception.Worker.StartupTimeoutSeconds = 10
	}
	if c.Perception.Worker.RequestTimeoutSeconds <= 0 {
		c.Perception.Worker.RequestTimeoutSeconds = 10
	}
	if c.Perception.Worker.ShutdownTimeoutSeconds <= 0 {
		c.Perception.Worker.ShutdownTimeoutSeconds = 3
	}
	if c.Scoring.MaxVocab <= 0 {
		c.Scoring.MaxVocab = 5000
	}
	if c.Scoring.Epochs <= 0 {
		c.Scoring.Epochs = 5
	}
	if c.Scoring.LearnRate <= 0 {
		c.Scoring.LearnRate = 0.1
	}
	if c.Knowledge.MaxResults <= 0 {
		c.Knowledge.MaxResults = 3
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
	if c.Tools.ArtifactsDir == "" {
		c.Tools.ArtifactsDir = filepath.Join(c.Runtime.DataDir, "artifacts")
	} else if !filepath.IsAbs(c.Tools.ArtifactsDir) {
		c.Tools.ArtifactsDir = filepath.Join(baseDir, c.Tools.ArtifactsDir)
	}
	if c.Tools.ArchiveDir == "" {
		c.Tools.ArchiveDir = filepath.Join(c.Tools.ArtifactsDir, "archive")
	}
	if c.Tools.SandboxMode == "" {
		c.Tools.SandboxMode = "disabled"
	}
	if c.Tools.SearchRoot == "" {
		c.Tools.SearchRoot = c.Tools.ArtifactsDir
	}
	if c.Tools.SMTP.Port <= 0 {
		c.Tools.SMTP.Port = 587
	}
	if c.Scoring.ModelPath == "" {
		c.Scoring.ModelPath = filepath.Join(c.Runtime.DataDir, "preference_model.json")
	}
}
