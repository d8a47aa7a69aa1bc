package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Config 描述求解服务在启动阶段需要加载的核心配置。
type Config struct {
	Server    ServerConfig    `json:"server"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Queue     QueueConfig     `json:"queue"`
	LLM       LLMConfig       `json:"llm"`
	Sandbox   SandboxConfig   `json:"sandbox"`
	Web3      Web3Config      `json:"web3"`
	Solver    SolverConfig    `json:"solver"`
	Knowledge KnowledgeConfig `json:"knowledge"`
	Alerting  AlertingConfig  `json:"alerting"`
}

// ServerConfig 控制 API 服务的监听地址与对外公布的元数据。
type ServerConfig struct {
	Address string `json:"address"`
	// AdvertisedURL 写入智能体发现文档，供调用方回连。
	AdvertisedURL string `json:"advertised_url"`
	CardName      string `json:"card_name"`
	CardVersion   string `json:"card_version"`
	// SyncWaitSeconds 大于零时，提交接口会等待任务进入终态再返回。
	SyncWaitSeconds int `json:"sync_wait_seconds"`
	// AuthTokenEnv 指定承载静态访问令牌的环境变量；留空则不开启鉴权。
	AuthTokenEnv string `json:"auth_token_env"`
	// MetricsAddress 为空时指标与主服务共用监听端口。
	MetricsAddress string `json:"metrics_address"`
}

// LoggingConfig 与 pkg/logger 的初始化参数一一对应。
type LoggingConfig struct {
	Level       string         `json:"level"`
	Format      string         `json:"format"`
	OutputPaths []string       `json:"output_paths"`
	Audit       AuditLogConfig `json:"audit"`
}

// AuditLogConfig 控制审计日志的落盘行为。
type AuditLogConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// StorageConfig 统一描述任务存储与裁决归档的后端连接信息。
type StorageConfig struct {
	TaskStore TaskStoreConfig `json:"task_store"`
	Archive   ArchiveConfig   `json:"archive"`
}

// TaskStoreConfig 支持 memory 与 mysql 两种驱动。
type TaskStoreConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// ArchiveConfig 控制裁决归档仓库；未配置 DSN 时不启用归档。
type ArchiveConfig struct {
	Enabled bool   `json:"enabled"`
	DSN     string `json:"dsn"`
}

// QueueConfig 支持 memory、redis 与 rabbitmq 三种任务队列。
type QueueConfig struct {
	Driver   string         `json:"driver"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 描述 Redis 队列的连接参数。
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Queue    string `json:"queue"`
}

// RabbitMQConfig 描述 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL   string `json:"url"`
	Queue string `json:"queue"`
}

// LLMConfig 用于配置推理调用方式，provider 取值 openai 或 script。
type LLMConfig struct {
	Provider string       `json:"provider"`
	OpenAI   OpenAIConfig `json:"openai"`
	Script   ScriptConfig `json:"script"`
	// Temperature 为零时沿用各 provider 的默认值。
	Temperature float64 `json:"temperature"`
}

// OpenAIConfig 描述 OpenAI 兼容接口的调用参数。密钥只从环境变量读取。
type OpenAIConfig struct {
	APIKeyEnv      string `json:"api_key_env"`
	BaseURL        string `json:"base_url"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// ScriptConfig 描述通过本地脚本完成推理时所需的信息。
type ScriptConfig struct {
	Executable string `json:"executable"`
	ScriptPath string `json:"script_path"`
	WorkingDir string `json:"working_dir"`
}

// SandboxConfig 描述代码执行后端的访问方式。
type SandboxConfig struct {
	Endpoint       string `json:"endpoint"`
	TokenEnv       string `json:"token_env"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Web3Config 包含访问区块链节点所需的端点与签名配置。
type Web3Config struct {
	// ChainConfig 指向链清单 YAML，配置后优先于 RPCURL。
	ChainConfig  string `json:"chain_config"`
	DefaultChain string `json:"default_chain"`
	RPCURL       string `json:"rpc_url"`
	// PrivateKeyEnv 指定承载签名私钥的环境变量，优先于 PrivateKey。
	PrivateKeyEnv string `json:"private_key_env"`
	PrivateKey    string `json:"private_key"`
}

// SolverConfig 控制求解循环的预算与并发度。
type SolverConfig struct {
	MaxActions          int `json:"max_actions"`
	MaxSeconds          int `json:"max_seconds"`
	MaxReasoningRetries int `json:"max_reasoning_retries"`
	MaxTaskRetries      int `json:"max_task_retries"`
	Workers             int `json:"workers"`
}

// KnowledgeConfig 指向漏洞模式库；留空则使用内置模式。
type KnowledgeConfig struct {
	PatternsPath string `json:"patterns_path"`
	MaxResults   int    `json:"max_results"`
}

// AlertingConfig 列出启用的告警通道，默认只写审计日志。
type AlertingConfig struct {
	Channels []string `json:"channels"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
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
	if c.Server.CardName == "" {
		c.Server.CardName = "ethernaut-solver"
	}
	if c.Server.CardVersion == "" {
		c.Server.CardVersion = "0.1.0"
	}
	if c.Server.AdvertisedURL == "" {
		c.Server.AdvertisedURL = "http://localhost" + c.Server.Address
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	if c.Storage.TaskStore.Driver == "" {
		c.Storage.TaskStore.Driver = "memory"
	}
	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.OpenAI.APIKeyEnv == "" {
		c.LLM.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.LLM.Script.Executable == "" {
		c.LLM.Script.Executable = "python3"
	}
	if c.LLM.Script.WorkingDir == "" {
		c.LLM.Script.WorkingDir = baseDir
	} else if !filepath.IsAbs(c.LLM.Script.WorkingDir) {
		c.LLM.Script.WorkingDir = filepath.Join(baseDir, c.LLM.Script.WorkingDir)
	}

	if c.Web3.ChainConfig != "" && !filepath.IsAbs(c.Web3.ChainConfig) {
		c.Web3.ChainConfig = filepath.Join(baseDir, c.Web3.ChainConfig)
	}
	if c.Web3.PrivateKeyEnv == "" && c.Web3.PrivateKey == "" {
		c.Web3.PrivateKeyEnv = "PLAYER_PRIVATE_KEY"
	}

	if c.Sandbox.TokenEnv == "" {
		c.Sandbox.TokenEnv = "SANDBOX_TOKEN"
	}

	if c.Solver.MaxTaskRetries <= 0 {
		c.Solver.MaxTaskRetries = 3
	}
	if c.Solver.Workers <= 0 {
		c.Solver.Workers = 4
	}

	if c.Knowledge.PatternsPath != "" && !filepath.IsAbs(c.Knowledge.PatternsPath) {
		c.Knowledge.PatternsPath = filepath.Join(baseDir, c.Knowledge.PatternsPath)
	}

	if len(c.Alerting.Channels) == 0 {
		c.Alerting.Channels = []string{"log"}
	}
}
