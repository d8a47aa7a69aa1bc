package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"Ethernaut-Agent/internal/api"
	"Ethernaut-Agent/internal/auth"
	"Ethernaut-Agent/internal/config"
	"Ethernaut-Agent/internal/gateway"
	"Ethernaut-Agent/internal/knowledge"
	"Ethernaut-Agent/internal/llm"
	"Ethernaut-Agent/internal/llm/openai"
	"Ethernaut-Agent/internal/llm/script"
	"Ethernaut-Agent/internal/observability/alerting"
	"Ethernaut-Agent/internal/observability/metrics"
	"Ethernaut-Agent/internal/reasoning"
	"Ethernaut-Agent/internal/sandbox"
	"Ethernaut-Agent/internal/solver"
	"Ethernaut-Agent/internal/storage/mysql"
	"Ethernaut-Agent/internal/task"
	"Ethernaut-Agent/internal/web3/provider"
	"Ethernaut-Agent/pkg/logger"
)

// main 是求解守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("ethernautd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("ETHERNAUT_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "ethernaut.json")
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

	// 链客户端注册表。
	chainRegistry, err := provider.NewRegistry(ctx, cfg.Web3)
	if err != nil {
		return err
	}
	defer chainRegistry.Close()

	// 代码执行后端。未配置端点时 execute-code 工具会报后端不可用，
	// 其余链上工具不受影响。
	var runner sandbox.Runner
	if strings.TrimSpace(cfg.Sandbox.Endpoint) != "" {
		client, err := sandbox.NewClient(sandbox.Config{
			Endpoint: cfg.Sandbox.Endpoint,
			Token:    os.Getenv(cfg.Sandbox.TokenEnv),
			Timeout:  time.Duration(cfg.Sandbox.TimeoutSeconds) * time.Second,
		})
		if err != nil {
			return err
		}
		runner = client
	}

	toolGateway := gateway.NewGateway(runner, chainRegistry)

	llmClient, err := createLLMClient(cfg)
	if err != nil {
		return err
	}

	knowledgeProvider, err := createKnowledgeProvider(cfg)
	if err != nil {
		return err
	}

	adapter, err := reasoning.NewAdapter(llmClient, gateway.Tools(),
		reasoning.WithKnowledge(knowledgeProvider),
		reasoning.WithTemperature(cfg.LLM.Temperature),
	)
	if err != nil {
		return err
	}

	defaults := solver.Budget{
		MaxActions:          cfg.Solver.MaxActions,
		MaxDuration:         time.Duration(cfg.Solver.MaxSeconds) * time.Second,
		MaxReasoningRetries: cfg.Solver.MaxReasoningRetries,
	}
	executor, err := task.NewSolveExecutor(adapter, toolGateway, defaults)
	if err != nil {
		return err
	}

	taskStore, err := createTaskStore(cfg)
	if err != nil {
		return err
	}
	defer taskStore.Close()

	taskQueue, err := createTaskQueue(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := taskQueue.Close(); err != nil {
			logger.L().Warn("关闭任务队列失败", "error", err)
		}
	}()

	processorOpts := []task.ProcessorOption{
		task.WithWorkerCount(cfg.Solver.Workers),
		task.WithAlertDispatcher(createAlertDispatcher(cfg)),
	}
	if cfg.Storage.Archive.Enabled {
		archive, err := createArchive(cfg)
		if err != nil {
			return err
		}
		defer archive.Close()
		processorOpts = append(processorOpts, task.WithVerdictArchiver(mysql.NewTaskArchiver(archive)))
	}

	taskService := task.NewService(taskStore, taskQueue, cfg.Solver.MaxTaskRetries)
	processor := task.NewProcessor(executor, taskStore, taskQueue, taskQueue, processorOpts...)
	taskService.BindCanceler(processor)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()
	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("任务处理器异常退出", "error", err)
		}
	}()

	// 独立指标端口可选，未配置时 /metrics 挂在主服务上。
	if cfg.Server.MetricsAddress != "" {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Server.MetricsAddress); err != nil && !errors.Is(err, context.Canceled) {
				logger.L().Error("指标服务异常退出", "error", err)
			}
		}()
	}

	card := api.DefaultAgentCard(cfg.Server.CardName, cfg.Server.CardVersion, cfg.Server.AdvertisedURL)
	serverOpts := []api.Option{
		api.WithAuth(auth.NewService(os.Getenv(cfg.Server.AuthTokenEnv))),
	}
	if cfg.Server.SyncWaitSeconds > 0 {
		serverOpts = append(serverOpts, api.WithSyncWait(time.Duration(cfg.Server.SyncWaitSeconds)*time.Second))
	}
	server := api.NewServer(cfg.Server.Address, taskService, card, serverOpts...)

	logger.L().Info("求解服务启动",
		"address", cfg.Server.Address,
		"chains", chainRegistry.Chains(),
		"queue", cfg.Queue.Driver,
		"store", cfg.Storage.TaskStore.Driver,
	)
	return server.Start(ctx)
}

func createLLMClient(cfg *config.Config) (llm.Client, error) {
	switch cfg.LLM.Provider {
	case "", "openai":
		apiKey := strings.TrimSpace(os.Getenv(cfg.LLM.OpenAI.APIKeyEnv))
		if apiKey == "" {
			return nil, fmt.Errorf("OpenAI provider 需要在环境变量 %s 中配置密钥", cfg.LLM.OpenAI.APIKeyEnv)
		}
		return openai.NewClient(openai.Config{
			APIKey:  apiKey,
			BaseURL: cfg.LLM.OpenAI.BaseURL,
			Model:   cfg.LLM.OpenAI.Model,
			Timeout: time.Duration(cfg.LLM.OpenAI.TimeoutSeconds) * time.Second,
		})
	case "script":
		scriptPath := script.ResolveScriptPath(cfg.LLM.Script.WorkingDir, cfg.LLM.Script.ScriptPath)
		return script.NewClient(cfg.LLM.Script.Executable, scriptPath, cfg.LLM.Script.WorkingDir)
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.LLM.Provider)
	}
}

func createKnowledgeProvider(cfg *config.Config) (knowledge.Provider, error) {
	if cfg.Knowledge.PatternsPath != "" {
		return knowledge.LoadStaticProvider(cfg.Knowledge.PatternsPath, cfg.Knowledge.MaxResults)
	}
	return knowledge.NewStaticProvider(knowledge.DefaultPatterns(), cfg.Knowledge.MaxResults), nil
}

func createTaskStore(cfg *config.Config) (task.Store, error) {
	switch cfg.Storage.TaskStore.Driver {
	case "", "memory":
		return task.NewMemoryStore(), nil
	case "mysql":
		return task.NewMySQLStore(cfg.Storage.TaskStore.DSN)
	default:
		return nil, fmt.Errorf("未知的任务存储驱动: %s", cfg.Storage.TaskStore.Driver)
	}
}

func createTaskQueue(cfg *config.Config) (task.Queue, error) {
	switch cfg.Queue.Driver {
	case "", "memory":
		return task.NewMemoryQueue(1024), nil
	case "redis":
		return task.NewRedisQueue(task.RedisQueueConfig{
			Address:  cfg.Queue.Redis.Address,
			Password: cfg.Queue.Redis.Password,
			DB:       cfg.Queue.Redis.DB,
			Queue:    cfg.Queue.Redis.Queue,
		})
	case "rabbitmq":
		return task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:     cfg.Queue.RabbitMQ.URL,
			Queue:   cfg.Queue.RabbitMQ.Queue,
			Durable: true,
		})
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.Queue.Driver)
	}
}

func createArchive(cfg *config.Config) (mysql.ArchiveRepository, error) {
	if strings.TrimSpace(cfg.Storage.Archive.DSN) != "" {
		return mysql.NewSQLArchive(cfg.Storage.Archive.DSN)
	}
	return mysql.NewFileArchive("data")
}

func createAlertDispatcher(cfg *config.Config) alerting.Dispatcher {
	var notifiers []alerting.Notifier
	for _, channel := range cfg.Alerting.Channels {
		switch alerting.Channel(channel) {
		case alerting.ChannelEmail:
			notifiers = append(notifiers, &alerting.EmailNotifier{})
		case alerting.ChannelDingTalk:
			notifiers = append(notifiers, &alerting.DingTalkNotifier{})
		case alerting.ChannelSlack:
			notifiers = append(notifiers, &alerting.SlackNotifier{})
		default:
			notifiers = append(notifiers, alerting.LogNotifier{})
		}
	}
	if len(notifiers) == 0 {
		notifiers = append(notifiers, alerting.LogNotifier{})
	}
	return alerting.NewFanout(notifiers...)
}
