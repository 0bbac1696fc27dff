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

	"SonicOnboard/internal/agent"
	"SonicOnboard/internal/api"
	"SonicOnboard/internal/chat"
	"SonicOnboard/internal/config"
	"SonicOnboard/internal/httpx"
	"SonicOnboard/internal/identity"
	"SonicOnboard/internal/llm/groq"
	"SonicOnboard/internal/market/odos"
	"SonicOnboard/internal/market/silo"
	"SonicOnboard/internal/observability/alerting"
	"SonicOnboard/internal/observability/metrics"
	"SonicOnboard/internal/storage/memory"
	"SonicOnboard/internal/storage/mysql"
	"SonicOnboard/internal/tokens"
	"SonicOnboard/internal/txnflow"
	"SonicOnboard/internal/web3/provider"
	"SonicOnboard/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// main 是 onboard 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("onboardd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("ONBOARD_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "onboard.json")
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
			Enabled: cfg.Logging.AuditPath != "",
			Path:    cfg.Logging.AuditPath,
		},
	}); err != nil {
		return err
	}
	defer logger.Sync()

	// 会话与交易请求共用一个存储后端。
	var (
		conversationStore chat.Store
		requestStore      txnflow.Store
	)
	switch cfg.Storage.Driver {
	case "", "memory":
		store := memory.New()
		conversationStore = store
		requestStore = store
	case "mysql":
		store, err := mysql.New(ctx, cfg.Storage.DSN)
		if err != nil {
			return err
		}
		defer store.Close()
		conversationStore = store
		requestStore = store
	default:
		return fmt.Errorf("未知的存储驱动: %s", cfg.Storage.Driver)
	}

	httpClient := httpx.New()

	var tokenCache tokens.Cache
	switch cfg.Tokens.CacheDriver {
	case "", "memory":
		tokenCache = tokens.NewMemoryCache()
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.Tokens.RedisAddr})
		defer client.Close()
		tokenCache = tokens.NewRedisCache(client, time.Duration(cfg.Tokens.CacheTTLSecs)*time.Second)
	default:
		return fmt.Errorf("未知的缓存驱动: %s", cfg.Tokens.CacheDriver)
	}

	directory := tokens.NewDirectory(cfg.Tokens.ListURL, httpClient, tokenCache)
	odosClient := odos.New(httpClient)
	siloClient := silo.New(httpClient, "")

	chainRegistry, err := provider.NewRegistry(ctx, cfg.Web3)
	if err != nil {
		return err
	}
	defer chainRegistry.Close()

	sonicClient, err := chainRegistry.DefaultClient()
	if err != nil {
		return err
	}

	flows := txnflow.NewFlows(requestStore, sonicClient, directory, odosClient, siloClient)
	orchestrator := txnflow.NewOrchestrator(flows, requestStore, conversationStore, directory)

	apiKey := strings.TrimSpace(os.Getenv(cfg.LLM.APIKeyEnv))
	if apiKey == "" {
		return fmt.Errorf("缺少大模型密钥环境变量 %s", cfg.LLM.APIKeyEnv)
	}
	llmClient, err := groq.NewClient(groq.Config{
		APIKey:  apiKey,
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
	})
	if err != nil {
		return err
	}

	privy := identity.NewPrivyClient(
		cfg.Identity.PrivyAppID,
		strings.TrimSpace(os.Getenv(cfg.Identity.PrivyAppSecretEnv)),
		"",
		httpClient,
	)

	alerts, closeAlerts, err := buildAlerting(cfg.Alerting, httpClient)
	if err != nil {
		return err
	}
	defer closeAlerts()

	ag := agent.New(llmClient, conversationStore, orchestrator, privy, chainRegistry,
		agent.WithMaxToolRounds(cfg.LLM.MaxToolRounds))

	portfolio := tokens.NewPortfolio(directory, sonicClient, odosClient)

	if cfg.Server.MetricsAddress != "" {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Server.MetricsAddress); err != nil && !errors.Is(err, context.Canceled) {
				logger.Named("metrics").Error("metrics server exited", "error", err)
			}
		}()
	}

	server := api.NewServer(cfg.Server.Address, ag, orchestrator, portfolio, privy, alerts)

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// buildAlerting 按配置装配告警渠道，未配置任何渠道时返回空派发器。
func buildAlerting(cfg config.AlertingConfig, httpClient *httpx.Client) (alerting.Dispatcher, func(), error) {
	var notifiers []alerting.Notifier
	closers := make([]func(), 0, 1)

	if cfg.SlackWebhookURL != "" {
		slack, err := alerting.NewSlackNotifier(httpClient, cfg.SlackWebhookURL)
		if err != nil {
			return nil, nil, err
		}
		notifiers = append(notifiers, slack)
	}

	if cfg.RabbitMQURL != "" {
		rabbit, err := alerting.NewRabbitMQNotifier(alerting.RabbitMQConfig{
			URL:      cfg.RabbitMQURL,
			Exchange: cfg.RabbitMQExchange,
		})
		if err != nil {
			return nil, nil, err
		}
		notifiers = append(notifiers, rabbit)
		closers = append(closers, func() { _ = rabbit.Close() })
	}

	closeAll := func() {
		for _, fn := range closers {
			fn()
		}
	}
	return alerting.NewFanout(notifiers...), closeAll, nil
}
