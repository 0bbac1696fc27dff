package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Config 描述了服务在启动阶段需要加载的核心配置。
type Config struct {
	Server   ServerConfig   `json:"server"`
	Storage  StorageConfig  `json:"storage"`
	LLM      LLMConfig      `json:"llm"`
	Web3     Web3Config     `json:"web3"`
	Tokens   TokensConfig   `json:"tokens"`
	Identity IdentityConfig `json:"identity"`
	Alerting AlertingConfig `json:"alerting"`
	Logging  LoggingConfig  `json:"logging"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address        string `json:"address"`
	MetricsAddress string `json:"metrics_address"`
}

// StorageConfig 描述会话与交易请求的持久化后端。
type StorageConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// LLMConfig 用于配置大模型推理的调用方式。
type LLMConfig struct {
	BaseURL       string `json:"base_url"`
	APIKeyEnv     string `json:"api_key_env"`
	Model         string `json:"model"`
	MaxToolRounds int    `json:"max_tool_rounds"`
}

// Web3Config 描述链定义文件与默认链。
type Web3Config struct {
	ChainConfig  string `json:"chain_config"`
	DefaultChain string `json:"default_chain"`
	RPCURL       string `json:"rpc_url"`
}

// TokensConfig 控制代币白名单的来源与缓存方式。
type TokensConfig struct {
	ListURL      string `json:"list_url"`
	CacheDriver  string `json:"cache_driver"`
	RedisAddr    string `json:"redis_addr"`
	CacheTTLSecs int    `json:"cache_ttl_secs"`
}

// IdentityConfig 描述 Privy 用户身份服务的接入信息。
type IdentityConfig struct {
	PrivyAppID        string `json:"privy_app_id"`
	PrivyAppSecretEnv string `json:"privy_app_secret_env"`
}

// AlertingConfig 描述告警通知渠道。
type AlertingConfig struct {
	RabbitMQURL      string `json:"rabbitmq_url"`
	RabbitMQExchange string `json:"rabbitmq_exchange"`
	SlackWebhookURL  string `json:"slack_webhook_url"`
}

// LoggingConfig 映射到 pkg/logger 的初始化参数。
type LoggingConfig struct {
	Level       string   `json:"level"`
	Format      string   `json:"format"`
	OutputPaths []string `json:"output_paths"`
	AuditPath   string   `json:"audit_path"`
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

	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}

	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = "https://api.groq.com/openai/v1"
	}
	if c.LLM.APIKeyEnv == "" {
		c.LLM.APIKeyEnv = "GROQ_API_KEY"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "deepseek-r1-distill-llama-70b"
	}
	if c.LLM.MaxToolRounds <= 0 {
		c.LLM.MaxToolRounds = 8
	}

	if c.Web3.ChainConfig != "" && !filepath.IsAbs(c.Web3.ChainConfig) {
		c.Web3.ChainConfig = filepath.Join(baseDir, c.Web3.ChainConfig)
	}
	if c.Web3.DefaultChain == "" {
		c.Web3.DefaultChain = "sonic"
	}

	if c.Tokens.ListURL == "" {
		c.Tokens.ListURL = "https://raw.githubusercontent.com/Shadow-Exchange/shadow-assets/main/blockchains/sonic/tokenlist.json"
	}
	if c.Tokens.CacheDriver == "" {
		c.Tokens.CacheDriver = "memory"
	}
	if c.Tokens.CacheTTLSecs <= 0 {
		c.Tokens.CacheTTLSecs = 3600
	}

	if c.Identity.PrivyAppSecretEnv == "" {
		c.Identity.PrivyAppSecretEnv = "PRIVY_APP_SECRET"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}
