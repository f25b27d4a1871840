package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server    ServerConfig
	AI        AIConfig
	History   HistoryConfig
	Client    ClientConfig
	Retrieval RetrievalConfig
	RateLimit RateLimitConfig
	Log       LogConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	history, err := loadHistoryConfig()
	if err != nil {
		return nil, err
	}

	client, err := loadClientConfig()
	if err != nil {
		return nil, err
	}

	retrieval, err := loadRetrievalConfig()
	if err != nil {
		return nil, err
	}

	rateLimit, err := loadRateLimitConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:    server,
		AI:        ai,
		History:   history,
		Client:    client,
		Retrieval: retrieval,
		RateLimit: rateLimit,
		Log:       loadLogConfig(),
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	APIKey         string
	AccessKey      string
	SecretKey      string
	Model          string
	BaseURL        string
	Region         string
	Temperature    *float64
	TopP           *float64
	MaxTokens      *int
	StreamResponse bool
	HistoryLimit   int
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + Model 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	stream, err := parseBoolEnv("ARK_STREAM", true)
	if err != nil {
		return AIConfig{}, err
	}

	historyLimit := 10
	if override, err := parseOptionalIntEnv("CHAT_HISTORY_LIMIT"); err != nil {
		return AIConfig{}, err
	} else if override != nil {
		historyLimit = max(*override, 0)
	}

	return AIConfig{
		APIKey:         strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:      strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:      strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:          strings.TrimSpace(os.Getenv("Model")),
		BaseURL:        getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:         getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:    temperature,
		TopP:           topP,
		MaxTokens:      maxTokens,
		StreamResponse: stream,
		HistoryLimit:   historyLimit,
	}, nil
}

// History backends.
const (
	HistoryMemory   = "memory"
	HistoryRedis    = "redis"
	HistoryPostgres = "postgres"
)

// HistoryConfig 描述会话历史的存储后端。
type HistoryConfig struct {
	Backend     string
	RedisURL    string
	SessionTTL  time.Duration
	DatabaseDSN string
}

func loadHistoryConfig() (HistoryConfig, error) {
	backend := strings.ToLower(getEnvOrDefault("HISTORY_BACKEND", HistoryMemory))
	switch backend {
	case HistoryMemory, HistoryRedis, HistoryPostgres:
	default:
		return HistoryConfig{}, fmt.Errorf("invalid HISTORY_BACKEND value: %q", backend)
	}

	ttlSeconds := 86400
	if override, err := parseOptionalIntEnv("SESSION_TTL"); err != nil {
		return HistoryConfig{}, err
	} else if override != nil {
		ttlSeconds = *override
	}

	cfg := HistoryConfig{
		Backend:     backend,
		RedisURL:    getEnvOrDefault("REDIS_URL", "redis://localhost:6379/0"),
		SessionTTL:  time.Duration(ttlSeconds) * time.Second,
		DatabaseDSN: strings.TrimSpace(os.Getenv("DATABASE_DSN")),
	}
	if backend == HistoryPostgres && cfg.DatabaseDSN == "" {
		return HistoryConfig{}, fmt.Errorf("DATABASE_DSN is required when HISTORY_BACKEND=postgres")
	}
	return cfg, nil
}

// ClientConfig 描述命令行客户端访问远端服务的配置。
type ClientConfig struct {
	BaseURL     string
	NewsBaseURL string
	Timeout     time.Duration
}

func loadClientConfig() (ClientConfig, error) {
	timeoutSeconds := 30
	if override, err := parseOptionalIntEnv("CLIENT_TIMEOUT"); err != nil {
		return ClientConfig{}, err
	} else if override != nil {
		if *override <= 0 {
			return ClientConfig{}, fmt.Errorf("invalid CLIENT_TIMEOUT value: %d", *override)
		}
		timeoutSeconds = *override
	}

	baseURL := strings.TrimRight(getEnvOrDefault("API_BASE_URL", "http://localhost:8080/api/v1"), "/")
	return ClientConfig{
		BaseURL:     baseURL,
		NewsBaseURL: strings.TrimRight(getEnvOrDefault("NEWS_API_URL", baseURL), "/"),
		Timeout:     time.Duration(timeoutSeconds) * time.Second,
	}, nil
}

// RetrievalConfig 描述回答前检索新闻所用的服务；未设置 NEWS_API_URL 时不检索。
type RetrievalConfig struct {
	NewsURL string
	Timeout time.Duration
}

// Enabled 判断是否配置了新闻检索服务。
func (c RetrievalConfig) Enabled() bool {
	return c.NewsURL != ""
}

func loadRetrievalConfig() (RetrievalConfig, error) {
	timeoutSeconds := 5
	if override, err := parseOptionalIntEnv("RETRIEVAL_TIMEOUT"); err != nil {
		return RetrievalConfig{}, err
	} else if override != nil {
		if *override <= 0 {
			return RetrievalConfig{}, fmt.Errorf("invalid RETRIEVAL_TIMEOUT value: %d", *override)
		}
		timeoutSeconds = *override
	}

	return RetrievalConfig{
		NewsURL: strings.TrimRight(strings.TrimSpace(os.Getenv("NEWS_API_URL")), "/"),
		Timeout: time.Duration(timeoutSeconds) * time.Second,
	}, nil
}

// RateLimitConfig 描述按客户端 IP 的限流参数。
type RateLimitConfig struct {
	QPS   float64
	Burst int
}

// Enabled 表示是否开启限流。
func (c RateLimitConfig) Enabled() bool {
	return c.QPS > 0
}

func loadRateLimitConfig() (RateLimitConfig, error) {
	qps := 5.0
	if override, err := parseOptionalFloatEnv("RATE_LIMIT_QPS"); err != nil {
		return RateLimitConfig{}, err
	} else if override != nil {
		qps = *override
	}

	// 令牌桶容量为 2*qps。
	burst := int(2 * qps)
	if qps > 0 && burst < 1 {
		burst = 1
	}
	return RateLimitConfig{QPS: qps, Burst: burst}, nil
}

// LogConfig 描述日志级别与输出格式。
type LogConfig struct {
	Level       string
	Development bool
}

func loadLogConfig() LogConfig {
	env := strings.ToLower(getEnvOrDefault("APP_ENV", "production"))
	return LogConfig{
		Level:       strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info")),
		Development: env == "dev" || env == "development",
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
