package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Storage drivers.
const (
	StorageSQLite = "sqlite"
	StorageMemory = "memory"
)

// Config 聚合客户端的配置项。
type Config struct {
	Server  ServerConfig
	Backend BackendConfig
	Storage StorageConfig
	Log     LogConfig
	Upload  UploadConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	backend, err := loadBackendConfig()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server:  server,
		Backend: backend,
		Storage: StorageConfig{
			Driver: strings.ToLower(getEnvOrDefault("STORAGE_DRIVER", StorageSQLite)),
			Path:   getEnvOrDefault("STORAGE_PATH", "data/client.db"),
		},
		Log: LogConfig{
			FilePath:   getEnvOrDefault("LOG_FILE", "logs/client.log"),
			Production: strings.EqualFold(getEnvOrDefault("APP_ENV", "development"), "production"),
		},
		Upload: UploadConfig{
			WatchDir: strings.TrimSpace(os.Getenv("UPLOAD_WATCH_DIR")),
		},
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ServerConfig 描述本地 HTTP 服务配置。
type ServerConfig struct {
	Addr           string `validate:"required"`
	AllowedOrigins []string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	origins := splitList(getEnvOrDefault("CORS_ALLOWED_ORIGINS", "*"))

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port, AllowedOrigins: origins}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, AllowedOrigins: origins}, nil
}

// BackendConfig 描述聊天/PDF 后端。
type BackendConfig struct {
	BaseURL string `validate:"required,url"`
	// Timeout of zero leaves requests unbounded.
	Timeout time.Duration `validate:"gte=0"`
}

func loadBackendConfig() (BackendConfig, error) {
	timeout, err := parseOptionalIntEnv("BACKEND_TIMEOUT")
	if err != nil {
		return BackendConfig{}, err
	}

	cfg := BackendConfig{
		BaseURL: strings.TrimRight(getEnvOrDefault("BACKEND_BASE_URL", "http://localhost:8000"), "/"),
	}
	if timeout != nil {
		cfg.Timeout = time.Duration(*timeout) * time.Second
	}
	return cfg, nil
}

// StorageConfig 描述会话 id 的持久化位置。
type StorageConfig struct {
	Driver string `validate:"oneof=sqlite memory"`
	Path   string `validate:"required_if=Driver sqlite"`
}

// LogConfig 描述日志输出。
type LogConfig struct {
	FilePath   string
	Production bool
}

// UploadConfig 描述自动上传目录。
type UploadConfig struct {
	WatchDir string
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
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
