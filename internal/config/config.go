package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the clinidoc server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Storage  StorageConfig
	AI       AIConfig
	Analysis AnalysisConfig
	Security SecurityConfig
}

type ServerConfig struct {
	Port        int
	Env         string
	MaxFileSize int64
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrationsDir   string
}

type RedisConfig struct {
	URL string
}

// StorageConfig points at the S3-compatible object store holding document bytes.
type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	Encrypt   bool
}

type AIConfig struct {
	LLM      LLMConfig
	Clinical ClinicalConfig
	Retry    RetryConfig
}

type LLMConfig struct {
	Provider    string
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
}

var validLLMProviders = map[string]bool{
	"openai": true,
	"azure":  true,
	"vllm":   true,
	"ollama": true,
}

type ClinicalConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// RetryConfig bounds analyzer calls: attempts, exponential backoff and the per-attempt timeout.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	CallTimeout time.Duration
}

type AnalysisConfig struct {
	CacheSize     int
	CacheTTL      time.Duration
	Timeout       time.Duration
	MaxConcurrent int
	SegmentLength int
	StreamChunk   int
	AuditTimeout  time.Duration
}

type SecurityConfig struct {
	AllowedOrigins []string
	RateLimit      int
	RateWindow     time.Duration
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:        envInt("CLINIDOC_PORT", 8080),
			Env:         envString("CLINIDOC_ENV", "development"),
			MaxFileSize: int64(envInt("MAX_FILE_SIZE", 100<<20)),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
			MigrationsDir:   envString("MIGRATIONS_DIR", "migrations"),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Storage: StorageConfig{
			Endpoint:  os.Getenv("STORAGE_ENDPOINT"),
			AccessKey: os.Getenv("STORAGE_ACCESS_KEY"),
			SecretKey: os.Getenv("STORAGE_SECRET_KEY"),
			Bucket:    envString("STORAGE_BUCKET", "clinical-documents"),
			Region:    envString("STORAGE_REGION", "us-east-1"),
			UseSSL:    envBool("STORAGE_USE_SSL", false),
			Encrypt:   envBool("STORAGE_SSE", true),
		},
		AI: AIConfig{
			LLM: LLMConfig{
				Provider:    envString("LLM_PROVIDER", "openai"),
				APIKey:      os.Getenv("LLM_API_KEY"),
				BaseURL:     os.Getenv("LLM_BASE_URL"),
				Model:       envString("LLM_MODEL", "gpt-4"),
				MaxTokens:   envInt("LLM_MAX_TOKENS", 2048),
				Temperature: envFloat("LLM_TEMPERATURE", 0),
			},
			Clinical: ClinicalConfig{
				BaseURL: os.Getenv("CLINICAL_MODEL_URL"),
				APIKey:  os.Getenv("CLINICAL_MODEL_API_KEY"),
				Timeout: envDuration("CLINICAL_MODEL_TIMEOUT", 30*time.Second),
			},
			Retry: RetryConfig{
				MaxAttempts: envInt("ANALYZER_MAX_ATTEMPTS", 3),
				BaseDelay:   envDuration("ANALYZER_BACKOFF_BASE", 4*time.Second),
				MaxDelay:    envDuration("ANALYZER_BACKOFF_MAX", 10*time.Second),
				CallTimeout: envDurationSecs("ANALYZER_TIMEOUT_SECS", 30*time.Second),
			},
		},
		Analysis: AnalysisConfig{
			CacheSize:     envInt("ANALYSIS_CACHE_SIZE", 1000),
			CacheTTL:      envDuration("ANALYSIS_CACHE_TTL", time.Hour),
			Timeout:       envDuration("ANALYSIS_TIMEOUT", 2*time.Minute),
			MaxConcurrent: envInt("ANALYSIS_MAX_CONCURRENT", 4),
			SegmentLength: envInt("ANALYSIS_SEGMENT_LENGTH", 8192),
			StreamChunk:   envInt("STREAM_CHUNK_SIZE", 4096),
			AuditTimeout:  envDuration("AUDIT_TIMEOUT", 5*time.Second),
		},
		Security: SecurityConfig{
			AllowedOrigins: envList("CORS_ALLOWED_ORIGINS"),
			RateLimit:      envInt("RATE_LIMIT_REQUESTS", 100),
			RateWindow:     envDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Storage.Endpoint == "" {
		return fmt.Errorf("STORAGE_ENDPOINT is required")
	}
	if c.Storage.AccessKey == "" || c.Storage.SecretKey == "" {
		return fmt.Errorf("STORAGE_ACCESS_KEY and STORAGE_SECRET_KEY are required")
	}

	if !validLLMProviders[c.AI.LLM.Provider] {
		return fmt.Errorf("LLM_PROVIDER must be one of openai, azure, vllm, ollama; got %q", c.AI.LLM.Provider)
	}
	if c.AI.LLM.APIKey == "" && (c.AI.LLM.Provider == "openai" || c.AI.LLM.Provider == "azure") {
		return fmt.Errorf("LLM_API_KEY is required for provider %s", c.AI.LLM.Provider)
	}
	if c.AI.LLM.Provider == "azure" && c.AI.LLM.BaseURL == "" {
		return fmt.Errorf("LLM_BASE_URL is required for provider azure")
	}
	if c.AI.Clinical.BaseURL == "" {
		return fmt.Errorf("CLINICAL_MODEL_URL is required")
	}
	if !strings.HasPrefix(c.AI.Clinical.BaseURL, "http://") && !strings.HasPrefix(c.AI.Clinical.BaseURL, "https://") {
		return fmt.Errorf("CLINICAL_MODEL_URL must start with http:// or https://, got %q", c.AI.Clinical.BaseURL)
	}
	if c.AI.LLM.Temperature < 0 || c.AI.LLM.Temperature > 2 {
		return fmt.Errorf("LLM_TEMPERATURE must be between 0 and 2, got %v", c.AI.LLM.Temperature)
	}

	if c.Analysis.SegmentLength <= 0 || c.Analysis.SegmentLength > 8192 {
		return fmt.Errorf("ANALYSIS_SEGMENT_LENGTH must be between 1 and 8192, got %d", c.Analysis.SegmentLength)
	}
	if c.Analysis.StreamChunk < 1024 || c.Analysis.StreamChunk > 8192 {
		return fmt.Errorf("STREAM_CHUNK_SIZE must be between 1024 and 8192, got %d", c.Analysis.StreamChunk)
	}
	if c.Analysis.MaxConcurrent <= 0 {
		return fmt.Errorf("ANALYSIS_MAX_CONCURRENT must be positive, got %d", c.Analysis.MaxConcurrent)
	}
	if c.Server.MaxFileSize <= 0 {
		return fmt.Errorf("MAX_FILE_SIZE must be positive, got %d", c.Server.MaxFileSize)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}

// envList splits a comma-separated variable, dropping blanks.
func envList(key string) []string {
	var out []string
	for _, p := range strings.Split(os.Getenv(key), ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
