package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the research pipeline.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Research  ResearchConfig  `mapstructure:"research"`
	Tools     ToolsConfig     `mapstructure:"tools"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Debug             bool          `mapstructure:"debug"`
	LogLevel          string        `mapstructure:"log_level"`
	MaxProcessingTime time.Duration `mapstructure:"max_processing_time"`
	DefaultTimeout    time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Address       string `mapstructure:"address"`
	PresignSecret string `mapstructure:"presign_secret"`
}

// LLMConfig contains LLM provider configurations.
type LLMConfig struct {
	Providers map[string]LLMProvider `mapstructure:"providers"`
	Routing   LLMRoutingConfig       `mapstructure:"routing"`
}

// LLMProvider represents a single LLM provider configuration.
type LLMProvider struct {
	Type       string              `mapstructure:"type"` // openai only, for now
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Models     map[string]LLMModel `mapstructure:"models"`
	MaxRetries int                 `mapstructure:"max_retries"`
	Timeout    time.Duration       `mapstructure:"timeout"`
}

// LLMModel represents a specific model configuration.
type LLMModel struct {
	Name            string  `mapstructure:"name"`
	APIName         string  `mapstructure:"api_name"`
	MaxTokens       int     `mapstructure:"max_tokens"`
	Temperature     float64 `mapstructure:"temperature"`
	CostPer1K       float64 `mapstructure:"cost_per_1k_input"`
	CostPer1KOutput float64 `mapstructure:"cost_per_1k_output"`
}

// LLMRoutingConfig defines which model handles each pipeline operation.
type LLMRoutingConfig struct {
	Decompose string `mapstructure:"decompose"`
	Plan      string `mapstructure:"plan"`
	Refine    string `mapstructure:"refine"`
	Research  string `mapstructure:"research"`
	Synthesis string `mapstructure:"synthesis"`
	Compose   string `mapstructure:"compose"`
	Fallback  string `mapstructure:"fallback"`
}

// ResearchConfig contains pipeline tuning values. The iteration and retry
// bounds are operational knobs, deliberately not hard-coded.
type ResearchConfig struct {
	DefaultDepth        string        `mapstructure:"default_depth"` // e.g. "3x3"
	MaxIterations       int           `mapstructure:"max_iterations"`
	SearchResultsPerHop int           `mapstructure:"search_results_per_hop"`
	ExtractsPerHop      int           `mapstructure:"extracts_per_hop"`
	CoverageFloor       float64       `mapstructure:"coverage_floor"`
	StageTimeout        time.Duration `mapstructure:"stage_timeout"`
	SessionTimeout      time.Duration `mapstructure:"session_timeout"` // 0 = unlimited
	MaxCostUSD          float64       `mapstructure:"max_cost_usd"`
	MaxTokens           int64         `mapstructure:"max_tokens"`
}

// Normalize applies defaults for unset research values.
func (r ResearchConfig) Normalize() ResearchConfig {
	if strings.TrimSpace(r.DefaultDepth) == "" {
		r.DefaultDepth = "3x3"
	}
	if r.MaxIterations <= 0 {
		r.MaxIterations = 3
	}
	if r.SearchResultsPerHop <= 0 {
		r.SearchResultsPerHop = 5
	}
	if r.ExtractsPerHop <= 0 {
		r.ExtractsPerHop = 2
	}
	if r.CoverageFloor <= 0 {
		r.CoverageFloor = 0.35
	}
	if r.StageTimeout <= 0 {
		r.StageTimeout = 10 * time.Minute
	}
	return r
}

// ToolsConfig contains external tool backend settings.
type ToolsConfig struct {
	WebSearch WebSearchConfig `mapstructure:"web_search"`
	WebFetch  WebFetchConfig  `mapstructure:"web_fetch"`
	Academic  AcademicConfig  `mapstructure:"academic"`
	Finance   FinanceConfig   `mapstructure:"finance"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
}

// WebSearchConfig contains web search settings.
type WebSearchConfig struct {
	Provider     string `mapstructure:"provider"` // serper or brave
	SerperAPIKey string `mapstructure:"serper_api_key"`
	BraveAPIKey  string `mapstructure:"brave_api_key"`
	MaxResults   int    `mapstructure:"max_results"`
}

// WebFetchConfig contains content extraction settings.
type WebFetchConfig struct {
	Fetcher  string        `mapstructure:"fetcher"` // readability or chromedp
	Timeout  time.Duration `mapstructure:"timeout"`
	MaxChars int           `mapstructure:"max_chars"`
}

// AcademicConfig contains academic paper search settings.
type AcademicConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Endpoint   string `mapstructure:"endpoint"`
	MailTo     string `mapstructure:"mailto"`
	MaxResults int    `mapstructure:"max_results"`
}

// FinanceConfig contains financial data settings.
type FinanceConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// GatewayConfig tunes the tool gateway's retry behaviour. The gateway always
// admits exactly one call at a time; that ceiling is structural, not tunable.
type GatewayConfig struct {
	MaxRetries  int           `mapstructure:"max_retries"`
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	CallTimeout time.Duration `mapstructure:"call_timeout"`
}

// Normalize applies defaults for unset gateway values.
func (g GatewayConfig) Normalize() GatewayConfig {
	if g.MaxRetries <= 0 {
		g.MaxRetries = 2
	}
	if g.BackoffBase <= 0 {
		g.BackoffBase = 500 * time.Millisecond
	}
	if g.CallTimeout <= 0 {
		g.CallTimeout = 30 * time.Second
	}
	return g
}

// StorageConfig contains persistence settings.
type StorageConfig struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Blob     BlobConfig     `mapstructure:"blob"`
}

// RedisConfig contains Redis connection settings for the status store.
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// PostgresConfig contains Postgres connection settings.
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.Port) == "" {
		return fmt.Errorf("storage.postgres.port required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN assembles a postgres connection string from the configured parts.
func (p PostgresConfig) DSN() (string, error) {
	if p.URL != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", fmt.Errorf("postgres not configured (storage.postgres.host/dbname or url)")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl), nil
}

// BlobConfig contains artifact blob storage settings.
type BlobConfig struct {
	DataDir    string `mapstructure:"data_dir"`
	PublicBase string `mapstructure:"public_base"`
}

// TelemetryConfig contains telemetry and monitoring settings.
type TelemetryConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	MetricsPort int  `mapstructure:"metrics_port"`
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && t.MetricsPort <= 0 {
		return fmt.Errorf("telemetry.metrics_port must be > 0 when telemetry is enabled")
	}
	return nil
}

// LoadConfig loads config from file, with PRISM_* env overrides.
func LoadConfig(path string) (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.SetDefault("general.default_timeout", "30s")
	viper.SetDefault("research.default_depth", "3x3")
	viper.SetDefault("research.max_iterations", 3)
	viper.SetDefault("research.coverage_floor", 0.35)
	viper.SetDefault("tools.gateway.max_retries", 2)
	viper.SetDefault("tools.gateway.backoff_base", "500ms")
	viper.SetDefault("tools.web_fetch.fetcher", "readability")
	viper.SetDefault("storage.blob.data_dir", "./data/artifacts")

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("PRISM")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	config.Research = config.Research.Normalize()
	config.Tools.Gateway = config.Tools.Gateway.Normalize()

	if err := config.Telemetry.Validate(); err != nil {
		return nil, err
	}
	if err := config.Storage.Redis.Validate(); err != nil {
		return nil, err
	}
	if err := config.Storage.Postgres.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}
