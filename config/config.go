package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the auction arena
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	Auction   AuctionConfig   `mapstructure:"auction"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Storage   StorageConfig   `mapstructure:"storage"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains the monitor HTTP server settings
type ServerConfig struct {
	Address string `mapstructure:"address"`
}

// AuctionConfig contains the rules for one auction session
type AuctionConfig struct {
	MinMarkupPct     float64       `mapstructure:"min_markup_pct"`
	EnableDiscount   bool          `mapstructure:"enable_discount"`
	MaxDiscounts     int           `mapstructure:"max_discounts"`
	ThreadNum        int           `mapstructure:"thread_num"`
	BidderTimeout    time.Duration `mapstructure:"bidder_timeout"`
	RebidCap         int           `mapstructure:"rebid_cap"`
	Shuffle          bool          `mapstructure:"shuffle"`
	TieBreakSeed     int64         `mapstructure:"tie_break_seed"`
	EnableLearning   bool          `mapstructure:"enable_learning"`
	RuleBidderMaxCnt int           `mapstructure:"rule_bidder_max_cnt"`
}

func (a AuctionConfig) Validate() error {
	if a.MinMarkupPct <= 0 || a.MinMarkupPct >= 1 {
		return fmt.Errorf("auction.min_markup_pct must be in (0, 1)")
	}
	if a.ThreadNum <= 0 {
		return fmt.Errorf("auction.thread_num must be > 0")
	}
	if a.RebidCap < 0 {
		return fmt.Errorf("auction.rebid_cap cannot be negative")
	}
	return nil
}

// LLMConfig contains LLM provider configurations
type LLMConfig struct {
	Providers map[string]LLMProvider `mapstructure:"providers"`
	Parser    string                 `mapstructure:"parser"` // model used by the bid parser oracle
}

// LLMProvider represents a single LLM provider configuration
type LLMProvider struct {
	Type       string              `mapstructure:"type"` // openai, anthropic, local, etc.
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Models     map[string]LLMModel `mapstructure:"models"`
	MaxRetries int                 `mapstructure:"max_retries"`
	Timeout    time.Duration       `mapstructure:"timeout"`
}

// LLMModel represents a specific model configuration
type LLMModel struct {
	Name            string  `mapstructure:"name"`
	APIName         string  `mapstructure:"api_name"`
	ContextWindow   int     `mapstructure:"context_window"`
	MinOutputTokens int     `mapstructure:"min_output_tokens"`
	Temperature     float64 `mapstructure:"temperature"`
	CostPer1K       float64 `mapstructure:"cost_per_1k_input"`
	CostPer1KOutput float64 `mapstructure:"cost_per_1k_output"`
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	MetricsPort  int    `mapstructure:"metrics_port"`
	CostTracking bool   `mapstructure:"cost_tracking"`
	PeriodicLogs bool   `mapstructure:"periodic_logs"`
	LogFile      string `mapstructure:"log_file"`
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && t.MetricsPort < 0 {
		return fmt.Errorf("telemetry.metrics_port cannot be negative")
	}
	return nil
}

// StorageConfig contains session archive settings
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
	File     FileConfig     `mapstructure:"file"`
}

// PostgresConfig contains Postgres connection settings
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

// Configured reports whether enough is set to build a DSN.
func (p PostgresConfig) Configured() bool {
	return strings.TrimSpace(p.URL) != "" || (strings.TrimSpace(p.Host) != "" && strings.TrimSpace(p.DBName) != "")
}

// DSN assembles a postgres connection string from the individual fields
// unless a full URL was provided.
func (p PostgresConfig) DSN() (string, error) {
	if strings.TrimSpace(p.URL) != "" {
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

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Configured() bool {
	return strings.TrimSpace(r.Host) != ""
}

// FileConfig contains file output settings
type FileConfig struct {
	DataDir string `mapstructure:"data_dir"`
	LogDir  string `mapstructure:"log_dir"`
}

// LoadConfig loads config from file
func LoadConfig(path string) (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("json")

	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("general.default_timeout", "10m")
	viper.SetDefault("server.address", ":10010")
	viper.SetDefault("auction.min_markup_pct", 0.1)
	viper.SetDefault("auction.enable_discount", false)
	viper.SetDefault("auction.max_discounts", 3)
	viper.SetDefault("auction.thread_num", 5)
	viper.SetDefault("auction.bidder_timeout", "600s")
	viper.SetDefault("auction.rebid_cap", 3)
	viper.SetDefault("auction.rule_bidder_max_cnt", 4)
	viper.SetDefault("llm.parser", "gpt-3.5-turbo")
	viper.SetDefault("telemetry.enabled", true)
	viper.SetDefault("telemetry.cost_tracking", true)
	viper.SetDefault("storage.file.log_dir", "logs")

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("AUCARENA")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// a missing config file is fine: defaults plus env cover a local run
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Auction.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Telemetry.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
