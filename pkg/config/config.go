// Package config loads the gateway's runtime configuration from the
// environment (plus an optional destination-seed YAML file), grounded on
// the teacher's load->merge->validate pipeline (pkg/config/loader.go) and
// env-var-expansion helper (pkg/config/envexpand.go), adapted from a
// YAML-first system to an env-first one since this gateway has no
// per-agent/per-chain declarations to author in YAML — only a small,
// mostly-operational surface of ports, pool sizes, and credentials.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ServerConfig holds the MCP/SSE transport's listen settings.
type ServerConfig struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	Workers int    `yaml:"workers"`
}

// ControlDBConfig holds the control-database connection settings.
type ControlDBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// PoolConfig holds the per-destination pgxpool defaults, spec.md §3
// "Options" / SPEC_FULL.md dbpool component.
type PoolConfig struct {
	PoolSize    int           `yaml:"pool_size"`
	MaxOverflow int           `yaml:"max_overflow"`
	PoolTimeout time.Duration `yaml:"pool_timeout"`
	PoolRecycle time.Duration `yaml:"pool_recycle"`
	MaxPools    int           `yaml:"max_pools"`
}

// LLMConfig holds the provider credentials and model selection.
type LLMConfig struct {
	Model   string `yaml:"model"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// KnowledgeConfig holds the external knowledge-base endpoint.
type KnowledgeConfig struct {
	APIURL string `yaml:"api_url"`
	APIKey string `yaml:"api_key"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// DestinationSeed is one pre-registered destination, loaded from an
// optional YAML file at startup so operators don't have to hand-insert
// rows into db_mapping before first use.
type DestinationSeed struct {
	Name     string `yaml:"name"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	Type     string `yaml:"type"`
}

// Config is the gateway's fully-resolved runtime configuration.
type Config struct {
	Server           ServerConfig
	ControlDB        ControlDBConfig
	Pool             PoolConfig
	LLM              LLMConfig
	Knowledge        KnowledgeConfig
	Logging          LoggingConfig
	AnalyticsEnabled bool
	Destinations     []DestinationSeed
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8000, Workers: 4},
		Pool: PoolConfig{
			PoolSize:    5,
			MaxOverflow: 10,
			PoolTimeout: 30 * time.Second,
			PoolRecycle: 30 * time.Minute,
			MaxPools:    20,
		},
		Logging:          LoggingConfig{Level: "info", JSON: true},
		AnalyticsEnabled: true,
	}
}

// Load reads .env (if present), then the process environment, then an
// optional destinations YAML file, merging onto Config defaults.
// Mirrors the teacher's Initialize(ctx, configDir) entry point shape.
func Load(envFile, destinationsFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			slog.Warn("failed to load env file", "path", envFile, "error", err)
		}
	}

	cfg := defaults()
	env := fromEnvironment()
	if err := mergo.Merge(cfg, env, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("merging environment configuration: %w", err)
	}
	// Bool fields are zero-valued (false) whether the operator set them to
	// false explicitly or never set them at all, so mergo.WithOverride can't
	// tell "unset" from "explicitly false" for them. Applied directly here
	// instead, after the merge, using LookupEnv to distinguish the two.
	if v, ok := os.LookupEnv("ANALYTICS_ENABLED"); ok {
		cfg.AnalyticsEnabled = v != "false" && v != "0"
	}
	if v, ok := os.LookupEnv("LOG_JSON"); ok {
		cfg.Logging.JSON = v != "false" && v != "0"
	}

	if destinationsFile != "" {
		seeds, err := loadDestinationSeeds(destinationsFile)
		if err != nil {
			return nil, fmt.Errorf("loading destination seed file: %w", err)
		}
		cfg.Destinations = seeds
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// fromEnvironment reads the gateway's env-var surface into a Config.
// Unset variables are left zero-valued so mergo leaves the corresponding
// default untouched.
func fromEnvironment() *Config {
	cfg := &Config{}

	cfg.Server.Host = os.Getenv("MCP_HOST")
	cfg.Server.Port = envInt("MCP_PORT")
	cfg.Server.Workers = envInt("MCP_WORKERS")

	cfg.ControlDB.Host = os.Getenv("DB_HOST")
	cfg.ControlDB.Port = envInt("DB_PORT")
	cfg.ControlDB.Username = os.Getenv("DB_USERNAME")
	cfg.ControlDB.Password = os.Getenv("DB_PASSWORD")
	cfg.ControlDB.Database = os.Getenv("DB_NAME")

	cfg.Pool.PoolSize = envInt("DB_POOL_SIZE")
	cfg.Pool.MaxOverflow = envInt("DB_MAX_OVERFLOW")
	cfg.Pool.PoolTimeout = envDuration("DB_POOL_TIMEOUT")
	cfg.Pool.PoolRecycle = envDuration("DB_POOL_RECYCLE")
	cfg.Pool.MaxPools = envInt("DB_POOL_MAX_SIZE")

	cfg.LLM.Model = os.Getenv("LLM_MODEL")
	cfg.LLM.APIKey = os.Getenv("LLM_API_KEY")
	cfg.LLM.BaseURL = os.Getenv("LLM_BASE_URL")

	cfg.Knowledge.APIURL = os.Getenv("LIGHTRAG_API_URL")
	cfg.Knowledge.APIKey = os.Getenv("LIGHTRAG_API_KEY")

	cfg.Logging.Level = os.Getenv("LOG_LEVEL")

	return cfg
}

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid integer environment variable, ignoring", "key", key, "value", v)
		return 0
	}
	return n
}

func envDuration(key string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("invalid duration environment variable, ignoring", "key", key, "value", v)
		return 0
	}
	return d
}

func loadDestinationSeeds(path string) ([]DestinationSeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	data = []byte(os.ExpandEnv(string(data)))

	var doc struct {
		Destinations []DestinationSeed `yaml:"destinations"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return doc.Destinations, nil
}

func validate(cfg *Config) error {
	if cfg.ControlDB.Host == "" {
		return fmt.Errorf("DB_HOST is required")
	}
	if cfg.ControlDB.Database == "" {
		return fmt.Errorf("DB_NAME is required")
	}
	if cfg.LLM.Model == "" {
		return fmt.Errorf("LLM_MODEL is required")
	}
	if cfg.Pool.MaxPools <= 0 {
		return fmt.Errorf("DB_POOL_MAX_SIZE must be positive, got %d", cfg.Pool.MaxPools)
	}
	for _, d := range cfg.Destinations {
		if d.Name == "" {
			return fmt.Errorf("destination seed entry missing name")
		}
	}
	return nil
}
