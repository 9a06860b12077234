package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `json:"server" yaml:"server"`
	MongoDB MongoDBConfig `json:"mongodb" yaml:"mongodb"`
	Redis   RedisConfig   `json:"redis" yaml:"redis"`
	Rollup  RollupConfig  `json:"rollup" yaml:"rollup"`
	Discord DiscordConfig `json:"discord" yaml:"discord"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
}

type ServerConfig struct {
	Port           int      `json:"port" yaml:"port"`
	Host           string   `json:"host" yaml:"host"`
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins"`
}

type MongoDBConfig struct {
	URI      string `json:"uri" yaml:"uri"`
	Database string `json:"database" yaml:"database"`
	Enabled  bool   `json:"enabled" yaml:"enabled"`
}

type RedisConfig struct {
	Address             string `json:"address" yaml:"address"`
	Password            string `json:"password" yaml:"password"`
	DB                  int    `json:"db" yaml:"db"`
	Enabled             bool   `json:"enabled" yaml:"enabled"`
	UseTLS              bool   `json:"use_tls" yaml:"use_tls"`
	HealthCheckInterval int    `json:"health_check_interval_seconds" yaml:"health_check_interval_seconds"`
}

// RollupConfig bounds the periodic snapshot jobs and the read path
type RollupConfig struct {
	DeadlineSeconds     int `json:"deadline_seconds" yaml:"deadline_seconds"`
	MaxEntityMetrics    int `json:"max_entity_metrics" yaml:"max_entity_metrics"`
	QueryTimeoutSeconds int `json:"query_timeout_seconds" yaml:"query_timeout_seconds"`
}

type DiscordConfig struct {
	Token            string `json:"token" yaml:"token"`
	ChannelID        string `json:"channel_id" yaml:"channel_id"`
	FailureThreshold int    `json:"failure_threshold" yaml:"failure_threshold"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"`
}

// Default returns the built-in configuration before any file, env or flag is applied
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8080,
			Host:           "0.0.0.0",
			AllowedOrigins: []string{"*"},
		},
		MongoDB: MongoDBConfig{
			URI:      "mongodb://localhost:27017",
			Database: "wifi_metrics",
			Enabled:  true,
		},
		Redis: RedisConfig{
			Address:             "localhost:6379",
			DB:                  0,
			Enabled:             true,
			UseTLS:              false,
			HealthCheckInterval: 30,
		},
		Rollup: RollupConfig{
			DeadlineSeconds:     30,
			MaxEntityMetrics:    500,
			QueryTimeoutSeconds: 10,
		},
		Discord: DiscordConfig{
			FailureThreshold: 3,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/prometheus",
		},
	}
}

func LoadConfig() (*Config, error) {
	return Load(os.Args[1:])
}

// Load applies defaults, the config file, environment and then flags from args
func Load(args []string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	cfg := Default()

	configPath := os.Getenv("CONFIG_FILE")
	if configPath == "" {
		configPath = "config/config.json"
	}

	if _, err := os.Stat(configPath); err == nil {
		if err := loadFile(configPath, cfg); err != nil {
			fmt.Printf("Warning: Failed to decode config file: %v\n", err)
		}
	}

	loadEnv(cfg)

	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	var serverPort int
	var serverHost string

	fs.IntVar(&serverPort, "port", 0, "Server port")
	fs.StringVar(&serverHost, "host", "", "Server host")

	_ = fs.Parse(args)

	if isFlagPassed(fs, "port") {
		cfg.Server.Port = serverPort
	}
	if isFlagPassed(fs, "host") {
		cfg.Server.Host = serverHost
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		return json.Unmarshal(data, cfg)
	}
}

func isFlagPassed(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

func loadEnv(cfg *Config) {
	// Server
	if val := os.Getenv("SERVER_PORT"); val != "" {
		if p, err := strconv.Atoi(val); err == nil {
			cfg.Server.Port = p
		}
	}
	if val := os.Getenv("SERVER_HOST"); val != "" {
		cfg.Server.Host = val
	}
	if val := os.Getenv("ALLOWED_ORIGINS"); val != "" {
		parts := strings.Split(val, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		cfg.Server.AllowedOrigins = parts
	}

	// MongoDB
	if val := os.Getenv("MONGODB_URI"); val != "" {
		cfg.MongoDB.URI = val
	}
	if val := os.Getenv("MONGODB_DATABASE"); val != "" {
		cfg.MongoDB.Database = val
	}
	if val := os.Getenv("MONGODB_ENABLED"); val != "" {
		cfg.MongoDB.Enabled = val == "true" || val == "1"
	}

	// Redis
	if val := os.Getenv("REDIS_ADDRESS"); val != "" {
		cfg.Redis.Address = val
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if p, err := strconv.Atoi(val); err == nil {
			cfg.Redis.DB = p
		}
	}
	if val := os.Getenv("REDIS_ENABLED"); val != "" {
		cfg.Redis.Enabled = val == "true" || val == "1"
	}
	if val := os.Getenv("REDIS_USE_TLS"); val != "" {
		cfg.Redis.UseTLS = val == "true" || val == "1"
	}

	// Rollup
	if val := os.Getenv("ROLLUP_DEADLINE"); val != "" {
		if p, err := strconv.Atoi(val); err == nil {
			cfg.Rollup.DeadlineSeconds = p
		}
	}
	if val := os.Getenv("ROLLUP_MAX_ENTITY_METRICS"); val != "" {
		if p, err := strconv.Atoi(val); err == nil {
			cfg.Rollup.MaxEntityMetrics = p
		}
	}
	if val := os.Getenv("QUERY_TIMEOUT"); val != "" {
		if p, err := strconv.Atoi(val); err == nil {
			cfg.Rollup.QueryTimeoutSeconds = p
		}
	}

	// Discord
	if val := os.Getenv("DISCORD_BOT_TOKEN"); val != "" {
		cfg.Discord.Token = val
	}
	if val := os.Getenv("DISCORD_CHANNEL_ID"); val != "" {
		cfg.Discord.ChannelID = val
	}
	if val := os.Getenv("DISCORD_FAILURE_THRESHOLD"); val != "" {
		if p, err := strconv.Atoi(val); err == nil {
			cfg.Discord.FailureThreshold = p
		}
	}

	// Metrics
	if val := os.Getenv("METRICS_ENABLED"); val != "" {
		cfg.Metrics.Enabled = val == "true" || val == "1"
	}
	if val := os.Getenv("METRICS_PATH"); val != "" {
		cfg.Metrics.Path = val
	}
}

// Validate rejects values the rollup loop cannot run with
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Rollup.DeadlineSeconds <= 0 {
		return fmt.Errorf("rollup.deadline_seconds must be positive, got %d", c.Rollup.DeadlineSeconds)
	}
	if c.Rollup.MaxEntityMetrics <= 0 {
		return fmt.Errorf("rollup.max_entity_metrics must be positive, got %d", c.Rollup.MaxEntityMetrics)
	}
	if c.Rollup.QueryTimeoutSeconds <= 0 {
		return fmt.Errorf("rollup.query_timeout_seconds must be positive, got %d", c.Rollup.QueryTimeoutSeconds)
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with '/', got %q", c.Metrics.Path)
	}
	return nil
}

// Helper methods for duration conversion
func (c *Config) RollupDeadline() time.Duration {
	return time.Duration(c.Rollup.DeadlineSeconds) * time.Second
}

func (c *Config) QueryTimeout() time.Duration {
	return time.Duration(c.Rollup.QueryTimeoutSeconds) * time.Second
}

func (c *Config) RedisHealthCheckInterval() time.Duration {
	if c.Redis.HealthCheckInterval <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Redis.HealthCheckInterval) * time.Second
}

func (c *Config) DiscordEnabled() bool {
	return c.Discord.Token != "" && c.Discord.ChannelID != ""
}
