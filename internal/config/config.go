package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Store drivers.
const (
	DriverSQLite    = "sqlite"
	DriverPostgres  = "postgres"
	DriverFirestore = "firestore"
)

// Agent runtimes.
const (
	RuntimeClaude       = "claude"
	RuntimeClaudeDocker = "claude-docker"
)

const (
	defaultModel        = "claude-haiku-4-5-20251001"
	defaultSystemPrompt = "You are a helpful assistant with access to weather information."
)

var collectionPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`) //nolint:gochecknoglobals // compiled once

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Agent    AgentConfig
	Store    StoreConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Docker   DockerConfig
	Server   ServerConfig
	Log      LogConfig
}

// AgentConfig holds agent runtime settings.
type AgentConfig struct {
	APIKey       string //nolint:gosec // G117: model API credential config
	Runtime      string
	CLIPath      string
	Model        string
	SystemPrompt string
	MaxTurns     int
	MaxBudgetUSD float64
	TurnTimeout  time.Duration
	MCPURL       string
}

// StoreConfig selects and configures the transcript store backend.
type StoreConfig struct {
	Driver       string
	Collection   string
	SQLitePath   string
	GCPProjectID string
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string //nolint:gosec // G117: DB connection config
	DBName   string
	SSLMode  string
	MaxConns int
}

// RedisConfig holds Redis connection settings. An empty Addr disables live
// session events.
type RedisConfig struct {
	Addr     string
	Password string //nolint:gosec // G117: Redis connection config
	DB       int
}

// DockerConfig holds container runtime settings.
type DockerConfig struct {
	Host     string
	Image    string
	CPULimit string
	MemLimit string
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CORSOrigins  []string
	RateLimit    float64
	RateBurst    int
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string
	Format string
}

// Load reads configuration from environment variables.
// Defaults are safe for local development only.
func Load() (*Config, error) {
	maxTurns, err := getEnvInt("AGENTCHAT_MAX_TURNS", 10)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	maxBudget, err := getEnvFloat("AGENTCHAT_MAX_BUDGET_USD", 0.50)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	turnTimeout, err := getEnvDuration("AGENTCHAT_TURN_TIMEOUT", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	dbPort, err := getEnvInt("AGENTCHAT_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	dbMaxConns, err := getEnvInt("AGENTCHAT_DB_MAX_CONNS", 10)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	redisDB, err := getEnvInt("AGENTCHAT_REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	readTimeout, err := getEnvDuration("AGENTCHAT_SERVER_READ_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	// A resumed turn may run two attempts back to back.
	writeTimeout, err := getEnvDuration("AGENTCHAT_SERVER_WRITE_TIMEOUT", 2*turnTimeout+time.Minute)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	rateLimit, err := getEnvFloat("AGENTCHAT_RATE_LIMIT", 2)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	rateBurst, err := getEnvInt("AGENTCHAT_RATE_BURST", 5)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	serverAddr := getEnv("AGENTCHAT_SERVER_ADDR", ":8080")

	cfg := &Config{
		Agent: AgentConfig{
			APIKey:       getEnv("ANTHROPIC_API_KEY", ""),
			Runtime:      getEnv("AGENTCHAT_RUNTIME", RuntimeClaude),
			CLIPath:      getEnv("AGENTCHAT_CLAUDE_PATH", "claude"),
			Model:        getEnv("AGENTCHAT_CLAUDE_MODEL", defaultModel),
			SystemPrompt: getEnv("AGENTCHAT_SYSTEM_PROMPT", defaultSystemPrompt),
			MaxTurns:     maxTurns,
			MaxBudgetUSD: maxBudget,
			TurnTimeout:  turnTimeout,
			MCPURL:       getEnv("AGENTCHAT_MCP_URL", mcpURLFromAddr(serverAddr)),
		},
		Store: StoreConfig{
			Driver:       getEnv("AGENTCHAT_STORE_DRIVER", DriverSQLite),
			Collection:   getEnv("AGENTCHAT_STORE_COLLECTION", "sessions"),
			SQLitePath:   getEnv("AGENTCHAT_SQLITE_PATH", "agentchat.db"),
			GCPProjectID: getEnv("GCP_PROJECT_ID", ""),
		},
		Database: DatabaseConfig{
			Host:     getEnv("AGENTCHAT_DB_HOST", "localhost"),
			Port:     dbPort,
			User:     getEnv("AGENTCHAT_DB_USER", "agentchat"),
			Password: getEnv("AGENTCHAT_DB_PASSWORD", ""),
			DBName:   getEnv("AGENTCHAT_DB_NAME", "agentchat_dev"),
			SSLMode:  getEnv("AGENTCHAT_DB_SSLMODE", "disable"),
			MaxConns: dbMaxConns,
		},
		Redis: RedisConfig{
			Addr:     getEnv("AGENTCHAT_REDIS_ADDR", ""),
			Password: getEnv("AGENTCHAT_REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Docker: DockerConfig{
			Host:     getEnv("AGENTCHAT_DOCKER_HOST", "unix:///var/run/docker.sock"),
			Image:    getEnv("AGENTCHAT_DOCKER_IMAGE", "ghcr.io/gosuda/agentchat-claude:latest"),
			CPULimit: getEnv("AGENTCHAT_DOCKER_CPU_LIMIT", "1"),
			MemLimit: getEnv("AGENTCHAT_DOCKER_MEM_LIMIT", "1g"),
		},
		Server: ServerConfig{
			Addr:         serverAddr,
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
			CORSOrigins:  getEnvList("AGENTCHAT_CORS_ORIGINS", []string{"http://localhost:5173"}),
			RateLimit:    rateLimit,
			RateBurst:    rateBurst,
		},
		Log: LogConfig{
			Level:  getEnv("AGENTCHAT_LOG_LEVEL", "info"),
			Format: getEnv("AGENTCHAT_LOG_FORMAT", "json"),
		},
	}

	err = cfg.validate()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	return cfg, nil
}

// validate checks required fields and value bounds.
func (c *Config) validate() error {
	if c.Agent.APIKey == "" {
		return errors.New("ANTHROPIC_API_KEY is required")
	}
	if !slices.Contains([]string{RuntimeClaude, RuntimeClaudeDocker}, c.Agent.Runtime) {
		return fmt.Errorf("AGENTCHAT_RUNTIME must be %q or %q, got %q", RuntimeClaude, RuntimeClaudeDocker, c.Agent.Runtime)
	}
	if c.Agent.MaxTurns < 1 {
		return fmt.Errorf("AGENTCHAT_MAX_TURNS must be >= 1, got %d", c.Agent.MaxTurns)
	}
	if c.Agent.MaxBudgetUSD <= 0 {
		return fmt.Errorf("AGENTCHAT_MAX_BUDGET_USD must be positive, got %g", c.Agent.MaxBudgetUSD)
	}
	if c.Agent.TurnTimeout <= 0 {
		return fmt.Errorf("AGENTCHAT_TURN_TIMEOUT must be positive, got %s", c.Agent.TurnTimeout)
	}

	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			return errors.New("AGENTCHAT_SQLITE_PATH is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Database.Port < 1 || c.Database.Port > 65535 {
			return fmt.Errorf("AGENTCHAT_DB_PORT must be 1-65535, got %d", c.Database.Port)
		}
		if c.Database.MaxConns < 1 {
			return fmt.Errorf("AGENTCHAT_DB_MAX_CONNS must be >= 1, got %d", c.Database.MaxConns)
		}
		if c.Database.SSLMode == "disable" {
			log.Warn().Msg("AGENTCHAT_DB_SSLMODE=disable is insecure for production; set to 'require' or 'verify-full'")
		}
	case DriverFirestore:
		if c.Store.GCPProjectID == "" {
			return errors.New("GCP_PROJECT_ID is required for the firestore driver")
		}
	default:
		return fmt.Errorf("AGENTCHAT_STORE_DRIVER must be one of sqlite, postgres, firestore, got %q", c.Store.Driver)
	}
	if !collectionPattern.MatchString(c.Store.Collection) {
		return fmt.Errorf("AGENTCHAT_STORE_COLLECTION must be a plain identifier, got %q", c.Store.Collection)
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("AGENTCHAT_SERVER_READ_TIMEOUT must be positive, got %s", c.Server.ReadTimeout)
	}
	if c.Server.WriteTimeout <= c.Agent.TurnTimeout {
		return fmt.Errorf("AGENTCHAT_SERVER_WRITE_TIMEOUT (%s) must exceed AGENTCHAT_TURN_TIMEOUT (%s)", c.Server.WriteTimeout, c.Agent.TurnTimeout)
	}
	if c.Server.RateLimit <= 0 {
		return fmt.Errorf("AGENTCHAT_RATE_LIMIT must be positive, got %g", c.Server.RateLimit)
	}
	if c.Server.RateBurst < 1 {
		return fmt.Errorf("AGENTCHAT_RATE_BURST must be >= 1, got %d", c.Server.RateBurst)
	}

	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("AGENTCHAT_LOG_LEVEL: %w", err)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("AGENTCHAT_LOG_FORMAT must be json or text, got %q", c.Log.Format)
	}

	return nil
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// Enabled reports whether a Redis server is configured.
func (c *RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// mcpURLFromAddr points the agent at the MCP endpoint served by this process.
func mcpURLFromAddr(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://127.0.0.1:8080/mcp"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port) + "/mcp"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as int: %w", key, v, err)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as float: %w", key, v, err)
	}
	return f, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as duration: %w", key, v, err)
	}
	return d, nil
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
