package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the decision engine.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Clients  ClientsConfig  `yaml:"clients"`
	Database DatabaseConfig `yaml:"database"`
	OpenAI   OpenAIConfig   `yaml:"openai"`
	Policy   PolicyConfig   `yaml:"policy"`
	Engine   EngineConfig   `yaml:"engine"`
	Logging  LoggingConfig  `yaml:"logging"`
	Cache    CacheConfig    `yaml:"cache"`
}

// ServerConfig controls the HTTP listeners.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// ClientsConfig groups the external collaborator endpoints.
type ClientsConfig struct {
	Calendar    HTTPClientConfig `yaml:"calendar"`
	Mailer      HTTPClientConfig `yaml:"mailer"`
	Mailbox     HTTPClientConfig `yaml:"mailbox"`
	Preferences HTTPClientConfig `yaml:"preferences"`
}

// HTTPClientConfig configures one outbound HTTP collaborator.
type HTTPClientConfig struct {
	BaseURL string        `yaml:"baseURL"`
	Path    string        `yaml:"path"`
	Timeout time.Duration `yaml:"timeout"`
}

// DatabaseConfig selects and configures the persistence backend.
type DatabaseConfig struct {
	InMemory bool   `yaml:"inMemory"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslMode"`
}

// OpenAIConfig configures the OpenAI-backed classifier. An empty APIKey
// selects the keyword classifier instead.
type OpenAIConfig struct {
	APIKey      string  `yaml:"apiKey"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"maxTokens"`
	Temperature float64 `yaml:"temperature"`
}

// PolicyConfig is the default per-principal policy when no preferences
// collaborator is configured.
type PolicyConfig struct {
	AutomationEnabled           bool          `yaml:"automationEnabled"`
	ConfidenceThreshold         float64       `yaml:"confidenceThreshold"`
	AllowList                   []string      `yaml:"allowList"`
	DenyList                    []string      `yaml:"denyList"`
	Cooldown                    time.Duration `yaml:"cooldown"`
	MaxConsecutiveLowConfidence int           `yaml:"maxConsecutiveLowConfidence"`
}

// EngineConfig tunes the decision core.
type EngineConfig struct {
	ConversationTTL   time.Duration `yaml:"conversationTTL"`
	SenderHistoryDays int           `yaml:"senderHistoryDays"`
	SenderHistoryTTL  time.Duration `yaml:"senderHistoryTTL"`
	PolicyTTL         time.Duration `yaml:"policyTTL"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// CacheConfig controls Valkey-backed caching of read-mostly lookups.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("SCHEDMATE_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:         ":8460",
			MetricsAddress:  ":9460",
			GracefulTimeout: 10 * time.Second,
		},
		Clients: ClientsConfig{
			Calendar:    HTTPClientConfig{Path: "/api/v1/availability", Timeout: 10 * time.Second},
			Mailer:      HTTPClientConfig{Path: "/api/v1/send", Timeout: 15 * time.Second},
			Mailbox:     HTTPClientConfig{Path: "/api/v1/messages", Timeout: 10 * time.Second},
			Preferences: HTTPClientConfig{Path: "/api/v1/preferences", Timeout: 5 * time.Second},
		},
		Database: DatabaseConfig{
			InMemory: true,
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Name:     "schedmate",
			SSLMode:  "disable",
		},
		OpenAI: OpenAIConfig{
			Model:       "gpt-4o-mini",
			MaxTokens:   300,
			Temperature: 0,
		},
		Policy: PolicyConfig{
			AutomationEnabled:           true,
			ConfidenceThreshold:         0.85,
			Cooldown:                    60 * time.Minute,
			MaxConsecutiveLowConfidence: 5,
		},
		Engine: EngineConfig{
			ConversationTTL:   14 * 24 * time.Hour,
			SenderHistoryDays: 180,
			SenderHistoryTTL:  5 * time.Minute,
			PolicyTTL:         time.Minute,
		},
		Logging: LoggingConfig{Level: "info"},
		Cache: CacheConfig{
			DialTimeout:  2 * time.Second,
			ReadTimeout:  time.Second,
			WriteTimeout: time.Second,
			MaxRetries:   2,
		},
	}
}

func (c *Config) validate() error {
	if c.Policy.ConfidenceThreshold < 0.70 || c.Policy.ConfidenceThreshold > 0.95 {
		return fmt.Errorf("policy.confidenceThreshold %.2f outside [0.70, 0.95]", c.Policy.ConfidenceThreshold)
	}
	if c.Policy.MaxConsecutiveLowConfidence <= 0 {
		return fmt.Errorf("policy.maxConsecutiveLowConfidence must be positive")
	}
	if c.Engine.ConversationTTL <= 0 {
		return fmt.Errorf("engine.conversationTTL must be positive")
	}
	if !c.Database.InMemory && c.Database.Name == "" {
		return fmt.Errorf("database.name required when not in-memory")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SCHEDMATE_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("SCHEDMATE_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("SCHEDMATE_CALENDAR_URL"); v != "" {
		cfg.Clients.Calendar.BaseURL = v
	}
	if v := os.Getenv("SCHEDMATE_MAILER_URL"); v != "" {
		cfg.Clients.Mailer.BaseURL = v
	}
	if v := os.Getenv("SCHEDMATE_MAILBOX_URL"); v != "" {
		cfg.Clients.Mailbox.BaseURL = v
	}
	if v := os.Getenv("SCHEDMATE_PREFERENCES_URL"); v != "" {
		cfg.Clients.Preferences.BaseURL = v
	}
	if v := os.Getenv("SCHEDMATE_DB_HOST"); v != "" {
		cfg.Database.Host = v
		cfg.Database.InMemory = false
	}
	if v := os.Getenv("SCHEDMATE_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("SCHEDMATE_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("SCHEDMATE_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("SCHEDMATE_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.OpenAI.APIKey = v
	}
	if v := os.Getenv("SCHEDMATE_CONFIDENCE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Policy.ConfidenceThreshold = f
		}
	}
	if v := os.Getenv("SCHEDMATE_AUTOMATION_ENABLED"); v != "" {
		cfg.Policy.AutomationEnabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("SCHEDMATE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SCHEDMATE_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("SCHEDMATE_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("SCHEDMATE_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("SCHEDMATE_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("SCHEDMATE_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("SCHEDMATE_CACHE_TLS"); strings.EqualFold(v, "true") || v == "1" {
		cfg.Cache.TLS = true
	}
}
