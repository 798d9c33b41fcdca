package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultTimezone = "UTC"
	configPathEnv   = "TRENDWATCHER_CONFIG"
	httpAddrEnv     = "HTTP_ADDR"
	databaseDSNEnv  = "DATABASE_DSN"
	databaseKindEnv = "DATABASE_DRIVER"
	redisURLEnv     = "REDIS_URL"
	tavilyKeyEnv    = "TAVILY_API_KEY"
	llmKeyEnv       = "LLM_API_KEY"
	perplexityEnv   = "PERPLEXITY_API_KEY"
	llmProviderEnv  = "LLM_PROVIDER"
	llmModelEnv     = "LLM_MODEL"
	smtpUserEnv     = "SMTP_USERNAME"
	smtpPasswordEnv = "SMTP_PASSWORD"
	logLevelEnv     = "LOG_LEVEL"
)

// Config holds high-level settings required across the application.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Workers   WorkerConfig    `yaml:"workers"`
	Search    SearchConfig    `yaml:"search"`
	LLM       LLMConfig       `yaml:"llm"`
	Mail      MailConfig      `yaml:"mail"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

// DatabaseConfig selects the persistence backend: sqlite, postgres or mongo.
type DatabaseConfig struct {
	Driver        string `yaml:"driver"`
	DSN           string `yaml:"dsn"`
	MongoDatabase string `yaml:"mongoDatabase"`
	// MongoCollection names the subscriptions collection; empty means trend_filters.
	MongoCollection string `yaml:"mongoCollection"`
}

// RedisConfig enables distributed subscription locks when URL is set.
type RedisConfig struct {
	URL     string `yaml:"url"`
	LockTTL string `yaml:"lockTtl"`
}

// LockDuration parses LockTTL, defaulting to 30 minutes.
func (r RedisConfig) LockDuration() time.Duration {
	return parseDuration(r.LockTTL, 30*time.Minute)
}

// SchedulerConfig defines how often bulk refresh runs; empty disables it.
type SchedulerConfig struct {
	RefreshInterval string         `yaml:"refreshInterval"`
	Timezone        string         `yaml:"timezone"`
	location        *time.Location `yaml:"-"`
}

// Interval resolves RefreshInterval; zero means disabled.
func (s SchedulerConfig) Interval() time.Duration {
	return parseDuration(s.RefreshInterval, 0)
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	loc, _ := time.LoadLocation(defaultTimezone)
	return loc
}

// WorkerConfig bounds background concurrency.
type WorkerConfig struct {
	Count      int    `yaml:"count"`
	QueueSize  int    `yaml:"queueSize"`
	JobTimeout string `yaml:"jobTimeout"`
}

// Timeout parses JobTimeout; zero means no deadline.
func (w WorkerConfig) Timeout() time.Duration {
	return parseDuration(w.JobTimeout, 0)
}

// SearchConfig wires the Tavily search API.
type SearchConfig struct {
	Endpoint   string `yaml:"endpoint"`
	APIKey     string `yaml:"apiKey"`
	MaxResults int    `yaml:"maxResults"`
	Topic      string `yaml:"topic"`
}

// LLMConfig defines how to contact the completion model. An empty BaseURL or
// Model selects the provider default.
type LLMConfig struct {
	Provider     string `yaml:"provider"`
	BaseURL      string `yaml:"baseUrl"`
	Model        string `yaml:"model"`
	APIKey       string `yaml:"apiKey"`
	SystemPrompt string `yaml:"systemPrompt"`
	MaxTokens    int    `yaml:"maxTokens"`
}

// MailConfig holds the authenticated relay settings.
type MailConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	FromName string `yaml:"fromName"`
	TeamName string `yaml:"teamName"`
}

// LoggingConfig selects level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads YAML configuration (if present) and applies environment overrides.
// An empty path falls back to the TRENDWATCHER_CONFIG variable.
func Load(path string) Config {
	cfg := defaultConfig()

	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	if path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			var fileCfg Config
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = mergeConfig(cfg, fileCfg)
			}
		}
	}

	cfg.applyEnvOverrides()
	cfg.bindTimezone()

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(httpAddrEnv); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv(databaseKindEnv); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv(redisURLEnv); v != "" {
		c.Redis.URL = v
	}
	if v := os.Getenv(tavilyKeyEnv); v != "" {
		c.Search.APIKey = v
	}
	if v := os.Getenv(perplexityEnv); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv(llmKeyEnv); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv(llmProviderEnv); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv(llmModelEnv); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv(smtpUserEnv); v != "" {
		c.Mail.Username = v
		if c.Mail.From == "" {
			c.Mail.From = v
		}
	}
	if v := os.Getenv(smtpPasswordEnv); v != "" {
		c.Mail.Password = v
	}
	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}
}

func (c *Config) bindTimezone() {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Printf("config: unknown timezone %s, reverting to %s", tz, defaultTimezone)
		loc, _ = time.LoadLocation(defaultTimezone)
	}
	c.Scheduler.location = loc
}

func mergeConfig(base, override Config) Config {
	if override.Server.Addr != "" {
		base.Server.Addr = override.Server.Addr
	}
	if len(override.Server.AllowedOrigins) > 0 {
		base.Server.AllowedOrigins = override.Server.AllowedOrigins
	}

	if override.Database.Driver != "" {
		base.Database.Driver = override.Database.Driver
	}
	if override.Database.DSN != "" {
		base.Database.DSN = override.Database.DSN
	}
	if override.Database.MongoDatabase != "" {
		base.Database.MongoDatabase = override.Database.MongoDatabase
	}
	if override.Database.MongoCollection != "" {
		base.Database.MongoCollection = override.Database.MongoCollection
	}

	if override.Redis.URL != "" {
		base.Redis.URL = override.Redis.URL
	}
	if override.Redis.LockTTL != "" {
		base.Redis.LockTTL = override.Redis.LockTTL
	}

	if override.Scheduler.RefreshInterval != "" {
		base.Scheduler.RefreshInterval = override.Scheduler.RefreshInterval
	}
	if override.Scheduler.Timezone != "" {
		base.Scheduler.Timezone = override.Scheduler.Timezone
	}

	if override.Workers.Count > 0 {
		base.Workers.Count = override.Workers.Count
	}
	if override.Workers.QueueSize > 0 {
		base.Workers.QueueSize = override.Workers.QueueSize
	}
	if override.Workers.JobTimeout != "" {
		base.Workers.JobTimeout = override.Workers.JobTimeout
	}

	if override.Search.Endpoint != "" {
		base.Search.Endpoint = override.Search.Endpoint
	}
	if override.Search.APIKey != "" {
		base.Search.APIKey = override.Search.APIKey
	}
	if override.Search.MaxResults > 0 {
		base.Search.MaxResults = override.Search.MaxResults
	}
	if override.Search.Topic != "" {
		base.Search.Topic = override.Search.Topic
	}

	if override.LLM.Provider != "" {
		base.LLM.Provider = override.LLM.Provider
	}
	if override.LLM.BaseURL != "" {
		base.LLM.BaseURL = override.LLM.BaseURL
	}
	if override.LLM.Model != "" {
		base.LLM.Model = override.LLM.Model
	}
	if override.LLM.APIKey != "" {
		base.LLM.APIKey = override.LLM.APIKey
	}
	if override.LLM.SystemPrompt != "" {
		base.LLM.SystemPrompt = override.LLM.SystemPrompt
	}
	if override.LLM.MaxTokens > 0 {
		base.LLM.MaxTokens = override.LLM.MaxTokens
	}

	if override.Mail.Host != "" {
		base.Mail.Host = override.Mail.Host
	}
	if override.Mail.Port > 0 {
		base.Mail.Port = override.Mail.Port
	}
	if override.Mail.Username != "" {
		base.Mail.Username = override.Mail.Username
	}
	if override.Mail.Password != "" {
		base.Mail.Password = override.Mail.Password
	}
	if override.Mail.From != "" {
		base.Mail.From = override.Mail.From
	}
	if override.Mail.FromName != "" {
		base.Mail.FromName = override.Mail.FromName
	}
	if override.Mail.TeamName != "" {
		base.Mail.TeamName = override.Mail.TeamName
	}

	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}
	if override.Logging.Format != "" {
		base.Logging.Format = override.Logging.Format
	}

	return base
}

func defaultConfig() Config {
	tz, _ := time.LoadLocation(defaultTimezone)
	return Config{
		Server:    ServerConfig{Addr: ":5000", AllowedOrigins: []string{"*"}},
		Database:  DatabaseConfig{Driver: "sqlite", DSN: "file:trendwatcher.db?_pragma=busy_timeout(5000)", MongoDatabase: "trend_db"},
		Redis:     RedisConfig{LockTTL: "30m"},
		Scheduler: SchedulerConfig{Timezone: defaultTimezone, location: tz},
		Workers:   WorkerConfig{Count: 4, QueueSize: 64},
		Search: SearchConfig{
			Endpoint:   "https://api.tavily.com/search",
			MaxResults: 10,
			Topic:      "general",
		},
		LLM: LLMConfig{
			Provider:  "perplexity",
			MaxTokens: 2048,
		},
		Mail: MailConfig{
			Host:     "smtp.gmail.com",
			Port:     465,
			FromName: "Trend Insights",
			TeamName: "Trend Insights Team",
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	log.Printf("config: invalid duration %q, using %s", value, fallback)
	return fallback
}
