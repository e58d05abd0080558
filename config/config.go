package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for newsrag.
type Config struct {
	General    GeneralConfig    `mapstructure:"general"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Embedding  EmbeddingConfig  `mapstructure:"embedding"`
	Index      IndexConfig      `mapstructure:"index"`
	Retrieval  RetrievalConfig  `mapstructure:"retrieval"`
	Context    ContextConfig    `mapstructure:"context"`
	Session    SessionConfig    `mapstructure:"session"`
	Chat       ChatConfig       `mapstructure:"chat"`
	Summary    SummaryConfig    `mapstructure:"summary"`
	Generation GenerationConfig `mapstructure:"generation"`
	Articles   ArticlesConfig   `mapstructure:"articles"`
	Feed       FeedConfig       `mapstructure:"feed"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
	DataDir  string `mapstructure:"data_dir"`
}

// LLMConfig configures the OpenAI-compatible completion and embedding API.
type LLMConfig struct {
	Provider           string        `mapstructure:"provider"`
	APIKey             string        `mapstructure:"api_key"`
	BaseURL            string        `mapstructure:"base_url"`
	CompletionModel    string        `mapstructure:"completion_model"`
	EmbeddingModel     string        `mapstructure:"embedding_model"`
	Temperature        float64       `mapstructure:"temperature"`
	MaxTokens          int           `mapstructure:"max_tokens"`
	Timeout            time.Duration `mapstructure:"timeout"`
	EmbedRatePerSecond float64       `mapstructure:"embed_rate_per_second"`
	EmbedBatchSize     int           `mapstructure:"embed_batch_size"`
}

func (c LLMConfig) Validate() error {
	if c.Provider != "openai" {
		return fmt.Errorf("llm.provider %q not supported", c.Provider)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be within [0,2]")
	}
	if c.EmbedBatchSize <= 0 {
		return fmt.Errorf("llm.embed_batch_size must be > 0")
	}
	return nil
}

// EmbeddingConfig selects the embedding backend.
type EmbeddingConfig struct {
	Type       string `mapstructure:"type"` // hashing, provider
	Dimensions int    `mapstructure:"dimensions"`
}

func (c EmbeddingConfig) Validate() error {
	switch c.Type {
	case "hashing", "provider":
	default:
		return fmt.Errorf("embedding.type must be hashing or provider, got %q", c.Type)
	}
	if c.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be > 0")
	}
	return nil
}

// IndexConfig controls vector index persistence and refresh.
type IndexConfig struct {
	Persist          string `mapstructure:"persist"` // none, sqlite, postgres
	SQLitePath       string `mapstructure:"sqlite_path"`
	RebuildOnStartup bool   `mapstructure:"rebuild_on_startup"`
	RebuildCron      string `mapstructure:"rebuild_cron"`
}

func (c IndexConfig) Validate() error {
	switch c.Persist {
	case "none", "sqlite", "postgres":
	default:
		return fmt.Errorf("index.persist must be none, sqlite or postgres, got %q", c.Persist)
	}
	if c.Persist == "sqlite" && strings.TrimSpace(c.SQLitePath) == "" {
		return fmt.Errorf("index.sqlite_path required when persist is sqlite")
	}
	return nil
}

// RetrievalConfig holds search limits and the over-fetch policy.
type RetrievalConfig struct {
	DefaultLimit    int     `mapstructure:"default_limit"`
	MaxLimit        int     `mapstructure:"max_limit"`
	MinScore        float64 `mapstructure:"min_score"`
	OverfetchFactor int     `mapstructure:"overfetch_factor"`
	OverfetchMin    int     `mapstructure:"overfetch_min"`
	LexicalFallback bool    `mapstructure:"lexical_fallback"`
}

func (c RetrievalConfig) Validate() error {
	if c.DefaultLimit <= 0 || c.MaxLimit <= 0 {
		return fmt.Errorf("retrieval.default_limit and retrieval.max_limit must be > 0")
	}
	if c.DefaultLimit > c.MaxLimit {
		return fmt.Errorf("retrieval.default_limit (%d) exceeds max_limit (%d)", c.DefaultLimit, c.MaxLimit)
	}
	if c.MinScore < 0 || c.MinScore > 1 {
		return fmt.Errorf("retrieval.min_score must be within [0,1]")
	}
	if c.OverfetchFactor < 1 || c.OverfetchMin < 0 {
		return fmt.Errorf("retrieval.overfetch_factor must be >= 1 and overfetch_min >= 0")
	}
	return nil
}

// ContextConfig bounds the evidence handed to the completion step.
type ContextConfig struct {
	TokenBudget int `mapstructure:"token_budget"`
}

// SessionConfig controls conversation storage and lifecycle.
type SessionConfig struct {
	Store        string        `mapstructure:"store"` // inmemory, redis
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	ReapInterval time.Duration `mapstructure:"reap_interval"`
	TombstoneTTL time.Duration `mapstructure:"tombstone_ttl"`
	MaxTurns     int           `mapstructure:"max_turns"`
	TokenBudget  int           `mapstructure:"token_budget"`
}

func (c SessionConfig) Validate() error {
	switch c.Store {
	case "inmemory", "redis":
	default:
		return fmt.Errorf("session.store must be inmemory or redis, got %q", c.Store)
	}
	if c.IdleTimeout <= 0 || c.ReapInterval <= 0 {
		return fmt.Errorf("session.idle_timeout and session.reap_interval must be > 0")
	}
	if c.MaxTurns < 2 {
		return fmt.Errorf("session.max_turns must hold at least one exchange")
	}
	return nil
}

// ChatConfig sets retrieval scope and instructions for chat turns.
type ChatConfig struct {
	Week         string `mapstructure:"week"`
	Limit        int    `mapstructure:"limit"`
	Instructions string `mapstructure:"instructions"`
}

// SummaryConfig sets instructions for weekly summaries.
type SummaryConfig struct {
	Instructions string `mapstructure:"instructions"`
}

// GenerationConfig controls completion retries.
type GenerationConfig struct {
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

// ArticlesConfig selects where articles come from.
type ArticlesConfig struct {
	Source   string        `mapstructure:"source"` // files, postgres
	DataDir  string        `mapstructure:"data_dir"`
	Watch    bool          `mapstructure:"watch"`
	Debounce time.Duration `mapstructure:"debounce"`
}

func (c ArticlesConfig) Validate() error {
	switch c.Source {
	case "files", "postgres":
	default:
		return fmt.Errorf("articles.source must be files or postgres, got %q", c.Source)
	}
	return nil
}

// FeedConfig configures push ingestion.
type FeedConfig struct {
	Kafka KafkaConfig `mapstructure:"kafka"`
}

// KafkaConfig is the article topic consumer.
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

func (k KafkaConfig) Validate() error {
	if !k.Enabled {
		return nil
	}
	if len(k.Brokers) == 0 {
		return fmt.Errorf("feed.kafka.brokers required when kafka is enabled")
	}
	if strings.TrimSpace(k.Topic) == "" {
		return fmt.Errorf("feed.kafka.topic required when kafka is enabled")
	}
	return nil
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Addr() string { return r.Host + ":" + r.Port }

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
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

// TelemetryConfig contains metrics settings
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

const (
	DefaultChatInstructions = "You are a news analyst. Answer the user's question using only the articles in the context. " +
		"Cite article titles and links when you rely on them. If the context reports that no supporting evidence was found, " +
		"say so plainly instead of guessing."
	DefaultSummaryInstructions = "You are a news analyst. Write a concise weekly briefing of the articles in the context, " +
		"grouping related stories and citing their titles. Do not mention stories that are not in the context."
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.debug", false)
	v.SetDefault("general.log_level", "info")
	v.SetDefault("general.data_dir", "data")

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.completion_model", "gpt-4o-mini")
	v.SetDefault("llm.embedding_model", "text-embedding-ada-002")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_tokens", 800)
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("llm.embed_rate_per_second", 5.0)
	v.SetDefault("llm.embed_batch_size", 64)

	v.SetDefault("embedding.type", "hashing")
	v.SetDefault("embedding.dimensions", 512)

	v.SetDefault("index.persist", "sqlite")
	v.SetDefault("index.sqlite_path", "")
	v.SetDefault("index.rebuild_on_startup", false)
	v.SetDefault("index.rebuild_cron", "0 7 * * *")

	v.SetDefault("retrieval.default_limit", 10)
	v.SetDefault("retrieval.max_limit", 50)
	v.SetDefault("retrieval.min_score", 0.0)
	v.SetDefault("retrieval.overfetch_factor", 3)
	v.SetDefault("retrieval.overfetch_min", 10)
	v.SetDefault("retrieval.lexical_fallback", true)

	v.SetDefault("context.token_budget", 3000)

	v.SetDefault("session.store", "inmemory")
	v.SetDefault("session.idle_timeout", 30*time.Minute)
	v.SetDefault("session.reap_interval", time.Minute)
	v.SetDefault("session.tombstone_ttl", 24*time.Hour)
	v.SetDefault("session.max_turns", 20)
	v.SetDefault("session.token_budget", 1500)

	v.SetDefault("chat.week", "all")
	v.SetDefault("chat.limit", 5)
	v.SetDefault("chat.instructions", DefaultChatInstructions)
	v.SetDefault("summary.instructions", DefaultSummaryInstructions)
	v.SetDefault("generation.retry_backoff", 500*time.Millisecond)

	v.SetDefault("articles.source", "files")
	v.SetDefault("articles.data_dir", "")
	v.SetDefault("articles.watch", false)
	v.SetDefault("articles.debounce", 2*time.Second)

	v.SetDefault("feed.kafka.enabled", false)
	v.SetDefault("feed.kafka.brokers", []string{})
	v.SetDefault("feed.kafka.topic", "articles")
	v.SetDefault("feed.kafka.group_id", "newsrag")

	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", "6379")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.timeout", 5*time.Second)
	v.SetDefault("storage.postgres.url", "")
	v.SetDefault("storage.postgres.host", "localhost")
	v.SetDefault("storage.postgres.port", "5432")
	v.SetDefault("storage.postgres.user", "newsrag")
	v.SetDefault("storage.postgres.password", "")
	v.SetDefault("storage.postgres.dbname", "newsrag")
	v.SetDefault("storage.postgres.sslmode", "disable")
	v.SetDefault("storage.postgres.timeout", 10*time.Second)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.metrics_port", 9464)
}

// Load reads configuration from path, or from the usual search locations when
// path is empty. A missing config file is not an error; defaults, .env and
// NEWSRAG_* environment variables still apply.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetConfigName("config")
	v.SetConfigType("json")
	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		if exe, err := os.Executable(); err == nil {
			exeDir := filepath.Dir(exe)
			v.AddConfigPath(exeDir)
			v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
		}
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("NEWSRAG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadConfig is Load for command entry points: it panics on error.
func LoadConfig(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	return cfg
}

// Normalize fills derived values.
func (c *Config) Normalize() {
	c.General.LogLevel = strings.ToLower(strings.TrimSpace(c.General.LogLevel))
	if c.Articles.DataDir == "" {
		c.Articles.DataDir = c.General.DataDir
	}
	if c.Index.SQLitePath == "" && c.Index.Persist == "sqlite" {
		c.Index.SQLitePath = filepath.Join(c.General.DataDir, "index.db")
	}
	if c.Chat.Limit <= 0 {
		c.Chat.Limit = c.Retrieval.DefaultLimit
	}
	if c.Chat.Limit > c.Retrieval.MaxLimit {
		c.Chat.Limit = c.Retrieval.MaxLimit
	}
	if strings.TrimSpace(c.Chat.Instructions) == "" {
		c.Chat.Instructions = DefaultChatInstructions
	}
	if strings.TrimSpace(c.Summary.Instructions) == "" {
		c.Summary.Instructions = DefaultSummaryInstructions
	}
	if c.Session.TombstoneTTL < c.Session.IdleTimeout {
		c.Session.TombstoneTTL = c.Session.IdleTimeout
	}
	if c.Context.TokenBudget <= 0 {
		c.Context.TokenBudget = 3000
	}
	if c.Generation.RetryBackoff < 0 {
		c.Generation.RetryBackoff = 0
	}
}

// Validate checks every section that is in use.
func (c *Config) Validate() error {
	checks := []func() error{
		c.LLM.Validate,
		c.Embedding.Validate,
		c.Index.Validate,
		c.Retrieval.Validate,
		c.Session.Validate,
		c.Articles.Validate,
		c.Feed.Kafka.Validate,
		c.Telemetry.Validate,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	if c.Session.Store == "redis" {
		if err := c.Storage.Redis.Validate(); err != nil {
			return err
		}
	}
	if c.Index.Persist == "postgres" || c.Articles.Source == "postgres" {
		if err := c.Storage.Postgres.Validate(); err != nil {
			return err
		}
	}
	if c.Embedding.Type == "provider" && strings.TrimSpace(c.LLM.APIKey) == "" {
		return fmt.Errorf("llm.api_key required when embedding.type is provider")
	}
	return nil
}
