package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for qbank.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Loop      LoopConfig      `mapstructure:"loop"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Queue     QueueConfig     `mapstructure:"queue"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
	LogMode  string `mapstructure:"log_mode"` // development or production
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address        string `mapstructure:"address"`
	JWTSecret      string `mapstructure:"jwt_secret"`
	MaxUploadMB    int    `mapstructure:"max_upload_mb"`
	SyncGeneration bool   `mapstructure:"sync_generation"`
}

// LLMConfig contains LLM provider configurations
type LLMConfig struct {
	Providers map[string]LLMProvider `mapstructure:"providers"`
	Routing   LLMRoutingConfig       `mapstructure:"routing"`
}

// LLMProvider represents a single LLM provider configuration
type LLMProvider struct {
	Type       string              `mapstructure:"type"` // openai, gemini, mock
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Models     map[string]LLMModel `mapstructure:"models"`
	MaxRetries int                 `mapstructure:"max_retries"`
	Timeout    time.Duration       `mapstructure:"timeout"`
}

// LLMModel represents a specific model configuration
type LLMModel struct {
	APIName     string  `mapstructure:"api_name"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

// LLMRoutingConfig picks a "provider.model" pair per role.
type LLMRoutingConfig struct {
	Planning   string `mapstructure:"planning"`
	Generation string `mapstructure:"generation"`
	Auditing   string `mapstructure:"auditing"`
	Classify   string `mapstructure:"classify"`
	Embedding  string `mapstructure:"embedding"`
}

// Route is a resolved routing entry.
type Route struct {
	Provider string
	Model    string
	Settings LLMModel
}

// Resolve splits a "provider.model" routing value and looks both up. A bare
// provider name is accepted when the provider declares exactly one model.
func (c LLMConfig) Resolve(ref string) (Route, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Route{}, fmt.Errorf("llm routing entry is empty")
	}
	name, model, _ := strings.Cut(ref, ".")
	p, ok := c.Providers[name]
	if !ok {
		return Route{}, fmt.Errorf("llm provider %q not configured", name)
	}
	if model == "" {
		if len(p.Models) != 1 {
			return Route{}, fmt.Errorf("llm routing %q must name a model", ref)
		}
		for k := range p.Models {
			model = k
		}
	}
	m, ok := p.Models[model]
	if !ok {
		return Route{}, fmt.Errorf("llm model %q not configured for provider %q", model, name)
	}
	if m.APIName == "" {
		m.APIName = model
	}
	return Route{Provider: name, Model: model, Settings: m}, nil
}

func (c LLMConfig) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("llm.providers must declare at least one provider")
	}
	for name, p := range c.Providers {
		switch strings.ToLower(p.Type) {
		case "openai", "gemini", "mock":
		default:
			return fmt.Errorf("llm.providers.%s.type %q unknown (openai|gemini|mock)", name, p.Type)
		}
	}
	for role, ref := range map[string]string{
		"planning":   c.Routing.Planning,
		"generation": c.Routing.Generation,
		"auditing":   c.Routing.Auditing,
		"embedding":  c.Routing.Embedding,
	} {
		if _, err := c.Resolve(ref); err != nil {
			return fmt.Errorf("llm.routing.%s: %w", role, err)
		}
	}
	return nil
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	MetricsPort  int    `mapstructure:"metrics_port"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && t.MetricsPort <= 0 {
		return fmt.Errorf("telemetry.metrics_port must be > 0 when telemetry is enabled")
	}
	return nil
}

// StorageConfig contains storage settings
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether a Redis endpoint is configured. Without one the
// embedding cache is skipped and generation runs synchronously.
func (r RedisConfig) Enabled() bool { return strings.TrimSpace(r.Host) != "" }

func (r RedisConfig) Validate() error {
	if r.Enabled() && strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required when host is set")
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
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// IngestConfig controls chunking, embedding batches, URL fetching and the
// PII consent gate.
type IngestConfig struct {
	ChunkSize          int           `mapstructure:"chunk_size"`
	Overlap            int           `mapstructure:"overlap"`
	EmbedBatchSize     int           `mapstructure:"embed_batch_size"`
	UploadDir          string        `mapstructure:"upload_dir"`
	FetchTimeout       time.Duration `mapstructure:"fetch_timeout"`
	RenderJS           bool          `mapstructure:"render_js"`
	MaxChars           int           `mapstructure:"max_chars"`
	PIIConsentRequired bool          `mapstructure:"pii_consent_required"`
}

func (c IngestConfig) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("ingest.chunk_size must be > 0")
	}
	if c.Overlap < 0 || c.Overlap >= c.ChunkSize {
		return fmt.Errorf("ingest.overlap must be in [0, chunk_size)")
	}
	return nil
}

// RetrievalConfig controls syllabus bootstrap and context assembly.
type RetrievalConfig struct {
	TopK                int                 `mapstructure:"top_k"`
	MinImportance       int                 `mapstructure:"min_importance"`
	MaxTotalCtx         int                 `mapstructure:"max_total_ctx"`
	IncludeSamplePapers bool                `mapstructure:"include_sample_papers"`
	SyllabusQueries     []string            `mapstructure:"syllabus_queries"`
	SyllabusK           int                 `mapstructure:"syllabus_k"`
	Concurrency         int                 `mapstructure:"concurrency"`
	Anchors             map[string][]string `mapstructure:"anchors"`
}

func (c RetrievalConfig) Validate() error {
	if c.TopK <= 0 || c.MaxTotalCtx <= 0 {
		return fmt.Errorf("retrieval.top_k and retrieval.max_total_ctx must be > 0")
	}
	if c.MinImportance < 1 || c.MinImportance > 5 {
		return fmt.Errorf("retrieval.min_importance must be in [1, 5]")
	}
	return nil
}

// LoopConfig controls the generate/audit loop.
type LoopConfig struct {
	MaxIters          int           `mapstructure:"max_iters"`
	QuantityFloor     int           `mapstructure:"quantity_floor"`
	CallTimeout       time.Duration `mapstructure:"call_timeout"`
	SchemaErrorPolicy string        `mapstructure:"schema_error_policy"`
}

func (c LoopConfig) Validate() error {
	if c.MaxIters <= 0 {
		return fmt.Errorf("loop.max_iters must be > 0")
	}
	switch strings.ToLower(c.SchemaErrorPolicy) {
	case "", "abort", "retry":
	default:
		return fmt.Errorf("loop.schema_error_policy %q unknown (abort|retry)", c.SchemaErrorPolicy)
	}
	return nil
}

// CacheConfig controls the Redis embedding cache.
type CacheConfig struct {
	EmbeddingTTL time.Duration `mapstructure:"embedding_ttl"`
}

// QueueConfig controls the generation job stream.
type QueueConfig struct {
	Stream string        `mapstructure:"stream"`
	Group  string        `mapstructure:"group"`
	Block  time.Duration `mapstructure:"block"`
	Count  int64         `mapstructure:"count"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.log_level", "info")
	v.SetDefault("general.log_mode", "development")
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.max_upload_mb", 50)
	v.SetDefault("telemetry.metrics_port", 9464)
	v.SetDefault("ingest.chunk_size", 1000)
	v.SetDefault("ingest.overlap", 200)
	v.SetDefault("ingest.embed_batch_size", 64)
	v.SetDefault("ingest.upload_dir", "data/uploads")
	v.SetDefault("ingest.fetch_timeout", 30*time.Second)
	v.SetDefault("ingest.max_chars", 200000)
	v.SetDefault("ingest.pii_consent_required", true)
	v.SetDefault("retrieval.top_k", 8)
	v.SetDefault("retrieval.min_importance", 1)
	v.SetDefault("retrieval.max_total_ctx", 120)
	v.SetDefault("retrieval.include_sample_papers", true)
	v.SetDefault("retrieval.syllabus_queries", []string{"Course outcomes", "Syllabus", "Module", "Unit"})
	v.SetDefault("retrieval.syllabus_k", 3)
	v.SetDefault("retrieval.concurrency", 4)
	v.SetDefault("loop.max_iters", 4)
	v.SetDefault("loop.quantity_floor", 10)
	v.SetDefault("loop.call_timeout", 90*time.Second)
	v.SetDefault("loop.schema_error_policy", "abort")
	v.SetDefault("cache.embedding_ttl", 7*24*time.Hour)
	v.SetDefault("queue.stream", "qbank:generations")
	v.SetDefault("queue.group", "qbank-workers")
	v.SetDefault("queue.block", 5*time.Second)
	v.SetDefault("queue.count", 1)
}

// Load reads configuration from path (or the default search paths when path
// is empty) and QBANK_ environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")
	setDefaults(v)

	if path == "" {
		v.AddConfigPath("./app/config")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		v.AddConfigPath(exeDir)                                // bin/
		v.AddConfigPath(filepath.Join(exeDir, ".."))           // repo root
		v.AddConfigPath(filepath.Join(exeDir, "..", "config")) // repo root/config
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("QBANK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	for _, check := range []func() error{
		cfg.LLM.Validate,
		cfg.Telemetry.Validate,
		cfg.Storage.Postgres.Validate,
		cfg.Storage.Redis.Validate,
		cfg.Ingest.Validate,
		cfg.Retrieval.Validate,
		cfg.Loop.Validate,
	} {
		if err := check(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

// LoadConfig loads config from file and panics on failure.
func LoadConfig(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	return cfg
}
