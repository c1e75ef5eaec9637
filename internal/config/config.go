package config

import (
	"fmt"
	"net/url"
	"time"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Filter    FilterConfig    `yaml:"filter"`
	Routing   RoutingConfig   `yaml:"routing"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Chorus    ChorusConfig    `yaml:"chorus"`
	Chat      ChatConfig      `yaml:"chat"`
	Storage   StorageConfig   `yaml:"storage"`
}

type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Name            string        `yaml:"name"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// DSN returns URL when set, otherwise a postgres URL built from the parts.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:     "/" + d.Name,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

type RedisConfig struct {
	Addresses []string `yaml:"addresses"`
	Password  string   `yaml:"password"`
	DB        int      `yaml:"db"`
	PoolSize  int      `yaml:"pool_size"`
}

type TelemetryConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	MetricsPort int    `yaml:"metrics_port"`
}

type AuthConfig struct {
	Enabled bool `yaml:"enabled"`
}

type RateLimitConfig struct {
	DefaultRPM             int `yaml:"default_rpm"`
	DefaultDailyModelCalls int `yaml:"default_daily_model_calls"`
}

type FilterConfig struct {
	Secrets   SecretsFilterConfig   `yaml:"secrets"`
	Injection InjectionFilterConfig `yaml:"injection"`
	Policy    PolicyFilterConfig    `yaml:"policy"`
}

type SecretsFilterConfig struct {
	Enabled bool `yaml:"enabled"`
}

type InjectionFilterConfig struct {
	Enabled        bool    `yaml:"enabled"`
	BlockThreshold float64 `yaml:"block_threshold"`
	FlagThreshold  float64 `yaml:"flag_threshold"`
}

type PolicyFilterConfig struct {
	Enabled           bool          `yaml:"enabled"`
	BundlePath        string        `yaml:"bundle_path"`
	EvaluationTimeout time.Duration `yaml:"evaluation_timeout"`
}

type RoutingConfig struct {
	DefaultTimeout time.Duration        `yaml:"default_timeout"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

type CircuitBreakerConfig struct {
	FailureThreshold      int           `yaml:"failure_threshold"`
	RecoveryProbeInterval time.Duration `yaml:"recovery_probe_interval"`
}

type RetrievalConfig struct {
	DefaultRAGCount   int           `yaml:"default_rag_count"`
	Dimensions        int           `yaml:"dimensions"`
	EmbeddingCacheTTL time.Duration `yaml:"embedding_cache_ttl"`
	ChunkSentences    int           `yaml:"chunk_sentences"`
	ChunkOverlap      int           `yaml:"chunk_overlap"`
}

type ChorusConfig struct {
	ResponderTemperature float64 `yaml:"responder_temperature"`
	EvaluatorTemperature float64 `yaml:"evaluator_temperature"`
	// MaxParallel caps concurrent calls per fan-out stage. Zero means unbounded.
	MaxParallel int `yaml:"max_parallel"`
}

type ChatConfig struct {
	ImageSearch       ImageSearchConfig `yaml:"image_search"`
	ChartContextLimit int               `yaml:"chart_context_limit"`
	ImageQuality      string            `yaml:"image_quality"`
	ImageSize         string            `yaml:"image_size"`
}

type ImageSearchConfig struct {
	MinSimilarity float64 `yaml:"min_similarity"`
	MaxResults    int     `yaml:"max_results"`
	FetchCount    int     `yaml:"fetch_count"`
}

type StorageConfig struct {
	UploadDir      string `yaml:"upload_dir"`
	GeneratedDir   string `yaml:"generated_dir"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8080,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     300 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			Name:            "chorus",
			User:            "chorus",
			MaxOpenConns:    25,
			MaxIdleConns:    10,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addresses: []string{"localhost:6379"},
			PoolSize:  50,
		},
		Telemetry: TelemetryConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			MetricsPort: 9090,
		},
		Auth: AuthConfig{Enabled: true},
		RateLimit: RateLimitConfig{
			DefaultRPM:             60,
			DefaultDailyModelCalls: 5000,
		},
		Filter: FilterConfig{
			Secrets: SecretsFilterConfig{Enabled: true},
			Injection: InjectionFilterConfig{
				Enabled:        true,
				BlockThreshold: 0.9,
				FlagThreshold:  0.7,
			},
			Policy: PolicyFilterConfig{
				Enabled:           false,
				BundlePath:        "configs/policies",
				EvaluationTimeout: 100 * time.Millisecond,
			},
		},
		Routing: RoutingConfig{
			DefaultTimeout: 60 * time.Second,
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold:      5,
				RecoveryProbeInterval: 15 * time.Second,
			},
		},
		Retrieval: RetrievalConfig{
			DefaultRAGCount:   5,
			Dimensions:        1536,
			EmbeddingCacheTTL: 24 * time.Hour,
			ChunkSentences:    8,
			ChunkOverlap:      1,
		},
		Chorus: ChorusConfig{
			ResponderTemperature: 0.7,
			EvaluatorTemperature: 0.3,
		},
		Chat: ChatConfig{
			ImageSearch: ImageSearchConfig{
				MinSimilarity: 0.25,
				MaxResults:    3,
				FetchCount:    10,
			},
			ChartContextLimit: 5000,
			ImageQuality:      "medium",
			ImageSize:         "1024x1024",
		},
		Storage: StorageConfig{
			UploadDir:      "data/uploads",
			GeneratedDir:   "data/generated",
			MaxUploadBytes: 32 << 20,
		},
	}
}
