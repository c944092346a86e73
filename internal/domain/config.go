package domain

import "time"

// Config holds the complete FraudSentry configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines feature availability
	Tier Tier `json:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Scoring collaborators
	Agent      AgentConfig      `json:"agent"`
	Enrichment EnrichmentConfig `json:"enrichment"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// AgentConfig holds the agent investigator settings.
// An empty APIKey selects the mock backend.
type AgentConfig struct {
	APIKey  string        `json:"-"`
	Model   string        `json:"model"`
	BaseURL string        `json:"baseUrl"`
	Timeout time.Duration `json:"timeout"`

	// FuseSimulated lets mock assessments take part in fusion.
	FuseSimulated bool `json:"fuseSimulated"`

	// Outbound LLM call limits
	RequestsPerSecond float64 `json:"requestsPerSecond"`
	MaxToolRounds     int     `json:"maxToolRounds"`
}

// EnrichmentConfig holds the explanation/insight generator settings.
type EnrichmentConfig struct {
	Enabled bool          `json:"enabled"` // use the LLM generator; templates otherwise
	Timeout time.Duration `json:"timeout"`
}

// Scoring time budgets.
const (
	DefaultAgentTimeout      = 2000 * time.Millisecond
	DefaultEnrichmentTimeout = 800 * time.Millisecond
)

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:         "sqlite",
			SQLitePath:     "./fraudsentry.db",
			ConnectTimeout: 30 * time.Second,
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     AnalysisCacheTTL,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Agent: AgentConfig{
			Model:             "gpt-4o-mini",
			Timeout:           DefaultAgentTimeout,
			RequestsPerSecond: 5,
			MaxToolRounds:     4,
		},
		Enrichment: EnrichmentConfig{
			Timeout: DefaultEnrichmentTimeout,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "fraudsentry",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:         "postgres",
		PostgresHost:   "localhost",
		PostgresPort:   5432,
		PostgresDB:     "fraudsentry",
		ConnectTimeout: 60 * time.Second,
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       AnalysisCacheTTL,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
