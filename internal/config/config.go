// Package config provides hierarchical configuration loading for Arbiter.
// Precedence: defaults < YAML file < environment variables < CLI flags.
package config

import "time"

// Config holds all runtime configuration for the Arbiter decision service.
type Config struct {
	Server     Server            `yaml:"server"`
	Logging    Logging           `yaml:"logging"`
	Dispatch   Dispatch          `yaml:"dispatch"`
	Breaker    Breaker           `yaml:"breaker"`
	Policy     Policy            `yaml:"policy"`
	Roles      map[string]string `yaml:"roles"` // role -> provider id
	Providers  []Provider        `yaml:"providers"`
	Provenance Provenance        `yaml:"provenance"`
	Postgres   Postgres          `yaml:"postgres"`
	NATS       NATS              `yaml:"nats"`
	Notify     Notify            `yaml:"notify"`
	OTEL       OTEL              `yaml:"otel"`
	MCP        MCP               `yaml:"mcp"`
	DryRun     bool              `yaml:"dry_run"`
}

// Server holds HTTP server configuration.
type Server struct {
	Port           string        `yaml:"port"`
	CORSOrigin     string        `yaml:"cors_origin"`
	Rate           Rate          `yaml:"rate"`
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl"`
}

// Rate holds the per-IP HTTP rate limiter configuration.
type Rate struct {
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
	MaxIdleTime       time.Duration `yaml:"max_idle_time"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
	Async   bool   `yaml:"async"`
	Buffer  int    `yaml:"buffer"`
	Workers int    `yaml:"workers"`
}

// Dispatch controls fan-out of subtasks to providers.
type Dispatch struct {
	PoolSize        int           `yaml:"pool_size"`
	MaxRetries      int           `yaml:"max_retries"`
	CallTimeout     time.Duration `yaml:"call_timeout"`
	RequestDeadline time.Duration `yaml:"request_deadline"`
	BackoffInitial  time.Duration `yaml:"backoff_initial"`
	BackoffMax      time.Duration `yaml:"backoff_max"`
}

// Breaker holds per-provider circuit breaker configuration.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Policy holds escalation thresholds and consensus weighting.
type Policy struct {
	RiskThreshold         float64            `yaml:"risk_threshold"`
	DisagreementThreshold float64            `yaml:"disagreement_threshold"`
	ConfidenceThreshold   float64            `yaml:"confidence_threshold"`
	DisagreementMetric    string             `yaml:"disagreement_metric"` // "variance" | "range"
	RoleWeights           map[string]float64 `yaml:"role_weights"`
	VetoRoles             []string           `yaml:"veto_roles"`
	VetoConfidence        float64            `yaml:"veto_confidence"`
	RequireHuman          bool               `yaml:"require_human"`
}

// Provider describes one advisory provider instance.
type Provider struct {
	ID        string            `yaml:"id"`
	Kind      string            `yaml:"kind"` // "litellm" | "anthropic" | "static"
	Model     string            `yaml:"model"`
	BaseURL   string            `yaml:"base_url"`
	APIKey    string            `yaml:"api_key"`
	MaxTokens int               `yaml:"max_tokens"`
	RateLimit float64           `yaml:"rate_limit"` // calls per second, 0 = unlimited
	Burst     int               `yaml:"burst"`
	Options   map[string]string `yaml:"options"`
}

// Provenance selects and configures the audit log backend.
type Provenance struct {
	Backend    string `yaml:"backend"` // "jsonl" | "postgres"
	Path       string `yaml:"path"`
	CacheBytes int64  `yaml:"cache_bytes"` // L1 history cache budget, 0 disables caching
}

// Postgres holds PostgreSQL connection configuration.
type Postgres struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
	HealthCheck     time.Duration `yaml:"health_check"`
}

// NATS holds NATS JetStream configuration. An empty URL disables the bus.
type NATS struct {
	URL      string        `yaml:"url"`
	Stream   string        `yaml:"stream"`
	KVBucket string        `yaml:"kv_bucket"` // shared history cache; empty disables it
	KVTTL    time.Duration `yaml:"kv_ttl"`
}

// Notify configures escalation notification sinks.
type Notify struct {
	MinSeverity       string        `yaml:"min_severity"` // "info" | "warning" | "critical"
	Timeout           time.Duration `yaml:"timeout"`
	SlackWebhookURL   string        `yaml:"slack_webhook_url"`
	DiscordWebhookURL string        `yaml:"discord_webhook_url"`
	WebhookURL        string        `yaml:"webhook_url"`
	WebhookSecret     string        `yaml:"webhook_secret"` // signs outgoing and verifies inbound hooks
	PublicURL         string        `yaml:"public_url"`     // base for resolve links in alerts
	SMTP              SMTP          `yaml:"smtp"`
}

// SMTP holds email notifier settings.
type SMTP struct {
	Host     string   `yaml:"host"`
	Port     string   `yaml:"port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

// OTEL holds OpenTelemetry exporter configuration.
type OTEL struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	Insecure    bool    `yaml:"insecure"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// MCP toggles the Model Context Protocol endpoint.
type MCP struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	APIKey  string `yaml:"api_key"` // empty disables auth
}

// Defaults returns a Config with sensible default values for local development.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:       "8080",
			CORSOrigin: "http://localhost:3000",
			Rate: Rate{
				RequestsPerSecond: 10,
				Burst:             50,
				CleanupInterval:   time.Minute,
				MaxIdleTime:       3 * time.Minute,
			},
			IdempotencyTTL: 24 * time.Hour,
		},
		Logging: Logging{
			Level:   "info",
			Service: "arbiter",
			Buffer:  4096,
			Workers: 2,
		},
		Dispatch: Dispatch{
			PoolSize:        8,
			MaxRetries:      2,
			CallTimeout:     20 * time.Second,
			RequestDeadline: 45 * time.Second,
			BackoffInitial:  200 * time.Millisecond,
			BackoffMax:      5 * time.Second,
		},
		Breaker: Breaker{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		},
		Policy: Policy{
			RiskThreshold:         50,
			DisagreementThreshold: 0.05,
			ConfidenceThreshold:   0.7,
			DisagreementMetric:    "variance",
			VetoConfidence:        0.8,
		},
		Roles: map[string]string{
			"analysis": "gpt",
			"copy":     "gpt",
			"pricing":  "gpt",
			"safety":   "claude",
		},
		Providers: []Provider{
			{ID: "gpt", Kind: "litellm", Model: "openai/gpt-4o-mini", BaseURL: "http://localhost:4000", MaxTokens: 1024},
			{ID: "claude", Kind: "anthropic", Model: "claude-sonnet-4-5", MaxTokens: 1024},
		},
		Provenance: Provenance{
			Backend:    "jsonl",
			Path:       "data/provenance.jsonl",
			CacheBytes: 64 << 20,
		},
		Postgres: Postgres{
			MaxConns:        10,
			MinConns:        1,
			MaxConnLifetime: time.Hour,
			MaxConnIdleTime: 10 * time.Minute,
			HealthCheck:     time.Minute,
		},
		NATS: NATS{
			Stream:   "ARBITER",
			KVBucket: "arbiter_history",
			KVTTL:    time.Hour,
		},
		Notify: Notify{
			MinSeverity: "warning",
			Timeout:     5 * time.Second,
			SMTP:        SMTP{Port: "587"},
		},
		OTEL: OTEL{
			Endpoint:    "localhost:4317",
			ServiceName: "arbiter",
			Insecure:    true,
			SampleRate:  1.0,
		},
		MCP: MCP{
			Enabled: true,
			Path:    "/mcp",
		},
	}
}
