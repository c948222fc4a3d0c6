package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "arbiter.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// The YAML path may be overridden with ARBITER_CONFIG.
func Load() (*Config, error) {
	path := DefaultConfigFile
	if p := os.Getenv("ARBITER_CONFIG"); p != "" {
		path = p
	}
	return LoadFrom(path)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: operator-supplied path
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	// A roles table in the file replaces the default routing instead of merging into it.
	var top map[string]yaml.Node
	if err := yaml.Unmarshal(data, &top); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if _, ok := top["roles"]; ok {
		cfg.Roles = nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "ARBITER_PORT")
	setString(&cfg.Server.CORSOrigin, "ARBITER_CORS_ORIGIN")
	setFloat64(&cfg.Server.Rate.RequestsPerSecond, "ARBITER_RATE_RPS")
	setInt(&cfg.Server.Rate.Burst, "ARBITER_RATE_BURST")

	setString(&cfg.Logging.Level, "ARBITER_LOG_LEVEL")
	setString(&cfg.Logging.Service, "ARBITER_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "ARBITER_LOG_ASYNC")

	// Dispatch
	setInt(&cfg.Dispatch.PoolSize, "ARBITER_POOL_SIZE")
	setInt(&cfg.Dispatch.MaxRetries, "ARBITER_MAX_RETRIES")
	setDuration(&cfg.Dispatch.CallTimeout, "ARBITER_CALL_TIMEOUT")
	setDuration(&cfg.Dispatch.RequestDeadline, "ARBITER_REQUEST_DEADLINE")
	setDuration(&cfg.Dispatch.BackoffInitial, "ARBITER_BACKOFF_INITIAL")
	setDuration(&cfg.Dispatch.BackoffMax, "ARBITER_BACKOFF_MAX")
	setInt(&cfg.Breaker.MaxFailures, "ARBITER_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "ARBITER_BREAKER_TIMEOUT")

	// Policy
	setFloat64(&cfg.Policy.RiskThreshold, "ARBITER_RISK_THRESHOLD")
	setFloat64(&cfg.Policy.DisagreementThreshold, "ARBITER_DISAGREEMENT_THRESHOLD")
	setFloat64(&cfg.Policy.ConfidenceThreshold, "ARBITER_CONFIDENCE_THRESHOLD")
	setString(&cfg.Policy.DisagreementMetric, "ARBITER_DISAGREEMENT_METRIC")
	setBool(&cfg.Policy.RequireHuman, "ARBITER_REQUIRE_HUMAN")

	setString(&cfg.Provenance.Backend, "ARBITER_PROVENANCE_BACKEND")
	setString(&cfg.Provenance.Path, "ARBITER_PROVENANCE_PATH")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "ARBITER_PG_MAX_CONNS")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.KVBucket, "ARBITER_NATS_KV_BUCKET")

	// Notification sinks
	setString(&cfg.Notify.SlackWebhookURL, "ARBITER_SLACK_WEBHOOK_URL")
	setString(&cfg.Notify.DiscordWebhookURL, "ARBITER_DISCORD_WEBHOOK_URL")
	setString(&cfg.Notify.WebhookURL, "ARBITER_WEBHOOK_URL")
	setString(&cfg.Notify.WebhookSecret, "ARBITER_WEBHOOK_SECRET")
	setString(&cfg.Notify.PublicURL, "ARBITER_PUBLIC_URL")
	setString(&cfg.Notify.SMTP.Host, "ARBITER_SMTP_HOST")
	setString(&cfg.Notify.SMTP.Username, "ARBITER_SMTP_USERNAME")
	setString(&cfg.Notify.SMTP.Password, "ARBITER_SMTP_PASSWORD")
	setString(&cfg.Notify.MinSeverity, "ARBITER_NOTIFY_MIN_SEVERITY")

	setBool(&cfg.OTEL.Enabled, "ARBITER_OTEL_ENABLED")
	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setBool(&cfg.MCP.Enabled, "ARBITER_MCP_ENABLED")
	setString(&cfg.MCP.APIKey, "ARBITER_MCP_API_KEY")

	setBool(&cfg.DryRun, "ARBITER_DRY_RUN")

	// Provider secrets: ARBITER_PROVIDER_<ID>_API_KEY, e.g. ARBITER_PROVIDER_CLAUDE_API_KEY.
	for i := range cfg.Providers {
		key := "ARBITER_PROVIDER_" + envToken(cfg.Providers[i].ID)
		setString(&cfg.Providers[i].APIKey, key+"_API_KEY")
		setString(&cfg.Providers[i].BaseURL, key+"_BASE_URL")
	}
}

// envToken upper-cases an identifier and replaces non-alphanumerics with '_'.
func envToken(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, id)
}

// validate checks that required fields are set and values are in range.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Server.Rate.Burst < 1 {
		return errors.New("server.rate.burst must be >= 1")
	}
	if cfg.Dispatch.PoolSize < 1 {
		return errors.New("dispatch.pool_size must be >= 1")
	}
	if cfg.Dispatch.MaxRetries < 0 {
		return errors.New("dispatch.max_retries must be >= 0")
	}
	if cfg.Dispatch.CallTimeout <= 0 || cfg.Dispatch.RequestDeadline <= 0 {
		return errors.New("dispatch timeouts must be positive")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Policy.RiskThreshold < 0 || cfg.Policy.RiskThreshold > 100 {
		return errors.New("policy.risk_threshold must be within [0,100]")
	}
	if cfg.Policy.ConfidenceThreshold < 0 || cfg.Policy.ConfidenceThreshold > 1 {
		return errors.New("policy.confidence_threshold must be within [0,1]")
	}
	if cfg.Policy.DisagreementThreshold < 0 || cfg.Policy.DisagreementThreshold > 1 {
		return errors.New("policy.disagreement_threshold must be within [0,1]")
	}
	switch cfg.Policy.DisagreementMetric {
	case "", "variance", "range":
	default:
		return fmt.Errorf("policy.disagreement_metric %q is not supported", cfg.Policy.DisagreementMetric)
	}
	for role, w := range cfg.Policy.RoleWeights {
		if w <= 0 {
			return fmt.Errorf("policy.role_weights[%s] must be > 0", role)
		}
	}

	ids := make(map[string]bool, len(cfg.Providers))
	for _, p := range cfg.Providers {
		if p.ID == "" {
			return errors.New("providers[].id is required")
		}
		if ids[p.ID] {
			return fmt.Errorf("provider %q declared twice", p.ID)
		}
		ids[p.ID] = true
	}
	for role, id := range cfg.Roles {
		if id != "" && !ids[id] {
			return fmt.Errorf("role %q routes to unknown provider %q", role, id)
		}
	}

	switch cfg.Notify.MinSeverity {
	case "", "info", "warning", "critical":
	default:
		return fmt.Errorf("notify.min_severity %q is not supported", cfg.Notify.MinSeverity)
	}

	switch cfg.Provenance.Backend {
	case "jsonl":
		if cfg.Provenance.Path == "" {
			return errors.New("provenance.path is required for the jsonl backend")
		}
	case "postgres":
		if cfg.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("provenance.backend %q is not supported", cfg.Provenance.Backend)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
