package config

import (
	"flag"
	"fmt"
	"io"
	"os"
)

// CLIFlags holds command-line overrides. Nil fields were not set.
type CLIFlags struct {
	ConfigPath   *string
	Port         *string
	LogLevel     *string
	Provenance   *string
	NatsURL      *string
	DryRun       *bool
	RequireHuman *bool
}

// ParseFlags parses serve-mode flags. Only flags present on the command
// line are returned as non-nil so they can win over ENV selectively.
func ParseFlags(args []string) (CLIFlags, error) {
	fs := flag.NewFlagSet("arbiter", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configPath, port, logLevel, provenance, natsURL string
		dryRun, requireHuman                            bool
	)
	fs.StringVar(&configPath, "config", "", "path to YAML config")
	fs.StringVar(&configPath, "c", "", "path to YAML config (shorthand)")
	fs.StringVar(&port, "port", "", "HTTP listen port")
	fs.StringVar(&port, "p", "", "HTTP listen port (shorthand)")
	fs.StringVar(&logLevel, "log-level", "", "log level")
	fs.StringVar(&provenance, "provenance", "", "JSONL provenance log path")
	fs.StringVar(&natsURL, "nats-url", "", "NATS server URL")
	fs.BoolVar(&dryRun, "dry-run", false, "answer every role with a static provider")
	fs.BoolVar(&requireHuman, "require-human", false, "send every approval to human review")

	if err := fs.Parse(args); err != nil {
		return CLIFlags{}, fmt.Errorf("parse flags: %w", err)
	}

	var out CLIFlags
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "config", "c":
			out.ConfigPath = &configPath
		case "port", "p":
			out.Port = &port
		case "log-level":
			out.LogLevel = &logLevel
		case "provenance":
			out.Provenance = &provenance
		case "nats-url":
			out.NatsURL = &natsURL
		case "dry-run":
			out.DryRun = &dryRun
		case "require-human":
			out.RequireHuman = &requireHuman
		}
	})
	return out, nil
}

// LoadWithCLI loads defaults < YAML < ENV < flags and returns the config
// together with the YAML path that was consulted.
func LoadWithCLI(flags CLIFlags) (*Config, string, error) {
	path := DefaultConfigFile
	if p := os.Getenv("ARBITER_CONFIG"); p != "" {
		path = p
	}
	if flags.ConfigPath != nil {
		path = *flags.ConfigPath
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, path); err != nil {
		return nil, path, fmt.Errorf("config yaml: %w", err)
	}
	loadEnv(&cfg)
	applyCLI(&cfg, flags)

	if err := validate(&cfg); err != nil {
		return nil, path, fmt.Errorf("config validate: %w", err)
	}
	return &cfg, path, nil
}

func applyCLI(cfg *Config, flags CLIFlags) {
	if flags.Port != nil {
		cfg.Server.Port = *flags.Port
	}
	if flags.LogLevel != nil {
		cfg.Logging.Level = *flags.LogLevel
	}
	if flags.Provenance != nil {
		cfg.Provenance.Backend = "jsonl"
		cfg.Provenance.Path = *flags.Provenance
	}
	if flags.NatsURL != nil {
		cfg.NATS.URL = *flags.NatsURL
	}
	if flags.DryRun != nil {
		cfg.DryRun = *flags.DryRun
	}
	if flags.RequireHuman != nil {
		cfg.Policy.RequireHuman = *flags.RequireHuman
	}
}
