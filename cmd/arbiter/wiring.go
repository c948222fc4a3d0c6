package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Strob0t/arbiter/internal/adapter/jsonl"
	"github.com/Strob0t/arbiter/internal/adapter/postgres"
	"github.com/Strob0t/arbiter/internal/adapter/static"
	"github.com/Strob0t/arbiter/internal/config"
	"github.com/Strob0t/arbiter/internal/domain/consensus"
	"github.com/Strob0t/arbiter/internal/domain/decision"
	"github.com/Strob0t/arbiter/internal/domain/escalation"
	"github.com/Strob0t/arbiter/internal/port/eventstore"
	"github.com/Strob0t/arbiter/internal/port/notifier"
	"github.com/Strob0t/arbiter/internal/port/provider"
	"github.com/Strob0t/arbiter/internal/resilience"
	"github.com/Strob0t/arbiter/internal/service"
)

// openStore opens the configured provenance backend.
func openStore(ctx context.Context, cfg *config.Config) (eventstore.Store, error) {
	switch cfg.Provenance.Backend {
	case "", "jsonl":
		s, err := jsonl.Open(cfg.Provenance.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown provenance backend %q", cfg.Provenance.Backend)
	}
}

// buildBindings instantiates every configured provider. In dry-run mode
// each one is replaced by a static stand-in with the same id.
func buildBindings(cfg *config.Config) ([]service.ProviderBinding, error) {
	bindings := make([]service.ProviderBinding, 0, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		var (
			p   provider.Provider
			err error
		)
		if cfg.DryRun {
			p = static.DryRun(pc.ID)
		} else {
			p, err = provider.New(pc.Kind, provider.Config{
				ID:        pc.ID,
				Model:     pc.Model,
				BaseURL:   pc.BaseURL,
				APIKey:    pc.APIKey,
				MaxTokens: pc.MaxTokens,
				Options:   pc.Options,
			})
			if err != nil {
				return nil, fmt.Errorf("provider %s: %w", pc.ID, err)
			}
		}
		bindings = append(bindings, service.ProviderBinding{Provider: p, RateLimit: pc.RateLimit, Burst: pc.Burst})
	}
	return bindings, nil
}

func capabilityTable(roles map[string]string) decision.CapabilityTable {
	table := make(decision.CapabilityTable, len(roles))
	for role, id := range roles {
		table[decision.Role(role)] = id
	}
	return table
}

func buildPolicy(p config.Policy) escalation.Policy {
	return escalation.Policy{
		RiskThreshold:         p.RiskThreshold,
		DisagreementThreshold: p.DisagreementThreshold,
		ConfidenceThreshold:   p.ConfidenceThreshold,
		DisagreementMetric:    consensus.ParseMetric(p.DisagreementMetric),
		RoleWeights:           p.RoleWeights,
		VetoRoles:             p.VetoRoles,
		VetoConfidence:        p.VetoConfidence,
		RequireHuman:          p.RequireHuman,
	}
}

func dispatchConfig(cfg *config.Config) service.DispatchConfig {
	return service.DispatchConfig{
		PoolSize:        cfg.Dispatch.PoolSize,
		MaxRetries:      cfg.Dispatch.MaxRetries,
		CallTimeout:     cfg.Dispatch.CallTimeout,
		RequestDeadline: cfg.Dispatch.RequestDeadline,
		Backoff: resilience.BackoffPolicy{
			Initial:    cfg.Dispatch.BackoffInitial,
			Max:        cfg.Dispatch.BackoffMax,
			Multiplier: 2,
			Jitter:     0.2,
		},
	}
}

// notifierConfigs maps the notify section onto registry settings. Sinks
// without their required settings are skipped by notifier.Build.
func notifierConfigs(n config.Notify) map[string]map[string]string {
	return map[string]map[string]string{
		"slack":   {"webhook_url": n.SlackWebhookURL},
		"discord": {"webhook_url": n.DiscordWebhookURL},
		"webhook": {"url": n.WebhookURL, "secret": n.WebhookSecret},
		"email": {
			"host":     n.SMTP.Host,
			"port":     n.SMTP.Port,
			"username": n.SMTP.Username,
			"password": n.SMTP.Password,
			"from":     n.SMTP.From,
			"to":       strings.Join(n.SMTP.To, ","),
		},
	}
}

func buildNotifications(n config.Notify) (*service.NotificationService, error) {
	notifiers, err := notifier.Build(notifierConfigs(n))
	if err != nil {
		return nil, fmt.Errorf("notifiers: %w", err)
	}
	names := make([]string, 0, len(notifiers))
	for _, nt := range notifiers {
		names = append(names, nt.Name())
	}
	slog.Info("notifiers configured", "sinks", names, "min_severity", n.MinSeverity)
	return service.NewNotificationService(notifiers, notifier.Level(n.MinSeverity), n.Timeout), nil
}
