// Package static provides a canned provider for dry runs and local testing.
// It never leaves the process.
package static

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Strob0t/arbiter/internal/domain/decision"
	"github.com/Strob0t/arbiter/internal/port/provider"
)

const kind = "static"

func init() {
	provider.Register(kind, func(cfg provider.Config) (provider.Provider, error) {
		return NewProvider(cfg)
	})
}

// Provider returns the same verdict for every prompt.
type Provider struct {
	id    string
	reply string
	delay time.Duration
	fail  decision.ErrorKind
}

// NewProvider reads the options "recommendation" (default approve),
// "confidence" (default 0.85), "rationale", "delay" (duration) and "fail"
// (an error kind returned on every call).
func NewProvider(cfg provider.Config) (*Provider, error) {
	rec := cfg.Options["recommendation"]
	if rec == "" {
		rec = string(decision.Approve)
	}
	conf := 0.85
	if v, ok := cfg.Options["confidence"]; ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("static provider %s: confidence: %w", cfg.ID, err)
		}
		conf = f
	}
	rationale := cfg.Options["rationale"]
	if rationale == "" {
		rationale = "dry run: static provider verdict"
	}

	reply, err := json.Marshal(map[string]any{
		"recommendation": rec,
		"confidence":     conf,
		"rationale":      rationale,
	})
	if err != nil {
		return nil, fmt.Errorf("static provider %s: %w", cfg.ID, err)
	}

	p := &Provider{id: cfg.ID, reply: string(reply), fail: decision.ErrorKind(cfg.Options["fail"])}
	if v, ok := cfg.Options["delay"]; ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("static provider %s: delay: %w", cfg.ID, err)
		}
		p.delay = d
	}
	return p, nil
}

// DryRun returns the provider used to stand in for id when dry-run mode is on.
func DryRun(id string) *Provider {
	p, _ := NewProvider(provider.Config{ID: id})
	return p
}

func (p *Provider) ID() string { return p.id }

func (p *Provider) Invoke(ctx context.Context, _ string, timeout time.Duration) (string, error) {
	if p.delay > 0 {
		timer := time.NewTimer(p.delay)
		defer timer.Stop()
		deadline := time.NewTimer(timeout)
		defer deadline.Stop()
		select {
		case <-timer.C:
		case <-deadline.C:
			return "", provider.NewError(decision.ErrProviderTimeout, p.id, errors.New("static delay exceeded call timeout"))
		case <-ctx.Done():
			return "", provider.NewError(decision.ErrProviderTimeout, p.id, ctx.Err())
		}
	}
	if p.fail != "" {
		return "", provider.NewError(p.fail, p.id, errors.New("configured failure"))
	}
	return p.reply, nil
}
