package litellm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Strob0t/arbiter/internal/domain/decision"
	"github.com/Strob0t/arbiter/internal/port/provider"
)

const kind = "litellm"

const defaultBaseURL = "http://localhost:4000"

func init() {
	provider.Register(kind, func(cfg provider.Config) (provider.Provider, error) {
		return NewProvider(cfg)
	})
}

// Provider answers advisory prompts through a LiteLLM model.
type Provider struct {
	id          string
	model       string
	maxTokens   int
	temperature *float64
	jsonMode    bool
	client      *Client
}

// NewProvider builds a LiteLLM-backed provider. Recognised options are
// "temperature" (float) and "json_mode" (bool).
func NewProvider(cfg provider.Config) (*Provider, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("litellm provider %s: model is required", cfg.ID)
	}
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	p := &Provider{
		id:        cfg.ID,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		client:    NewClient(strings.TrimRight(base, "/"), cfg.APIKey),
	}
	if v, ok := cfg.Options["temperature"]; ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("litellm provider %s: temperature: %w", cfg.ID, err)
		}
		p.temperature = &f
	}
	if v, ok := cfg.Options["json_mode"]; ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("litellm provider %s: json_mode: %w", cfg.ID, err)
		}
		p.jsonMode = b
	}
	return p, nil
}

func (p *Provider) ID() string { return p.id }

// Invoke sends prompt as a single user message and returns the first choice.
func (p *Provider) Invoke(ctx context.Context, prompt string, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := ChatRequest{
		Model:       p.model,
		Messages:    []Message{{Role: "user", Content: prompt}},
		MaxTokens:   p.maxTokens,
		Temperature: p.temperature,
	}
	if p.jsonMode {
		req.ResponseFormat = &ResponseFormat{Type: "json_object"}
	}

	resp, err := p.client.ChatCompletion(ctx, req)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return "", provider.NewError(provider.KindForStatus(apiErr.StatusCode), p.id, err)
		}
		if ctx.Err() != nil {
			return "", provider.NewError(decision.ErrProviderTimeout, p.id, err)
		}
		var synErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &synErr) || errors.As(err, &typeErr) {
			return "", provider.NewError(decision.ErrProviderInvalidResponse, p.id, err)
		}
		return "", provider.NewError(provider.Classify(err), p.id, err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", provider.NewError(decision.ErrProviderInvalidResponse, p.id, errors.New("empty completion"))
	}
	return resp.Choices[0].Message.Content, nil
}
