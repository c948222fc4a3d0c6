// Package claude adapts the Anthropic Messages API to the provider port.
package claude

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/Strob0t/arbiter/internal/domain/decision"
	"github.com/Strob0t/arbiter/internal/port/provider"
)

const kind = "anthropic"

const defaultMaxTokens = 1024

func init() {
	provider.Register(kind, func(cfg provider.Config) (provider.Provider, error) {
		return NewProvider(cfg)
	})
}

// Provider answers advisory prompts with a Claude model.
type Provider struct {
	id        string
	model     anthropic.Model
	maxTokens int64
	system    string
	inner     anthropic.Client
}

// NewProvider builds a Claude-backed provider. The SDK's own retries are
// disabled; the dispatcher owns retry and backoff. The "system" option sets
// a system prompt.
func NewProvider(cfg provider.Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic provider %s: api key is required", cfg.ID)
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := anthropic.Model(cfg.Model)
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_5_20250929
	}
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	return &Provider{
		id:        cfg.ID,
		model:     model,
		maxTokens: maxTokens,
		system:    cfg.Options["system"],
		inner:     anthropic.NewClient(opts...),
	}, nil
}

func (p *Provider) ID() string { return p.id }

// Invoke sends prompt as one user turn and concatenates the text blocks of
// the reply.
func (p *Provider) Invoke(ctx context.Context, prompt string, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	params := anthropic.MessageNewParams{
		Model:     p.model,
		MaxTokens: p.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if p.system != "" {
		params.System = []anthropic.TextBlockParam{{Text: p.system}}
	}

	resp, err := p.inner.Messages.New(ctx, params)
	if err != nil {
		return "", p.classify(ctx, err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(text.Text)
		}
	}
	out := sb.String()
	if strings.TrimSpace(out) == "" {
		return "", provider.NewError(decision.ErrProviderInvalidResponse, p.id, errors.New("no text content in reply"))
	}
	return out, nil
}

func (p *Provider) classify(ctx context.Context, err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return provider.NewError(provider.KindForStatus(apiErr.StatusCode), p.id, err)
	}
	if ctx.Err() != nil {
		return provider.NewError(decision.ErrProviderTimeout, p.id, err)
	}
	return provider.NewError(provider.Classify(err), p.id, err)
}
