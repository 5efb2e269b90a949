package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"linerelay/internal/config"
	"linerelay/internal/domain"
)

// Factory builds providers from configuration. All providers share one
// pooled HTTP client.
type Factory struct {
	cfg    *config.Config
	client *http.Client
	logger *slog.Logger
}

func NewFactory(cfg *config.Config, logger *slog.Logger) *Factory {
	return &Factory{
		cfg:    cfg,
		client: SharedHTTPClient(defaultHTTPTimeout),
		logger: logger,
	}
}

// Get returns the named provider, or an error if unknown or disabled.
func (f *Factory) Get(name string) (domain.Provider, error) {
	pc, ok := f.cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	if !pc.Enabled {
		return nil, fmt.Errorf("provider disabled: %s", name)
	}

	switch name {
	case "openai":
		return NewOpenAI(OpenAIConfig{
			APIKey:      pc.APIKey,
			APIBase:     pc.APIBase,
			TextModel:   pc.TextModel,
			VisionModel: pc.VisionModel,
			Client:      f.client,
			Logger:      f.logger,
		}), nil
	case "claude":
		return NewClaude(ClaudeConfig{
			APIKey:      pc.APIKey,
			APIURL:      pc.APIBase,
			TextModel:   pc.TextModel,
			VisionModel: pc.VisionModel,
			Client:      f.client,
			Logger:      f.logger,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", name)
	}
}

// Default returns the provider the relay should use: the configured
// failover chain when present, otherwise the single default provider.
func (f *Factory) Default() (domain.Provider, error) {
	if len(f.cfg.Relay.FailoverChain) > 0 {
		var chain []domain.Provider
		for _, name := range f.cfg.Relay.FailoverChain {
			p, err := f.Get(name)
			if err != nil {
				f.logger.Warn("skipping provider in failover chain", "provider", name, "err", err)
				continue
			}
			chain = append(chain, p)
		}
		if len(chain) == 0 {
			return nil, fmt.Errorf("failover chain has no usable providers")
		}
		if len(chain) == 1 {
			return chain[0], nil
		}
		return NewFailover(chain, f.logger), nil
	}
	return f.Get(f.cfg.Relay.DefaultProvider)
}

// HealthyProvider returns the first configured provider that passes its
// health check, or nil. Used by diagnostics.
func (f *Factory) HealthyProvider(ctx context.Context) domain.Provider {
	for name := range f.cfg.Providers {
		p, err := f.Get(name)
		if err != nil {
			continue
		}
		if err := p.Healthy(ctx); err == nil {
			return p
		}
	}
	return nil
}
