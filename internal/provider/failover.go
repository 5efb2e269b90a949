package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"linerelay/internal/domain"
)

// Failover tries multiple providers in order, moving to the next one when
// the current call fails with a retryable kind (unavailable, rate-limited,
// timed out). Content-level failures are returned immediately: a prompt the
// first provider rejected as invalid will not fare better elsewhere.
type Failover struct {
	providers []domain.Provider
	logger    *slog.Logger
}

// NewFailover creates a failover chain. At least one provider is required.
func NewFailover(providers []domain.Provider, logger *slog.Logger) *Failover {
	return &Failover{providers: providers, logger: logger}
}

var _ domain.Provider = (*Failover)(nil)

func (f *Failover) Name() string {
	names := make([]string, len(f.providers))
	for i, p := range f.providers {
		names[i] = p.Name()
	}
	return "failover(" + strings.Join(names, ",") + ")"
}

func (f *Failover) Healthy(ctx context.Context) error {
	for _, p := range f.providers {
		if err := p.Healthy(ctx); err == nil {
			return nil
		}
	}
	return fmt.Errorf("no healthy provider in failover chain")
}

func (f *Failover) CompleteText(ctx context.Context, prompt string) (string, error) {
	return f.attempt(ctx, func(p domain.Provider) (string, error) {
		return p.CompleteText(ctx, prompt)
	})
}

func (f *Failover) DescribeImage(ctx context.Context, image []byte, mimeType string) (string, error) {
	return f.attempt(ctx, func(p domain.Provider) (string, error) {
		return p.DescribeImage(ctx, image, mimeType)
	})
}

func (f *Failover) attempt(ctx context.Context, call func(domain.Provider) (string, error)) (string, error) {
	var lastErr error
	for i, p := range f.providers {
		if ctx.Err() != nil {
			break
		}
		text, err := call(p)
		if err == nil {
			if i > 0 {
				f.logger.Info("failover succeeded", "provider", p.Name(), "attempt", i+1)
			}
			return text, nil
		}
		lastErr = err
		if !retryable(classify(err)) {
			return "", err
		}
		f.logger.Warn("provider failed, trying next", "provider", p.Name(), "err", err)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("failover: no providers configured")
	}
	return "", lastErr
}
