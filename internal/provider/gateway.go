package provider

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"linerelay/internal/domain"
	"linerelay/internal/metrics"
)

// Gateway adapts a Provider to the pipeline's no-fault contract: Infer
// never returns an error, every provider-level fault is folded into the
// result. The router and coordinator stay provider-agnostic behind it.
type Gateway struct {
	provider domain.Provider
	logger   *slog.Logger
}

func NewGateway(p domain.Provider, logger *slog.Logger) *Gateway {
	return &Gateway{provider: p, logger: logger}
}

var _ domain.Gateway = (*Gateway)(nil)

func (g *Gateway) Infer(ctx context.Context, req domain.InferenceRequest) domain.InferenceResult {
	start := time.Now()

	var (
		text string
		err  error
	)
	switch req.Kind {
	case domain.PromptText:
		text, err = g.provider.CompleteText(ctx, req.Text)
	case domain.PromptImage:
		text, err = g.provider.DescribeImage(ctx, req.Image, req.MimeType)
	default:
		return failure(domain.FailUnknown, "unrecognized prompt kind: "+string(req.Kind))
	}

	elapsed := time.Since(start)
	metrics.InferenceLatency.Observe(elapsed.Seconds())

	if err != nil {
		kind := classify(err)
		metrics.InferenceFailures(string(kind)).Inc()
		g.logger.Error("inference failed",
			"provider", g.provider.Name(),
			"kind", kind,
			"elapsed", elapsed,
			"err", err,
		)
		return failure(kind, err.Error())
	}

	text = strings.TrimSpace(text)
	if text == "" {
		metrics.InferenceFailures(string(domain.FailInvalidContent)).Inc()
		return failure(domain.FailInvalidContent, "provider returned an empty reply")
	}

	g.logger.Debug("inference ok", "provider", g.provider.Name(), "elapsed", elapsed, "reply_len", len(text))
	return domain.InferenceResult{ReplyText: text}
}

func failure(kind domain.FailureKind, detail string) domain.InferenceResult {
	return domain.InferenceResult{Failure: &domain.InferenceFailure{Kind: kind, Detail: detail}}
}
