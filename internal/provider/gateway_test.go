package provider

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"testing"

	"linerelay/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// stubProvider returns canned answers and errors per call kind.
type stubProvider struct {
	name     string
	textResp string
	textErr  error
	imgResp  string
	imgErr   error
	calls    int
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Healthy(ctx context.Context) error { return nil }

func (s *stubProvider) CompleteText(ctx context.Context, prompt string) (string, error) {
	s.calls++
	return s.textResp, s.textErr
}

func (s *stubProvider) DescribeImage(ctx context.Context, image []byte, mimeType string) (string, error) {
	s.calls++
	return s.imgResp, s.imgErr
}

func TestGateway_TextSuccess(t *testing.T) {
	g := NewGateway(&stubProvider{name: "stub", textResp: "a reply"}, testLogger())

	res := g.Infer(context.Background(), domain.InferenceRequest{Kind: domain.PromptText, Text: "hi"})
	if !res.OK() {
		t.Fatalf("expected success, got %+v", res.Failure)
	}
	if res.ReplyText != "a reply" {
		t.Errorf("unexpected reply: %q", res.ReplyText)
	}
}

func TestGateway_ImageSuccess(t *testing.T) {
	g := NewGateway(&stubProvider{name: "stub", imgResp: "a cat"}, testLogger())

	res := g.Infer(context.Background(), domain.InferenceRequest{
		Kind: domain.PromptImage, Image: []byte{1}, MimeType: "image/jpeg",
	})
	if !res.OK() || res.ReplyText != "a cat" {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestGateway_NeverReturnsRawError(t *testing.T) {
	g := NewGateway(&stubProvider{
		name:    "stub",
		textErr: &apiError{provider: "stub", status: 503, body: "internal stack trace"},
	}, testLogger())

	res := g.Infer(context.Background(), domain.InferenceRequest{Kind: domain.PromptText, Text: "hi"})
	if res.OK() {
		t.Fatal("expected a failure result")
	}
	if res.Failure.Kind != domain.FailProviderUnavailable {
		t.Errorf("503 should classify as provider_unavailable, got %s", res.Failure.Kind)
	}
	if res.ReplyText != "" {
		t.Errorf("failed inference must not carry reply text, got %q", res.ReplyText)
	}
}

func TestGateway_RateLimited(t *testing.T) {
	g := NewGateway(&stubProvider{
		name:    "stub",
		textErr: &apiError{provider: "stub", status: http.StatusTooManyRequests, body: "slow down"},
	}, testLogger())

	res := g.Infer(context.Background(), domain.InferenceRequest{Kind: domain.PromptText, Text: "hi"})
	if res.OK() || res.Failure.Kind != domain.FailRateLimited {
		t.Errorf("expected rate_limited, got %+v", res)
	}
}

func TestGateway_Timeout(t *testing.T) {
	g := NewGateway(&stubProvider{name: "stub", textErr: context.DeadlineExceeded}, testLogger())

	res := g.Infer(context.Background(), domain.InferenceRequest{Kind: domain.PromptText, Text: "hi"})
	if res.OK() || res.Failure.Kind != domain.FailTimeout {
		t.Errorf("expected timeout, got %+v", res)
	}
}

func TestGateway_EmptyReplyIsFailure(t *testing.T) {
	g := NewGateway(&stubProvider{name: "stub", textResp: "   \n "}, testLogger())

	res := g.Infer(context.Background(), domain.InferenceRequest{Kind: domain.PromptText, Text: "hi"})
	if res.OK() {
		t.Fatal("whitespace-only reply must be a failure")
	}
	if res.Failure.Kind != domain.FailInvalidContent {
		t.Errorf("expected invalid_content, got %s", res.Failure.Kind)
	}
}

func TestGateway_UnknownPromptKind(t *testing.T) {
	g := NewGateway(&stubProvider{name: "stub"}, testLogger())

	res := g.Infer(context.Background(), domain.InferenceRequest{Kind: "audio"})
	if res.OK() || res.Failure.Kind != domain.FailUnknown {
		t.Errorf("expected unknown failure, got %+v", res)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want domain.FailureKind
	}{
		{"deadline", context.DeadlineExceeded, domain.FailTimeout},
		{"429", &apiError{status: 429}, domain.FailRateLimited},
		{"400", &apiError{status: 400}, domain.FailInvalidContent},
		{"413", &apiError{status: 413}, domain.FailInvalidContent},
		{"415", &apiError{status: 415}, domain.FailInvalidContent},
		{"422", &apiError{status: 422}, domain.FailInvalidContent},
		{"401", &apiError{status: 401}, domain.FailProviderUnavailable},
		{"403", &apiError{status: 403}, domain.FailProviderUnavailable},
		{"500", &apiError{status: 500}, domain.FailProviderUnavailable},
		{"503", &apiError{status: 503}, domain.FailProviderUnavailable},
		{"418", &apiError{status: 418}, domain.FailUnknown},
		{"opaque", errors.New("something odd"), domain.FailUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := classify(tc.err); got != tc.want {
				t.Errorf("classify(%v) = %s, want %s", tc.err, got, tc.want)
			}
		})
	}
}
