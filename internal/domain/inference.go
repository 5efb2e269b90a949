package domain

import "fmt"

// PromptKind discriminates the two inference request shapes.
type PromptKind string

const (
	PromptText  PromptKind = "text"
	PromptImage PromptKind = "image"
)

// InferenceRequest is owned by the single pipeline invocation that created
// it and is never shared across events.
type InferenceRequest struct {
	Kind     PromptKind
	Text     string // PromptText
	Image    []byte // PromptImage
	MimeType string // PromptImage
}

// FailureKind classifies provider-level faults.
type FailureKind string

const (
	FailProviderUnavailable FailureKind = "provider_unavailable"
	FailRateLimited         FailureKind = "rate_limited"
	FailInvalidContent      FailureKind = "invalid_content"
	FailTimeout             FailureKind = "timeout"
	FailUnknown             FailureKind = "unknown"
)

// InferenceFailure carries the failure class and the raw provider detail.
// Detail is for logs only and must never reach the end user.
type InferenceFailure struct {
	Kind   FailureKind
	Detail string
}

func (f *InferenceFailure) Error() string {
	return fmt.Sprintf("inference %s: %s", f.Kind, f.Detail)
}

// InferenceResult is either a success carrying reply text or a failure.
type InferenceResult struct {
	ReplyText string
	Failure   *InferenceFailure
}

func (r InferenceResult) OK() bool { return r.Failure == nil }
