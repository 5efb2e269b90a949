package domain

import (
	"context"
	"fmt"
	"time"
)

// Provider is the interface all inference providers must implement.
type Provider interface {
	Name() string
	CompleteText(ctx context.Context, prompt string) (string, error)
	DescribeImage(ctx context.Context, image []byte, mimeType string) (string, error)
	Healthy(ctx context.Context) error
}

// Gateway shields the pipeline from provider faults: Infer never returns an
// error, every fault is folded into the result's Failure.
type Gateway interface {
	Infer(ctx context.Context, req InferenceRequest) InferenceResult
}

// FetchErrorCode classifies content-delivery failures.
type FetchErrorCode string

const (
	FetchBadStatus FetchErrorCode = "bad_status"
	FetchTimeout   FetchErrorCode = "timeout"
)

// FetchError reports a failed content download. Status is the HTTP status
// when Code is FetchBadStatus, zero otherwise.
type FetchError struct {
	Code   FetchErrorCode
	Status int
}

func (e *FetchError) Error() string {
	if e.Code == FetchBadStatus {
		return fmt.Sprintf("content fetch: status %d", e.Status)
	}
	return "content fetch: " + string(e.Code)
}

// ContentFetcher downloads the bytes behind a binary-attachment identifier.
// A single attempt with a bounded wait; no retries (the platform webhook
// redelivery is the only retry mechanism).
type ContentFetcher interface {
	Fetch(ctx context.Context, contentID string) (data []byte, mimeType string, err error)
}

// ReplyOutcome records whether a reply reached the platform. Logged and
// counted, never retried.
type ReplyOutcome struct {
	Delivered bool
	Detail    string
}

// ReplySender wraps the platform reply API. A reply token is single-use, so
// Send is a single attempt regardless of outcome.
type ReplySender interface {
	Send(ctx context.Context, replyToken, text string) ReplyOutcome
}

// ReplyJob is one unit of background work: run inference (unless the job
// short-circuited at dispatch) and deliver exactly one reply.
type ReplyJob struct {
	ReplyToken string
	SourceID   string
	EventKind  EventKind
	Request    InferenceRequest
	// Failure short-circuits inference when the dispatcher already knows
	// the outcome (e.g. the image download failed).
	Failure  *InferenceFailure
	Received time.Time
}

// JobQueue decouples the webhook acknowledgement from the slow inference
// path. Publish must never block past the queue's buffer; it reports
// whether the job was accepted, and a refused job stays the caller's
// responsibility (the reply token is still live).
type JobQueue interface {
	Publish(job ReplyJob) bool
	Subscribe() <-chan ReplyJob
	Close()
}

// Coordinator accepts one unit of work per accepted event. Submit returns
// immediately; the eventual reply (success or fallback) happens on a
// background task that no HTTP caller ever joins.
type Coordinator interface {
	Submit(job ReplyJob)
}
