package relay

import (
	"context"
	"log/slog"
	"time"

	"linerelay/internal/domain"
	"linerelay/internal/metrics"
)

const (
	defaultConcurrency = 4
	defaultJobTimeout  = 30 * time.Second
	replySendTimeout   = 10 * time.Second
)

// OutcomeRecord is one terminal pipeline result, kept for observability.
type OutcomeRecord struct {
	SourceID   string
	EventKind  domain.EventKind
	ResultKind string // "success" or a failure kind
	Delivered  bool
	Latency    time.Duration
	When       time.Time
}

// OutcomeRecorder persists terminal outcomes. Implementations must never
// block the reply path for long or fail loudly; the journal is advisory.
type OutcomeRecorder interface {
	Record(ctx context.Context, rec OutcomeRecord)
}

// Coordinator detaches inference from the webhook request cycle. Submit
// enqueues and returns; Run consumes jobs with bounded concurrency. Every
// job moves Pending -> Inferring -> Replying and produces exactly one Send
// call, carrying either the inference text or a fixed fallback. A failed
// Send is terminal: the token is single-use and may already be expired, so
// there is nothing useful to retry.
type Coordinator struct {
	queue       domain.JobQueue
	gateway     domain.Gateway
	sender      domain.ReplySender
	recorder    OutcomeRecorder // optional
	logger      *slog.Logger
	concurrency int
	jobTimeout  time.Duration
}

type CoordinatorConfig struct {
	Queue       domain.JobQueue
	Gateway     domain.Gateway
	Sender      domain.ReplySender
	Recorder    OutcomeRecorder
	Logger      *slog.Logger
	Concurrency int
	JobTimeout  time.Duration
}

func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = defaultJobTimeout
	}
	return &Coordinator{
		queue:       cfg.Queue,
		gateway:     cfg.Gateway,
		sender:      cfg.Sender,
		recorder:    cfg.Recorder,
		logger:      cfg.Logger,
		concurrency: cfg.Concurrency,
		jobTimeout:  cfg.JobTimeout,
	}
}

var _ domain.Coordinator = (*Coordinator)(nil)

// Submit schedules a job and returns immediately. No caller ever joins the
// background work; its only output is the Send call it eventually makes.
// When the queue refuses the job the token is still live, so the user gets
// the busy fallback instead of silence.
func (c *Coordinator) Submit(job domain.ReplyJob) {
	if c.queue.Publish(job) {
		return
	}

	c.logger.Warn("job queue full, replying busy",
		"source", job.SourceID,
		"event", job.EventKind,
	)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), replySendTimeout)
		defer cancel()
		outcome := c.sender.Send(ctx, job.ReplyToken, FallbackText(job.EventKind, domain.FailRateLimited))
		if c.recorder != nil {
			c.recorder.Record(ctx, OutcomeRecord{
				SourceID:   job.SourceID,
				EventKind:  job.EventKind,
				ResultKind: string(domain.FailRateLimited),
				Delivered:  outcome.Delivered,
				When:       time.Now(),
			})
		}
	}()
}

// Run consumes jobs until ctx is cancelled or the queue closes. Jobs run on
// independent goroutines and share no mutable state; each owns its token,
// request, and result.
func (c *Coordinator) Run(ctx context.Context) {
	c.logger.Info("reply coordinator started", "concurrency", c.concurrency)

	sem := make(chan struct{}, c.concurrency)
	jobs := c.queue.Subscribe()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("reply coordinator stopping")
			return
		case job, ok := <-jobs:
			if !ok {
				c.logger.Info("job queue closed, reply coordinator stopping")
				return
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				c.logger.Info("reply coordinator stopping")
				return
			}
			go func(j domain.ReplyJob) {
				defer func() { <-sem }()
				c.process(ctx, j)
			}(job)
		}
	}
}

func (c *Coordinator) process(ctx context.Context, job domain.ReplyJob) {
	metrics.JobsInFlight.Inc()
	defer metrics.JobsInFlight.Dec()

	start := time.Now()

	var result domain.InferenceResult
	if job.Failure != nil {
		// Dispatcher already knows the outcome (e.g. content fetch
		// failed); skip inference entirely.
		result = domain.InferenceResult{Failure: job.Failure}
	} else {
		inferCtx, cancel := context.WithTimeout(ctx, c.jobTimeout)
		result = c.gateway.Infer(inferCtx, job.Request)
		cancel()
	}

	text := result.ReplyText
	resultKind := "success"
	if !result.OK() {
		resultKind = string(result.Failure.Kind)
		text = FallbackText(job.EventKind, result.Failure.Kind)
		c.logger.Warn("replying with fallback",
			"source", job.SourceID,
			"event", job.EventKind,
			"kind", result.Failure.Kind,
			"detail", result.Failure.Detail,
		)
	}

	sendCtx, cancel := context.WithTimeout(ctx, replySendTimeout)
	outcome := c.sender.Send(sendCtx, job.ReplyToken, text)
	cancel()

	latency := time.Since(start)
	c.logger.Info("job finished",
		"source", job.SourceID,
		"event", job.EventKind,
		"result", resultKind,
		"delivered", outcome.Delivered,
		"latency", latency,
	)

	if c.recorder != nil {
		c.recorder.Record(ctx, OutcomeRecord{
			SourceID:   job.SourceID,
			EventKind:  job.EventKind,
			ResultKind: resultKind,
			Delivered:  outcome.Delivered,
			Latency:    latency,
			When:       start,
		})
	}
}
