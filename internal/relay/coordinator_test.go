package relay

import (
	"context"
	"sync"
	"testing"
	"time"

	"linerelay/internal/bus"
	"linerelay/internal/domain"
)

// fakeGateway returns a canned result and counts invocations.
type fakeGateway struct {
	mu     sync.Mutex
	calls  int
	result domain.InferenceResult
	delay  time.Duration
}

func (g *fakeGateway) Infer(ctx context.Context, req domain.InferenceRequest) domain.InferenceResult {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	if g.delay > 0 {
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
		}
	}
	return g.result
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// fakeSender records every Send and signals each one.
type fakeSender struct {
	mu       sync.Mutex
	sends    []sentReply
	outcome  domain.ReplyOutcome
	notified chan struct{}
}

type sentReply struct {
	token string
	text  string
}

func newFakeSender(delivered bool) *fakeSender {
	return &fakeSender{
		outcome:  domain.ReplyOutcome{Delivered: delivered},
		notified: make(chan struct{}, 16),
	}
}

func (s *fakeSender) Send(ctx context.Context, replyToken, text string) domain.ReplyOutcome {
	s.mu.Lock()
	s.sends = append(s.sends, sentReply{token: replyToken, text: text})
	s.mu.Unlock()
	s.notified <- struct{}{}
	return s.outcome
}

func (s *fakeSender) snapshot() []sentReply {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentReply(nil), s.sends...)
}

func (s *fakeSender) waitForSend(t *testing.T) {
	t.Helper()
	select {
	case <-s.notified:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a reply send")
	}
}

func startCoordinator(t *testing.T, gateway domain.Gateway, sender domain.ReplySender) (*Coordinator, context.CancelFunc) {
	t.Helper()
	queue := bus.New(16, testLogger())
	c := NewCoordinator(CoordinatorConfig{
		Queue:   queue,
		Gateway: gateway,
		Sender:  sender,
		Logger:  testLogger(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	go c.Run(ctx)
	t.Cleanup(func() {
		cancel()
		queue.Close()
	})
	return c, cancel
}

func TestCoordinator_SuccessfulTextReply(t *testing.T) {
	gateway := &fakeGateway{result: domain.InferenceResult{ReplyText: "hi back"}}
	sender := newFakeSender(true)
	c, _ := startCoordinator(t, gateway, sender)

	c.Submit(domain.ReplyJob{
		ReplyToken: "tok-1",
		SourceID:   "U1",
		EventKind:  domain.EventText,
		Request:    domain.InferenceRequest{Kind: domain.PromptText, Text: "hi"},
		Received:   time.Now(),
	})

	sender.waitForSend(t)
	sends := sender.snapshot()
	if len(sends) != 1 {
		t.Fatalf("expected exactly one send, got %d", len(sends))
	}
	if sends[0].token != "tok-1" || sends[0].text != "hi back" {
		t.Errorf("unexpected send: %+v", sends[0])
	}
	if gateway.callCount() != 1 {
		t.Errorf("expected one inference call, got %d", gateway.callCount())
	}
}

func TestCoordinator_FallbackOnInferenceFailure(t *testing.T) {
	gateway := &fakeGateway{result: domain.InferenceResult{
		Failure: &domain.InferenceFailure{Kind: domain.FailProviderUnavailable, Detail: "upstream 503: secret internals"},
	}}
	sender := newFakeSender(true)
	c, _ := startCoordinator(t, gateway, sender)

	c.Submit(domain.ReplyJob{
		ReplyToken: "tok-2",
		SourceID:   "U2",
		EventKind:  domain.EventText,
		Request:    domain.InferenceRequest{Kind: domain.PromptText, Text: "hi"},
	})

	sender.waitForSend(t)
	sends := sender.snapshot()
	if sends[0].text != fallbackTextReply {
		t.Errorf("expected generic fallback, got %q", sends[0].text)
	}
}

func TestCoordinator_RateLimitedFallback(t *testing.T) {
	gateway := &fakeGateway{result: domain.InferenceResult{
		Failure: &domain.InferenceFailure{Kind: domain.FailRateLimited, Detail: "429"},
	}}
	sender := newFakeSender(true)
	c, _ := startCoordinator(t, gateway, sender)

	c.Submit(domain.ReplyJob{
		ReplyToken: "tok-3",
		SourceID:   "U3",
		EventKind:  domain.EventText,
		Request:    domain.InferenceRequest{Kind: domain.PromptText, Text: "hi"},
	})

	sender.waitForSend(t)
	if got := sender.snapshot()[0].text; got != fallbackBusyReply {
		t.Errorf("rate limit should get the busy fallback, got %q", got)
	}
}

func TestCoordinator_ShortCircuitJobSkipsGateway(t *testing.T) {
	gateway := &fakeGateway{result: domain.InferenceResult{ReplyText: "never used"}}
	sender := newFakeSender(true)
	c, _ := startCoordinator(t, gateway, sender)

	c.Submit(domain.ReplyJob{
		ReplyToken: "tok-4",
		SourceID:   "U4",
		EventKind:  domain.EventImage,
		Failure:    &domain.InferenceFailure{Kind: domain.FailInvalidContent, Detail: "fetch failed: 404"},
	})

	sender.waitForSend(t)
	if gateway.callCount() != 0 {
		t.Errorf("pre-failed job must not reach the gateway, got %d calls", gateway.callCount())
	}
	if got := sender.snapshot()[0].text; got != fallbackImageReply {
		t.Errorf("expected image fallback, got %q", got)
	}
}

func TestCoordinator_FailedSendIsTerminal(t *testing.T) {
	gateway := &fakeGateway{result: domain.InferenceResult{ReplyText: "late"}}
	sender := newFakeSender(false)
	c, _ := startCoordinator(t, gateway, sender)

	c.Submit(domain.ReplyJob{
		ReplyToken: "expired",
		SourceID:   "U5",
		EventKind:  domain.EventText,
		Request:    domain.InferenceRequest{Kind: domain.PromptText, Text: "hi"},
	})

	sender.waitForSend(t)
	// Give the coordinator a moment to misbehave if it were going to retry.
	time.Sleep(100 * time.Millisecond)
	if got := len(sender.snapshot()); got != 1 {
		t.Errorf("a failed send must not be retried, got %d sends", got)
	}
}

func TestCoordinator_ConcurrentJobsIndependent(t *testing.T) {
	gateway := &fakeGateway{result: domain.InferenceResult{ReplyText: "ok"}, delay: 50 * time.Millisecond}
	sender := newFakeSender(true)
	c, _ := startCoordinator(t, gateway, sender)

	const n = 6
	for i := 0; i < n; i++ {
		c.Submit(domain.ReplyJob{
			ReplyToken: "tok",
			SourceID:   "U",
			EventKind:  domain.EventText,
			Request:    domain.InferenceRequest{Kind: domain.PromptText, Text: "hi"},
		})
	}

	for i := 0; i < n; i++ {
		sender.waitForSend(t)
	}
	if got := len(sender.snapshot()); got != n {
		t.Errorf("every job must produce exactly one send, got %d for %d jobs", got, n)
	}
	if gateway.callCount() != n {
		t.Errorf("every job must run inference once, got %d", gateway.callCount())
	}
}

func TestCoordinator_RecorderReceivesOutcome(t *testing.T) {
	gateway := &fakeGateway{result: domain.InferenceResult{ReplyText: "ok"}}
	sender := newFakeSender(true)
	rec := &capturingRecorder{arrived: make(chan struct{}, 1)}

	queue := bus.New(16, testLogger())
	c := NewCoordinator(CoordinatorConfig{
		Queue:    queue,
		Gateway:  gateway,
		Sender:   sender,
		Recorder: rec,
		Logger:   testLogger(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	go c.Run(ctx)
	defer func() {
		cancel()
		queue.Close()
	}()

	c.Submit(domain.ReplyJob{
		ReplyToken: "tok",
		SourceID:   "U9",
		EventKind:  domain.EventText,
		Request:    domain.InferenceRequest{Kind: domain.PromptText, Text: "hi"},
	})

	select {
	case <-rec.arrived:
	case <-time.After(2 * time.Second):
		t.Fatal("recorder never saw the outcome")
	}
	got := rec.snapshot()[0]
	if got.SourceID != "U9" || got.ResultKind != "success" || !got.Delivered {
		t.Errorf("unexpected record: %+v", got)
	}
}

func TestCoordinator_QueueFullBusyReply(t *testing.T) {
	gateway := &fakeGateway{result: domain.InferenceResult{ReplyText: "ok"}}
	sender := newFakeSender(true)

	// No Run loop: nothing consumes the single-slot queue.
	queue := bus.New(1, testLogger())
	defer queue.Close()
	c := NewCoordinator(CoordinatorConfig{
		Queue:   queue,
		Gateway: gateway,
		Sender:  sender,
		Logger:  testLogger(),
	})

	c.Submit(domain.ReplyJob{
		ReplyToken: "queued",
		SourceID:   "U1",
		EventKind:  domain.EventText,
		Request:    domain.InferenceRequest{Kind: domain.PromptText, Text: "hi"},
	})

	start := time.Now()
	c.Submit(domain.ReplyJob{
		ReplyToken: "overflow",
		SourceID:   "U2",
		EventKind:  domain.EventText,
		Request:    domain.InferenceRequest{Kind: domain.PromptText, Text: "hi"},
	})
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("Submit must not block on a full queue, took %v", elapsed)
	}

	// The refused event still gets an answer: the busy fallback.
	sender.waitForSend(t)
	sends := sender.snapshot()
	if len(sends) != 1 {
		t.Fatalf("expected exactly one send for the refused job, got %d", len(sends))
	}
	if sends[0].token != "overflow" || sends[0].text != fallbackBusyReply {
		t.Errorf("expected busy fallback on the overflow token, got %+v", sends[0])
	}
	if gateway.callCount() != 0 {
		t.Errorf("refused job must not reach the gateway, got %d calls", gateway.callCount())
	}
}

func TestCoordinator_ShutdownNotBlockedBySaturation(t *testing.T) {
	release := make(chan struct{})
	gateway := &holdingGateway{release: release, started: make(chan struct{})}
	sender := newFakeSender(true)

	queue := bus.New(16, testLogger())
	c := NewCoordinator(CoordinatorConfig{
		Queue:       queue,
		Gateway:     gateway,
		Sender:      sender,
		Logger:      testLogger(),
		Concurrency: 1,
	})
	ctx, cancel := context.WithCancel(context.Background())

	runDone := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(runDone)
	}()

	// First job occupies the only slot; second leaves Run waiting on it.
	c.Submit(domain.ReplyJob{ReplyToken: "a", SourceID: "U1", EventKind: domain.EventText})
	c.Submit(domain.ReplyJob{ReplyToken: "b", SourceID: "U2", EventKind: domain.EventText})

	<-gateway.started
	cancel()

	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Run must stop promptly even with the semaphore saturated")
	}

	close(release)
	queue.Close()
}

// holdingGateway blocks every Infer call until released, ignoring the
// context to model an inference call that outlives shutdown.
type holdingGateway struct {
	release   chan struct{}
	started   chan struct{}
	startOnce sync.Once
}

func (g *holdingGateway) Infer(ctx context.Context, req domain.InferenceRequest) domain.InferenceResult {
	g.startOnce.Do(func() { close(g.started) })
	<-g.release
	return domain.InferenceResult{ReplyText: "late"}
}

type capturingRecorder struct {
	mu      sync.Mutex
	records []OutcomeRecord
	arrived chan struct{}
}

func (r *capturingRecorder) Record(ctx context.Context, rec OutcomeRecord) {
	r.mu.Lock()
	r.records = append(r.records, rec)
	r.mu.Unlock()
	r.arrived <- struct{}{}
}

func (r *capturingRecorder) snapshot() []OutcomeRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]OutcomeRecord(nil), r.records...)
}
