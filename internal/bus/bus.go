package bus

import (
	"log/slog"
	"sync"

	"linerelay/internal/domain"
)

// InMemoryQueue is a Go-channel based job queue connecting the webhook
// dispatcher to the reply coordinator.
type InMemoryQueue struct {
	jobs   chan domain.ReplyJob
	mu     sync.RWMutex
	closed bool
	logger *slog.Logger
}

// New creates a queue with the given buffer size.
func New(bufferSize int, logger *slog.Logger) *InMemoryQueue {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &InMemoryQueue{
		jobs:   make(chan domain.ReplyJob, bufferSize),
		logger: logger,
	}
}

// Publish offers a job to the queue and reports whether it was accepted.
// It never blocks past the channel buffer: a full or closed queue returns
// false immediately and the caller keeps responsibility for the reply
// token.
func (q *InMemoryQueue) Publish(job domain.ReplyJob) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.logger.Warn("publish to closed queue", "source", job.SourceID)
		return false
	}

	select {
	case q.jobs <- job:
		return true
	default:
		q.logger.Warn("job queue full, refusing job", "source", job.SourceID, "kind", job.EventKind)
		return false
	}
}

func (q *InMemoryQueue) Subscribe() <-chan domain.ReplyJob {
	return q.jobs
}

func (q *InMemoryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
}
