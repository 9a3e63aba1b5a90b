package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrQueueFull   = errors.New("notification queue is full")
	ErrQueueClosed = errors.New("notification queue is closed")
)

// Queue is a bounded in-process outbox of intents. Emit never blocks: when
// the buffer is full the intent is rejected so producers are not slowed down
// by a stalled consumer.
type Queue struct {
	ch     chan Intent
	mu     sync.RWMutex
	closed bool
	now    func() time.Time
}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 1
	}
	return &Queue{
		ch:  make(chan Intent, size),
		now: time.Now,
	}
}

// Emit enqueues the intent, assigning an id and timestamp when missing.
func (q *Queue) Emit(ctx context.Context, in Intent) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = q.now().UTC()
	}

	select {
	case q.ch <- in:
		return nil
	default:
		return ErrQueueFull
	}
}

// Intents is the consumer side of the queue. It is closed by Close.
func (q *Queue) Intents() <-chan Intent {
	return q.ch
}

func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops accepting intents. Buffered intents remain readable.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}
