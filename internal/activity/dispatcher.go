// ABOUTME: Asynchronous, bounded dispatcher for activity-log entries
// ABOUTME: Records run on a background worker; failures are logged and never reach the caller

package activity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/coven-chat/internal/store"
)

// Sink persists a single activity entry
type Sink interface {
	RecordActivity(ctx context.Context, entry *store.ActivityEntry) error
}

// Dispatcher queues activity entries and writes them to a Sink from a single
// worker goroutine. Record never blocks: when the queue is full the entry is
// dropped with a warning.
type Dispatcher struct {
	sink    Sink
	queue   chan *store.ActivityEntry
	timeout time.Duration
	logger  *slog.Logger

	mu       sync.RWMutex
	closed   bool
	done     chan struct{}
	closeOne sync.Once
}

// NewDispatcher creates a dispatcher and starts its worker.
// Call Close to drain pending entries and stop the worker.
func NewDispatcher(sink Sink, queueSize int, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	d := &Dispatcher{
		sink:    sink,
		queue:   make(chan *store.ActivityEntry, queueSize),
		timeout: timeout,
		logger:  logger.With("component", "activity"),
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

// Record enqueues an entry. It reports whether the entry was accepted.
func (d *Dispatcher) Record(entry *store.ActivityEntry) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.logger.Warn("activity dropped after close",
			"entity_type", entry.EntityType,
			"entity_id", entry.EntityID)
		return false
	}

	select {
	case d.queue <- entry:
		return true
	default:
		d.logger.Warn("activity queue full, dropping entry",
			"entity_type", entry.EntityType,
			"entity_id", entry.EntityID,
			"user_id", entry.UserID)
		return false
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for entry := range d.queue {
		d.write(entry)
	}
}

func (d *Dispatcher) write(entry *store.ActivityEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := d.sink.RecordActivity(ctx, entry); err != nil {
		d.logger.Warn("failed to record activity",
			"error", err,
			"entity_type", entry.EntityType,
			"entity_id", entry.EntityID,
			"user_id", entry.UserID)
		return
	}
	d.logger.Debug("activity recorded",
		"entity_type", entry.EntityType,
		"entity_id", entry.EntityID,
		"action", entry.Action)
}

// Close stops accepting entries and waits for the queue to drain or ctx to end.
// It is safe to call multiple times.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.closeOne.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
	})

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
