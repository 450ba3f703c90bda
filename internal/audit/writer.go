package audit

import (
	"context"
	"sync"
	"time"
)

// defaultQueueSize is the audit write buffer. At 256 pending entries the
// writer starts dropping rather than applying backpressure to requests.
const defaultQueueSize = 256

// writeTimeout bounds each SQLite insert performed by the drain goroutine.
const writeTimeout = 5 * time.Second

// Logger defines the logging interface used by the Writer.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger discards all log output.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Writer records audit entries asynchronously. Handlers enqueue without
// blocking; a single goroutine drains the queue into the repository, so
// audit writes never contend with request transactions for the SQLite
// writer slot. A full queue drops the entry and warns — the audit trail
// is best-effort, requests are not.
//
// Thread Safety: Record and Close are safe for concurrent use.
type Writer struct {
	repo   Repository
	logger Logger
	queue  chan AuditLog
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewWriter creates an audit writer and starts its drain goroutine.
// queueSize <= 0 selects the default.
func NewWriter(repo Repository, queueSize int, logger Logger) *Writer {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if logger == nil {
		logger = noopLogger{}
	}

	w := &Writer{
		repo:   repo,
		logger: logger,
		queue:  make(chan AuditLog, queueSize),
	}

	w.wg.Add(1)
	go w.drain()

	return w
}

// Record enqueues an audit entry without blocking. Entries recorded after
// Close, or while the queue is full, are dropped with a warning.
func (w *Writer) Record(entry AuditLog) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		w.logger.Warn("audit writer closed, dropping entry", "action", entry.Action)
		return
	}

	select {
	case w.queue <- entry:
	default:
		w.logger.Warn("audit queue full, dropping entry", "action", entry.Action)
	}
}

// drain persists queued entries until the queue is closed.
func (w *Writer) drain() {
	defer w.wg.Done()

	for entry := range w.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := w.repo.Create(ctx, &entry); err != nil {
			w.logger.Error("audit write failed", "action", entry.Action, "error", err)
		}
		cancel()
	}
}

// Close stops accepting entries and blocks until the queue is drained.
// Safe to call more than once.
func (w *Writer) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.mu.Unlock()

	close(w.queue)
	w.wg.Wait()
}
