// Package audit provides the append-only audit trail. Every
// security-relevant decision in the engine flows through a Logger: tenant
// binds, resolution denials, limit refusals, provisioning, maintenance-path
// use. The trail is written asynchronously so the request path never blocks
// on audit I/O, and dropped entries are counted rather than silently lost.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/avaliahq/tenancy/internal/models"
	"github.com/avaliahq/tenancy/internal/telemetry"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Sink receives audit entries. Sinks must tolerate duplicate delivery; the
// logger retries nothing but a deployment may run the same entry through
// multiple sinks.
type Sink interface {
	Write(ctx context.Context, entry *models.AuditEntry) error
}

const (
	defaultBufferSize = 1024
	drainTimeout      = 5 * time.Second
)

// Logger buffers entries and writes them to its sinks from a single
// background goroutine. Record never blocks: when the buffer is full the
// entry is dropped, logged, and counted, because stalling a request on audit
// backpressure would turn the audit trail into a denial-of-service lever.
type Logger struct {
	sinks   []Sink
	entries chan *models.AuditEntry
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewLogger creates a logger writing to the given sinks and starts its
// writer goroutine. Callers must Close it to flush the buffer on shutdown.
func NewLogger(sinks ...Sink) *Logger {
	l := &Logger{
		sinks:   sinks,
		entries: make(chan *models.AuditEntry, defaultBufferSize),
		done:    make(chan struct{}),
	}
	go l.run()
	return l
}

// Record queues one entry. Missing ID and Time fields are filled in here so
// call sites stay terse. Recording against a closed logger drops the entry;
// it must never panic, because audit calls race shutdown.
func (l *Logger) Record(ctx context.Context, entry *models.AuditEntry) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.Time.IsZero() {
		entry.Time = time.Now().UTC()
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		telemetry.GetMetrics().AuditDroppedTotal.Add(ctx, 1)
		log.Warn().
			Str("action", entry.Action).
			Str("outcome", string(entry.Outcome)).
			Msg("Audit logger closed, entry dropped")
		return
	}

	select {
	case l.entries <- entry:
	default:
		telemetry.GetMetrics().AuditDroppedTotal.Add(ctx, 1)
		log.Warn().
			Str("action", entry.Action).
			Str("outcome", string(entry.Outcome)).
			Msg("Audit buffer full, entry dropped")
	}
}

// Close stops accepting entries and drains the buffer, bounded by a
// deadline so shutdown cannot hang on a dead sink.
func (l *Logger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.entries)
	l.mu.Unlock()

	select {
	case <-l.done:
		return nil
	case <-time.After(drainTimeout):
		return context.DeadlineExceeded
	}
}

func (l *Logger) run() {
	defer close(l.done)

	for entry := range l.entries {
		l.write(entry)
	}
}

// write delivers one entry to every sink. Sink failures are logged and
// counted; one sink failing must not starve the others.
func (l *Logger) write(entry *models.AuditEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	for _, sink := range l.sinks {
		if err := sink.Write(ctx, entry); err != nil {
			telemetry.GetMetrics().AuditDroppedTotal.Add(ctx, 1)
			log.Error().
				Err(err).
				Str("action", entry.Action).
				Msg("Audit sink write failed")
		}
	}
}
