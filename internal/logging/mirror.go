package logging

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Entry is one mirrored log line. Categories name the pipeline stage the
// line came from.
type Entry struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Level    string `json:"level"`
}

// Sink receives mirrored entries. Implementations must not block for long;
// delivery is best effort.
type Sink func(ctx context.Context, e Entry)

// Mirror forwards log entries to an external sink without ever stalling the
// pipeline. Entries arriving while a flush is in flight are queued; delivery
// failures are dropped silently.
type Mirror struct {
	sink   Sink
	logger *zap.Logger

	mu       sync.Mutex
	queue    []Entry
	inFlight bool
}

func NewMirror(sink Sink, logger *zap.Logger) *Mirror {
	return &Mirror{sink: sink, logger: logger.Named("mirror")}
}

// Send enqueues one entry and starts a flush unless one is already running.
func (m *Mirror) Send(ctx context.Context, e Entry) {
	if m == nil || m.sink == nil {
		return
	}
	m.mu.Lock()
	m.queue = append(m.queue, e)
	if m.inFlight {
		m.mu.Unlock()
		return
	}
	m.inFlight = true
	m.mu.Unlock()

	go m.flush(ctx)
}

func (m *Mirror) flush(ctx context.Context) {
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.inFlight = false
			m.mu.Unlock()
			return
		}
		next := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()

		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Debug("mirror sink panicked", zap.Any("panic", r))
				}
			}()
			m.sink(ctx, next)
		}()
	}
}

// Pending reports the queue depth, for tests.
func (m *Mirror) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}
