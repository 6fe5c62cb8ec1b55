package bus

import (
	"fmt"
	"sync"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/logging"
)

// Options holds configuration overrides passed to New().
type Options struct {
	// SubscriberBufferSize bounds each subscriber's delivery buffer. A
	// subscriber whose buffer overflows is disconnected with
	// core.ErrSlowConsumer instead of blocking the publisher.
	SubscriberBufferSize int
	// Logging services.
	Logger logging.Logger
}

// InMemoryBus is a volatile EventBus implementation keeping per-task event
// logs in a process local map. It is safe for concurrent access. Event logs
// are retained for the task's lifetime so reconnecting subscribers can resume
// from their last seen sequence number.
type InMemoryBus struct {
	mu      sync.RWMutex
	streams map[string]*stream

	bufferSize int
	logger     logging.Logger
}

// stream is the per-task log plus its attached subscribers. The stream mutex
// serializes sequence assignment with fan-out, which keeps replay + live
// delivery free of gaps and duplicates.
type stream struct {
	mu     sync.Mutex
	log    []core.Event
	subs   map[*core.Subscription]struct{}
	closed bool
}

// New constructs an empty in-memory event bus with optional overrides.
func New(optFns ...func(o *Options)) *InMemoryBus {
	opts := Options{
		SubscriberBufferSize: 64,
		Logger:               logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &InMemoryBus{
		streams:    make(map[string]*stream),
		bufferSize: opts.SubscriberBufferSize,
		logger:     opts.Logger,
	}
}

// Register creates the event stream for a task. Idempotent.
func (b *InMemoryBus) Register(taskID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.streams[taskID]; !ok {
		b.streams[taskID] = &stream{subs: make(map[*core.Subscription]struct{})}
	}
}

func (b *InMemoryBus) stream(taskID string) (*stream, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.streams[taskID]
	return s, ok
}

// Publish assigns the next sequence number, appends ev to the task's log and
// forwards it to every attached subscription without blocking. Publishing to
// a closed stream is a silent drop: the store rejects post-terminal mutations
// before they reach the bus, so anything arriving here is a late emission
// from a cancelled handler.
func (b *InMemoryBus) Publish(taskID string, ev core.Event) error {
	s, ok := b.stream(taskID)
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrTaskNotFound, taskID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		b.logger.Debug("bus.publish.dropped", "task_id", taskID, "kind", string(ev.Kind))
		return nil
	}

	ev.TaskID = taskID
	ev.Sequence = int64(len(s.log)) + 1
	s.log = append(s.log, ev)

	for sub := range s.subs {
		if !sub.Offer(ev) {
			b.logger.Warn("bus.subscriber.slow", "task_id", taskID, "seq", ev.Sequence)
			sub.Close(core.ErrSlowConsumer)
			delete(s.subs, sub)
		}
	}

	if ev.Final {
		s.closed = true
		for sub := range s.subs {
			sub.Close(nil)
			delete(s.subs, sub)
		}
	}

	return nil
}

// Subscribe attaches a consumer to a task's stream. Buffered events with
// Sequence > fromSequence are replayed in order before live events; if the
// stream already closed the subscription ends cleanly after the replay.
func (b *InMemoryBus) Subscribe(taskID string, fromSequence int64) (*core.Subscription, error) {
	s, ok := b.stream(taskID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrTaskNotFound, taskID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var replay []core.Event
	for _, ev := range s.log {
		if ev.Sequence > fromSequence {
			replay = append(replay, ev)
		}
	}

	// The buffer must hold the whole replay so attachment never blocks.
	sub := core.NewSubscription(taskID, len(replay)+b.bufferSize)
	for _, ev := range replay {
		sub.Offer(ev)
	}

	if s.closed {
		sub.Close(nil)
		return sub, nil
	}

	s.subs[sub] = struct{}{}
	return sub, nil
}

// Unsubscribe detaches a consumer without closing the task's stream. Used by
// transports when a client disconnects mid-task.
func (b *InMemoryBus) Unsubscribe(sub *core.Subscription) {
	s, ok := b.stream(sub.TaskID)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, attached := s.subs[sub]; attached {
		delete(s.subs, sub)
		sub.Close(nil)
	}
}

// Log returns a copy of the task's event log. Primarily a diagnostics and
// test helper.
func (b *InMemoryBus) Log(taskID string) ([]core.Event, error) {
	s, ok := b.stream(taskID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrTaskNotFound, taskID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Event(nil), s.log...), nil
}
