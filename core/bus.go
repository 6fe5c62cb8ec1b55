package core

import "sync"

// EventBus is the per-task multiplexed event delivery mechanism. It owns the
// per-task event logs and assigns each published event the next strictly
// increasing, gap-free sequence number for its task. Publication is
// non-blocking from the publisher's perspective: slow subscribers are
// disconnected with ErrSlowConsumer rather than stalling the publisher.
//
// A Final event closes the task's stream for all subscribers (end-of-stream,
// not an error). Events published after the stream closed are dropped.
type EventBus interface {
	// Register creates the event stream for a task. Idempotent.
	Register(taskID string)

	// Publish assigns the next sequence number, appends the event to the
	// task's log and fans it out to attached subscriptions. Fails with
	// ErrTaskNotFound for unregistered tasks.
	Publish(taskID string, ev Event) error

	// Subscribe attaches a consumer, replaying buffered events with
	// Sequence > fromSequence before yielding live events. Fails with
	// ErrTaskNotFound for unregistered tasks.
	Subscribe(taskID string, fromSequence int64) (*Subscription, error)
}

// Subscription is a live consumer's handle on a task's event stream. Consume
// Events until the channel closes, then check Err: nil means the stream ended
// cleanly with the task's terminal event; ErrSlowConsumer means the
// subscriber was disconnected for falling behind.
//
// Offer and Close are the producer half used by EventBus implementations;
// consumers should not call them.
type Subscription struct {
	TaskID string

	ch chan Event

	mu     sync.Mutex
	closed bool
	err    error
}

// NewSubscription constructs a subscription with the given delivery buffer.
func NewSubscription(taskID string, buffer int) *Subscription {
	if buffer < 1 {
		buffer = 1
	}
	return &Subscription{TaskID: taskID, ch: make(chan Event, buffer)}
}

// Events returns the delivery channel. It is closed at end-of-stream or on
// disconnect.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Err returns the disconnect reason, or nil after a clean end-of-stream.
// Meaningful only once Events is closed.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Offer attempts a non-blocking delivery. It reports false when the buffer is
// full, signaling the bus to disconnect the subscriber. Deliveries to a
// closed subscription are discarded and report true.
func (s *Subscription) Offer(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- ev:
		return true
	default:
		return false
	}
}

// Close ends the stream with the given reason (nil for clean end-of-stream).
// Idempotent; only the first call records a reason.
func (s *Subscription) Close(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.ch)
}
