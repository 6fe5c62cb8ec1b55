package agent

import (
	"sync"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/logging"
)

// Shell is the bounded FIFO work queue backing a queued agent. Capacity
// counts accepted-but-unfinished jobs; a single worker goroutine executes
// committed jobs strictly in admission order.
//
// Admission is two phase. Reserve takes a capacity slot (or fails with
// ErrAgentBusy) and returns a commit function; the caller performs its
// bookkeeping (creating the task record) between the two, so a rejected
// submission never leaves partial state behind. The slot is released when
// the job finishes, not when it starts, keeping the in-flight job counted
// against capacity.
type Shell struct {
	slots chan struct{}
	jobs  chan func()

	closeOnce sync.Once
	logger    logging.Logger
}

// NewShell creates a queue with the given capacity and starts its worker.
func NewShell(capacity int, logger logging.Logger) *Shell {
	if capacity < 1 {
		capacity = 1
	}
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	s := &Shell{
		slots:  make(chan struct{}, capacity),
		jobs:   make(chan func(), capacity),
		logger: logger,
	}
	go s.worker()
	return s
}

func (s *Shell) worker() {
	for job := range s.jobs {
		job()
	}
}

// Reserve takes a capacity slot. On success the returned commit enqueues the
// job for FIFO execution; the slot is freed after the job completes. A full
// queue fails with ErrAgentBusy and nothing is reserved.
func (s *Shell) Reserve() (func(job func()), error) {
	select {
	case s.slots <- struct{}{}:
	default:
		return nil, core.ErrAgentBusy
	}

	commit := func(job func()) {
		s.jobs <- func() {
			defer func() { <-s.slots }()
			job()
		}
	}
	return commit, nil
}

// Pending reports the number of accepted-but-unfinished jobs.
func (s *Shell) Pending() int { return len(s.slots) }

// Close stops accepting commits and lets queued jobs drain. Reserve calls
// made after Close may still succeed taking slots; callers are expected to
// stop submitting before closing.
func (s *Shell) Close() {
	s.closeOnce.Do(func() { close(s.jobs) })
}
