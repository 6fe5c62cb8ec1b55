package agent

import (
	"fmt"
	"sync"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/logging"
)

// Compile time check to ensure Agent satisfies the core.Agent interface.
var _ core.Agent = (*Agent)(nil)

// Options holds configuration overrides passed to New().
type Options struct {
	// Description is a human readable summary for the agent directory.
	Description string
	// Version tags the agent's descriptor.
	Version string
	// Metadata carries free-form descriptor annotations.
	Metadata map[string]string
	// QueueCapacity, when > 0, enables the bounded FIFO work queue: at most
	// QueueCapacity accepted-but-unfinished tasks, executed one at a time in
	// admission order. 0 leaves the agent unqueued (every admitted job runs
	// on its own goroutine immediately).
	QueueCapacity int
	// Logging services.
	Logger logging.Logger
}

// Agent binds a name and descriptor to a set of skill handlers. Handlers are
// added with AddSkill before registration; the descriptor snapshot reflects
// the skills present at the time it is taken.
type Agent struct {
	name    string
	options Options

	mu       sync.RWMutex
	handlers map[string]core.Handler
	skills   []core.Skill

	shell *Shell
}

// New creates an agent with the given name and optional overrides.
func New(name string, optFns ...func(o *Options)) *Agent {
	opts := Options{
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	a := &Agent{
		name:     name,
		options:  opts,
		handlers: make(map[string]core.Handler),
	}
	if opts.QueueCapacity > 0 {
		a.shell = NewShell(opts.QueueCapacity, opts.Logger)
	}
	return a
}

// AddSkill attaches a handler for the skill it serves. Adding the same skill
// twice on one agent is an error.
func (a *Agent) AddSkill(h core.Handler) error {
	sk := h.Skill()
	if sk.Name == "" {
		return fmt.Errorf("handler has empty skill name")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.handlers[sk.Name]; exists {
		return fmt.Errorf("%w: %q already added to agent %q", core.ErrDuplicateSkill, sk.Name, a.name)
	}
	a.handlers[sk.Name] = h
	a.skills = append(a.skills, sk)
	return nil
}

// MustAddSkill is AddSkill panicking on error, for wiring at startup.
func (a *Agent) MustAddSkill(h core.Handler) *Agent {
	if err := a.AddSkill(h); err != nil {
		panic(err)
	}
	return a
}

// Name returns the agent's unique name.
func (a *Agent) Name() string { return a.name }

// Descriptor returns the agent's directory entry.
func (a *Agent) Descriptor() core.AgentDescriptor {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return core.AgentDescriptor{
		Name:        a.name,
		Description: a.options.Description,
		Version:     a.options.Version,
		Skills:      append([]core.Skill(nil), a.skills...),
		Metadata:    a.options.Metadata,
	}
}

// Handler returns the handler serving the skill.
func (a *Agent) Handler(skill string) (core.Handler, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	h, ok := a.handlers[skill]
	return h, ok
}

// Admit reserves execution capacity. With a queue configured, a full queue
// yields ErrAgentBusy and the caller must not commit; otherwise the returned
// commit schedules the job in FIFO order. Without a queue, commit runs the
// job on a fresh goroutine.
func (a *Agent) Admit() (func(job func()), error) {
	if a.shell != nil {
		return a.shell.Reserve()
	}
	return func(job func()) { go job() }, nil
}

// Close shuts down the agent's work queue, if any. Queued jobs drain first.
func (a *Agent) Close() {
	if a.shell != nil {
		a.shell.Close()
	}
}
