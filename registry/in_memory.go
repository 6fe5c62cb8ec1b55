package registry

import (
	"fmt"
	"sync"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/logging"
)

// Compile time check to ensure InMemoryRegistry satisfies the Registry interface.
var _ core.Registry = (*InMemoryRegistry)(nil)

// Options holds configuration overrides passed to New().
type Options struct {
	// Logging services.
	Logger logging.Logger
}

// InMemoryRegistry is a volatile Registry keeping the skill routing table in
// a process local map. Safe for concurrent use.
type InMemoryRegistry struct {
	mu     sync.RWMutex
	agents map[string]core.Agent
	skills map[string]core.Agent // skill name -> owning agent
	order  []string              // agent names in registration order

	logger logging.Logger
}

// New creates an empty registry.
func New(optFns ...func(o *Options)) *InMemoryRegistry {
	opts := Options{
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &InMemoryRegistry{
		agents: make(map[string]core.Agent),
		skills: make(map[string]core.Agent),
		logger: opts.Logger,
	}
}

// Register adds an agent and claims its skills. All-or-nothing: if any skill
// is already owned by a different agent, nothing is registered and
// ErrDuplicateSkill is returned naming the conflict.
func (r *InMemoryRegistry) Register(a core.Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := a.Name()
	if _, exists := r.agents[name]; exists {
		return fmt.Errorf("agent %q already registered", name)
	}

	desc := a.Descriptor()
	for _, sk := range desc.Skills {
		if owner, taken := r.skills[sk.Name]; taken {
			return fmt.Errorf("%w: %q already owned by agent %q", core.ErrDuplicateSkill, sk.Name, owner.Name())
		}
	}

	r.agents[name] = a
	r.order = append(r.order, name)
	for _, sk := range desc.Skills {
		r.skills[sk.Name] = a
	}

	r.logger.Info("registry.agent.registered", "agent", name, "skills", len(desc.Skills))
	return nil
}

// Resolve routes a skill name to its owning agent and handler.
func (r *InMemoryRegistry) Resolve(skill string) (core.Resolution, error) {
	r.mu.RLock()
	a, ok := r.skills[skill]
	r.mu.RUnlock()
	if !ok {
		return core.Resolution{}, fmt.Errorf("%w: %q", core.ErrSkillNotFound, skill)
	}

	h, ok := a.Handler(skill)
	if !ok {
		// Registration guarantees the agent serves the skill; a missing
		// handler here means the agent mutated after registration.
		return core.Resolution{}, fmt.Errorf("%w: %q (agent %q no longer serves it)", core.ErrSkillNotFound, skill, a.Name())
	}

	return core.Resolution{Agent: a, Handler: h}, nil
}

// Lookup returns a registered agent by name.
func (r *InMemoryRegistry) Lookup(agent string) (core.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[agent]
	return a, ok
}

// List returns descriptors for all registered agents in registration order.
func (r *InMemoryRegistry) List() []core.AgentDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.AgentDescriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.agents[name].Descriptor())
	}
	return out
}
