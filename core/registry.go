package core

// Skill describes a named capability an agent can perform. The descriptive
// fields feed directory / agent-card style discovery; only Name participates
// in routing.
type Skill struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Examples    []string `json:"examples,omitempty"`
}

// AgentDescriptor identifies an agent and the skills it serves. Descriptors
// are immutable once registered; serialization to a discovery wire format is
// a transport concern.
type AgentDescriptor struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Version     string            `json:"version,omitempty"`
	Skills      []Skill           `json:"skills"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Agent is the execution context owning one or more skills. Implementations
// must be safe for concurrent use.
//
// Admit is the admission-control hook for the agent's runtime shell: it
// reserves capacity in the agent's bounded work queue and returns a commit
// function that schedules the job for FIFO execution. A full queue yields
// ErrAgentBusy and the reservation has no effect. Agents without a queue
// commit jobs to a fresh goroutine directly.
type Agent interface {
	Name() string
	Descriptor() AgentDescriptor
	Handler(skill string) (Handler, bool)
	Admit() (commit func(job func()), err error)
}

// Resolution is the outcome of routing a skill name: the owning agent and the
// handler serving the skill.
type Resolution struct {
	Agent   Agent
	Handler Handler
}

// Registry is the capability directory mapping skills to agents. A skill is
// served by exactly one agent; claiming an already-owned skill is a
// registration-time error. Registration is single-writer; Resolve and List
// may be called concurrently with registration.
type Registry interface {
	// Register adds an agent and claims its skills. Fails with
	// ErrDuplicateSkill if any skill is already owned by a different agent;
	// on failure nothing is registered.
	Register(a Agent) error

	// Resolve routes a skill name to its handler. Fails with ErrSkillNotFound
	// when no agent serves the skill.
	Resolve(skill string) (Resolution, error)

	// Lookup returns a registered agent by name.
	Lookup(agent string) (Agent, bool)

	// List returns descriptors for all registered agents in registration
	// order, serving directory/discovery exports.
	List() []AgentDescriptor
}
