// Package core provides the foundational domain types, interfaces and
// execution contexts used by TaskMesh. It defines the core abstractions for:
//
//   - Tasks (units of requested work tracked through a lifecycle state machine)
//   - Events (immutable, per-task sequenced status/artifact records)
//   - Agents, skills and handlers (the capability surface of the runtime)
//   - TaskContext (scoped execution, progress reporting and input suspension)
//   - Pluggable services: TaskStore, EventBus, Registry, ToolInvoker, PeerCaller
//
// The package intentionally keeps implementation concerns (storage, event
// fan-out, dispatch orchestration, concrete agents) out of scope, exposing
// small interfaces to enable custom backends and extensions.
package core
