// Package dispatch implements the execution engine: it routes submissions
// through the registry, admits them to the owning agent's runtime shell,
// runs handler invocations with panic isolation and bounded concurrency, and
// mediates cooperative cancellation and input-required resumption.
package dispatch
