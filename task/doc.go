// Package task implements the in-memory TaskStore. Each record carries its
// own lock, so state transitions for one task are serialized while unrelated
// tasks proceed in parallel. Transitions are compare-and-set guarded against
// the lifecycle state machine and publish status events; artifact appends
// publish artifact events.
package task
