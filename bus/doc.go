// Package bus implements the in-memory EventBus: per-task append-only event
// logs with sequence assignment, replay-from-sequence subscription, bounded
// per-subscriber delivery buffers and non-blocking publication. Slow
// consumers are disconnected with an explicit signal; a Final event closes
// the stream cleanly for every subscriber.
package bus
