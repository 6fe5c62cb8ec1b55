// Package agent provides the runtime shell wrapping skill handlers: agent
// construction with descriptor metadata, per-agent admission control through
// an optional bounded FIFO work queue, and handler adapters (plain functions
// and model-backed handlers).
package agent
