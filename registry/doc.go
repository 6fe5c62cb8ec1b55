// Package registry implements the in-memory capability directory. Skill
// names route to exactly one owning agent; a registration claiming an
// already-owned skill is rejected as a whole.
package registry
