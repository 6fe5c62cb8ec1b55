package agent

import (
	"github.com/hupe1980/taskmesh/core"
)

// Compile time check to ensure FuncHandler satisfies the Handler interface.
var _ core.Handler = (*FuncHandler)(nil)

// HandlerFunc is the signature of a plain-function skill implementation.
type HandlerFunc func(tc *core.TaskContext) (*core.Result, error)

// FuncHandler adapts a plain function into a core.Handler.
type FuncHandler struct {
	skill core.Skill
	fn    HandlerFunc
}

// NewFuncHandler wraps fn as the handler for the given skill.
func NewFuncHandler(skill core.Skill, fn HandlerFunc) *FuncHandler {
	return &FuncHandler{skill: skill, fn: fn}
}

// Skill returns the capability metadata.
func (h *FuncHandler) Skill() core.Skill { return h.skill }

// Invoke executes the wrapped function.
func (h *FuncHandler) Invoke(tc *core.TaskContext) (*core.Result, error) {
	return h.fn(tc)
}
