package tool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/logging"
)

// Compile time check to ensure Invoker satisfies the ToolInvoker interface.
var _ core.ToolInvoker = (*Invoker)(nil)

// InvokerOptions holds configuration overrides passed to NewInvoker().
type InvokerOptions struct {
	// Logging services.
	Logger logging.Logger
}

// Invoker is the registry-backed core.ToolInvoker handed to task contexts.
// Unknown tool names fail with ErrToolUnavailable; execution failures surface
// as *ToolError.
type Invoker struct {
	mu    sync.RWMutex
	tools map[string]Tool

	logger logging.Logger
}

// NewInvoker creates an empty tool registry.
func NewInvoker(optFns ...func(o *InvokerOptions)) *Invoker {
	opts := InvokerOptions{
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Invoker{
		tools:  make(map[string]Tool),
		logger: opts.Logger,
	}
}

// Register adds a tool. Registering the same name twice is an error.
func (i *Invoker) Register(t Tool) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	name := t.Name()
	if _, exists := i.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	i.tools[name] = t
	return nil
}

// Lookup returns a registered tool by name.
func (i *Invoker) Lookup(name string) (Tool, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	t, ok := i.tools[name]
	return t, ok
}

// Invoke routes the call to the named tool.
func (i *Invoker) Invoke(ctx context.Context, name string, args map[string]any) (any, error) {
	t, ok := i.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrToolUnavailable, name)
	}

	start := time.Now()
	result, err := t.Call(ctx, args)
	if err != nil {
		i.logger.Error("tool.call.error", "tool", name, "error", err.Error())
		return nil, err
	}
	i.logger.Debug("tool.call.success", "tool", name, "duration_ms", time.Since(start).Milliseconds())
	return result, nil
}
