// Package tool implements the builtin agent tools and the registry that
// exposes them to the agent runner.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"gracebot/internal/domain"
)

// Registry holds named tools and dispatches calls from the agent runner.
// Registration order is preserved so the model sees a stable tool list.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]domain.Tool
	order  []string
	logger *slog.Logger
}

var _ domain.ToolExecutor = (*Registry)(nil)

// NewRegistry creates an empty tool registry. Tools are wrapped with schema
// validation on Register; if a schema fails to compile the tool is
// registered unwrapped and a warning is logged.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		tools:  make(map[string]domain.Tool),
		logger: logger,
	}
}

// Register adds a tool. Returns an error if the name is already taken.
func (r *Registry) Register(t domain.Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := t.Name()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}

	wrapped, err := WithSchemaValidation(t)
	if err != nil {
		r.logger.Warn("schema validation disabled for tool", "tool", name, "error", err)
	} else {
		t = wrapped
	}

	r.tools[name] = t
	r.order = append(r.order, name)
	return nil
}

// RegisterPrefixed registers a tool under "<prefix>_<name>" so tool sets
// from different sources cannot collide.
func (r *Registry) RegisterPrefixed(prefix string, t domain.Tool) error {
	return r.Register(&prefixedTool{prefix: prefix, inner: t})
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (domain.Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	if !ok {
		return nil, domain.NewDomainError("Registry.Get", domain.ErrToolNotFound, name)
	}
	return t, nil
}

// ToLLMTools returns every registered tool's schema for function calling,
// in registration order.
func (r *Registry) ToLLMTools() []domain.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schemas := make([]domain.ToolSchema, 0, len(r.order))
	for _, name := range r.order {
		schemas = append(schemas, r.tools[name].Schema())
	}
	return schemas
}

// Execute runs the named tool. A panicking tool is contained and surfaced
// as an ErrToolFailure so one bad tool can never take down an agent run.
func (r *Registry) Execute(ctx context.Context, name string, input json.RawMessage, tc domain.ToolContext) (result *domain.ToolResult, err error) {
	t, err := r.Get(name)
	if err != nil {
		return nil, err
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool panicked", "tool", name, "panic", rec)
			result = nil
			err = domain.NewDomainError("Registry.Execute", domain.ErrToolFailure,
				fmt.Sprintf("tool %q panicked: %v", name, rec))
		}
	}()

	return t.Execute(ctx, input, tc)
}

// prefixedTool renames a tool without touching its behavior.
type prefixedTool struct {
	prefix string
	inner  domain.Tool
}

func (p *prefixedTool) Name() string        { return p.prefix + "_" + p.inner.Name() }
func (p *prefixedTool) Description() string { return p.inner.Description() }

func (p *prefixedTool) Schema() domain.ToolSchema {
	s := p.inner.Schema()
	s.Name = p.Name()
	return s
}

func (p *prefixedTool) Execute(ctx context.Context, input json.RawMessage, tc domain.ToolContext) (*domain.ToolResult, error) {
	return p.inner.Execute(ctx, input, tc)
}
