// Package tools provides the white-listed side-effect functions the
// assistant may invoke during a conversation. Only registered tools can
// ever be dispatched; a model asking for anything else is rejected
// before any side effect occurs.
package tools

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/auralab/go-aural/pkg/llm"
)

// Tool represents one function the assistant can call.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
	Handler     func(args map[string]interface{}) (string, error)
}

// Registry holds the set of registered tools.
type Registry struct {
	tools  map[string]Tool
	logger *slog.Logger
	mu     sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]Tool),
		logger: logger,
	}
}

// Register adds a tool. Registering a duplicate name is an error.
func (r *Registry) Register(tool Tool) error {
	if tool.Name == "" {
		return fmt.Errorf("tool name must not be empty")
	}
	if tool.Handler == nil {
		return fmt.Errorf("tool %s has no handler", tool.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, tool.Name)
	}
	r.tools[tool.Name] = tool
	return nil
}

// Has reports whether a tool name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Schema returns the tool declarations in the shape the generation
// backends expect.
func (r *Registry) Schema() []llm.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schema := make([]llm.Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		schema = append(schema, llm.Tool{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters: map[string]interface{}{
				"type":       "object",
				"properties": tool.Parameters,
			},
		})
	}
	sort.Slice(schema, func(i, j int) bool { return schema[i].Name < schema[j].Name })
	return schema
}

// Dispatch executes a requested tool call. Unregistered names are
// rejected before anything runs. Malformed argument JSON is also an
// error; handlers only ever see a decoded argument map.
func (r *Registry) Dispatch(call llm.ToolCall) (string, error) {
	r.mu.RLock()
	tool, ok := r.tools[call.Name]
	r.mu.RUnlock()

	if !ok {
		r.logger.Warn("rejected tool call", "tool", call.Name)
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, call.Name)
	}

	args := make(map[string]interface{})
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return "", fmt.Errorf("tool %s: invalid arguments: %w", call.Name, err)
		}
	}

	r.logger.Info("dispatching tool", "tool", call.Name)
	return tool.Handler(args)
}
