// Package tools defines the tools available to the agent and executes
// the calls the model makes against them.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Handler runs a tool. The returned value becomes the ToolResponse
// content: a string, or any JSON-encodable structure.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Tool represents a callable tool.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Handler     Handler        `json:"-"`
}

// Spec is the model-facing description of a tool.
type Spec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type entry struct {
	tool   *Tool
	schema *jsonschema.Schema
}

// Registry holds available tools. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]entry
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]entry)}
}

// Register adds a tool, compiling its parameter schema. Registering a
// name twice is an error.
func (r *Registry) Register(t *Tool) error {
	if t == nil || t.Name == "" {
		return errors.New("tool name is required")
	}
	if t.Handler == nil {
		return fmt.Errorf("tool %s: handler is required", t.Name)
	}

	schema, err := compileSchema(t.Parameters)
	if err != nil {
		return fmt.Errorf("tool %s: %w", t.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.tools[t.Name]; dup {
		return fmt.Errorf("tool %s is already registered", t.Name)
	}
	r.tools[t.Name] = entry{tool: t, schema: schema}
	return nil
}

// Get retrieves a tool by name, or nil.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name].tool
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	return r.Get(name) != nil
}

// Names returns registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Specs returns the model-facing tool descriptions, sorted by name.
func (r *Registry) Specs() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]Spec, 0, len(r.tools))
	for _, e := range r.tools {
		specs = append(specs, Spec{
			Name:        e.tool.Name,
			Description: e.tool.Description,
			Parameters:  e.tool.Parameters,
		})
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// List returns all tools for the LLM in function-calling format.
func (r *Registry) List() []map[string]any {
	return Definitions(r.Specs())
}

// Definitions converts specs to the function-calling wire shape.
func Definitions(specs []Spec) []map[string]any {
	result := make([]map[string]any, 0, len(specs))
	for _, s := range specs {
		params := s.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        s.Name,
				"description": s.Description,
				"parameters":  params,
			},
		})
	}
	return result
}

// validateArgs checks args against the tool's parameter schema.
func (r *Registry) validateArgs(name string, args map[string]any) error {
	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return &ErrToolUnavailable{ToolName: name}
	}
	if e.schema == nil {
		return nil
	}

	doc, err := normalize(args)
	if err != nil {
		return err
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return e.schema.Validate(doc)
}

// compileSchema compiles a tool's parameter schema. A nil schema accepts
// any arguments.
func compileSchema(params map[string]any) (*jsonschema.Schema, error) {
	if params == nil {
		return nil, nil
	}
	doc, err := normalize(params)
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// normalize round-trips v through JSON so Go-typed values (ints, typed
// slices) take the shapes the validator expects.
func normalize(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
