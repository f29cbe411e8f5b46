package functions

import (
	"errors"
	"fmt"
	"sync"

	"github.com/bt-bridge/voice-shop/shared"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/realtime"
	"github.com/openai/openai-go/v3/responses"
)

// Property describes one function parameter.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// Schema is the advertised description of an invocable function.
type Schema struct {
	Name        string
	Description string
	Properties  map[string]Property
	// Required lists the parameter names that must be present.
	Required []string
}

// JSONSchema renders the parameter object in JSON Schema form.
func (s Schema) JSONSchema() map[string]any {
	required := s.Required
	if required == nil {
		required = []string{}
	}
	props := make(map[string]any, len(s.Properties))
	for name, p := range s.Properties {
		props[name] = p
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// Handler runs a function call. It must return quickly; the engine waits
// for it before processing the next event.
type Handler func(args map[string]any) (any, error)

type entry struct {
	schema  Schema
	handler Handler
}

// Registry holds the functions offered to the assistant in registration
// order.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

func (r *Registry) Register(schema Schema, handler Handler) error {
	if schema.Name == "" {
		return errors.New("function name is required")
	}
	if handler == nil {
		return fmt.Errorf("handler for %q is required", schema.Name)
	}
	for _, name := range schema.Required {
		if _, ok := schema.Properties[name]; !ok {
			return fmt.Errorf("required parameter %q of %q is not declared", name, schema.Name)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[schema.Name]; ok {
		return fmt.Errorf("%q: %w", schema.Name, shared.ErrToolAlreadyRegistered)
	}
	r.entries[schema.Name] = entry{schema: schema, handler: handler}
	r.order = append(r.order, schema.Name)
	return nil
}

// Invoke dispatches a call. An unregistered name yields shared.ErrUnknownTool.
func (r *Registry) Invoke(name string, args map[string]any) (any, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, shared.ErrUnknownTool)
	}
	if args == nil {
		args = map[string]any{}
	}
	return e.handler(args)
}

func (r *Registry) Schemas() []Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schemas := make([]Schema, 0, len(r.order))
	for _, name := range r.order {
		schemas = append(schemas, r.entries[name].schema)
	}
	return schemas
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Tools converts the registered schemas into realtime function tools.
func (r *Registry) Tools() realtime.RealtimeToolsConfigParam {
	schemas := r.Schemas()
	tools := make(realtime.RealtimeToolsConfigParam, 0, len(schemas))
	for _, s := range schemas {
		tools = append(tools, realtime.RealtimeToolsConfigUnionParam{
			OfFunction: &realtime.RealtimeFunctionToolParam{
				Name:        param.NewOpt(s.Name),
				Description: param.NewOpt(s.Description),
				Parameters:  s.JSONSchema(),
				Type:        realtime.RealtimeFunctionToolTypeFunction,
			},
		})
	}
	return tools
}

// SessionConfig is the session.update payload registering every tool with
// automatic tool choice.
func (r *Registry) SessionConfig() realtime.RealtimeSessionCreateRequestParam {
	return realtime.RealtimeSessionCreateRequestParam{
		Tools: r.Tools(),
		ToolChoice: realtime.RealtimeToolChoiceConfigUnionParam{
			OfToolChoiceMode: param.NewOpt(responses.ToolChoiceOptionsAuto),
		},
	}
}
