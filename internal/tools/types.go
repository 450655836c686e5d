// Package tools implements the closed, enumerated tool catalogue the
// orchestration loop calls into: schema-validated dispatch grounded on the
// teacher's internal/tools.Registry, extended with the parameter validation
// and user-id injection the teacher's own registry left to each handler.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"aetheria/internal/llm"
)

// ParamKind is the JSON Schema primitive type a parameter accepts.
type ParamKind string

const (
	KindString ParamKind = "string"
	KindNumber ParamKind = "number"
	KindBool   ParamKind = "boolean"
)

// ParamSpec describes one named parameter of a tool's calling contract.
type ParamSpec struct {
	Name        string
	Kind        ParamKind
	Required    bool
	Description string
	Enum        []string
}

// Descriptor is the static, immutable definition of a callable tool.
type Descriptor struct {
	Name        string
	Description string
	Params      []ParamSpec
	// RequiresUserID marks tools whose handler needs the caller's identity
	// injected from turn context; the LM is never allowed to supply it.
	RequiresUserID bool
}

// TurnContext carries request-scoped values the registry injects into a
// handler call; it is never derived from LM-supplied arguments.
type TurnContext struct {
	UserID string
}

// Handler executes a validated, normalized call.
type Handler func(ctx context.Context, tc TurnContext, args map[string]any) (any, error)

// Kind codes for the registry's validation/execution error taxonomy
// (spec §4.1, §7). The orchestrator treats every one of these as a tool
// response to feed back to the LM, never as a user-facing error.
type ErrorKind string

const (
	ErrMissingParameter ErrorKind = "MissingParameter"
	ErrInvalidParameter ErrorKind = "InvalidParameter"
	ErrUnknownTool      ErrorKind = "UnknownTool"
	ErrToolExecution    ErrorKind = "ToolExecutionError"
)

// Error is the structured validation/execution failure returned to the LM.
type Error struct {
	Kind    ErrorKind
	Tool    string
	Param   string
	Message string
}

func (e *Error) Error() string {
	if e.Param != "" {
		return fmt.Sprintf("%s: %s.%s: %s", e.Kind, e.Tool, e.Param, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Tool, e.Message)
}

type registered struct {
	desc    Descriptor
	handler Handler
}

// Registry is the closed catalogue used by the orchestration loop.
type Registry struct {
	order []string
	byName map[string]registered
}

// NewRegistry returns an empty registry. Tools are added with Register at
// startup and never mutated afterward.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]registered)}
}

// Register adds a tool. Panics on duplicate names: that is a startup wiring
// bug, not a runtime condition.
func (r *Registry) Register(desc Descriptor, h Handler) {
	if _, exists := r.byName[desc.Name]; exists {
		panic(fmt.Sprintf("tools: duplicate registration for %q", desc.Name))
	}
	r.order = append(r.order, desc.Name)
	r.byName[desc.Name] = registered{desc: desc, handler: h}
}

// List returns the catalogue in deterministic (registration) order.
func (r *Registry) List() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name].desc)
	}
	return out
}

// Schemas adapts the catalogue to the llm.ToolSchema shape the provider
// needs, in the same deterministic order as List.
func (r *Registry) Schemas() []llm.ToolSchema {
	out := make([]llm.ToolSchema, 0, len(r.order))
	for _, name := range r.order {
		d := r.byName[name].desc
		out = append(out, llm.ToolSchema{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  jsonSchemaFor(d),
		})
	}
	return out
}

func jsonSchemaFor(d Descriptor) map[string]any {
	props := map[string]any{}
	var required []string
	for _, p := range d.Params {
		prop := map[string]any{"type": string(p.Kind), "description": p.Description}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// Invoke validates raw arguments against the named tool's schema, normalizes
// them, injects turn context, and runs the handler. Validation failures and
// handler panics/errors both come back as *Error so the orchestrator can
// feed them to the LM as a tool response rather than surfacing them.
func (r *Registry) Invoke(ctx context.Context, name string, raw json.RawMessage, tc TurnContext) (result any, err error) {
	entry, ok := r.byName[name]
	if !ok {
		return nil, &Error{Kind: ErrUnknownTool, Tool: name, Message: "no such tool"}
	}

	args := map[string]any{}
	if len(raw) > 0 {
		if jsonErr := json.Unmarshal(raw, &args); jsonErr != nil {
			return nil, &Error{Kind: ErrInvalidParameter, Tool: name, Message: "arguments must be a JSON object"}
		}
	}

	if vErr := validate(entry.desc, args); vErr != nil {
		vErr.Tool = name
		return nil, vErr
	}
	NormalizeArgs(args)

	defer func() {
		if p := recover(); p != nil {
			err = &Error{Kind: ErrToolExecution, Tool: name, Message: fmt.Sprintf("panic: %v", p)}
		}
	}()

	result, err = entry.handler(ctx, tc, args)
	if err != nil {
		return nil, &Error{Kind: ErrToolExecution, Tool: name, Message: err.Error()}
	}
	return result, nil
}

func validate(d Descriptor, args map[string]any) *Error {
	for _, p := range d.Params {
		v, present := args[p.Name]
		if !present || v == nil {
			if p.Required {
				return &Error{Kind: ErrMissingParameter, Param: p.Name, Message: "required parameter missing"}
			}
			continue
		}
		if !kindMatches(p.Kind, v) {
			return &Error{Kind: ErrInvalidParameter, Param: p.Name, Message: fmt.Sprintf("expected %s", p.Kind)}
		}
		if len(p.Enum) > 0 {
			s, _ := v.(string)
			if !containsStr(p.Enum, s) {
				return &Error{Kind: ErrInvalidParameter, Param: p.Name, Message: fmt.Sprintf("must be one of %v", p.Enum)}
			}
		}
	}
	return nil
}

func kindMatches(kind ParamKind, v any) bool {
	switch kind {
	case KindString:
		_, ok := v.(string)
		return ok
	case KindNumber:
		switch v.(type) {
		case float64, float32, int, int64:
			return true
		}
		return false
	case KindBool:
		_, ok := v.(bool)
		return ok
	default:
		return true
	}
}

func containsStr(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
