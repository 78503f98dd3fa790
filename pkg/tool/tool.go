// Package tool implements the Tool Registry & Dispatcher: a uniform
// invocation surface over heterogeneous tools (shell, file, web-search,
// deep-research) with per-task isolation.
//
// Grounded in the teacher's generic registry.BaseRegistry[T] (reused
// directly for the descriptor/implementation map) and the re-architecture
// note in spec.md §9: "a Tool capability with describe() and
// invoke(params, cancel_signal) -> ToolResult; registration maps name ->
// capability. No reflection, no string-keyed method lookup on host
// objects."
package tool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/arx88/taskforge/pkg/registry"
	"github.com/arx88/taskforge/pkg/task"
)

// SideEffectClass declares what kind of side effect a tool has, used for
// idempotency and sandboxing decisions.
type SideEffectClass string

const (
	SideEffectReadOnly   SideEffectClass = "read-only"
	SideEffectFilesystem SideEffectClass = "filesystem"
	SideEffectNetwork    SideEffectClass = "network"
	SideEffectProcess    SideEffectClass = "process"
)

// ParamSpec describes one parameter of a tool's input schema.
type ParamSpec struct {
	Name     string
	Type     string // "string", "number", "bool", "object", "array"
	Required bool
}

// Descriptor is a tool's static metadata: name, input schema, declared
// side-effect class, idempotency, and max timeout.
type Descriptor struct {
	Name       string
	Parameters []ParamSpec
	SideEffect SideEffectClass
	Idempotent bool
	MaxTimeout time.Duration
}

// paramSet returns the descriptor's parameters indexed by name.
func (d Descriptor) paramSet() map[string]ParamSpec {
	m := make(map[string]ParamSpec, len(d.Parameters))
	for _, p := range d.Parameters {
		m[p.Name] = p
	}
	return m
}

// Artifact is a named output produced by a tool invocation (a file path,
// a URL, a blob reference — left opaque to the dispatcher).
type Artifact struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
	Ref  string `json:"ref"`
}

// Result is the uniform outcome of a tool invocation. All tool-level
// failures are reified here; the dispatcher never raises to the caller
// for tool-level faults.
type Result struct {
	Success   bool                   `json:"success"`
	Output    map[string]interface{} `json:"output,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Artifacts []Artifact             `json:"artifacts,omitempty"`
}

// Tool is the capability interface every registered tool implements. No
// reflection and no string-keyed method lookup: Invoke is the single entry
// point, and cancellation flows through ctx.
type Tool interface {
	Describe() Descriptor
	Invoke(ctx context.Context, params map[string]interface{}) Result
}

// Registry holds tool descriptors and implementations and dispatches
// validated calls, tagging each invocation with the calling task_id for
// log/event correlation.
type Registry struct {
	base *registry.BaseRegistry[Tool]
	mu   sync.RWMutex
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{base: registry.NewBaseRegistry[Tool]()}
}

// Register adds a tool; fails if the name is already registered.
func (r *Registry) Register(t Tool) error {
	d := t.Describe()
	if d.Name == "" {
		return task.ValidationError("tool descriptor has empty name")
	}
	return r.base.Register(d.Name, t)
}

// List returns every registered tool's descriptor.
func (r *Registry) List() []Descriptor {
	tools := r.base.List()
	out := make([]Descriptor, 0, len(tools))
	for _, t := range tools {
		out = append(out, t.Describe())
	}
	return out
}

// Names returns the registered tool names.
func (r *Registry) Names() []string {
	return r.base.Names()
}

// Has reports whether a tool with the given name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.base.Get(name)
	return ok
}

// Descriptor returns the descriptor for a registered tool.
func (r *Registry) Descriptor(name string) (Descriptor, bool) {
	t, ok := r.base.Get(name)
	if !ok {
		return Descriptor{}, false
	}
	return t.Describe(), true
}

// Execute validates params against the tool's declared schema, enforces
// its declared timeout (overridden by stepTimeout when non-zero), tags the
// invocation with taskID, and returns a uniform Result. Internal faults
// (unknown tool) are returned as an error; tool-level faults are folded
// into Result.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]interface{}, taskID string, stepTimeout time.Duration) (Result, error) {
	t, ok := r.base.Get(name)
	if !ok {
		return Result{}, task.ValidationError("unknown tool %q", name)
	}

	d := t.Describe()
	if err := validateParams(d, params); err != nil {
		return Result{}, err
	}

	timeout := d.MaxTimeout
	if stepTimeout > 0 && (timeout == 0 || stepTimeout < timeout) {
		timeout = stepTimeout
	}

	invokeCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		invokeCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	invokeCtx = withTaskID(invokeCtx, taskID)

	resultCh := make(chan Result, 1)
	go func() {
		resultCh<- t.Invoke(invokeCtx, params)
	}()

	select {
	case res := <-resultCh:
		return res, nil
	case <-invokeCtx.Done():
		return Result{
			Success: false,
			Error:   task.TimeoutError("tool %q exceeded its timeout", name).Error(),
		}, nil
	}
}

// validateParams rejects unknown params and requires all required params
// to be present. Total validation: no tool is invoked on a validation
// failure.
func validateParams(d Descriptor, params map[string]interface{}) error {
	spec := d.paramSet()
	for k := range params {
		if _, ok := spec[k]; !ok {
			return task.ValidationError("tool %q: unknown parameter %q", d.Name, k)
		}
	}
	for _, p := range d.Parameters {
		if p.Required {
			if _, ok := params[p.Name]; !ok {
				return task.ValidationError("tool %q: missing required parameter %q", d.Name, p.Name)
			}
		}
	}
	return nil
}

type taskIDKey struct{}

func withTaskID(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, taskIDKey{}, taskID)
}

// TaskIDFromContext extracts the task_id tagged onto a tool invocation's
// context, for tools that want to correlate their own logs.
func TaskIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(taskIDKey{}).(string)
	return v
}

// String renders a Result for human/log consumption.
func (r Result) String() string {
	if r.Success {
		return fmt.Sprintf("success output=%v artifacts=%d", r.Output, len(r.Artifacts))
	}
	return fmt.Sprintf("failed error=%s", r.Error)
}
