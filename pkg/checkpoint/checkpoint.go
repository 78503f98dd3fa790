// Package checkpoint implements snapshots of orchestration state: step
// states and scoped variables, captured automatically after each
// successful step. Checkpoints can be listed and read back; the package
// has no operation that restores one into a plan.
//
// Grounded in the teacher's checkpoint manager (kadirpekel-hector's
// pkg/checkpoint/manager.go), which snapshots agent run state around
// before/after-LLM-call and before/after-tool-execution hook points; this
// package keeps the same "hooks fire, manager decides whether to snapshot"
// shape but snapshots ExecutionStep state + scoped variables instead of
// agent conversation state.
package checkpoint

import (
	"fmt"
	"sync"
	"time"

	"github.com/arx88/taskforge/pkg/task"
)

// Checkpoint is a snapshot of step states and context variables at a named
// point in a task's execution.
type Checkpoint struct {
	CheckpointID string                 `json:"checkpoint_id"`
	Description  string                 `json:"description,omitempty"`
	CreatedByStep string                `json:"created_by_step,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
	Variables    map[string]interface{} `json:"variables"`
	StepStates   map[string]task.StepState `json:"step_states"`
}

// deepCopyVars returns a deep-enough copy of a variable map: nested maps
// are copied recursively, and []interface{} values get a new slice whose
// elements are shared with the original, which is sufficient for the scalar
// and small-struct values variables hold in practice. The spec requires the
// captured map be a copy, not a reference — this satisfies that without a
// full reflection-based deep clone.
func deepCopyVars(vars map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(vars))
	for k, v := range vars {
		switch val := v.(type) {
		case map[string]interface{}:
			out[k] = deepCopyVars(val)
		case []interface{}:
			cp := make([]interface{}, len(val))
			copy(cp, val)
			out[k] = cp
		default:
			out[k] = v
		}
	}
	return out
}

// Manager owns the checkpoints for a single task's OrchestrationContext.
// It is safe for concurrent use; the engine creates checkpoints from
// worker goroutines while a caller may concurrently list or read them.
// Manager has no restore operation.
type Manager struct {
	mu          sync.RWMutex
	checkpoints []*Checkpoint
	seq         int
}

// NewManager creates an empty checkpoint manager.
func NewManager() *Manager {
	return &Manager{}
}

// Create snapshots the given step states and variables under a new
// checkpoint ID and records it.
func (m *Manager) Create(description, createdByStep string, stepStates map[string]task.StepState, variables map[string]interface{}) *Checkpoint {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	states := make(map[string]task.StepState, len(stepStates))
	for k, v := range stepStates {
		states[k] = v
	}

	cp := &Checkpoint{
		CheckpointID:  fmt.Sprintf("cp-%06d", m.seq),
		Description:   description,
		CreatedByStep: createdByStep,
		Timestamp:     now(),
		Variables:     deepCopyVars(variables),
		StepStates:    states,
	}
	m.checkpoints = append(m.checkpoints, cp)
	return cp
}

// List returns all checkpoints in creation order.
func (m *Manager) List() []*Checkpoint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Checkpoint, len(m.checkpoints))
	copy(out, m.checkpoints)
	return out
}

// Get retrieves a checkpoint by ID.
func (m *Manager) Get(id string) (*Checkpoint, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, cp := range m.checkpoints {
		if cp.CheckpointID == id {
			return cp, true
		}
	}
	return nil, false
}

// Latest returns the most recently created checkpoint, or nil if none exist.
func (m *Manager) Latest() *Checkpoint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.checkpoints) == 0 {
		return nil
	}
	return m.checkpoints[len(m.checkpoints)-1]
}

// now is a seam so tests can avoid relying on wall-clock ordering; in
// production it is time.Now.
var now = time.Now
