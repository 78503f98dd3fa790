// Package engine implements the Execution Engine: it drives a validated
// task.ExecutionPlan to a terminal result while honoring the dependency
// graph, concurrency budget, cancellation, retry policy, and checkpoint
// creation (spec.md §5.3/§6).
//
// Grounded in the teacher's workflowagent.NewParallel (errgroup-based
// bounded fan-out of independent units of work,
// kadirpekel-hector/pkg/agent/workflowagent/parallel.go) for the
// round-based concurrent dispatch shape, generalized from running a fixed
// sub-agent list to running the plan's current ready-set each round.
package engine

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arx88/taskforge/pkg/checkpoint"
	"github.com/arx88/taskforge/pkg/eventbus"
	"github.com/arx88/taskforge/pkg/task"
	"github.com/arx88/taskforge/pkg/tool"
)

// Callbacks are the three hook points spec.md §5.3 names. Hooks may be
// invoked from arbitrary worker goroutines and must never block the
// engine; a panicking hook is recovered and reported to OnError (when set),
// not propagated.
type Callbacks struct {
	OnStepProgress func(step *task.ExecutionStep, result tool.Result)
	OnPlanComplete func(plan *task.ExecutionPlan, status task.PlanStatus)
	OnError        func(err error)
}

func (c Callbacks) stepProgress(step *task.ExecutionStep, result tool.Result) {
	if c.OnStepProgress == nil {
		return
	}
	defer recoverAndLog(c.OnError)
	c.OnStepProgress(step, result)
}

func (c Callbacks) planComplete(plan *task.ExecutionPlan, status task.PlanStatus) {
	if c.OnPlanComplete == nil {
		return
	}
	defer recoverAndLog(c.OnError)
	c.OnPlanComplete(plan, status)
}

func recoverAndLog(onError func(error)) {
	if r := recover(); r != nil && onError != nil {
		func() {
			defer func() { recover() }()
			onError(fmt.Errorf("engine: callback panicked: %v", r))
		}()
	}
}

// Engine runs plans. One Engine instance is shared process-wide; each
// Run call is independent and may proceed concurrently with others
// (spec.md §6: "across tasks: no ordering guarantee").
type Engine struct {
	tools *tool.Registry
	bus   *eventbus.Bus

	baseRetryDelay time.Duration
	maxRetryDelay  time.Duration

	mu          sync.Mutex
	cancelFuncs map[string]context.CancelFunc
}

// New creates an Engine dispatching through tools and publishing events on
// bus.
func New(tools *tool.Registry, bus *eventbus.Bus) *Engine {
	return &Engine{
		tools:          tools,
		bus:            bus,
		baseRetryDelay: 200 * time.Millisecond,
		maxRetryDelay:  5 * time.Second,
		cancelFuncs:    make(map[string]context.CancelFunc),
	}
}

// Cancel requests cooperative cancellation of the plan currently running
// for taskID. No-op if no such run is in flight.
func (e *Engine) Cancel(taskID string) {
	e.mu.Lock()
	cancel, ok := e.cancelFuncs[taskID]
	e.mu.Unlock()
	if ok {
		cancel()
	}
}

// Run drives plan to a terminal state, dispatching ready steps through
// the engine's tool.Registry, checkpointing after each successful step,
// and publishing eventbus events. variables is the plan's global variable
// scope; Run mutates it as steps execute in-place under its own lock.
func (e *Engine) Run(ctx context.Context, plan *task.ExecutionPlan, variables map[string]interface{}, cb Callbacks) (task.PlanStatus, *checkpoint.Manager, error) {
	if err := plan.Validate(e.registeredToolNames()); err != nil {
		return task.PlanFailed, nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	if plan.PlanTimeout > 0 {
		var timeoutCancel context.CancelFunc
		runCtx, timeoutCancel = context.WithTimeout(runCtx, plan.PlanTimeout)
		defer timeoutCancel()
	}
	e.mu.Lock()
	e.cancelFuncs[plan.TaskID] = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.cancelFuncs, plan.TaskID)
		e.mu.Unlock()
		cancel()
	}()

	cps := checkpoint.NewManager()
	var varMu sync.Mutex
	// stateMu guards every read/write of a step's State once a round's
	// goroutines are in flight: a step's own transition to Running/
	// Succeeded/Failed races against sibling goroutines' cascadeSkip sweeps
	// over the whole plan, and against each other's abort checks.
	var stateMu sync.Mutex
	maxParallel := plan.MaxParallelSteps
	if maxParallel <= 0 {
		maxParallel = 4
	}

	var aborted atomic.Bool
	start := time.Now()

	for {
		if runCtx.Err() != nil {
			break
		}
		ready := plan.ReadySteps()
		if len(ready) == 0 || aborted.Load() {
			break
		}

		stateMu.Lock()
		for _, s := range ready {
			s.State = task.StepRunning
		}
		stateMu.Unlock()

		// A bare errgroup.Group, not WithContext: one failing step must not
		// cancel its siblings in the same round — on_failure is decided
		// per-step, not group-wide. SetLimit alone gives the bounded fan-out.
		var eg errgroup.Group
		eg.SetLimit(maxParallel)

		for _, s := range ready {
			step := s
			eg.Go(func() error {
				result := e.runStepWithRetry(runCtx, plan.TaskID, step)
				e.recordOutcome(plan, step, result, cps, &stateMu, &varMu, variables, cb)

				stateMu.Lock()
				shouldAbort := step.State == task.StepFailed && step.OnFailure == task.OnFailureAbort
				stateMu.Unlock()
				if shouldAbort {
					aborted.Store(true)
				}
				return nil
			})
		}
		_ = eg.Wait()
	}

	e.finalize(plan, runCtx)

	status := plan.Status()
	switch {
	case ctx.Err() != nil:
		status = task.PlanCancelled
	case runCtx.Err() == context.DeadlineExceeded:
		// Plan-level timeout, not caller cancellation.
		status = task.PlanFailed
	case runCtx.Err() != nil:
		// Engine.Cancel for this task.
		status = task.PlanCancelled
	}

	e.publishTerminalEvent(plan, status, time.Since(start))
	cb.planComplete(plan, status)

	return status, cps, nil
}

func (e *Engine) registeredToolNames() map[string]bool {
	names := make(map[string]bool)
	for _, n := range e.tools.Names() {
		names[n] = true
	}
	return names
}

// runStepWithRetry dispatches step, retrying on failure up to
// step.MaxRetries times with exponential backoff, only when the tool is
// declared idempotent (spec.md §5.3/§6).
func (e *Engine) runStepWithRetry(ctx context.Context, taskID string, step *task.ExecutionStep) tool.Result {
	descriptor, _ := e.tools.Descriptor(step.ToolName)

	var result tool.Result
	attempts := 0
	maxAttempts := step.MaxRetries
	if maxAttempts < 0 {
		maxAttempts = 0
	}

	for {
		result = e.dispatch(ctx, taskID, step)
		if result.Success || !descriptor.Idempotent || attempts >= maxAttempts || ctx.Err() != nil {
			return result
		}
		delay := e.backoff(attempts)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return result
		}
		attempts++
	}
}

func (e *Engine) backoff(attempt int) time.Duration {
	d := time.Duration(float64(e.baseRetryDelay) * math.Pow(2, float64(attempt)))
	if d > e.maxRetryDelay {
		return e.maxRetryDelay
	}
	return d
}

func (e *Engine) dispatch(ctx context.Context, taskID string, step *task.ExecutionStep) tool.Result {
	result, err := e.tools.Execute(ctx, step.ToolName, step.Parameters, taskID, 0)
	if err != nil {
		return tool.Result{Success: false, Error: err.Error()}
	}
	return result
}

// recordOutcome updates step state, creates a checkpoint on success,
// merges output into the global variable scope, and publishes a progress
// event, per spec.md §5.3's per-step state machine.
func (e *Engine) recordOutcome(plan *task.ExecutionPlan, step *task.ExecutionStep, result tool.Result, cps *checkpoint.Manager, stateMu, varMu *sync.Mutex, variables map[string]interface{}, cb Callbacks) {
	stateMu.Lock()
	var statesSnapshot map[string]task.StepState
	if result.Success {
		step.State = task.StepSucceeded
		statesSnapshot = snapshotStates(plan)
	} else {
		step.State = task.StepFailed
		if step.OnFailure == task.OnFailureSkip {
			cascadeSkip(plan, step.StepID)
		}
	}
	stateMu.Unlock()

	if result.Success {
		varMu.Lock()
		if variables != nil {
			variables[step.StepID+".output"] = result.Output
		}
		snapshot := snapshotVariables(variables)
		varMu.Unlock()
		cps.Create(fmt.Sprintf("after %s", step.StepID), step.StepID, statesSnapshot, snapshot)
	}

	cb.stepProgress(step, result)
	e.publishProgress(plan, step, stateMu)
}

// cascadeSkip must be called with stateMu held: it walks and mutates
// every step's State in the plan.
func cascadeSkip(plan *task.ExecutionPlan, failedStepID string) {
	changed := true
	for changed {
		changed = false
		for _, s := range plan.Steps {
			if s.State != task.StepPending {
				continue
			}
			for _, dep := range s.DependencyStepIDs {
				if dep == failedStepID || isSkipped(plan, dep) {
					s.State = task.StepSkipped
					changed = true
					break
				}
			}
		}
	}
}

func isSkipped(plan *task.ExecutionPlan, stepID string) bool {
	s := plan.StepByID(stepID)
	return s != nil && s.State == task.StepSkipped
}

// finalize sweeps any step that never reached a terminal state (blocked
// forever on a failed dependency, or abandoned by an abort) to Skipped —
// or Cancelled when the run context was cancelled — so Terminal()/Status()
// can be computed. Under on_failure=skip_step, recordOutcome has already
// marked dependents Skipped; under continue they stay Pending until this
// sweep, which is the only place "dependents of a failed-and-not-skipped
// step become skipped" is enforced for the continue policy.
func (e *Engine) finalize(plan *task.ExecutionPlan, runCtx context.Context) {
	cancelled := runCtx.Err() == context.Canceled
	for _, s := range plan.Steps {
		if s.State.IsTerminal() {
			continue
		}
		if cancelled {
			s.State = task.StepCancelled
		} else {
			s.State = task.StepSkipped
		}
	}
}

func snapshotStates(plan *task.ExecutionPlan) map[string]task.StepState {
	out := make(map[string]task.StepState, len(plan.Steps))
	for _, s := range plan.Steps {
		out[s.StepID] = s.State
	}
	return out
}

func snapshotVariables(variables map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(variables))
	for k, v := range variables {
		out[k] = v
	}
	return out
}

func (e *Engine) publishProgress(plan *task.ExecutionPlan, step *task.ExecutionStep, stateMu *sync.Mutex) {
	stateMu.Lock()
	total := len(plan.Steps)
	done := 0
	for _, s := range plan.Steps {
		if s.State.IsTerminal() {
			done++
		}
	}
	stateMu.Unlock()
	progress := 0.0
	if total > 0 {
		progress = float64(done) / float64(total)
	}
	e.bus.Publish(eventbus.Event{
		Type:             eventbus.TypeProgress,
		TaskID:           plan.TaskID,
		Timestamp:        time.Now(),
		StepID:           step.StepID,
		Progress:         progress,
		CurrentStepTitle: step.Title,
		TotalSteps:       total,
	})
}

func (e *Engine) publishTerminalEvent(plan *task.ExecutionPlan, status task.PlanStatus, elapsed time.Duration) {
	if status == task.PlanFailed {
		e.bus.Publish(eventbus.Event{
			Type:      eventbus.TypeFailure,
			TaskID:    plan.TaskID,
			Timestamp: time.Now(),
			Error:     fmt.Sprintf("plan %s", status),
		})
		return
	}

	// A cancelled plan is a terminal completion, not a failure: the caller
	// asked for it, so no failure event is emitted for it.

	e.bus.Publish(eventbus.Event{
		Type:               eventbus.TypeCompletion,
		TaskID:             plan.TaskID,
		Timestamp:          time.Now(),
		SuccessRate:        plan.SuccessRate(),
		TotalExecutionTime: elapsed.Seconds(),
		Summary:            fmt.Sprintf("plan %s finished with status %s", plan.PlanID, status),
	})
}
