package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arx88/taskforge/pkg/eventbus"
	"github.com/arx88/taskforge/pkg/task"
	"github.com/arx88/taskforge/pkg/tool"
)

// scriptedTool succeeds or fails according to a per-call script, and
// counts its invocations so retry behavior can be asserted.
type scriptedTool struct {
	name       string
	idempotent bool
	script     []bool // true = succeed, false = fail; last entry repeats
	calls      atomic.Int32
}

func (t *scriptedTool) Describe() tool.Descriptor {
	return tool.Descriptor{Name: t.name, Idempotent: t.idempotent}
}

func (t *scriptedTool) Invoke(_ context.Context, _ map[string]interface{}) tool.Result {
	i := int(t.calls.Add(1)) - 1
	ok := t.script[len(t.script)-1]
	if i < len(t.script) {
		ok = t.script[i]
	}
	if ok {
		return tool.Result{Success: true, Output: map[string]interface{}{"ran": t.name}}
	}
	return tool.Result{Success: false, Error: "scripted failure"}
}

// hangingTool never returns until its context is cancelled.
type hangingTool struct{ name string }

func (t *hangingTool) Describe() tool.Descriptor { return tool.Descriptor{Name: t.name} }
func (t *hangingTool) Invoke(ctx context.Context, _ map[string]interface{}) tool.Result {
	<-ctx.Done()
	return tool.Result{Success: false, Error: "cancelled"}
}

func newRegistry(t *testing.T, tools ...tool.Tool) *tool.Registry {
	r := tool.NewRegistry()
	for _, tl := range tools {
		require.NoError(t, r.Register(tl))
	}
	return r
}

func linearPlan(taskID string, steps ...*task.ExecutionStep) *task.ExecutionPlan {
	return &task.ExecutionPlan{
		PlanID:           "p-" + taskID,
		TaskID:           taskID,
		Steps:            steps,
		MaxParallelSteps: 4,
	}
}

func TestRun_AllStepsSucceed_PlanSucceeds(t *testing.T) {
	step1 := &task.ExecutionStep{StepID: "a", ToolName: "ok", OnFailure: task.OnFailureAbort}
	step2 := &task.ExecutionStep{StepID: "b", ToolName: "ok", DependencyStepIDs: []string{"a"}, OnFailure: task.OnFailureAbort}
	plan := linearPlan("t1", step1, step2)

	r := newRegistry(t, &scriptedTool{name: "ok", script: []bool{true}})
	eng := New(r, eventbus.New())

	status, cps, err := eng.Run(context.Background(), plan, map[string]interface{}{}, Callbacks{})
	require.NoError(t, err)
	assert.Equal(t, task.PlanSucceeded, status)
	assert.True(t, plan.Terminal())
	assert.Equal(t, task.StepSucceeded, step1.State)
	assert.Equal(t, task.StepSucceeded, step2.State)
	assert.Len(t, cps.List(), 2)
}

func TestRun_RetriesIdempotentToolOnFailure(t *testing.T) {
	step := &task.ExecutionStep{StepID: "a", ToolName: "flaky", MaxRetries: 2, OnFailure: task.OnFailureAbort}
	plan := linearPlan("t1", step)

	flaky := &scriptedTool{name: "flaky", idempotent: true, script: []bool{false, false, true}}
	r := newRegistry(t, flaky)
	eng := New(r, eventbus.New())

	status, _, err := eng.Run(context.Background(), plan, nil, Callbacks{})
	require.NoError(t, err)
	assert.Equal(t, task.PlanSucceeded, status)
	assert.EqualValues(t, 3, flaky.calls.Load())
}

func TestRun_NonIdempotentToolNeverRetries(t *testing.T) {
	step := &task.ExecutionStep{StepID: "a", ToolName: "sideeffect", MaxRetries: 3, OnFailure: task.OnFailureAbort}
	plan := linearPlan("t1", step)

	sideeffect := &scriptedTool{name: "sideeffect", idempotent: false, script: []bool{false}}
	r := newRegistry(t, sideeffect)
	eng := New(r, eventbus.New())

	_, _, err := eng.Run(context.Background(), plan, nil, Callbacks{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, sideeffect.calls.Load())
	assert.Equal(t, task.StepFailed, step.State)
}

func TestRun_AbortPolicySkipsRemainingSteps(t *testing.T) {
	bad := &task.ExecutionStep{StepID: "a", ToolName: "boom", OnFailure: task.OnFailureAbort}
	// later only becomes ready in the round after "a" fails, so it
	// exercises the abort path rather than racing "a" in the same round.
	later := &task.ExecutionStep{StepID: "b", ToolName: "ok", DependencyStepIDs: []string{"a"}, OnFailure: task.OnFailureAbort}
	plan := linearPlan("t1", bad, later)

	r := newRegistry(t, &scriptedTool{name: "boom", script: []bool{false}}, &scriptedTool{name: "ok", script: []bool{true}})
	eng := New(r, eventbus.New())

	status, _, err := eng.Run(context.Background(), plan, nil, Callbacks{})
	require.NoError(t, err)
	assert.Equal(t, task.StepFailed, bad.State)
	assert.Equal(t, task.StepSkipped, later.State)
	assert.Equal(t, task.PlanFailed, status)
}

func TestRun_SkipStepPolicyCascadesToDependentsOnly(t *testing.T) {
	bad := &task.ExecutionStep{StepID: "a", ToolName: "boom", OnFailure: task.OnFailureSkip}
	dependent := &task.ExecutionStep{StepID: "b", ToolName: "ok", DependencyStepIDs: []string{"a"}, OnFailure: task.OnFailureAbort}
	independent := &task.ExecutionStep{StepID: "c", ToolName: "ok", OnFailure: task.OnFailureAbort}
	plan := linearPlan("t1", bad, dependent, independent)

	r := newRegistry(t, &scriptedTool{name: "boom", script: []bool{false}}, &scriptedTool{name: "ok", script: []bool{true}})
	eng := New(r, eventbus.New())

	status, _, err := eng.Run(context.Background(), plan, nil, Callbacks{})
	require.NoError(t, err)
	assert.Equal(t, task.StepFailed, bad.State)
	assert.Equal(t, task.StepSkipped, dependent.State)
	assert.Equal(t, task.StepSucceeded, independent.State)
	assert.Equal(t, task.PlanPartial, status)
}

func TestRun_ContinuePolicyLeavesOtherBranchesRunning(t *testing.T) {
	bad := &task.ExecutionStep{StepID: "a", ToolName: "boom", OnFailure: task.OnFailureContinue}
	// blocked forever on a's failure (continue never satisfies a
	// dependency) — finalize's terminal sweep is what gives it a state.
	blocked := &task.ExecutionStep{StepID: "b", ToolName: "ok", DependencyStepIDs: []string{"a"}, OnFailure: task.OnFailureAbort}
	independent := &task.ExecutionStep{StepID: "c", ToolName: "ok", OnFailure: task.OnFailureAbort}
	plan := linearPlan("t1", bad, blocked, independent)

	r := newRegistry(t, &scriptedTool{name: "boom", script: []bool{false}}, &scriptedTool{name: "ok", script: []bool{true}})
	eng := New(r, eventbus.New())

	status, _, err := eng.Run(context.Background(), plan, nil, Callbacks{})
	require.NoError(t, err)
	assert.True(t, plan.Terminal())
	assert.Equal(t, task.StepSkipped, blocked.State)
	assert.Equal(t, task.StepSucceeded, independent.State)
	assert.Equal(t, task.PlanPartial, status)
}

func TestRun_CancelReturnsCancelledStatus(t *testing.T) {
	hang := &task.ExecutionStep{StepID: "a", ToolName: "hang", OnFailure: task.OnFailureAbort}
	plan := linearPlan("t1", hang)

	r := newRegistry(t, &hangingTool{name: "hang"})
	eng := New(r, eventbus.New())

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	var status task.PlanStatus
	go func() {
		defer wg.Done()
		status, _, _ = eng.Run(ctx, plan, nil, Callbacks{})
	}()

	time.Sleep(20 * time.Millisecond)
	eng.Cancel("t1")
	cancel()
	wg.Wait()

	assert.Equal(t, task.PlanCancelled, status)
}

func TestRun_CancelPublishesCompletionNotFailure(t *testing.T) {
	hang := &task.ExecutionStep{StepID: "a", ToolName: "hang", OnFailure: task.OnFailureAbort}
	plan := linearPlan("t1", hang)

	r := newRegistry(t, &hangingTool{name: "hang"})
	bus := eventbus.New()
	sub, unsub := bus.Subscribe("t1")
	defer unsub()
	eng := New(r, bus)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _, _ = eng.Run(ctx, plan, nil, Callbacks{})
	}()

	time.Sleep(20 * time.Millisecond)
	eng.Cancel("t1")
	cancel()
	wg.Wait()

	var ev eventbus.Event
	for ev = range sub {
		if ev.Type == eventbus.TypeCompletion || ev.Type == eventbus.TypeFailure {
			break
		}
	}
	assert.Equal(t, eventbus.TypeCompletion, ev.Type)
}

func TestRun_InvalidPlanReturnsErrorWithoutDispatch(t *testing.T) {
	plan := linearPlan("t1", &task.ExecutionStep{StepID: "a", ToolName: "unregistered"})
	eng := New(tool.NewRegistry(), eventbus.New())

	_, _, err := eng.Run(context.Background(), plan, nil, Callbacks{})
	assert.Error(t, err)
}

func TestRun_CallbacksAreInvoked(t *testing.T) {
	step := &task.ExecutionStep{StepID: "a", ToolName: "ok", OnFailure: task.OnFailureAbort}
	plan := linearPlan("t1", step)
	r := newRegistry(t, &scriptedTool{name: "ok", script: []bool{true}})
	eng := New(r, eventbus.New())

	var progressCalls, completeCalls atomic.Int32
	cb := Callbacks{
		OnStepProgress: func(*task.ExecutionStep, tool.Result) { progressCalls.Add(1) },
		OnPlanComplete: func(*task.ExecutionPlan, task.PlanStatus) { completeCalls.Add(1) },
	}

	_, _, err := eng.Run(context.Background(), plan, nil, cb)
	require.NoError(t, err)
	assert.EqualValues(t, 1, progressCalls.Load())
	assert.EqualValues(t, 1, completeCalls.Load())
}

func TestRun_PanickingCallbackDoesNotCrashEngine(t *testing.T) {
	step := &task.ExecutionStep{StepID: "a", ToolName: "ok", OnFailure: task.OnFailureAbort}
	plan := linearPlan("t1", step)
	r := newRegistry(t, &scriptedTool{name: "ok", script: []bool{true}})
	eng := New(r, eventbus.New())

	cb := Callbacks{
		OnStepProgress: func(*task.ExecutionStep, tool.Result) { panic("boom") },
	}

	assert.NotPanics(t, func() {
		_, _, err := eng.Run(context.Background(), plan, nil, cb)
		require.NoError(t, err)
	})
}

func TestRun_PublishesEventsOnBus(t *testing.T) {
	step := &task.ExecutionStep{StepID: "a", ToolName: "ok", OnFailure: task.OnFailureAbort}
	plan := linearPlan("t1", step)
	r := newRegistry(t, &scriptedTool{name: "ok", script: []bool{true}})
	bus := eventbus.New()
	sub, unsub := bus.Subscribe("t1")
	defer unsub()
	eng := New(r, bus)

	_, _, err := eng.Run(context.Background(), plan, nil, Callbacks{})
	require.NoError(t, err)

	ev := <-sub
	assert.Equal(t, eventbus.TypeProgress, ev.Type)
	ev = <-sub
	assert.Equal(t, eventbus.TypeCompletion, ev.Type)
}

func TestRun_MaxParallelStepsBoundsConcurrency(t *testing.T) {
	var concurrent, peak atomic.Int32
	slow := func(name string) *slowTool { return &slowTool{name: name, concurrent: &concurrent, peak: &peak} }

	steps := []*task.ExecutionStep{}
	for i := 0; i < 6; i++ {
		name := string(rune('a' + i))
		steps = append(steps, &task.ExecutionStep{StepID: name, ToolName: name, OnFailure: task.OnFailureAbort})
	}
	tools := make([]tool.Tool, 0, len(steps))
	for _, s := range steps {
		tools = append(tools, slow(s.ToolName))
	}
	r := newRegistry(t, tools...)
	plan := linearPlan("t1", steps...)
	plan.MaxParallelSteps = 2

	eng := New(r, eventbus.New())
	_, _, err := eng.Run(context.Background(), plan, nil, Callbacks{})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

type slowTool struct {
	name       string
	concurrent *atomic.Int32
	peak       *atomic.Int32
}

func (t *slowTool) Describe() tool.Descriptor { return tool.Descriptor{Name: t.name} }
func (t *slowTool) Invoke(_ context.Context, _ map[string]interface{}) tool.Result {
	n := t.concurrent.Add(1)
	for {
		p := t.peak.Load()
		if n <= p || t.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)
	t.concurrent.Add(-1)
	return tool.Result{Success: true}
}
