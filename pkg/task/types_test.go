package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func step(id, tool string, deps ...string) *ExecutionStep {
	return &ExecutionStep{StepID: id, ToolName: tool, DependencyStepIDs: deps, State: StepPending}
}

func TestExecutionPlan_Validate_AcceptsWellFormedPlan(t *testing.T) {
	plan := &ExecutionPlan{Steps: []*ExecutionStep{
		step("a", "shell"),
		step("b", "shell", "a"),
	}}
	require.NoError(t, plan.Validate(map[string]bool{"shell": true}))
}

func TestExecutionPlan_Validate_RejectsDuplicateStepID(t *testing.T) {
	plan := &ExecutionPlan{Steps: []*ExecutionStep{
		step("a", "shell"),
		step("a", "shell"),
	}}
	err := plan.Validate(nil)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindValidation))
}

func TestExecutionPlan_Validate_RejectsUnknownDependency(t *testing.T) {
	plan := &ExecutionPlan{Steps: []*ExecutionStep{
		step("a", "shell", "missing"),
	}}
	err := plan.Validate(nil)
	require.Error(t, err)
}

func TestExecutionPlan_Validate_RejectsUnregisteredTool(t *testing.T) {
	plan := &ExecutionPlan{Steps: []*ExecutionStep{
		step("a", "not_a_tool"),
	}}
	err := plan.Validate(map[string]bool{"shell": true})
	require.Error(t, err)
}

func TestExecutionPlan_Validate_RejectsCycle(t *testing.T) {
	plan := &ExecutionPlan{Steps: []*ExecutionStep{
		step("a", "shell", "b"),
		step("b", "shell", "a"),
	}}
	err := plan.Validate(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cyclic")
}

func TestExecutionPlan_Validate_EmptyPlanIsValid(t *testing.T) {
	plan := &ExecutionPlan{}
	require.NoError(t, plan.Validate(nil))
}

func TestExecutionPlan_ReadySteps_OnlyUnblockedPendingSteps(t *testing.T) {
	a := step("a", "shell")
	a.State = StepSucceeded
	b := step("b", "shell", "a")
	c := step("c", "shell", "b")

	plan := &ExecutionPlan{Steps: []*ExecutionStep{a, b, c}}
	ready := plan.ReadySteps()

	require.Len(t, ready, 1)
	assert.Equal(t, "b", ready[0].StepID)
}

func TestExecutionPlan_ReadySteps_SkippedDependencySatisfies(t *testing.T) {
	a := step("a", "shell")
	a.State = StepSkipped
	b := step("b", "shell", "a")

	plan := &ExecutionPlan{Steps: []*ExecutionStep{a, b}}
	ready := plan.ReadySteps()

	require.Len(t, ready, 1)
	assert.Equal(t, "b", ready[0].StepID)
}

func TestExecutionPlan_Terminal_FalseUntilAllStepsTerminal(t *testing.T) {
	a := step("a", "shell")
	a.State = StepSucceeded
	b := step("b", "shell")
	b.State = StepRunning

	plan := &ExecutionPlan{Steps: []*ExecutionStep{a, b}}
	assert.False(t, plan.Terminal())

	b.State = StepFailed
	assert.True(t, plan.Terminal())
}

func TestExecutionPlan_Status(t *testing.T) {
	t.Run("all succeeded", func(t *testing.T) {
		a := step("a", "shell")
		a.State = StepSucceeded
		plan := &ExecutionPlan{Steps: []*ExecutionStep{a}}
		assert.Equal(t, PlanSucceeded, plan.Status())
	})

	t.Run("any cancelled wins", func(t *testing.T) {
		a := step("a", "shell")
		a.State = StepSucceeded
		b := step("b", "shell")
		b.State = StepCancelled
		plan := &ExecutionPlan{Steps: []*ExecutionStep{a, b}}
		assert.Equal(t, PlanCancelled, plan.Status())
	})

	t.Run("failure with a success is partial", func(t *testing.T) {
		a := step("a", "shell")
		a.State = StepSucceeded
		b := step("b", "shell")
		b.State = StepFailed
		plan := &ExecutionPlan{Steps: []*ExecutionStep{a, b}}
		assert.Equal(t, PlanPartial, plan.Status())
	})

	t.Run("all failed", func(t *testing.T) {
		a := step("a", "shell")
		a.State = StepFailed
		plan := &ExecutionPlan{Steps: []*ExecutionStep{a}}
		assert.Equal(t, PlanFailed, plan.Status())
	})
}

func TestExecutionPlan_SuccessRate(t *testing.T) {
	a := step("a", "shell")
	a.State = StepSucceeded
	b := step("b", "shell")
	b.State = StepFailed

	plan := &ExecutionPlan{Steps: []*ExecutionStep{a, b}}
	assert.Equal(t, 0.5, plan.SuccessRate())

	empty := &ExecutionPlan{}
	assert.Equal(t, 1.0, empty.SuccessRate())
}

func TestExecutionStep_Clone_IsIndependent(t *testing.T) {
	s := step("a", "shell", "x")
	s.Parameters = map[string]interface{}{"k": "v"}

	clone := s.Clone()
	clone.Parameters["k"] = "mutated"
	clone.DependencyStepIDs[0] = "y"

	assert.Equal(t, "v", s.Parameters["k"])
	assert.Equal(t, "x", s.DependencyStepIDs[0])
}

func TestStepState_IsTerminal(t *testing.T) {
	assert.False(t, StepPending.IsTerminal())
	assert.False(t, StepRunning.IsTerminal())
	assert.True(t, StepSucceeded.IsTerminal())
	assert.True(t, StepFailed.IsTerminal())
	assert.True(t, StepSkipped.IsTerminal())
	assert.True(t, StepCancelled.IsTerminal())
}
