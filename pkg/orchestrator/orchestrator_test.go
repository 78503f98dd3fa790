package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arx88/taskforge/pkg/engine"
	"github.com/arx88/taskforge/pkg/eventbus"
	"github.com/arx88/taskforge/pkg/intent"
	"github.com/arx88/taskforge/pkg/plan"
	"github.com/arx88/taskforge/pkg/task"
	"github.com/arx88/taskforge/pkg/tool"
)

type okTool struct{ name string }

func (t *okTool) Describe() tool.Descriptor { return tool.Descriptor{Name: t.name} }
func (t *okTool) Invoke(_ context.Context, _ map[string]interface{}) tool.Result {
	return tool.Result{Success: true}
}

func newTestOrchestrator(t *testing.T) *Orchestrator {
	registry := tool.NewRegistry()
	require.NoError(t, registry.Register(&okTool{name: "shell"}))

	classifier := intent.New(intent.DefaultWordLists())
	planner := plan.New(plan.DefaultTemplates(), plan.WithRegisteredTools(map[string]bool{"shell": true}))
	eng := engine.New(registry, eventbus.New())

	return New(classifier, planner, eng, nil, eventbus.New())
}

func TestOrchestrateTask_ChatOnlyMessage_ReturnsChatAnswer(t *testing.T) {
	o := newTestOrchestrator(t)

	snap, err := o.OrchestrateTask(context.Background(), &task.Task{TaskID: "t1", Description: "hello"})
	require.NoError(t, err)
	assert.Equal(t, StatusChatAnswer, snap.Status)
	assert.NotEmpty(t, snap.ChatAnswer)

	_, foundInHistory := o.GetStatus("t1")
	assert.True(t, foundInHistory)
	assert.Len(t, o.Active(), 0)
}

func TestOrchestrateTask_TaskMessage_PlansAndExecutesToSuccess(t *testing.T) {
	o := newTestOrchestrator(t)

	snap, err := o.OrchestrateTask(context.Background(), &task.Task{TaskID: "t1", Description: "check the system and monitor the service"})
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, snap.Status)
	assert.Equal(t, task.StrategyAdministration, snap.Strategy)
	assert.Equal(t, float64(1), snap.Progress)
}

func TestOrchestrateTask_DuplicateTaskIDRejected(t *testing.T) {
	o := newTestOrchestrator(t)
	o.active["t1"] = newContext(&task.Task{TaskID: "t1"})

	_, err := o.OrchestrateTask(context.Background(), &task.Task{TaskID: "t1", Description: "check the system status"})
	require.Error(t, err)
	assert.True(t, task.IsKind(err, task.KindValidation))
}

func TestGetStatus_UnknownTaskNotFound(t *testing.T) {
	o := newTestOrchestrator(t)
	_, ok := o.GetStatus("does-not-exist")
	assert.False(t, ok)
}

func TestCancelOrchestration_UnknownTaskErrors(t *testing.T) {
	o := newTestOrchestrator(t)
	err := o.CancelOrchestration("does-not-exist")
	assert.Error(t, err)
}

func TestGetMetrics_ComputesSuccessRateAcrossHistory(t *testing.T) {
	o := newTestOrchestrator(t)

	_, err := o.OrchestrateTask(context.Background(), &task.Task{TaskID: "t1", Description: "check the system status"})
	require.NoError(t, err)
	_, err = o.OrchestrateTask(context.Background(), &task.Task{TaskID: "t2", Description: "hello"})
	require.NoError(t, err)

	m := o.GetMetrics()
	assert.Equal(t, 2, m.TotalCompleted)
	assert.Equal(t, 0, m.ActiveCount)
	assert.Equal(t, float64(1), m.SuccessRate)
}

func TestGetRecommendations_EmptyWithoutMemoryManager(t *testing.T) {
	o := newTestOrchestrator(t)
	assert.Empty(t, o.GetRecommendations())
}
