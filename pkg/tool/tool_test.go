package tool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arx88/taskforge/pkg/task"
)

type echoTool struct{}

func (echoTool) Describe() Descriptor {
	return Descriptor{
		Name: "echo",
		Parameters: []ParamSpec{
			{Name: "text", Type: "string", Required: true},
			{Name: "loud", Type: "bool"},
		},
		SideEffect: SideEffectReadOnly,
		Idempotent: true,
	}
}

func (echoTool) Invoke(_ context.Context, params map[string]interface{}) Result {
	text, _ := params["text"].(string)
	return Result{Success: true, Output: map[string]interface{}{"text": text}}
}

type hangingTool struct{}

func (hangingTool) Describe() Descriptor {
	return Descriptor{Name: "hang", MaxTimeout: 10 * time.Millisecond}
}

func (hangingTool) Invoke(ctx context.Context, _ map[string]interface{}) Result {
	<-ctx.Done()
	return Result{Success: false, Error: "cancelled"}
}

func TestRegistry_RegisterAndExecute(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool{}))

	res, err := r.Execute(context.Background(), "echo", map[string]interface{}{"text": "hi"}, "task-1", 0)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "hi", res.Output["text"])
}

func TestRegistry_Register_DuplicateNameFails(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool{}))
	assert.Error(t, r.Register(echoTool{}))
}

func TestRegistry_Execute_UnknownToolErrors(t *testing.T) {
	r := NewRegistry()
	_, err := r.Execute(context.Background(), "missing", nil, "task-1", 0)
	require.Error(t, err)
	assert.True(t, task.IsKind(err, task.KindValidation))
}

func TestRegistry_Execute_UnknownParamRejected(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool{}))

	_, err := r.Execute(context.Background(), "echo", map[string]interface{}{"bogus": "x"}, "task-1", 0)
	require.Error(t, err)
}

func TestRegistry_Execute_MissingRequiredParamRejected(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool{}))

	_, err := r.Execute(context.Background(), "echo", map[string]interface{}{}, "task-1", 0)
	require.Error(t, err)
}

func TestRegistry_Execute_TimeoutProducesFailureResultNotError(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(hangingTool{}))

	res, err := r.Execute(context.Background(), "hang", nil, "task-1", 0)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "exceeded its timeout")
}

func TestRegistry_NamesAndHas(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool{}))

	assert.True(t, r.Has("echo"))
	assert.False(t, r.Has("missing"))
	assert.Contains(t, r.Names(), "echo")
}

func TestTaskIDFromContext_RoundTrips(t *testing.T) {
	ctx := withTaskID(context.Background(), "task-42")
	assert.Equal(t, "task-42", TaskIDFromContext(ctx))
}
