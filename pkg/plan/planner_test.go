package plan

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arx88/taskforge/pkg/llm"
	"github.com/arx88/taskforge/pkg/task"
)

// fakeLLM returns a canned structured-output response for CompleteStructured
// and fails Complete; used to exercise the refinement path without a real
// LLM backend.
type fakeLLM struct {
	structuredResponse string
	structuredErr      error
}

func (f *fakeLLM) Complete(_ context.Context, _ []llm.Message) (string, error) {
	return "", assertNever
}
func (f *fakeLLM) CompleteStructured(_ context.Context, _ []llm.Message, _ llm.StructuredOutputConfig) (string, error) {
	return f.structuredResponse, f.structuredErr
}
func (f *fakeLLM) ModelName() string { return "fake" }
func (f *fakeLLM) Close() error      { return nil }

var assertNever = &fakeError{"Complete should not be called by the planner"}

type fakeError struct{ msg string }

func (e *fakeError) Error() string { return e.msg }

func TestMatchStrategy_KeywordMatch(t *testing.T) {
	templates := DefaultTemplates()

	tpl := MatchStrategy("please build a website for my shop", templates)
	assert.Equal(t, task.StrategyWebDevelopment, tpl.Strategy)

	tpl = MatchStrategy("analyze this sales dataset", templates)
	assert.Equal(t, task.StrategyDataAnalysis, tpl.Strategy)
}

func TestMatchStrategy_FallsBackToGeneral(t *testing.T) {
	tpl := MatchStrategy("do the thing", DefaultTemplates())
	assert.Equal(t, task.StrategyGeneral, tpl.Strategy)
}

func TestPlan_NoopLLM_ProducesDeterministicFallback(t *testing.T) {
	p := New(DefaultTemplates())

	got, err := p.Plan(context.Background(), &task.Task{TaskID: "t1", Description: "install and configure a new service"}, "")
	require.NoError(t, err)
	require.NotEmpty(t, got.Steps)
	assert.Equal(t, task.StrategyAdministration, got.Strategy)
	require.NoError(t, got.Validate(nil))
}

func TestPlan_FallbackPlan_IsValidDAG(t *testing.T) {
	p := New(DefaultTemplates())

	got, err := p.Plan(context.Background(), &task.Task{TaskID: "t1", Description: "build a web app"}, "")
	require.NoError(t, err)

	// Each step but the first depends on its predecessor: a linear chain,
	// trivially acyclic.
	require.NoError(t, got.Validate(map[string]bool{"shell": true, "file_write": true, "file_read": true}))
}

func TestPlan_LLMRefinement_UsedWhenValid(t *testing.T) {
	llmClient := &fakeLLM{structuredResponse: `{"steps":[{"step_id":"s1","title":"Run script","tool_name":"shell"}]}`}
	p := New(DefaultTemplates(), WithLLMClient(llmClient), WithRegisteredTools(map[string]bool{"shell": true}))

	got, err := p.Plan(context.Background(), &task.Task{TaskID: "t1", Description: "install a new service"}, "")
	require.NoError(t, err)
	require.Len(t, got.Steps, 1)
	assert.Equal(t, "s1", got.Steps[0].StepID)
}

func TestPlan_LLMRefinement_FallsBackOnMalformedJSON(t *testing.T) {
	llmClient := &fakeLLM{structuredResponse: "not json"}
	p := New(DefaultTemplates(), WithLLMClient(llmClient))

	got, err := p.Plan(context.Background(), &task.Task{TaskID: "t1", Description: "install a new service"}, "")
	require.NoError(t, err)
	assert.Equal(t, task.StrategyAdministration, got.Strategy)
	assert.Greater(t, len(got.Steps), 0)
}

func TestPlan_LLMRefinement_FallsBackOnUnregisteredTool(t *testing.T) {
	llmClient := &fakeLLM{structuredResponse: `{"steps":[{"step_id":"s1","title":"x","tool_name":"not_a_real_tool"}]}`}
	p := New(DefaultTemplates(), WithLLMClient(llmClient), WithRegisteredTools(map[string]bool{"shell": true}))

	got, err := p.Plan(context.Background(), &task.Task{TaskID: "t1", Description: "install a new service"}, "")
	require.NoError(t, err)
	// Fallback plan only ever uses the template's own RequiredTools.
	for _, s := range got.Steps {
		assert.NotEqual(t, "not_a_real_tool", s.ToolName)
	}
}

func TestPlan_LLMRefinement_FallsBackOnError(t *testing.T) {
	llmClient := &fakeLLM{structuredErr: assertNever}
	p := New(DefaultTemplates(), WithLLMClient(llmClient))

	got, err := p.Plan(context.Background(), &task.Task{TaskID: "t1", Description: "install a new service"}, "")
	require.NoError(t, err)
	assert.Greater(t, len(got.Steps), 0)
}
