package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/arx88/taskforge/pkg/llm"
	"github.com/arx88/taskforge/pkg/task"
)

// Planner produces a validated task.ExecutionPlan from a task description
// plus retrieved context. It is side-effect free: it never invokes tools,
// it only reads memory (via the retrievedContext parameter its caller —
// the Orchestrator — assembles beforehand).
type Planner struct {
	templates        []Template
	llmClient        llm.Client
	registeredTools  map[string]bool
	maxParallelSteps int
	planTimeout      time.Duration
}

// Option configures a Planner.
type Option func(*Planner)

// WithLLMClient sets the refinement LLM; defaults to llm.NoopClient{},
// which always fails and so always falls back to the deterministic
// template plan (spec.md §5.5).
func WithLLMClient(c llm.Client) Option {
	return func(p *Planner) { p.llmClient = c }
}

// WithRegisteredTools restricts which tool_names a refined plan may
// reference; a refined step naming an unregistered tool is rejected and
// the deterministic fallback is used instead.
func WithRegisteredTools(tools map[string]bool) Option {
	return func(p *Planner) { p.registeredTools = tools }
}

// WithConcurrencyDefaults sets the MaxParallelSteps/PlanTimeout stamped
// onto every produced plan.
func WithConcurrencyDefaults(maxParallelSteps int, planTimeout time.Duration) Option {
	return func(p *Planner) {
		p.maxParallelSteps = maxParallelSteps
		p.planTimeout = planTimeout
	}
}

// New creates a Planner over the given templates (pass DefaultTemplates()
// for the seeded seven-strategy catalog).
func New(templates []Template, opts ...Option) *Planner {
	p := &Planner{
		templates:        templates,
		llmClient:        llm.NoopClient{},
		maxParallelSteps: 4,
		planTimeout:      10 * time.Minute,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// refinedStep is the JSON shape the LLM is constrained to emit for one
// step — a subset of task.ExecutionStep's fields, the rest are stamped by
// the planner (state, complexity, retry policy) after parsing.
type refinedStep struct {
	StepID            string   `json:"step_id"`
	Title             string   `json:"title"`
	Description       string   `json:"description"`
	ToolName          string   `json:"tool_name"`
	DependencyStepIDs []string `json:"dependency_step_ids,omitempty"`
}

type refinedPlan struct {
	Steps []refinedStep `json:"steps"`
}

// refinementSchema is the strict JSON shape passed to
// llm.Client.CompleteStructured, per spec.md §5.5.
var refinementSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"steps": map[string]interface{}{
			"type": "array",
			"items": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"step_id":             map[string]interface{}{"type": "string"},
					"title":               map[string]interface{}{"type": "string"},
					"description":         map[string]interface{}{"type": "string"},
					"tool_name":           map[string]interface{}{"type": "string"},
					"dependency_step_ids": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
				},
				"required": []interface{}{"step_id", "title", "tool_name"},
			},
		},
	},
	"required": []interface{}{"steps"},
}

// Plan produces an ExecutionPlan for t. retrievedContext is prior memory
// context the Orchestrator assembled (may be empty); it is folded into
// the LLM refinement prompt only — the rule-based fallback never depends
// on it, so planning degrades gracefully with no memory backend at all.
func (p *Planner) Plan(ctx context.Context, t *task.Task, retrievedContext string) (*task.ExecutionPlan, error) {
	tpl := MatchStrategy(t.Description, p.templates)
	fallback := p.buildFallbackPlan(t, tpl)

	refined, err := p.refine(ctx, t, tpl, retrievedContext)
	if err != nil || refined == nil {
		return fallback, nil
	}

	if err := refined.Validate(p.registeredTools); err != nil {
		// Malformed LLM output per §5.5's contract: fall back rather than
		// surface the error to the caller.
		return fallback, nil
	}
	return refined, nil
}

// buildFallbackPlan is the deterministic, template-only plan used when no
// LLM is configured or its response is malformed/absent.
func (p *Planner) buildFallbackPlan(t *task.Task, tpl Template) *task.ExecutionPlan {
	steps := make([]*task.ExecutionStep, 0, tpl.StepCount)
	var prevID string
	for i := 0; i < tpl.StepCount; i++ {
		stepID := fmt.Sprintf("step-%d", i+1)
		toolName := tpl.RequiredTools[i%len(tpl.RequiredTools)]
		var deps []string
		if prevID != "" {
			deps = []string{prevID}
		}
		steps = append(steps, &task.ExecutionStep{
			StepID:            stepID,
			Title:             fmt.Sprintf("%s step %d", tpl.Strategy, i+1),
			Description:       fmt.Sprintf("Template-derived step using %s", toolName),
			ToolName:          toolName,
			DependencyStepIDs: deps,
			EstimatedDuration: tpl.EstimatedDuration / time.Duration(tpl.StepCount),
			Complexity:        tpl.Complexity,
			OnFailure:         task.OnFailureAbort,
			MaxRetries:        2,
			State:             task.StepPending,
		})
		prevID = stepID
	}

	return &task.ExecutionPlan{
		PlanID:             uuid.NewString(),
		TaskID:             t.TaskID,
		Title:              fmt.Sprintf("%s plan for %q", tpl.Strategy, truncate(t.Description, 60)),
		Steps:              steps,
		Strategy:           tpl.Strategy,
		EstimatedDuration:  tpl.EstimatedDuration,
		ComplexityScore:    complexityScore(tpl.Complexity),
		SuccessProbability: 0.8,
		RequiredTools:      tpl.RequiredTools,
		MaxParallelSteps:   p.maxParallelSteps,
		PlanTimeout:        p.planTimeout,
	}
}

// refine asks the configured LLM to emit a JSON-constrained refinement of
// the fallback plan. Returns (nil, nil) when the LLM is unconfigured or
// its output cannot be parsed — the caller treats that identically to an
// error and uses the deterministic fallback.
func (p *Planner) refine(ctx context.Context, t *task.Task, tpl Template, retrievedContext string) (*task.ExecutionPlan, error) {
	prompt := fmt.Sprintf(
		"Task: %s\nStrategy: %s\nAvailable tools: %v\nPrior context: %s\nProduce a JSON plan with a \"steps\" array; each step has step_id, title, tool_name (must be one of the available tools), and optional dependency_step_ids referencing earlier step_ids.",
		t.Description, tpl.Strategy, tpl.RequiredTools, retrievedContext,
	)

	raw, err := p.llmClient.CompleteStructured(ctx, []llm.Message{
		{Role: "system", Content: "You refine task execution plans into strict JSON. Emit only JSON, no prose."},
		{Role: "user", Content: prompt},
	}, llm.StructuredOutputConfig{Schema: refinementSchema})
	if err != nil {
		return nil, nil
	}

	var rp refinedPlan
	if err := json.Unmarshal([]byte(raw), &rp); err != nil || len(rp.Steps) == 0 {
		return nil, nil
	}

	steps := make([]*task.ExecutionStep, 0, len(rp.Steps))
	for _, rs := range rp.Steps {
		if rs.StepID == "" || rs.ToolName == "" {
			return nil, nil
		}
		steps = append(steps, &task.ExecutionStep{
			StepID:            rs.StepID,
			Title:             rs.Title,
			Description:       rs.Description,
			ToolName:          rs.ToolName,
			DependencyStepIDs: rs.DependencyStepIDs,
			EstimatedDuration: tpl.EstimatedDuration / time.Duration(len(rp.Steps)),
			Complexity:        tpl.Complexity,
			OnFailure:         task.OnFailureAbort,
			MaxRetries:        2,
			State:             task.StepPending,
		})
	}

	return &task.ExecutionPlan{
		PlanID:             uuid.NewString(),
		TaskID:             t.TaskID,
		Title:              fmt.Sprintf("%s plan for %q (LLM-refined)", tpl.Strategy, truncate(t.Description, 60)),
		Steps:              steps,
		Strategy:           tpl.Strategy,
		EstimatedDuration:  tpl.EstimatedDuration,
		ComplexityScore:    complexityScore(tpl.Complexity),
		SuccessProbability: 0.75,
		RequiredTools:      tpl.RequiredTools,
		MaxParallelSteps:   p.maxParallelSteps,
		PlanTimeout:        p.planTimeout,
	}, nil
}

func complexityScore(c task.Complexity) float64 {
	switch c {
	case task.ComplexityLow:
		return 0.25
	case task.ComplexityMedium:
		return 0.5
	case task.ComplexityHigh:
		return 0.85
	default:
		return 0.5
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
