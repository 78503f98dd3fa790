// Package orchestrator implements the Task Orchestrator: the top-level
// state machine that receives a task and drives it through intent
// classification, planning, execution, and adaptation (spec.md §2/§5.6).
//
// Grounded in the re-architecture note spec.md §9 gives this component —
// "no global singletons; the orchestrator owns its collaborators
// explicitly" — and in the teacher's mutex-guarded registry idiom
// (registry.BaseRegistry[T]) generalized from a name->implementation map
// to a task_id->in-flight-context map.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/arx88/taskforge/pkg/checkpoint"
	"github.com/arx88/taskforge/pkg/engine"
	"github.com/arx88/taskforge/pkg/eventbus"
	"github.com/arx88/taskforge/pkg/intent"
	"github.com/arx88/taskforge/pkg/llm"
	"github.com/arx88/taskforge/pkg/memory"
	"github.com/arx88/taskforge/pkg/plan"
	"github.com/arx88/taskforge/pkg/task"
)

// Status is the Orchestrator's own state machine, a superset of
// task.PlanStatus that also covers the pre-planning and chat-only paths
// (spec.md §5.6: "submitted -> classified -> (chat_answer | planning) ->
// plan_ready -> executing -> (succeeded|failed|cancelled) -> recorded").
type Status string

const (
	StatusSubmitted   Status = "submitted"
	StatusClassified  Status = "classified"
	StatusPlanning    Status = "planning"
	StatusExecuting   Status = "executing"
	StatusChatAnswer  Status = "chat_answer"
	StatusSucceeded   Status = "succeeded"
	StatusPartial     Status = "partial"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
)

func fromPlanStatus(s task.PlanStatus) Status {
	switch s {
	case task.PlanSucceeded:
		return StatusSucceeded
	case task.PlanPartial:
		return StatusPartial
	case task.PlanCancelled:
		return StatusCancelled
	default:
		return StatusFailed
	}
}

// OrchestrationContext owns everything scoped to one in-flight task: its
// plan, its variable scopes and its checkpoints. It holds no cancellation
// state; cancellation goes through Engine.Cancel. It is the unit the
// active-orchestrations map and history ring hold.
type OrchestrationContext struct {
	mu sync.RWMutex

	Task      *task.Task
	Status    Status
	Classification intent.Classification
	Plan      *task.ExecutionPlan
	Variables map[string]interface{}
	Checkpoints *checkpoint.Manager
	ChatAnswer string
	Error     string
	StartedAt time.Time
	EndedAt   time.Time
}

func newContext(t *task.Task) *OrchestrationContext {
	return &OrchestrationContext{
		Task:      t,
		Status:    StatusSubmitted,
		Variables: make(map[string]interface{}),
		StartedAt: time.Now(),
	}
}

func (c *OrchestrationContext) setStatus(s Status) {
	c.mu.Lock()
	c.Status = s
	c.mu.Unlock()
}

// Snapshot is a point-in-time, lock-free copy of an OrchestrationContext
// suitable for returning across an API boundary.
type Snapshot struct {
	TaskID     string        `json:"task_id"`
	Status     Status        `json:"status"`
	Strategy   task.Strategy `json:"strategy,omitempty"`
	Progress   float64       `json:"progress"`
	ChatAnswer string        `json:"chat_answer,omitempty"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	EndedAt    time.Time     `json:"ended_at,omitempty"`
}

func (c *OrchestrationContext) snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := Snapshot{
		TaskID:     c.Task.TaskID,
		Status:     c.Status,
		ChatAnswer: c.ChatAnswer,
		Error:      c.Error,
		StartedAt:  c.StartedAt,
		EndedAt:    c.EndedAt,
	}
	if c.Plan != nil {
		s.Strategy = c.Plan.Strategy
		s.Progress = c.Plan.SuccessRate()
		if !c.Plan.Terminal() {
			total := len(c.Plan.Steps)
			done := 0
			for _, step := range c.Plan.Steps {
				if step.State.IsTerminal() {
					done++
				}
			}
			if total > 0 {
				s.Progress = float64(done) / float64(total)
			}
		}
	}
	return s
}

// historyCapacity bounds the orchestration_history ring per spec.md §6's
// "bounded in-memory lifecycle, no durable cross-restart orchestration."
const historyCapacity = 500

// Orchestrator wires the Intent Classifier, Planner, ExecutionEngine, and
// MemoryManager together. One instance is shared process-wide.
type Orchestrator struct {
	classifier *intent.Classifier
	planner    *plan.Planner
	engine     *engine.Engine
	mem        *memory.Manager
	bus        *eventbus.Bus
	chatClient llm.Client

	mu     sync.Mutex
	active map[string]*OrchestrationContext
	history []Snapshot

	recs singleflight.Group
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithChatClient sets the LLM used to answer chat-only (non-task)
// messages directly; defaults to llm.NoopClient{}, which always errors, so
// a chat-only message falls back to a canned acknowledgement.
func WithChatClient(c llm.Client) Option {
	return func(o *Orchestrator) { o.chatClient = c }
}

// New creates an Orchestrator over its four collaborating subsystems.
func New(classifier *intent.Classifier, planner *plan.Planner, eng *engine.Engine, mem *memory.Manager, bus *eventbus.Bus, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		classifier: classifier,
		planner:    planner,
		engine:     eng,
		mem:        mem,
		bus:        bus,
		chatClient: llm.NoopClient{},
		active:     make(map[string]*OrchestrationContext),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// OrchestrateTask is the single entry point: classify, then either answer
// as chat or plan-and-execute. It returns once the task reaches a terminal
// status; callers wanting live progress should subscribe to the event bus
// for TaskID before calling, since events are published as the task runs.
func (o *Orchestrator) OrchestrateTask(ctx context.Context, t *task.Task) (Snapshot, error) {
	occ, err := o.admit(t)
	if err != nil {
		return Snapshot{}, err
	}
	return o.run(ctx, occ), nil
}

// SubmitAsync admits t and runs classification/planning/execution on a
// detached background context, returning as soon as the task is admitted
// (status "submitted") rather than waiting for a terminal state. Callers —
// the HTTP façade, in particular — poll GetStatus or subscribe via Events
// for the terminal completion/failure.
func (o *Orchestrator) SubmitAsync(t *task.Task) (Snapshot, error) {
	occ, err := o.admit(t)
	if err != nil {
		return Snapshot{}, err
	}
	go o.run(context.Background(), occ)
	return occ.snapshot(), nil
}

func (o *Orchestrator) run(ctx context.Context, occ *OrchestrationContext) Snapshot {
	classification := o.classifier.Classify(occ.Task.Description)
	occ.mu.Lock()
	occ.Classification = classification
	occ.mu.Unlock()
	occ.setStatus(StatusClassified)

	if classification.Path == intent.PathChat {
		return o.answerChat(ctx, occ, classification)
	}

	snap, _ := o.planAndExecute(ctx, occ, classification)
	return snap
}

// Events subscribes to taskID's realtime event-bus topic (spec.md §7.1's
// GET /orchestration/events/{task_id}). Returns a closed channel when no
// bus was wired (e.g. in tests constructing an Orchestrator without one).
func (o *Orchestrator) Events(taskID string) (<-chan eventbus.Event, func()) {
	if o.bus == nil {
		ch := make(chan eventbus.Event)
		close(ch)
		return ch, func() {}
	}
	return o.bus.Subscribe(taskID)
}

// admit registers a new OrchestrationContext for t, rejecting a task_id
// already in flight (spec.md §5.6's duplicate-submission rule).
func (o *Orchestrator) admit(t *task.Task) (*OrchestrationContext, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.active[t.TaskID]; exists {
		return nil, task.ValidationError("task %q is already active", t.TaskID)
	}
	occ := newContext(t)
	o.active[t.TaskID] = occ
	return occ, nil
}

func (o *Orchestrator) answerChat(ctx context.Context, occ *OrchestrationContext, c intent.Classification) Snapshot {
	answer, err := o.chatClient.Complete(ctx, []llm.Message{
		{Role: "user", Content: c.Message},
	})
	if err != nil {
		answer = "Got it — let me know if you'd like me to act on that."
	}

	occ.mu.Lock()
	occ.ChatAnswer = answer
	occ.EndedAt = time.Now()
	occ.mu.Unlock()
	occ.setStatus(StatusChatAnswer)

	return o.retire(occ)
}

func (o *Orchestrator) planAndExecute(ctx context.Context, occ *OrchestrationContext, c intent.Classification) (Snapshot, error) {
	retrieved := o.retrieveContext(ctx, c.Message)

	occ.setStatus(StatusPlanning)
	producedPlan, err := o.planner.Plan(ctx, occ.Task, retrieved)
	if err != nil {
		occ.mu.Lock()
		occ.Error = err.Error()
		occ.EndedAt = time.Now()
		occ.mu.Unlock()
		occ.setStatus(StatusFailed)
		return o.retire(occ), nil
	}

	occ.mu.Lock()
	occ.Plan = producedPlan
	occ.mu.Unlock()
	occ.setStatus(StatusExecuting)

	status, cps, runErr := o.engine.Run(ctx, producedPlan, occ.Variables, engine.Callbacks{})
	if runErr != nil {
		occ.mu.Lock()
		occ.Error = runErr.Error()
		occ.EndedAt = time.Now()
		occ.mu.Unlock()
		occ.setStatus(StatusFailed)
		return o.retire(occ), nil
	}

	occ.mu.Lock()
	occ.Checkpoints = cps
	occ.EndedAt = time.Now()
	occ.mu.Unlock()
	occ.setStatus(fromPlanStatus(status))

	o.recordEpisode(ctx, occ, status)
	return o.retire(occ), nil
}

func (o *Orchestrator) retrieveContext(ctx context.Context, query string) string {
	if o.mem == nil {
		return memory.NoRelevantContext
	}
	results, err := o.mem.RetrieveRelevantContext(ctx, query, memory.StoreEpisodic, 3)
	if err != nil || len(results) == 0 {
		return memory.NoRelevantContext
	}
	out := ""
	for i, r := range results {
		if i > 0 {
			out += "\n"
		}
		out += r.Text
	}
	return out
}

func (o *Orchestrator) recordEpisode(ctx context.Context, occ *OrchestrationContext, status task.PlanStatus) {
	if o.mem == nil {
		return
	}
	occ.mu.RLock()
	t, p := occ.Task, occ.Plan
	occ.mu.RUnlock()

	var actions []string
	for _, s := range p.Steps {
		actions = append(actions, fmt.Sprintf("%s(%s)", s.ToolName, s.StepID))
	}
	_ = o.mem.StoreEpisode(ctx, &memory.Episode{
		Title:       t.Description,
		Description: fmt.Sprintf("strategy=%s status=%s", p.Strategy, status),
		Actions:     actions,
		Success:     status == task.PlanSucceeded || status == task.PlanPartial,
		Importance:  3,
		Tags:        []string{string(p.Strategy), string(status)},
	})
	o.mem.UpsertProcedure(string(p.Strategy), toolSequence(p), status == task.PlanSucceeded)
}

func toolSequence(p *task.ExecutionPlan) []string {
	out := make([]string, 0, len(p.Steps))
	for _, s := range p.Steps {
		out = append(out, s.ToolName)
	}
	return out
}

// retire moves a context out of the active map and into bounded history,
// and returns its final snapshot.
func (o *Orchestrator) retire(occ *OrchestrationContext) Snapshot {
	snap := occ.snapshot()

	o.mu.Lock()
	delete(o.active, occ.Task.TaskID)
	o.history = append(o.history, snap)
	if len(o.history) > historyCapacity {
		o.history = o.history[len(o.history)-historyCapacity:]
	}
	o.mu.Unlock()

	if o.bus != nil {
		o.bus.Close(occ.Task.TaskID)
	}
	return snap
}

// GetStatus returns the current snapshot of taskID, searching active
// orchestrations first and then history.
func (o *Orchestrator) GetStatus(taskID string) (Snapshot, bool) {
	o.mu.Lock()
	occ, ok := o.active[taskID]
	if ok {
		o.mu.Unlock()
		return occ.snapshot(), true
	}
	for i := len(o.history) - 1; i >= 0; i-- {
		if o.history[i].TaskID == taskID {
			snap := o.history[i]
			o.mu.Unlock()
			return snap, true
		}
	}
	o.mu.Unlock()
	return Snapshot{}, false
}

// CancelOrchestration requests cancellation of an in-flight task.
func (o *Orchestrator) CancelOrchestration(taskID string) error {
	o.mu.Lock()
	_, ok := o.active[taskID]
	o.mu.Unlock()
	if !ok {
		return task.ValidationError("task %q is not active", taskID)
	}
	o.engine.Cancel(taskID)
	return nil
}

// Active returns a snapshot of every currently in-flight task.
func (o *Orchestrator) Active() []Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Snapshot, 0, len(o.active))
	for _, occ := range o.active {
		out = append(out, occ.snapshot())
	}
	return out
}

// Metrics is the aggregate §7.1 /orchestration/metrics payload.
type Metrics struct {
	TotalCompleted int     `json:"total_completed"`
	SuccessRate    float64 `json:"success_rate"`
	ActiveCount    int     `json:"active_count"`
}

// GetMetrics aggregates completed-orchestration history.
func (o *Orchestrator) GetMetrics() Metrics {
	o.mu.Lock()
	defer o.mu.Unlock()
	m := Metrics{TotalCompleted: len(o.history), ActiveCount: len(o.active)}
	if len(o.history) == 0 {
		return m
	}
	succeeded := 0
	for _, h := range o.history {
		if h.Status == StatusSucceeded || h.Status == StatusPartial || h.Status == StatusChatAnswer {
			succeeded++
		}
	}
	m.SuccessRate = float64(succeeded) / float64(len(o.history))
	return m
}

// Recommendation is one row of the §7.1 /orchestration/recommendations
// response, derived from the MemoryManager's learned procedures.
type Recommendation struct {
	Situation   string   `json:"situation"`
	ToolSequence []string `json:"tool_sequence"`
	SuccessRate float64  `json:"success_rate"`
	SampleCount int      `json:"sample_count"`
}

// GetRecommendations reports the highest-confidence learned procedures.
// Concurrent callers within the same instant share one computation via
// singleflight, since this walks the full learning-insights set.
func (o *Orchestrator) GetRecommendations() []Recommendation {
	v, _, _ := o.recs.Do("recommendations", func() (interface{}, error) {
		if o.mem == nil {
			return []Recommendation{}, nil
		}
		insights := o.mem.GetLearningInsights()
		out := make([]Recommendation, 0, len(insights))
		for _, ins := range insights {
			out = append(out, Recommendation{
				Situation:    ins.Situation,
				ToolSequence: ins.ToolSequence,
				SuccessRate:  ins.SuccessRate,
				SampleCount:  ins.SampleCount,
			})
		}
		return out, nil
	})
	return v.([]Recommendation)
}
