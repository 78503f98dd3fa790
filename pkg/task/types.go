package task

import "time"

// Task is an accepted unit of work. Created at submission; immutable
// thereafter.
type Task struct {
	TaskID      string                 `json:"task_id"`
	UserID      string                 `json:"user_id,omitempty"`
	SessionID   string                 `json:"session_id,omitempty"`
	Description string                 `json:"description"`
	Priority    int                    `json:"priority"` // 1-5
	Constraints map[string]interface{} `json:"constraints,omitempty"`
	Preferences map[string]interface{} `json:"preferences,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}

// Complexity tags an ExecutionStep's relative cost.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// StepState is the lifecycle state of an ExecutionStep. Terminal once one
// of Succeeded, Failed, Skipped, or Cancelled is reached.
type StepState string

const (
	StepPending   StepState = "pending"
	StepReady     StepState = "ready"
	StepRunning   StepState = "running"
	StepSucceeded StepState = "succeeded"
	StepFailed    StepState = "failed"
	StepSkipped   StepState = "skipped"
	StepCancelled StepState = "cancelled"
)

// IsTerminal reports whether the state is a sink state.
func (s StepState) IsTerminal() bool {
	switch s {
	case StepSucceeded, StepFailed, StepSkipped, StepCancelled:
		return true
	default:
		return false
	}
}

// FailurePolicy governs what happens to a step's dependents when the step
// exhausts its retries without succeeding.
type FailurePolicy string

const (
	OnFailureAbort    FailurePolicy = "abort_plan"
	OnFailureSkip     FailurePolicy = "skip_step"
	OnFailureContinue FailurePolicy = "continue"
)

// ExecutionStep is one atomic action in a plan.
type ExecutionStep struct {
	StepID            string                 `json:"step_id"`
	Title             string                 `json:"title"`
	Description       string                 `json:"description"`
	ToolName          string                 `json:"tool_name"`
	Parameters        map[string]interface{} `json:"parameters"`
	DependencyStepIDs []string               `json:"dependency_step_ids,omitempty"`
	EstimatedDuration time.Duration          `json:"estimated_duration"`
	Complexity        Complexity             `json:"complexity"`
	OnFailure         FailurePolicy          `json:"on_failure"`
	MaxRetries        int                    `json:"max_retries"`

	State StepState `json:"state"`
}

// Clone returns a deep-enough copy of the step for checkpoint snapshots:
// the parameter map and dependency slice are copied so a later mutation of
// the live step cannot corrupt a captured checkpoint.
func (s *ExecutionStep) Clone() *ExecutionStep {
	clone := *s
	if s.Parameters != nil {
		clone.Parameters = make(map[string]interface{}, len(s.Parameters))
		for k, v := range s.Parameters {
			clone.Parameters[k] = v
		}
	}
	if s.DependencyStepIDs != nil {
		clone.DependencyStepIDs = append([]string(nil), s.DependencyStepIDs...)
	}
	return &clone
}

// Strategy tags which planning approach produced a plan.
type Strategy string

const (
	StrategyWebDevelopment Strategy = "web-development"
	StrategyDataAnalysis   Strategy = "data-analysis"
	StrategyFileProcessing Strategy = "file-processing"
	StrategyAdministration Strategy = "administration"
	StrategyResearch       Strategy = "research"
	StrategyAutomation     Strategy = "automation"
	StrategyGeneral        Strategy = "general"
)

// ExecutionPlan is the totality of work for one task.
type ExecutionPlan struct {
	PlanID               string           `json:"plan_id"`
	TaskID               string           `json:"task_id"`
	Title                string           `json:"title"`
	Steps                []*ExecutionStep `json:"steps"`
	Strategy              Strategy         `json:"strategy"`
	EstimatedDuration    time.Duration    `json:"estimated_duration"`
	ComplexityScore      float64          `json:"complexity_score"`       // 0-1
	SuccessProbability   float64          `json:"success_probability"`    // 0-1
	RiskFactors          []string         `json:"risk_factors,omitempty"`
	Prerequisites        []string         `json:"prerequisites,omitempty"`
	RequiredTools        []string         `json:"required_tools"`
	MaxParallelSteps     int              `json:"max_parallel_steps"`
	PlanTimeout          time.Duration    `json:"plan_timeout"`
}

// StepByID returns the step with the given ID, or nil.
func (p *ExecutionPlan) StepByID(id string) *ExecutionStep {
	for _, s := range p.Steps {
		if s.StepID == id {
			return s
		}
	}
	return nil
}

// Validate checks the plan's structural invariants: the step graph is
// acyclic, every tool_name is in the registered set, and every
// dependency_step_id references a step in the same plan. registeredTools
// may be nil to skip tool-name validation (used by planner-internal checks
// before tools are known).
func (p *ExecutionPlan) Validate(registeredTools map[string]bool) error {
	if len(p.Steps) == 0 {
		return nil
	}

	seen := make(map[string]*ExecutionStep, len(p.Steps))
	for _, s := range p.Steps {
		if s.StepID == "" {
			return ValidationError("step has empty step_id")
		}
		if _, dup := seen[s.StepID]; dup {
			return ValidationError("duplicate step_id %q", s.StepID)
		}
		seen[s.StepID] = s
	}

	for _, s := range p.Steps {
		for _, dep := range s.DependencyStepIDs {
			if _, ok := seen[dep]; !ok {
				return ValidationError("step %q depends on unknown step %q", s.StepID, dep)
			}
		}
		if registeredTools != nil && !registeredTools[s.ToolName] {
			return ValidationError("step %q references unregistered tool %q", s.StepID, s.ToolName)
		}
	}

	if cyclePath := detectCycle(p.Steps); cyclePath != "" {
		return ValidationError("plan contains a cyclic dependency: %s", cyclePath)
	}

	return nil
}

// detectCycle runs a DFS over the dependency graph and returns a
// human-readable description of the first cycle found, or "" if acyclic.
func detectCycle(steps []*ExecutionStep) string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(steps))
	byID := make(map[string]*ExecutionStep, len(steps))
	for _, s := range steps {
		byID[s.StepID] = s
		color[s.StepID] = white
	}

	var path []string
	var visit func(id string) string
	visit = func(id string) string {
		color[id] = gray
		path = append(path, id)
		for _, dep := range byID[id].DependencyStepIDs {
			switch color[dep] {
			case gray:
				return joinPath(append(path, dep))
			case white:
				if cyc := visit(dep); cyc != "" {
					return cyc
				}
			}
		}
		path = path[:len(path)-1]
		color[id] = black
		return ""
	}

	for _, s := range steps {
		if color[s.StepID] == white {
			if cyc := visit(s.StepID); cyc != "" {
				return cyc
			}
		}
	}
	return ""
}

func joinPath(ids []string) string {
	out := ""
	for i, id := range ids {
		if i > 0 {
			out += " -> "
		}
		out += id
	}
	return out
}

// ReadySteps returns the steps whose dependencies are all succeeded or
// cleanly skipped, and which are themselves still pending.
func (p *ExecutionPlan) ReadySteps() []*ExecutionStep {
	var ready []*ExecutionStep
	for _, s := range p.Steps {
		if s.State != StepPending {
			continue
		}
		if allDepsSatisfied(p, s) {
			ready = append(ready, s)
		}
	}
	return ready
}

func allDepsSatisfied(p *ExecutionPlan, s *ExecutionStep) bool {
	for _, depID := range s.DependencyStepIDs {
		dep := p.StepByID(depID)
		if dep == nil {
			return false
		}
		if dep.State != StepSucceeded && dep.State != StepSkipped {
			return false
		}
	}
	return true
}

// PlanStatus is the terminal (or live) status of a plan's execution.
type PlanStatus string

const (
	PlanRunning   PlanStatus = "running"
	PlanSucceeded PlanStatus = "success"
	PlanPartial   PlanStatus = "partial"
	PlanFailed    PlanStatus = "failed"
	PlanCancelled PlanStatus = "cancelled"
)

// Terminal reports whether every step in the plan has reached a terminal
// state and none are currently running or ready-but-undispatched.
func (p *ExecutionPlan) Terminal() bool {
	for _, s := range p.Steps {
		if !s.State.IsTerminal() {
			return false
		}
	}
	return true
}

// Status derives the aggregate PlanStatus once Terminal() is true.
func (p *ExecutionPlan) Status() PlanStatus {
	anyFailed := false
	anyCancelled := false
	for _, s := range p.Steps {
		switch s.State {
		case StepFailed:
			anyFailed = true
		case StepCancelled:
			anyCancelled = true
		}
	}
	switch {
	case anyCancelled:
		return PlanCancelled
	case anyFailed:
		// Distinguish partial (continue-in-effect, some succeeded) from
		// total failure at the engine layer, which knows the on_failure
		// policy that was in effect; here we default to failed unless at
		// least one step succeeded.
		for _, s := range p.Steps {
			if s.State == StepSucceeded {
				return PlanPartial
			}
		}
		return PlanFailed
	default:
		return PlanSucceeded
	}
}

// SuccessRate is the fraction of steps that succeeded, used for the
// completion event's success_rate field.
func (p *ExecutionPlan) SuccessRate() float64 {
	if len(p.Steps) == 0 {
		return 1.0
	}
	succeeded := 0
	for _, s := range p.Steps {
		if s.State == StepSucceeded {
			succeeded++
		}
	}
	return float64(succeeded) / float64(len(p.Steps))
}
