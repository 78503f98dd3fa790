// Package memory implements the Tiered Memory Manager: four stores
// (working, episodic, semantic, procedural) backed by vector similarity,
// feeding retrieved context back into planning.
//
// Grounded in spec.md §4/§5.4 for the data model and contract, and in the
// teacher's databases.DatabaseProvider/embedders.EmbedderProvider
// capability interfaces (kadirpekel-hector/pkg/databases,
// kadirpekel-hector/pkg/embedders) for the vector-backed stores. The
// memory-insights/learning-insights/direct-search read surface is
// supplemented from original_source's agent_routes_backup.py routes
// (get_memory_stats, get_learning_insights, search_memory), restored here
// per SPEC_FULL.md §5.4 since the distillation dropped them without
// naming them in a Non-goal.
package memory

import "time"

// WorkingItem is a short-lived key/value scoped to one task.
type WorkingItem struct {
	Key       string      `json:"key"`
	Value     interface{} `json:"value"`
	TaskID    string      `json:"task_id"`
	CreatedAt time.Time   `json:"created_at"`
}

// Episode is the full record of one completed task.
type Episode struct {
	ID          string                 `json:"id"`
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Context     map[string]interface{} `json:"context,omitempty"`
	Actions     []string               `json:"actions,omitempty"`
	Outcomes    []string               `json:"outcomes,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
	Success     bool                   `json:"success"`
	Importance  int                    `json:"importance"` // 1-5
	Tags        []string               `json:"tags,omitempty"`
	Embedding   []float32              `json:"-"`
	AccessCount int                    `json:"access_count"`
	Compressed  bool                   `json:"compressed,omitempty"`
}

// Concept is a semantic item: a durable piece of learned knowledge.
type Concept struct {
	ID          string    `json:"id"`
	Text        string    `json:"text"`
	Category    string    `json:"category,omitempty"`
	Source      string    `json:"source,omitempty"`
	Confidence  float64   `json:"confidence"` // 0..1
	CreatedAt   time.Time `json:"created_at"`
	AccessCount int       `json:"access_count"`
	Tags        []string  `json:"tags,omitempty"`
	Embedding   []float32 `json:"-"`
}

// Fact has the same shape as Concept but lives in a separate store with
// its own capacity and collection, per spec.md §4's Memory entities.
type Fact Concept

// Procedure is a learned strategy for a recurring situation.
type Procedure struct {
	ID          string    `json:"id"`
	Situation   string    `json:"situation"`
	ToolSequence []string `json:"tool_sequence"`
	SuccessRate float64   `json:"success_rate"`
	SampleCount int       `json:"sample_count"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// StoreType names one of the four memory stores for retrieval routing.
type StoreType string

const (
	StoreWorking    StoreType = "working"
	StoreEpisodic   StoreType = "episodic"
	StoreConcept    StoreType = "concept"
	StoreFact       StoreType = "fact"
	StoreProcedural StoreType = "procedural"
)

// Default store capacities per spec.md §5.4's table.
const (
	DefaultWorkingCapacity    = 100
	DefaultEpisodicCapacity   = 2000
	DefaultConceptCapacity    = 20000
	DefaultFactCapacity       = 100000
	DefaultProceduralCapacity = 2000
)

// ContextResult is one ranked hit returned by retrieveRelevantContext.
type ContextResult struct {
	Store StoreType `json:"store"`
	Text  string    `json:"text"`
	Score float32   `json:"score"`
}

// NoRelevantContext is the explicit sentinel text returned when no store
// has anything relevant, per spec.md §5.4's contract.
const NoRelevantContext = "no relevant context"

// StoreStats is one store's row in getMemoryStats' aggregate report.
type StoreStats struct {
	Store    StoreType `json:"store"`
	Count    int       `json:"count"`
	Capacity int       `json:"capacity"`
}

// LearnedPattern is one row of getLearningInsights' listing: a procedure
// rendered for human/API consumption.
type LearnedPattern struct {
	Situation   string   `json:"situation"`
	ToolSequence []string `json:"tool_sequence"`
	SuccessRate float64  `json:"success_rate"`
	SampleCount int      `json:"sample_count"`
}
