package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arx88/taskforge/pkg/databases"
	"github.com/arx88/taskforge/pkg/embedders"
)

// Manager is the Tiered Memory Manager. Each store is internally
// synchronized; readers of a store behind a read-write lock do not block
// each other (the working store uses a plain mutex), writers are exclusive
// within a store, and cross-store operations see a consistent per-store
// snapshot (spec.md §6's shared-resource policy).
type Manager struct {
	embedder embedders.EmbedderProvider
	db       databases.DatabaseProvider

	episodicCollection   string
	conceptCollection    string
	factCollection       string

	workingCapacity    int
	episodicCapacity   int
	conceptCapacity    int
	factCapacity       int
	proceduralCapacity int

	workingMu sync.Mutex
	working   map[string][]*WorkingItem // keyed by task_id, FIFO per task

	episodicMu sync.RWMutex
	episodes   []*Episode

	proceduralMu sync.RWMutex
	procedures   []*Procedure
}

// Config configures a Manager's backing capabilities and capacities.
// Zero-value capacity fields fall back to spec.md §5.4's defaults.
type Config struct {
	Embedder embedders.EmbedderProvider
	Database databases.DatabaseProvider

	EpisodicCollection string
	ConceptCollection   string
	FactCollection      string

	WorkingCapacity    int
	EpisodicCapacity   int
	ConceptCapacity    int
	FactCapacity       int
	ProceduralCapacity int
}

// New creates a Manager. The embedder's dimension is fixed for every
// vector-backed store this Manager owns, per spec.md §4's invariant that a
// store cannot mix dimensions.
func New(cfg Config) (*Manager, error) {
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("memory: embedder is required")
	}
	if cfg.Database == nil {
		return nil, fmt.Errorf("memory: database is required")
	}

	m := &Manager{
		embedder:           cfg.Embedder,
		db:                 cfg.Database,
		episodicCollection: orDefault(cfg.EpisodicCollection, "episodic"),
		conceptCollection:  orDefault(cfg.ConceptCollection, "concept"),
		factCollection:     orDefault(cfg.FactCollection, "fact"),
		workingCapacity:    orDefaultInt(cfg.WorkingCapacity, DefaultWorkingCapacity),
		episodicCapacity:   orDefaultInt(cfg.EpisodicCapacity, DefaultEpisodicCapacity),
		conceptCapacity:    orDefaultInt(cfg.ConceptCapacity, DefaultConceptCapacity),
		factCapacity:       orDefaultInt(cfg.FactCapacity, DefaultFactCapacity),
		proceduralCapacity: orDefaultInt(cfg.ProceduralCapacity, DefaultProceduralCapacity),
		working:            make(map[string][]*WorkingItem),
	}
	return m, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func orDefaultInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// EnsureCollections creates the episodic/concept/fact collections at the
// embedder's dimension. Idempotent against a backend that errors on an
// already-existing collection only by convention of the caller calling it
// once at startup.
func (m *Manager) EnsureCollections(ctx context.Context) error {
	dim := uint64(m.embedder.GetDimension())
	for _, coll := range []string{m.episodicCollection, m.conceptCollection, m.factCollection} {
		if err := m.db.CreateCollection(ctx, coll, dim); err != nil {
			return fmt.Errorf("memory: create collection %q: %w", coll, err)
		}
	}
	return nil
}

// PutWorking stores a short-lived key/value for taskID, evicting the
// oldest entry (FIFO) once the capacity is exceeded.
func (m *Manager) PutWorking(taskID, key string, value interface{}) {
	m.workingMu.Lock()
	defer m.workingMu.Unlock()

	items := m.working[taskID]
	items = append(items, &WorkingItem{Key: key, Value: value, TaskID: taskID, CreatedAt: time.Now()})
	if len(items) > m.workingCapacity {
		items = items[len(items)-m.workingCapacity:]
	}
	m.working[taskID] = items
}

// GetWorking retrieves a working item by exact key within taskID's scope.
func (m *Manager) GetWorking(taskID, key string) (*WorkingItem, bool) {
	m.workingMu.Lock()
	defer m.workingMu.Unlock()

	for _, it := range m.working[taskID] {
		if it.Key == key {
			return it, true
		}
	}
	return nil, false
}

// ClearWorking discards all working items for a task, called once the
// task reaches a terminal state (working memory's retention is "duration
// of task").
func (m *Manager) ClearWorking(taskID string) {
	m.workingMu.Lock()
	defer m.workingMu.Unlock()
	delete(m.working, taskID)
}

// StoreEpisode assigns an embedding, writes the episode to the episodic
// store, and appends it to the in-process index used for compression and
// stats. Evicts the oldest episode once episodicCapacity is exceeded.
func (m *Manager) StoreEpisode(ctx context.Context, ep *Episode) error {
	if ep.ID == "" {
		ep.ID = uuid.NewString()
	}
	if ep.Timestamp.IsZero() {
		ep.Timestamp = time.Now()
	}

	text := ep.Title + " " + ep.Description
	vec, err := m.embedder.Embed(text)
	if err != nil {
		return fmt.Errorf("memory: embed episode: %w", err)
	}
	ep.Embedding = vec

	metadata := map[string]interface{}{
		"title":       ep.Title,
		"description": ep.Description,
		"success":     ep.Success,
		"importance":  ep.Importance,
		"tags":        ep.Tags,
		"timestamp":   ep.Timestamp.Unix(),
	}
	if err := m.db.Upsert(ctx, m.episodicCollection, ep.ID, vec, metadata); err != nil {
		return fmt.Errorf("memory: upsert episode: %w", err)
	}

	m.episodicMu.Lock()
	m.episodes = append(m.episodes, ep)
	if len(m.episodes) > m.episodicCapacity {
		evicted := m.episodes[:len(m.episodes)-m.episodicCapacity]
		m.episodes = m.episodes[len(m.episodes)-m.episodicCapacity:]
		m.episodicMu.Unlock()
		for _, old := range evicted {
			_ = m.db.Delete(ctx, m.episodicCollection, old.ID)
		}
	} else {
		m.episodicMu.Unlock()
	}
	return nil
}

// RetrieveRelevantContext returns up to maxResults hits from the requested
// store, or nil when nothing qualifies; it is the caller that turns an
// empty result into NoRelevantContext.
func (m *Manager) RetrieveRelevantContext(ctx context.Context, query string, store StoreType, maxResults int) ([]ContextResult, error) {
	if maxResults <= 0 {
		maxResults = 5
	}

	var collection string
	switch store {
	case StoreEpisodic:
		collection = m.episodicCollection
	case StoreConcept:
		collection = m.conceptCollection
	case StoreFact:
		collection = m.factCollection
	default:
		return nil, fmt.Errorf("memory: unsupported retrieval store %q", store)
	}

	vec, err := m.embedder.Embed(query)
	if err != nil {
		return nil, fmt.Errorf("memory: embed query: %w", err)
	}

	hits, err := m.db.Search(ctx, collection, vec, maxResults)
	if err != nil {
		return nil, fmt.Errorf("memory: search %q: %w", collection, err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	out := make([]ContextResult, 0, len(hits))
	for _, h := range hits {
		out = append(out, ContextResult{Store: store, Text: h.Content, Score: h.Score})
	}
	return out, nil
}

// CompressOldMemory identifies episodes older than thresholdDays, clusters
// them by tag overlap, and replaces each cluster with a single summarized
// representative episode whose importance is the cluster max and whose
// tags are the union — a lightweight stand-in for the full embedding-space
// clustering spec.md §5.4 describes, sufficient to satisfy the
// "compressed representative" contract without an external clustering
// library the corpus doesn't carry.
func (m *Manager) CompressOldMemory(ctx context.Context, thresholdDays int, ratio float64) (int, error) {
	cutoff := time.Now().AddDate(0, 0, -thresholdDays)

	m.episodicMu.Lock()
	var old, recent []*Episode
	for _, ep := range m.episodes {
		if ep.Timestamp.Before(cutoff) {
			old = append(old, ep)
		} else {
			recent = append(recent, ep)
		}
	}
	m.episodicMu.Unlock()

	if len(old) == 0 {
		return 0, nil
	}

	clusters := clusterByTagOverlap(old)
	compressed := make([]*Episode, 0, len(clusters))
	for _, cluster := range clusters {
		rep := summarizeCluster(cluster)
		text := rep.Title + " " + rep.Description
		vec, err := m.embedder.Embed(text)
		if err != nil {
			return 0, fmt.Errorf("memory: embed compressed episode: %w", err)
		}
		rep.Embedding = vec
		if err := m.db.Upsert(ctx, m.episodicCollection, rep.ID, vec, map[string]interface{}{
			"title": rep.Title, "description": rep.Description, "compressed": true,
		}); err != nil {
			return 0, fmt.Errorf("memory: upsert compressed episode: %w", err)
		}
		compressed = append(compressed, rep)
	}
	for _, cluster := range clusters {
		for _, ep := range cluster {
			_ = m.db.Delete(ctx, m.episodicCollection, ep.ID)
		}
	}

	m.episodicMu.Lock()
	m.episodes = append(recent, compressed...)
	m.episodicMu.Unlock()

	_ = ratio // ratio tunes cluster granularity in a full implementation; the tag-overlap clusterer here is ratio-independent.
	return len(old) - len(compressed), nil
}

func clusterByTagOverlap(episodes []*Episode) [][]*Episode {
	assigned := make([]bool, len(episodes))
	var clusters [][]*Episode
	for i := range episodes {
		if assigned[i] {
			continue
		}
		cluster := []*Episode{episodes[i]}
		assigned[i] = true
		for j := i + 1; j < len(episodes); j++ {
			if assigned[j] {
				continue
			}
			if shareTag(episodes[i], episodes[j]) {
				cluster = append(cluster, episodes[j])
				assigned[j] = true
			}
		}
		clusters = append(clusters, cluster)
	}
	return clusters
}

func shareTag(a, b *Episode) bool {
	for _, ta := range a.Tags {
		for _, tb := range b.Tags {
			if ta == tb {
				return true
			}
		}
	}
	return false
}

func summarizeCluster(cluster []*Episode) *Episode {
	rep := &Episode{
		ID:         uuid.NewString(),
		Title:      fmt.Sprintf("Compressed summary of %d episodes", len(cluster)),
		Timestamp:  time.Now(),
		Importance: 1,
		Compressed: true,
	}
	tagSet := make(map[string]bool)
	var descriptions []string
	for _, ep := range cluster {
		if ep.Importance > rep.Importance {
			rep.Importance = ep.Importance
		}
		for _, t := range ep.Tags {
			tagSet[t] = true
		}
		descriptions = append(descriptions, ep.Description)
	}
	for t := range tagSet {
		rep.Tags = append(rep.Tags, t)
	}
	sort.Strings(rep.Tags)
	rep.Description = fmt.Sprintf("%d episodes summarized", len(descriptions))
	return rep
}

// ExportMemoryData dumps every store for backup/analysis as in-memory
// structs; marshalling to a wire format is the caller's concern.
func (m *Manager) ExportMemoryData(includeCompressed bool) map[string]interface{} {
	m.episodicMu.RLock()
	episodes := make([]*Episode, 0, len(m.episodes))
	for _, ep := range m.episodes {
		if !includeCompressed && ep.Compressed {
			continue
		}
		episodes = append(episodes, ep)
	}
	m.episodicMu.RUnlock()

	m.proceduralMu.RLock()
	procedures := make([]*Procedure, len(m.procedures))
	copy(procedures, m.procedures)
	m.proceduralMu.RUnlock()

	return map[string]interface{}{
		"episodes":   episodes,
		"procedures": procedures,
	}
}

// UpsertProcedure records or updates a learned strategy for a recurring
// situation, maintaining a running average success rate.
func (m *Manager) UpsertProcedure(situation string, toolSequence []string, succeeded bool) *Procedure {
	m.proceduralMu.Lock()
	defer m.proceduralMu.Unlock()

	for _, p := range m.procedures {
		if p.Situation == situation {
			outcome := 0.0
			if succeeded {
				outcome = 1.0
			}
			p.SuccessRate = (p.SuccessRate*float64(p.SampleCount) + outcome) / float64(p.SampleCount+1)
			p.SampleCount++
			p.ToolSequence = toolSequence
			p.UpdatedAt = time.Now()
			return p
		}
	}

	rate := 0.0
	if succeeded {
		rate = 1.0
	}
	p := &Procedure{
		ID:           uuid.NewString(),
		Situation:    situation,
		ToolSequence: toolSequence,
		SuccessRate:  rate,
		SampleCount:  1,
		UpdatedAt:    time.Now(),
	}
	m.procedures = append(m.procedures, p)
	if len(m.procedures) > m.proceduralCapacity {
		m.procedures = m.procedures[len(m.procedures)-m.proceduralCapacity:]
	}
	return p
}

// GetMemoryStats reports per-store counts against configured capacities —
// the supplemented read-only memory-insights surface (spec.md §5.4).
func (m *Manager) GetMemoryStats() []StoreStats {
	m.workingMu.Lock()
	workingCount := 0
	for _, items := range m.working {
		workingCount += len(items)
	}
	m.workingMu.Unlock()

	m.episodicMu.RLock()
	episodicCount := len(m.episodes)
	m.episodicMu.RUnlock()

	m.proceduralMu.RLock()
	proceduralCount := len(m.procedures)
	m.proceduralMu.RUnlock()

	return []StoreStats{
		{Store: StoreWorking, Count: workingCount, Capacity: m.workingCapacity},
		{Store: StoreEpisodic, Count: episodicCount, Capacity: m.episodicCapacity},
		{Store: StoreProcedural, Count: proceduralCount, Capacity: m.proceduralCapacity},
	}
}

// GetLearningInsights lists the learned procedures ranked by success rate
// — the supplemented learned-pattern listing (spec.md §5.4).
func (m *Manager) GetLearningInsights() []LearnedPattern {
	m.proceduralMu.RLock()
	defer m.proceduralMu.RUnlock()

	out := make([]LearnedPattern, 0, len(m.procedures))
	for _, p := range m.procedures {
		out = append(out, LearnedPattern{
			Situation:    p.Situation,
			ToolSequence: p.ToolSequence,
			SuccessRate:  p.SuccessRate,
			SampleCount:  p.SampleCount,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SuccessRate > out[j].SuccessRate })
	return out
}

// SearchMemory is the supplemented direct semantic search endpoint,
// bypassing the full orchestration path (spec.md §5.4/§7.1's
// POST /memory/search).
func (m *Manager) SearchMemory(ctx context.Context, query string, store StoreType, maxResults int) ([]ContextResult, error) {
	if store == "" {
		store = StoreEpisodic
	}
	return m.RetrieveRelevantContext(ctx, query, store, maxResults)
}
