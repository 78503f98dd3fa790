package memory

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arx88/taskforge/pkg/databases"
)

// fakeEmbedder produces a deterministic, low-dimensional embedding from
// the text's length and rune sum, enough to exercise store/retrieve
// without a real embedding model.
type fakeEmbedder struct{ dim int }

func (f *fakeEmbedder) Embed(text string) ([]float32, error) {
	v := make([]float32, f.dim)
	sum := 0
	for _, r := range text {
		sum += int(r)
	}
	v[0] = float32(len(text))
	if f.dim > 1 {
		v[1] = float32(sum % 997)
	}
	return v, nil
}
func (f *fakeEmbedder) GetDimension() int    { return f.dim }
func (f *fakeEmbedder) GetModelName() string { return "fake" }
func (f *fakeEmbedder) Close() error         { return nil }

// fakeDB is an in-memory databases.DatabaseProvider sufficient for the
// manager's contract tests.
type fakeDB struct {
	collections map[string]bool
	docs        map[string]map[string]databases.SearchResult
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		collections: make(map[string]bool),
		docs:        make(map[string]map[string]databases.SearchResult),
	}
}

func (f *fakeDB) Upsert(_ context.Context, collection, id string, vector []float32, metadata map[string]interface{}) error {
	if f.docs[collection] == nil {
		f.docs[collection] = make(map[string]databases.SearchResult)
	}
	content, _ := metadata["title"].(string)
	if desc, ok := metadata["description"].(string); ok {
		content = strings.TrimSpace(content + " " + desc)
	}
	f.docs[collection][id] = databases.SearchResult{ID: id, Score: 1.0, Content: content, Vector: vector, Metadata: metadata}
	return nil
}

func (f *fakeDB) Search(_ context.Context, collection string, _ []float32, topK int) ([]databases.SearchResult, error) {
	var out []databases.SearchResult
	for _, d := range f.docs[collection] {
		out = append(out, d)
		if len(out) >= topK {
			break
		}
	}
	return out, nil
}

func (f *fakeDB) Delete(_ context.Context, collection, id string) error {
	delete(f.docs[collection], id)
	return nil
}

func (f *fakeDB) CreateCollection(_ context.Context, collection string, _ uint64) error {
	f.collections[collection] = true
	return nil
}

func (f *fakeDB) DeleteCollection(_ context.Context, collection string) error {
	delete(f.collections, collection)
	delete(f.docs, collection)
	return nil
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := New(Config{
		Embedder:         &fakeEmbedder{dim: 4},
		Database:         newFakeDB(),
		EpisodicCapacity: 3,
	})
	require.NoError(t, err)
	return m
}

func TestNew_RequiresEmbedderAndDatabase(t *testing.T) {
	_, err := New(Config{Database: newFakeDB()})
	assert.Error(t, err)

	_, err = New(Config{Embedder: &fakeEmbedder{dim: 4}})
	assert.Error(t, err)
}

func TestWorkingMemory_PutGetClear(t *testing.T) {
	m := newTestManager(t)

	m.PutWorking("task-1", "k", "v")
	item, ok := m.GetWorking("task-1", "k")
	require.True(t, ok)
	assert.Equal(t, "v", item.Value)

	_, ok = m.GetWorking("task-2", "k")
	assert.False(t, ok)

	m.ClearWorking("task-1")
	_, ok = m.GetWorking("task-1", "k")
	assert.False(t, ok)
}

func TestWorkingMemory_FIFOEvictionAtCapacity(t *testing.T) {
	m, err := New(Config{Embedder: &fakeEmbedder{dim: 4}, Database: newFakeDB(), WorkingCapacity: 2})
	require.NoError(t, err)

	m.PutWorking("task-1", "a", 1)
	m.PutWorking("task-1", "b", 2)
	m.PutWorking("task-1", "c", 3)

	_, ok := m.GetWorking("task-1", "a")
	assert.False(t, ok, "oldest entry should have been evicted")
	_, ok = m.GetWorking("task-1", "c")
	assert.True(t, ok)
}

func TestStoreEpisode_AssignsIDAndEmbedding(t *testing.T) {
	m := newTestManager(t)

	ep := &Episode{Title: "build the app", Description: "ran the build tool"}
	require.NoError(t, m.StoreEpisode(context.Background(), ep))

	assert.NotEmpty(t, ep.ID)
	assert.NotEmpty(t, ep.Embedding)
}

func TestStoreEpisode_EvictsOldestAtCapacity(t *testing.T) {
	m := newTestManager(t) // EpisodicCapacity: 3

	var ids []string
	for i := 0; i < 5; i++ {
		ep := &Episode{Title: "episode", Timestamp: time.Now().Add(time.Duration(i) * time.Second)}
		require.NoError(t, m.StoreEpisode(context.Background(), ep))
		ids = append(ids, ep.ID)
	}

	m.episodicMu.RLock()
	count := len(m.episodes)
	survivors := make(map[string]bool, count)
	for _, ep := range m.episodes {
		survivors[ep.ID] = true
	}
	m.episodicMu.RUnlock()

	assert.Equal(t, 3, count)
	assert.False(t, survivors[ids[0]], "oldest episode should have been evicted")
	assert.True(t, survivors[ids[len(ids)-1]])
}

func TestRetrieveRelevantContext_ReturnsHits(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.StoreEpisode(context.Background(), &Episode{Title: "deploy service", Description: "deployed to prod"}))

	results, err := m.RetrieveRelevantContext(context.Background(), "deploy", StoreEpisodic, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, StoreEpisodic, results[0].Store)
}

func TestRetrieveRelevantContext_UnsupportedStoreErrors(t *testing.T) {
	m := newTestManager(t)
	_, err := m.RetrieveRelevantContext(context.Background(), "x", StoreWorking, 5)
	assert.Error(t, err)
}

func TestCompressOldMemory_ReplacesOldEpisodesWithSummary(t *testing.T) {
	m := newTestManager(t)
	old := &Episode{Title: "old one", Timestamp: time.Now().AddDate(0, 0, -40), Tags: []string{"infra"}}
	require.NoError(t, m.StoreEpisode(context.Background(), old))

	removed, err := m.CompressOldMemory(context.Background(), 30, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 0, removed) // one old episode -> one compressed representative, net removed = 1-1 = 0

	m.episodicMu.RLock()
	defer m.episodicMu.RUnlock()
	require.Len(t, m.episodes, 1)
	assert.True(t, m.episodes[0].Compressed)
}

func TestUpsertProcedure_RunningAverageSuccessRate(t *testing.T) {
	m := newTestManager(t)

	p := m.UpsertProcedure("deploy web app", []string{"shell", "file_write"}, true)
	assert.Equal(t, 1.0, p.SuccessRate)
	assert.Equal(t, 1, p.SampleCount)

	p = m.UpsertProcedure("deploy web app", []string{"shell", "file_write"}, false)
	assert.Equal(t, 0.5, p.SuccessRate)
	assert.Equal(t, 2, p.SampleCount)
}

func TestGetMemoryStats_ReportsCounts(t *testing.T) {
	m := newTestManager(t)
	m.PutWorking("task-1", "k", "v")
	require.NoError(t, m.StoreEpisode(context.Background(), &Episode{Title: "x"}))
	m.UpsertProcedure("sit", []string{"shell"}, true)

	stats := m.GetMemoryStats()
	byStore := map[StoreType]StoreStats{}
	for _, s := range stats {
		byStore[s.Store] = s
	}

	assert.Equal(t, 1, byStore[StoreWorking].Count)
	assert.Equal(t, 1, byStore[StoreEpisodic].Count)
	assert.Equal(t, 1, byStore[StoreProcedural].Count)
}

func TestGetLearningInsights_SortedBySuccessRateDescending(t *testing.T) {
	m := newTestManager(t)
	m.UpsertProcedure("low", []string{"shell"}, false)
	m.UpsertProcedure("high", []string{"shell"}, true)

	insights := m.GetLearningInsights()
	require.Len(t, insights, 2)
	assert.Equal(t, "high", insights[0].Situation)
}

func TestSearchMemory_DefaultsToEpisodic(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.StoreEpisode(context.Background(), &Episode{Title: "searchable"}))

	results, err := m.SearchMemory(context.Background(), "searchable", "", 5)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestExportMemoryData_ExcludesCompressedUnlessRequested(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.StoreEpisode(context.Background(), &Episode{Title: "normal"}))
	m.episodicMu.Lock()
	m.episodes = append(m.episodes, &Episode{ID: "compressed-1", Compressed: true})
	m.episodicMu.Unlock()

	excluded := m.ExportMemoryData(false)
	assert.Len(t, excluded["episodes"], 1)

	included := m.ExportMemoryData(true)
	assert.Len(t, included["episodes"], 2)
}
