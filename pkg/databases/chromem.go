package databases

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/arx88/taskforge/pkg/config"
)

// NewChromemDatabaseProviderFromConfig builds the embedded, in-process
// vector store backend: no network service to reach, optional gzip-
// compressed file persistence, single-process only. It needs no host
// settings and suits single-node deployments that don't want to run a
// separate vector database; like every backend, it is selected explicitly
// with type "chromem".
func NewChromemDatabaseProviderFromConfig(cfg *config.VectorStoreConfig) (DatabaseProvider, error) {
	var db *chromem.DB

	if cfg.PersistPath != "" {
		if err := os.MkdirAll(cfg.PersistPath, 0755); err != nil {
			return nil, fmt.Errorf("failed to create persist directory: %w", err)
		}

		dbPath := cfg.PersistPath + "/vectors.gob"
		if cfg.Compress {
			dbPath += ".gz"
		}

		if _, statErr := os.Stat(dbPath); statErr == nil {
			loaded, err := chromem.NewPersistentDB(dbPath, cfg.Compress)
			if err != nil {
				slog.Warn("failed to load existing chromem database, creating new", "path", dbPath, "error", err)
				db = chromem.NewDB()
			} else {
				db = loaded
				slog.Info("loaded chromem vector database", "path", dbPath)
			}
		} else {
			db = chromem.NewDB()
		}
	} else {
		db = chromem.NewDB()
	}

	// We receive pre-computed embeddings from pkg/embedders, so chromem's
	// own embedding function is never actually invoked.
	identityEmbed := func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("chromem embedding function called but vectors should be pre-computed")
	}

	return &chromemDatabaseProvider{
		db:            db,
		persistPath:   cfg.PersistPath,
		compress:      cfg.Compress,
		collections:   make(map[string]*chromem.Collection),
		embeddingFunc: identityEmbed,
	}, nil
}

type chromemDatabaseProvider struct {
	db          *chromem.DB
	persistPath string
	compress    bool
	mu          sync.RWMutex

	collections   map[string]*chromem.Collection
	embeddingFunc chromem.EmbeddingFunc
}

func (db *chromemDatabaseProvider) getCollection(name string) (*chromem.Collection, error) {
	db.mu.RLock()
	if col, ok := db.collections[name]; ok {
		db.mu.RUnlock()
		return col, nil
	}
	db.mu.RUnlock()

	db.mu.Lock()
	defer db.mu.Unlock()
	if col, ok := db.collections[name]; ok {
		return col, nil
	}

	col, err := db.db.GetOrCreateCollection(name, nil, db.embeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("failed to get/create collection %q: %w", name, err)
	}
	db.collections[name] = col
	return col, nil
}

func (db *chromemDatabaseProvider) Upsert(ctx context.Context, collection string, id string, vector []float32, metadata map[string]interface{}) error {
	col, err := db.getCollection(collection)
	if err != nil {
		return err
	}

	strMetadata := make(map[string]string, len(metadata))
	for k, v := range metadata {
		strMetadata[k] = fmt.Sprint(v)
	}

	content := ""
	if c, ok := metadata["content"].(string); ok {
		content = c
	}

	doc := chromem.Document{
		ID:        id,
		Content:   content,
		Metadata:  strMetadata,
		Embedding: vector,
	}

	if err := col.AddDocuments(ctx, []chromem.Document{doc}, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}

	if err := db.persist(); err != nil {
		slog.Warn("failed to persist chromem database after upsert", "error", err)
	}
	return nil
}

func (db *chromemDatabaseProvider) Search(ctx context.Context, collection string, vector []float32, topK int) ([]SearchResult, error) {
	col, err := db.getCollection(collection)
	if err != nil {
		return nil, err
	}

	results, err := col.QueryEmbedding(ctx, vector, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem search failed: %w", err)
	}

	out := make([]SearchResult, 0, len(results))
	for _, r := range results {
		metadata := make(map[string]interface{}, len(r.Metadata))
		for k, v := range r.Metadata {
			metadata[k] = v
		}
		out = append(out, SearchResult{
			ID:       r.ID,
			Score:    r.Similarity,
			Content:  r.Content,
			Metadata: metadata,
		})
	}
	return out, nil
}

func (db *chromemDatabaseProvider) Delete(ctx context.Context, collection string, id string) error {
	col, err := db.getCollection(collection)
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if err := db.persist(); err != nil {
		slog.Warn("failed to persist chromem database after delete", "error", err)
	}
	return nil
}

// CreateCollection creates a new collection; chromem-go creates collections
// implicitly on first use, so vectorSize is accepted for interface
// compatibility and otherwise unused.
func (db *chromemDatabaseProvider) CreateCollection(ctx context.Context, collection string, vectorSize uint64) error {
	_, err := db.getCollection(collection)
	return err
}

func (db *chromemDatabaseProvider) DeleteCollection(ctx context.Context, collection string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.db.DeleteCollection(collection); err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	delete(db.collections, collection)

	if err := db.persist(); err != nil {
		slog.Warn("failed to persist chromem database after collection delete", "error", err)
	}
	return nil
}

func (db *chromemDatabaseProvider) Close() error {
	return db.persist()
}

func (db *chromemDatabaseProvider) persist() error {
	if db.persistPath == "" {
		return nil
	}
	dbPath := db.persistPath + "/vectors.gob"
	if db.compress {
		dbPath += ".gz"
	}
	//nolint:staticcheck // Export is the documented persistence API on this chromem-go version.
	if err := db.db.Export(dbPath, db.compress, ""); err != nil {
		return fmt.Errorf("failed to persist chromem database: %w", err)
	}
	return nil
}
