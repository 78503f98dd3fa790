package tool

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ShellTool runs a shell command. Declared non-idempotent and process
// side-effecting: the engine never auto-retries it (spec §4.3/§5.1).
type ShellTool struct {
	// Shell is the interpreter used to run Command, e.g. "/bin/sh".
	// Defaults to "/bin/sh" when empty.
	Shell string
}

func (t *ShellTool) Describe() Descriptor {
	return Descriptor{
		Name: "shell",
		Parameters: []ParamSpec{
			{Name: "command", Type: "string", Required: true},
			{Name: "working_dir", Type: "string"},
		},
		SideEffect: SideEffectProcess,
		Idempotent: false,
		MaxTimeout: 30 * time.Second,
	}
}

func (t *ShellTool) Invoke(ctx context.Context, params map[string]interface{}) Result {
	command, _ := params["command"].(string)
	if strings.TrimSpace(command) == "" {
		return Result{Success: false, Error: "command parameter is empty"}
	}

	shell := t.Shell
	if shell == "" {
		shell = "/bin/sh"
	}

	cmd := exec.CommandContext(ctx, shell, "-c", command)
	if wd, ok := params["working_dir"].(string); ok && wd != "" {
		cmd.Dir = wd
	}

	output, err := cmd.CombinedOutput()
	if err != nil {
		return Result{
			Success: false,
			Output:  map[string]interface{}{"stdout": string(output)},
			Error:   err.Error(),
		}
	}
	return Result{
		Success: true,
		Output:  map[string]interface{}{"stdout": string(output)},
	}
}

// FileReadTool reads a file's contents. Read-only, idempotent.
type FileReadTool struct {
	Read func(path string) ([]byte, error)
}

func (t *FileReadTool) Describe() Descriptor {
	return Descriptor{
		Name: "file_read",
		Parameters: []ParamSpec{
			{Name: "path", Type: "string", Required: true},
		},
		SideEffect: SideEffectFilesystem,
		Idempotent: true,
		MaxTimeout: 10 * time.Second,
	}
}

func (t *FileReadTool) Invoke(ctx context.Context, params map[string]interface{}) Result {
	path, _ := params["path"].(string)
	if path == "" {
		return Result{Success: false, Error: "path parameter is empty"}
	}
	data, err := t.Read(path)
	if err != nil {
		return Result{Success: false, Error: err.Error()}
	}
	return Result{Success: true, Output: map[string]interface{}{"content": string(data)}}
}

// FileWriteTool writes content to a file. Filesystem side-effecting,
// declared idempotent (overwriting with the same content is a no-op).
type FileWriteTool struct {
	Write func(path string, content []byte) error
}

func (t *FileWriteTool) Describe() Descriptor {
	return Descriptor{
		Name: "file_write",
		Parameters: []ParamSpec{
			{Name: "path", Type: "string", Required: true},
			{Name: "content", Type: "string", Required: true},
		},
		SideEffect: SideEffectFilesystem,
		Idempotent: true,
		MaxTimeout: 10 * time.Second,
	}
}

func (t *FileWriteTool) Invoke(ctx context.Context, params map[string]interface{}) Result {
	path, _ := params["path"].(string)
	content, _ := params["content"].(string)
	if path == "" {
		return Result{Success: false, Error: "path parameter is empty"}
	}
	if err := t.Write(path, []byte(content)); err != nil {
		return Result{Success: false, Error: err.Error()}
	}
	return Result{Success: true, Output: map[string]interface{}{"bytes_written": len(content)}}
}

// Searcher is the minimal capability a web-search backend exposes; the
// concrete search engine is out of scope per spec §1 ("only their contract
// matters here").
type Searcher interface {
	Search(ctx context.Context, query string) ([]SearchHit, error)
}

// SearchHit is one search result.
type SearchHit struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// WebSearchTool wraps a Searcher. Network side-effecting, idempotent.
type WebSearchTool struct {
	Backend Searcher
}

func (t *WebSearchTool) Describe() Descriptor {
	return Descriptor{
		Name: "web_search",
		Parameters: []ParamSpec{
			{Name: "query", Type: "string", Required: true},
		},
		SideEffect: SideEffectNetwork,
		Idempotent: true,
		MaxTimeout: 20 * time.Second,
	}
}

func (t *WebSearchTool) Invoke(ctx context.Context, params map[string]interface{}) Result {
	query, _ := params["query"].(string)
	if query == "" {
		return Result{Success: false, Error: "query parameter is empty"}
	}
	hits, err := t.Backend.Search(ctx, query)
	if err != nil {
		return Result{Success: false, Error: err.Error()}
	}
	out := make([]interface{}, len(hits))
	for i, h := range hits {
		out[i] = map[string]interface{}{"title": h.Title, "url": h.URL, "snippet": h.Snippet}
	}
	return Result{Success: true, Output: map[string]interface{}{"results": out}}
}

// DeepResearchTool runs a longer, multi-query research pass over the same
// Searcher capability. Network side-effecting, declared non-idempotent
// since a second run may surface different results and is expensive.
type DeepResearchTool struct {
	Backend Searcher
	// MaxQueries bounds how many follow-up queries are issued.
	MaxQueries int
}

func (t *DeepResearchTool) Describe() Descriptor {
	return Descriptor{
		Name: "deep_research",
		Parameters: []ParamSpec{
			{Name: "topic", Type: "string", Required: true},
		},
		SideEffect: SideEffectNetwork,
		Idempotent: false,
		MaxTimeout: 2 * time.Minute,
	}
}

func (t *DeepResearchTool) Invoke(ctx context.Context, params map[string]interface{}) Result {
	topic, _ := params["topic"].(string)
	if topic == "" {
		return Result{Success: false, Error: "topic parameter is empty"}
	}

	maxQueries := t.MaxQueries
	if maxQueries <= 0 {
		maxQueries = 3
	}

	var allHits []interface{}
	for i := 0; i < maxQueries; i++ {
		query := topic
		if i > 0 {
			query = fmt.Sprintf("%s (follow-up %d)", topic, i)
		}
		hits, err := t.Backend.Search(ctx, query)
		if err != nil {
			return Result{Success: false, Error: err.Error()}
		}
		for _, h := range hits {
			allHits = append(allHits, map[string]interface{}{"title": h.Title, "url": h.URL, "snippet": h.Snippet})
		}
		select {
		case <-ctx.Done():
			return Result{Success: false, Error: "deep research cancelled"}
		default:
		}
	}

	return Result{Success: true, Output: map[string]interface{}{"results": allHits, "queries_run": maxQueries}}
}
