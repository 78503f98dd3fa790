// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads orchestrator configuration from file, Consul, etcd or
// Zookeeper and exposes the typed sections consumed by the rest of the
// module (LLM providers, vector stores, embedders, server, rate limiting).
package config

import (
	"fmt"
	"os"
	"strconv"
)

// BoolPtr returns a pointer to b. Used for optional boolean config fields
// where the zero value (false) must be distinguishable from "unset".
func BoolPtr(b bool) *bool {
	return &b
}

// Config is the root orchestrator configuration.
type Config struct {
	Server     ServerConfig                       `yaml:"server"`
	LLMs       map[string]*LLMProviderConfig      `yaml:"llms"`
	Embedders  map[string]*EmbedderProviderConfig `yaml:"embedders"`
	Databases  map[string]*VectorStoreConfig      `yaml:"databases"`
	RateLimit  *RateLimitConfig                   `yaml:"rate_limit"`
	Memory     MemoryConfig                       `yaml:"memory"`
	Engine     EngineConfig                       `yaml:"engine"`
	LogLevel   string                             `yaml:"log_level"`
	LogFormat  string                             `yaml:"log_format"`
}

// ServerConfig controls the HTTP front-end (§6 of the spec).
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// EngineConfig controls the execution engine's concurrency and timeouts
// (§5 of the spec). Populated from MAX_PARALLEL_STEPS / PLAN_TIMEOUT_SECONDS
// when not set in the file.
type EngineConfig struct {
	MaxParallelSteps int `yaml:"max_parallel_steps"`
	WorkerPoolSize   int `yaml:"worker_pool_size"`
	PlanTimeoutSecs  int `yaml:"plan_timeout_seconds"`
	MaxRetries       int `yaml:"max_retries"`
}

// MemoryConfig controls the tiered memory manager (§4.4).
type MemoryConfig struct {
	EmbedderName       string `yaml:"embedder"`
	DatabaseName       string `yaml:"database"`
	WorkingCapacity    int    `yaml:"working_capacity"`
	EpisodicCapacity   int    `yaml:"episodic_capacity"`
	ConceptCapacity    int    `yaml:"concept_capacity"`
	FactCapacity       int    `yaml:"fact_capacity"`
	ProceduralCapacity int    `yaml:"procedural_capacity"`
	PersistDir         string `yaml:"persist_dir"`
}

// LLMProviderConfig configures a single LLM backend.
type LLMProviderConfig struct {
	Type               string  `yaml:"type"` // openai, gemini
	Model              string  `yaml:"model"`
	APIKey             string  `yaml:"api_key"`
	BaseURL            string  `yaml:"base_url"`
	Temperature        float64 `yaml:"temperature"`
	MaxTokens          int     `yaml:"max_tokens"`
	Timeout            int     `yaml:"timeout_seconds"`
	MaxRetries         int     `yaml:"max_retries"`
	InsecureSkipVerify *bool   `yaml:"insecure_skip_verify"`
	CACertificate      string  `yaml:"ca_certificate"`
}

// SetDefaults fills zero-valued fields with sane production defaults.
func (c *LLMProviderConfig) SetDefaults() {
	if c.MaxTokens == 0 {
		c.MaxTokens = 4096
	}
	if c.Timeout == 0 {
		c.Timeout = 60
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.BaseURL == "" {
		c.BaseURL = os.Getenv("LLM_ENDPOINT")
	}
}

// Validate checks required fields.
func (c *LLMProviderConfig) Validate() error {
	if c.Type == "" {
		return fmt.Errorf("llm provider type is required")
	}
	return nil
}

// VectorStoreConfig configures a vector database backend (qdrant, pinecone,
// chroma, weaviate, milvus). DatabaseProviderConfig is an alias kept for
// symmetry with EmbedderProviderConfig at the call sites that construct
// providers from the registry.
type VectorStoreConfig struct {
	Type               string `yaml:"type"`
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	APIKey             string `yaml:"api_key"`
	Collection         string `yaml:"collection"`
	Dimension          int    `yaml:"dimension"`
	MaxRetries         int    `yaml:"max_retries"`
	Timeout            int    `yaml:"timeout_seconds"`
	EnableTLS          *bool  `yaml:"enable_tls"`
	InsecureSkipVerify *bool  `yaml:"insecure_skip_verify"`
	CACertificate      string `yaml:"ca_certificate"`

	// PersistPath and Compress configure the embedded chromem backend; a
	// chromem store with no PersistPath is memory-only (no host/network
	// service to reach, unlike the other backends above).
	PersistPath string `yaml:"persist_path,omitempty"`
	Compress    bool   `yaml:"compress,omitempty"`
}

// DatabaseProviderConfig is an alias of VectorStoreConfig; the database
// registry and the vector store constructors share one config shape.
type DatabaseProviderConfig = VectorStoreConfig

// SetDefaults fills zero-valued fields with sane production defaults.
func (c *VectorStoreConfig) SetDefaults() {
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.Timeout == 0 {
		c.Timeout = 30
	}
	if c.Collection == "" {
		if env := os.Getenv("EMBEDDING_STORAGE"); env != "" {
			c.Collection = env
		} else {
			c.Collection = "taskforge_memory"
		}
	}
}

// Validate checks required fields per backend type.
func (c *VectorStoreConfig) Validate() error {
	if c.Type == "" {
		return fmt.Errorf("database type is required")
	}
	switch c.Type {
	case "pinecone":
		if c.APIKey == "" {
			return fmt.Errorf("api_key is required for pinecone")
		}
	case "qdrant", "chroma", "weaviate", "milvus":
		if c.Host == "" {
			return fmt.Errorf("host is required for %s", c.Type)
		}
	case "chromem":
		// embedded, in-process: no host/network service required.
	default:
		return fmt.Errorf("unsupported database type: %s", c.Type)
	}
	return nil
}

// EmbedderProviderConfig configures a text embedding backend.
type EmbedderProviderConfig struct {
	Type               string `yaml:"type"` // openai, cohere, ollama
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	APIKey             string `yaml:"api_key"`
	Model              string `yaml:"model"`
	Dimension          int    `yaml:"dimension"`
	MaxRetries         int    `yaml:"max_retries"`
	Timeout            int    `yaml:"timeout_seconds"`
	BatchSize          int    `yaml:"batch_size"`
	InsecureSkipVerify *bool  `yaml:"insecure_skip_verify"`
	CACertificate      string `yaml:"ca_certificate"`
}

// SetDefaults fills zero-valued fields with sane production defaults,
// honoring the EMBEDDING_MODEL environment variable when Model is unset.
func (c *EmbedderProviderConfig) SetDefaults() {
	if c.Model == "" {
		c.Model = os.Getenv("EMBEDDING_MODEL")
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.Timeout == 0 {
		c.Timeout = 30
	}
	if c.BatchSize == 0 {
		c.BatchSize = 100
	}
}

// Validate checks required fields per backend type.
func (c *EmbedderProviderConfig) Validate() error {
	if c.Type == "" {
		return fmt.Errorf("embedder type is required")
	}
	switch c.Type {
	case "openai", "cohere":
		if c.APIKey == "" {
			return fmt.Errorf("api_key is required for %s embedder", c.Type)
		}
	case "ollama":
		// local, no credentials required
	default:
		return fmt.Errorf("unsupported embedder type: %s", c.Type)
	}
	return nil
}

// RateLimitConfig mirrors pkg/ratelimit's configuration shape so the loader
// can construct a *ratelimit.Config without that package depending on
// config. Scoped to a single in-memory store — only "memory" is a valid
// Backend; the teacher's SQL-backed rate limit store was dropped along with
// its SQL driver dependencies (see DESIGN.md).
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active.
	Enabled *bool `yaml:"enabled,omitempty"`

	// Scope is the rate limiting scope ("session" or "user").
	Scope string `yaml:"scope,omitempty"`

	// Backend is the storage backend; only "memory" is supported.
	Backend string `yaml:"backend,omitempty"`

	// Limits defines the rate limit rules.
	Limits []RateLimitRule `yaml:"limits,omitempty"`
}

// RateLimitRule defines a single rate limit rule.
type RateLimitRule struct {
	Type   string `yaml:"type"`   // "token" or "count"
	Window string `yaml:"window"` // "minute", "hour", "day", "week", "month"
	Limit  int64  `yaml:"limit"`
}

// IsEnabled returns true if rate limiting is enabled.
func (c *RateLimitConfig) IsEnabled() bool {
	return c != nil && c.Enabled != nil && *c.Enabled
}

// SetDefaults sets default values for RateLimitConfig.
func (c *RateLimitConfig) SetDefaults() {
	if c.Enabled == nil {
		c.Enabled = BoolPtr(false)
	}
	if c.IsEnabled() && len(c.Limits) == 0 {
		c.Limits = []RateLimitRule{
			{Type: "token", Window: "day", Limit: 100000},
			{Type: "count", Window: "minute", Limit: 60},
		}
	}
	if c.Scope == "" {
		c.Scope = "session"
	}
	if c.Backend == "" {
		c.Backend = "memory"
	}
}

// Validate validates the RateLimitConfig.
func (c *RateLimitConfig) Validate() error {
	if !c.IsEnabled() {
		return nil
	}
	if c.Scope != "" && c.Scope != "session" && c.Scope != "user" {
		return fmt.Errorf("invalid rate_limit.scope %q, must be 'session' or 'user'", c.Scope)
	}
	if c.Backend != "" && c.Backend != "memory" {
		return fmt.Errorf("invalid rate_limit.backend %q, must be 'memory'", c.Backend)
	}
	if len(c.Limits) == 0 {
		return fmt.Errorf("rate_limit.limits is required when rate limiting is enabled")
	}
	validTypes := map[string]bool{"token": true, "count": true}
	validWindows := map[string]bool{"minute": true, "hour": true, "day": true, "week": true, "month": true}
	for i, l := range c.Limits {
		if !validTypes[l.Type] {
			return fmt.Errorf("invalid rate_limit.limits[%d].type %q, must be 'token' or 'count'", i, l.Type)
		}
		if !validWindows[l.Window] {
			return fmt.Errorf("invalid rate_limit.limits[%d].window %q", i, l.Window)
		}
		if l.Limit <= 0 {
			return fmt.Errorf("rate_limit.limits[%d].limit must be positive", i)
		}
	}
	return nil
}

// SetDefaults applies defaults to the top-level Config, including the
// environment variables declared in the external interfaces section:
// EMBEDDING_MODEL, EMBEDDING_STORAGE, MAX_PARALLEL_STEPS, PLAN_TIMEOUT_SECONDS,
// LLM_ENDPOINT.
func (c *Config) SetDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "simple"
	}

	if c.Engine.MaxParallelSteps == 0 {
		c.Engine.MaxParallelSteps = envInt("MAX_PARALLEL_STEPS", 4)
	}
	if c.Engine.WorkerPoolSize == 0 {
		c.Engine.WorkerPoolSize = 32
	}
	if c.Engine.PlanTimeoutSecs == 0 {
		c.Engine.PlanTimeoutSecs = envInt("PLAN_TIMEOUT_SECONDS", 600)
	}
	if c.Engine.MaxRetries == 0 {
		c.Engine.MaxRetries = 2
	}

	if c.Memory.WorkingCapacity == 0 {
		c.Memory.WorkingCapacity = 100
	}
	if c.Memory.EpisodicCapacity == 0 {
		c.Memory.EpisodicCapacity = 2000
	}
	if c.Memory.ConceptCapacity == 0 {
		c.Memory.ConceptCapacity = 20000
	}
	if c.Memory.FactCapacity == 0 {
		c.Memory.FactCapacity = 100000
	}
	if c.Memory.ProceduralCapacity == 0 {
		c.Memory.ProceduralCapacity = 2000
	}

	for _, llm := range c.LLMs {
		llm.SetDefaults()
	}
	for _, emb := range c.Embedders {
		emb.SetDefaults()
	}
	for _, db := range c.Databases {
		db.SetDefaults()
	}

	if c.RateLimit == nil {
		c.RateLimit = &RateLimitConfig{}
	}
	c.RateLimit.SetDefaults()
}

func envInt(name string, fallback int) int {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// Validate performs structural validation across all sections.
func (c *Config) Validate() error {
	for name, llm := range c.LLMs {
		if err := llm.Validate(); err != nil {
			return fmt.Errorf("llm %q: %w", name, err)
		}
	}
	for name, emb := range c.Embedders {
		if err := emb.Validate(); err != nil {
			return fmt.Errorf("embedder %q: %w", name, err)
		}
	}
	for name, db := range c.Databases {
		if err := db.Validate(); err != nil {
			return fmt.Errorf("database %q: %w", name, err)
		}
	}
	if err := c.RateLimit.Validate(); err != nil {
		return fmt.Errorf("rate_limit: %w", err)
	}
	return nil
}

// ValidateConfigStructure is the structural validation hook run before
// unmarshalling. It performs no checks and always returns an empty, valid
// result: the full strict key/typo validator carried by the teacher's
// config package was tied to its agent YAML schema and is not reproduced
// here (see DESIGN.md).
func ValidateConfigStructure(_ interface{ Raw() map[string]interface{} }) (*StructureValidationResult, error) {
	return &StructureValidationResult{}, nil
}

// StructureValidationResult reports structural validation errors.
type StructureValidationResult struct {
	Errors []string
}

// Valid reports whether the structure passed validation.
func (r *StructureValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// FormatErrors renders validation errors for display.
func (r *StructureValidationResult) FormatErrors() string {
	out := ""
	for _, e := range r.Errors {
		out += "  - " + e + "\n"
	}
	return out
}

// ProcessConfigPipeline applies post-unmarshal processing: defaults and
// validation. Kept as a pipeline (rather than inlined in the loader) so
// additional processing stages can be added without touching the loader.
func ProcessConfigPipeline(cfg *Config) (*Config, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
