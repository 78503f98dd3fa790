package llm

import (
	"context"
	"fmt"

	"github.com/arx88/taskforge/pkg/config"
)

// NewFromConfig constructs a Client for cfg.Type, mirroring the
// databases/embedders registries' CreateXFromConfig switch. A nil config or
// an empty type falls back to NoopClient so the planner's deterministic
// fallback path (spec.md §5.5) is always available rather than erroring at
// startup when no LLM is configured; an unknown type returns an error.
func NewFromConfig(ctx context.Context, cfg *config.LLMProviderConfig) (Client, error) {
	if cfg == nil || cfg.Type == "" {
		return NoopClient{}, nil
	}

	switch cfg.Type {
	case "gemini":
		return NewGeminiClient(ctx, cfg)
	case "openai":
		return NewOpenAIClient(cfg)
	default:
		return nil, fmt.Errorf("llm: unsupported provider type %q", cfg.Type)
	}
}
