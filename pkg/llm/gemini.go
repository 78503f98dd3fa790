package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/arx88/taskforge/pkg/config"
)

// GeminiClient implements Client against Google's Gemini API via the
// official google.golang.org/genai SDK, grounded in the teacher's
// pkg/model/gemini provider (genai.NewClient, Models.GenerateContent).
// Structured output uses ResponseMIMEType/ResponseSchema, the same
// mechanism the teacher's raw-HTTP pkg/llms/gemini.go provider drives by
// hand — the SDK exposes it as GenerateContentConfig fields instead of a
// JSON body the caller assembles itself.
type GeminiClient struct {
	client *genai.Client
	model  string
	temp   float64
	maxOut int
}

// NewGeminiClient constructs a GeminiClient from an LLM provider config.
// Requires cfg.APIKey; defaults cfg.Model to "gemini-1.5-flash" when empty.
func NewGeminiClient(ctx context.Context, cfg *config.LLMProviderConfig) (*GeminiClient, error) {
	if cfg == nil || cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: api_key is required")
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-1.5-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}

	return &GeminiClient{
		client: client,
		model:  model,
		temp:   cfg.Temperature,
		maxOut: cfg.MaxTokens,
	}, nil
}

func (c *GeminiClient) ModelName() string { return c.model }

func (c *GeminiClient) Close() error { return nil }

func (c *GeminiClient) Complete(ctx context.Context, messages []Message) (string, error) {
	contents, system := c.buildContents(messages)
	genConfig := c.buildConfig(system, "", nil)

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, genConfig)
	if err != nil {
		return "", fmt.Errorf("gemini: generate content: %w", err)
	}
	return extractText(resp)
}

func (c *GeminiClient) CompleteStructured(ctx context.Context, messages []Message, scfg StructuredOutputConfig) (string, error) {
	contents, system := c.buildContents(messages)

	schema, err := toGenaiSchema(scfg.Schema)
	if err != nil {
		return "", fmt.Errorf("gemini: structured output schema: %w", err)
	}
	genConfig := c.buildConfig(system, "application/json", schema)

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, genConfig)
	if err != nil {
		return "", fmt.Errorf("gemini: generate content: %w", err)
	}
	return extractText(resp)
}

// buildContents converts the role/content message list into genai.Content,
// splitting off a leading "system" message as the system instruction —
// mirroring the teacher's buildRequest split of systemInstruction from the
// conversational contents.
func (c *GeminiClient) buildContents(messages []Message) ([]*genai.Content, *genai.Content) {
	var contents []*genai.Content
	var system *genai.Content

	for _, m := range messages {
		if m.Role == "system" {
			system = &genai.Content{Parts: []*genai.Part{{Text: m.Content}}}
			continue
		}
		role := "user"
		if m.Role == "assistant" || m.Role == "model" {
			role = "model"
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: m.Content}},
		})
	}
	return contents, system
}

func (c *GeminiClient) buildConfig(system *genai.Content, responseMIMEType string, schema *genai.Schema) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if system != nil {
		cfg.SystemInstruction = system
	}
	if c.temp > 0 {
		cfg.Temperature = genai.Ptr(float32(c.temp))
	}
	if c.maxOut > 0 {
		cfg.MaxOutputTokens = int32(c.maxOut)
	}
	if responseMIMEType != "" {
		cfg.ResponseMIMEType = responseMIMEType
	}
	if schema != nil {
		cfg.ResponseSchema = schema
	}
	return cfg
}

func extractText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("gemini: empty response")
	}
	var out string
	for _, p := range resp.Candidates[0].Content.Parts {
		out += p.Text
	}
	if out == "" {
		return "", fmt.Errorf("gemini: response had no text parts")
	}
	return out, nil
}

// toGenaiSchema converts the planner's plain JSON-schema map (the same
// shape the teacher's pkg/llms/gemini.go ResponseSchema carries) into a
// genai.Schema. Only the subset the planner's plan schema needs (object,
// string, number, array, boolean; properties, required, items) is
// translated — sufficient for structured plan-refinement output.
func toGenaiSchema(schema interface{}) (*genai.Schema, error) {
	m, ok := schema.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("schema must be a map[string]interface{}, got %T", schema)
	}
	return mapToGenaiSchema(m), nil
}

func mapToGenaiSchema(m map[string]interface{}) *genai.Schema {
	s := &genai.Schema{}

	if t, ok := m["type"].(string); ok {
		s.Type = genai.Type(t)
	}
	if desc, ok := m["description"].(string); ok {
		s.Description = desc
	}

	if props, ok := m["properties"].(map[string]interface{}); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			if pm, ok := raw.(map[string]interface{}); ok {
				s.Properties[name] = mapToGenaiSchema(pm)
			}
		}
	}

	if req, ok := m["required"].([]interface{}); ok {
		for _, r := range req {
			if rs, ok := r.(string); ok {
				s.Required = append(s.Required, rs)
			}
		}
	}

	if items, ok := m["items"].(map[string]interface{}); ok {
		s.Items = mapToGenaiSchema(items)
	}

	return s
}
