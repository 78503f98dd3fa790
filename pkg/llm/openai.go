package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/arx88/taskforge/pkg/config"
	"github.com/arx88/taskforge/pkg/httpclient"
)

// OpenAIClient implements Client against any OpenAI-chat-completions-
// compatible endpoint (OpenAI itself, or a self-hosted gateway addressed
// via LLM_ENDPOINT/BaseURL per spec.md §7.5). Grounded in the teacher's
// pkg/httpclient.Client (retry/backoff transport) rather than the SDK the
// teacher's pkg/llms package hand-rolls requests against directly.
type OpenAIClient struct {
	http    *httpclient.Client
	baseURL string
	apiKey  string
	model   string
	temp    float64
	maxTok  int
}

// NewOpenAIClient constructs an OpenAIClient from an LLM provider config.
// BaseURL defaults to the public OpenAI API when empty.
func NewOpenAIClient(cfg *config.LLMProviderConfig) (*OpenAIClient, error) {
	if cfg == nil || cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: api_key is required")
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	opts := []httpclient.Option{
		httpclient.WithMaxRetries(cfg.MaxRetries),
		httpclient.WithRetryStrategy(httpclient.DefaultStrategy),
		httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, httpclient.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second}))
	}
	if cfg.CACertificate != "" || (cfg.InsecureSkipVerify != nil && *cfg.InsecureSkipVerify) {
		tlsCfg := &httpclient.TLSConfig{CACertificate: cfg.CACertificate}
		if cfg.InsecureSkipVerify != nil {
			tlsCfg.InsecureSkipVerify = *cfg.InsecureSkipVerify
		}
		opts = append(opts, httpclient.WithTLSConfig(tlsCfg))
	}

	return &OpenAIClient{
		http:    httpclient.New(opts...),
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		model:   model,
		temp:    cfg.Temperature,
		maxTok:  cfg.MaxTokens,
	}, nil
}

func (c *OpenAIClient) ModelName() string { return c.model }
func (c *OpenAIClient) Close() error      { return nil }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type       string      `json:"type"`
	JSONSchema interface{} `json:"json_schema,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *OpenAIClient) Complete(ctx context.Context, messages []Message) (string, error) {
	return c.complete(ctx, messages, nil)
}

func (c *OpenAIClient) CompleteStructured(ctx context.Context, messages []Message, scfg StructuredOutputConfig) (string, error) {
	return c.complete(ctx, messages, &responseFormat{
		Type: "json_schema",
		JSONSchema: map[string]interface{}{
			"name":   "plan",
			"schema": scfg.Schema,
			"strict": true,
		},
	})
}

func (c *OpenAIClient) complete(ctx context.Context, messages []Message, rf *responseFormat) (string, error) {
	msgs := make([]chatMessage, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, chatMessage{Role: m.Role, Content: m.Content})
	}

	body, err := json.Marshal(chatRequest{
		Model:          c.model,
		Messages:       msgs,
		Temperature:    c.temp,
		MaxTokens:      c.maxTok,
		ResponseFormat: rf,
	})
	if err != nil {
		return "", fmt.Errorf("openai: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("openai: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("openai: request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("openai: read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("openai: status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("openai: unmarshal response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("openai: api error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("openai: no choices in response")
	}
	return parsed.Choices[0].Message.Content, nil
}
