package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

type TracerConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ExporterType string  `yaml:"exporter_type"`
	EndpointURL  string  `yaml:"endpoint_url"`
	SamplingRate float64 `yaml:"sampling_rate"`
	ServiceName  string  `yaml:"service_name"`
}

func InitGlobalTracer(ctx context.Context, cfg TracerConfig) (trace.TracerProvider, error) {
	if !cfg.Enabled {
		return noop.NewTracerProvider(), nil
	}

	var exporter sdktrace.SpanExporter
	var err error

	exporter, err = otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.EndpointURL),
		otlptracegrpc.WithInsecure(),
	)

	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SamplingRate)),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	return tp, nil
}

func GetTracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// TracerOption configures a Tracer built by NewTracer.
type TracerOption func(*Tracer)

// WithDebugExporter attaches an in-memory span exporter so span data is
// queryable via DebugExporter() (for a debug UI or /health diagnostics).
func WithDebugExporter(exp *DebugExporter) TracerOption {
	return func(t *Tracer) { t.debugExporter = exp }
}

// WithCapturePayloads enables AddPayload/AddToolPayload actually attaching
// request/response bodies to spans. Off by default since payloads can be
// large and may contain sensitive task input.
func WithCapturePayloads(capture bool) TracerOption {
	return func(t *Tracer) { t.capturePayloads = capture }
}

// Tracer wraps an OpenTelemetry tracer with the span-shaped helpers this
// module's engine/llm/memory packages call (StartAgentRun, StartLLMCall,
// StartToolExecution, StartMemorySearch), matching NoopTracer's method set
// so either can be used wherever a Manager supplies *Tracer.
type Tracer struct {
	provider        *sdktrace.TracerProvider
	tracer          trace.Tracer
	debugExporter   *DebugExporter
	capturePayloads bool
}

// NewTracer builds a Tracer from TracingConfig, exporting to the
// configured OTLP collector (or stdout for local development) and
// optionally fanning spans out to an in-memory DebugExporter as well.
func NewTracer(ctx context.Context, cfg *TracingConfig, opts ...TracerOption) (*Tracer, error) {
	exporter, err := newSpanExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create span exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	t := &Tracer{}
	for _, opt := range opts {
		opt(t)
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SamplingRate)),
		sdktrace.WithResource(res),
	}
	if t.debugExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(t.debugExporter))
	}

	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)

	t.provider = tp
	t.tracer = tp.Tracer(cfg.ServiceName)
	return t, nil
}

func newSpanExporter(ctx context.Context, cfg *TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "stdout":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	default:
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.IsInsecure() {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(ctx, opts...)
	}
}

// Start begins a generic span. Most callers use the named Start* helpers
// below; this exists for call sites (HTTP middleware) that only need a
// bare span.
func (t *Tracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// StartAgentRun begins the top-level span for one orchestration.
func (t *Tracer) StartAgentRun(ctx context.Context, agentName, agentType, sessionID, parentSpanID, model string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanAgentRun,
		trace.WithAttributes(
			attribute.String(AttrAgentName, agentName),
			attribute.String("agent.type", agentType),
			attribute.String("session.id", sessionID),
			attribute.String("agent.llm", model),
		),
	)
}

// StartLLMCall begins a span around one LLM completion request.
func (t *Tracer) StartLLMCall(ctx context.Context, model string, maxTokens int, temperature, topP float64) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanLLMCall,
		trace.WithAttributes(
			attribute.String(AttrLLMModel, model),
			attribute.Int("llm.max_tokens", maxTokens),
			attribute.Float64("llm.temperature", temperature),
			attribute.Float64("llm.top_p", topP),
		),
	)
}

// StartToolExecution begins a span around one tool dispatch.
func (t *Tracer) StartToolExecution(ctx context.Context, toolName, taskID, sideEffectClass string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanToolExecution,
		trace.WithAttributes(
			attribute.String(AttrToolName, toolName),
			attribute.String("task.id", taskID),
			attribute.String("tool.side_effect_class", sideEffectClass),
		),
	)
}

// StartMemorySearch begins a span around one memory store retrieval.
func (t *Tracer) StartMemorySearch(ctx context.Context, store string, maxResults int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanMemorySearch,
		trace.WithAttributes(
			attribute.String("memory.store", store),
			attribute.Int("memory.max_results", maxResults),
		),
	)
}

// AddLLMUsage records token usage on an in-flight LLM span.
func (t *Tracer) AddLLMUsage(span trace.Span, inputTokens, outputTokens int) {
	span.SetAttributes(
		attribute.Int(AttrLLMTokensInput, inputTokens),
		attribute.Int(AttrLLMTokensOutput, outputTokens),
	)
}

// AddLLMFinishReason records why an LLM call stopped generating.
func (t *Tracer) AddLLMFinishReason(span trace.Span, reason string) {
	span.SetAttributes(attribute.String("llm.finish_reason", reason))
}

// AddPayload attaches a request/response payload to span, gated by
// capturePayloads since payloads can carry sensitive task input.
func (t *Tracer) AddPayload(span trace.Span, key, value string) {
	if !t.capturePayloads {
		return
	}
	span.SetAttributes(attribute.String(key, truncateString(value, maxPayloadAttrLen)))
}

// AddToolPayload attaches a tool invocation's parameters/result, gated the
// same way as AddPayload.
func (t *Tracer) AddToolPayload(span trace.Span, key, value string) {
	t.AddPayload(span, key, value)
}

// RecordError marks span as failed and attaches err's message.
func (t *Tracer) RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attribute.String(AttrErrorType, fmt.Sprintf("%T", err)))
}

// DebugExporter returns the in-memory span exporter, or nil if none was
// configured via WithDebugExporter.
func (t *Tracer) DebugExporter() *DebugExporter {
	return t.debugExporter
}

// Shutdown flushes and shuts down the underlying TracerProvider.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// maxPayloadAttrLen bounds how much of a captured payload is kept on a
// span attribute.
const maxPayloadAttrLen = 2000

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "...(truncated)"
}
