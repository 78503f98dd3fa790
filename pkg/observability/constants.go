package observability

const (
	AttrServiceName      = "service.name"
	AttrServiceVersion   = "service.version"
	AttrAgentName        = "agent.name"
	AttrAgentLLM         = "agent.llm"
	AttrToolName         = "tool.name"
	AttrLLMModel         = "llm.model"
	AttrLLMTokensInput   = "llm.tokens.input"
	AttrLLMTokensOutput  = "llm.tokens.output"
	AttrErrorType        = "error.type"
	AttrStatusCode       = "http.status_code"
	AttrHTTPMethod       = "http.method"
	AttrHTTPPath         = "http.path"
	AttrHTTPStatusCode   = "http.status_code"
	AttrHTTPResponseSize = "http.response_size"
	AttrTaskEventID      = "task.event_id"

	SpanAgentCall     = "agent.call"
	SpanAgentRun      = "orchestrator.run"
	SpanLLMRequest    = "agent.llm_request"
	SpanLLMCall       = "agent.llm_request"
	SpanToolExecution = "agent.tool_execution"
	SpanMemoryLookup  = "agent.memory_lookup"
	SpanMemorySearch  = "agent.memory_lookup"
	SpanHTTPRequest   = "http.request"

	DefaultServiceName = "taskforge"

	// DefaultSamplingRate traces every request when tracing is enabled and
	// no explicit sampling_rate is configured.
	DefaultSamplingRate = 1.0
	// DefaultOTLPEndpoint is the standard local OTel collector gRPC port.
	DefaultOTLPEndpoint = "localhost:4317"
	// DefaultMetricsPath is where the Prometheus scrape handler is mounted.
	DefaultMetricsPath = "/metrics"
)
