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

// Package server exposes the orchestrator over HTTP: the §7.1 endpoint
// table (/orchestrate, /orchestration/*, /chat, /memory/*, /health), plus
// an SSE stream of a task's realtime events.
//
// Grounded in the teacher's pkg/server/server.go for the lifecycle
// (Start/Wait/Stop, signal-driven shutdown) and pkg/transport's chi-based
// routing and http_metrics_middleware.go for request instrumentation;
// rate limiting is wired through pkg/ratelimit.Middleware the way
// Hardonian-Reach's RateLimiterMiddleware is wired into its own router.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/arx88/taskforge/pkg/eventbus"
	"github.com/arx88/taskforge/pkg/memory"
	"github.com/arx88/taskforge/pkg/observability"
	"github.com/arx88/taskforge/pkg/orchestrator"
	"github.com/arx88/taskforge/pkg/ratelimit"
	"github.com/arx88/taskforge/pkg/task"
)

// Options configures a Server.
type Options struct {
	Host string
	Port int

	Orchestrator *orchestrator.Orchestrator
	Memory       *memory.Manager
	Observability *observability.Manager

	// RateLimiter is optional; nil disables rate limiting entirely.
	RateLimiter ratelimit.RateLimiter
}

// Server is the HTTP front-end: a thin façade over the Orchestrator and
// MemoryManager, with its own listener lifecycle independent of the
// composition root so cmd/taskforge can Start/Wait/Stop it like any other
// long-running dependency.
type Server struct {
	opts   Options
	router chi.Router
	httpSrv *http.Server

	doneChan chan struct{}
}

// New builds a Server with its routes registered but not yet listening.
func New(opts Options) *Server {
	s := &Server{
		opts:     opts,
		doneChan: make(chan struct{}),
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(observability.HTTPMiddleware(s.opts.Observability.Tracer(), s.opts.Observability.Metrics()))

	if s.opts.RateLimiter != nil {
		r.Use(ratelimit.SimpleMiddleware(s.opts.RateLimiter, "/health"))
	}

	r.Post("/orchestrate", s.handleOrchestrate)
	r.Get("/orchestration/status/{task_id}", s.handleStatus)
	r.Get("/orchestration/metrics", s.handleMetrics)
	r.Get("/orchestration/active", s.handleActive)
	r.Post("/orchestration/cancel/{task_id}", s.handleCancel)
	r.Get("/orchestration/recommendations", s.handleRecommendations)
	r.Get("/orchestration/events/{task_id}", s.handleEvents)
	r.Post("/chat", s.handleChat)
	r.Get("/memory/stats", s.handleMemoryStats)
	r.Get("/memory/insights", s.handleMemoryInsights)
	r.Post("/memory/search", s.handleMemorySearch)
	r.Get("/health", s.handleHealth)

	if s.opts.Observability != nil {
		r.Handle(s.opts.Observability.MetricsEndpoint(), s.opts.Observability.MetricsHandler())
	}

	return r
}

// Start binds the listener and serves in the background. It returns once
// the listener is ready to accept connections.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	s.httpSrv = &http.Server{Handler: s.router}

	go func() {
		defer close(s.doneChan)
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server exited", "error", err)
		}
	}()

	slog.Info("server listening", "addr", ln.Addr().String())
	return nil
}

// Wait blocks until SIGINT/SIGTERM, then stops the server gracefully.
func (s *Server) Wait(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}
	return s.Stop(context.Background())
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	<-s.doneChan
	return nil
}

// orchestrateRequest is the §7.1 POST /orchestrate body.
type orchestrateRequest struct {
	TaskDescription string                 `json:"task_description"`
	UserID          string                 `json:"user_id,omitempty"`
	SessionID       string                 `json:"session_id,omitempty"`
	Priority        int                    `json:"priority,omitempty"`
	Constraints     map[string]interface{} `json:"constraints,omitempty"`
	Preferences     map[string]interface{} `json:"preferences,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

func (s *Server) handleOrchestrate(w http.ResponseWriter, r *http.Request) {
	var req orchestrateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TaskDescription == "" {
		writeError(w, http.StatusBadRequest, "task_description is required")
		return
	}
	priority := req.Priority
	if priority == 0 {
		priority = 3
	}

	t := &task.Task{
		TaskID:      uuid.NewString(),
		UserID:      req.UserID,
		SessionID:   req.SessionID,
		Description: req.TaskDescription,
		Priority:    priority,
		Constraints: req.Constraints,
		Preferences: req.Preferences,
		Metadata:    req.Metadata,
		CreatedAt:   time.Now(),
	}

	snap, err := s.opts.Orchestrator.SubmitAsync(t)
	if err != nil {
		writeOrchestratorError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, snap)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	snap, ok := s.opts.Orchestrator.GetStatus(taskID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown task_id")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Orchestrator.GetMetrics())
}

func (s *Server) handleActive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Orchestrator.Active())
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	if err := s.opts.Orchestrator.CancelOrchestration(taskID); err != nil {
		writeOrchestratorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"task_id": taskID, "status": "cancel_requested"})
}

func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Orchestrator.GetRecommendations())
}

// handleEvents streams taskID's event-bus topic as Server-Sent Events,
// grounded in the pattern itsneelabh-gomind's sse.go uses: set the
// streaming headers, flush after every write, exit when the client
// disconnects or the subscription closes.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ch, unsubscribe := s.opts.Orchestrator.Events(taskID)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case ev, open := <-ch:
			if !open {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload)
			flusher.Flush()
			if ev.Type == eventbus.TypeCompletion || ev.Type == eventbus.TypeFailure {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// chatRequest is the §7.1 POST /chat body.
type chatRequest struct {
	Message    string `json:"message"`
	Context    string `json:"context,omitempty"`
	SearchMode string `json:"search_mode,omitempty"`
}

// handleChat submits the message as a task; the orchestrator's intent
// classifier decides whether it becomes a chat answer or a full
// orchestration, so this endpoint is a thin wrapper over /orchestrate with
// message-shaped framing.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	message := req.Message
	switch req.SearchMode {
	case "web":
		message = "[websearch] " + message
	case "deep":
		message = "[deepresearch] " + message
	}

	t := &task.Task{
		TaskID:      uuid.NewString(),
		Description: message,
		Priority:    3,
		CreatedAt:   time.Now(),
	}
	if req.Context != "" {
		t.Metadata = map[string]interface{}{"context": req.Context}
	}

	snap, err := s.opts.Orchestrator.OrchestrateTask(r.Context(), t)
	if err != nil {
		writeOrchestratorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleMemoryStats(w http.ResponseWriter, r *http.Request) {
	if s.opts.Memory == nil {
		writeJSON(w, http.StatusOK, []interface{}{})
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Memory.GetMemoryStats())
}

func (s *Server) handleMemoryInsights(w http.ResponseWriter, r *http.Request) {
	if s.opts.Memory == nil {
		writeJSON(w, http.StatusOK, []interface{}{})
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Memory.GetLearningInsights())
}

// memorySearchRequest is the §7.1 POST /memory/search body.
type memorySearchRequest struct {
	Query      string `json:"query"`
	Type       string `json:"type,omitempty"`
	MaxResults int    `json:"max_results,omitempty"`
}

func (s *Server) handleMemorySearch(w http.ResponseWriter, r *http.Request) {
	if s.opts.Memory == nil {
		writeError(w, http.StatusServiceUnavailable, "memory manager not configured")
		return
	}
	var req memorySearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	maxResults := req.MaxResults
	if maxResults <= 0 {
		maxResults = 10
	}
	storeType := memory.StoreEpisodic
	if req.Type != "" {
		storeType = memory.StoreType(req.Type)
	}

	results, err := s.opts.Memory.SearchMemory(r.Context(), req.Query, storeType, maxResults)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// handleHealth reports liveness plus the status of dependent services
// this process actually owns (observability exporters are best-effort;
// only the orchestrator's presence is load-bearing).
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if s.opts.Orchestrator == nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"status":            status,
		"tracing_enabled":   s.opts.Observability.TracingEnabled(),
		"metrics_enabled":   s.opts.Observability.MetricsEnabled(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}

// writeOrchestratorError maps the task error taxonomy to HTTP status
// codes per §8's error handling design: ValidationError is a client error,
// everything else is treated as a server-side failure to surface.
func writeOrchestratorError(w http.ResponseWriter, err error) {
	if task.IsKind(err, task.KindValidation) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
