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

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arx88/taskforge/pkg/engine"
	"github.com/arx88/taskforge/pkg/eventbus"
	"github.com/arx88/taskforge/pkg/intent"
	"github.com/arx88/taskforge/pkg/orchestrator"
	"github.com/arx88/taskforge/pkg/plan"
	"github.com/arx88/taskforge/pkg/tool"
)

type okTool struct{ name string }

func (t *okTool) Describe() tool.Descriptor { return tool.Descriptor{Name: t.name} }
func (t *okTool) Invoke(_ context.Context, _ map[string]interface{}) tool.Result {
	return tool.Result{Success: true}
}

func newTestServer(t *testing.T) *Server {
	registry := tool.NewRegistry()
	require.NoError(t, registry.Register(&okTool{name: "shell"}))

	classifier := intent.New(intent.DefaultWordLists())
	planner := plan.New(plan.DefaultTemplates(), plan.WithRegisteredTools(map[string]bool{"shell": true}))
	eng := engine.New(registry, eventbus.New())
	orch := orchestrator.New(classifier, planner, eng, nil, eventbus.New())

	return New(Options{Host: "127.0.0.1", Port: 0, Orchestrator: orch})
}

func doRequest(s *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, path, bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, r)
	return w
}

func TestHandleHealth_ReportsOKWithOrchestrator(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(s, "GET", "/health", nil)
	assert.Equal(t, 200, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestHandleHealth_DegradedWithoutOrchestrator(t *testing.T) {
	s := New(Options{Host: "127.0.0.1", Port: 0})
	w := doRequest(s, "GET", "/health", nil)
	assert.Equal(t, 503, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body["status"])
}

func TestHandleOrchestrate_MissingDescriptionRejected(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(s, "POST", "/orchestrate", []byte(`{}`))
	assert.Equal(t, 400, w.Code)
}

func TestHandleOrchestrate_ChatMessage_ReturnsSnapshot(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(s, "POST", "/orchestrate", []byte(`{"task_description": "hello there"}`))
	require.Equal(t, 202, w.Code)

	var snap orchestrator.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.NotEmpty(t, snap.TaskID)
}

func TestHandleStatus_UnknownTaskReturns404(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(s, "GET", "/orchestration/status/does-not-exist", nil)
	assert.Equal(t, 404, w.Code)
}

func TestHandleCancel_UnknownTaskMapsToValidationError(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(s, "POST", "/orchestration/cancel/does-not-exist", nil)
	assert.Equal(t, 400, w.Code)
}

func TestHandleChat_EmptyMessageRejected(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(s, "POST", "/chat", []byte(`{}`))
	assert.Equal(t, 400, w.Code)
}

func TestHandleChat_ChatOnlyMessage_ReturnsChatAnswer(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(s, "POST", "/chat", []byte(`{"message": "hello"}`))
	require.Equal(t, 200, w.Code)

	var snap orchestrator.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, orchestrator.StatusChatAnswer, snap.Status)
	assert.NotEmpty(t, snap.ChatAnswer)
}

func TestHandleMemoryStats_NoMemoryManagerReturnsEmptyList(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(s, "GET", "/memory/stats", nil)
	assert.Equal(t, 200, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestHandleMemorySearch_NoMemoryManagerReturns503(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(s, "POST", "/memory/search", []byte(`{"query": "anything"}`))
	assert.Equal(t, 503, w.Code)
}

func TestHandleRecommendations_NoMemoryManagerReturnsEmptyList(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(s, "GET", "/orchestration/recommendations", nil)
	assert.Equal(t, 200, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}
