package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agent "github.com/Protocol-Lattice/chat-agent"
	"github.com/Protocol-Lattice/chat-agent/internal/logging"
	"github.com/Protocol-Lattice/chat-agent/internal/metrics"
	"github.com/Protocol-Lattice/chat-agent/pkg/conversation"
	"github.com/Protocol-Lattice/chat-agent/pkg/conversation/store"
	"github.com/Protocol-Lattice/chat-agent/pkg/models"
	"github.com/Protocol-Lattice/chat-agent/pkg/tools"
)

func newTestHandler(t *testing.T, steps ...models.ScriptStep) http.Handler {
	t.Helper()
	return newTestHandlerWithBackend(t, store.NewMemory(), steps...)
}

func newTestHandlerWithBackend(t *testing.T, backend conversation.Backend, steps ...models.ScriptStep) http.Handler {
	t.Helper()
	provider := models.NewScripted("", "", steps...)
	router := models.NewRouter("")
	router.Register(provider)
	rec := metrics.New()
	a, err := agent.New(agent.Options{
		Store:    conversation.NewStore(backend),
		Registry: tools.NewRegistry(tools.NewCalculatorTool()),
		Router:   router,
		Metrics:  rec,
	})
	require.NoError(t, err)
	return NewHandler(a, Options{
		AgentName: "Test Agent",
		Logger:    logging.NewNop(),
		Metrics:   rec.Handler(),
		Now:       func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) },
	})
}

func do(t *testing.T, h http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w, out
}

func TestHealth(t *testing.T) {
	h := newTestHandler(t)
	w, body := do(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "Test Agent", body["agent_name"])
}

func TestChatRoundTrip(t *testing.T) {
	h := newTestHandler(t,
		models.Calls(models.CallRequest{ID: "c1", Name: "calculator", Arguments: map[string]any{"expression": "2 + 3 * 4"}}),
		models.Answer("It is 14."),
	)

	w, body := do(t, h, http.MethodPost, "/api/chat", map[string]any{"message": "  what is 2 + 3 * 4?  "})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "It is 14.", body["response"])
	assert.Equal(t, "scripted-model", body["model"])
	calls, _ := body["tool_calls"].([]any)
	require.Len(t, calls, 1)

	id, _ := body["conversation_id"].(string)
	require.NotEmpty(t, id)

	w, body = do(t, h, http.MethodGet, "/api/conversations/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	history, _ := body["history"].([]any)
	assert.Len(t, history, 4)
	first, _ := history[0].(map[string]any)
	assert.Equal(t, "what is 2 + 3 * 4?", first["content"])

	w, body = do(t, h, http.MethodGet, "/api/conversations/"+id+"/summary", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 4.0, body["total_messages"])
	assert.Equal(t, 1.0, body["tool_calls"])
}

func TestChatValidation(t *testing.T) {
	h := newTestHandler(t)
	w, body := do(t, h, http.MethodPost, "/api/chat", map[string]any{"message": "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Message is required", body["error"])

	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatProviderFailure(t *testing.T) {
	h := newTestHandler(t, models.Failure(errors.New("upstream down")))
	w, body := do(t, h, http.MethodPost, "/api/chat", map[string]any{"message": "hi"})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, body["error"], "upstream down")
}

func TestConversationLifecycle(t *testing.T) {
	h := newTestHandler(t, models.Answer("hello back"))

	w, body := do(t, h, http.MethodPost, "/api/conversations", map[string]any{"title": "Planning"})
	require.Equal(t, http.StatusCreated, w.Code)
	conv, _ := body["conversation"].(map[string]any)
	id, _ := conv["id"].(string)
	require.NotEmpty(t, id)

	w, _ = do(t, h, http.MethodPost, "/api/chat", map[string]any{"message": "hello", "conversation_id": id})
	require.Equal(t, http.StatusOK, w.Code)

	w, body = do(t, h, http.MethodPost, "/api/search", map[string]any{"query": "HELLO"})
	require.Equal(t, http.StatusOK, w.Code)
	results, _ := body["results"].([]any)
	require.Len(t, results, 1)

	w, _ = do(t, h, http.MethodPatch, "/api/conversations/"+id, map[string]any{"title": "Renamed"})
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = do(t, h, http.MethodPost, "/api/conversations/"+id+"/clear", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, body = do(t, h, http.MethodGet, "/api/conversations", nil)
	require.Equal(t, http.StatusOK, w.Code)
	convs, _ := body["conversations"].([]any)
	require.Len(t, convs, 1)
	listed, _ := convs[0].(map[string]any)
	assert.Equal(t, "Renamed", listed["title"])
	assert.Equal(t, 0.0, listed["message_count"])

	w, body = do(t, h, http.MethodDelete, "/api/conversations/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["success"])

	w, _ = do(t, h, http.MethodGet, "/api/conversations/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, body = do(t, h, http.MethodDelete, "/api/conversations/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["success"])
}

// downBackend rejects every write.
type downBackend struct {
	*store.Memory
}

var errDown = errors.New("database unavailable")

func (downBackend) CreateConversation(context.Context, conversation.Conversation) error {
	return errDown
}

func (downBackend) InsertMessage(context.Context, string, conversation.Message) error {
	return errDown
}

func TestStorageFaultsAreReported(t *testing.T) {
	h := newTestHandlerWithBackend(t, downBackend{Memory: store.NewMemory()}, models.Answer("still here"))

	w, body := do(t, h, http.MethodPost, "/api/conversations", map[string]string{"title": "Offline"})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, body["warning"], "database unavailable")
	conv, ok := body["conversation"].(map[string]any)
	require.True(t, ok, "conversation missing: %v", body)
	id, _ := conv["id"].(string)
	require.NotEmpty(t, id)

	w, body = do(t, h, http.MethodPost, "/api/chat", map[string]string{"message": "hello", "conversation_id": id})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "still here", body["response"])
	assert.NotEmpty(t, body["warning"])
}

func TestSearchRequiresQuery(t *testing.T) {
	h := newTestHandler(t)
	w, body := do(t, h, http.MethodPost, "/api/search", map[string]any{"query": " "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Query is required", body["error"])
}

func TestTools(t *testing.T) {
	h := newTestHandler(t)

	w, body := do(t, h, http.MethodGet, "/api/tools", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list, _ := body["tools"].([]any)
	require.Len(t, list, 1)

	w, body = do(t, h, http.MethodPost, "/api/tools/calculator/execute", map[string]any{
		"parameters": map[string]any{"expression": "2 + 3 * 4"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["success"])
	data, _ := body["data"].(map[string]any)
	assert.Equal(t, 14.0, data["result"])

	w, body = do(t, h, http.MethodPost, "/api/tools/foo/execute", map[string]any{})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["success"])
	assert.Contains(t, body["error"], "foo")
}

func TestStatsAndMetrics(t *testing.T) {
	h := newTestHandler(t, models.Answer("ok"))
	do(t, h, http.MethodPost, "/api/chat", map[string]any{"message": "hi"})

	w, body := do(t, h, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	ag, _ := body["agent"].(map[string]any)
	assert.Equal(t, "Test Agent", ag["name"])
	mem, _ := body["memory"].(map[string]any)
	assert.Equal(t, 1.0, mem["total_conversations"])
	assert.Equal(t, 2.0, mem["total_messages"])

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `chat_agent_turns_total{outcome="answer"} 1`)
}

func TestUnknownRoute(t *testing.T) {
	h := newTestHandler(t)
	w, body := do(t, h, http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Not found", body["error"])
}

func TestServeShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	srv := &http.Server{Addr: addr, Handler: newTestHandler(t)}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, srv, time.Second, logging.NewNop()) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}
