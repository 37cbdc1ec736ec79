// Package httpapi serves the agent over a JSON HTTP API.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	agent "github.com/Protocol-Lattice/chat-agent"
	"github.com/Protocol-Lattice/chat-agent/pkg/conversation"
	"github.com/Protocol-Lattice/chat-agent/pkg/models"
	"github.com/Protocol-Lattice/chat-agent/pkg/tools"
)

// Agent is the subset of *agent.Agent served over HTTP.
type Agent interface {
	SendMessage(ctx context.Context, conversationID, text, model string) (agent.TurnResult, error)
	StartConversation(ctx context.Context, title string) (conversation.Conversation, error)
	ListConversations(ctx context.Context) ([]conversation.Conversation, error)
	History(ctx context.Context, id string) ([]conversation.Message, error)
	DeleteConversation(ctx context.Context, id string) (bool, error)
	ClearConversation(ctx context.Context, id string) error
	RenameConversation(ctx context.Context, id, title string) error
	SearchConversations(ctx context.Context, query string, limit int) ([]conversation.SearchHit, error)
	Summary(ctx context.Context, id string) (conversation.Summary, error)
	Stats(ctx context.Context) (conversation.Stats, error)
	ListTools() []tools.FunctionSchema
	RunTool(ctx context.Context, name string, args map[string]any) tools.Result
	Providers() []string
	DefaultModel() string
}

var _ Agent = (*agent.Agent)(nil)

// Options configure the handler.
type Options struct {
	AgentName string
	Logger    *slog.Logger
	// Metrics, when set, is mounted at /metrics.
	Metrics http.Handler
	Now     func() time.Time
}

// Server implements the HTTP handlers.
type Server struct {
	agent  Agent
	name   string
	logger *slog.Logger
	now    func() time.Time
}

// NewHandler creates the HTTP handler for a.
func NewHandler(a Agent, opts Options) http.Handler {
	s := &Server{agent: a, name: opts.AgentName, logger: opts.Logger, now: opts.Now}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/health", s.Health)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", s.Chat)
		r.Get("/stats", s.Stats)
		r.Post("/search", s.Search)

		r.Get("/tools", s.ListTools)
		r.Post("/tools/{name}/execute", s.ExecuteTool)

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", s.ListConversations)
			r.Post("/", s.CreateConversation)
			r.Get("/{id}", s.GetConversation)
			r.Patch("/{id}", s.RenameConversation)
			r.Delete("/{id}", s.DeleteConversation)
			r.Post("/{id}/clear", s.ClearConversation)
			r.Get("/{id}/summary", s.Summary)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("response encode failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var pe *models.ProviderError
	switch {
	case errors.Is(err, conversation.ErrConversationNotFound):
		return http.StatusNotFound
	case errors.Is(err, agent.ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNoProvider):
		return http.StatusServiceUnavailable
	case errors.As(err, &pe):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(op+" failed", "error", err)
	}
	writeError(w, status, err.Error())
}

func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	return json.NewDecoder(r.Body).Decode(v)
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "healthy",
		"agent_name": s.name,
		"timestamp":  s.now().UTC(),
	})
}

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
	Model          string `json:"model"`
}

type chatResponse struct {
	agent.TurnResult
	Warning string `json:"warning,omitempty"`
}

func (s *Server) Chat(w http.ResponseWriter, r *http.Request) {
	var body chatRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(body.Message) == "" {
		writeError(w, http.StatusBadRequest, "Message is required")
		return
	}

	res, err := s.agent.SendMessage(r.Context(), body.ConversationID, strings.TrimSpace(body.Message), body.Model)
	if err != nil {
		if res.Degraded {
			writeJSON(w, http.StatusOK, chatResponse{TurnResult: res, Warning: err.Error()})
			return
		}
		s.fail(w, "chat", err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{TurnResult: res})
}

func (s *Server) ListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := s.agent.ListConversations(r.Context())
	if err != nil {
		s.fail(w, "list conversations", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

type titleRequest struct {
	Title string `json:"title"`
}

func (s *Server) CreateConversation(w http.ResponseWriter, r *http.Request) {
	var body titleRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}
	conv, err := s.agent.StartConversation(r.Context(), body.Title)
	switch {
	case errors.Is(err, conversation.ErrStorage):
		writeJSON(w, http.StatusCreated, map[string]any{"conversation": conv, "warning": err.Error()})
		return
	case err != nil:
		s.fail(w, "create conversation", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"conversation": conv})
}

func (s *Server) GetConversation(w http.ResponseWriter, r *http.Request) {
	history, err := s.agent.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, "get conversation", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

func (s *Server) RenameConversation(w http.ResponseWriter, r *http.Request) {
	var body titleRequest
	if err := decodeBody(r, &body); err != nil || strings.TrimSpace(body.Title) == "" {
		writeError(w, http.StatusBadRequest, "Title is required")
		return
	}
	if err := s.agent.RenameConversation(r.Context(), chi.URLParam(r, "id"), body.Title); err != nil {
		s.fail(w, "rename conversation", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	ok, err := s.agent.DeleteConversation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, "delete conversation", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": ok})
}

func (s *Server) ClearConversation(w http.ResponseWriter, r *http.Request) {
	if err := s.agent.ClearConversation(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, "clear conversation", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) Summary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.agent.Summary(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, "summary", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) ListTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tools": s.agent.ListTools()})
}

type executeRequest struct {
	Parameters map[string]any `json:"parameters"`
}

func (s *Server) ExecuteTool(w http.ResponseWriter, r *http.Request) {
	var body executeRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}
	res := s.agent.RunTool(r.Context(), chi.URLParam(r, "name"), body.Parameters)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.agent.Stats(r.Context())
	if err != nil {
		s.fail(w, "stats", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"agent": map[string]any{
			"name":          s.name,
			"providers":     s.agent.Providers(),
			"default_model": s.agent.DefaultModel(),
			"tools":         len(s.agent.ListTools()),
		},
		"memory":    stats,
		"timestamp": s.now().UTC(),
	})
}

type searchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

func (s *Server) Search(w http.ResponseWriter, r *http.Request) {
	var body searchRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(body.Query) == "" {
		writeError(w, http.StatusBadRequest, "Query is required")
		return
	}
	hits, err := s.agent.SearchConversations(r.Context(), strings.TrimSpace(body.Query), body.Limit)
	if err != nil {
		s.fail(w, "search", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": hits})
}

// Serve runs srv until ctx is cancelled, then shuts it down, giving
// outstanding requests up to timeout to finish.
func Serve(ctx context.Context, srv *http.Server, timeout time.Duration, logger *slog.Logger) error {
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown did not complete", "timeout", timeout, "error", err)
			return srv.Close()
		}
		return nil
	}
}
