// Package server exposes the conversation engine over HTTP. The surface
// is deliberately small: start or resume a session, send a message, clear,
// read history, health. Auth is left to the deployment in front of it.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/BAMresearch/chatBIS/common/version"
	"github.com/BAMresearch/chatBIS/internal/chatbis/chat"
	"github.com/BAMresearch/chatBIS/internal/chatbis/memory"
)

const maxBodyBytes int64 = 1 << 20

// Server holds the HTTP handlers around a conversation engine.
type Server struct {
	engine *chat.Engine
}

// New creates a Server.
func New(engine *chat.Engine) *Server {
	return &Server{engine: engine}
}

// Routes assembles the HTTP handler tree with its middleware.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(TraceID)
	r.Use(RequestLog)
	r.Use(Recover)
	r.Use(MaxBody(maxBodyBytes))

	r.Get("/health", s.handleHealth)

	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", s.handleStartSession)
		r.Post("/{id}/messages", s.handleMessage)
		r.Post("/{id}/clear", s.handleClear)
		r.Get("/{id}/history", s.handleHistory)
	})

	return r
}

type sessionRequest struct {
	SessionID string `json:"session_id"`
}

type sessionResponse struct {
	SessionID string `json:"session_id"`
}

type messageRequest struct {
	Message string `json:"message"`
}

type turnResponse struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

type historyResponse struct {
	SessionID string         `json:"session_id"`
	Turns     []turnResponse `json:"turns"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}

// handleStartSession starts a session. A body carrying a session_id
// resumes that session instead; unknown ids are adopted.
func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var (
		id  string
		err error
	)
	if req.SessionID != "" {
		id, err = s.engine.ResumeSession(r.Context(), req.SessionID)
	} else {
		id, err = s.engine.StartSession(r.Context())
	}
	switch {
	case errors.Is(err, memory.ErrInvalidSessionID):
		writeError(w, http.StatusBadRequest, "invalid session id")
	case err != nil:
		slog.Error("could not open session", "err", err)
		writeError(w, http.StatusInternalServerError, "could not open session")
	default:
		writeJSON(w, http.StatusCreated, sessionResponse{SessionID: id})
	}
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	reply, err := s.engine.HandleMessage(r.Context(), id, req.Message)
	switch {
	case errors.Is(err, memory.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case err != nil:
		slog.Error("message handling failed", "session", id, "err", err)
		writeError(w, http.StatusInternalServerError, "could not process message")
	default:
		writeJSON(w, http.StatusOK, reply)
	}
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	fresh, err := s.engine.ClearSession(r.Context(), id)
	if err != nil {
		slog.Error("could not clear session", "session", id, "err", err)
		writeError(w, http.StatusInternalServerError, "could not clear session")
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{SessionID: fresh})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	turns, err := s.engine.History(r.Context(), id)
	switch {
	case errors.Is(err, memory.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session not found")
		return
	case err != nil:
		slog.Error("could not load history", "session", id, "err", err)
		writeError(w, http.StatusInternalServerError, "could not load history")
		return
	}

	resp := historyResponse{SessionID: id, Turns: make([]turnResponse, 0, len(turns))}
	for _, t := range turns {
		resp.Turns = append(resp.Turns, turnResponse{
			Role:      t.Role,
			Content:   t.Content,
			CreatedAt: t.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			slog.Warn("could not encode response", "err", err)
		}
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
