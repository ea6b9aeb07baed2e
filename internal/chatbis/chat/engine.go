// Package chat drives conversations end to end: each message is routed,
// answered from the documentation corpus or by dispatching an openBIS
// action, and recorded in the session log together with the reply. The
// engine keeps no conversational state of its own; routing context is
// replayed from the session log on every turn, so engines are safe to
// create per request.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BAMresearch/chatBIS/common/redact"
	"github.com/BAMresearch/chatBIS/common/trace"
	"github.com/BAMresearch/chatBIS/internal/chatbis/actions"
	"github.com/BAMresearch/chatBIS/internal/chatbis/corpus"
	"github.com/BAMresearch/chatBIS/internal/chatbis/memory"
	"github.com/BAMresearch/chatBIS/internal/chatbis/retrieval"
	"github.com/BAMresearch/chatBIS/internal/chatbis/router"
)

// EngineConfig holds the engine's tunables.
type EngineConfig struct {
	// TopK is the number of chunks retrieved for an in-conversation
	// question. Default: 3.
	TopK int

	// TopKStandalone is the number of chunks retrieved for a one-shot Ask.
	// Default: 5.
	TopKStandalone int

	// EmbedTimeout bounds query embedding. Default: 15s.
	EmbedTimeout time.Duration

	// GenerateTimeout bounds answer generation. Default: 60s.
	GenerateTimeout time.Duration

	// DispatchTimeout bounds openBIS action execution. Default: 30s.
	DispatchTimeout time.Duration

	// Now returns the current time. Defaults to time.Now; overridable in
	// tests.
	Now func() time.Time
}

// DefaultEngineConfig returns an EngineConfig with the documented defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		TopK:            3,
		TopKStandalone:  5,
		EmbedTimeout:    15 * time.Second,
		GenerateTimeout: 60 * time.Second,
		DispatchTimeout: 30 * time.Second,
	}
}

// EngineDeps are the collaborators an Engine drives.
type EngineDeps struct {
	Sessions   *memory.SessionStore
	Router     *router.Router
	Retriever  *retrieval.Retriever
	Dispatcher actions.Dispatcher // optional; nil disables actions
	Generator  Generator          // optional; nil falls back to extractive answers
}

// Metadata describes how a reply was produced.
type Metadata struct {
	Mode          string    `json:"decision"`
	Signals       []string  `json:"signals,omitempty"`
	Action        string    `json:"action,omitempty"`
	ChunksUsed    int       `json:"rag_chunks_used"`
	Turns         int       `json:"conversation_length"`
	TokenEstimate int       `json:"token_count"`
	Timestamp     time.Time `json:"timestamp"`
}

// Reply is the assistant's answer to one message.
type Reply struct {
	SessionID string   `json:"session_id"`
	Text      string   `json:"answer"`
	Sources   []string `json:"sources,omitempty"`
	Metadata  Metadata `json:"metadata"`
}

// Engine orchestrates conversations. Messages within one session are
// handled strictly in order; different sessions proceed in parallel.
type Engine struct {
	cfg        EngineConfig
	sessions   *memory.SessionStore
	router     *router.Router
	retriever  *retrieval.Retriever
	dispatcher actions.Dispatcher
	generator  Generator

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEngine wires an engine from its collaborators.
func NewEngine(cfg EngineConfig, deps EngineDeps) (*Engine, error) {
	if deps.Sessions == nil {
		return nil, fmt.Errorf("chat: engine needs a session store")
	}
	if deps.Router == nil {
		return nil, fmt.Errorf("chat: engine needs a router")
	}
	if deps.Retriever == nil {
		return nil, fmt.Errorf("chat: engine needs a retriever")
	}

	def := DefaultEngineConfig()
	if cfg.TopK <= 0 {
		cfg.TopK = def.TopK
	}
	if cfg.TopKStandalone <= 0 {
		cfg.TopKStandalone = def.TopKStandalone
	}
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = def.EmbedTimeout
	}
	if cfg.GenerateTimeout <= 0 {
		cfg.GenerateTimeout = def.GenerateTimeout
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = def.DispatchTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	gen := deps.Generator
	if gen == nil {
		gen = ExtractiveGenerator{}
	}

	return &Engine{
		cfg:        cfg,
		sessions:   deps.Sessions,
		router:     deps.Router,
		retriever:  deps.Retriever,
		dispatcher: deps.Dispatcher,
		generator:  gen,
		locks:      make(map[string]*sync.Mutex),
	}, nil
}

// StartSession begins a new conversation and returns its id.
func (e *Engine) StartSession(ctx context.Context) (string, error) {
	sess, err := e.sessions.Create(ctx)
	if err != nil {
		return "", err
	}
	slog.Info("session started", "session", sess.ID)
	return sess.ID, nil
}

// ResumeSession continues an existing conversation. Unknown ids are adopted
// as fresh sessions.
func (e *Engine) ResumeSession(ctx context.Context, id string) (string, error) {
	sess, err := e.sessions.Resume(ctx, id)
	if err != nil {
		return "", err
	}
	return sess.ID, nil
}

// ClearSession ends a conversation and hands out a fresh session id. The
// old session's history stays on disk.
func (e *Engine) ClearSession(ctx context.Context, sessionID string) (string, error) {
	sess, err := e.sessions.Clear(ctx)
	if err != nil {
		return "", err
	}
	e.mu.Lock()
	delete(e.locks, sessionID)
	e.mu.Unlock()
	slog.Info("session cleared", "old", sessionID, "new", sess.ID)
	return sess.ID, nil
}

// History returns the full durable log of a session.
func (e *Engine) History(ctx context.Context, sessionID string) ([]memory.Turn, error) {
	return e.sessions.History(ctx, sessionID)
}

// HandleMessage answers one user message within a session. The user
// message and the reply are persisted together; when that write fails the
// reply is withheld and the error returned, so history never shows an
// exchange the user did not complete.
func (e *Engine) HandleMessage(ctx context.Context, sessionID, message string) (*Reply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, fmt.Errorf("chat: empty message")
	}
	ctx, traceID := trace.Ensure(ctx)

	unlock := e.lockSession(sessionID)
	defer unlock()

	ws, err := e.sessions.WorkingSet(ctx, sessionID)
	if err != nil {
		slog.Warn("could not load working set", "session", sessionID, "trace", traceID, "err", err)
		ws = nil
	}

	decision := e.router.Classify(message, e.replayContext(ws))
	slog.Info("routed message",
		"session", sessionID,
		"trace", traceID,
		"mode", decision.Mode,
		"action", decision.Action,
		"params", redact.Params(decision.Params),
		"signals", decision.Signals,
	)

	var (
		text       string
		chunksUsed int
		sources    []string
	)
	switch decision.Mode {
	case router.ModeAction:
		text = e.runAction(ctx, decision)
	default:
		text, chunksUsed, sources = e.answerFromDocs(ctx, message, ws, e.cfg.TopK)
	}

	if _, _, err := e.sessions.AppendExchange(ctx, sessionID, message, text); err != nil {
		return nil, fmt.Errorf("chat: record exchange: %w", err)
	}

	turns, err := e.sessions.TurnCount(ctx, sessionID)
	if err != nil {
		slog.Warn("could not count turns", "session", sessionID, "err", err)
	}

	return &Reply{
		SessionID: sessionID,
		Text:      text,
		Sources:   sources,
		Metadata: Metadata{
			Mode:          string(decision.Mode),
			Signals:       decision.Signals,
			Action:        decision.Action,
			ChunksUsed:    chunksUsed,
			Turns:         turns,
			TokenEstimate: estimateTokens(text),
			Timestamp:     e.cfg.Now().UTC(),
		},
	}, nil
}

// Ask answers a single question outside any session: wider retrieval, no
// history, nothing persisted.
func (e *Engine) Ask(ctx context.Context, question string) (*Reply, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("chat: empty question")
	}
	ctx, _ = trace.Ensure(ctx)

	text, chunksUsed, sources := e.answerFromDocs(ctx, question, nil, e.cfg.TopKStandalone)
	return &Reply{
		Text:    text,
		Sources: sources,
		Metadata: Metadata{
			Mode:          string(router.ModeRAG),
			ChunksUsed:    chunksUsed,
			TokenEstimate: estimateTokens(text),
			Timestamp:     e.cfg.Now().UTC(),
		},
	}, nil
}

// runAction dispatches an action and always comes back with user-facing
// text; failures become explanations instead of lost turns.
func (e *Engine) runAction(ctx context.Context, d router.Decision) string {
	if e.dispatcher == nil {
		return "Actions are not available in this deployment."
	}

	actx, cancel := context.WithTimeout(ctx, e.cfg.DispatchTimeout)
	defer cancel()

	result, err := e.dispatcher.Dispatch(actx, d.Action, d.Params)
	if err != nil {
		slog.Warn("action dispatch failed", "action", d.Action, "trace", trace.FromContext(ctx), "err", err)
		switch {
		case errors.Is(err, actions.ErrUnknownAction):
			return fmt.Sprintf("I don't know how to %s yet.", strings.ReplaceAll(d.Action, "_", " "))
		case errors.Is(err, actions.ErrNotConfigured):
			return "No openBIS connection is configured, so I can only answer documentation questions right now."
		default:
			return fmt.Sprintf("The action failed: %v", err)
		}
	}
	return result
}

// answerFromDocs retrieves supporting chunks and generates an answer from
// them plus the conversation so far. history may be nil for standalone
// questions.
func (e *Engine) answerFromDocs(ctx context.Context, question string, history []memory.Turn, k int) (string, int, []string) {
	rctx, cancel := context.WithTimeout(ctx, e.cfg.EmbedTimeout)
	chunks := e.retriever.Retrieve(rctx, question, k)
	cancel()

	gctx, cancel := context.WithTimeout(ctx, e.cfg.GenerateTimeout)
	defer cancel()
	text, err := e.generator.Generate(gctx, question, chunks, history)
	if err != nil {
		slog.Warn("generator failed, using extractive answer", "trace", trace.FromContext(ctx), "err", err)
		text, _ = ExtractiveGenerator{}.Generate(ctx, question, chunks, nil)
	}
	text = StripThink(text)

	sources := make([]string, 0, len(chunks))
	for _, sc := range chunks {
		sources = append(sources, chunkSource(sc.Chunk))
	}
	return text, len(chunks), sources
}

func chunkSource(c corpus.Chunk) string {
	title := c.Title
	if title == "" {
		title = c.ID
	}
	if c.SourceURL != "" {
		return title + " (" + c.SourceURL + ")"
	}
	return title
}

// replayContext rebuilds the routing context hint by classifying the
// stored user turns in order. The hint lives in the session log, not in
// the engine, so follow-ups keep working across restarts and across
// engine instances.
func (e *Engine) replayContext(history []memory.Turn) *router.Decision {
	var prev *router.Decision
	for _, t := range history {
		if t.Role != memory.RoleUser {
			continue
		}
		d := e.router.Classify(t.Content, prev)
		prev = &d
	}
	return prev
}

// lockSession serializes message handling per session id.
func (e *Engine) lockSession(id string) func() {
	e.mu.Lock()
	l, ok := e.locks[id]
	if !ok {
		l = &sync.Mutex{}
		e.locks[id] = l
	}
	e.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// estimateTokens approximates the token count of a reply at 1.3 tokens per
// word, close enough for the usage metadata.
func estimateTokens(text string) int {
	return int(float64(len(strings.Fields(text))) * 1.3)
}
