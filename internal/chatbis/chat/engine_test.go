package chat

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BAMresearch/chatBIS/internal/chatbis/actions"
	"github.com/BAMresearch/chatBIS/internal/chatbis/corpus"
	"github.com/BAMresearch/chatBIS/internal/chatbis/memory"
	"github.com/BAMresearch/chatBIS/internal/chatbis/retrieval"
	"github.com/BAMresearch/chatBIS/internal/chatbis/router"
	"github.com/BAMresearch/chatBIS/internal/chatbis/store"
)

var engineClock = func() time.Time {
	return time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
}

// engineChunks is large enough that the per-turn k and the standalone k
// retrieve different amounts.
func engineChunks() []corpus.Chunk {
	return []corpus.Chunk{
		{ID: "c1", Title: "Spaces", SourceURL: "https://openbis.example/spaces", Text: "Spaces group projects.", Embedding: []float32{1, 0, 0}},
		{ID: "c2", Title: "Projects", Text: "Projects live inside spaces.", Embedding: []float32{0.9, 0.1, 0}},
		{ID: "c3", Title: "Samples", Text: "Samples hold measurements.", Embedding: []float32{0, 1, 0}},
		{ID: "c4", Title: "Datasets", Text: "Datasets attach files to samples.", Embedding: []float32{0, 0.9, 0.1}},
		{ID: "c5", Title: "Experiments", Text: "Experiments collect samples.", Embedding: []float32{0, 0, 1}},
		{ID: "c6", Title: "Properties", Text: "Properties describe entities.", Embedding: []float32{0.1, 0, 0.9}},
	}
}

type fakeGenerator struct {
	mu      sync.Mutex
	text    string
	err     error
	sleep   time.Duration
	calls   int
	chunks  int
	history int
}

func (f *fakeGenerator) Generate(ctx context.Context, question string, chunks []retrieval.ScoredChunk, history []memory.Turn) (string, error) {
	if f.sleep > 0 {
		time.Sleep(f.sleep)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.chunks = len(chunks)
	f.history = len(history)
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

func (f *fakeGenerator) stats() (calls, chunks, history int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls, f.chunks, f.history
}

type rig struct {
	engine   *Engine
	store    *store.Store
	registry *actions.Registry
	gen      *fakeGenerator
}

func newRig(t *testing.T) *rig {
	t.Helper()

	st, err := store.New(filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	idx, err := retrieval.NewIndex(engineChunks())
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	rt, err := router.New()
	if err != nil {
		t.Fatalf("router.New: %v", err)
	}

	registry := actions.NewRegistry()
	gen := &fakeGenerator{text: "A space groups projects."}

	cfg := DefaultEngineConfig()
	cfg.Now = engineClock
	eng, err := NewEngine(cfg, EngineDeps{
		Sessions:   memory.NewSessionStore(st.DB(), memory.SessionStoreConfig{Now: engineClock}),
		Router:     rt,
		Retriever:  retrieval.NewRetriever(idx, retrieval.NoopEmbedder{}),
		Dispatcher: registry,
		Generator:  gen,
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return &rig{engine: eng, store: st, registry: registry, gen: gen}
}

func (r *rig) startSession(t *testing.T) string {
	t.Helper()
	id, err := r.engine.StartSession(context.Background())
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	return id
}

func TestNewEngine_RequiresCollaborators(t *testing.T) {
	r := newRig(t)
	deps := EngineDeps{
		Sessions:  memory.NewSessionStore(r.store.DB(), memory.SessionStoreConfig{}),
		Router:    r.engine.router,
		Retriever: r.engine.retriever,
	}

	for _, tt := range []struct {
		name string
		mod  func(EngineDeps) EngineDeps
	}{
		{"sessions", func(d EngineDeps) EngineDeps { d.Sessions = nil; return d }},
		{"router", func(d EngineDeps) EngineDeps { d.Router = nil; return d }},
		{"retriever", func(d EngineDeps) EngineDeps { d.Retriever = nil; return d }},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewEngine(EngineConfig{}, tt.mod(deps)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestHandleMessage_DocumentationFlow(t *testing.T) {
	ctx := context.Background()
	r := newRig(t)
	id := r.startSession(t)

	reply, err := r.engine.HandleMessage(ctx, id, "What is a space in openBIS?")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	if reply.SessionID != id {
		t.Errorf("SessionID = %q, want %q", reply.SessionID, id)
	}
	if reply.Text != "A space groups projects." {
		t.Errorf("Text = %q", reply.Text)
	}
	if reply.Metadata.Mode != "rag" {
		t.Errorf("Mode = %q, want rag", reply.Metadata.Mode)
	}
	if reply.Metadata.ChunksUsed != 3 {
		t.Errorf("ChunksUsed = %d, want 3", reply.Metadata.ChunksUsed)
	}
	if reply.Metadata.Turns != 2 {
		t.Errorf("Turns = %d, want 2", reply.Metadata.Turns)
	}
	if reply.Metadata.TokenEstimate != estimateTokens(reply.Text) {
		t.Errorf("TokenEstimate = %d", reply.Metadata.TokenEstimate)
	}
	if !reply.Metadata.Timestamp.Equal(engineClock()) {
		t.Errorf("Timestamp = %v", reply.Metadata.Timestamp)
	}
	if len(reply.Sources) != 3 {
		t.Errorf("Sources = %v, want 3 entries", reply.Sources)
	}

	if _, _, history := r.gen.stats(); history != 0 {
		t.Errorf("first turn saw %d history turns, want 0", history)
	}

	turns, err := r.engine.History(ctx, id)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("history has %d turns, want 2", len(turns))
	}
	if turns[0].Role != memory.RoleUser || turns[0].Content != "What is a space in openBIS?" {
		t.Errorf("first turn = %+v", turns[0])
	}
	if turns[1].Role != memory.RoleAssistant || turns[1].Content != reply.Text {
		t.Errorf("second turn = %+v", turns[1])
	}
}

func TestHandleMessage_SecondTurnSeesHistory(t *testing.T) {
	ctx := context.Background()
	r := newRig(t)
	id := r.startSession(t)

	if _, err := r.engine.HandleMessage(ctx, id, "What is a space?"); err != nil {
		t.Fatalf("first message: %v", err)
	}
	if _, err := r.engine.HandleMessage(ctx, id, "What about projects?"); err != nil {
		t.Fatalf("second message: %v", err)
	}

	if _, _, history := r.gen.stats(); history != 2 {
		t.Errorf("second turn saw %d history turns, want 2", history)
	}
}

func TestHandleMessage_ActionFlow(t *testing.T) {
	ctx := context.Background()
	r := newRig(t)
	id := r.startSession(t)

	var got map[string]string
	r.registry.Register("list_samples", func(ctx context.Context, params map[string]string) (string, error) {
		got = params
		return "Found 2 samples.", nil
	})

	reply, err := r.engine.HandleMessage(ctx, id, "List samples in space LAB")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	if reply.Text != "Found 2 samples." {
		t.Errorf("Text = %q", reply.Text)
	}
	if reply.Metadata.Mode != "action" {
		t.Errorf("Mode = %q, want action", reply.Metadata.Mode)
	}
	if reply.Metadata.Action != "list_samples" {
		t.Errorf("Action = %q", reply.Metadata.Action)
	}
	if got["space"] != "LAB" {
		t.Errorf("params = %v, want space=LAB", got)
	}
	if reply.Metadata.ChunksUsed != 0 {
		t.Errorf("ChunksUsed = %d, want 0", reply.Metadata.ChunksUsed)
	}
	if calls, _, _ := r.gen.stats(); calls != 0 {
		t.Errorf("generator called %d times for an action", calls)
	}

	turns, err := r.engine.History(ctx, id)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(turns) != 2 || turns[1].Content != "Found 2 samples." {
		t.Errorf("history = %+v", turns)
	}
}

func TestHandleMessage_FollowUpReusesAction(t *testing.T) {
	ctx := context.Background()
	r := newRig(t)
	id := r.startSession(t)

	var calls []map[string]string
	r.registry.Register("list_samples", func(ctx context.Context, params map[string]string) (string, error) {
		calls = append(calls, params)
		return "done", nil
	})

	if _, err := r.engine.HandleMessage(ctx, id, "List samples in space LAB"); err != nil {
		t.Fatalf("first message: %v", err)
	}
	reply, err := r.engine.HandleMessage(ctx, id, "and in space TEST")
	if err != nil {
		t.Fatalf("follow-up: %v", err)
	}

	if reply.Metadata.Action != "list_samples" {
		t.Errorf("Action = %q, want list_samples", reply.Metadata.Action)
	}
	if len(calls) != 2 {
		t.Fatalf("dispatched %d times, want 2", len(calls))
	}
	if calls[1]["space"] != "TEST" {
		t.Errorf("follow-up params = %v, want space=TEST", calls[1])
	}
}

func TestHandleMessage_ActionFailureBecomesReply(t *testing.T) {
	ctx := context.Background()
	r := newRig(t)
	id := r.startSession(t)

	r.registry.Register("list_samples", func(ctx context.Context, params map[string]string) (string, error) {
		return "", errors.New("backend exploded")
	})

	reply, err := r.engine.HandleMessage(ctx, id, "List samples")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if !strings.Contains(reply.Text, "The action failed") || !strings.Contains(reply.Text, "backend exploded") {
		t.Errorf("Text = %q", reply.Text)
	}

	turns, err := r.engine.History(ctx, id)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(turns) != 2 {
		t.Errorf("failed action left %d turns, want 2", len(turns))
	}
}

func TestHandleMessage_UnknownActionStillAnswers(t *testing.T) {
	ctx := context.Background()
	r := newRig(t)
	id := r.startSession(t)

	reply, err := r.engine.HandleMessage(ctx, id, "Delete sample S1")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if reply.Text != "I don't know how to delete sample yet." {
		t.Errorf("Text = %q", reply.Text)
	}

	turns, _ := r.engine.History(ctx, id)
	if len(turns) != 2 {
		t.Errorf("history has %d turns, want 2", len(turns))
	}
}

func TestHandleMessage_NoDispatcher(t *testing.T) {
	ctx := context.Background()
	r := newRig(t)

	cfg := DefaultEngineConfig()
	cfg.Now = engineClock
	eng, err := NewEngine(cfg, EngineDeps{
		Sessions:  memory.NewSessionStore(r.store.DB(), memory.SessionStoreConfig{Now: engineClock}),
		Router:    r.engine.router,
		Retriever: r.engine.retriever,
		Generator: r.gen,
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	id, err := eng.StartSession(ctx)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	reply, err := eng.HandleMessage(ctx, id, "List samples in space LAB")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if reply.Text != "Actions are not available in this deployment." {
		t.Errorf("Text = %q", reply.Text)
	}
}

func TestHandleMessage_GeneratorFailureFallsBack(t *testing.T) {
	ctx := context.Background()
	r := newRig(t)
	r.gen.err = errors.New("llm down")
	id := r.startSession(t)

	reply, err := r.engine.HandleMessage(ctx, id, "What is a space?")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if !strings.Contains(reply.Text, "Here is what the openBIS documentation says:") {
		t.Errorf("Text = %q", reply.Text)
	}

	turns, _ := r.engine.History(ctx, id)
	if len(turns) != 2 {
		t.Errorf("history has %d turns, want 2", len(turns))
	}
}

func TestHandleMessage_StripsThinkBlocks(t *testing.T) {
	ctx := context.Background()
	r := newRig(t)
	r.gen.text = "<think>step by step</think>The answer."
	id := r.startSession(t)

	reply, err := r.engine.HandleMessage(ctx, id, "What is a space?")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if reply.Text != "The answer." {
		t.Errorf("Text = %q", reply.Text)
	}

	turns, _ := r.engine.History(ctx, id)
	if len(turns) != 2 || turns[1].Content != "The answer." {
		t.Errorf("persisted turn kept think block: %+v", turns)
	}
}

func TestHandleMessage_EmptyMessageRejected(t *testing.T) {
	ctx := context.Background()
	r := newRig(t)
	id := r.startSession(t)

	for _, msg := range []string{"", "   ", "\n\t"} {
		if _, err := r.engine.HandleMessage(ctx, id, msg); err == nil {
			t.Errorf("message %q: expected error", msg)
		}
	}

	turns, _ := r.engine.History(ctx, id)
	if len(turns) != 0 {
		t.Errorf("empty messages left %d turns", len(turns))
	}
}

func TestHandleMessage_UnknownSession(t *testing.T) {
	ctx := context.Background()
	r := newRig(t)

	_, err := r.engine.HandleMessage(ctx, "b7d0c97e-94e8-4f7a-8d3f-111111111111", "What is a space?")
	if !errors.Is(err, memory.ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestHandleMessage_StorageFailureWithholdsReply(t *testing.T) {
	ctx := context.Background()
	r := newRig(t)
	id := r.startSession(t)

	if err := r.store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reply, err := r.engine.HandleMessage(ctx, id, "What is a space?")
	if err == nil {
		t.Fatal("expected error after store closed")
	}
	if reply != nil {
		t.Errorf("reply = %+v, want nil", reply)
	}
}

func TestHandleMessage_OneSessionStaysOrdered(t *testing.T) {
	ctx := context.Background()
	r := newRig(t)
	r.gen.sleep = 2 * time.Millisecond
	id := r.startSession(t)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg := fmt.Sprintf("What is a space? (%d)", i)
			if _, err := r.engine.HandleMessage(ctx, id, msg); err != nil {
				t.Errorf("HandleMessage %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	turns, err := r.engine.History(ctx, id)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(turns) != 8 {
		t.Fatalf("history has %d turns, want 8", len(turns))
	}
	for i, turn := range turns {
		want := memory.RoleUser
		if i%2 == 1 {
			want = memory.RoleAssistant
		}
		if turn.Role != want {
			t.Errorf("turn %d role = %q, want %q", i, turn.Role, want)
		}
	}
}

func TestHandleMessage_SessionsRunIndependently(t *testing.T) {
	ctx := context.Background()
	r := newRig(t)
	a := r.startSession(t)
	b := r.startSession(t)

	var wg sync.WaitGroup
	for _, id := range []string{a, b} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < 3; i++ {
				msg := fmt.Sprintf("What is a space? (%s %d)", id, i)
				if _, err := r.engine.HandleMessage(ctx, id, msg); err != nil {
					t.Errorf("HandleMessage: %v", err)
				}
			}
		}(id)
	}
	wg.Wait()

	for _, id := range []string{a, b} {
		turns, err := r.engine.History(ctx, id)
		if err != nil {
			t.Fatalf("History: %v", err)
		}
		if len(turns) != 6 {
			t.Errorf("session %s has %d turns, want 6", id, len(turns))
		}
		for _, turn := range turns {
			if turn.Role == memory.RoleUser && !strings.Contains(turn.Content, id) {
				t.Errorf("session %s holds foreign turn %q", id, turn.Content)
			}
		}
	}
}

func TestClearSession(t *testing.T) {
	ctx := context.Background()
	r := newRig(t)
	id := r.startSession(t)

	if _, err := r.engine.HandleMessage(ctx, id, "What is a space?"); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	fresh, err := r.engine.ClearSession(ctx, id)
	if err != nil {
		t.Fatalf("ClearSession: %v", err)
	}
	if fresh == id {
		t.Fatal("ClearSession returned the old id")
	}

	old, err := r.engine.History(ctx, id)
	if err != nil {
		t.Fatalf("History(old): %v", err)
	}
	if len(old) != 2 {
		t.Errorf("old history has %d turns, want 2", len(old))
	}
	empty, err := r.engine.History(ctx, fresh)
	if err != nil {
		t.Fatalf("History(fresh): %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("fresh session has %d turns", len(empty))
	}
}

func TestClearSession_FreshSessionStartsClean(t *testing.T) {
	ctx := context.Background()
	r := newRig(t)
	id := r.startSession(t)

	r.registry.Register("list_samples", func(ctx context.Context, params map[string]string) (string, error) {
		return "done", nil
	})
	if _, err := r.engine.HandleMessage(ctx, id, "List samples in space LAB"); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	fresh, err := r.engine.ClearSession(ctx, id)
	if err != nil {
		t.Fatalf("ClearSession: %v", err)
	}

	reply, err := r.engine.HandleMessage(ctx, fresh, "and in space TEST")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if reply.Metadata.Mode == "action" {
		t.Errorf("Mode = action, context leaked into the fresh session")
	}
}

func TestHandleMessage_FollowUpSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	r := newRig(t)
	id := r.startSession(t)

	var calls []map[string]string
	r.registry.Register("list_samples", func(ctx context.Context, params map[string]string) (string, error) {
		calls = append(calls, params)
		return "done", nil
	})
	if _, err := r.engine.HandleMessage(ctx, id, "List samples in space LAB"); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	// A second engine over the same store stands in for a restarted
	// process; the follow-up context must come back from the log.
	cfg := DefaultEngineConfig()
	cfg.Now = engineClock
	eng2, err := NewEngine(cfg, EngineDeps{
		Sessions:   memory.NewSessionStore(r.store.DB(), memory.SessionStoreConfig{Now: engineClock}),
		Router:     r.engine.router,
		Retriever:  r.engine.retriever,
		Dispatcher: r.registry,
		Generator:  r.gen,
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	reply, err := eng2.HandleMessage(ctx, id, "and in space TEST")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if reply.Metadata.Action != "list_samples" {
		t.Errorf("Action = %q, want list_samples", reply.Metadata.Action)
	}
	if len(calls) != 2 || calls[1]["space"] != "TEST" {
		t.Errorf("dispatch calls = %v", calls)
	}
}

func TestResumeSession(t *testing.T) {
	ctx := context.Background()
	r := newRig(t)

	t.Run("adopts unknown id", func(t *testing.T) {
		const id = "3f2504e0-4f89-41d3-9a0c-0305e82c3301"
		got, err := r.engine.ResumeSession(ctx, id)
		if err != nil {
			t.Fatalf("ResumeSession: %v", err)
		}
		if got != id {
			t.Errorf("got %q, want %q", got, id)
		}
		turns, err := r.engine.History(ctx, id)
		if err != nil {
			t.Fatalf("History: %v", err)
		}
		if len(turns) != 0 {
			t.Errorf("adopted session has %d turns", len(turns))
		}
	})

	t.Run("rejects malformed id", func(t *testing.T) {
		if _, err := r.engine.ResumeSession(ctx, "not-a-uuid"); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestAsk(t *testing.T) {
	ctx := context.Background()
	r := newRig(t)
	id := r.startSession(t)

	reply, err := r.engine.Ask(ctx, "What is openBIS?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if reply.SessionID != "" {
		t.Errorf("SessionID = %q, want empty", reply.SessionID)
	}
	if reply.Metadata.Mode != "rag" {
		t.Errorf("Mode = %q, want rag", reply.Metadata.Mode)
	}
	if reply.Metadata.ChunksUsed != 5 {
		t.Errorf("ChunksUsed = %d, want 5", reply.Metadata.ChunksUsed)
	}
	if reply.Text != "A space groups projects." {
		t.Errorf("Text = %q", reply.Text)
	}

	turns, err := r.engine.History(ctx, id)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(turns) != 0 {
		t.Errorf("Ask persisted %d turns", len(turns))
	}

	if _, err := r.engine.Ask(ctx, "  "); err == nil {
		t.Error("empty question: expected error")
	}
}
