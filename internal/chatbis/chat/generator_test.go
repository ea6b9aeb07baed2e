package chat

import (
	"context"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/BAMresearch/chatBIS/internal/chatbis/corpus"
	"github.com/BAMresearch/chatBIS/internal/chatbis/memory"
	"github.com/BAMresearch/chatBIS/internal/chatbis/retrieval"
)

func TestStripThink(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no block", "plain answer", "plain answer"},
		{"leading block", "<think>hmm</think>the answer", "the answer"},
		{"multiline block", "<think>line one\nline two</think>\nanswer", "answer"},
		{"two blocks", "<think>a</think>x<think>b</think> y", "x y"},
		{"only block", "<think>nothing else</think>", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripThink(tt.in); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSnippet(t *testing.T) {
	if got := snippet("short text", 100); got != "short text" {
		t.Errorf("got %q", got)
	}
	if got := snippet("spread \n over\t lines", 100); got != "spread over lines" {
		t.Errorf("whitespace not normalized: %q", got)
	}

	long := strings.Repeat("word ", 50)
	got := snippet(long, 20)
	if !strings.HasSuffix(got, "…") {
		t.Errorf("missing ellipsis: %q", got)
	}
	if len([]rune(got)) > 21 {
		t.Errorf("too long: %d runes", len([]rune(got)))
	}
	if strings.Contains(strings.TrimSuffix(got, "…"), "wor ") {
		t.Errorf("cut mid-word: %q", got)
	}
}

func testScoredChunks() []retrieval.ScoredChunk {
	return []retrieval.ScoredChunk{
		{Chunk: corpus.Chunk{ID: "c1", Title: "Spaces", Text: "Spaces group projects and control access."}, Score: 0.9},
		{Chunk: corpus.Chunk{ID: "c2", Title: "Samples", Text: "Samples hold measurement data."}, Score: 0.7},
	}
}

func TestExtractiveGenerator(t *testing.T) {
	g := ExtractiveGenerator{}

	t.Run("no chunks", func(t *testing.T) {
		got, err := g.Generate(context.Background(), "anything", nil, nil)
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		if !strings.Contains(got, "could not find") {
			t.Errorf("got %q", got)
		}
	})

	t.Run("quotes chunks", func(t *testing.T) {
		got, err := g.Generate(context.Background(), "what are spaces", testScoredChunks(), nil)
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		if !strings.Contains(got, "Spaces:") || !strings.Contains(got, "control access") {
			t.Errorf("missing excerpt: %q", got)
		}
		if !strings.Contains(got, "Samples:") {
			t.Errorf("second chunk missing: %q", got)
		}
	})

	t.Run("snippet bound", func(t *testing.T) {
		long := []retrieval.ScoredChunk{{
			Chunk: corpus.Chunk{Title: "Long", Text: strings.Repeat("alpha ", 200)},
		}}
		got, err := ExtractiveGenerator{MaxSnippet: 30}.Generate(context.Background(), "q", long, nil)
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		if !strings.Contains(got, "…") {
			t.Errorf("long text not truncated: %q", got)
		}
	})
}

func TestBuildMessages(t *testing.T) {
	history := []memory.Turn{
		{Role: memory.RoleUser, Content: "earlier question"},
		{Role: memory.RoleAssistant, Content: "earlier answer"},
	}

	msgs := buildMessages("current question", testScoredChunks(), history)

	if len(msgs) != 4 {
		t.Fatalf("len = %d, want 4", len(msgs))
	}
	if msgs[0].Role != openai.ChatMessageRoleSystem {
		t.Errorf("first role = %q, want system", msgs[0].Role)
	}
	if !strings.Contains(msgs[0].Content, "Spaces group projects") {
		t.Errorf("system prompt missing excerpts: %q", msgs[0].Content)
	}
	if msgs[1].Role != openai.ChatMessageRoleUser || msgs[1].Content != "earlier question" {
		t.Errorf("history user turn wrong: %+v", msgs[1])
	}
	if msgs[2].Role != openai.ChatMessageRoleAssistant {
		t.Errorf("history assistant turn wrong: %+v", msgs[2])
	}
	if last := msgs[len(msgs)-1]; last.Role != openai.ChatMessageRoleUser || last.Content != "current question" {
		t.Errorf("final turn wrong: %+v", last)
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := estimateTokens(""); got != 0 {
		t.Errorf("empty = %d", got)
	}
	if got := estimateTokens("one two three four"); got != 5 {
		t.Errorf("got %d, want 5", got)
	}
}
