package chat

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/BAMresearch/chatBIS/common/retry"
	"github.com/BAMresearch/chatBIS/internal/chatbis/memory"
	"github.com/BAMresearch/chatBIS/internal/chatbis/retrieval"
)

// Generator produces the assistant's answer to a documentation question
// from the retrieved excerpts and the recent conversation.
type Generator interface {
	Generate(ctx context.Context, question string, chunks []retrieval.ScoredChunk, history []memory.Turn) (string, error)
}

// DefaultChatModel is used when no model is configured. It matches the
// model name served by a default local Ollama install.
const DefaultChatModel = "qwen3"

var thinkPattern = regexp.MustCompile(`(?s)<think>.*?</think>`)

// StripThink removes the chain-of-thought blocks that reasoning models
// emit before their actual answer.
func StripThink(s string) string {
	return strings.TrimSpace(thinkPattern.ReplaceAllString(s, ""))
}

// ExtractiveGenerator answers without a language model by quoting the most
// relevant documentation excerpts. It backs offline deployments and the
// degraded path when the chat provider is unreachable.
type ExtractiveGenerator struct {
	// MaxSnippet bounds each quoted excerpt, in runes. Zero means 400.
	MaxSnippet int
}

var _ Generator = ExtractiveGenerator{}

// Generate composes an answer from the chunks alone; it never fails.
func (g ExtractiveGenerator) Generate(ctx context.Context, question string, chunks []retrieval.ScoredChunk, history []memory.Turn) (string, error) {
	if len(chunks) == 0 {
		return "I could not find anything in the openBIS documentation about that. Try rephrasing the question.", nil
	}

	max := g.MaxSnippet
	if max <= 0 {
		max = 400
	}

	var sb strings.Builder
	sb.WriteString("Here is what the openBIS documentation says:\n")
	for _, sc := range chunks {
		sb.WriteString("\n")
		if t := sc.Chunk.Title; t != "" {
			sb.WriteString(t)
			sb.WriteString(": ")
		}
		sb.WriteString(snippet(sc.Chunk.Text, max))
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// snippet normalizes whitespace and truncates at a word boundary.
func snippet(text string, max int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	cut := string(runes[:max])
	if i := strings.LastIndex(cut, " "); i > 0 {
		cut = cut[:i]
	}
	return cut + "…"
}

const systemPrompt = "You are an assistant for openBIS, a research data " +
	"management system. Answer using the documentation excerpts provided. " +
	"If the excerpts do not cover the question, say so instead of " +
	"guessing. Keep answers short and concrete."

// OpenAIConfig configures the chat-completion generator. BaseURL makes the
// client talk to any OpenAI-compatible server, including a local Ollama.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Retry   retry.Config
}

// OpenAIGenerator generates answers through an OpenAI-compatible chat
// completion endpoint.
type OpenAIGenerator struct {
	client *openai.Client
	model  string
	retry  retry.Config
}

var _ Generator = (*OpenAIGenerator)(nil)

// NewOpenAIGenerator builds a generator from the given configuration.
func NewOpenAIGenerator(cfg OpenAIConfig) *OpenAIGenerator {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultChatModel
	}
	rcfg := cfg.Retry
	if rcfg.MaxAttempts == 0 {
		rcfg = retry.DefaultConfig
	}
	return &OpenAIGenerator{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
		retry:  rcfg,
	}
}

// Generate asks the model for an answer grounded in the excerpts and the
// recent turns.
func (g *OpenAIGenerator) Generate(ctx context.Context, question string, chunks []retrieval.ScoredChunk, history []memory.Turn) (string, error) {
	messages := buildMessages(question, chunks, history)

	var out string
	err := retry.Do(ctx, g.retry, func() error {
		resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:    g.model,
			Messages: messages,
		})
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return errors.New("no choices returned")
		}
		out = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("chat: generate with %s: %w", g.model, err)
	}
	return out, nil
}

func buildMessages(question string, chunks []retrieval.ScoredChunk, history []memory.Turn) []openai.ChatCompletionMessage {
	var sb strings.Builder
	sb.WriteString(systemPrompt)
	if len(chunks) > 0 {
		sb.WriteString("\n\nDocumentation excerpts:\n")
		for i, sc := range chunks {
			fmt.Fprintf(&sb, "\n[%d] %s\n%s\n", i+1, sc.Chunk.Title, sc.Chunk.Text)
		}
	}

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: sb.String()},
	}
	for _, t := range history {
		role := openai.ChatMessageRoleUser
		if t.Role == memory.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: t.Content})
	}
	return append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: question})
}
