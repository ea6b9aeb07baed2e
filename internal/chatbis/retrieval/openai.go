package retrieval

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/BAMresearch/chatBIS/common/retry"
)

// DefaultEmbeddingModel matches the model the documentation processing
// batch uses by default; queries must be embedded with the same model
// as the corpus.
const DefaultEmbeddingModel = "nomic-embed-text"

// OpenAIConfig configures the embedding client. BaseURL makes any
// OpenAI-compatible server usable, e.g. http://localhost:11434/v1 for a
// local Ollama instance.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Retry   retry.Config
}

// OpenAIEmbedder calls an OpenAI-compatible embeddings endpoint.
// Transient failures are retried with backoff; persistent failure is
// returned to the caller, which falls back to placeholder embeddings.
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
	retry  retry.Config
}

// NewOpenAIEmbedder builds an embedder from cfg. Zero-value Retry means
// retry.DefaultConfig; empty Model means DefaultEmbeddingModel.
func NewOpenAIEmbedder(cfg OpenAIConfig) *OpenAIEmbedder {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = DefaultEmbeddingModel
	}

	rcfg := cfg.Retry
	if rcfg.MaxAttempts == 0 {
		rcfg = retry.DefaultConfig
	}

	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
		retry:  rcfg,
	}
}

// Embed requests an embedding for text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var resp openai.EmbeddingResponse
	err := retry.Do(ctx, e.retry, func() error {
		var callErr error
		resp, callErr = e.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
			Input: []string{text},
			Model: openai.EmbeddingModel(e.model),
		})
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed with %s: %w", e.model, err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("retrieval: embedding response carried no vectors")
	}
	return resp.Data[0].Embedding, nil
}

var _ Embedder = (*OpenAIEmbedder)(nil)
