// Package app assembles the conversation core from configuration: corpus,
// index, retriever, router, session log, action catalog and engine.
package app

import (
	"fmt"
	"log/slog"

	"github.com/BAMresearch/chatBIS/internal/chatbis/actions"
	"github.com/BAMresearch/chatBIS/internal/chatbis/chat"
	"github.com/BAMresearch/chatBIS/internal/chatbis/config"
	"github.com/BAMresearch/chatBIS/internal/chatbis/corpus"
	"github.com/BAMresearch/chatBIS/internal/chatbis/memory"
	"github.com/BAMresearch/chatBIS/internal/chatbis/retrieval"
	"github.com/BAMresearch/chatBIS/internal/chatbis/router"
	"github.com/BAMresearch/chatBIS/internal/chatbis/store"
)

// Deps are optional pre-built collaborators. Nil fields are constructed
// from the configuration; tests pass fakes here.
type Deps struct {
	// Embedder embeds queries for retrieval. Nil falls back to the
	// configured endpoint, or to deterministic offline embeddings.
	Embedder retrieval.Embedder

	// Generator writes answers from retrieved chunks. Nil falls back to
	// the configured endpoint, or to extractive answers.
	Generator chat.Generator

	// Openbis executes entity operations against an openBIS server. Nil
	// leaves the actions installed but refusing politely.
	Openbis actions.OpenbisClient
}

// App is the wired conversation core together with its database handle.
type App struct {
	config *config.Config
	store  *store.Store
	engine *chat.Engine
}

// New wires an App from cfg. The corpus must load and index; everything
// else degrades: no embedding endpoint means fallback embeddings, no
// generation endpoint means extractive answers, no openBIS server means
// actions explain themselves instead of running.
func New(cfg *config.Config, deps Deps) (*App, error) {
	slog.Info("loading corpus", "path", cfg.CorpusPath)
	c, err := corpus.Load(cfg.CorpusPath)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	index, err := retrieval.NewIndex(c.Chunks)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	slog.Info("index ready", "chunks", len(c.Chunks), "dimension", c.Dimension, "model", c.Model)

	embedder := deps.Embedder
	if embedder == nil {
		if cfg.HasEmbedding() {
			embedder = retrieval.NewOpenAIEmbedder(retrieval.OpenAIConfig{
				APIKey:  cfg.EmbeddingAPIKey,
				BaseURL: cfg.EmbeddingBaseURL,
				Model:   cfg.EmbeddingModel,
			})
			slog.Info("query embedder ready", "model", cfg.EmbeddingModel)
		} else {
			slog.Info("no embedding endpoint configured; using offline fallback embeddings")
		}
	}
	retriever := retrieval.NewRetriever(index, embedder)

	var rt *router.Router
	if cfg.RouterRules != "" {
		rules, err := router.LoadRules(cfg.RouterRules)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		rt, err = router.NewWithRules(rules)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		slog.Info("router ready", "rules", cfg.RouterRules)
	} else {
		rt, err = router.New()
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		slog.Info("router ready", "rules", "built-in")
	}

	slog.Info("opening database", "path", cfg.DatabasePath)
	st, err := store.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	sessions := memory.NewSessionStore(st.DB(), memory.SessionStoreConfig{
		WorkingSetSize: cfg.WorkingSetSize,
	})

	registry := actions.NewRegistry()
	catalog := actions.NewCatalog(deps.Openbis, actions.CatalogConfig{
		URL:      cfg.OpenbisURL,
		Username: cfg.OpenbisUsername,
		Password: cfg.OpenbisPassword,
	})
	catalog.Install(registry)
	if deps.Openbis != nil && cfg.HasOpenbis() {
		slog.Info("openBIS actions ready", "url", cfg.OpenbisURL)
	} else {
		slog.Info("openBIS actions installed without a connection; they will refuse politely")
	}

	generator := deps.Generator
	if generator == nil {
		if cfg.HasGeneration() {
			generator = chat.NewOpenAIGenerator(chat.OpenAIConfig{
				APIKey:  cfg.GenerationAPIKey,
				BaseURL: cfg.GenerationBaseURL,
				Model:   cfg.GenerationModel,
			})
			slog.Info("answer generator ready", "model", cfg.GenerationModel)
		} else {
			slog.Info("no generation endpoint configured; answers are extractive")
		}
	}

	engine, err := chat.NewEngine(chat.EngineConfig{
		TopK:           cfg.TopK,
		TopKStandalone: cfg.TopKStandalone,
	}, chat.EngineDeps{
		Sessions:   sessions,
		Router:     rt,
		Retriever:  retriever,
		Dispatcher: registry,
		Generator:  generator,
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("app: %w", err)
	}

	return &App{config: cfg, store: st, engine: engine}, nil
}

// Engine returns the conversation engine.
func (a *App) Engine() *chat.Engine { return a.engine }

// Close releases the database handle.
func (a *App) Close() error {
	slog.Info("closing database")
	return a.store.Close()
}
