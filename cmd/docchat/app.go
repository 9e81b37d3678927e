package main

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/dream-ai/docchat/config"
	"github.com/dream-ai/docchat/internal/chat"
	"github.com/dream-ai/docchat/internal/conversations"
	"github.com/dream-ai/docchat/internal/db"
	"github.com/dream-ai/docchat/internal/documents"
	"github.com/dream-ai/docchat/internal/domain"
	"github.com/dream-ai/docchat/internal/embeddings"
	"github.com/dream-ai/docchat/internal/memstore"
	"github.com/dream-ai/docchat/internal/ollama"
	"github.com/dream-ai/docchat/internal/rag"
	"github.com/dream-ai/docchat/internal/ratelimit"
)

const fallbackModel = "llama3.2"

// backend is the storage both db.DB and memstore.MemoryStore provide.
type backend interface {
	rag.VectorStore
	conversations.Repository
	documents.Store
	Close() error
}

type app struct {
	service   *chat.Service
	processor *documents.Processor
	ready     func(ctx context.Context) error
	closers   []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}

func dbOptions(cfg *config.Config) db.Options {
	return db.Options{
		ConnString:      cfg.Database.ConnectionString,
		MaxConns:        cfg.Database.MaxConns,
		ConnectAttempts: cfg.Database.ConnectAttempts,
		ConnectBackoff:  500 * time.Millisecond,
	}
}

// buildApp wires the service graph. With memory set, storage lives in
// process and nothing survives a restart.
func buildApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, memory bool) (*app, error) {
	a := &app{}

	var store backend
	if memory {
		store = memstore.New()
		logger.Warn("using in-memory storage")
	} else {
		database, err := db.New(ctx, dbOptions(cfg))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		store = database
		a.ready = database.Ping
	}
	a.closers = append(a.closers, store.Close)

	var limiter ratelimit.Limiter
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, client.Close)
		limiter = ratelimit.NewRedis(client)
	} else {
		mem := ratelimit.NewMemory()
		go mem.Run(ctx, time.Minute)
		limiter = mem
	}

	embedder := embeddings.NewTextEmbedder(embeddings.Config{
		BaseURL:    cfg.Ollama.BaseURL,
		Model:      cfg.Embeddings.TextModel,
		Dimensions: cfg.Embeddings.Dimensions,
		BatchSize:  cfg.Embeddings.BatchSize,
		MaxRetries: cfg.Embeddings.MaxRetries,
	})

	llm := ollama.NewClient(cfg.Ollama.BaseURL, cfg.Ollama.Timeout)
	model, err := llm.ResolveModel(ctx, cfg.Ollama.DefaultModel)
	if err != nil {
		model = cfg.Ollama.DefaultModel
		if model == "" {
			model = fallbackModel
		}
		logger.Warn("could not list models, using fallback", zap.String("model", model), zap.Error(err))
	}
	logger.Info("language model selected", zap.String("model", model))

	chunker, err := documents.NewChunker(cfg.Processing.ChunkSize, cfg.Processing.ChunkOverlap)
	if err != nil {
		a.Close()
		return nil, err
	}

	convs := conversations.NewStore(store, cfg.Plans, logger)
	a.processor = documents.NewProcessor(store, embedder, chunker, logger)

	policies := make(map[string]ratelimit.Policy)
	for _, op := range []string{chat.OpQuery, chat.OpHistory, chat.OpIngest} {
		rp := cfg.Policy(op)
		policies[op] = ratelimit.Policy{Limit: rp.Limit, Window: rp.Window}
	}

	a.service = chat.NewService(chat.Deps{
		Limiter:  limiter,
		Policies: policies,
		Retriever: rag.NewRetriever(store, embedder, domain.SearchOptions{
			TopK:      cfg.Processing.TopK,
			Threshold: cfg.Processing.SimilarityThreshold,
		}),
		Conversations: convs,
		Generator: rag.NewGenerator(
			rag.NewOllamaModel(llm, model),
			convs,
			rag.NewContextBuilder(cfg.Generation.MaxContextChars, cfg.Generation.AllowFreeForm),
			logger,
		),
		Processor: a.processor,
		Logger:    logger,
	})
	return a, nil
}
