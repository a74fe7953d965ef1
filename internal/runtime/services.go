package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mohammad-safakhou/qbank/config"
	"github.com/mohammad-safakhou/qbank/internal/agent"
	"github.com/mohammad-safakhou/qbank/internal/cache"
	"github.com/mohammad-safakhou/qbank/internal/embedding"
	"github.com/mohammad-safakhou/qbank/internal/index"
	"github.com/mohammad-safakhou/qbank/internal/ingest"
	"github.com/mohammad-safakhou/qbank/internal/logger"
	"github.com/mohammad-safakhou/qbank/internal/loop"
	"github.com/mohammad-safakhou/qbank/internal/pipeline"
	"github.com/mohammad-safakhou/qbank/internal/retriever"
	"github.com/mohammad-safakhou/qbank/internal/store"
	"github.com/mohammad-safakhou/qbank/provider"
	gemini_provider "github.com/mohammad-safakhou/qbank/provider/gemini"
	"github.com/mohammad-safakhou/qbank/provider/mock"
	openai_provider "github.com/mohammad-safakhou/qbank/provider/openai"
	"github.com/redis/go-redis/v9"
)

// NewProvider builds the backend declared under llm.providers.<name>.
func NewProvider(ctx context.Context, name string, p config.LLMProvider) (provider.Provider, error) {
	switch strings.ToLower(p.Type) {
	case string(provider.OpenAI):
		return openai_provider.New(openai_provider.Options{
			APIKey:     p.APIKey,
			BaseURL:    p.BaseURL,
			Timeout:    p.Timeout,
			MaxRetries: p.MaxRetries,
		})
	case string(provider.Gemini):
		cl, err := gemini_provider.New(ctx, gemini_provider.Options{APIKey: p.APIKey, MaxRetries: p.MaxRetries})
		if err != nil {
			return nil, err
		}
		return cl, nil
	case string(provider.Mock):
		return mock.New(), nil
	}
	return nil, &provider.ConfigurationError{Provider: name, Reason: fmt.Sprintf("unknown type %q", p.Type)}
}

// Providers builds each configured backend once and hands out role bindings.
type Providers struct {
	ctx    context.Context
	cfg    config.LLMConfig
	byName map[string]provider.Provider
}

func NewProviders(ctx context.Context, cfg config.LLMConfig) *Providers {
	return &Providers{ctx: ctx, cfg: cfg, byName: make(map[string]provider.Provider)}
}

// Bind resolves a routing entry to its provider and call settings.
func (p *Providers) Bind(ref string, cfg config.LoopConfig) (provider.Provider, agent.Role, error) {
	route, err := p.cfg.Resolve(ref)
	if err != nil {
		return nil, agent.Role{}, err
	}
	prov, ok := p.byName[route.Provider]
	if !ok {
		prov, err = NewProvider(p.ctx, route.Provider, p.cfg.Providers[route.Provider])
		if err != nil {
			return nil, agent.Role{}, err
		}
		p.byName[route.Provider] = prov
	}
	return prov, agent.Role{
		Model:       route.Settings.APIName,
		Temperature: route.Settings.Temperature,
		MaxTokens:   route.Settings.MaxTokens,
		Timeout:     cfg.CallTimeout,
	}, nil
}

// Close releases providers holding connections.
func (p *Providers) Close() error {
	var errs []error
	for _, prov := range p.byName {
		if c, ok := prov.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

// Mode selects where chunks live.
type Mode int

const (
	// ModeStore keeps chunks and runs in Postgres.
	ModeStore Mode = iota
	// ModeMemory keeps chunks in an in-process index; nothing is persisted.
	ModeMemory
)

// Services is the wired application graph shared by the CLI, the HTTP
// server and the worker.
type Services struct {
	Config    *config.Config
	Logger    *logger.Logger
	Store     *store.Store
	Memory    *index.Memory
	Redis     redis.UniversalClient
	Embedder  embedding.Embedder
	Retriever *retriever.Retriever
	Planner   *agent.Planner
	Generator *agent.Generator
	Auditor   *agent.Auditor
	Loop      *loop.Controller
	Pipeline  *pipeline.Pipeline
	Ingestor  *ingest.Ingestor
	Fetcher   ingest.Fetcher

	providers *Providers
}

// Build wires every component from cfg.
func Build(ctx context.Context, cfg *config.Config, mode Mode, lg *logger.Logger) (*Services, error) {
	if lg == nil {
		lg = logger.NewNop()
	}
	s := &Services{Config: cfg, Logger: lg, providers: NewProviders(ctx, cfg.LLM)}
	ok := false
	defer func() {
		if !ok {
			_ = s.Close()
		}
	}()

	embedProv, embedRole, err := s.providers.Bind(cfg.LLM.Routing.Embedding, cfg.Loop)
	if err != nil {
		return nil, fmt.Errorf("embedding: %w", err)
	}
	base := embedding.New(embedProv, embedRole.Model, cfg.Ingest.EmbedBatchSize)
	s.Embedder = base
	if s.Redis = NewRedis(cfg.Storage.Redis); s.Redis != nil {
		s.Embedder = cache.NewEmbeddings(s.Redis, base, base.Model(), cfg.Cache.EmbeddingTTL, lg.Named("cache"))
	}

	var searcher retriever.Searcher
	var sink ingest.Sink
	switch mode {
	case ModeMemory:
		if s.Memory, err = index.NewMemory(s.Embedder); err != nil {
			return nil, fmt.Errorf("memory index: %w", err)
		}
		searcher, sink = s.Memory, s.Memory
	default:
		dsn, err := BuildPostgresDSN(cfg)
		if err != nil {
			return nil, err
		}
		if s.Store, err = store.NewWithDSN(ctx, dsn); err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		searcher, sink = index.NewVector(s.Embedder, s.Store), s.Store
	}

	s.Retriever = retriever.New(searcher,
		retriever.WithAnchors(retriever.NewAnchorTable(cfg.Retrieval.Anchors)),
		retriever.WithLogger(lg))

	structured := func(ref string) (*agent.Structured, error) {
		prov, role, err := s.providers.Bind(ref, cfg.Loop)
		if err != nil {
			return nil, err
		}
		return agent.NewStructured(prov, role, lg.Named("agent")), nil
	}
	plan, err := structured(cfg.LLM.Routing.Planning)
	if err != nil {
		return nil, fmt.Errorf("planning: %w", err)
	}
	var classify *agent.Structured
	if cfg.LLM.Routing.Classify != "" {
		if classify, err = structured(cfg.LLM.Routing.Classify); err != nil {
			return nil, fmt.Errorf("classify: %w", err)
		}
	}
	gen, err := structured(cfg.LLM.Routing.Generation)
	if err != nil {
		return nil, fmt.Errorf("generation: %w", err)
	}
	aud, err := structured(cfg.LLM.Routing.Auditing)
	if err != nil {
		return nil, fmt.Errorf("auditing: %w", err)
	}
	s.Planner = agent.NewPlanner(plan, classify)
	s.Generator = agent.NewGenerator(gen)
	s.Auditor = agent.NewAuditor(aud)

	policy, err := loop.ParsePolicy(cfg.Loop.SchemaErrorPolicy)
	if err != nil {
		return nil, err
	}
	s.Loop = loop.New(s.Generator, s.Auditor, loop.Config{
		MaxIters:      cfg.Loop.MaxIters,
		QuantityFloor: cfg.Loop.QuantityFloor,
		Policy:        policy,
	}, lg.Named("loop"))

	s.Pipeline = pipeline.New(s.Planner, s.Retriever, s.Loop, pipeline.Options{
		TopK:                cfg.Retrieval.TopK,
		MinImportance:       cfg.Retrieval.MinImportance,
		MaxTotalContext:     cfg.Retrieval.MaxTotalCtx,
		IncludeSamplePapers: cfg.Retrieval.IncludeSamplePapers,
		SyllabusQueries:     cfg.Retrieval.SyllabusQueries,
		SyllabusK:           cfg.Retrieval.SyllabusK,
		Concurrency:         cfg.Retrieval.Concurrency,
	}, lg.Named("pipeline"))

	s.Ingestor = ingest.New(ingest.Config{
		ChunkSize:            cfg.Ingest.ChunkSize,
		Overlap:              cfg.Ingest.Overlap,
		RequireConsentForPII: cfg.Ingest.PIIConsentRequired,
	}, s.Embedder, sink, lg.Named("ingest"))
	s.Fetcher = ingest.Fetcher{
		Timeout:  cfg.Ingest.FetchTimeout,
		MaxChars: cfg.Ingest.MaxChars,
		RenderJS: cfg.Ingest.RenderJS,
	}

	ok = true
	return s, nil
}

// Close releases every connection Build opened.
func (s *Services) Close() error {
	var errs []error
	if s.Memory != nil {
		errs = append(errs, s.Memory.Close())
	}
	if s.Store != nil {
		errs = append(errs, s.Store.Close())
	}
	if s.Redis != nil {
		errs = append(errs, s.Redis.Close())
	}
	if s.providers != nil {
		errs = append(errs, s.providers.Close())
	}
	return errors.Join(errs...)
}
