package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/markdave123-py/coursebot/internal/config"
	"github.com/markdave123-py/coursebot/internal/core"
	"github.com/markdave123-py/coursebot/internal/core/canvas"
	db "github.com/markdave123-py/coursebot/internal/core/database"
	"github.com/markdave123-py/coursebot/internal/core/ingestion_engine"
	"github.com/markdave123-py/coursebot/internal/core/llm"
	objectclient "github.com/markdave123-py/coursebot/internal/core/object-client"
	"github.com/markdave123-py/coursebot/internal/services"
)

// App owns every long-lived client. Optional components stay nil when their settings are missing.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	DBClient     db.DbClient
	ObjectClient core.ObjectClient
	Ingestor     ingestion_engine.Ingestor
	Questions    *services.QuestionService
	Resources    *services.ResourceService
	Search       *services.SearchService

	generator core.LLMProvider
	embedder  core.EmbeddingProvider
	closers   []func() error
}

func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	a := &App{Config: cfg, Logger: logger}

	dbClient, err := db.NewDatabaseClient(appCtx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.DBClient = dbClient
	a.closers = append(a.closers, dbClient.Close)
	a.Resources = services.NewResourceService(dbClient, logger)
	logger.Info("App: database initialized and ready")

	if err := a.initModels(appCtx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initIngestion(appCtx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// initModels builds the LLM-backed services, all sharing one retry policy and rate limit.
func (a *App) initModels(ctx context.Context) error {
	cfg := a.Config
	policy := llm.NewRetryPolicy(cfg.LLMTimeout, cfg.LLMMaxRetries, cfg.LLMRatePerSec, a.Logger)

	if cfg.AIAPIKey != "" {
		gen, err := llm.NewGeminiLLM(ctx, cfg.AIAPIKey, cfg.GenModel)
		if err != nil {
			return fmt.Errorf("couldn't initialize the llm: %w", err)
		}
		a.closers = append(a.closers, gen.Close)
		resilient := llm.NewResilientLLM(gen, policy)
		a.Questions = services.NewQuestionService(a.DBClient, resilient, cfg.QuestionsPerResource, cfg.QuestionWorkers, a.Logger)
		a.generator = resilient
	} else {
		a.Logger.Warn("App: GEMINI_API_KEY not set; segmentation and question generation disabled")
	}

	emb, err := a.newEmbedder(ctx)
	if err != nil {
		return err
	}
	if emb != nil {
		a.embedder = llm.NewResilientEmbedder(emb, policy)
		a.Search = services.NewSearchService(a.DBClient, a.embedder)
	}
	return nil
}

func (a *App) newEmbedder(ctx context.Context) (core.EmbeddingProvider, error) {
	cfg := a.Config
	switch cfg.EmbedProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			a.Logger.Warn("App: OPENAI_API_KEY not set; embeddings disabled")
			return nil, nil
		}
		emb, err := llm.NewOpenAIEmbedder(llm.OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.EmbedModel,
			Dim:     cfg.EmbedDim,
		})
		if err != nil {
			return nil, err
		}
		return emb, nil
	case "gemini":
		if cfg.AIAPIKey == "" {
			a.Logger.Warn("App: GEMINI_API_KEY not set; embeddings disabled")
			return nil, nil
		}
		emb, err := llm.NewGeminiEmbedder(ctx, cfg.AIAPIKey, cfg.EmbedModel, cfg.EmbedDim)
		if err != nil {
			return nil, fmt.Errorf("couldn't initialize the embedder: %w", err)
		}
		a.closers = append(a.closers, emb.Close)
		return emb, nil
	default:
		return nil, fmt.Errorf("unknown EMBED_PROVIDER %q", cfg.EmbedProvider)
	}
}

// initIngestion wires the reconciler once Canvas, the generator and the embedder are all available.
func (a *App) initIngestion(ctx context.Context) error {
	cfg := a.Config
	if cfg.CanvasAPIKey == "" || cfg.CanvasCourseID == "" {
		a.Logger.Warn("App: CANVAS_API_KEY or CANVAS_COURSE_ID not set; ingestion disabled")
		return nil
	}
	if a.generator == nil || a.embedder == nil {
		a.Logger.Warn("App: model keys missing; ingestion disabled")
		return nil
	}

	source, err := canvas.NewClient(canvas.Config{
		BaseURL:  cfg.CanvasAPIURL,
		APIKey:   cfg.CanvasAPIKey,
		CourseID: cfg.CanvasCourseID,
	}, a.Logger)
	if err != nil {
		return err
	}

	tok, err := ingestion_engine.NewTiktokenTokenizer(cfg.TokenEncoding)
	if err != nil {
		return err
	}

	ingCfg := &ingestion_engine.IngestConfig{StaleAfter: cfg.StaleAfter, SkipRestricted: cfg.SkipRestricted}
	var objects core.ObjectClient
	if cfg.ArchiveEnabled() {
		s3Client, err := objectclient.NewS3Client(ctx, cfg, a.Logger)
		if err != nil {
			return err
		}
		objects = s3Client
		a.ObjectClient = s3Client
		ingCfg.ArchiveBucket = cfg.BucketName
	}

	useReadability := false
	a.Ingestor = ingestion_engine.NewReconciler(
		a.DBClient,
		source,
		ingestion_engine.NewDocconvExtractor(useReadability),
		ingestion_engine.NewSegmenter(a.generator, tok, cfg.WindowTokens),
		a.embedder,
		objects,
		ingCfg,
		a.Logger,
	)
	a.Logger.Info("App: ingestion ready", "course", cfg.CanvasCourseID, "archive", cfg.ArchiveEnabled())
	return nil
}

// ErrNotConfigured is returned by the Require helpers when settings for a component are missing.
var ErrNotConfigured = errors.New("not configured")

func (a *App) RequireIngestor() (ingestion_engine.Ingestor, error) {
	if a.Ingestor == nil {
		return nil, fmt.Errorf("ingestion %w: set CANVAS_API_KEY, CANVAS_COURSE_ID, GEMINI_API_KEY and embedding keys", ErrNotConfigured)
	}
	return a.Ingestor, nil
}

func (a *App) RequireQuestions() (*services.QuestionService, error) {
	if a.Questions == nil {
		return nil, fmt.Errorf("question generation %w: set GEMINI_API_KEY", ErrNotConfigured)
	}
	return a.Questions, nil
}

// Close releases clients in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Warn("App: close failed", "err", err)
		}
	}
	a.closers = nil
}
