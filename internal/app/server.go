package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/markdave123-py/coursebot/internal/api/handlers"
	appMiddleware "github.com/markdave123-py/coursebot/internal/api/middlewares"
)

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
	ingest     *handlers.IngestHandler
	logger     *slog.Logger
}

// NewServer builds and wires all routes. Background runs started over HTTP inherit ctx.
func NewServer(ctx context.Context, a *App, tokens appMiddleware.TokenVerifier) *Server {
	ingestHandler := handlers.NewIngestHandler(ctx, a.Ingestor, a.Questions, a.Resources, a.Logger)
	searchHandler := handlers.NewSearchHandler(a.Search, a.Logger)

	httpSrv := &http.Server{
		Addr:              ":" + a.Config.Port,
		Handler:           newRouter(tokens, ingestHandler, searchHandler, a.Config.CORSOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return &Server{httpServer: httpSrv, ingest: ingestHandler, logger: a.Logger}
}

func newRouter(tokens appMiddleware.TokenVerifier, ingest *handlers.IngestHandler, search *handlers.SearchHandler, origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(api chi.Router) {
		api.Use(appMiddleware.JWTMiddleware(tokens))

		api.Get("/resources", ingest.ListResources)
		api.Get("/search", search.Search)

		api.Get("/ingest", ingest.IngestStatus)
		api.Post("/ingest", ingest.StartIngest)

		api.Get("/questions", ingest.QuestionStatus)
		api.Post("/questions", ingest.StartQuestions)
	})

	return r
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("Server: HTTP server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, then waits for background runs, which stop once their context is cancelled.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Server: shutting down HTTP server")
	err := s.httpServer.Shutdown(ctx)
	s.ingest.Wait()
	return err
}
