package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	appMiddleware "github.com/markdave123-py/coursebot/internal/api/middlewares"
	"github.com/markdave123-py/coursebot/internal/core"
	"github.com/markdave123-py/coursebot/internal/core/ingestion_engine"
	"github.com/markdave123-py/coursebot/internal/services"
)

// IngestHandler starts ingestion and question runs in the background and reports on them.
type IngestHandler struct {
	ingestor  ingestion_engine.Ingestor
	questions *services.QuestionService
	resources *services.ResourceService
	baseCtx   context.Context
	logger    *slog.Logger

	ingestJob   jobSlot
	questionJob jobSlot
}

// NewIngestHandler takes baseCtx as the parent of background runs; cancel it to stop them on shutdown.
func NewIngestHandler(baseCtx context.Context, ing ingestion_engine.Ingestor, questions *services.QuestionService, resources *services.ResourceService, logger *slog.Logger) *IngestHandler {
	return &IngestHandler{ingestor: ing, questions: questions, resources: resources, baseCtx: baseCtx, logger: logger}
}

// StartIngest handles POST /api/ingest?full=true|false.
func (h *IngestHandler) StartIngest(w http.ResponseWriter, r *http.Request) {
	if h.ingestor == nil {
		writeError(w, http.StatusServiceUnavailable, "ingestion is not configured")
		return
	}
	full, err := boolParam(r, "full")
	if err != nil {
		writeError(w, http.StatusBadRequest, "full must be true or false")
		return
	}
	mode := ingestion_engine.Incremental
	if full {
		mode = ingestion_engine.Full
	}

	status, ok := h.ingestJob.start(h.baseCtx, h.logger, "ingest:"+mode.String(), requester(r), func(ctx context.Context) (any, error) {
		stats, err := h.ingestor.Run(ctx, mode)
		if errors.Is(err, core.ErrRunInProgress) {
			h.logger.Warn("IngestHandler: another process holds the run lock")
		}
		if stats == nil {
			return nil, err
		}
		return stats, err
	})
	if !ok {
		writeJSON(w, http.StatusConflict, status)
		return
	}
	writeJSON(w, http.StatusAccepted, status)
}

// IngestStatus handles GET /api/ingest.
func (h *IngestHandler) IngestStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.ingestJob.snapshot())
}

// StartQuestions handles POST /api/questions?replace=true|false.
func (h *IngestHandler) StartQuestions(w http.ResponseWriter, r *http.Request) {
	if h.questions == nil {
		writeError(w, http.StatusServiceUnavailable, "question generation is not configured")
		return
	}
	replace, err := boolParam(r, "replace")
	if err != nil {
		writeError(w, http.StatusBadRequest, "replace must be true or false")
		return
	}

	status, ok := h.questionJob.start(h.baseCtx, h.logger, "questions", requester(r), func(ctx context.Context) (any, error) {
		stats, err := h.questions.Run(ctx, replace)
		if stats == nil {
			return nil, err
		}
		return stats, err
	})
	if !ok {
		writeJSON(w, http.StatusConflict, status)
		return
	}
	writeJSON(w, http.StatusAccepted, status)
}

// QuestionStatus handles GET /api/questions.
func (h *IngestHandler) QuestionStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.questionJob.snapshot())
}

// ListResources handles GET /api/resources.
func (h *IngestHandler) ListResources(w http.ResponseWriter, r *http.Request) {
	list, err := h.resources.List(r.Context())
	if err != nil {
		h.logger.Error("IngestHandler: list resources failed", "err", err)
		writeError(w, http.StatusInternalServerError, "could not list resources")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"resources": list, "count": len(list)})
}

// Wait blocks until background runs started by this handler have returned.
func (h *IngestHandler) Wait() {
	h.ingestJob.wait()
	h.questionJob.wait()
}

func requester(r *http.Request) string {
	subject, _ := appMiddleware.Subject(r.Context())
	return subject
}

func boolParam(r *http.Request, name string) (bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return false, nil
	}
	return strconv.ParseBool(v)
}
