package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/coursebot/internal/core"
	"github.com/markdave123-py/coursebot/internal/models"
)

const questionPrompt = `Generate %d questions that a student might ask about the following content.
The questions should test understanding of key concepts. The questions should be short and simple.
Format the output as a JSON array of question objects with the following structure:
[
    {
        "question": "The actual question text",
        "topic": "Brief topic/theme of the question"
    }
]`

var questionSchema = &core.JSONSchema{
	Type: "array",
	Items: &core.JSONSchema{
		Type: "object",
		Properties: map[string]*core.JSONSchema{
			"question": {Type: "string"},
			"topic":    {Type: "string"},
		},
		Required: []string{"question", "topic"},
	},
}

// QuestionStats summarises one question generation pass.
type QuestionStats struct {
	Resources int `json:"resources"`
	Generated int `json:"generated"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// QuestionService generates starter questions for every stored resource.
type QuestionService struct {
	store       core.QuestionStore
	llm         core.LLMProvider
	perResource int
	workers     int
	logger      *slog.Logger
}

func NewQuestionService(store core.QuestionStore, llm core.LLMProvider, perResource, workers int, logger *slog.Logger) *QuestionService {
	if perResource <= 0 {
		perResource = 3
	}
	if workers <= 0 {
		workers = 1
	}
	return &QuestionService{store: store, llm: llm, perResource: perResource, workers: workers, logger: logger}
}

// Run generates questions for resources that have none, or for all of them when replace is set.
// A failing resource is logged and counted; only listing errors and cancellation are returned.
func (s *QuestionService) Run(ctx context.Context, replace bool) (*QuestionStats, error) {
	resources, err := s.store.ListResources(ctx)
	if err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}

	var (
		mu    sync.Mutex
		stats = &QuestionStats{Resources: len(resources)}
	)
	count := func(field *int) {
		mu.Lock()
		*field++
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for i := range resources {
		res := resources[i]
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			if !replace {
				has, err := s.store.HasPromptQuestions(gctx, res.ID)
				if err != nil {
					s.logger.Error("QuestionService: lookup failed", "resource_id", res.ID, "err", err)
					count(&stats.Failed)
					return nil
				}
				if has {
					count(&stats.Skipped)
					return nil
				}
			}

			if err := s.refresh(gctx, res); err != nil {
				s.logger.Error("QuestionService: generation failed", "resource_id", res.ID, "err", err)
				count(&stats.Failed)
				return nil
			}
			count(&stats.Generated)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return stats, err
	}
	if err := ctx.Err(); err != nil {
		return stats, err
	}

	s.logger.Info("QuestionService: finished",
		"resources", stats.Resources,
		"generated", stats.Generated,
		"skipped", stats.Skipped,
		"failed", stats.Failed,
	)
	return stats, nil
}

func (s *QuestionService) refresh(ctx context.Context, res models.Resource) error {
	if strings.TrimSpace(res.Content) == "" {
		return fmt.Errorf("resource has no content")
	}

	raw, err := s.llm.GenerateJSON(ctx, fmt.Sprintf(questionPrompt, s.perResource), "Content:\n\n"+res.Content, questionSchema)
	if err != nil {
		return err
	}

	questions, err := parseQuestions(raw, res.ID, s.perResource)
	if err != nil {
		return err
	}
	if err := s.store.ReplacePromptQuestions(ctx, res.ID, questions); err != nil {
		return fmt.Errorf("save questions: %w", err)
	}

	s.logger.Debug("QuestionService: saved questions", "resource_id", res.ID, "count", len(questions))
	return nil
}

// parseQuestions validates the model reply, keeping at most limit non-empty questions.
func parseQuestions(raw, resourceID string, limit int) ([]models.PromptQuestion, error) {
	var items []struct {
		Question string `json:"question"`
		Topic    string `json:"topic"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &items); err != nil {
		return nil, fmt.Errorf("decode questions: %w", err)
	}

	out := make([]models.PromptQuestion, 0, min(len(items), limit))
	for _, it := range items {
		q := strings.TrimSpace(it.Question)
		if q == "" {
			continue
		}
		out = append(out, models.PromptQuestion{
			ID:         uuid.NewString(),
			ResourceID: resourceID,
			Question:   q,
			Topic:      strings.TrimSpace(it.Topic),
		})
		if len(out) == limit {
			break
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("model returned no usable questions")
	}
	return out, nil
}
