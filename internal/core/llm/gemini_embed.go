package llm

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/markdave123-py/coursebot/internal/core"
)

// ErrDimensionMismatch means the provider returned a vector the embeddings column cannot hold.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

type GeminiEmbedder struct {
	client    *genai.Client
	modelName string
	dim       int
}

func NewGeminiEmbedder(ctx context.Context, apiKey, modelName string, dim int) (*GeminiEmbedder, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: API key is required")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if modelName == "" {
		modelName = "text-embedding-004"
	}
	return &GeminiEmbedder{client: cl, modelName: modelName, dim: dim}, nil
}

func (g *GeminiEmbedder) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// Embed returns the vector for a single text.
func (g *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	em := g.client.EmbeddingModel(g.modelName)
	em.TaskType = genai.TaskTypeRetrievalDocument

	resp, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if resp == nil || resp.Embedding == nil {
		return nil, fmt.Errorf("gemini embed: empty response")
	}
	return checkDim(resp.Embedding.Values, g.dim)
}

func checkDim(vec []float32, dim int) ([]float32, error) {
	if dim > 0 && len(vec) != dim {
		return nil, fmt.Errorf("%w: got %d want %d", ErrDimensionMismatch, len(vec), dim)
	}
	return vec, nil
}

var _ core.EmbeddingProvider = (*GeminiEmbedder)(nil)
