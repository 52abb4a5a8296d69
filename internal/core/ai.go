package core

import "context"

type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type LLMProvider interface {
	Generate(ctx context.Context, systemPrompt string, userPrompt string) (string, error)
	// GenerateJSON constrains the reply to schema and returns the raw JSON text.
	GenerateJSON(ctx context.Context, systemPrompt string, userPrompt string, schema *JSONSchema) (string, error)
}

// JSONSchema is the provider-neutral subset of a structured-output schema.
type JSONSchema struct {
	Type       string // "object", "array", "string", ...
	Items      *JSONSchema
	Properties map[string]*JSONSchema
	Required   []string
}
