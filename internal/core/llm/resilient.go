package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/markdave123-py/coursebot/internal/core"
)

// RetryPolicy bounds every model call: per-attempt timeout, shared rate limit, capped backoff.
type RetryPolicy struct {
	Timeout         time.Duration
	MaxRetries      int
	InitialInterval time.Duration
	Limiter         *rate.Limiter
	Logger          *slog.Logger
}

// NewRetryPolicy builds a policy with a token bucket of ratePerSec (burst 1). ratePerSec <= 0 disables limiting.
func NewRetryPolicy(timeout time.Duration, maxRetries int, ratePerSec float64, logger *slog.Logger) *RetryPolicy {
	limit := rate.Inf
	if ratePerSec > 0 {
		limit = rate.Limit(ratePerSec)
	}
	return &RetryPolicy{
		Timeout:         timeout,
		MaxRetries:      maxRetries,
		InitialInterval: 500 * time.Millisecond,
		Limiter:         rate.NewLimiter(limit, 1),
		Logger:          logger,
	}
}

func (p *RetryPolicy) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	eb.MaxElapsedTime = 0

	retries := p.MaxRetries
	if retries < 0 {
		retries = 0
	}
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(retries)), ctx)

	attempt := func() error {
		if err := p.Limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		callCtx := ctx
		if p.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, p.Timeout)
			defer cancel()
		}

		err := fn(callCtx)
		switch {
		case err == nil:
			return nil
		case ctx.Err() != nil:
			return backoff.Permanent(ctx.Err())
		case errors.Is(err, ErrDimensionMismatch):
			return backoff.Permanent(err)
		default:
			return err
		}
	}

	notify := func(err error, wait time.Duration) {
		p.Logger.Warn("LLM: call failed, retrying", "op", op, "wait", wait, "err", err)
	}
	return backoff.RetryNotify(attempt, b, notify)
}

// ResilientEmbedder applies a RetryPolicy to an embedding provider.
type ResilientEmbedder struct {
	inner  core.EmbeddingProvider
	policy *RetryPolicy
}

func NewResilientEmbedder(inner core.EmbeddingProvider, policy *RetryPolicy) *ResilientEmbedder {
	return &ResilientEmbedder{inner: inner, policy: policy}
}

func (r *ResilientEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := r.policy.do(ctx, "embed", func(ctx context.Context) error {
		v, err := r.inner.Embed(ctx, text)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// ResilientLLM applies a RetryPolicy to a text generation provider.
type ResilientLLM struct {
	inner  core.LLMProvider
	policy *RetryPolicy
}

func NewResilientLLM(inner core.LLMProvider, policy *RetryPolicy) *ResilientLLM {
	return &ResilientLLM{inner: inner, policy: policy}
}

func (r *ResilientLLM) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	var out string
	err := r.policy.do(ctx, "generate", func(ctx context.Context) error {
		s, err := r.inner.Generate(ctx, systemPrompt, userPrompt)
		if err != nil {
			return err
		}
		out = s
		return nil
	})
	return out, err
}

func (r *ResilientLLM) GenerateJSON(ctx context.Context, systemPrompt, userPrompt string, schema *core.JSONSchema) (string, error) {
	var out string
	err := r.policy.do(ctx, "generate_json", func(ctx context.Context) error {
		s, err := r.inner.GenerateJSON(ctx, systemPrompt, userPrompt, schema)
		if err != nil {
			return err
		}
		out = s
		return nil
	})
	return out, err
}

var (
	_ core.EmbeddingProvider = (*ResilientEmbedder)(nil)
	_ core.LLMProvider       = (*ResilientLLM)(nil)
)
