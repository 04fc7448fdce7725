package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// throttled waits on a token bucket before every embedding call.
type throttled struct {
	Embedder
	limiter *rate.Limiter
}

// Throttle limits e to lim's rate. A nil limiter returns e unchanged.
func Throttle(e Embedder, lim *rate.Limiter) Embedder {
	if lim == nil {
		return e
	}
	return &throttled{Embedder: e, limiter: lim}
}

func (t *throttled) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("llm: embed rate limit: %w", err)
	}
	return t.Embedder.Embed(ctx, text)
}
