package llm

import (
	"context"

	"github.com/firstaid-ai/firstaid-rag/pkg/resilience"
)

// guarded routes completions through a circuit breaker.
type guarded struct {
	LLM
	breaker *resilience.Breaker
}

// Guard wraps l so that completions fail fast with
// resilience.ErrCircuitOpen while the provider keeps failing.
func Guard(l LLM, b *resilience.Breaker) LLM {
	if b == nil {
		return l
	}
	return &guarded{LLM: l, breaker: b}
}

func (g *guarded) Complete(ctx context.Context, prompt string) (string, error) {
	var out string
	err := g.breaker.Call(ctx, func(ctx context.Context) error {
		var err error
		out, err = g.LLM.Complete(ctx, prompt)
		return err
	})
	return out, err
}
