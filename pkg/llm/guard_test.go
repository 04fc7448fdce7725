package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/firstaid-ai/firstaid-rag/pkg/resilience"
)

type stubLLM struct {
	out   string
	err   error
	calls int
}

func (s *stubLLM) Complete(_ context.Context, _ string) (string, error) {
	s.calls++
	return s.out, s.err
}

func TestGuardPassesThrough(t *testing.T) {
	inner := &stubLLM{out: "ok"}
	g := Guard(inner, resilience.NewBreaker(resilience.BreakerOpts{FailThreshold: 2, Timeout: time.Minute}))

	out, err := g.Complete(context.Background(), "p")
	if err != nil || out != "ok" {
		t.Fatalf("unexpected result %q, %v", out, err)
	}
}

func TestGuardOpensAfterFailures(t *testing.T) {
	boom := errors.New("provider down")
	inner := &stubLLM{err: boom}
	g := Guard(inner, resilience.NewBreaker(resilience.BreakerOpts{FailThreshold: 2, Timeout: time.Minute}))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := g.Complete(ctx, "p"); !errors.Is(err, boom) {
			t.Fatalf("attempt %d: expected provider error, got %v", i, err)
		}
	}
	if _, err := g.Complete(ctx, "p"); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if inner.calls != 2 {
		t.Fatalf("expected 2 provider calls, got %d", inner.calls)
	}
}

func TestGuardNilBreaker(t *testing.T) {
	inner := &stubLLM{out: "x"}
	if g := Guard(inner, nil); g != LLM(inner) {
		t.Fatal("expected the inner LLM back when no breaker is given")
	}
}
