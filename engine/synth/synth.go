// Package synth turns retrieved nodes and a query into an answer by
// prompting an LLM with the node text as context.
package synth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/firstaid-ai/firstaid-rag/engine/index"
	"github.com/firstaid-ai/firstaid-rag/pkg/fn"
	"github.com/firstaid-ai/firstaid-rag/pkg/llm"
)

// EmptyResponse is returned when there is no context to answer from.
const EmptyResponse = "Empty Response"

// DefaultQATemplate answers a query from a single block of context.
const DefaultQATemplate = "Context information is below.\n" +
	"---------------------\n" +
	"{context_str}\n" +
	"---------------------\n" +
	"Given the context information and not prior knowledge, answer the query.\n" +
	"Query: {query_str}\n" +
	"Answer: "

// DefaultRefineTemplate improves an existing answer with more context.
const DefaultRefineTemplate = "The original query is as follows: {query_str}\n" +
	"We have provided an existing answer: {existing_answer}\n" +
	"We have the opportunity to refine the existing answer (only if needed) with some more context below.\n" +
	"------------\n" +
	"{context_msg}\n" +
	"------------\n" +
	"Given the new context, refine the original answer to better answer the query. " +
	"If the context isn't useful, return the original answer.\n" +
	"Refined Answer: "

// DefaultMaxContextChars bounds a single prompt. It approximates a
// 4096-token window at four characters per token, less room for the answer.
const DefaultMaxContextChars = 15000

// minChunkChars keeps packing from degenerating when the query alone nearly
// fills the window.
const minChunkChars = 256

const chunkSeparator = "\n\n"

// Synthesizer produces an answer for query from nodes.
type Synthesizer interface {
	Synthesize(ctx context.Context, query string, nodes []index.NodeWithScore) (string, error)
}

// Compact packs node contents into as few prompts as fit, answers the first
// pack with the QA template and refines the answer with each later pack.
type Compact struct {
	llm             llm.LLM
	qaTemplate      string
	refineTemplate  string
	maxContextChars int
	logger          *slog.Logger
}

// Option configures a Compact synthesizer.
type Option func(*Compact)

// WithMaxContextChars sets the prompt size budget.
func WithMaxContextChars(n int) Option {
	return func(c *Compact) {
		if n > 0 {
			c.maxContextChars = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Compact) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCompact creates a compact-and-refine synthesizer over l.
func NewCompact(l llm.LLM, opts ...Option) *Compact {
	c := &Compact{
		llm:             l,
		qaTemplate:      DefaultQATemplate,
		refineTemplate:  DefaultRefineTemplate,
		maxContextChars: DefaultMaxContextChars,
		logger:          slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Synthesize implements Synthesizer.
func (c *Compact) Synthesize(ctx context.Context, query string, nodes []index.NodeWithScore) (string, error) {
	if len(nodes) == 0 {
		return EmptyResponse, nil
	}

	texts := fn.Map(nodes, func(n index.NodeWithScore) string {
		return n.Node.Content(index.MetadataModeLLM)
	})
	packs := c.pack(query, texts)
	c.logger.Debug("synth packed context", "nodes", len(nodes), "prompts", len(packs))

	answer, err := c.llm.Complete(ctx, fillQA(c.qaTemplate, packs[0], query))
	if err != nil {
		return "", fmt.Errorf("synth: qa: %w", err)
	}
	for i, p := range packs[1:] {
		answer, err = c.llm.Complete(ctx, fillRefine(c.refineTemplate, p, query, answer))
		if err != nil {
			return "", fmt.Errorf("synth: refine %d: %w", i+1, err)
		}
	}
	return answer, nil
}

// pack joins texts into chunks that fit the QA prompt budget, splitting
// any single text that is too large on its own.
func (c *Compact) pack(query string, texts []string) []string {
	budget := c.maxContextChars - utf8.RuneCountInString(fillQA(c.qaTemplate, "", query))
	if budget < minChunkChars {
		budget = minChunkChars
	}

	var pieces []string
	for _, t := range texts {
		pieces = append(pieces, split(t, budget)...)
	}

	var (
		packs []string
		cur   strings.Builder
		size  int
	)
	sepLen := utf8.RuneCountInString(chunkSeparator)
	for _, p := range pieces {
		n := utf8.RuneCountInString(p)
		if size > 0 && size+sepLen+n > budget {
			packs = append(packs, cur.String())
			cur.Reset()
			size = 0
		}
		if size > 0 {
			cur.WriteString(chunkSeparator)
			size += sepLen
		}
		cur.WriteString(p)
		size += n
	}
	return append(packs, cur.String())
}

// split cuts s into pieces of at most limit runes, preferring whitespace
// boundaries.
func split(s string, limit int) []string {
	if utf8.RuneCountInString(s) <= limit {
		return []string{s}
	}
	var out []string
	runes := []rune(s)
	for len(runes) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i] == ' ' || runes[i] == '\n' {
				cut = i
				break
			}
		}
		out = append(out, strings.TrimSpace(string(runes[:cut])))
		runes = runes[cut:]
	}
	if rest := strings.TrimSpace(string(runes)); rest != "" {
		out = append(out, rest)
	}
	return out
}

// Placeholders are substituted in a single pass so braces inside the query
// or context are never expanded.
func fillQA(tmpl, ctxStr, query string) string {
	return strings.NewReplacer("{context_str}", ctxStr, "{query_str}", query).Replace(tmpl)
}

func fillRefine(tmpl, ctxStr, query, existing string) string {
	return strings.NewReplacer(
		"{context_msg}", ctxStr,
		"{query_str}", query,
		"{existing_answer}", existing,
	).Replace(tmpl)
}
