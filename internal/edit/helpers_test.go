package edit

import (
	"context"
	"math"
	"sync"

	"github.com/diegofornalha/specedit/internal/source"
)

// scriptedSource puts all mass on len(tokens) mod vocab, so the generated
// sequence is known in advance under any sampling configuration.
type scriptedSource struct {
	vocab int
}

func (s scriptedSource) VocabSize() int { return s.vocab }

func (s scriptedSource) Next(_ context.Context, tokens []int) ([]float32, error) {
	out := make([]float32, s.vocab)
	neg := float32(math.Inf(-1))
	for i := range out {
		out[i] = neg
	}
	out[len(tokens)%s.vocab] = 0
	return out, nil
}

func (s scriptedSource) NextBatch(ctx context.Context, tokens []int, positions int) ([][]float32, error) {
	return source.Sequential(ctx, s, tokens, positions)
}

// noProposalSource is a draft that never proposes anything.
type noProposalSource struct {
	vocab int
}

func (s noProposalSource) VocabSize() int { return s.vocab }

func (s noProposalSource) Next(context.Context, []int) ([]float32, error) {
	return nil, source.ErrNoProposal
}

func (s noProposalSource) NextBatch(context.Context, []int, int) ([][]float32, error) {
	return nil, source.ErrNoProposal
}

// countingSource records how a wrapped source is queried.
type countingSource struct {
	source.Source

	mu           sync.Mutex
	nextCalls    int
	batchCalls   int
	maxPositions int
}

func (c *countingSource) Next(ctx context.Context, tokens []int) ([]float32, error) {
	c.mu.Lock()
	c.nextCalls++
	c.mu.Unlock()
	return c.Source.Next(ctx, tokens)
}

func (c *countingSource) NextBatch(ctx context.Context, tokens []int, positions int) ([][]float32, error) {
	c.mu.Lock()
	c.batchCalls++
	c.maxPositions = max(c.maxPositions, positions)
	c.mu.Unlock()
	return c.Source.NextBatch(ctx, tokens, positions)
}

func (c *countingSource) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextCalls + c.batchCalls
}

// failingSource fails every query once failAfter queries succeeded.
type failingSource struct {
	source.Source
	failAfter int
	err       error
	calls     int
}

func (f *failingSource) Next(ctx context.Context, tokens []int) ([]float32, error) {
	f.calls++
	if f.calls > f.failAfter {
		return nil, f.err
	}
	return f.Source.Next(ctx, tokens)
}

func (f *failingSource) NextBatch(ctx context.Context, tokens []int, positions int) ([][]float32, error) {
	f.calls++
	if f.calls > f.failAfter {
		return nil, f.err
	}
	return f.Source.NextBatch(ctx, tokens, positions)
}

type panicSource struct {
	vocab int
}

func (p panicSource) VocabSize() int { return p.vocab }

func (p panicSource) Next(context.Context, []int) ([]float32, error) { panic("forward boom") }

func (p panicSource) NextBatch(context.Context, []int, int) ([][]float32, error) {
	panic("batch boom")
}

// shortSource returns vectors one entry short of its declared vocabulary.
type shortSource struct {
	vocab int
}

func (s shortSource) VocabSize() int { return s.vocab }

func (s shortSource) Next(context.Context, []int) ([]float32, error) {
	return make([]float32, s.vocab-1), nil
}

func (s shortSource) NextBatch(ctx context.Context, tokens []int, positions int) ([][]float32, error) {
	return source.Sequential(ctx, s, tokens, positions)
}
