package ngram

import (
	"context"
	"math"
	"slices"

	"github.com/diegofornalha/specedit/internal/source"
)

// Lookup drafts by prompt lookup: it finds the most recent earlier
// occurrence of the context's trailing n-gram and proposes the token that
// followed it. When editing, the text being rewritten sits in the prompt,
// so unchanged regions are drafted verbatim.
//
// Proposals are one-hot: the proposed token scores 0 and every other token
// negative infinity. With nothing to propose Next returns
// source.ErrNoProposal.
type Lookup struct {
	Vocab    int
	MinMatch int
	MaxMatch int
}

// NewLookup returns a lookup drafter matching trailing n-grams of length
// minMatch..maxMatch, longest first.
func NewLookup(vocab, minMatch, maxMatch int) *Lookup {
	minMatch = max(minMatch, 1)
	maxMatch = max(maxMatch, minMatch)
	return &Lookup{Vocab: vocab, MinMatch: minMatch, MaxMatch: maxMatch}
}

func (l *Lookup) VocabSize() int { return l.Vocab }

func (l *Lookup) Next(ctx context.Context, tokens []int) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tok, ok := l.propose(tokens)
	if !ok {
		return nil, source.ErrNoProposal
	}
	out := make([]float32, l.Vocab)
	neg := float32(math.Inf(-1))
	for i := range out {
		out[i] = neg
	}
	out[tok] = 0
	return out, nil
}

func (l *Lookup) NextBatch(ctx context.Context, tokens []int, positions int) ([][]float32, error) {
	return source.Sequential(ctx, l, tokens, positions)
}

func (l *Lookup) propose(tokens []int) (int, bool) {
	for n := min(l.MaxMatch, len(tokens)-1); n >= l.MinMatch; n-- {
		suffix := tokens[len(tokens)-n:]
		// Candidate starts j need a follower at j+n inside the context
		// other than the suffix itself.
		for j := len(tokens) - n - 1; j >= 0; j-- {
			if !slices.Equal(tokens[j:j+n], suffix) {
				continue
			}
			next := tokens[j+n]
			if next >= 0 && next < l.Vocab {
				return next, true
			}
		}
	}
	return 0, false
}
