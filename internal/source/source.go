// Package source defines the model query interface the decoders consume.
//
// A Source answers "given this token sequence, what are the next-token
// scores". Sources return raw logits; turning them into a probability
// distribution is the sampler's job, so temperature and truncation stay a
// decoding concern. Sources that already produce probabilities return their
// logarithm.
package source

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrContextOverflow is returned when a query exceeds the maximum context
	// a source supports.
	ErrContextOverflow = errors.New("context exceeds model maximum length")
	// ErrNoProposal is returned by heuristic draft sources that have nothing
	// to propose after the given context.
	ErrNoProposal = errors.New("no draft proposal")
	// ErrVocabMismatch is returned when two sources disagree on vocabulary size.
	ErrVocabMismatch = errors.New("vocabulary size mismatch")
)

// Source is a language model (or a cheaper stand-in for one) queried by
// token sequence.
type Source interface {
	// VocabSize is the length of every logits vector the source returns.
	VocabSize() int
	// Next returns the scores for the token following tokens.
	Next(ctx context.Context, tokens []int) ([]float32, error)
	// NextBatch returns positions score vectors in one query. Vector i holds
	// the scores after the prefix tokens[:len(tokens)-positions+1+i], so the
	// last vector scores the token following the whole sequence. Callers
	// must not modify returned vectors.
	NextBatch(ctx context.Context, tokens []int, positions int) ([][]float32, error)
}

// Sequential implements NextBatch with one Next call per position, for
// sources without a native batched forward pass.
func Sequential(ctx context.Context, s Source, tokens []int, positions int) ([][]float32, error) {
	if err := checkPositions(tokens, positions); err != nil {
		return nil, err
	}
	out := make([][]float32, positions)
	base := len(tokens) - positions + 1
	for i := range positions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, err := s.Next(ctx, tokens[:base+i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// CheckVocab returns ErrVocabMismatch unless both sources share a vocabulary.
func CheckVocab(target, draft Source) error {
	if target.VocabSize() != draft.VocabSize() {
		return fmt.Errorf("%w: target %d, draft %d", ErrVocabMismatch, target.VocabSize(), draft.VocabSize())
	}
	return nil
}

func checkPositions(tokens []int, positions int) error {
	if positions < 1 {
		return fmt.Errorf("batch positions must be >= 1, got %d", positions)
	}
	if positions > len(tokens)+1 {
		return fmt.Errorf("batch positions %d exceed sequence length %d + 1", positions, len(tokens))
	}
	return nil
}
