package edit

import (
	"context"
	"fmt"

	"github.com/diegofornalha/specedit/internal/source"
)

const (
	roleTarget = "target"
	roleDraft  = "draft"
)

// queryNext asks src for the scores after tokens. Errors and panics come
// back as *QueryError.
func queryNext(ctx context.Context, src source.Source, role string, tokens []int) (scores []float32, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			scores = nil
			err = &QueryError{Source: role, Position: len(tokens), Err: fmt.Errorf("panic in Next: %v", rec)}
		}
	}()
	scores, err = src.Next(ctx, tokens)
	if err != nil {
		return nil, &QueryError{Source: role, Position: len(tokens), Err: err}
	}
	if len(scores) != src.VocabSize() {
		return nil, &QueryError{Source: role, Position: len(tokens), Err: fmt.Errorf("returned %d scores, vocabulary has %d", len(scores), src.VocabSize())}
	}
	return scores, nil
}

// queryBatch asks src for positions score vectors ending after tokens.
func queryBatch(ctx context.Context, src source.Source, role string, tokens []int, positions int) (scores [][]float32, err error) {
	pos := len(tokens) - positions + 1
	defer func() {
		if rec := recover(); rec != nil {
			scores = nil
			err = &QueryError{Source: role, Position: pos, Err: fmt.Errorf("panic in NextBatch: %v", rec)}
		}
	}()
	scores, err = src.NextBatch(ctx, tokens, positions)
	if err != nil {
		return nil, &QueryError{Source: role, Position: pos, Err: err}
	}
	if len(scores) != positions {
		return nil, &QueryError{Source: role, Position: pos, Err: fmt.Errorf("returned %d positions, want %d", len(scores), positions)}
	}
	for i, v := range scores {
		if len(v) != src.VocabSize() {
			return nil, &QueryError{Source: role, Position: pos + i, Err: fmt.Errorf("returned %d scores, vocabulary has %d", len(v), src.VocabSize())}
		}
	}
	return scores, nil
}
