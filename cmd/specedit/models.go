package main

import (
	"fmt"

	"github.com/diegofornalha/specedit/internal/ngram"
	"github.com/diegofornalha/specedit/internal/source"
	"github.com/diegofornalha/specedit/internal/tokenizer"
	"github.com/diegofornalha/specedit/internal/toy"
)

const (
	modelToy = "toy"

	draftLookup = "lookup"
	draftNgram  = "ngram"
	draftToy    = "toy"

	defaultHidden = 32
	// Toy drafts are smaller than the target they assist.
	draftHiddenDivisor = 4

	lookupMinMatch = 1
	lookupMaxMatch = 4
)

// loadTokenizer returns the tokenizer named by path (the byte tokenizer
// when empty), its vocabulary size and the tokens that end generation.
func loadTokenizer(path string) (tokenizer.Tokenizer, int, []int, error) {
	if path == "" {
		var b tokenizer.Byte
		return b, b.VocabSize(), tokenizer.StopTokens(b), nil
	}
	v, err := tokenizer.LoadVocabFile(path)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("load vocab %s: %w", path, err)
	}
	return v, v.VocabSize(), tokenizer.StopTokens(v), nil
}

func loadTarget(o *decodeOptions, vocab int) (source.Source, error) {
	if o.model == "" || o.model == modelToy {
		if o.hidden < 1 {
			return nil, fmt.Errorf("--hidden must be >= 1, got %d", o.hidden)
		}
		return toy.NewToyLM(vocab, int(o.hidden), 0, o.modelSeed), nil
	}
	m, err := loadNgram(o.model, vocab)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func loadDraft(o *decodeOptions, vocab int) (source.Source, error) {
	switch o.draft {
	case "", draftLookup:
		return ngram.NewLookup(vocab, lookupMinMatch, lookupMaxMatch), nil
	case draftNgram:
		if o.draftModel == "" {
			return nil, fmt.Errorf("--draft=%s requires --draft-model", draftNgram)
		}
		m, err := loadNgram(o.draftModel, vocab)
		if err != nil {
			return nil, err
		}
		return m, nil
	case draftToy:
		if o.hidden < 1 {
			return nil, fmt.Errorf("--hidden must be >= 1, got %d", o.hidden)
		}
		hidden := max(1, int(o.hidden)/draftHiddenDivisor)
		return toy.NewToyLM(vocab, hidden, 0, o.modelSeed+1), nil
	default:
		return nil, fmt.Errorf("unknown draft source %q (want %s, %s or %s)", o.draft, draftLookup, draftNgram, draftToy)
	}
}

func loadNgram(path string, vocab int) (*ngram.Model, error) {
	m, err := ngram.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load n-gram model %s: %w", path, err)
	}
	if m.Vocab != vocab {
		return nil, fmt.Errorf("n-gram model %s has vocabulary %d, tokenizer has %d: %w", path, m.Vocab, vocab, source.ErrVocabMismatch)
	}
	return m, nil
}

// maybeCache wraps target in a prefix cache when ttl is positive. The
// returned func releases the cache.
func maybeCache(target source.Source, o *decodeOptions) (source.Source, func()) {
	if o.cacheTTL <= 0 {
		return target, func() {}
	}
	cached := source.NewCached(target, o.cacheTTL, 0)
	return cached, cached.Close
}
