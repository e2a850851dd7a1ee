// Package toy provides a small deterministic language model. It stands in
// for a real target model in tests and in the CLI demo: same seed, same
// weights, same logits.
package toy

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/diegofornalha/specedit/internal/source"
)

// ToyLM scores the next token from the embeddings of the last two context
// tokens projected back onto the vocabulary. It holds no mutable state, so a
// single instance may serve concurrent decoders.
type ToyLM struct {
	Vocab      int
	Hidden     int
	MaxContext int

	Emb  mat       // [Vocab x Hidden] embedding matrix
	W    mat       // [Hidden x Vocab] projection weights
	Bias []float32 // [Vocab] bias added to logits
}

// NewToyLM constructs a model with the given vocabulary and hidden size.
// Weights are drawn from a normal distribution seeded by seed. maxContext
// bounds the accepted sequence length; zero means unbounded. It panics if
// vocab or hidden is less than one.
func NewToyLM(vocab, hidden, maxContext int, seed int64) *ToyLM {
	if vocab < 1 || hidden < 1 {
		panic(fmt.Sprintf("toy: invalid dimensions vocab=%d hidden=%d", vocab, hidden))
	}
	m := &ToyLM{
		Vocab:      vocab,
		Hidden:     hidden,
		MaxContext: maxContext,
		Emb:        newMat(vocab, hidden),
		W:          newMat(hidden, vocab),
		Bias:       make([]float32, vocab),
	}
	m.Emb.fillNormal(seed+11, 1)
	m.W.fillNormal(seed+23, 1.5/math.Sqrt(float64(hidden)))
	return m
}

func (m *ToyLM) VocabSize() int { return m.Vocab }

// Next computes the logits after tokens. An empty context scores from the
// bias alone. Token ids outside [0, Vocab) are reduced modulo Vocab.
func (m *ToyLM) Next(ctx context.Context, tokens []int) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.MaxContext > 0 && len(tokens) > m.MaxContext {
		return nil, fmt.Errorf("toy: %d tokens: %w (max %d)", len(tokens), source.ErrContextOverflow, m.MaxContext)
	}
	h := make([]float32, m.Hidden)
	if n := len(tokens); n > 0 {
		addScaled(h, m.Emb.row(m.wrap(tokens[n-1])), 1)
		if n > 1 {
			addScaled(h, m.Emb.row(m.wrap(tokens[n-2])), 0.5)
		}
	}
	logits := make([]float32, m.Vocab)
	copy(logits, m.Bias)
	for i := 0; i < m.Hidden; i++ {
		if h[i] == 0 {
			continue
		}
		addScaled(logits, m.W.row(i), h[i])
	}
	return logits, nil
}

// NextBatch scores every requested prefix. The toy model has no KV cache, so
// a batch is a loop over Next.
func (m *ToyLM) NextBatch(ctx context.Context, tokens []int, positions int) ([][]float32, error) {
	return source.Sequential(ctx, m, tokens, positions)
}

func (m *ToyLM) wrap(tok int) int {
	tok %= m.Vocab
	if tok < 0 {
		tok += m.Vocab
	}
	return tok
}

func addScaled(dst, src []float32, scale float32) {
	for i := range dst {
		dst[i] += src[i] * scale
	}
}

// mat is a dense row-major float32 matrix.
type mat struct {
	rows, cols int
	data       []float32
}

func newMat(rows, cols int) mat {
	return mat{rows: rows, cols: cols, data: make([]float32, rows*cols)}
}

func (m mat) row(i int) []float32 {
	return m.data[i*m.cols : (i+1)*m.cols]
}

func (m mat) fillNormal(seed int64, std float64) {
	r := rand.New(rand.NewSource(seed))
	for i := range m.data {
		m.data[i] = float32(r.NormFloat64() * std)
	}
}
