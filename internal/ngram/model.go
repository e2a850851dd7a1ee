// Package ngram provides cheap draft sources: a count-based n-gram model
// trained from token streams and a prompt-lookup heuristic that drafts by
// copying from earlier context.
package ngram

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/diegofornalha/specedit/internal/source"
)

// Model is an add-alpha smoothed n-gram model with backoff: it scores from
// the longest context (up to Order-1 tokens) that was seen in training and
// falls back to shorter ones, down to unigram counts and finally uniform.
type Model struct {
	Order      int                    `json:"order"`
	Vocab      int                    `json:"vocab"`
	Alpha      float64                `json:"alpha"`
	MaxContext int                    `json:"max_context,omitempty"`
	Counts     map[string]map[int]int `json:"counts"`
}

// Train counts every n-gram of length 1..order in tokens. Tokens outside
// [0, vocab) are skipped.
func Train(tokens []int, order, vocab int, alpha float64) (*Model, error) {
	if order < 1 {
		return nil, fmt.Errorf("ngram: order must be >= 1, got %d", order)
	}
	if vocab < 1 {
		return nil, fmt.Errorf("ngram: vocab must be >= 1, got %d", vocab)
	}
	if alpha <= 0 {
		alpha = 0.1
	}
	m := &Model{
		Order:  order,
		Vocab:  vocab,
		Alpha:  alpha,
		Counts: make(map[string]map[int]int),
	}
	m.Add(tokens)
	return m, nil
}

// Add updates the counts with another token stream.
func (m *Model) Add(tokens []int) {
	for i, tok := range tokens {
		if tok < 0 || tok >= m.Vocab {
			continue
		}
		for n := 0; n < m.Order && n <= i; n++ {
			key := contextKey(tokens[i-n : i])
			next := m.Counts[key]
			if next == nil {
				next = make(map[int]int)
				m.Counts[key] = next
			}
			next[tok]++
		}
	}
}

func (m *Model) VocabSize() int { return m.Vocab }

// Next returns smoothed log-probabilities for the token after tokens.
func (m *Model) Next(ctx context.Context, tokens []int) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.MaxContext > 0 && len(tokens) > m.MaxContext {
		return nil, fmt.Errorf("ngram: %d tokens: %w (max %d)", len(tokens), source.ErrContextOverflow, m.MaxContext)
	}
	out := make([]float32, m.Vocab)
	for n := min(m.Order-1, len(tokens)); n >= 0; n-- {
		next, ok := m.Counts[contextKey(tokens[len(tokens)-n:])]
		if !ok {
			continue
		}
		total := 0
		for _, c := range next {
			total += c
		}
		if total == 0 {
			continue
		}
		denom := float64(total) + m.Alpha*float64(m.Vocab)
		floor := float32(math.Log(m.Alpha / denom))
		for i := range out {
			out[i] = floor
		}
		for tok, c := range next {
			if tok >= 0 && tok < m.Vocab {
				out[tok] = float32(math.Log((float64(c) + m.Alpha) / denom))
			}
		}
		return out, nil
	}
	return out, nil
}

func (m *Model) NextBatch(ctx context.Context, tokens []int, positions int) ([][]float32, error) {
	return source.Sequential(ctx, m, tokens, positions)
}

// Save writes the model as JSON.
func (m *Model) Save(w io.Writer) error {
	enc := json.NewEncoder(w)
	return enc.Encode(m)
}

// SaveFile writes the model to path.
func (m *Model) SaveFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := m.Save(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("write ngram model: %w", err)
	}
	return f.Close()
}

// Load reads a model written by Save.
func Load(r io.Reader) (*Model, error) {
	var m Model
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("parse ngram model: %w", err)
	}
	if m.Order < 1 || m.Vocab < 1 {
		return nil, fmt.Errorf("parse ngram model: invalid order %d or vocab %d", m.Order, m.Vocab)
	}
	if m.Alpha <= 0 {
		m.Alpha = 0.1
	}
	if m.Counts == nil {
		m.Counts = make(map[string]map[int]int)
	}
	return &m, nil
}

// LoadFile reads a model from path.
func LoadFile(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}

func contextKey(tokens []int) string {
	if len(tokens) == 0 {
		return ""
	}
	var b strings.Builder
	for i, t := range tokens {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(t))
	}
	return b.String()
}
