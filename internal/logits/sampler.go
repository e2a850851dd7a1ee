package logits

import (
	"cmp"
	"math"
	"math/rand"
	"slices"
)

// SamplerConfig configures the behaviour of a Sampler.
type SamplerConfig struct {
	Seed          int64   `json:"seed" yaml:"seed" toml:"seed"`
	Temperature   float32 `json:"temperature" yaml:"temperature" toml:"temperature"`
	TopK          int     `json:"top_k" yaml:"top_k" toml:"top_k"`
	TopP          float32 `json:"top_p" yaml:"top_p" toml:"top_p"`
	MinP          float32 `json:"min_p" yaml:"min_p" toml:"min_p"`
	RepeatPenalty float32 `json:"repeat_penalty" yaml:"repeat_penalty" toml:"repeat_penalty"`
	RepeatLastN   int     `json:"repeat_last_n" yaml:"repeat_last_n" toml:"repeat_last_n"`
}

// Sampler turns logits into a Distribution and draws from it. All random
// values of one generation call come from the sampler's single generator,
// so a fixed Seed reproduces the whole call.
type Sampler struct {
	rng       *rand.Rand
	cfg       SamplerConfig
	greedy    bool
	scores    []float32
	order     []int
	prob      []float64
	seenMark  []uint32
	seenEpoch uint32
	seenList  []int
}

// NewSampler returns a new sampler with the provided configuration.
func NewSampler(cfg SamplerConfig) *Sampler {
	greedy := cfg.Temperature <= 0
	if cfg.Temperature <= 0 {
		cfg.Temperature = 1
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 40
	}
	if cfg.TopP <= 0 || cfg.TopP > 1 {
		cfg.TopP = 1
	}
	if cfg.MinP < 0 || cfg.MinP >= 1 {
		cfg.MinP = 0
	}
	if cfg.RepeatPenalty <= 0 {
		cfg.RepeatPenalty = 1.0
	}
	if cfg.RepeatLastN <= 0 {
		cfg.RepeatLastN = 64
	}
	return &Sampler{
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		cfg:    cfg,
		greedy: greedy,
	}
}

// Distribution converts a logits vector into the probability vector the
// sampler draws from. The steps are:
//
//  1. Apply repetition penalty over the last RepeatLastN tokens of recent,
//     skipping ids listed in excludePenalty.
//  2. When greedy, return a one-hot vector on the argmax.
//  3. Scale by the inverse temperature and keep the TopK highest scores.
//  4. Softmax over the shortlist.
//  5. Drop candidates below MinP times the best probability.
//  6. Truncate once the cumulative probability reaches TopP.
//
// The result covers the whole vocabulary and sums to one. The caller's
// logits are never modified.
func (s *Sampler) Distribution(logits []float32, recent []int, excludePenalty []int) Distribution {
	dist := make(Distribution, len(logits))
	if len(logits) == 0 {
		return dist
	}

	if cap(s.scores) < len(logits) {
		s.scores = make([]float32, len(logits))
	}
	scores := s.scores[:len(logits)]
	copy(scores, logits)
	s.penalize(scores, recent, excludePenalty)

	if s.greedy {
		dist[argmax(scores)] = 1
		return dist
	}

	order := s.rank(scores)
	k := min(s.cfg.TopK, len(order))
	order = order[:k]

	invTemp := float64(1.0) / float64(s.cfg.Temperature)
	maxv := float64(scores[order[0]]) * invTemp
	if math.IsInf(maxv, -1) || math.IsNaN(maxv) {
		dist[order[0]] = 1
		return dist
	}

	if cap(s.prob) < k {
		s.prob = make([]float64, k)
	}
	prob := s.prob[:k]
	var sum float64
	for i, id := range order {
		e := math.Exp(float64(scores[id])*invTemp - maxv)
		if math.IsNaN(e) {
			e = 0
		}
		prob[i] = e
		sum += e
	}
	if sum == 0 {
		dist[order[0]] = 1
		return dist
	}
	for i := range prob {
		prob[i] /= sum
	}

	cut := len(prob)
	if s.cfg.MinP > 0 {
		threshold := prob[0] * float64(s.cfg.MinP)
		for i := range prob {
			if prob[i] < threshold {
				cut = i
				break
			}
		}
	}
	if s.cfg.TopP < 1 {
		var c float64
		for i := 0; i < cut; i++ {
			c += prob[i]
			if c >= float64(s.cfg.TopP) {
				cut = i + 1
				break
			}
		}
	}

	var kept float64
	for i := 0; i < cut; i++ {
		kept += prob[i]
	}
	for i := 0; i < cut; i++ {
		dist[order[i]] = prob[i] / kept
	}
	return dist
}

// Draw picks a token id from dist by inverse CDF using the sampler's
// generator. Zero-probability entries are never returned.
func (s *Sampler) Draw(dist Distribution) int {
	r := s.rng.Float64()
	var c float64
	last := -1
	for i, p := range dist {
		if p <= 0 {
			continue
		}
		c += p
		last = i
		if r < c {
			return i
		}
	}
	if last < 0 {
		return dist.Argmax()
	}
	return last
}

// Uniform returns a value in [0,1) from the sampler's generator.
func (s *Sampler) Uniform() float64 {
	return s.rng.Float64()
}

// Sample draws a single index from the provided logits vector. Greedy
// samplers return the argmax without consuming randomness.
func (s *Sampler) Sample(logits []float32, recent []int, excludePenalty []int) int {
	if s.greedy && s.cfg.RepeatPenalty <= 1.0 {
		return argmax(logits)
	}
	return s.Draw(s.Distribution(logits, recent, excludePenalty))
}

func (s *Sampler) penalize(scores []float32, recent []int, excludePenalty []int) {
	if s.cfg.RepeatPenalty <= 1.0 || len(recent) == 0 {
		return
	}
	start := max(len(recent)-s.cfg.RepeatLastN, 0)
	window := recent[start:]

	if len(s.seenMark) < len(scores) {
		s.seenMark = make([]uint32, len(scores))
	}
	s.seenEpoch++
	if s.seenEpoch == 0 {
		clear(s.seenMark)
		s.seenEpoch = 1
	}
	s.seenList = s.seenList[:0]

	for _, id := range window {
		if id >= 0 && id < len(scores) && s.seenMark[id] != s.seenEpoch {
			s.seenMark[id] = s.seenEpoch
			s.seenList = append(s.seenList, id)
		}
	}
	for _, id := range excludePenalty {
		if id >= 0 && id < len(scores) {
			s.seenMark[id] = 0
		}
	}
	for _, id := range s.seenList {
		if s.seenMark[id] != s.seenEpoch {
			continue
		}
		if scores[id] > 0 {
			scores[id] /= s.cfg.RepeatPenalty
		} else {
			scores[id] *= s.cfg.RepeatPenalty
		}
	}
}

// rank returns token ids ordered by descending score. Ties keep the lower id
// first so the order is deterministic.
func (s *Sampler) rank(scores []float32) []int {
	if cap(s.order) < len(scores) {
		s.order = make([]int, len(scores))
	}
	order := s.order[:len(scores)]
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return cmp.Compare(scores[b], scores[a])
	})
	return order
}

// argmax returns the index of the maximum value in the slice. If the slice is empty it panics.
func argmax(x []float32) int {
	if len(x) == 0 {
		panic("argmax: empty slice")
	}
	bestI := 0
	bestV := x[0]
	for i := 1; i < len(x); i++ {
		if x[i] > bestV {
			bestV = x[i]
			bestI = i
		}
	}
	return bestI
}
