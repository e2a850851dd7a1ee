package logits

import "math"

// residualEpsilon is the mass below which a residual distribution is treated
// as empty.
const residualEpsilon = 1e-12

// Distribution is a probability vector over the vocabulary, indexed by token
// id. Values are non-negative and sum to one.
type Distribution []float64

// Prob returns the probability of id, or zero when id is out of range.
func (d Distribution) Prob(id int) float64 {
	if id < 0 || id >= len(d) {
		return 0
	}
	return d[id]
}

// Argmax returns the most likely token id. Ties resolve to the lowest id.
func (d Distribution) Argmax() int {
	best := 0
	for i := 1; i < len(d); i++ {
		if d[i] > d[best] {
			best = i
		}
	}
	return best
}

// Sum returns the total mass of d.
func (d Distribution) Sum() float64 {
	var s float64
	for _, p := range d {
		s += p
	}
	return s
}

// OneHot returns a distribution of size vocab with all mass on id.
func OneHot(vocab, id int) Distribution {
	d := make(Distribution, vocab)
	if id >= 0 && id < vocab {
		d[id] = 1
	}
	return d
}

// Softmax converts raw logits into a distribution without any sampling
// adjustments.
func Softmax(logits []float32) Distribution {
	d := make(Distribution, len(logits))
	if len(logits) == 0 {
		return d
	}
	maxv := float64(logits[argmax(logits)])
	if math.IsInf(maxv, 0) || math.IsNaN(maxv) {
		d[argmax(logits)] = 1
		return d
	}
	var sum float64
	for i, l := range logits {
		e := math.Exp(float64(l) - maxv)
		d[i] = e
		sum += e
	}
	for i := range d {
		d[i] /= sum
	}
	return d
}

// AcceptanceProbability is the speculative sampling ratio test
// min(1, p(tok)/q(tok)) for a token proposed from q and verified against p.
// A token the draft could not have produced (q(tok) == 0) is accepted.
func AcceptanceProbability(p, q Distribution, tok int) float64 {
	qt := q.Prob(tok)
	if qt <= 0 {
		return 1
	}
	return min(1, p.Prob(tok)/qt)
}

// Residual returns the normalized distribution max(0, p-q). The boolean is
// false when the residual has no mass, i.e. q dominates p everywhere; the
// caller then samples from p directly.
func Residual(p, q Distribution) (Distribution, bool) {
	r := make(Distribution, len(p))
	var sum float64
	for i := range p {
		diff := p[i] - q.Prob(i)
		if diff > 0 {
			r[i] = diff
			sum += diff
		}
	}
	if sum <= residualEpsilon {
		return nil, false
	}
	for i := range r {
		r[i] /= sum
	}
	return r, true
}

// ExpectedAcceptance is the probability that a single token drawn from q is
// accepted against p: sum over x of q(x)*min(1, p(x)/q(x)), which equals
// sum over x of min(p(x), q(x)).
func ExpectedAcceptance(p, q Distribution) float64 {
	var a float64
	for i := range q {
		a += min(p.Prob(i), q[i])
	}
	return a
}
