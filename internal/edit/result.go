package edit

import (
	"time"

	"github.com/google/uuid"
)

// Stats summarizes one generation call.
type Stats struct {
	TokensGenerated int
	TargetCalls     int
	DraftCalls      int

	// Speculative only.
	Rounds    int
	Drafted   int
	Accepted  int
	Resampled int
	Bonus     int
	// Degenerate counts rejections whose residual distribution had no mass.
	Degenerate int

	Duration time.Duration
	TPS      float64
}

// AcceptanceRate is the fraction of drafted tokens the target accepted.
func (s Stats) AcceptanceRate() float64 {
	if s.Drafted == 0 {
		return 0
	}
	return float64(s.Accepted) / float64(s.Drafted)
}

// TokensPerRound is the mean number of tokens a speculative round emitted.
func (s Stats) TokensPerRound() float64 {
	if s.Rounds == 0 {
		return 0
	}
	return float64(s.TokensGenerated) / float64(s.Rounds)
}

// Result is the token-level outcome of a generation call.
type Result struct {
	// ID correlates logs and metrics of one call.
	ID       string
	Strategy Strategy
	Prompt   []int
	// Tokens holds the generated tokens only, including a terminal token
	// when one ended generation.
	Tokens []int
	// Stopped is true when a terminal token ended generation.
	Stopped bool
	Stats   Stats
}

// maxReserve bounds the capacity reserved up front for token buffers. The
// budget may be far larger than what a terminal token lets a call produce.
const maxReserve = 1024

// reserve returns the capacity to reserve for n tokens.
func reserve(n int) int {
	return min(max(n, 0), maxReserve)
}

func newResult(strategy Strategy, prompt []int, maxTokens int) *Result {
	return &Result{
		ID:       uuid.NewString(),
		Strategy: strategy,
		Prompt:   prompt,
		Tokens:   make([]int, 0, reserve(maxTokens)),
	}
}

// TextTokens returns the generated tokens without the terminal token.
func (r *Result) TextTokens() []int {
	if r.Stopped && len(r.Tokens) > 0 {
		return r.Tokens[:len(r.Tokens)-1]
	}
	return r.Tokens
}

func (r *Result) finish(start time.Time) {
	r.Stats.TokensGenerated = len(r.Tokens)
	r.Stats.Duration = time.Since(start)
	if r.Stats.Duration.Seconds() > 0 {
		r.Stats.TPS = float64(r.Stats.TokensGenerated) / r.Stats.Duration.Seconds()
	}
}
