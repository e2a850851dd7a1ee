package edit

import (
	"fmt"
	"slices"
	"strings"

	"github.com/diegofornalha/specedit/internal/logits"
)

// Strategy selects a decoding loop.
type Strategy string

const (
	StrategyVanilla     Strategy = "vanilla"
	StrategySpeculative Strategy = "speculative"
)

// ParseStrategy accepts the strategy names used on the command line.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "vanilla", "naive", "autoregressive":
		return StrategyVanilla, nil
	case "speculative", "spec":
		return StrategySpeculative, nil
	default:
		return "", configErr("strategy", fmt.Sprintf("unknown strategy %q", s))
	}
}

// Config controls one generation call. The same sampling configuration is
// applied to target and draft distributions.
type Config struct {
	// MaxTokens caps the number of newly generated tokens.
	MaxTokens int
	// DraftLength is the number of tokens proposed per speculative round.
	DraftLength int
	Sampling    logits.SamplerConfig
	// StopTokens end generation when produced. They are also exempt from
	// the repetition penalty.
	StopTokens []int
	// Stop is an optional terminal-token predicate checked alongside
	// StopTokens.
	Stop func(token int) bool
	// IncludePrompt makes the editor return prompt plus generated text
	// instead of the generated text alone.
	IncludePrompt bool
}

// DefaultConfig returns the defaults used by the CLI.
func DefaultConfig() Config {
	return Config{
		MaxTokens:   256,
		DraftLength: 8,
		Sampling: logits.SamplerConfig{
			Temperature:   0.8,
			TopK:          40,
			TopP:          0.95,
			RepeatPenalty: 1.0,
			RepeatLastN:   64,
		},
	}
}

func (c Config) validate(strategy Strategy) error {
	if c.MaxTokens < 0 {
		return configErr("max_tokens", fmt.Sprintf("must be >= 0, got %d", c.MaxTokens))
	}
	if strategy == StrategySpeculative && c.DraftLength < 1 {
		return configErr("draft_length", fmt.Sprintf("must be >= 1, got %d", c.DraftLength))
	}
	if c.Sampling.TopP < 0 || c.Sampling.TopP > 1 {
		return configErr("top_p", fmt.Sprintf("must be within [0, 1], got %g", c.Sampling.TopP))
	}
	return nil
}

// terminal reports whether tok ends generation.
func (c Config) terminal(tok int) bool {
	if slices.Contains(c.StopTokens, tok) {
		return true
	}
	return c.Stop != nil && c.Stop(tok)
}
