package edit

import (
	"context"
	"time"

	"github.com/diegofornalha/specedit/internal/logger"
	"github.com/diegofornalha/specedit/internal/logits"
	"github.com/diegofornalha/specedit/internal/source"
)

// Vanilla generates up to cfg.MaxTokens tokens after prompt, one target
// query per token. The prompt slice is not modified.
func Vanilla(ctx context.Context, target source.Source, prompt []int, cfg Config) (*Result, error) {
	if target == nil {
		return nil, configErr("target", "missing token source")
	}
	if err := cfg.validate(StrategyVanilla); err != nil {
		return nil, err
	}
	if len(prompt) == 0 {
		return nil, ErrEmptyPrompt
	}

	log := logger.FromContext(ctx)
	sampler := logits.NewSampler(cfg.Sampling)
	res := newResult(StrategyVanilla, prompt, cfg.MaxTokens)
	tokens := make([]int, len(prompt), len(prompt)+reserve(cfg.MaxTokens))
	copy(tokens, prompt)

	start := time.Now()
	for len(res.Tokens) < cfg.MaxTokens {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		scores, err := queryNext(ctx, target, roleTarget, tokens)
		res.Stats.TargetCalls++
		if err != nil {
			return nil, err
		}
		next := sampler.Sample(scores, tokens, cfg.StopTokens)

		tokens = append(tokens, next)
		res.Tokens = append(res.Tokens, next)
		if cfg.terminal(next) {
			res.Stopped = true
			break
		}
	}
	res.finish(start)

	log.Debug("vanilla decode finished",
		"id", res.ID,
		"generated", res.Stats.TokensGenerated,
		"stopped", res.Stopped,
		"duration", res.Stats.Duration,
	)
	return res, nil
}
