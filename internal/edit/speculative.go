package edit

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/diegofornalha/specedit/internal/logger"
	"github.com/diegofornalha/specedit/internal/logits"
	"github.com/diegofornalha/specedit/internal/source"
)

// Speculative generates up to cfg.MaxTokens tokens after prompt using draft
// to propose up to cfg.DraftLength tokens per round and target to verify
// them in one batched query. Accepted drafts are kept with probability
// min(1, p/q); the first rejection is replaced by a draw from the residual
// max(0, p-q), so the output follows the same distribution as Vanilla with
// the same target and sampling configuration.
func Speculative(ctx context.Context, target, draft source.Source, prompt []int, cfg Config) (*Result, error) {
	if target == nil {
		return nil, configErr("target", "missing token source")
	}
	if draft == nil {
		return nil, configErr("draft", "missing draft source")
	}
	if err := cfg.validate(StrategySpeculative); err != nil {
		return nil, err
	}
	if err := source.CheckVocab(target, draft); err != nil {
		return nil, &ConfigError{Field: "draft", Reason: "incompatible with target", Err: err}
	}
	if len(prompt) == 0 {
		return nil, ErrEmptyPrompt
	}

	s := &speculator{
		target:  target,
		draft:   draft,
		cfg:     cfg,
		sampler: logits.NewSampler(cfg.Sampling),
		res:     newResult(StrategySpeculative, prompt, cfg.MaxTokens),
		log:     logger.FromContext(ctx),
	}
	tokens := make([]int, len(prompt), len(prompt)+reserve(cfg.MaxTokens))
	copy(tokens, prompt)

	start := time.Now()
	for len(s.res.Tokens) < cfg.MaxTokens && !s.res.Stopped {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		emitted, err := s.round(ctx, tokens)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, emitted...)
		s.res.Tokens = append(s.res.Tokens, emitted...)
	}
	s.res.finish(start)

	s.log.Debug("speculative decode finished",
		"id", s.res.ID,
		"generated", s.res.Stats.TokensGenerated,
		"rounds", s.res.Stats.Rounds,
		"acceptance", s.res.Stats.AcceptanceRate(),
		"stopped", s.res.Stopped,
		"duration", s.res.Stats.Duration,
	)
	return s.res, nil
}

// speculator holds the per-call state of one Speculative run.
type speculator struct {
	target  source.Source
	draft   source.Source
	cfg     Config
	sampler *logits.Sampler
	res     *Result
	log     logger.Logger
}

// proposal is the draft of one round: tokens and the distributions they
// were drawn from.
type proposal struct {
	tokens []int
	dists  []logits.Distribution
}

// round drafts, verifies and resolves one speculative round, returning the
// tokens to append. It always returns at least one token.
func (s *speculator) round(ctx context.Context, tokens []int) ([]int, error) {
	s.res.Stats.Rounds++
	k := min(s.cfg.DraftLength, s.cfg.MaxTokens-len(s.res.Tokens))

	p, seq, err := s.propose(ctx, tokens, k)
	if err != nil {
		return nil, err
	}
	targets, err := s.verify(ctx, seq, len(tokens), len(p.tokens))
	if err != nil {
		return nil, err
	}
	emitted := s.resolve(p, targets)

	s.log.Debug("speculative round",
		"id", s.res.ID,
		"round", s.res.Stats.Rounds,
		"drafted", len(p.tokens),
		"emitted", len(emitted),
	)
	return emitted, nil
}

// propose drafts up to k tokens after tokens. Drafting stops early when the
// draft source has no proposal or drafts a terminal token. The returned
// sequence is tokens followed by the drafted tokens, in fresh storage.
func (s *speculator) propose(ctx context.Context, tokens []int, k int) (proposal, []int, error) {
	p := proposal{
		tokens: make([]int, 0, reserve(k)),
		dists:  make([]logits.Distribution, 0, reserve(k)),
	}
	seq := slices.Grow(slices.Clip(tokens), reserve(k))
	for range k {
		scores, err := queryNext(ctx, s.draft, roleDraft, seq)
		s.res.Stats.DraftCalls++
		if errors.Is(err, source.ErrNoProposal) {
			break
		}
		if err != nil {
			return proposal{}, nil, err
		}
		q := s.sampler.Distribution(scores, seq, s.cfg.StopTokens)
		tok := s.sampler.Draw(q)

		p.tokens = append(p.tokens, tok)
		p.dists = append(p.dists, q)
		seq = append(seq, tok)
		if s.cfg.terminal(tok) {
			break
		}
	}
	s.res.Stats.Drafted += len(p.tokens)
	return p, seq, nil
}

// verify scores every drafted position plus the one after the last draft in
// a single target query and converts the scores into distributions using
// the same sampling configuration as the draft.
func (s *speculator) verify(ctx context.Context, seq []int, ctxLen, drafted int) ([]logits.Distribution, error) {
	scores, err := queryBatch(ctx, s.target, roleTarget, seq, drafted+1)
	s.res.Stats.TargetCalls++
	if err != nil {
		return nil, err
	}
	dists := make([]logits.Distribution, len(scores))
	for i, v := range scores {
		dists[i] = s.sampler.Distribution(v, seq[:ctxLen+i], s.cfg.StopTokens)
	}
	return dists, nil
}

// resolve applies the acceptance test to each drafted token in order. On
// the first rejection it emits a draw from the residual distribution and
// ends the round. When every draft is accepted and the budget allows, it
// emits a bonus token from the last target distribution.
func (s *speculator) resolve(p proposal, targets []logits.Distribution) []int {
	emitted := make([]int, 0, len(p.tokens)+1)
	for i, tok := range p.tokens {
		target, draft := targets[i], p.dists[i]
		if s.sampler.Uniform() < logits.AcceptanceProbability(target, draft, tok) {
			s.res.Stats.Accepted++
			emitted = append(emitted, tok)
			if s.cfg.terminal(tok) {
				s.res.Stopped = true
				return emitted
			}
			continue
		}

		residual, ok := logits.Residual(target, draft)
		if !ok {
			s.res.Stats.Degenerate++
			residual = target
		}
		replacement := s.sampler.Draw(residual)
		s.res.Stats.Resampled++
		emitted = append(emitted, replacement)
		s.res.Stopped = s.cfg.terminal(replacement)
		return emitted
	}

	if len(s.res.Tokens)+len(emitted) < s.cfg.MaxTokens {
		bonus := s.sampler.Draw(targets[len(p.tokens)])
		s.res.Stats.Bonus++
		emitted = append(emitted, bonus)
		s.res.Stopped = s.cfg.terminal(bonus)
	}
	return emitted
}
