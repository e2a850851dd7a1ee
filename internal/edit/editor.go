package edit

import (
	"context"
	"fmt"
	"slices"

	"github.com/diegofornalha/specedit/internal/logger"
	"github.com/diegofornalha/specedit/internal/source"
	"github.com/diegofornalha/specedit/internal/tokenizer"
)

// Observer receives the result of every completed edit.
type Observer interface {
	ObserveEdit(res *Result)
}

// Edit is the text-level outcome of an Editor call.
type Edit struct {
	*Result
	Text string
}

// Editor owns the model handles both entry points share. It keeps no
// per-call state: the decoding context and random generator live inside each
// call, so one Editor may serve concurrent calls when its sources allow it.
type Editor struct {
	target   source.Source
	draft    source.Source
	tok      tokenizer.Tokenizer
	cfg      Config
	log      logger.Logger
	observer Observer
}

// Option configures an Editor.
type Option func(*Editor)

// WithDraft sets the draft source used by SpeculativeEdit.
func WithDraft(draft source.Source) Option {
	return func(e *Editor) { e.draft = draft }
}

// WithConfig replaces the default configuration. MaxTokens is overridden by
// the per-call argument of VanillaEdit and SpeculativeEdit.
func WithConfig(cfg Config) Option {
	return func(e *Editor) { e.cfg = cfg }
}

// WithLogger sets the logger. Without it, the logger carried by the call
// context is used.
func WithLogger(l logger.Logger) Option {
	return func(e *Editor) { e.log = l }
}

// WithObserver registers an observer, such as a metrics collector.
func WithObserver(o Observer) Option {
	return func(e *Editor) { e.observer = o }
}

// NewEditor builds an Editor around a target source and tokenizer.
func NewEditor(target source.Source, tok tokenizer.Tokenizer, opts ...Option) (*Editor, error) {
	if target == nil {
		return nil, configErr("target", "missing token source")
	}
	if tok == nil {
		return nil, configErr("tokenizer", "missing tokenizer")
	}
	e := &Editor{
		target: target,
		tok:    tok,
		cfg:    DefaultConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.draft != nil {
		if err := source.CheckVocab(target, e.draft); err != nil {
			return nil, &ConfigError{Field: "draft", Reason: "incompatible with target", Err: err}
		}
	}
	return e, nil
}

// Config returns the editor's configuration.
func (e *Editor) Config() Config { return e.cfg }

// VanillaEdit generates up to maxTokens tokens after prompt with plain
// autoregressive sampling and returns the decoded text.
func (e *Editor) VanillaEdit(ctx context.Context, prompt string, maxTokens int) (*Edit, error) {
	cfg := e.cfg
	cfg.MaxTokens = maxTokens
	return e.Run(ctx, StrategyVanilla, prompt, cfg)
}

// SpeculativeEdit generates up to maxTokens tokens after prompt with
// speculative decoding and returns the decoded text.
func (e *Editor) SpeculativeEdit(ctx context.Context, prompt string, maxTokens int) (*Edit, error) {
	cfg := e.cfg
	cfg.MaxTokens = maxTokens
	return e.Run(ctx, StrategySpeculative, prompt, cfg)
}

// Run executes one edit with an explicit strategy and configuration.
func (e *Editor) Run(ctx context.Context, strategy Strategy, prompt string, cfg Config) (*Edit, error) {
	if err := cfg.validate(strategy); err != nil {
		return nil, err
	}
	if strategy == StrategySpeculative && e.draft == nil {
		return nil, configErr("draft", "speculative edit requires a draft source")
	}

	log := e.log
	if log == nil {
		log = logger.FromContext(ctx)
	}
	ctx = logger.WithContext(ctx, log)

	ids, err := safeEncode(e.tok, prompt)
	if err != nil {
		return nil, fmt.Errorf("encode prompt: %w", err)
	}
	if len(ids) == 0 {
		return nil, ErrEmptyPrompt
	}

	var res *Result
	switch strategy {
	case StrategyVanilla:
		res, err = Vanilla(ctx, e.target, ids, cfg)
	case StrategySpeculative:
		res, err = Speculative(ctx, e.target, e.draft, ids, cfg)
	default:
		return nil, configErr("strategy", fmt.Sprintf("unknown strategy %q", strategy))
	}
	if err != nil {
		log.Error("edit failed", "strategy", strategy, "error", err)
		return nil, err
	}

	out := res.TextTokens()
	if cfg.IncludePrompt {
		out = slices.Concat(res.Prompt, out)
	}
	text, err := safeDecode(e.tok, out)
	if err != nil {
		return nil, fmt.Errorf("decode output: %w", err)
	}

	log.Info("edit complete",
		"id", res.ID,
		"strategy", strategy,
		"prompt_tokens", len(ids),
		"generated", res.Stats.TokensGenerated,
		"tps", res.Stats.TPS,
	)
	if e.observer != nil {
		e.observer.ObserveEdit(res)
	}
	return &Edit{Result: res, Text: text}, nil
}

func safeEncode(tok tokenizer.Tokenizer, prompt string) (ids []int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in Encode: %v", rec)
		}
	}()
	return tok.Encode(prompt)
}

func safeDecode(tok tokenizer.Tokenizer, ids []int) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in Decode: %v", rec)
		}
	}()
	return tok.Decode(ids)
}
