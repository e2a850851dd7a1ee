package edit

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/diegofornalha/specedit/internal/logits"
	"github.com/diegofornalha/specedit/internal/ngram"
	"github.com/diegofornalha/specedit/internal/source"
	"github.com/diegofornalha/specedit/internal/toy"
)

const testVocab = 8

var testPrompt = []int{1, 4, 2}

func testConfig(maxTokens int, seed int64) Config {
	cfg := DefaultConfig()
	cfg.MaxTokens = maxTokens
	cfg.DraftLength = 4
	cfg.Sampling = logits.SamplerConfig{Seed: seed, Temperature: 1}
	return cfg
}

func toyPair() (*toy.ToyLM, *toy.ToyLM) {
	return toy.NewToyLM(testVocab, 6, 0, 1), toy.NewToyLM(testVocab, 6, 0, 2)
}

func TestLengthBound(t *testing.T) {
	t.Parallel()
	target, draft := toyPair()
	for _, maxTokens := range []int{0, 1, 2, 5, 17} {
		cfg := testConfig(maxTokens, 3)
		v, err := Vanilla(context.Background(), target, testPrompt, cfg)
		if err != nil {
			t.Fatalf("Vanilla(max=%d): %v", maxTokens, err)
		}
		s, err := Speculative(context.Background(), target, draft, testPrompt, cfg)
		if err != nil {
			t.Fatalf("Speculative(max=%d): %v", maxTokens, err)
		}
		if len(v.Tokens) != maxTokens || len(s.Tokens) != maxTokens {
			t.Fatalf("max=%d: vanilla emitted %d, speculative emitted %d", maxTokens, len(v.Tokens), len(s.Tokens))
		}
	}
}

func TestEarlyStopOnTerminalToken(t *testing.T) {
	t.Parallel()
	target := scriptedSource{vocab: testVocab}
	cfg := testConfig(10, 1)
	cfg.StopTokens = []int{5}
	want := []int{3, 4, 5}

	v, err := Vanilla(context.Background(), target, testPrompt, cfg)
	if err != nil {
		t.Fatalf("Vanilla: %v", err)
	}
	if !reflect.DeepEqual(v.Tokens, want) || !v.Stopped {
		t.Fatalf("vanilla: got %v stopped=%v, want %v", v.Tokens, v.Stopped, want)
	}

	for name, draft := range map[string]source.Source{
		"matching-draft": scriptedSource{vocab: testVocab},
		"no-proposal":    noProposalSource{vocab: testVocab},
		"toy-draft":      toy.NewToyLM(testVocab, 6, 0, 9),
	} {
		s, err := Speculative(context.Background(), target, draft, testPrompt, cfg)
		if err != nil {
			t.Fatalf("%s: Speculative: %v", name, err)
		}
		if !reflect.DeepEqual(s.Tokens, want) || !s.Stopped {
			t.Fatalf("%s: got %v stopped=%v, want %v", name, s.Tokens, s.Stopped, want)
		}
		if !reflect.DeepEqual(s.TextTokens(), want[:2]) {
			t.Fatalf("%s: text tokens %v should exclude the terminal token", name, s.TextTokens())
		}
	}
}

func TestUnboundedBudgetStopsOnTerminalToken(t *testing.T) {
	t.Parallel()
	target := scriptedSource{vocab: testVocab}
	want := []int{1, 2}

	for _, maxTokens := range []int{math.MaxInt, math.MaxInt / 1024} {
		cfg := testConfig(maxTokens, 1)
		cfg.StopTokens = []int{2}

		v, err := Vanilla(context.Background(), target, []int{1}, cfg)
		if err != nil {
			t.Fatalf("Vanilla(max=%d): %v", maxTokens, err)
		}
		if !reflect.DeepEqual(v.Tokens, want) || !v.Stopped {
			t.Fatalf("vanilla(max=%d): got %v stopped=%v, want %v", maxTokens, v.Tokens, v.Stopped, want)
		}

		// The matching draft proposes the terminal token itself, which ends
		// drafting however long the draft length is.
		for _, tc := range []struct {
			name        string
			draft       source.Source
			draftLength int
		}{
			{name: "matching-draft", draft: scriptedSource{vocab: testVocab}, draftLength: 4},
			{name: "matching-draft-unbounded", draft: scriptedSource{vocab: testVocab}, draftLength: math.MaxInt},
			{name: "toy-draft", draft: toy.NewToyLM(testVocab, 6, 0, 9), draftLength: 4},
		} {
			cfg.DraftLength = tc.draftLength
			s, err := Speculative(context.Background(), target, tc.draft, []int{1}, cfg)
			if err != nil {
				t.Fatalf("%s(max=%d): Speculative: %v", tc.name, maxTokens, err)
			}
			if !reflect.DeepEqual(s.Tokens, want) || !s.Stopped {
				t.Fatalf("%s(max=%d): got %v stopped=%v, want %v", tc.name, maxTokens, s.Tokens, s.Stopped, want)
			}
		}
	}
}

func TestStopPredicate(t *testing.T) {
	t.Parallel()
	cfg := testConfig(10, 1)
	cfg.Stop = func(tok int) bool { return tok == 6 }
	res, err := Vanilla(context.Background(), scriptedSource{vocab: testVocab}, testPrompt, cfg)
	if err != nil {
		t.Fatalf("Vanilla: %v", err)
	}
	if !reflect.DeepEqual(res.Tokens, []int{3, 4, 5, 6}) {
		t.Fatalf("got %v", res.Tokens)
	}
}

func TestDeterminism(t *testing.T) {
	t.Parallel()
	target, draft := toyPair()
	cfg := testConfig(12, 42)

	v1, _ := Vanilla(context.Background(), target, testPrompt, cfg)
	v2, _ := Vanilla(context.Background(), target, testPrompt, cfg)
	if !reflect.DeepEqual(v1.Tokens, v2.Tokens) {
		t.Fatalf("vanilla not deterministic: %v vs %v", v1.Tokens, v2.Tokens)
	}
	s1, _ := Speculative(context.Background(), target, draft, testPrompt, cfg)
	s2, _ := Speculative(context.Background(), target, draft, testPrompt, cfg)
	if !reflect.DeepEqual(s1.Tokens, s2.Tokens) {
		t.Fatalf("speculative not deterministic: %v vs %v", s1.Tokens, s2.Tokens)
	}
	if s1.Stats.Drafted != s2.Stats.Drafted || s1.Stats.Accepted != s2.Stats.Accepted {
		t.Fatalf("speculative stats differ: %+v vs %+v", s1.Stats, s2.Stats)
	}
}

func TestGreedySpeculativeMatchesVanilla(t *testing.T) {
	t.Parallel()
	target, draft := toyPair()
	cfg := testConfig(24, 0)
	cfg.Sampling.Temperature = 0

	v, err := Vanilla(context.Background(), target, testPrompt, cfg)
	if err != nil {
		t.Fatalf("Vanilla: %v", err)
	}
	for name, d := range map[string]source.Source{
		"toy":    draft,
		"lookup": ngram.NewLookup(testVocab, 1, 3),
		"self":   target,
	} {
		s, err := Speculative(context.Background(), target, d, testPrompt, cfg)
		if err != nil {
			t.Fatalf("%s: Speculative: %v", name, err)
		}
		if !reflect.DeepEqual(v.Tokens, s.Tokens) {
			t.Fatalf("%s: greedy outputs differ:\nvanilla     %v\nspeculative %v", name, v.Tokens, s.Tokens)
		}
	}
}

func TestSelfDraftAcceptsEverything(t *testing.T) {
	t.Parallel()
	target, _ := toyPair()
	cfg := testConfig(20, 8)
	res, err := Speculative(context.Background(), target, target, testPrompt, cfg)
	if err != nil {
		t.Fatalf("Speculative: %v", err)
	}
	if res.Stats.Accepted != res.Stats.Drafted || res.Stats.Resampled != 0 {
		t.Fatalf("identical draft should always be accepted: %+v", res.Stats)
	}
	// 20 tokens in rounds of 4 drafts + 1 bonus.
	if res.Stats.Rounds != 4 {
		t.Fatalf("expected 4 rounds, got %d", res.Stats.Rounds)
	}
}

func TestProgressEveryRound(t *testing.T) {
	t.Parallel()
	target, draft := toyPair()
	for name, d := range map[string]source.Source{
		"no-proposal": noProposalSource{vocab: testVocab},
		"toy":         draft,
	} {
		res, err := Speculative(context.Background(), target, d, testPrompt, testConfig(15, 5))
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if res.Stats.Rounds == 0 || res.Stats.Rounds > res.Stats.TokensGenerated {
			t.Fatalf("%s: %d rounds for %d tokens", name, res.Stats.Rounds, res.Stats.TokensGenerated)
		}
		st := res.Stats
		if st.Accepted+st.Resampled+st.Bonus != st.TokensGenerated {
			t.Fatalf("%s: token accounting off: %+v", name, st)
		}
	}

	res, _ := Speculative(context.Background(), target, noProposalSource{vocab: testVocab}, testPrompt, testConfig(6, 1))
	if res.Stats.Rounds != 6 || res.Stats.Bonus != 6 || res.Stats.Drafted != 0 {
		t.Fatalf("empty drafts should emit one target token per round: %+v", res.Stats)
	}
}

func TestDraftLengthTruncatedToBudget(t *testing.T) {
	t.Parallel()
	target, other := toyPair()
	cfg := testConfig(3, 11)
	cfg.DraftLength = 8

	// A draft identical to the target is always accepted, so one round
	// covers the whole budget.
	draft := &countingSource{Source: target}
	verifier := &countingSource{Source: target}
	res, err := Speculative(context.Background(), verifier, draft, testPrompt, cfg)
	if err != nil {
		t.Fatalf("Speculative: %v", err)
	}
	if len(res.Tokens) != 3 || res.Stats.Rounds != 1 {
		t.Fatalf("expected 3 tokens in one round, got %v in %d rounds", res.Tokens, res.Stats.Rounds)
	}
	if draft.nextCalls != 3 || res.Stats.Drafted != 3 {
		t.Fatalf("drafted beyond the budget: calls=%d drafted=%d", draft.nextCalls, res.Stats.Drafted)
	}
	if verifier.maxPositions != 4 || verifier.nextCalls != 0 {
		t.Fatalf("expected one batched query of 4 positions, got max=%d next=%d", verifier.maxPositions, verifier.nextCalls)
	}

	verifier = &countingSource{Source: target}
	res, err = Speculative(context.Background(), verifier, other, testPrompt, cfg)
	if err != nil {
		t.Fatalf("Speculative: %v", err)
	}
	if len(res.Tokens) != 3 || verifier.maxPositions > 4 {
		t.Fatalf("got %d tokens, widest verification %d positions", len(res.Tokens), verifier.maxPositions)
	}
}

func TestBonusSkippedAtBudget(t *testing.T) {
	t.Parallel()
	target, _ := toyPair()
	cfg := testConfig(4, 2)
	cfg.DraftLength = 4
	res, err := Speculative(context.Background(), target, target, testPrompt, cfg)
	if err != nil {
		t.Fatalf("Speculative: %v", err)
	}
	if res.Stats.Rounds != 1 || res.Stats.Bonus != 0 || len(res.Tokens) != 4 {
		t.Fatalf("expected one round of 4 accepted drafts and no bonus: %+v", res.Stats)
	}
}

// TestSpeculativeFirstTokenMarginal compares the empirical distribution of
// the first generated token with the target distribution it must follow.
func TestSpeculativeFirstTokenMarginal(t *testing.T) {
	t.Parallel()
	target, draft := toyPair()
	scores, err := target.Next(context.Background(), testPrompt)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	want := logits.NewSampler(logits.SamplerConfig{Temperature: 1}).Distribution(scores, testPrompt, nil)

	const runs = 4000
	counts := make([]int, testVocab)
	for seed := range int64(runs) {
		res, err := Speculative(context.Background(), target, draft, testPrompt, testConfig(2, seed))
		if err != nil {
			t.Fatalf("seed %d: %v", seed, err)
		}
		counts[res.Tokens[0]]++
	}
	for id, p := range want {
		got := float64(counts[id]) / runs
		if math.Abs(got-p) > 0.03 {
			t.Fatalf("token %d: frequency %.4f, target probability %.4f", id, got, p)
		}
	}
}

func TestConfigurationErrorsBeforeAnyQuery(t *testing.T) {
	t.Parallel()
	target, d := toyPair()
	cases := []struct {
		name  string
		draft source.Source
		cfg   func(*Config)
	}{
		{name: "negative-max-tokens", draft: d, cfg: func(c *Config) { c.MaxTokens = -1 }},
		{name: "zero-draft-length", draft: d, cfg: func(c *Config) { c.DraftLength = 0 }},
		{name: "missing-draft", draft: nil, cfg: func(*Config) {}},
		{name: "vocab-mismatch", draft: toy.NewToyLM(testVocab+1, 4, 0, 3), cfg: func(*Config) {}},
		{name: "bad-top-p", draft: d, cfg: func(c *Config) { c.Sampling.TopP = 1.5 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			counted := &countingSource{Source: target}
			cfg := testConfig(4, 1)
			tc.cfg(&cfg)
			var draft source.Source
			if tc.draft != nil {
				draft = &countingSource{Source: tc.draft}
			}
			_, err := Speculative(context.Background(), counted, draft, testPrompt, cfg)
			if !errors.Is(err, ErrConfiguration) {
				t.Fatalf("expected ErrConfiguration, got %v", err)
			}
			var cerr *ConfigError
			if !errors.As(err, &cerr) || cerr.Field == "" {
				t.Fatalf("expected *ConfigError with a field, got %T", err)
			}
			if counted.calls() != 0 {
				t.Fatalf("target queried %d times before failing", counted.calls())
			}
		})
	}

	if _, err := Vanilla(context.Background(), target, testPrompt, Config{MaxTokens: -3}); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("vanilla: expected ErrConfiguration, got %v", err)
	}
	_, err := Speculative(context.Background(), target, toy.NewToyLM(3, 2, 0, 1), testPrompt, testConfig(2, 1))
	if !errors.Is(err, source.ErrVocabMismatch) {
		t.Fatalf("expected vocab mismatch cause, got %v", err)
	}
}

func TestEmptyPrompt(t *testing.T) {
	t.Parallel()
	target, draft := toyPair()
	if _, err := Vanilla(context.Background(), target, nil, testConfig(2, 1)); !errors.Is(err, ErrEmptyPrompt) {
		t.Fatalf("vanilla: expected ErrEmptyPrompt, got %v", err)
	}
	if _, err := Speculative(context.Background(), target, draft, []int{}, testConfig(2, 1)); !errors.Is(err, ErrEmptyPrompt) {
		t.Fatalf("speculative: expected ErrEmptyPrompt, got %v", err)
	}
}

func TestModelQueryFailurePropagates(t *testing.T) {
	t.Parallel()
	target, draft := toyPair()
	overflow := func(after int) *failingSource {
		return &failingSource{Source: target, failAfter: after, err: source.ErrContextOverflow}
	}

	_, err := Vanilla(context.Background(), overflow(2), testPrompt, testConfig(10, 1))
	assertQueryFailure(t, "vanilla", err, roleTarget)

	_, err = Speculative(context.Background(), overflow(1), draft, testPrompt, testConfig(10, 1))
	assertQueryFailure(t, "speculative-target", err, roleTarget)

	failingDraft := &failingSource{Source: draft, failAfter: 2, err: source.ErrContextOverflow}
	_, err = Speculative(context.Background(), target, failingDraft, testPrompt, testConfig(10, 1))
	assertQueryFailure(t, "speculative-draft", err, roleDraft)
}

func assertQueryFailure(t *testing.T, name string, err error, role string) {
	t.Helper()
	if !errors.Is(err, ErrModelQuery) {
		t.Fatalf("%s: expected ErrModelQuery, got %v", name, err)
	}
	if !errors.Is(err, source.ErrContextOverflow) {
		t.Fatalf("%s: expected cause to be preserved, got %v", name, err)
	}
	var qerr *QueryError
	if !errors.As(err, &qerr) || qerr.Source != role {
		t.Fatalf("%s: expected *QueryError from %s, got %v", name, role, err)
	}
}

func TestPanickingSourceBecomesQueryFailure(t *testing.T) {
	t.Parallel()
	_, err := Vanilla(context.Background(), panicSource{vocab: testVocab}, testPrompt, testConfig(2, 1))
	if !errors.Is(err, ErrModelQuery) {
		t.Fatalf("expected ErrModelQuery, got %v", err)
	}
	target, _ := toyPair()
	_, err = Speculative(context.Background(), panicSource{vocab: testVocab}, target, testPrompt, testConfig(2, 1))
	if !errors.Is(err, ErrModelQuery) {
		t.Fatalf("expected ErrModelQuery from batch panic, got %v", err)
	}
}

func TestWrongSizedScoresRejected(t *testing.T) {
	t.Parallel()
	_, err := Vanilla(context.Background(), shortSource{vocab: testVocab}, testPrompt, testConfig(2, 1))
	if !errors.Is(err, ErrModelQuery) {
		t.Fatalf("expected ErrModelQuery, got %v", err)
	}
}

func TestCancelledContext(t *testing.T) {
	t.Parallel()
	target, draft := toyPair()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Vanilla(ctx, target, testPrompt, testConfig(3, 1)); !errors.Is(err, context.Canceled) {
		t.Fatalf("vanilla: expected context.Canceled, got %v", err)
	}
	if _, err := Speculative(ctx, target, draft, testPrompt, testConfig(3, 1)); !errors.Is(err, context.Canceled) {
		t.Fatalf("speculative: expected context.Canceled, got %v", err)
	}
}

func TestPromptNotModified(t *testing.T) {
	t.Parallel()
	target, draft := toyPair()
	prompt := make([]int, 3, 64)
	copy(prompt, testPrompt)
	if _, err := Speculative(context.Background(), target, draft, prompt, testConfig(10, 4)); err != nil {
		t.Fatalf("Speculative: %v", err)
	}
	if _, err := Vanilla(context.Background(), target, prompt, testConfig(10, 4)); err != nil {
		t.Fatalf("Vanilla: %v", err)
	}
	if !reflect.DeepEqual(prompt[:4], []int{1, 4, 2, 0}) {
		t.Fatalf("prompt storage was written: %v", prompt[:4])
	}
}
