// Package equivalence checks that speculative decoding reproduces the
// output distribution of vanilla decoding. It runs both decoders over many
// seeds and compares the resulting token sequence histograms with a
// chi-squared test of homogeneity.
package equivalence

import (
	"cmp"
	"context"
	"fmt"
	"runtime"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/diegofornalha/specedit/internal/edit"
	"github.com/diegofornalha/specedit/internal/logger"
	"github.com/diegofornalha/specedit/internal/source"
)

const (
	defaultAlpha       = 0.01
	defaultMinExpected = 5
	otherKey           = "<other>"
)

// Options configures a comparison.
type Options struct {
	Target source.Source
	Draft  source.Source
	Prompt []int
	// Config is used by both decoders. Run i of vanilla decoding uses seed
	// Sampling.Seed+i; speculative runs use the next Runs seeds.
	Config edit.Config
	Runs   int
	// Concurrency bounds the number of decoder calls in flight. Zero means
	// GOMAXPROCS.
	Concurrency int
	// Alpha is the significance level of the test. Zero means 0.01.
	Alpha float64
	// MinExpected is the smallest expected count a bin may have before it
	// is pooled with other rare sequences. Zero means 5.
	MinExpected float64
}

// Outcome is the number of times each decoder produced one sequence.
type Outcome struct {
	Sequence    string `json:"sequence"`
	Vanilla     int    `json:"vanilla"`
	Speculative int    `json:"speculative"`
}

// Report summarizes a comparison.
type Report struct {
	Runs       int     `json:"runs"`
	Sequences  int     `json:"sequences"`
	Bins       int     `json:"bins"`
	Statistic  float64 `json:"statistic"`
	DF         int     `json:"df"`
	Alpha      float64 `json:"alpha"`
	Critical   float64 `json:"critical"`
	PValue     float64 `json:"p_value"`
	Equivalent bool    `json:"equivalent"`
	// AcceptanceRate is the pooled fraction of drafted tokens accepted
	// across all speculative runs.
	AcceptanceRate float64 `json:"acceptance_rate"`
	// VanillaTargetCalls and SpeculativeTargetCalls count target queries
	// across all runs of each decoder.
	VanillaTargetCalls     int       `json:"vanilla_target_calls"`
	SpeculativeTargetCalls int       `json:"speculative_target_calls"`
	Outcomes               []Outcome `json:"outcomes"`
}

// Run executes the comparison.
func Run(ctx context.Context, opts Options) (*Report, error) {
	if opts.Runs < 1 {
		return nil, &edit.ConfigError{Field: "runs", Reason: fmt.Sprintf("must be >= 1, got %d", opts.Runs)}
	}
	alpha := opts.Alpha
	if alpha == 0 {
		alpha = defaultAlpha
	}
	if alpha <= 0 || alpha >= 1 {
		return nil, &edit.ConfigError{Field: "alpha", Reason: fmt.Sprintf("must be within (0, 1), got %g", alpha)}
	}
	minExpected := opts.MinExpected
	if minExpected <= 0 {
		minExpected = defaultMinExpected
	}
	limit := opts.Concurrency
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}

	log := logger.FromContext(ctx)
	quiet := logger.WithContext(ctx, logger.Discard())

	vanilla := make([]*edit.Result, opts.Runs)
	speculative := make([]*edit.Result, opts.Runs)

	g, gctx := errgroup.WithContext(quiet)
	g.SetLimit(limit)
	for i := range opts.Runs {
		g.Go(func() error {
			cfg := opts.Config
			cfg.Sampling.Seed = opts.Config.Sampling.Seed + int64(i)
			res, err := edit.Vanilla(gctx, opts.Target, opts.Prompt, cfg)
			if err != nil {
				return fmt.Errorf("vanilla run %d: %w", i, err)
			}
			vanilla[i] = res
			return nil
		})
		g.Go(func() error {
			cfg := opts.Config
			cfg.Sampling.Seed = opts.Config.Sampling.Seed + int64(opts.Runs+i)
			res, err := edit.Speculative(gctx, opts.Target, opts.Draft, opts.Prompt, cfg)
			if err != nil {
				return fmt.Errorf("speculative run %d: %w", i, err)
			}
			speculative[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	rep := &Report{Runs: opts.Runs, Alpha: alpha}
	rep.Outcomes = tally(vanilla, speculative)
	rep.Sequences = len(rep.Outcomes)

	var drafted, accepted int
	for i := range opts.Runs {
		rep.VanillaTargetCalls += vanilla[i].Stats.TargetCalls
		rep.SpeculativeTargetCalls += speculative[i].Stats.TargetCalls
		drafted += speculative[i].Stats.Drafted
		accepted += speculative[i].Stats.Accepted
	}
	if drafted > 0 {
		rep.AcceptanceRate = float64(accepted) / float64(drafted)
	}

	bins := pool(rep.Outcomes, minExpected)
	rep.Bins = len(bins)
	rep.Statistic, rep.DF = ChiSquared(bins)
	if rep.DF > 0 {
		rep.Critical = CriticalValue(rep.DF, alpha)
		rep.PValue = PValue(rep.Statistic, rep.DF)
		rep.Equivalent = rep.Statistic <= rep.Critical
	} else {
		rep.PValue = 1
		rep.Equivalent = true
	}

	log.Info("equivalence check finished",
		"runs", rep.Runs,
		"sequences", rep.Sequences,
		"bins", rep.Bins,
		"chi2", rep.Statistic,
		"df", rep.DF,
		"critical", rep.Critical,
		"p", rep.PValue,
		"equivalent", rep.Equivalent,
		"acceptance", rep.AcceptanceRate,
	)
	return rep, nil
}

// tally counts each generated sequence per decoder, most frequent first.
func tally(vanilla, speculative []*edit.Result) []Outcome {
	index := make(map[string]int)
	var out []Outcome
	add := func(res *edit.Result, spec bool) {
		key := sequenceKey(res.Tokens)
		i, ok := index[key]
		if !ok {
			i = len(out)
			index[key] = i
			out = append(out, Outcome{Sequence: key})
		}
		if spec {
			out[i].Speculative++
		} else {
			out[i].Vanilla++
		}
	}
	for _, res := range vanilla {
		add(res, false)
	}
	for _, res := range speculative {
		add(res, true)
	}
	slices.SortStableFunc(out, func(a, b Outcome) int {
		if c := cmp.Compare(b.Vanilla+b.Speculative, a.Vanilla+a.Speculative); c != 0 {
			return c
		}
		return strings.Compare(a.Sequence, b.Sequence)
	})
	return out
}

// pool merges outcomes whose expected count per decoder falls below
// minExpected into a single bin. Outcomes must be sorted by total count,
// most frequent first.
func pool(outcomes []Outcome, minExpected float64) []Outcome {
	bins := make([]Outcome, 0, len(outcomes))
	other := Outcome{Sequence: otherKey}
	for _, o := range outcomes {
		if float64(o.Vanilla+o.Speculative)/2 < minExpected {
			other.Vanilla += o.Vanilla
			other.Speculative += o.Speculative
			continue
		}
		bins = append(bins, o)
	}
	if other.Vanilla+other.Speculative == 0 {
		return bins
	}
	if float64(other.Vanilla+other.Speculative)/2 >= minExpected || len(bins) == 0 {
		return append(bins, other)
	}
	last := &bins[len(bins)-1]
	last.Sequence = otherKey
	last.Vanilla += other.Vanilla
	last.Speculative += other.Speculative
	return bins
}

func sequenceKey(tokens []int) string {
	var b strings.Builder
	for i, tok := range tokens {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(strconv.Itoa(tok))
	}
	return b.String()
}
