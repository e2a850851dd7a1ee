package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/diegofornalha/specedit/internal/edit"
	"github.com/diegofornalha/specedit/internal/equivalence"
	"github.com/diegofornalha/specedit/internal/logger"
)

const compareTopOutcomes = 10

func compareCmd() *cli.Command {
	var (
		o           decodeOptions
		runs        int64
		alpha       float64
		concurrency int64
	)

	flags := decodeFlags(&o)
	flags = append(flags,
		&cli.Int64Flag{
			Name:        "runs",
			Usage:       "number of seeded runs per decoder",
			Value:       1000,
			Destination: &runs,
		},
		&cli.Float64Flag{
			Name:        "alpha",
			Usage:       "significance level of the chi-squared test",
			Value:       0.01,
			Destination: &alpha,
		},
		&cli.Int64Flag{
			Name:        "concurrency",
			Aliases:     []string{"j"},
			Usage:       "decoder calls in flight (0 = GOMAXPROCS)",
			Destination: &concurrency,
		},
	)

	return &cli.Command{
		Name:      "compare",
		Usage:     "Check that speculative and vanilla decoding sample the same distribution",
		ArgsUsage: "[prompt]",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			// Short generations keep the sequence histogram dense.
			if !c.IsSet("max-tokens") {
				o.maxTokens = 5
			}
			log, err := setup(c, &o)
			if err != nil {
				return err
			}
			ctx = logger.WithContext(ctx, log)

			prompt := o.prompt
			if prompt == "" {
				prompt = strings.Join(c.Args().Slice(), " ")
			}
			tok, vocab, stop, err := loadTokenizer(o.vocab)
			if err != nil {
				return err
			}
			ids, err := tok.Encode(prompt)
			if err != nil {
				return fmt.Errorf("encode prompt: %w", err)
			}
			if len(ids) == 0 {
				return edit.ErrEmptyPrompt
			}

			target, err := loadTarget(&o, vocab)
			if err != nil {
				return err
			}
			target, release := maybeCache(target, &o)
			defer release()
			draft, err := loadDraft(&o, vocab)
			if err != nil {
				return err
			}

			rep, err := equivalence.Run(ctx, equivalence.Options{
				Target:      target,
				Draft:       draft,
				Prompt:      ids,
				Config:      o.editConfig(stop),
				Runs:        int(runs),
				Concurrency: int(concurrency),
				Alpha:       alpha,
			})
			if err != nil {
				return err
			}
			if o.jsonOut {
				return writeJSON(os.Stdout, rep)
			}
			printReport(os.Stdout, rep)
			if !rep.Equivalent {
				return fmt.Errorf("distributions differ: chi2 %.3f > %.3f", rep.Statistic, rep.Critical)
			}
			return nil
		},
	}
}

func printReport(w io.Writer, rep *equivalence.Report) {
	_, _ = fmt.Fprintf(w, "runs per decoder:  %d\n", rep.Runs)
	_, _ = fmt.Fprintf(w, "distinct outputs:  %d (%d bins)\n", rep.Sequences, rep.Bins)
	_, _ = fmt.Fprintf(w, "chi-squared:       %.3f (df=%d, critical %.3f at alpha=%g, p=%.4g)\n",
		rep.Statistic, rep.DF, rep.Critical, rep.Alpha, rep.PValue)
	_, _ = fmt.Fprintf(w, "equivalent:        %v\n", rep.Equivalent)
	_, _ = fmt.Fprintf(w, "acceptance rate:   %.3f\n", rep.AcceptanceRate)
	_, _ = fmt.Fprintf(w, "target calls:      vanilla %d, speculative %d\n",
		rep.VanillaTargetCalls, rep.SpeculativeTargetCalls)

	_, _ = fmt.Fprintf(w, "\n%-32s %8s %12s\n", "tokens", "vanilla", "speculative")
	for i, out := range rep.Outcomes {
		if i == compareTopOutcomes {
			_, _ = fmt.Fprintf(w, "... %d more\n", len(rep.Outcomes)-i)
			break
		}
		_, _ = fmt.Fprintf(w, "%-32s %8d %12d\n", out.Sequence, out.Vanilla, out.Speculative)
	}
}
