package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/diegofornalha/specedit/internal/edit"
	"github.com/diegofornalha/specedit/internal/logger"
	"github.com/diegofornalha/specedit/internal/metrics"
)

func generateCmd(strategy edit.Strategy) *cli.Command {
	var (
		o             decodeOptions
		includePrompt bool
	)
	usage := "Generate a continuation one target query per token"
	if strategy == edit.StrategySpeculative {
		usage = "Generate a continuation with draft-then-verify speculative decoding"
	}

	return &cli.Command{
		Name:      string(strategy),
		Usage:     usage,
		ArgsUsage: "[prompt]",
		Flags: append(decodeFlags(&o), &cli.BoolFlag{
			Name:        "include-prompt",
			Usage:       "print the prompt followed by the generated text",
			Destination: &includePrompt,
		}),
		Action: func(ctx context.Context, c *cli.Command) error {
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
			target, err := loadTarget(&o, vocab)
			if err != nil {
				return err
			}
			target, release := maybeCache(target, &o)
			defer release()

			cfg := o.editConfig(stop)
			cfg.IncludePrompt = includePrompt
			opts := []edit.Option{edit.WithConfig(cfg), edit.WithLogger(log)}
			if strategy == edit.StrategySpeculative {
				draft, err := loadDraft(&o, vocab)
				if err != nil {
					return err
				}
				opts = append(opts, edit.WithDraft(draft))
			}
			var collector *metrics.Collector
			if o.metricsFile != "" {
				collector = metrics.New()
				opts = append(opts, edit.WithObserver(collector))
			}

			ed, err := edit.NewEditor(target, tok, opts...)
			if err != nil {
				return err
			}
			out, err := ed.Run(ctx, strategy, prompt, cfg)
			if err != nil {
				return err
			}
			if collector != nil {
				if err := collector.WriteTextfile(o.metricsFile); err != nil {
					return fmt.Errorf("write metrics: %w", err)
				}
			}

			if o.jsonOut {
				return writeJSON(os.Stdout, newEditOutput(out))
			}
			_, _ = fmt.Fprintln(os.Stdout, out.Text)
			printStats(os.Stderr, out.Result)
			return nil
		},
	}
}

type statsOutput struct {
	TokensGenerated int     `json:"tokens_generated"`
	TargetCalls     int     `json:"target_calls"`
	DraftCalls      int     `json:"draft_calls,omitempty"`
	Rounds          int     `json:"rounds,omitempty"`
	Drafted         int     `json:"drafted,omitempty"`
	Accepted        int     `json:"accepted,omitempty"`
	Resampled       int     `json:"resampled,omitempty"`
	Bonus           int     `json:"bonus,omitempty"`
	Degenerate      int     `json:"degenerate,omitempty"`
	AcceptanceRate  float64 `json:"acceptance_rate,omitempty"`
	DurationMS      float64 `json:"duration_ms"`
	TPS             float64 `json:"tps"`
}

type editOutput struct {
	ID       string      `json:"id"`
	Strategy string      `json:"strategy"`
	Text     string      `json:"text"`
	Tokens   []int       `json:"tokens"`
	Stopped  bool        `json:"stopped"`
	Stats    statsOutput `json:"stats"`
}

func newEditOutput(e *edit.Edit) editOutput {
	st := e.Stats
	return editOutput{
		ID:       e.ID,
		Strategy: string(e.Strategy),
		Text:     e.Text,
		Tokens:   e.Tokens,
		Stopped:  e.Stopped,
		Stats: statsOutput{
			TokensGenerated: st.TokensGenerated,
			TargetCalls:     st.TargetCalls,
			DraftCalls:      st.DraftCalls,
			Rounds:          st.Rounds,
			Drafted:         st.Drafted,
			Accepted:        st.Accepted,
			Resampled:       st.Resampled,
			Bonus:           st.Bonus,
			Degenerate:      st.Degenerate,
			AcceptanceRate:  st.AcceptanceRate(),
			DurationMS:      float64(st.Duration.Microseconds()) / 1000,
			TPS:             st.TPS,
		},
	}
}

func printStats(w io.Writer, res *edit.Result) {
	st := res.Stats
	_, _ = fmt.Fprintf(w, "\n%s: %d tokens, %d target calls, %.2f tok/s\n",
		res.Strategy, st.TokensGenerated, st.TargetCalls, st.TPS)
	if res.Strategy == edit.StrategySpeculative {
		_, _ = fmt.Fprintf(w, "rounds: %d, drafted: %d, accepted: %d (%.1f%%), %.2f tokens/round\n",
			st.Rounds, st.Drafted, st.Accepted, 100*st.AcceptanceRate(), st.TokensPerRound())
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
