package main

import (
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/diegofornalha/specedit/internal/edit"
	"github.com/diegofornalha/specedit/internal/logger"
	"github.com/diegofornalha/specedit/internal/logits"
)

var (
	configFile string
	logLevel   string
	logFormat  string
	debug      bool
)

func globalFlags() []cli.Flag {
	return append([]cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Usage:       "path to a yaml, toml or json config file",
			Sources:     cli.EnvVars(envConfig),
			Destination: &configFile,
		},
	}, loggingFlags()...)
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

func newLogger() (logger.Logger, error) {
	level := logLevel
	if debug {
		level = "debug"
	}
	return logger.ForFormat(os.Stderr, logFormat, level)
}

// decodeOptions holds the flags shared by the generation commands.
type decodeOptions struct {
	prompt        string
	maxTokens     int64
	draftLength   int64
	seed          int64
	temp          float64
	topK          int64
	topP          float64
	minP          float64
	repeatPenalty float64
	repeatLastN   int64
	stopAtEOS     bool

	model      string
	modelSeed  int64
	hidden     int64
	vocab      string
	draft      string
	draftModel string
	cacheTTL   time.Duration

	metricsFile string
	jsonOut     bool
}

func decodeFlags(o *decodeOptions) []cli.Flag {
	def := edit.DefaultConfig()
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "prompt",
			Aliases:     []string{"p"},
			Usage:       "text to continue (defaults to the positional arguments)",
			Destination: &o.prompt,
		},
		&cli.Int64Flag{
			Name:        "max-tokens",
			Aliases:     []string{"n", "max_tokens"},
			Usage:       "maximum number of tokens to generate",
			Value:       int64(def.MaxTokens),
			Destination: &o.maxTokens,
		},
		&cli.Int64Flag{
			Name:        "draft-length",
			Aliases:     []string{"k", "draft_length"},
			Usage:       "tokens drafted per speculative round",
			Value:       int64(def.DraftLength),
			Destination: &o.draftLength,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "sampling RNG seed",
			Destination: &o.seed,
		},
		&cli.Float64Flag{
			Name:        "temp",
			Aliases:     []string{"temperature", "t"},
			Usage:       "sampling temperature (0 = greedy)",
			Value:       float64(def.Sampling.Temperature),
			Destination: &o.temp,
		},
		&cli.Int64Flag{
			Name:        "top-k",
			Aliases:     []string{"top_k", "topk"},
			Usage:       "top-k sampling parameter",
			Value:       int64(def.Sampling.TopK),
			Destination: &o.topK,
		},
		&cli.Float64Flag{
			Name:        "top-p",
			Aliases:     []string{"top_p", "topp"},
			Usage:       "top_p sampling parameter",
			Value:       float64(def.Sampling.TopP),
			Destination: &o.topP,
		},
		&cli.Float64Flag{
			Name:        "min-p",
			Aliases:     []string{"min_p", "minp"},
			Usage:       "min_p sampling parameter (0.0 = disabled)",
			Destination: &o.minP,
		},
		&cli.Float64Flag{
			Name:        "repeat-penalty",
			Aliases:     []string{"repeat_penalty"},
			Usage:       "repetition penalty (1.0 = disabled)",
			Value:       float64(def.Sampling.RepeatPenalty),
			Destination: &o.repeatPenalty,
		},
		&cli.Int64Flag{
			Name:        "repeat-last-n",
			Aliases:     []string{"repeat_last_n"},
			Usage:       "last n tokens to penalize",
			Value:       int64(def.Sampling.RepeatLastN),
			Destination: &o.repeatLastN,
		},
		&cli.BoolFlag{
			Name:        "stop-at-eos",
			Usage:       "end generation at the tokenizer's end of sequence token",
			Value:       true,
			Destination: &o.stopAtEOS,
		},
		&cli.StringFlag{
			Name:        "model",
			Aliases:     []string{"m"},
			Usage:       "target model: \"toy\" or path to an n-gram model json",
			Value:       modelToy,
			Destination: &o.model,
		},
		&cli.Int64Flag{
			Name:        "model-seed",
			Usage:       "weight seed of the toy target model",
			Value:       1,
			Destination: &o.modelSeed,
		},
		&cli.Int64Flag{
			Name:        "hidden",
			Usage:       "hidden size of toy models",
			Value:       defaultHidden,
			Destination: &o.hidden,
		},
		&cli.StringFlag{
			Name:        "vocab",
			Usage:       "path to a vocabulary json (defaults to the byte tokenizer)",
			Destination: &o.vocab,
		},
		&cli.StringFlag{
			Name:        "draft",
			Aliases:     []string{"d"},
			Usage:       "draft source (lookup, ngram, toy)",
			Value:       draftLookup,
			Destination: &o.draft,
		},
		&cli.StringFlag{
			Name:        "draft-model",
			Usage:       "path to the n-gram model json used by --draft=ngram",
			Destination: &o.draftModel,
		},
		&cli.DurationFlag{
			Name:        "cache-ttl",
			Usage:       "memoize target scores per prefix for this long (0 = disabled)",
			Destination: &o.cacheTTL,
		},
		&cli.StringFlag{
			Name:        "metrics-file",
			Usage:       "write Prometheus metrics in textfile format to this path",
			Destination: &o.metricsFile,
		},
		&cli.BoolFlag{
			Name:        "json",
			Usage:       "print machine-readable json",
			Destination: &o.jsonOut,
		},
	}
}

// editConfig converts the flags into a decoder configuration.
func (o *decodeOptions) editConfig(stopTokens []int) edit.Config {
	cfg := edit.Config{
		MaxTokens:   int(o.maxTokens),
		DraftLength: int(o.draftLength),
		Sampling: logits.SamplerConfig{
			Seed:          o.seed,
			Temperature:   float32(o.temp),
			TopK:          int(o.topK),
			TopP:          float32(o.topP),
			MinP:          float32(o.minP),
			RepeatPenalty: float32(o.repeatPenalty),
			RepeatLastN:   int(o.repeatLastN),
		},
	}
	if o.stopAtEOS {
		cfg.StopTokens = stopTokens
	}
	return cfg
}
