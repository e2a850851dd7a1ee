package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/diegofornalha/specedit/internal/logger"
	"github.com/diegofornalha/specedit/internal/ngram"
)

func trainCmd() *cli.Command {
	var (
		input  string
		output string
		vocab  string
		order  int64
		alpha  float64
	)

	return &cli.Command{
		Name:  "train",
		Usage: "Train an n-gram model from a text file",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "input",
				Aliases:     []string{"i"},
				Usage:       "text file to count",
				Required:    true,
				Destination: &input,
			},
			&cli.StringFlag{
				Name:        "output",
				Aliases:     []string{"o"},
				Usage:       "where to write the model json",
				Value:       "ngram.json",
				Destination: &output,
			},
			&cli.StringFlag{
				Name:        "vocab",
				Usage:       "path to a vocabulary json (defaults to the byte tokenizer)",
				Destination: &vocab,
			},
			&cli.Int64Flag{
				Name:        "order",
				Usage:       "n-gram order",
				Value:       3,
				Destination: &order,
			},
			&cli.Float64Flag{
				Name:        "alpha",
				Usage:       "additive smoothing",
				Value:       0.1,
				Destination: &alpha,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			log, err := setup(c, nil)
			if err != nil {
				return err
			}
			ctx = logger.WithContext(ctx, log)
			return train(ctx, input, output, vocab, int(order), alpha)
		},
	}
}

func train(ctx context.Context, input, output, vocabPath string, order int, alpha float64) error {
	log := logger.FromContext(ctx)

	text, err := os.ReadFile(input)
	if err != nil {
		return fmt.Errorf("read training text: %w", err)
	}
	tok, vocab, _, err := loadTokenizer(vocabPath)
	if err != nil {
		return err
	}
	ids, err := tok.Encode(string(text))
	if err != nil {
		return fmt.Errorf("encode training text: %w", err)
	}
	m, err := ngram.Train(ids, order, vocab, alpha)
	if err != nil {
		return err
	}
	if err := m.SaveFile(output); err != nil {
		return err
	}
	log.Info("n-gram model written",
		"path", output,
		"tokens", len(ids),
		"order", order,
		"contexts", len(m.Counts),
	)
	return nil
}
