package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/urfave/cli/v3"

	"github.com/diegofornalha/specedit/internal/edit"
)

func main() {
	app := &cli.Command{
		Name:  "specedit",
		Usage: "Text continuation with vanilla and speculative decoding",
		Flags: globalFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			generateCmd(edit.StrategyVanilla),
			generateCmd(edit.StrategySpeculative),
			compareCmd(),
			trainCmd(),
			versionCmd(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := app.Run(ctx, os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
