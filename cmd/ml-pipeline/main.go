package main

import (
	"context"
	"os"

	"github.com/savaki/ml-pipeline/cmd/ml-pipeline/commands"
	"github.com/savaki/ml-pipeline/internal/di"
	"github.com/urfave/cli/v2"
)

func main() {
	logger := di.ProvideLogger()
	ctx := logger.WithContext(context.Background())

	app := &cli.App{
		Name:  "ml-pipeline",
		Usage: "Operate the SageMaker training pipeline",
		Description: `Operator tooling for the training pipeline.

This tool provides commands for:
  - Creating the ECR repositories training images are pushed to
  - Previewing the workflow input a notification would start, without starting it`,
		Commands: []*cli.Command{
			commands.SetupECRCommand(&logger),
			commands.ResolveCommand(&logger),
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		logger.Error().Err(err).Msg("Application error")
		os.Exit(1)
	}
}
