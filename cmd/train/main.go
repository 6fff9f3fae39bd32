package main

import (
	"log"
	"os"

	"github.com/savaki/ml-pipeline/internal/di"
	"github.com/savaki/ml-pipeline/internal/trainer"
	"github.com/urfave/cli/v2"
)

// exitFailure marks the training job Failed
const exitFailure = 255

func trainAction(c *cli.Context) error {
	logger := di.ProvideLogger()
	ctx := logger.WithContext(c.Context)

	t := trainer.New(trainer.Paths{Prefix: c.String("prefix")}, os.Stdout)
	if _, err := t.Train(ctx); err != nil {
		logger.Error().Err(err).Msg("Exception during training")
		if werr := t.WriteFailure(err); werr != nil {
			logger.Error().Err(werr).Msg("Failed to record failure reason")
		}
		return cli.Exit("", exitFailure)
	}

	return nil
}

func main() {
	app := &cli.App{
		Name:           "train",
		Usage:          "Train a decision tree classifier inside a SageMaker training container",
		DefaultCommand: "train",
		Commands: []*cli.Command{
			{
				Name:  "train",
				Usage: "Run the training job",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "prefix",
						Usage:   "Root of the SageMaker file mode layout",
						EnvVars: []string{"ML_PREFIX"},
						Value:   trainer.DefaultPrefix,
					},
				},
				Action: trainAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
