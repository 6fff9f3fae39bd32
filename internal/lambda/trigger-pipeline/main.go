package main

import (
	"context"
	"encoding/json"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog"
	"github.com/savaki/ml-pipeline/internal/di"
	"github.com/savaki/ml-pipeline/internal/models"
	"github.com/savaki/ml-pipeline/internal/notification"
	"github.com/savaki/ml-pipeline/internal/trigger"
	"github.com/urfave/cli/v2"
)

type HandlerFunc func(context.Context, events.CloudWatchEvent) (models.Response, error)

func withLogger(handler HandlerFunc, logger zerolog.Logger) HandlerFunc {
	return func(ctx context.Context, event events.CloudWatchEvent) (models.Response, error) {
		ctx = logger.WithContext(ctx)
		return handler(ctx, event)
	}
}

func lambdaAction(c *cli.Context) error {
	container, err := di.New(c.String("env"))
	if err != nil {
		return err
	}

	logger := di.MustGet[zerolog.Logger](container).With().Str("lambda", "trigger-pipeline").Logger()

	handler := HandlerFunc(di.MustGet[*trigger.Trigger](container).Handle)
	handler = withLogger(handler, logger)

	lambda.Start(handler)
	return nil
}

func runAction(c *cli.Context) error {
	var opts []di.Option
	if filename := c.String("config"); filename != "" {
		opts = append(opts, di.WithConfigFile(filename))
	}

	container, err := di.New(c.String("env"), opts...)
	if err != nil {
		return err
	}

	logger := di.MustGet[zerolog.Logger](container).With().Str("lambda", "trigger-pipeline").Logger()

	event, err := notification.NewEvent(notification.Simulated{
		Source:         c.String("source"),
		Bucket:         c.String("bucket"),
		Key:            c.String("key"),
		Version:        c.String("version"),
		RepositoryName: c.String("repository-name"),
		ImageTag:       c.String("image-tag"),
	})
	if err != nil {
		return err
	}

	ctx := logger.WithContext(context.Background())
	result, err := di.MustGet[*trigger.Trigger](container).Handle(ctx, event)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func main() {
	app := &cli.App{
		Name:           "trigger-pipeline",
		Usage:          "Start a training run when new data or a new training image arrives",
		DefaultCommand: "lambda",
		Commands: []*cli.Command{
			{
				Name:  "lambda",
				Usage: "Start Lambda handler",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "env",
						Usage:    "Environment",
						EnvVars:  []string{"ENV"},
						Required: true,
					},
				},
				Action: lambdaAction,
			},
			{
				Name:  "run",
				Usage: "Run locally for testing",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "env",
						Usage:    "Environment",
						EnvVars:  []string{"ENV"},
						Required: true,
					},
					&cli.StringFlag{
						Name:    "config",
						Usage:   "Read configuration from a local yaml file",
						EnvVars: []string{"CONFIG_FILE"},
					},
					&cli.StringFlag{
						Name:  "source",
						Usage: "Event source (s3.amazonaws.com or ecr.amazonaws.com)",
						Value: notification.SourceS3,
					},
					&cli.StringFlag{
						Name:  "bucket",
						Usage: "Data bucket (s3 events)",
					},
					&cli.StringFlag{
						Name:  "key",
						Usage: "Data object key (s3 events)",
					},
					&cli.StringFlag{
						Name:  "version",
						Usage: "Data object version id (s3 events)",
					},
					&cli.StringFlag{
						Name:  "repository-name",
						Usage: "ECR repository (ecr events)",
					},
					&cli.StringFlag{
						Name:  "image-tag",
						Usage: "Image tag (ecr events)",
					},
				},
				Action: runAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
