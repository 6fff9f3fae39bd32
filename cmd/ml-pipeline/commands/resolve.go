package commands

import (
	"encoding/json"
	"os"

	"github.com/rs/zerolog"
	"github.com/savaki/ml-pipeline/internal/di"
	"github.com/savaki/ml-pipeline/internal/models"
	"github.com/savaki/ml-pipeline/internal/notification"
	"github.com/savaki/ml-pipeline/internal/orchestrator"
	"github.com/savaki/ml-pipeline/internal/trigger"
	"github.com/urfave/cli/v2"
)

func ResolveCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "resolve",
		Usage: "Print the workflow input a notification would start, without starting it",
		Description: `Classify a simulated notification and resolve the complementary artifact.

For a data notification pass --bucket, --key and --version; the latest image of the
configured repository is resolved. For an image notification pass --source
ecr.amazonaws.com, --repository-name and --image-tag; the current version of the
configured data object is resolved.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "env",
				Aliases: []string{"environment"},
				Usage:   "Environment name (dev, staging, prod)",
				Value:   "dev",
				EnvVars: []string{"ENV"},
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
		Action: func(c *cli.Context) error {
			return resolveAction(c, logger)
		},
	}
}

func resolveAction(c *cli.Context, logger *zerolog.Logger) error {
	ctx := logger.WithContext(c.Context)

	var opts []di.Option
	if filename := c.String("config"); filename != "" {
		opts = append(opts, di.WithConfigFile(filename))
	}

	container, err := di.New(c.String("env"), opts...)
	if err != nil {
		return err
	}

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

	plan, err := di.MustGet[*trigger.Trigger](container).Plan(ctx, event)
	if err != nil {
		return err
	}

	input, err := previewInput(plan)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(input)
}

// previewInput renders the execution input for plan under a fresh run id, exactly as
// the trigger would send it
func previewInput(plan trigger.Plan) (json.RawMessage, error) {
	input := models.WorkflowInput{
		RunID: orchestrator.NewRunID(),
		S3:    plan.S3,
		ECR:   plan.ECR,
	}

	data, err := orchestrator.EncodeInput(input, plan.Settings)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}
