package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog"
	"github.com/savaki/ml-pipeline/internal/di"
	"github.com/savaki/ml-pipeline/internal/errors"
	"github.com/savaki/ml-pipeline/internal/relocator"
	"github.com/savaki/ml-pipeline/internal/services"
	"github.com/urfave/cli/v2"
)

type Input struct {
	PreviousStep PreviousStep `json:"PreviousStep"`
}

type PreviousStep struct {
	ModelArtifacts services.ModelArtifacts `json:"ModelArtifacts"`
}

type Relocator interface {
	Relocate(ctx context.Context, sourceKey string) (relocator.Result, error)
}

type Handler struct {
	relocator    Relocator
	outputBucket string
}

func NewHandlerWithDeps(mover Relocator, outputBucket string) *Handler {
	return &Handler{
		relocator:    mover,
		outputBucket: outputBucket,
	}
}

// HandlePushOutput unpacks the output archive written next to the model artifacts
func (h *Handler) HandlePushOutput(ctx context.Context, input Input) (*relocator.Result, error) {
	logger := zerolog.Ctx(ctx)

	if h.outputBucket == "" {
		return nil, fmt.Errorf("%w: %s", errors.ErrMissingConfig, services.KeyOutputBucketName)
	}

	artifacts := input.PreviousStep.ModelArtifacts.S3ModelArtifacts
	if artifacts == "" {
		return nil, fmt.Errorf("PreviousStep.ModelArtifacts.S3ModelArtifacts is required")
	}

	sourceKey := relocator.OutputKey(artifacts, h.outputBucket)
	logger.Info().
		Str("model_artifacts", artifacts).
		Str("source_key", sourceKey).
		Msg("Relocating training output")

	result, err := h.relocator.Relocate(ctx, sourceKey)
	if err != nil {
		return nil, err
	}

	logger.Info().
		Int("extracted", result.Extracted).
		Bool("success", result.Success).
		Msg("Relocated training output")

	return &result, nil
}

type HandlerFunc func(context.Context, Input) (*relocator.Result, error)

func withLogger(handler HandlerFunc, logger zerolog.Logger) HandlerFunc {
	return func(ctx context.Context, input Input) (*relocator.Result, error) {
		ctx = logger.WithContext(ctx)
		return handler(ctx, input)
	}
}

func lambdaAction(c *cli.Context) error {
	container, err := di.New(c.String("env"))
	if err != nil {
		return err
	}

	var (
		logger = di.MustGet[zerolog.Logger](container).With().Str("lambda", "push-output").Logger()
		config = di.MustGet[*services.Config](container)
		mover  = di.MustGet[*relocator.Relocator](container)
	)

	handler := NewHandlerWithDeps(mover, config.OutputBucketName)

	pushOutput := handler.HandlePushOutput
	pushOutput = withLogger(pushOutput, logger)

	lambda.Start(pushOutput)
	return nil
}

func runAction(c *cli.Context) error {
	container, err := di.New(c.String("env"))
	if err != nil {
		return err
	}

	var (
		logger = di.MustGet[zerolog.Logger](container).With().Str("lambda", "push-output").Logger()
		config = di.MustGet[*services.Config](container)
		mover  = di.MustGet[*relocator.Relocator](container)
	)

	ctx := logger.WithContext(context.Background())
	input := Input{
		PreviousStep: PreviousStep{
			ModelArtifacts: services.ModelArtifacts{S3ModelArtifacts: c.String("model-artifacts")},
		},
	}

	result, err := NewHandlerWithDeps(mover, config.OutputBucketName).HandlePushOutput(ctx, input)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func main() {
	app := &cli.App{
		Name:           "push-output",
		Usage:          "Unpack a training job's output archive into the output bucket",
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
						Name:     "model-artifacts",
						Usage:    "S3 uri of the model.tar.gz reported by the training job",
						Required: true,
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
