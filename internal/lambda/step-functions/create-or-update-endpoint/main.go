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
	"github.com/savaki/ml-pipeline/internal/services"
	"github.com/urfave/cli/v2"
)

type Input struct {
	EndpointConfigName string `json:"endpoint_config_name"`
}

type EndpointUpserter interface {
	CreateOrUpdateEndpoint(ctx context.Context, name, configName string, tags map[string]string) (*services.EndpointResult, error)
}

type Handler struct {
	sagemaker EndpointUpserter
	config    *services.Config
}

func NewHandlerWithDeps(sagemaker EndpointUpserter, config *services.Config) *Handler {
	return &Handler{
		sagemaker: sagemaker,
		config:    config,
	}
}

// HandleCreateOrUpdateEndpoint points the configured endpoint at the given endpoint
// config, creating the endpoint the first time around
func (h *Handler) HandleCreateOrUpdateEndpoint(ctx context.Context, input Input) (*services.EndpointResult, error) {
	logger := zerolog.Ctx(ctx)

	if h.config.EndpointName == "" {
		return nil, fmt.Errorf("%w: %s", errors.ErrMissingConfig, services.KeyEndpointName)
	}
	if input.EndpointConfigName == "" {
		return nil, fmt.Errorf("endpoint_config_name is required")
	}

	result, err := h.sagemaker.CreateOrUpdateEndpoint(ctx, h.config.EndpointName, input.EndpointConfigName, h.config.ResourceTags())
	if err != nil {
		return nil, err
	}

	logger.Info().
		Str("endpoint_name", h.config.EndpointName).
		Str("endpoint_config_name", input.EndpointConfigName).
		Str("endpoint_arn", result.EndpointArn).
		Bool("created", result.Created).
		Msg("Endpoint upserted")

	return result, nil
}

type HandlerFunc func(context.Context, Input) (*services.EndpointResult, error)

func withLogger(handler HandlerFunc, logger zerolog.Logger) HandlerFunc {
	return func(ctx context.Context, input Input) (*services.EndpointResult, error) {
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
		logger    = di.MustGet[zerolog.Logger](container).With().Str("lambda", "create-or-update-endpoint").Logger()
		config    = di.MustGet[*services.Config](container)
		sagemaker = di.MustGet[*services.SageMakerService](container)
	)

	handler := NewHandlerWithDeps(sagemaker, config)

	upsert := handler.HandleCreateOrUpdateEndpoint
	upsert = withLogger(upsert, logger)

	lambda.Start(upsert)
	return nil
}

func runAction(c *cli.Context) error {
	container, err := di.New(c.String("env"))
	if err != nil {
		return err
	}

	var (
		logger    = di.MustGet[zerolog.Logger](container).With().Str("lambda", "create-or-update-endpoint").Logger()
		config    = di.MustGet[*services.Config](container)
		sagemaker = di.MustGet[*services.SageMakerService](container)
	)

	ctx := logger.WithContext(context.Background())
	input := Input{EndpointConfigName: c.String("endpoint-config-name")}

	result, err := NewHandlerWithDeps(sagemaker, config).HandleCreateOrUpdateEndpoint(ctx, input)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func main() {
	app := &cli.App{
		Name:           "create-or-update-endpoint",
		Usage:          "Create the SageMaker endpoint or move it to a new endpoint config",
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
						Name:     "endpoint-config-name",
						Usage:    "Endpoint config to deploy",
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
