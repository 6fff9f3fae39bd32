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

// Input is whatever the previous state handed over; the endpoint name comes from config
type Input map[string]any

type EndpointDescriber interface {
	DescribeEndpoint(ctx context.Context, name string) (*services.EndpointStatus, error)
}

type Handler struct {
	sagemaker    EndpointDescriber
	endpointName string
}

func NewHandlerWithDeps(sagemaker EndpointDescriber, endpointName string) *Handler {
	return &Handler{
		sagemaker:    sagemaker,
		endpointName: endpointName,
	}
}

func (h *Handler) HandleCheckEndpointStatus(ctx context.Context, _ Input) (*services.EndpointStatus, error) {
	logger := zerolog.Ctx(ctx)

	if h.endpointName == "" {
		return nil, fmt.Errorf("%w: %s", errors.ErrMissingConfig, services.KeyEndpointName)
	}

	status, err := h.sagemaker.DescribeEndpoint(ctx, h.endpointName)
	if err != nil {
		return nil, err
	}

	logger.Info().
		Str("endpoint_name", status.EndpointName).
		Str("endpoint_config_name", status.EndpointConfigName).
		Str("endpoint_status", status.EndpointStatus).
		Msg("Checked endpoint status")

	return status, nil
}

type HandlerFunc func(context.Context, Input) (*services.EndpointStatus, error)

func withLogger(handler HandlerFunc, logger zerolog.Logger) HandlerFunc {
	return func(ctx context.Context, input Input) (*services.EndpointStatus, error) {
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
		logger    = di.MustGet[zerolog.Logger](container).With().Str("lambda", "check-endpoint-status").Logger()
		config    = di.MustGet[*services.Config](container)
		sagemaker = di.MustGet[*services.SageMakerService](container)
	)

	handler := NewHandlerWithDeps(sagemaker, config.EndpointName)

	checkStatus := handler.HandleCheckEndpointStatus
	checkStatus = withLogger(checkStatus, logger)

	lambda.Start(checkStatus)
	return nil
}

func runAction(c *cli.Context) error {
	container, err := di.New(c.String("env"))
	if err != nil {
		return err
	}

	var (
		logger    = di.MustGet[zerolog.Logger](container).With().Str("lambda", "check-endpoint-status").Logger()
		config    = di.MustGet[*services.Config](container)
		sagemaker = di.MustGet[*services.SageMakerService](container)
	)

	endpointName := config.EndpointName
	if v := c.String("endpoint-name"); v != "" {
		endpointName = v
	}

	ctx := logger.WithContext(context.Background())
	result, err := NewHandlerWithDeps(sagemaker, endpointName).HandleCheckEndpointStatus(ctx, Input{})
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func main() {
	app := &cli.App{
		Name:           "check-endpoint-status",
		Usage:          "Report the status of the SageMaker endpoint",
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
						Name:  "endpoint-name",
						Usage: "Endpoint name (defaults to the configured endpoint)",
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
