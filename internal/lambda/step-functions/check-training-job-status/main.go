package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog"
	"github.com/savaki/ml-pipeline/internal/dao/rundao"
	"github.com/savaki/ml-pipeline/internal/di"
	"github.com/savaki/ml-pipeline/internal/services"
	"github.com/urfave/cli/v2"
)

type Input struct {
	PreviousStep struct {
		TrainingJobName string `json:"TrainingJobName"`
	} `json:"PreviousStep"`
}

type TrainingJobDescriber interface {
	DescribeTrainingJob(ctx context.Context, name string) (*services.TrainingJobStatus, error)
}

type RunUpdater interface {
	UpdateStatus(ctx context.Context, input rundao.UpdateInput) error
}

type Handler struct {
	sagemaker TrainingJobDescriber
	runs      RunUpdater
}

// NewHandlerWithDeps creates a handler. runs may be nil, which skips the run ledger.
func NewHandlerWithDeps(sagemaker TrainingJobDescriber, runs RunUpdater) *Handler {
	return &Handler{
		sagemaker: sagemaker,
		runs:      runs,
	}
}

func (h *Handler) HandleCheckTrainingJobStatus(ctx context.Context, input *Input) (*services.TrainingJobStatus, error) {
	logger := zerolog.Ctx(ctx)

	jobName := input.PreviousStep.TrainingJobName
	if jobName == "" {
		return nil, fmt.Errorf("PreviousStep.TrainingJobName is required")
	}

	status, err := h.sagemaker.DescribeTrainingJob(ctx, jobName)
	if err != nil {
		return nil, err
	}

	logger.Info().
		Str("training_job_name", jobName).
		Str("training_job_status", status.TrainingJobStatus).
		Str("secondary_status", status.SecondaryStatus).
		Msg("Checked training job status")

	// the training job is named after the run id
	if h.runs != nil {
		update := rundao.UpdateInput{
			RunID:  jobName,
			Status: rundao.Status(status.TrainingJobStatus),
		}
		if status.FailureReason != "" {
			update.FailureReason = &status.FailureReason
		}
		if err := h.runs.UpdateStatus(ctx, update); err != nil {
			logger.Warn().
				Err(err).
				Str("run_id", jobName).
				Msg("Failed to update run status")
		}
	}

	return status, nil
}

type HandlerFunc func(context.Context, *Input) (*services.TrainingJobStatus, error)

func withLogger(handler HandlerFunc, logger zerolog.Logger) HandlerFunc {
	return func(ctx context.Context, input *Input) (*services.TrainingJobStatus, error) {
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
		logger    = di.MustGet[zerolog.Logger](container).With().Str("lambda", "check-training-job-status").Logger()
		sagemaker = di.MustGet[*services.SageMakerService](container)
		runs      = di.MustGet[*rundao.DAO](container)
	)

	handler := NewHandlerWithDeps(sagemaker, runs)

	checkStatus := handler.HandleCheckTrainingJobStatus
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
		logger    = di.MustGet[zerolog.Logger](container).With().Str("lambda", "check-training-job-status").Logger()
		sagemaker = di.MustGet[*services.SageMakerService](container)
	)

	var input Input
	input.PreviousStep.TrainingJobName = c.String("training-job-name")

	ctx := logger.WithContext(context.Background())
	result, err := NewHandlerWithDeps(sagemaker, nil).HandleCheckTrainingJobStatus(ctx, &input)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func main() {
	app := &cli.App{
		Name:           "check-training-job-status",
		Usage:          "Report the status of a SageMaker training job",
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
						Name:     "training-job-name",
						Usage:    "Training job name (the run id)",
						EnvVars:  []string{"TRAINING_JOB_NAME"},
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
