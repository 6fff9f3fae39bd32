package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/rs/zerolog"
	"github.com/savaki/ml-pipeline/internal/di"
	"github.com/savaki/ml-pipeline/internal/errors"
	"github.com/savaki/ml-pipeline/internal/models"
	"github.com/savaki/ml-pipeline/internal/services"
	"github.com/urfave/cli/v2"
)

// Defaults applied when an image ships without settings
const (
	DefaultInstanceType        = "ml.m5.large"
	DefaultVolumeSizeInGB      = 10
	DefaultMaxRuntimeInSeconds = 3600
)

var requiredKeys = []string{
	services.KeySageMakerRoleArn,
	services.KeyOutputBucketName,
	services.KeyMasterECRRepositoryName,
	services.KeyStagingECRRepositoryName,
}

// Output is handed to the state machine's SageMaker createTrainingJob.sync task
type Output struct {
	TrainingJobParameters TrainingJobParameters `json:"TrainingJobParameters"`
	TrainingJobName       string                `json:"TrainingJobName"`
}

// TrainingJobParameters mirrors the CreateTrainingJob request document
type TrainingJobParameters struct {
	TrainingJobName        string                   `json:"TrainingJobName"`
	AlgorithmSpecification AlgorithmSpecification   `json:"AlgorithmSpecification"`
	RoleArn                string                   `json:"RoleArn"`
	HyperParameters        map[string]string        `json:"HyperParameters,omitempty"`
	InputDataConfig        []Channel                `json:"InputDataConfig"`
	OutputDataConfig       OutputDataConfig         `json:"OutputDataConfig"`
	ResourceConfig         ResourceConfig           `json:"ResourceConfig"`
	StoppingCondition      models.StoppingCondition `json:"StoppingCondition"`
	EnableNetworkIsolation bool                     `json:"EnableNetworkIsolation"`
	Tags                   []Tag                    `json:"Tags"`
}

type AlgorithmSpecification struct {
	TrainingImage     string                    `json:"TrainingImage"`
	TrainingInputMode string                    `json:"TrainingInputMode"`
	MetricDefinitions []models.MetricDefinition `json:"MetricDefinitions,omitempty"`
}

type Channel struct {
	ChannelName string     `json:"ChannelName"`
	DataSource  DataSource `json:"DataSource"`
}

type DataSource struct {
	S3DataSource S3DataSource `json:"S3DataSource"`
}

type S3DataSource struct {
	S3DataType             string `json:"S3DataType"`
	S3Uri                  string `json:"S3Uri"`
	S3DataDistributionType string `json:"S3DataDistributionType"`
}

type OutputDataConfig struct {
	S3OutputPath string `json:"S3OutputPath"`
}

type ResourceConfig struct {
	InstanceType   string `json:"InstanceType"`
	InstanceCount  int32  `json:"InstanceCount"`
	VolumeSizeInGB int32  `json:"VolumeSizeInGB"`
}

type Tag struct {
	Key   string `json:"Key"`
	Value string `json:"Value"`
}

type Handler struct {
	config *services.Config
}

func NewHandlerWithDeps(config *services.Config) *Handler {
	return &Handler{
		config: config,
	}
}

// outputPath picks the output location by the repository the image was pushed to
func (h *Handler) outputPath(repositoryName string) (string, error) {
	switch repositoryName {
	case h.config.MasterECRRepositoryName:
		return fmt.Sprintf("s3://%s/master", h.config.OutputBucketName), nil
	case h.config.StagingECRRepositoryName:
		return fmt.Sprintf("s3://%s/staging", h.config.OutputBucketName), nil
	default:
		return "", fmt.Errorf("%w: %s", errors.ErrUnknownRepository, repositoryName)
	}
}

func (h *Handler) HandleCreateTrainingJob(ctx context.Context, input *models.TrainingJobInput) (*Output, error) {
	logger := zerolog.Ctx(ctx)

	if missing := h.config.Missing(requiredKeys...); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", errors.ErrMissingConfig, strings.Join(missing, ", "))
	}

	jobName := input.ExecutionName
	if jobName == "" {
		return nil, fmt.Errorf("execution_name is required")
	}

	image := input.Input.ECR
	if _, err := name.NewTag(image.ImageURI, name.StrictValidation); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errors.ErrInvalidImageURI, image.ImageURI, err)
	}

	outputPath, err := h.outputPath(image.RepositoryName)
	if err != nil {
		return nil, err
	}

	params := TrainingJobParameters{
		TrainingJobName: jobName,
		AlgorithmSpecification: AlgorithmSpecification{
			TrainingImage:     image.ImageURI,
			TrainingInputMode: "File",
		},
		RoleArn: h.config.SageMakerRoleArn,
		InputDataConfig: []Channel{
			{
				ChannelName: "train",
				DataSource: DataSource{
					S3DataSource: S3DataSource{
						S3DataType:             "S3Prefix",
						S3Uri:                  fmt.Sprintf("s3://%s", input.Input.S3.Bucket),
						S3DataDistributionType: "FullyReplicated",
					},
				},
			},
		},
		OutputDataConfig: OutputDataConfig{S3OutputPath: outputPath},
		ResourceConfig: ResourceConfig{
			InstanceType:   DefaultInstanceType,
			InstanceCount:  1,
			VolumeSizeInGB: DefaultVolumeSizeInGB,
		},
		StoppingCondition:      models.StoppingCondition{MaxRuntimeInSeconds: DefaultMaxRuntimeInSeconds},
		EnableNetworkIsolation: true,
		Tags: []Tag{
			{Key: "product", Value: h.config.ProductTagValue},
			{Key: "service", Value: h.config.ServiceTagValue},
			{Key: "stage", Value: h.config.StageTagValue},
		},
	}

	if settings := input.Input.SageMaker; settings != nil {
		job := settings.TrainingJob
		params.HyperParameters = job.HyperParameters
		params.AlgorithmSpecification.MetricDefinitions = job.MetricDefinitions
		if v := job.TrainingResourceConfig.InstanceType; v != "" {
			params.ResourceConfig.InstanceType = v
		}
		if v := job.TrainingResourceConfig.VolumeSizeInGB; v > 0 {
			params.ResourceConfig.VolumeSizeInGB = v
		}
		if job.StoppingCondition.MaxRuntimeInSeconds > 0 {
			params.StoppingCondition = job.StoppingCondition
		}
	}

	logger.Info().
		Str("training_job_name", jobName).
		Str("training_image", image.ImageURI).
		Str("output_path", outputPath).
		Str("instance_type", params.ResourceConfig.InstanceType).
		Msg("Built training job request")

	return &Output{
		TrainingJobParameters: params,
		TrainingJobName:       jobName,
	}, nil
}

type HandlerFunc func(context.Context, *models.TrainingJobInput) (*Output, error)

func withLogger(handler HandlerFunc, logger zerolog.Logger) HandlerFunc {
	return func(ctx context.Context, input *models.TrainingJobInput) (*Output, error) {
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
		logger = di.MustGet[zerolog.Logger](container).With().Str("lambda", "create-training-job").Logger()
		config = di.MustGet[*services.Config](container)
	)

	handler := NewHandlerWithDeps(config)

	createTrainingJob := handler.HandleCreateTrainingJob
	createTrainingJob = withLogger(createTrainingJob, logger)

	lambda.Start(createTrainingJob)
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

	var (
		logger = di.MustGet[zerolog.Logger](container).With().Str("lambda", "create-training-job").Logger()
		config = di.MustGet[*services.Config](container)
	)

	data, err := os.ReadFile(c.String("input"))
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	var input models.TrainingJobInput
	if err := json.Unmarshal(data, &input); err != nil {
		return fmt.Errorf("failed to parse input: %w", err)
	}

	ctx := logger.WithContext(context.Background())
	result, err := NewHandlerWithDeps(config).HandleCreateTrainingJob(ctx, &input)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func main() {
	app := &cli.App{
		Name:           "create-training-job",
		Usage:          "Build the SageMaker training job request for a pipeline run",
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
						Name:     "input",
						Usage:    "JSON file holding {execution_name, input}",
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
