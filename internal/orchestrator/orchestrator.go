package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/rs/zerolog"
	"github.com/savaki/ml-pipeline/internal/dao/rundao"
	"github.com/savaki/ml-pipeline/internal/models"
	"github.com/segmentio/ksuid"
	"github.com/tidwall/sjson"
)

// SFNClient is the subset of the Step Functions API used to start runs
type SFNClient interface {
	StartExecution(ctx context.Context, params *sfn.StartExecutionInput, optFns ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error)
}

// RunRecorder persists started runs
type RunRecorder interface {
	Create(ctx context.Context, input rundao.CreateInput) (rundao.Record, error)
}

// Execution describes a started workflow run
type Execution struct {
	RunID        string `json:"run_id"`
	ExecutionArn string `json:"execution_arn"`
}

// Orchestrator manages Step Functions execution lifecycle
type Orchestrator struct {
	sfnClient       SFNClient
	stateMachineArn string
	recorder        RunRecorder
}

// New creates a new Orchestrator instance. recorder may be nil.
func New(sfnClient SFNClient, stateMachineArn string, recorder RunRecorder) *Orchestrator {
	return &Orchestrator{
		sfnClient:       sfnClient,
		stateMachineArn: stateMachineArn,
		recorder:        recorder,
	}
}

// NewRunID returns a fresh, time-ordered run id
func NewRunID() string {
	return ksuid.New().String()
}

// EncodeInput renders the execution input. settings, when non-nil, are spliced in
// under the "sagemaker" key.
func EncodeInput(input models.WorkflowInput, settings *models.Settings) ([]byte, error) {
	data, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal workflow input: %w", err)
	}

	if settings == nil {
		return data, nil
	}

	raw, err := json.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal training settings: %w", err)
	}

	data, err = sjson.SetRawBytes(data, "sagemaker", raw)
	if err != nil {
		return nil, fmt.Errorf("failed to add training settings to workflow input: %w", err)
	}

	return data, nil
}

// StartExecution starts exactly one workflow execution named after a fresh run id and
// records it in the run ledger. Ledger failures are logged, never returned; the
// execution has already started by then.
func (o *Orchestrator) StartExecution(ctx context.Context, data models.DataReference, image models.ImageReference, settings *models.Settings) (Execution, error) {
	logger := zerolog.Ctx(ctx)

	input := models.WorkflowInput{
		RunID: NewRunID(),
		S3:    data,
		ECR:   image,
	}

	inputJSON, err := EncodeInput(input, settings)
	if err != nil {
		return Execution{}, err
	}

	result, err := o.sfnClient.StartExecution(ctx, &sfn.StartExecutionInput{
		StateMachineArn: aws.String(o.stateMachineArn),
		Name:            aws.String(input.RunID),
		Input:           aws.String(string(inputJSON)),
	})
	if err != nil {
		return Execution{}, fmt.Errorf("failed to start step function execution: %w", err)
	}

	execution := Execution{
		RunID:        input.RunID,
		ExecutionArn: aws.ToString(result.ExecutionArn),
	}

	logger.Info().
		Str("run_id", execution.RunID).
		Str("execution_arn", execution.ExecutionArn).
		Str("repository_name", image.RepositoryName).
		Str("image_uri", image.ImageURI).
		Str("data_key", data.Key).
		Str("data_version", data.Version).
		Msg("Started pipeline execution")

	if o.recorder != nil {
		_, err := o.recorder.Create(ctx, rundao.CreateInput{
			RunID:          execution.RunID,
			RepositoryName: image.RepositoryName,
			ImageTag:       image.Tag(),
			ImageURI:       image.ImageURI,
			DataBucket:     data.Bucket,
			DataKey:        data.Key,
			DataVersion:    data.Version,
			ExecutionArn:   execution.ExecutionArn,
		})
		if err != nil {
			logger.Warn().
				Err(err).
				Str("run_id", execution.RunID).
				Msg("Failed to record pipeline run")
		}
	}

	return execution, nil
}
