package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/rs/zerolog"
	"github.com/savaki/ml-pipeline/internal/dao/rundao"
	"github.com/savaki/ml-pipeline/internal/models"
	"github.com/segmentio/ksuid"
	"github.com/stretchr/testify/assert"
	"github.com/tidwall/gjson"
)

type mockSFNClient struct {
	inputs []*sfn.StartExecutionInput
	err    error
}

func (m *mockSFNClient) StartExecution(ctx context.Context, params *sfn.StartExecutionInput, optFns ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error) {
	m.inputs = append(m.inputs, params)
	if m.err != nil {
		return nil, m.err
	}
	return &sfn.StartExecutionOutput{
		ExecutionArn: aws.String("arn:aws:states:us-east-1:123456789012:execution:ml-pipeline:" + aws.ToString(params.Name)),
	}, nil
}

type mockRecorder struct {
	inputs []rundao.CreateInput
	err    error
}

func (m *mockRecorder) Create(ctx context.Context, input rundao.CreateInput) (rundao.Record, error) {
	m.inputs = append(m.inputs, input)
	return rundao.Record{RunID: input.RunID}, m.err
}

var (
	testData  = models.DataReference{Bucket: "data-bkt", Key: "train.csv", Version: "v3"}
	testImage = models.ImageReference{
		RepositoryName: "trainer",
		ImageTags:      []string{"abc123"},
		ImageURI:       "123456789012.dkr.ecr.us-east-1.amazonaws.com/trainer:abc123",
	}
)

func testContext() context.Context {
	logger := zerolog.New(io.Discard)
	return logger.WithContext(context.Background())
}

func TestNewRunID(t *testing.T) {
	a, b := NewRunID(), NewRunID()
	assert.NotEqual(t, a, b)

	_, err := ksuid.Parse(a)
	assert.NoError(t, err)
}

func TestEncodeInput(t *testing.T) {
	input := models.WorkflowInput{RunID: "run-1", S3: testData, ECR: testImage}

	data, err := EncodeInput(input, nil)
	assert.NoError(t, err)
	assert.JSONEq(t, `{
		"run_id": "run-1",
		"s3": {"bucket": "data-bkt", "key": "train.csv", "version": "v3"},
		"ecr": {
			"repository_name": "trainer",
			"image_tags": ["abc123"],
			"image_uri": "123456789012.dkr.ecr.us-east-1.amazonaws.com/trainer:abc123"
		}
	}`, string(data))
}

func TestEncodeInput_WithSettings(t *testing.T) {
	input := models.WorkflowInput{RunID: "run-1", S3: testData, ECR: testImage}
	settings := &models.Settings{
		TrainingJob: models.TrainingJobSettings{
			HyperParameters: map[string]string{"max_leaf_nodes": "5"},
			TrainingResourceConfig: models.TrainingResourceConfig{
				InstanceType:   "ml.m5.large",
				VolumeSizeInGB: 10,
			},
		},
	}

	data, err := EncodeInput(input, settings)
	assert.NoError(t, err)
	assert.Equal(t, "run-1", gjson.GetBytes(data, "run_id").String())
	assert.Equal(t, "5", gjson.GetBytes(data, "sagemaker.TrainingJob.HyperParameters.max_leaf_nodes").String())
	assert.Equal(t, "ml.m5.large", gjson.GetBytes(data, "sagemaker.TrainingJob.TrainingResourceConfig.InstanceType").String())

	var decoded models.TrainingJobInput
	assert.NoError(t, json.Unmarshal([]byte(`{"execution_name":"run-1","input":`+string(data)+`}`), &decoded))
	if assert.NotNil(t, decoded.Input.SageMaker) {
		assert.Equal(t, settings.TrainingJob.HyperParameters, decoded.Input.SageMaker.TrainingJob.HyperParameters)
	}
}

func TestStartExecution(t *testing.T) {
	client := &mockSFNClient{}
	recorder := &mockRecorder{}
	o := New(client, "arn:aws:states:us-east-1:123456789012:stateMachine:ml-pipeline", recorder)

	execution, err := o.StartExecution(testContext(), testData, testImage, nil)
	assert.NoError(t, err)

	if assert.Len(t, client.inputs, 1) {
		params := client.inputs[0]
		assert.Equal(t, "arn:aws:states:us-east-1:123456789012:stateMachine:ml-pipeline", aws.ToString(params.StateMachineArn))
		assert.Equal(t, execution.RunID, aws.ToString(params.Name))

		input := []byte(aws.ToString(params.Input))
		assert.Equal(t, execution.RunID, gjson.GetBytes(input, "run_id").String())
		assert.Equal(t, "v3", gjson.GetBytes(input, "s3.version").String())
		assert.False(t, gjson.GetBytes(input, "sagemaker").Exists())
	}

	assert.Equal(t, "arn:aws:states:us-east-1:123456789012:execution:ml-pipeline:"+execution.RunID, execution.ExecutionArn)

	if assert.Len(t, recorder.inputs, 1) {
		assert.Equal(t, rundao.CreateInput{
			RunID:          execution.RunID,
			RepositoryName: "trainer",
			ImageTag:       "abc123",
			ImageURI:       testImage.ImageURI,
			DataBucket:     "data-bkt",
			DataKey:        "train.csv",
			DataVersion:    "v3",
			ExecutionArn:   execution.ExecutionArn,
		}, recorder.inputs[0])
	}
}

func TestStartExecution_FreshRunIDPerCall(t *testing.T) {
	client := &mockSFNClient{}
	o := New(client, "arn", nil)

	first, err := o.StartExecution(testContext(), testData, testImage, nil)
	assert.NoError(t, err)
	second, err := o.StartExecution(testContext(), testData, testImage, nil)
	assert.NoError(t, err)

	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Len(t, client.inputs, 2)
}

func TestStartExecution_EngineError(t *testing.T) {
	client := &mockSFNClient{err: errors.New("ExecutionLimitExceeded")}
	recorder := &mockRecorder{}
	o := New(client, "arn", recorder)

	_, err := o.StartExecution(testContext(), testData, testImage, nil)
	assert.Error(t, err)
	assert.Len(t, client.inputs, 1)
	assert.Empty(t, recorder.inputs)
}

func TestStartExecution_LedgerFailureIsNotFatal(t *testing.T) {
	client := &mockSFNClient{}
	recorder := &mockRecorder{err: errors.New("table missing")}
	o := New(client, "arn", recorder)

	execution, err := o.StartExecution(testContext(), testData, testImage, nil)
	assert.NoError(t, err)
	assert.NotEmpty(t, execution.ExecutionArn)
	assert.Len(t, recorder.inputs, 1)
}
