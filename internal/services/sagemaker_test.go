package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type mockSageMakerClient struct {
	describeTrainingJobFunc func(ctx context.Context, params *sagemaker.DescribeTrainingJobInput, optFns ...func(*sagemaker.Options)) (*sagemaker.DescribeTrainingJobOutput, error)
	describeEndpointFunc    func(ctx context.Context, params *sagemaker.DescribeEndpointInput, optFns ...func(*sagemaker.Options)) (*sagemaker.DescribeEndpointOutput, error)

	creates []*sagemaker.CreateEndpointInput
	updates []*sagemaker.UpdateEndpointInput
}

func (m *mockSageMakerClient) DescribeTrainingJob(ctx context.Context, params *sagemaker.DescribeTrainingJobInput, optFns ...func(*sagemaker.Options)) (*sagemaker.DescribeTrainingJobOutput, error) {
	if m.describeTrainingJobFunc != nil {
		return m.describeTrainingJobFunc(ctx, params, optFns...)
	}
	return nil, errors.New("describeTrainingJobFunc not set")
}

func (m *mockSageMakerClient) DescribeEndpoint(ctx context.Context, params *sagemaker.DescribeEndpointInput, optFns ...func(*sagemaker.Options)) (*sagemaker.DescribeEndpointOutput, error) {
	if m.describeEndpointFunc != nil {
		return m.describeEndpointFunc(ctx, params, optFns...)
	}
	return nil, errors.New("describeEndpointFunc not set")
}

func (m *mockSageMakerClient) CreateEndpoint(ctx context.Context, params *sagemaker.CreateEndpointInput, optFns ...func(*sagemaker.Options)) (*sagemaker.CreateEndpointOutput, error) {
	m.creates = append(m.creates, params)
	return &sagemaker.CreateEndpointOutput{EndpointArn: aws.String("arn:aws:sagemaker:us-east-1:123456789012:endpoint/" + aws.ToString(params.EndpointName))}, nil
}

func (m *mockSageMakerClient) UpdateEndpoint(ctx context.Context, params *sagemaker.UpdateEndpointInput, optFns ...func(*sagemaker.Options)) (*sagemaker.UpdateEndpointOutput, error) {
	m.updates = append(m.updates, params)
	return &sagemaker.UpdateEndpointOutput{EndpointArn: aws.String("arn:aws:sagemaker:us-east-1:123456789012:endpoint/" + aws.ToString(params.EndpointName))}, nil
}

func testContext() context.Context {
	logger := zerolog.New(io.Discard)
	return logger.WithContext(context.Background())
}

func TestFlattenMetrics(t *testing.T) {
	assert.Nil(t, FlattenMetrics(nil))

	empty := FlattenMetrics([]types.MetricData{})
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	flat := FlattenMetrics([]types.MetricData{
		{MetricName: aws.String("accuracy"), Value: aws.Float32(0.75)},
		{MetricName: aws.String("loss"), Value: aws.Float32(0.5)},
	})
	assert.Equal(t, map[string]float32{"accuracy": 0.75, "loss": 0.5}, flat)
}

func TestProjectTrainingJob_MetricsNullVersusEmpty(t *testing.T) {
	missing, err := json.Marshal(ProjectTrainingJob(&sagemaker.DescribeTrainingJobOutput{}))
	assert.NoError(t, err)

	empty, err := json.Marshal(ProjectTrainingJob(&sagemaker.DescribeTrainingJobOutput{
		FinalMetricDataList: []types.MetricData{},
	}))
	assert.NoError(t, err)

	assert.JSONEq(t, `{
		"TrainingJobName": "",
		"TrainingJobArn": "",
		"TrainingJobStatus": "",
		"SecondaryStatus": "",
		"FailureReason": "",
		"Metrics": null,
		"AlgorithmSpecification": null,
		"ModelArtifacts": null
	}`, string(missing))
	assert.Contains(t, string(empty), `"Metrics":{}`)
}

func TestDescribeTrainingJob(t *testing.T) {
	client := &mockSageMakerClient{
		describeTrainingJobFunc: func(ctx context.Context, params *sagemaker.DescribeTrainingJobInput, optFns ...func(*sagemaker.Options)) (*sagemaker.DescribeTrainingJobOutput, error) {
			assert.Equal(t, "run-1", aws.ToString(params.TrainingJobName))
			return &sagemaker.DescribeTrainingJobOutput{
				TrainingJobName:   aws.String("run-1"),
				TrainingJobArn:    aws.String("arn:aws:sagemaker:us-east-1:123456789012:training-job/run-1"),
				TrainingJobStatus: types.TrainingJobStatusCompleted,
				SecondaryStatus:   types.SecondaryStatusCompleted,
				FinalMetricDataList: []types.MetricData{
					{MetricName: aws.String("accuracy"), Value: aws.Float32(0.5)},
				},
				AlgorithmSpecification: &types.AlgorithmSpecification{
					TrainingImage:     aws.String("123456789012.dkr.ecr.us-east-1.amazonaws.com/trainer:abc123"),
					TrainingInputMode: types.TrainingInputModeFile,
					MetricDefinitions: []types.MetricDefinition{
						{Name: aws.String("accuracy"), Regex: aws.String("accuracy::(.*?)::")},
					},
				},
				ModelArtifacts: &types.ModelArtifacts{
					S3ModelArtifacts: aws.String("s3://output-bkt/master/run-1/output/model.tar.gz"),
				},
			}, nil
		},
	}

	got, err := NewSageMakerService(client).DescribeTrainingJob(testContext(), "run-1")
	assert.NoError(t, err)
	assert.Equal(t, &TrainingJobStatus{
		TrainingJobName:   "run-1",
		TrainingJobArn:    "arn:aws:sagemaker:us-east-1:123456789012:training-job/run-1",
		TrainingJobStatus: "Completed",
		SecondaryStatus:   "Completed",
		FailureReason:     "",
		Metrics:           map[string]float32{"accuracy": 0.5},
		AlgorithmSpecification: &AlgorithmSpecification{
			TrainingImage:     "123456789012.dkr.ecr.us-east-1.amazonaws.com/trainer:abc123",
			TrainingInputMode: "File",
			MetricDefinitions: []MetricDefinition{{Name: "accuracy", Regex: "accuracy::(.*?)::"}},
		},
		ModelArtifacts: &ModelArtifacts{S3ModelArtifacts: "s3://output-bkt/master/run-1/output/model.tar.gz"},
	}, got)
}

func TestDescribeEndpoint(t *testing.T) {
	client := &mockSageMakerClient{
		describeEndpointFunc: func(ctx context.Context, params *sagemaker.DescribeEndpointInput, optFns ...func(*sagemaker.Options)) (*sagemaker.DescribeEndpointOutput, error) {
			return &sagemaker.DescribeEndpointOutput{
				EndpointName:       aws.String("model"),
				EndpointConfigName: aws.String("model-config-2"),
				EndpointStatus:     types.EndpointStatusInService,
			}, nil
		},
	}

	got, err := NewSageMakerService(client).DescribeEndpoint(testContext(), "model")
	assert.NoError(t, err)
	assert.Equal(t, "model", got.EndpointName)
	assert.Equal(t, "model-config-2", got.EndpointConfigName)
	assert.Equal(t, "InService", got.EndpointStatus)
	assert.Nil(t, got.FailureReason)

	data, err := json.Marshal(got)
	assert.NoError(t, err)
	assert.Contains(t, string(data), `"FailureReason":null`)
}

func TestCreateOrUpdateEndpoint_Creates(t *testing.T) {
	notFoundErrors := []error{
		&types.ResourceNotFound{Message: aws.String("not found")},
		&smithy.GenericAPIError{Code: "ValidationException", Message: "Could not find endpoint \"model\"."},
	}

	for _, describeErr := range notFoundErrors {
		client := &mockSageMakerClient{
			describeEndpointFunc: func(ctx context.Context, params *sagemaker.DescribeEndpointInput, optFns ...func(*sagemaker.Options)) (*sagemaker.DescribeEndpointOutput, error) {
				return nil, describeErr
			},
		}

		result, err := NewSageMakerService(client).CreateOrUpdateEndpoint(testContext(), "model", "model-config-1", map[string]string{
			"stage":   "prod",
			"product": "ml",
			"service": "scoring",
		})
		assert.NoError(t, err)
		assert.True(t, result.Created)
		assert.Equal(t, "arn:aws:sagemaker:us-east-1:123456789012:endpoint/model", result.EndpointArn)

		assert.Empty(t, client.updates)
		if assert.Len(t, client.creates, 1) {
			create := client.creates[0]
			assert.Equal(t, "model", aws.ToString(create.EndpointName))
			assert.Equal(t, "model-config-1", aws.ToString(create.EndpointConfigName))
			assert.Equal(t, []types.Tag{
				{Key: aws.String("product"), Value: aws.String("ml")},
				{Key: aws.String("service"), Value: aws.String("scoring")},
				{Key: aws.String("stage"), Value: aws.String("prod")},
			}, create.Tags)
		}
	}
}

func TestCreateOrUpdateEndpoint_Updates(t *testing.T) {
	client := &mockSageMakerClient{
		describeEndpointFunc: func(ctx context.Context, params *sagemaker.DescribeEndpointInput, optFns ...func(*sagemaker.Options)) (*sagemaker.DescribeEndpointOutput, error) {
			return &sagemaker.DescribeEndpointOutput{EndpointName: params.EndpointName}, nil
		},
	}

	result, err := NewSageMakerService(client).CreateOrUpdateEndpoint(testContext(), "model", "model-config-2", map[string]string{"stage": "prod"})
	assert.NoError(t, err)
	assert.False(t, result.Created)

	assert.Empty(t, client.creates)
	if assert.Len(t, client.updates, 1) {
		assert.Equal(t, "model", aws.ToString(client.updates[0].EndpointName))
		assert.Equal(t, "model-config-2", aws.ToString(client.updates[0].EndpointConfigName))
	}
}

func TestCreateOrUpdateEndpoint_ProbeFailurePropagates(t *testing.T) {
	client := &mockSageMakerClient{
		describeEndpointFunc: func(ctx context.Context, params *sagemaker.DescribeEndpointInput, optFns ...func(*sagemaker.Options)) (*sagemaker.DescribeEndpointOutput, error) {
			return nil, &smithy.GenericAPIError{Code: "AccessDeniedException", Message: "not authorized"}
		},
	}

	_, err := NewSageMakerService(client).CreateOrUpdateEndpoint(testContext(), "model", "model-config-2", nil)
	assert.Error(t, err)
	assert.Empty(t, client.creates)
	assert.Empty(t, client.updates)
}

func TestConfig_ResourceTags(t *testing.T) {
	c := &Config{ProductTagValue: "ml", ServiceTagValue: "scoring", StageTagValue: "prod"}
	assert.Equal(t, map[string]string{"product": "ml", "service": "scoring", "stage": "prod"}, c.ResourceTags())
}
