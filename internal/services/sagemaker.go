package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"
)

// SageMakerClient is the subset of the SageMaker API used by the pipeline
type SageMakerClient interface {
	DescribeTrainingJob(ctx context.Context, params *sagemaker.DescribeTrainingJobInput, optFns ...func(*sagemaker.Options)) (*sagemaker.DescribeTrainingJobOutput, error)
	DescribeEndpoint(ctx context.Context, params *sagemaker.DescribeEndpointInput, optFns ...func(*sagemaker.Options)) (*sagemaker.DescribeEndpointOutput, error)
	CreateEndpoint(ctx context.Context, params *sagemaker.CreateEndpointInput, optFns ...func(*sagemaker.Options)) (*sagemaker.CreateEndpointOutput, error)
	UpdateEndpoint(ctx context.Context, params *sagemaker.UpdateEndpointInput, optFns ...func(*sagemaker.Options)) (*sagemaker.UpdateEndpointOutput, error)
}

// TrainingJobStatus is the projection of DescribeTrainingJob handed back to the workflow
type TrainingJobStatus struct {
	TrainingJobName        string                  `json:"TrainingJobName"`
	TrainingJobArn         string                  `json:"TrainingJobArn"`
	TrainingJobStatus      string                  `json:"TrainingJobStatus"`
	SecondaryStatus        string                  `json:"SecondaryStatus"`
	FailureReason          string                  `json:"FailureReason"`
	Metrics                map[string]float32      `json:"Metrics"`
	AlgorithmSpecification *AlgorithmSpecification `json:"AlgorithmSpecification"`
	ModelArtifacts         *ModelArtifacts         `json:"ModelArtifacts"`
}

// AlgorithmSpecification mirrors the training job's algorithm block
type AlgorithmSpecification struct {
	TrainingImage     string             `json:"TrainingImage,omitempty"`
	AlgorithmName     string             `json:"AlgorithmName,omitempty"`
	TrainingInputMode string             `json:"TrainingInputMode"`
	MetricDefinitions []MetricDefinition `json:"MetricDefinitions,omitempty"`
}

type MetricDefinition struct {
	Name  string `json:"Name"`
	Regex string `json:"Regex"`
}

// ModelArtifacts locates the trained model archive
type ModelArtifacts struct {
	S3ModelArtifacts string `json:"S3ModelArtifacts"`
}

// EndpointStatus is the projection of DescribeEndpoint handed back to the workflow
type EndpointStatus struct {
	EndpointName       string  `json:"EndpointName"`
	EndpointConfigName string  `json:"EndpointConfigName"`
	EndpointStatus     string  `json:"EndpointStatus"`
	FailureReason      *string `json:"FailureReason"`
}

// EndpointResult is the create or update response
type EndpointResult struct {
	EndpointArn string `json:"EndpointArn"`
	Created     bool   `json:"-"`
}

// SageMakerService wraps the SageMaker calls made by the workflow steps
type SageMakerService struct {
	client SageMakerClient
}

// NewSageMakerService creates a new SageMaker service
func NewSageMakerService(client SageMakerClient) *SageMakerService {
	return &SageMakerService{
		client: client,
	}
}

// DescribeTrainingJob fetches and projects a training job
func (s *SageMakerService) DescribeTrainingJob(ctx context.Context, name string) (*TrainingJobStatus, error) {
	output, err := s.client.DescribeTrainingJob(ctx, &sagemaker.DescribeTrainingJobInput{
		TrainingJobName: aws.String(name),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe training job %s: %w", name, err)
	}
	return ProjectTrainingJob(output), nil
}

// ProjectTrainingJob flattens the fields the workflow needs out of a training job description
func ProjectTrainingJob(output *sagemaker.DescribeTrainingJobOutput) *TrainingJobStatus {
	status := &TrainingJobStatus{
		TrainingJobName:   aws.ToString(output.TrainingJobName),
		TrainingJobArn:    aws.ToString(output.TrainingJobArn),
		TrainingJobStatus: string(output.TrainingJobStatus),
		SecondaryStatus:   string(output.SecondaryStatus),
		FailureReason:     aws.ToString(output.FailureReason),
		Metrics:           FlattenMetrics(output.FinalMetricDataList),
	}

	if spec := output.AlgorithmSpecification; spec != nil {
		status.AlgorithmSpecification = &AlgorithmSpecification{
			TrainingImage:     aws.ToString(spec.TrainingImage),
			AlgorithmName:     aws.ToString(spec.AlgorithmName),
			TrainingInputMode: string(spec.TrainingInputMode),
		}
		for _, def := range spec.MetricDefinitions {
			status.AlgorithmSpecification.MetricDefinitions = append(status.AlgorithmSpecification.MetricDefinitions, MetricDefinition{
				Name:  aws.ToString(def.Name),
				Regex: aws.ToString(def.Regex),
			})
		}
	}

	if artifacts := output.ModelArtifacts; artifacts != nil {
		status.ModelArtifacts = &ModelArtifacts{
			S3ModelArtifacts: aws.ToString(artifacts.S3ModelArtifacts),
		}
	}

	return status
}

// FlattenMetrics turns the final metric list into a name keyed map. A nil list means
// the job reported no metric field and yields nil; an empty list yields an empty map.
func FlattenMetrics(metrics []types.MetricData) map[string]float32 {
	if metrics == nil {
		return nil
	}

	flat := make(map[string]float32, len(metrics))
	for _, metric := range metrics {
		flat[aws.ToString(metric.MetricName)] = aws.ToFloat32(metric.Value)
	}
	return flat
}

// DescribeEndpoint fetches and projects an endpoint
func (s *SageMakerService) DescribeEndpoint(ctx context.Context, name string) (*EndpointStatus, error) {
	output, err := s.client.DescribeEndpoint(ctx, &sagemaker.DescribeEndpointInput{
		EndpointName: aws.String(name),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe endpoint %s: %w", name, err)
	}
	return ProjectEndpoint(output), nil
}

// ProjectEndpoint flattens the fields the workflow needs out of an endpoint description
func ProjectEndpoint(output *sagemaker.DescribeEndpointOutput) *EndpointStatus {
	return &EndpointStatus{
		EndpointName:       aws.ToString(output.EndpointName),
		EndpointConfigName: aws.ToString(output.EndpointConfigName),
		EndpointStatus:     string(output.EndpointStatus),
		FailureReason:      output.FailureReason,
	}
}

// EndpointExists probes the endpoint by name. Only a not-found answer counts as
// absence; any other failure is returned so it is never mistaken for a missing endpoint.
func (s *SageMakerService) EndpointExists(ctx context.Context, name string) (bool, error) {
	_, err := s.client.DescribeEndpoint(ctx, &sagemaker.DescribeEndpointInput{
		EndpointName: aws.String(name),
	})
	if err == nil {
		return true, nil
	}
	if isEndpointNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to describe endpoint %s: %w", name, err)
}

// CreateOrUpdateEndpoint points the named endpoint at configName, creating it with
// tags when absent. Tags are only applied on create.
func (s *SageMakerService) CreateOrUpdateEndpoint(ctx context.Context, name, configName string, tags map[string]string) (*EndpointResult, error) {
	logger := zerolog.Ctx(ctx)

	exists, err := s.EndpointExists(ctx, name)
	if err != nil {
		return nil, err
	}

	if exists {
		logger.Info().
			Str("endpoint_name", name).
			Str("endpoint_config_name", configName).
			Msg("Updating endpoint")

		output, err := s.client.UpdateEndpoint(ctx, &sagemaker.UpdateEndpointInput{
			EndpointName:       aws.String(name),
			EndpointConfigName: aws.String(configName),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to update endpoint %s: %w", name, err)
		}
		return &EndpointResult{EndpointArn: aws.ToString(output.EndpointArn)}, nil
	}

	logger.Info().
		Str("endpoint_name", name).
		Str("endpoint_config_name", configName).
		Msg("Creating endpoint")

	output, err := s.client.CreateEndpoint(ctx, &sagemaker.CreateEndpointInput{
		EndpointName:       aws.String(name),
		EndpointConfigName: aws.String(configName),
		Tags:               Tags(tags),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create endpoint %s: %w", name, err)
	}
	return &EndpointResult{EndpointArn: aws.ToString(output.EndpointArn), Created: true}, nil
}

// Tags converts a tag map into SageMaker tags in stable key order
func Tags(tags map[string]string) []types.Tag {
	keys := make([]string, 0, len(tags))
	for key := range tags {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	result := make([]types.Tag, 0, len(keys))
	for _, key := range keys {
		result = append(result, types.Tag{
			Key:   aws.String(key),
			Value: aws.String(tags[key]),
		})
	}
	return result
}

// ResourceTags returns the product/service/stage tags applied to created resources
func (c *Config) ResourceTags() map[string]string {
	return map[string]string{
		"product": c.ProductTagValue,
		"service": c.ServiceTagValue,
		"stage":   c.StageTagValue,
	}
}

func isEndpointNotFound(err error) bool {
	var notFound *types.ResourceNotFound
	if errors.As(err, &notFound) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ResourceNotFound":
			return true
		case "ValidationException":
			return strings.Contains(strings.ToLower(apiErr.ErrorMessage()), "could not find")
		}
	}
	return false
}
