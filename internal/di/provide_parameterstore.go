package di

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog"
	"github.com/savaki/ml-pipeline/internal/services"
)

// ProvideSSMClient provides an SSM client for Parameter Store access
// Returns nil if SSM is disabled (for local development)
func ProvideSSMClient(awsConfig aws.Config) *ssm.Client {
	if os.Getenv("DISABLE_SSM") == "true" {
		return nil
	}

	return ssm.NewFromConfig(awsConfig)
}

// ProvideParameterStore provides a ParameterStore implementation. A config file wins,
// then SSM Parameter Store, then environment variables when SSM is disabled.
func ProvideParameterStore(ctx context.Context, configFile ConfigFile, ssmClient *ssm.Client, env string) services.ParameterStore {
	logger := zerolog.Ctx(ctx)

	if configFile != "" {
		logger.Info().Str("config_file", string(configFile)).Msg("Using yaml file for configuration")
		return services.NewYAMLParameterStore(string(configFile))
	}

	if ssmClient == nil {
		logger.Info().Msg("Using environment variables for configuration (SSM disabled)")
		return services.NewEnvParameterStore(env)
	}

	logger.Info().Str("path", services.Path(env)).Msg("Using AWS Systems Manager Parameter Store for configuration")
	return services.NewSSMParameterStore(ssmClient, env)
}

// ProvideAppConfig loads application configuration from the selected ParameterStore
func ProvideAppConfig(ctx context.Context, store services.ParameterStore) (*services.Config, error) {
	logger := zerolog.Ctx(ctx)

	config, err := store.GetConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger.Info().
		Bool("has_state_machine_arn", config.StateMachineArn != "").
		Str("data_bucket_name", config.DataBucketName).
		Str("ecr_repository_name", config.ECRRepositoryName).
		Str("output_bucket_name", config.OutputBucketName).
		Str("endpoint_name", config.EndpointName).
		Bool("delete_source_archive", config.DeleteSourceArchive).
		Msg("Configuration loaded successfully")

	return config, nil
}
