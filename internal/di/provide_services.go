package di

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/rs/zerolog"
	"github.com/savaki/ml-pipeline/internal/artifacts"
	"github.com/savaki/ml-pipeline/internal/dao/rundao"
	"github.com/savaki/ml-pipeline/internal/orchestrator"
	"github.com/savaki/ml-pipeline/internal/relocator"
	"github.com/savaki/ml-pipeline/internal/services"
	"github.com/savaki/ml-pipeline/internal/settings"
	"github.com/savaki/ml-pipeline/internal/trigger"
)

func ProvideResolver(s3Client *s3.Client, ecrClient *ecr.Client) *artifacts.Resolver {
	return artifacts.New(s3Client, ecrClient)
}

// ProvideSettingsFetcher returns nil when no settings bucket is configured, which
// turns off per-image settings for the trigger
func ProvideSettingsFetcher(ctx context.Context, s3Client *s3.Client, config *services.Config) *settings.Fetcher {
	if config.SettingsBucketName == "" {
		zerolog.Ctx(ctx).Info().Msg("No settings bucket configured, per-image settings disabled")
		return nil
	}
	return settings.NewFetcher(s3Client, config.SettingsBucketName)
}

// ProvideOrchestrator does not require the state machine arn; the trigger reports a
// missing arn per event instead of failing at cold start
func ProvideOrchestrator(sfnClient *sfn.Client, dao *rundao.DAO, config *services.Config) *orchestrator.Orchestrator {
	return orchestrator.New(sfnClient, config.StateMachineArn, dao)
}

func ProvideRelocator(s3Client *s3.Client, config *services.Config) *relocator.Relocator {
	return relocator.New(s3Client, config.OutputBucketName, config.DeleteSourceArchive)
}

func ProvideSageMakerService(client *sagemaker.Client) *services.SageMakerService {
	return services.NewSageMakerService(client)
}

func ProvideECRService(ecrClient *ecr.Client, stsClient *sts.Client, orgClient *organizations.Client) *services.ECRService {
	return services.NewECRService(ecrClient, stsClient, orgClient)
}

// ProvideTrigger attaches the settings fetcher only when one is configured
func ProvideTrigger(config *services.Config, resolver *artifacts.Resolver, fetcher *settings.Fetcher, starter *orchestrator.Orchestrator) *trigger.Trigger {
	if fetcher == nil {
		return trigger.New(config, resolver, nil, starter)
	}
	return trigger.New(config, resolver, fetcher, starter)
}
