package commands

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/rs/zerolog"
	"github.com/savaki/ml-pipeline/internal/services"
)

// ECRProvisioner creates repositories and opens them to the organization
type ECRProvisioner interface {
	CreateRepository(ctx context.Context, repositoryName string) (*services.RepositoryInfo, error)
	GetOrganizationID(ctx context.Context) (string, error)
	SetRepositoryPolicy(ctx context.Context, repositoryName, organizationID string) error
}

// ParameterWriter records settings in SSM Parameter Store
type ParameterWriter interface {
	PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
}

// repositoryTarget pairs a repository with the setting that names it
type repositoryTarget struct {
	Key  string
	Name string
}

// ECRCreationResult contains information about created ECR repositories
type ECRCreationResult struct {
	Repositories   []*services.RepositoryInfo
	OrganizationID string
}

// createECRRepositories creates ECR repositories with org-wide read permissions
func createECRRepositories(ctx context.Context, logger *zerolog.Logger, ecrService ECRProvisioner, targets []repositoryTarget) (*ECRCreationResult, error) {
	if len(targets) == 0 {
		return &ECRCreationResult{}, nil
	}

	logger.Info().Msgf("Creating %d ECR repositories...", len(targets))

	orgID, err := ecrService.GetOrganizationID(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to check organization status (will skip org-wide permissions)")
		orgID = ""
	}

	if orgID != "" {
		logger.Info().Msgf("Account is in organization: %s", orgID)
	} else {
		logger.Info().Msg("Account is not in an organization, skipping org-wide permissions")
	}

	var repositories []*services.RepositoryInfo
	for _, target := range targets {
		repoInfo, err := ecrService.CreateRepository(ctx, target.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to create repository %q: %w", target.Name, err)
		}

		logger.Info().
			Str("name", repoInfo.Name).
			Str("arn", repoInfo.ARN).
			Str("uri", repoInfo.URI).
			Msg("Repository ready")

		if orgID != "" {
			if err := ecrService.SetRepositoryPolicy(ctx, target.Name, orgID); err != nil {
				logger.Warn().Err(err).Str("name", target.Name).Msg("Failed to set org-wide policy (repository still created)")
			}
		}

		repositories = append(repositories, repoInfo)
	}

	return &ECRCreationResult{
		Repositories:   repositories,
		OrganizationID: orgID,
	}, nil
}

// storeRepositoryNames records each repository under its setting so the lambdas pick
// it up on their next cold start
func storeRepositoryNames(ctx context.Context, logger *zerolog.Logger, client ParameterWriter, env string, targets []repositoryTarget) error {
	for _, target := range targets {
		name := services.Path(env) + "/" + target.Key

		logger.Info().
			Str("ssm_path", name).
			Str("repository", target.Name).
			Msg("Storing repository name in SSM")

		_, err := client.PutParameter(ctx, &ssm.PutParameterInput{
			Name:        aws.String(name),
			Value:       aws.String(target.Name),
			Type:        types.ParameterTypeString,
			Overwrite:   aws.Bool(true),
			Description: aws.String(fmt.Sprintf("ECR repository for %s in the %s environment", target.Key, env)),
		})
		if err != nil {
			return fmt.Errorf("failed to store %s in SSM: %w", name, err)
		}
	}
	return nil
}
