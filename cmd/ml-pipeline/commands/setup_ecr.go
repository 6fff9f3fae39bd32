package commands

import (
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog"
	"github.com/savaki/ml-pipeline/internal/di"
	"github.com/savaki/ml-pipeline/internal/services"
	"github.com/urfave/cli/v2"
)

func SetupECRCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "setup-ecr",
		Usage: "Create ECR repositories for training images",
		Description: `Create ECR repositories with scan-on-push, tag immutability, and org-wide read permissions.

The repository watched by the trigger is required. The master and staging repositories
decide where create-training-job writes model output and are optional.

Each repository name is stored in SSM Parameter Store under /<env>/ml-pipeline.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "env",
				Aliases: []string{"environment"},
				Usage:   "Environment name (dev, staging, prod)",
				Value:   "dev",
				EnvVars: []string{"ENV"},
			},
			&cli.StringFlag{
				Name:     "repository",
				Aliases:  []string{"r"},
				Usage:    "Repository whose pushes trigger training",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "master-repository",
				Usage: "Repository for master branch training images",
			},
			&cli.StringFlag{
				Name:  "staging-repository",
				Usage: "Repository for staging training images",
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Show what would be created without creating resources",
			},
		},
		Action: func(c *cli.Context) error {
			return setupECRAction(c, logger)
		},
	}
}

func repositoryTargets(c *cli.Context) []repositoryTarget {
	candidates := []repositoryTarget{
		{Key: services.KeyECRRepositoryName, Name: c.String("repository")},
		{Key: services.KeyMasterECRRepositoryName, Name: c.String("master-repository")},
		{Key: services.KeyStagingECRRepositoryName, Name: c.String("staging-repository")},
	}

	var targets []repositoryTarget
	for _, candidate := range candidates {
		if candidate.Name != "" {
			targets = append(targets, candidate)
		}
	}
	return targets
}

func setupECRAction(c *cli.Context, logger *zerolog.Logger) error {
	ctx := logger.WithContext(c.Context)

	env := c.String("env")
	targets := repositoryTargets(c)

	if c.Bool("dry-run") {
		logger.Info().Msg("DRY RUN: Would create the following ECR repositories:")
		for _, target := range targets {
			logger.Info().Msgf("  - %s (stored at %s/%s)", target.Name, services.Path(env), target.Key)
		}
		logger.Info().Msg("DRY RUN: Would enable scan on push and tag immutability")
		logger.Info().Msg("DRY RUN: Would check for AWS Organization and set org-wide read permissions if applicable")
		return nil
	}

	container, err := di.New(env)
	if err != nil {
		return err
	}

	var (
		ecrService = di.MustGet[*services.ECRService](container)
		ssmClient  = di.MustGet[*ssm.Client](container)
	)

	result, err := createECRRepositories(ctx, logger, ecrService, targets)
	if err != nil {
		return err
	}

	if ssmClient == nil {
		logger.Warn().Msg("SSM is disabled, repository names were not stored")
	} else if err := storeRepositoryNames(ctx, logger, ssmClient, env, targets); err != nil {
		return err
	}

	accountID, err := ecrService.GetAccountID(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to get account ID")
		accountID = "unknown"
	}

	logger.Info().Msg("ECR setup complete")
	logger.Info().Msgf("Account:      %s", accountID)
	logger.Info().Msgf("Repositories: %d", len(result.Repositories))
	if result.OrganizationID != "" {
		logger.Info().Msgf("Organization: %s (org-wide read permissions)", result.OrganizationID)
	}
	for _, repo := range result.Repositories {
		logger.Info().Msgf("  %s", repo.URI)
	}
	logger.Info().Msg("Push a training image with: docker push <repository-uri>:<git-sha>")

	return nil
}
