package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	orgtypes "github.com/aws/aws-sdk-go-v2/service/organizations/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
)

// ManagedByTag marks repositories created by the setup tooling
const ManagedByTag = "ml-pipeline"

// ECRRepositoryClient is the subset of the ECR API used to provision training image repositories
type ECRRepositoryClient interface {
	CreateRepository(ctx context.Context, params *ecr.CreateRepositoryInput, optFns ...func(*ecr.Options)) (*ecr.CreateRepositoryOutput, error)
	DescribeRepositories(ctx context.Context, params *ecr.DescribeRepositoriesInput, optFns ...func(*ecr.Options)) (*ecr.DescribeRepositoriesOutput, error)
	SetRepositoryPolicy(ctx context.Context, params *ecr.SetRepositoryPolicyInput, optFns ...func(*ecr.Options)) (*ecr.SetRepositoryPolicyOutput, error)
}

type STSClient interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

type OrganizationsClient interface {
	DescribeOrganization(ctx context.Context, params *organizations.DescribeOrganizationInput, optFns ...func(*organizations.Options)) (*organizations.DescribeOrganizationOutput, error)
}

type ECRService struct {
	client    ECRRepositoryClient
	stsClient STSClient
	orgClient OrganizationsClient
}

func NewECRService(client ECRRepositoryClient, stsClient STSClient, orgClient OrganizationsClient) *ECRService {
	return &ECRService{
		client:    client,
		stsClient: stsClient,
		orgClient: orgClient,
	}
}

type RepositoryInfo struct {
	Name string `json:"name"`
	ARN  string `json:"arn"`
	URI  string `json:"uri"`
}

// CreateRepository creates an ECR repository with scan-on-push and tag immutability enabled.
// An existing repository is described and returned as is.
func (s *ECRService) CreateRepository(ctx context.Context, repositoryName string) (*RepositoryInfo, error) {
	output, err := s.client.CreateRepository(ctx, &ecr.CreateRepositoryInput{
		RepositoryName:     aws.String(repositoryName),
		ImageTagMutability: types.ImageTagMutabilityImmutable,
		ImageScanningConfiguration: &types.ImageScanningConfiguration{
			ScanOnPush: true,
		},
		Tags: []types.Tag{
			{
				Key:   aws.String("ManagedBy"),
				Value: aws.String(ManagedByTag),
			},
		},
	})
	if err == nil {
		return repositoryInfo(output.Repository), nil
	}

	var exists *types.RepositoryAlreadyExistsException
	if !errors.As(err, &exists) {
		return nil, fmt.Errorf("failed to create repository %s: %w", repositoryName, err)
	}

	describeOutput, err := s.client.DescribeRepositories(ctx, &ecr.DescribeRepositoriesInput{
		RepositoryNames: []string{repositoryName},
	})
	if err != nil {
		return nil, fmt.Errorf("repository %s exists but failed to describe: %w", repositoryName, err)
	}
	if len(describeOutput.Repositories) == 0 {
		return nil, fmt.Errorf("repository %s exists but not found in describe", repositoryName)
	}
	return repositoryInfo(&describeOutput.Repositories[0]), nil
}

func repositoryInfo(repo *types.Repository) *RepositoryInfo {
	if repo == nil {
		return &RepositoryInfo{}
	}
	return &RepositoryInfo{
		Name: aws.ToString(repo.RepositoryName),
		ARN:  aws.ToString(repo.RepositoryArn),
		URI:  aws.ToString(repo.RepositoryUri),
	}
}

// GetOrganizationID returns the AWS Organization ID, or "" when the account does not
// belong to one or may not ask
func (s *ECRService) GetOrganizationID(ctx context.Context) (string, error) {
	output, err := s.orgClient.DescribeOrganization(ctx, &organizations.DescribeOrganizationInput{})
	if err != nil {
		var notInUse *orgtypes.AWSOrganizationsNotInUseException
		var denied *orgtypes.AccessDeniedException
		if errors.As(err, &notInUse) || errors.As(err, &denied) {
			return "", nil
		}
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "AccessDeniedException" {
			return "", nil
		}
		return "", fmt.Errorf("failed to describe organization: %w", err)
	}
	if output.Organization == nil {
		return "", nil
	}
	return aws.ToString(output.Organization.Id), nil
}

// OrganizationReadPolicy returns the repository policy that lets every principal in
// the organization pull images, which SageMaker training in member accounts needs
func OrganizationReadPolicy(organizationID string) (string, error) {
	policy := map[string]any{
		"Version": "2012-10-17",
		"Statement": []map[string]any{
			{
				"Sid":    "OrganizationAccess",
				"Effect": "Allow",
				"Principal": map[string]any{
					"AWS": "*",
				},
				"Action": []string{
					"ecr:GetDownloadUrlForLayer",
					"ecr:BatchGetImage",
					"ecr:BatchCheckLayerAvailability",
					"ecr:DescribeImages",
					"ecr:DescribeRepositories",
					"ecr:ListImages",
				},
				"Condition": map[string]any{
					"StringEquals": map[string]any{
						"aws:PrincipalOrgID": organizationID,
					},
				},
			},
		},
	}

	data, err := json.Marshal(policy)
	if err != nil {
		return "", fmt.Errorf("failed to marshal policy: %w", err)
	}
	return string(data), nil
}

// SetRepositoryPolicy sets an organization-wide read policy on the repository
func (s *ECRService) SetRepositoryPolicy(ctx context.Context, repositoryName, organizationID string) error {
	policy, err := OrganizationReadPolicy(organizationID)
	if err != nil {
		return err
	}

	_, err = s.client.SetRepositoryPolicy(ctx, &ecr.SetRepositoryPolicyInput{
		RepositoryName: aws.String(repositoryName),
		PolicyText:     aws.String(policy),
	})
	if err != nil {
		return fmt.Errorf("failed to set repository policy on %s: %w", repositoryName, err)
	}
	return nil
}

// GetAccountID retrieves the AWS account ID
func (s *ECRService) GetAccountID(ctx context.Context) (string, error) {
	output, err := s.stsClient.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("failed to get caller identity: %w", err)
	}
	return aws.ToString(output.Account), nil
}
