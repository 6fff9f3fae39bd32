// Package artifacts resolves the current data object version and the latest training
// image so a pipeline run always starts from specific, re-fetchable artifacts.
package artifacts

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/rs/zerolog"
	"github.com/savaki/ml-pipeline/internal/errors"
	"github.com/savaki/ml-pipeline/internal/models"
)

// S3Client is the subset of the S3 API used to resolve data versions
type S3Client interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// ECRClient is the subset of the ECR API used to resolve images
type ECRClient interface {
	DescribeImages(ctx context.Context, params *ecr.DescribeImagesInput, optFns ...func(*ecr.Options)) (*ecr.DescribeImagesOutput, error)
	DescribeRepositories(ctx context.Context, params *ecr.DescribeRepositoriesInput, optFns ...func(*ecr.Options)) (*ecr.DescribeRepositoriesOutput, error)
}

// Resolver looks up artifact references. Not-found conditions are reported as errors
// wrapping errors.ErrNotFound; anything else is a service failure.
type Resolver struct {
	s3Client  S3Client
	ecrClient ECRClient
}

// New creates a new Resolver
func New(s3Client S3Client, ecrClient ECRClient) *Resolver {
	return &Resolver{
		s3Client:  s3Client,
		ecrClient: ecrClient,
	}
}

// ResolveData returns the current version of s3://bucket/key
func (r *Resolver) ResolveData(ctx context.Context, bucket, key string) (models.DataReference, error) {
	logger := zerolog.Ctx(ctx)

	output, err := r.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			logger.Info().
				Str("bucket", bucket).
				Str("key", key).
				Msg("Data object not found")
			return models.DataReference{}, fmt.Errorf("%w: data object s3://%s/%s", errors.ErrNotFound, bucket, key)
		}
		return models.DataReference{}, fmt.Errorf("failed to head data object s3://%s/%s: %w", bucket, key, err)
	}

	version := aws.ToString(output.VersionId)
	if version == "" || version == "null" {
		return models.DataReference{}, fmt.Errorf("%w: data object s3://%s/%s has no version", errors.ErrNotFound, bucket, key)
	}

	return models.DataReference{
		Bucket:  bucket,
		Key:     key,
		Version: version,
	}, nil
}

// ResolveImage returns the most recently pushed image in the repository
func (r *Resolver) ResolveImage(ctx context.Context, repositoryName string) (models.ImageReference, error) {
	logger := zerolog.Ctx(ctx)

	latest, err := r.latestImage(ctx, repositoryName)
	if err != nil {
		return models.ImageReference{}, err
	}

	if len(latest.ImageTags) == 0 {
		logger.Info().
			Str("repository_name", repositoryName).
			Str("image_digest", aws.ToString(latest.ImageDigest)).
			Msg("Latest image has no tags")
		return models.ImageReference{}, fmt.Errorf("%w: latest image in %s has no tags", errors.ErrNotFound, repositoryName)
	}

	return r.reference(ctx, repositoryName, latest.ImageTags)
}

// ResolveImageTag returns a reference to a known tag in the repository
func (r *Resolver) ResolveImageTag(ctx context.Context, repositoryName, tag string) (models.ImageReference, error) {
	return r.reference(ctx, repositoryName, []string{tag})
}

func (r *Resolver) reference(ctx context.Context, repositoryName string, tags []string) (models.ImageReference, error) {
	repositoryURI, err := r.repositoryURI(ctx, repositoryName)
	if err != nil {
		return models.ImageReference{}, err
	}

	imageURI := fmt.Sprintf("%s:%s", repositoryURI, tags[0])
	if _, err := name.NewTag(imageURI, name.StrictValidation); err != nil {
		return models.ImageReference{}, fmt.Errorf("%w: %s: %v", errors.ErrInvalidImageURI, imageURI, err)
	}

	return models.ImageReference{
		RepositoryName: repositoryName,
		ImageTags:      tags,
		ImageURI:       imageURI,
	}, nil
}

// latestImage walks every image in the repository and keeps the one with the greatest
// push timestamp; on ties the one encountered last wins
func (r *Resolver) latestImage(ctx context.Context, repositoryName string) (ecrtypes.ImageDetail, error) {
	logger := zerolog.Ctx(ctx)

	var (
		latest   ecrtypes.ImageDetail
		latestAt time.Time
		found    bool
	)

	paginator := ecr.NewDescribeImagesPaginator(r.ecrClient, &ecr.DescribeImagesInput{
		RepositoryName: aws.String(repositoryName),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			var notFound *ecrtypes.RepositoryNotFoundException
			if stderrors.As(err, &notFound) {
				logger.Info().
					Str("repository_name", repositoryName).
					Msg("ECR repository not found")
				return ecrtypes.ImageDetail{}, fmt.Errorf("%w: repository %s", errors.ErrNotFound, repositoryName)
			}
			return ecrtypes.ImageDetail{}, fmt.Errorf("failed to describe images in %s: %w", repositoryName, err)
		}

		for _, image := range page.ImageDetails {
			pushedAt := aws.ToTime(image.ImagePushedAt)
			if !found || !pushedAt.Before(latestAt) {
				latest, latestAt, found = image, pushedAt, true
			}
		}
	}

	if !found {
		logger.Info().
			Str("repository_name", repositoryName).
			Msg("ECR repository has no images")
		return ecrtypes.ImageDetail{}, fmt.Errorf("%w: no images in repository %s", errors.ErrNotFound, repositoryName)
	}

	return latest, nil
}

// repositoryURI lists repositories and returns the URI of the one named repositoryName
func (r *Resolver) repositoryURI(ctx context.Context, repositoryName string) (string, error) {
	paginator := ecr.NewDescribeRepositoriesPaginator(r.ecrClient, &ecr.DescribeRepositoriesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to describe repositories: %w", err)
		}
		for _, repository := range page.Repositories {
			if aws.ToString(repository.RepositoryName) == repositoryName {
				if uri := aws.ToString(repository.RepositoryUri); uri != "" {
					return uri, nil
				}
			}
		}
	}

	return "", fmt.Errorf("%w: uri for repository %s", errors.ErrNotFound, repositoryName)
}

// isS3NotFound reports whether err means the object (or requested version) does not exist
func isS3NotFound(err error) bool {
	var notFound *s3types.NotFound
	if stderrors.As(err, &notFound) {
		return true
	}
	var noSuchKey *s3types.NoSuchKey
	if stderrors.As(err, &noSuchKey) {
		return true
	}
	var apiErr smithy.APIError
	if stderrors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "NoSuchBucket":
			return true
		}
	}
	return false
}
