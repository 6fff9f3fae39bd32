package artifacts

import (
	"context"
	stderrors "errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"
	"github.com/savaki/ml-pipeline/internal/errors"
	"github.com/stretchr/testify/assert"
)

const testRepositoryURI = "123456789012.dkr.ecr.us-east-1.amazonaws.com/trainer"

type mockS3Client struct {
	headObjectFunc func(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

func (m *mockS3Client) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	return m.headObjectFunc(ctx, params, optFns...)
}

type mockECRClient struct {
	describeImagesFunc       func(ctx context.Context, params *ecr.DescribeImagesInput, optFns ...func(*ecr.Options)) (*ecr.DescribeImagesOutput, error)
	describeRepositoriesFunc func(ctx context.Context, params *ecr.DescribeRepositoriesInput, optFns ...func(*ecr.Options)) (*ecr.DescribeRepositoriesOutput, error)
}

func (m *mockECRClient) DescribeImages(ctx context.Context, params *ecr.DescribeImagesInput, optFns ...func(*ecr.Options)) (*ecr.DescribeImagesOutput, error) {
	if m.describeImagesFunc != nil {
		return m.describeImagesFunc(ctx, params, optFns...)
	}
	return nil, stderrors.New("describeImagesFunc not set")
}

func (m *mockECRClient) DescribeRepositories(ctx context.Context, params *ecr.DescribeRepositoriesInput, optFns ...func(*ecr.Options)) (*ecr.DescribeRepositoriesOutput, error) {
	if m.describeRepositoriesFunc != nil {
		return m.describeRepositoriesFunc(ctx, params, optFns...)
	}
	return &ecr.DescribeRepositoriesOutput{
		Repositories: []ecrtypes.Repository{
			{RepositoryName: aws.String("other"), RepositoryUri: aws.String("123456789012.dkr.ecr.us-east-1.amazonaws.com/other")},
			{RepositoryName: aws.String("trainer"), RepositoryUri: aws.String(testRepositoryURI)},
		},
	}, nil
}

func testContext() context.Context {
	logger := zerolog.New(io.Discard)
	return logger.WithContext(context.Background())
}

func images(details ...ecrtypes.ImageDetail) func(ctx context.Context, params *ecr.DescribeImagesInput, optFns ...func(*ecr.Options)) (*ecr.DescribeImagesOutput, error) {
	return func(ctx context.Context, params *ecr.DescribeImagesInput, optFns ...func(*ecr.Options)) (*ecr.DescribeImagesOutput, error) {
		return &ecr.DescribeImagesOutput{ImageDetails: details}, nil
	}
}

func TestResolveData(t *testing.T) {
	s3Client := &mockS3Client{
		headObjectFunc: func(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
			assert.Equal(t, "data-bkt", aws.ToString(params.Bucket))
			assert.Equal(t, "train.csv", aws.ToString(params.Key))
			return &s3.HeadObjectOutput{VersionId: aws.String("v7")}, nil
		},
	}

	ref, err := New(s3Client, nil).ResolveData(testContext(), "data-bkt", "train.csv")
	assert.NoError(t, err)
	assert.Equal(t, "data-bkt", ref.Bucket)
	assert.Equal(t, "train.csv", ref.Key)
	assert.Equal(t, "v7", ref.Version)
}

func TestResolveData_NotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "typed not found", err: &s3types.NotFound{}},
		{name: "typed no such key", err: &s3types.NoSuchKey{}},
		{name: "generic api error", err: &smithy.GenericAPIError{Code: "NotFound", Message: "Not Found"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s3Client := &mockS3Client{
				headObjectFunc: func(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
					return nil, tt.err
				},
			}

			_, err := New(s3Client, nil).ResolveData(testContext(), "data-bkt", "train.csv")
			assert.ErrorIs(t, err, errors.ErrNotFound)
		})
	}
}

func TestResolveData_Unversioned(t *testing.T) {
	s3Client := &mockS3Client{
		headObjectFunc: func(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
			return &s3.HeadObjectOutput{}, nil
		},
	}

	_, err := New(s3Client, nil).ResolveData(testContext(), "data-bkt", "train.csv")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestResolveData_ServiceError(t *testing.T) {
	s3Client := &mockS3Client{
		headObjectFunc: func(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
			return nil, &smithy.GenericAPIError{Code: "AccessDenied", Message: "denied"}
		},
	}

	_, err := New(s3Client, nil).ResolveData(testContext(), "data-bkt", "train.csv")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, errors.ErrNotFound)
}

func TestResolveImage_PicksLatestPush(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ecrClient := &mockECRClient{
		describeImagesFunc: images(
			ecrtypes.ImageDetail{ImageTags: []string{"old"}, ImagePushedAt: aws.Time(base)},
			ecrtypes.ImageDetail{ImageTags: []string{"newest", "prod"}, ImagePushedAt: aws.Time(base.Add(2 * time.Hour))},
			ecrtypes.ImageDetail{ImageTags: []string{"middle"}, ImagePushedAt: aws.Time(base.Add(time.Hour))},
		),
	}

	ref, err := New(nil, ecrClient).ResolveImage(testContext(), "trainer")
	assert.NoError(t, err)
	assert.Equal(t, "trainer", ref.RepositoryName)
	assert.Equal(t, []string{"newest", "prod"}, ref.ImageTags)
	assert.Equal(t, testRepositoryURI+":newest", ref.ImageURI)
	assert.Equal(t, "newest", ref.Tag())
}

func TestResolveImage_TieKeepsLastEncountered(t *testing.T) {
	pushedAt := aws.Time(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	ecrClient := &mockECRClient{
		describeImagesFunc: images(
			ecrtypes.ImageDetail{ImageTags: []string{"first"}, ImagePushedAt: pushedAt},
			ecrtypes.ImageDetail{ImageTags: []string{"second"}, ImagePushedAt: pushedAt},
		),
	}

	ref, err := New(nil, ecrClient).ResolveImage(testContext(), "trainer")
	assert.NoError(t, err)
	assert.Equal(t, []string{"second"}, ref.ImageTags)
}

func TestResolveImage_AcrossPages(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ecrClient := &mockECRClient{
		describeImagesFunc: func(ctx context.Context, params *ecr.DescribeImagesInput, optFns ...func(*ecr.Options)) (*ecr.DescribeImagesOutput, error) {
			if params.NextToken == nil {
				return &ecr.DescribeImagesOutput{
					ImageDetails: []ecrtypes.ImageDetail{{ImageTags: []string{"page1"}, ImagePushedAt: aws.Time(base)}},
					NextToken:    aws.String("page-2"),
				}, nil
			}
			return &ecr.DescribeImagesOutput{
				ImageDetails: []ecrtypes.ImageDetail{{ImageTags: []string{"page2"}, ImagePushedAt: aws.Time(base.Add(time.Minute))}},
			}, nil
		},
	}

	ref, err := New(nil, ecrClient).ResolveImage(testContext(), "trainer")
	assert.NoError(t, err)
	assert.Equal(t, []string{"page2"}, ref.ImageTags)
}

func TestResolveImage_NoReference(t *testing.T) {
	pushedAt := aws.Time(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))

	tests := []struct {
		name      string
		ecrClient *mockECRClient
	}{
		{
			name:      "empty image list",
			ecrClient: &mockECRClient{describeImagesFunc: images()},
		},
		{
			name: "repository missing",
			ecrClient: &mockECRClient{
				describeImagesFunc: func(ctx context.Context, params *ecr.DescribeImagesInput, optFns ...func(*ecr.Options)) (*ecr.DescribeImagesOutput, error) {
					return nil, &ecrtypes.RepositoryNotFoundException{Message: aws.String("repository does not exist")}
				},
			},
		},
		{
			name: "latest image untagged",
			ecrClient: &mockECRClient{
				describeImagesFunc: images(ecrtypes.ImageDetail{ImageDigest: aws.String("sha256:abc"), ImagePushedAt: pushedAt}),
			},
		},
		{
			name: "repository uri not listed",
			ecrClient: &mockECRClient{
				describeImagesFunc: images(ecrtypes.ImageDetail{ImageTags: []string{"abc123"}, ImagePushedAt: pushedAt}),
				describeRepositoriesFunc: func(ctx context.Context, params *ecr.DescribeRepositoriesInput, optFns ...func(*ecr.Options)) (*ecr.DescribeRepositoriesOutput, error) {
					return &ecr.DescribeRepositoriesOutput{}, nil
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(nil, tt.ecrClient).ResolveImage(testContext(), "trainer")
			assert.ErrorIs(t, err, errors.ErrNotFound)
		})
	}
}

func TestResolveImage_ServiceError(t *testing.T) {
	ecrClient := &mockECRClient{
		describeImagesFunc: func(ctx context.Context, params *ecr.DescribeImagesInput, optFns ...func(*ecr.Options)) (*ecr.DescribeImagesOutput, error) {
			return nil, &smithy.GenericAPIError{Code: "ThrottlingException", Message: "slow down"}
		},
	}

	_, err := New(nil, ecrClient).ResolveImage(testContext(), "trainer")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, errors.ErrNotFound)
}

func TestResolveImageTag(t *testing.T) {
	ref, err := New(nil, &mockECRClient{}).ResolveImageTag(testContext(), "trainer", "abc123")
	assert.NoError(t, err)
	assert.Equal(t, []string{"abc123"}, ref.ImageTags)
	assert.Equal(t, testRepositoryURI+":abc123", ref.ImageURI)
}
