// Package settings loads the per-image training settings archive that is published
// next to every training image tag.
package settings

import (
	"archive/tar"
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
	"github.com/savaki/ml-pipeline/internal/archive"
	"github.com/savaki/ml-pipeline/internal/errors"
	"github.com/savaki/ml-pipeline/internal/models"
	"gopkg.in/yaml.v3"
)

// ArchiveName is the object name of the settings archive under each tag prefix
const ArchiveName = "settings.tar.gz"

// FileNames lists the accepted settings documents, in lookup order. JSON is a subset
// of YAML so one decoder handles all of them.
var FileNames = []string{"sagemaker.yaml", "sagemaker.yml", "sagemaker.json"}

// S3Client is the subset of the S3 API used to download settings archives
type S3Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Fetcher downloads and parses settings archives from a single bucket
type Fetcher struct {
	client S3Client
	bucket string
}

// NewFetcher creates a Fetcher reading from bucket
func NewFetcher(client S3Client, bucket string) *Fetcher {
	return &Fetcher{
		client: client,
		bucket: bucket,
	}
}

// Key returns the object key of the settings archive for an image tag
func Key(tag string) string {
	return path.Join(tag, ArchiveName)
}

// Fetch returns the settings published for the given image tag. A missing archive or
// an archive without a settings document is reported as errors.ErrNotFound.
func (f *Fetcher) Fetch(ctx context.Context, tag string) (*models.Settings, error) {
	logger := zerolog.Ctx(ctx)

	if tag == "" {
		return nil, fmt.Errorf("%w: settings for untagged image", errors.ErrNotFound)
	}

	key := Key(tag)
	output, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *s3types.NoSuchKey
		if stderrors.As(err, &noSuchKey) {
			logger.Info().
				Str("bucket", f.bucket).
				Str("key", key).
				Msg("Settings archive not found")
			return nil, fmt.Errorf("%w: settings archive s3://%s/%s", errors.ErrNotFound, f.bucket, key)
		}
		return nil, fmt.Errorf("failed to get settings archive s3://%s/%s: %w", f.bucket, key, err)
	}
	defer output.Body.Close()

	documents := map[string][]byte{}
	err = archive.Walk(output.Body, func(hdr *tar.Header, body io.Reader) error {
		name := path.Base(hdr.Name)
		for _, want := range FileNames {
			if name == want {
				data, err := io.ReadAll(body)
				if err != nil {
					return fmt.Errorf("failed to read %s: %w", hdr.Name, err)
				}
				documents[name] = data
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read settings archive s3://%s/%s: %w", f.bucket, key, err)
	}

	for _, name := range FileNames {
		data, ok := documents[name]
		if !ok {
			continue
		}

		settings, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s in s3://%s/%s: %w", name, f.bucket, key, err)
		}

		logger.Info().
			Str("key", key).
			Str("file", name).
			Msg("Loaded training settings")
		return settings, nil
	}

	return nil, fmt.Errorf("%w: no settings document in s3://%s/%s", errors.ErrNotFound, f.bucket, key)
}

// Parse decodes a YAML (or JSON) settings document
func Parse(data []byte) (*models.Settings, error) {
	var settings models.Settings
	if err := yaml.NewDecoder(bytes.NewReader(data)).Decode(&settings); err != nil {
		if stderrors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty settings document")
		}
		return nil, err
	}
	return &settings, nil
}
