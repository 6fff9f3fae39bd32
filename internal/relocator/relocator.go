// Package relocator unpacks a finished training job's output archive into a fixed
// prefix of the output bucket and leaves a marker describing the outcome.
package relocator

import (
	"archive/tar"
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
	"github.com/savaki/gox/slicex"
	"github.com/savaki/ml-pipeline/internal/archive"
)

const (
	// DestinationPrefix is where extracted files land in the output bucket
	DestinationPrefix = "result"

	// SourceMarker records where the current contents of DestinationPrefix came from
	SourceMarker = DestinationPrefix + "/output_source.txt"

	// ErrorMarker is written when extraction stopped part way
	ErrorMarker = DestinationPrefix + "/error.txt"

	errorMarkerText = "There was an error in extracting new data. Some of the data files in this folder " +
		"may have been overwritten erroneously. Please replace them with the data described in output_source.txt."

	deleteBatchSize   = 1000
	deleteConcurrency = 4
)

// S3Client is the subset of the S3 API used to relocate output
type S3Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// Result summarizes one relocation
type Result struct {
	SourceKey         string `json:"source_key"`
	DestinationPrefix string `json:"destination_prefix"`
	Extracted         int    `json:"extracted"`
	Success           bool   `json:"success"`
}

// Relocator copies archive entries within a single output bucket
type Relocator struct {
	client       S3Client
	bucket       string
	deleteSource bool
}

// New creates a Relocator. When deleteSource is set the source archive prefix is
// removed after a fully successful extraction.
func New(client S3Client, bucket string, deleteSource bool) *Relocator {
	return &Relocator{
		client:       client,
		bucket:       bucket,
		deleteSource: deleteSource,
	}
}

// OutputKey derives the output archive key from the model artifact uri reported by the
// training job: model.tar.gz becomes output.tar.gz and the bucket uri prefix is dropped.
func OutputKey(modelArtifacts, bucket string) string {
	key := strings.ReplaceAll(modelArtifacts, "model.tar.gz", "output.tar.gz")
	return strings.ReplaceAll(key, fmt.Sprintf("s3://%s/", bucket), "")
}

// Relocate extracts every regular file of sourceKey to DestinationPrefix/<entry name>,
// strictly in archive order. The first failed entry stops the extraction; entries
// after it are never attempted and the error marker is written instead of the source
// marker. Failing to download or open the archive returns an error and writes nothing.
func (r *Relocator) Relocate(ctx context.Context, sourceKey string) (Result, error) {
	logger := zerolog.Ctx(ctx)

	result := Result{
		SourceKey:         sourceKey,
		DestinationPrefix: DestinationPrefix,
	}

	output, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(sourceKey),
	})
	if err != nil {
		return result, fmt.Errorf("failed to download s3://%s/%s: %w", r.bucket, sourceKey, err)
	}
	defer output.Body.Close()

	err = archive.Walk(output.Body, func(hdr *tar.Header, body io.Reader) error {
		key := path.Join(DestinationPrefix, hdr.Name)
		if !strings.HasPrefix(key, DestinationPrefix+"/") {
			logger.Warn().
				Str("name", hdr.Name).
				Msg("Skipping archive entry outside destination prefix")
			return nil
		}

		if err := r.put(ctx, key, body); err != nil {
			logger.Error().
				Err(err).
				Str("name", hdr.Name).
				Str("key", key).
				Msg("Failed to extract archive entry")
			return err
		}

		result.Extracted++
		logger.Info().
			Str("name", hdr.Name).
			Str("key", key).
			Msg("Extracted archive entry")
		return nil
	})

	var openErr *archive.OpenError
	if stderrors.As(err, &openErr) {
		return result, fmt.Errorf("failed to open s3://%s/%s: %w", r.bucket, sourceKey, err)
	}

	result.Success = err == nil
	if !result.Success {
		if err := r.put(ctx, ErrorMarker, strings.NewReader(errorMarkerText)); err != nil {
			return result, fmt.Errorf("failed to write error marker: %w", err)
		}
		return result, nil
	}

	marker := fmt.Sprintf("The data files in this folder came from %s", sourceKey)
	if err := r.put(ctx, SourceMarker, strings.NewReader(marker)); err != nil {
		return result, fmt.Errorf("failed to write source marker: %w", err)
	}

	if r.deleteSource {
		deleted, err := r.DeletePrefix(ctx, sourceKey)
		if err != nil {
			return result, err
		}
		logger.Info().
			Str("prefix", sourceKey).
			Int("deleted", deleted).
			Msg("Deleted source archive")
	}

	return result, nil
}

// put buffers body so the upload carries an exact content length
func (r *Relocator) put(ctx context.Context, key string, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", key, err)
	}

	_, err = r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(r.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return fmt.Errorf("failed to put s3://%s/%s: %w", r.bucket, key, err)
	}
	return nil
}

// DeletePrefix removes every object whose key starts with prefix and returns the
// number of objects deleted. Batches are deleted concurrently.
func (r *Relocator) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(r.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(r.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to list s3://%s/%s: %w", r.bucket, prefix, err)
		}
		for _, object := range page.Contents {
			keys = append(keys, aws.ToString(object.Key))
		}
	}

	if len(keys) == 0 {
		return 0, nil
	}

	callback := func(ctx context.Context, batch []string) (int, error) {
		return r.deleteBatch(ctx, batch)
	}
	counts, err := slicex.MapConcurrent(callback).
		Concurrency(deleteConcurrency).
		CollectErrors().
		DoValues(ctx, chunk(keys, deleteBatchSize)...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete s3://%s/%s: %w", r.bucket, prefix, err)
	}

	var deleted int
	for _, n := range counts {
		deleted += n
	}
	return deleted, nil
}

func (r *Relocator) deleteBatch(ctx context.Context, keys []string) (int, error) {
	objects := make([]s3types.ObjectIdentifier, 0, len(keys))
	for _, key := range keys {
		objects = append(objects, s3types.ObjectIdentifier{Key: aws.String(key)})
	}

	output, err := r.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(r.bucket),
		Delete: &s3types.Delete{
			Objects: objects,
			Quiet:   aws.Bool(true),
		},
	})
	if err != nil {
		return 0, err
	}
	if len(output.Errors) > 0 {
		first := output.Errors[0]
		return 0, fmt.Errorf("failed to delete %d objects, first %s: %s",
			len(output.Errors), aws.ToString(first.Key), aws.ToString(first.Message))
	}
	return len(keys), nil
}

func chunk(keys []string, size int) [][]string {
	var batches [][]string
	for start := 0; start < len(keys); start += size {
		end := min(start+size, len(keys))
		batches = append(batches, keys[start:end])
	}
	return batches
}
