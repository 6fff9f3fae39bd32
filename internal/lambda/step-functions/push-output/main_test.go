package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/rs/zerolog"
	apperrors "github.com/savaki/ml-pipeline/internal/errors"
	"github.com/savaki/ml-pipeline/internal/relocator"
	"github.com/stretchr/testify/assert"
)

type mockRelocator struct {
	keys []string
	err  error
}

func (m *mockRelocator) Relocate(ctx context.Context, sourceKey string) (relocator.Result, error) {
	m.keys = append(m.keys, sourceKey)
	if m.err != nil {
		return relocator.Result{SourceKey: sourceKey}, m.err
	}
	return relocator.Result{
		SourceKey:         sourceKey,
		DestinationPrefix: relocator.DestinationPrefix,
		Extracted:         3,
		Success:           true,
	}, nil
}

func testContext() context.Context {
	logger := zerolog.New(io.Discard)
	return logger.WithContext(context.Background())
}

func TestHandlePushOutput(t *testing.T) {
	var input Input
	err := json.Unmarshal([]byte(`{
		"PreviousStep": {
			"TrainingJobName": "run-1",
			"ModelArtifacts": {"S3ModelArtifacts": "s3://output-bkt/master/run-1/output/model.tar.gz"}
		}
	}`), &input)
	assert.NoError(t, err)

	mover := &mockRelocator{}
	got, err := NewHandlerWithDeps(mover, "output-bkt").HandlePushOutput(testContext(), input)
	assert.NoError(t, err)
	assert.Equal(t, []string{"master/run-1/output/output.tar.gz"}, mover.keys)
	assert.True(t, got.Success)
	assert.Equal(t, 3, got.Extracted)
}

func TestHandlePushOutput_Errors(t *testing.T) {
	artifacts := Input{PreviousStep: PreviousStep{}}
	artifacts.PreviousStep.ModelArtifacts.S3ModelArtifacts = "s3://output-bkt/staging/run-2/output/model.tar.gz"

	tests := []struct {
		name       string
		bucket     string
		input      Input
		err        error
		wantErr    error
		wantCalled bool
	}{
		{
			name:    "missing bucket",
			input:   artifacts,
			wantErr: apperrors.ErrMissingConfig,
		},
		{
			name:   "missing artifacts",
			bucket: "output-bkt",
		},
		{
			name:       "relocation failure",
			bucket:     "output-bkt",
			input:      artifacts,
			err:        errors.New("NoSuchKey"),
			wantCalled: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mover := &mockRelocator{err: tt.err}

			_, err := NewHandlerWithDeps(mover, tt.bucket).HandlePushOutput(testContext(), tt.input)
			assert.Error(t, err)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr))
			}
			assert.Equal(t, tt.wantCalled, len(mover.keys) > 0)
		})
	}
}
