package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/rs/zerolog"
	apperrors "github.com/savaki/ml-pipeline/internal/errors"
	"github.com/savaki/ml-pipeline/internal/services"
	"github.com/stretchr/testify/assert"
)

type mockDescriber struct {
	names  []string
	status *services.EndpointStatus
	err    error
}

func (m *mockDescriber) DescribeEndpoint(ctx context.Context, name string) (*services.EndpointStatus, error) {
	m.names = append(m.names, name)
	return m.status, m.err
}

func testContext() context.Context {
	logger := zerolog.New(io.Discard)
	return logger.WithContext(context.Background())
}

func TestHandleCheckEndpointStatus(t *testing.T) {
	tests := []struct {
		name   string
		status *services.EndpointStatus
		want   string
	}{
		{
			name: "in service",
			status: &services.EndpointStatus{
				EndpointName:       "model",
				EndpointConfigName: "model-config-2",
				EndpointStatus:     "InService",
			},
			want: `{"EndpointName":"model","EndpointConfigName":"model-config-2","EndpointStatus":"InService","FailureReason":null}`,
		},
		{
			name: "failed",
			status: &services.EndpointStatus{
				EndpointName:       "model",
				EndpointConfigName: "model-config-2",
				EndpointStatus:     "Failed",
				FailureReason:      aws.String("insufficient capacity"),
			},
			want: `{"EndpointName":"model","EndpointConfigName":"model-config-2","EndpointStatus":"Failed","FailureReason":"insufficient capacity"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			describer := &mockDescriber{status: tt.status}

			got, err := NewHandlerWithDeps(describer, "model").HandleCheckEndpointStatus(testContext(), Input{"anything": "ignored"})
			assert.NoError(t, err)
			assert.Equal(t, []string{"model"}, describer.names)

			data, err := json.Marshal(got)
			assert.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))
		})
	}
}

func TestHandleCheckEndpointStatus_MissingConfig(t *testing.T) {
	describer := &mockDescriber{}

	_, err := NewHandlerWithDeps(describer, "").HandleCheckEndpointStatus(testContext(), nil)
	assert.True(t, errors.Is(err, apperrors.ErrMissingConfig))
	assert.Empty(t, describer.names)
}

func TestHandleCheckEndpointStatus_DescribeError(t *testing.T) {
	describer := &mockDescriber{err: errors.New("ValidationException: Could not find endpoint")}

	_, err := NewHandlerWithDeps(describer, "model").HandleCheckEndpointStatus(testContext(), nil)
	assert.Error(t, err)
}
