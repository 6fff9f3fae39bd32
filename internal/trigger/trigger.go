// Package trigger turns a new-data or new-image notification into one started
// training workflow run.
package trigger

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"
	"github.com/savaki/ml-pipeline/internal/errors"
	"github.com/savaki/ml-pipeline/internal/models"
	"github.com/savaki/ml-pipeline/internal/notification"
	"github.com/savaki/ml-pipeline/internal/orchestrator"
	"github.com/savaki/ml-pipeline/internal/services"
)

// RequiredKeys must all be configured before any event is looked at
var RequiredKeys = []string{
	services.KeyStateMachineArn,
	services.KeyECRRepositoryName,
	services.KeyDataBucketName,
	services.KeyDataObjectKey,
}

// Resolver finds the artifact complementary to the one that was notified
type Resolver interface {
	ResolveData(ctx context.Context, bucket, key string) (models.DataReference, error)
	ResolveImage(ctx context.Context, repositoryName string) (models.ImageReference, error)
	ResolveImageTag(ctx context.Context, repositoryName, tag string) (models.ImageReference, error)
}

// SettingsFetcher loads the training settings published for an image tag
type SettingsFetcher interface {
	Fetch(ctx context.Context, tag string) (*models.Settings, error)
}

// Starter starts one workflow execution
type Starter interface {
	StartExecution(ctx context.Context, data models.DataReference, image models.ImageReference, settings *models.Settings) (orchestrator.Execution, error)
}

// Plan is everything needed to start a run
type Plan struct {
	Kind     string                `json:"kind"`
	S3       models.DataReference  `json:"s3"`
	ECR      models.ImageReference `json:"ecr"`
	Settings *models.Settings      `json:"sagemaker,omitempty"`
}

// Trigger classifies notifications, resolves artifacts and starts runs
type Trigger struct {
	config   *services.Config
	resolver Resolver
	settings SettingsFetcher
	starter  Starter
}

// New creates a Trigger. settings may be nil, which turns off the per-image settings
// lookup.
func New(config *services.Config, resolver Resolver, settings SettingsFetcher, starter Starter) *Trigger {
	return &Trigger{
		config:   config,
		resolver: resolver,
		settings: settings,
		starter:  starter,
	}
}

// Plan classifies the event and resolves both artifact references without starting
// anything. Errors wrap errors.ErrMissingConfig, errors.ErrUnrecognizedEvent or
// errors.ErrNotFound when they map to a client facing response.
func (t *Trigger) Plan(ctx context.Context, event events.CloudWatchEvent) (Plan, error) {
	logger := zerolog.Ctx(ctx)

	if missing := t.config.Missing(RequiredKeys...); len(missing) > 0 {
		return Plan{}, fmt.Errorf("%w: %s", errors.ErrMissingConfig, strings.Join(missing, ", "))
	}

	n := notification.Parse(event)
	logger.Info().
		Str("event_id", event.ID).
		Str("detail_type", event.DetailType).
		Stringer("kind", n.Kind).
		Msg("Classified notification")

	plan := Plan{Kind: n.Kind.String()}

	var dataErr, imageErr error
	switch n.Kind {
	case notification.DataEvent:
		plan.S3 = n.Data
		plan.ECR, imageErr = t.resolver.ResolveImage(ctx, t.config.ECRRepositoryName)

	case notification.ImageEvent:
		plan.ECR, imageErr = t.resolver.ResolveImageTag(ctx, n.RepositoryName, n.ImageTag)
		plan.S3, dataErr = t.resolver.ResolveData(ctx, t.config.DataBucketName, t.config.DataObjectKey)

	default:
		return Plan{}, fmt.Errorf("%w: event source %q", errors.ErrUnrecognizedEvent, event.Source)
	}

	if dataErr != nil {
		return Plan{}, dataErr
	}
	if imageErr != nil {
		return Plan{}, imageErr
	}

	if t.settings != nil {
		settings, err := t.settings.Fetch(ctx, plan.ECR.Tag())
		if err != nil {
			if stderrors.Is(err, errors.ErrNotFound) {
				return Plan{}, err
			}
			return Plan{}, fmt.Errorf("%w: settings for tag %s: %v", errors.ErrNotFound, plan.ECR.Tag(), err)
		}
		plan.Settings = settings
	}

	logger.Info().
		Str("data_bucket", plan.S3.Bucket).
		Str("data_key", plan.S3.Key).
		Str("data_version", plan.S3.Version).
		Str("image_uri", plan.ECR.ImageURI).
		Bool("has_settings", plan.Settings != nil).
		Msg("Resolved artifacts")

	return plan, nil
}

// Handle plans and starts one run, mapping failures onto status coded responses.
// Service failures other than not-found are returned as errors.
func (t *Trigger) Handle(ctx context.Context, event events.CloudWatchEvent) (models.Response, error) {
	logger := zerolog.Ctx(ctx)

	plan, err := t.Plan(ctx, event)
	switch {
	case err == nil:
	case stderrors.Is(err, errors.ErrMissingConfig):
		logger.Error().Err(err).Msg("Missing required configuration")
		return Respond(http.StatusInternalServerError, message(err))
	case stderrors.Is(err, errors.ErrUnrecognizedEvent):
		logger.Warn().Err(err).Msg("Ignoring unrecognized notification")
		return Respond(http.StatusBadRequest, message(err))
	case stderrors.Is(err, errors.ErrNotFound):
		logger.Warn().Err(err).Msg("Artifact not found")
		return Respond(http.StatusNotFound, message(err))
	default:
		return models.Response{}, err
	}

	execution, err := t.starter.StartExecution(ctx, plan.S3, plan.ECR, plan.Settings)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to start workflow")
		return Respond(http.StatusInternalServerError, message(err))
	}

	return Respond(http.StatusOK, execution)
}

type messageBody struct {
	Message string `json:"message"`
}

func message(err error) messageBody {
	return messageBody{Message: err.Error()}
}

// Respond renders body as the JSON string body of a status coded response
func Respond(statusCode int, body any) (models.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return models.Response{}, fmt.Errorf("failed to marshal response body: %w", err)
	}
	return models.Response{
		StatusCode: statusCode,
		Body:       string(data),
	}, nil
}
