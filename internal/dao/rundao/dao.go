package rundao

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/savaki/ddb/v2"
	"github.com/savaki/ml-pipeline/internal/errors"
)

// TableName returns the run ledger table name for an environment
func TableName(env string) string {
	return fmt.Sprintf("ml-pipeline-%s-runs", env)
}

// Status is the lifecycle state of a pipeline run. Once training starts the status
// mirrors the SageMaker training job status (InProgress, Completed, Failed, ...).
type Status string

const (
	StatusStarted   Status = "STARTED"
	StatusCompleted Status = "Completed"
	StatusFailed    Status = "Failed"
	StatusStopped   Status = "Stopped"
)

// Terminal reports whether no further status change is expected
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusStopped:
		return true
	default:
		return false
	}
}

// Record is one started pipeline run
type Record struct {
	RunID          string  `ddb:"hash" dynamodbav:"run_id"`         // KSUID; also the Step Functions execution name
	RepositoryName string  `dynamodbav:"repository_name,omitempty"` // ECR repository of the training image
	ImageTag       string  `dynamodbav:"image_tag,omitempty"`       // Tag used to address the image
	ImageURI       string  `dynamodbav:"image_uri,omitempty"`       // Full image uri
	DataBucket     string  `dynamodbav:"data_bucket,omitempty"`     // Training data bucket
	DataKey        string  `dynamodbav:"data_key,omitempty"`        // Training data key
	DataVersion    string  `dynamodbav:"data_version,omitempty"`    // Training data version id
	ExecutionArn   string  `dynamodbav:"execution_arn,omitempty"`   // Step Functions execution ARN
	Status         Status  `dynamodbav:"status,omitempty"`          // Run status
	FailureReason  *string `dynamodbav:"failure_reason,omitempty"`  // Set when training failed
	CreatedAt      int64   `dynamodbav:"created_at,omitempty"`      // Unix epoch of creation
	UpdatedAt      int64   `dynamodbav:"updated_at,omitempty"`      // Unix epoch of last update
	FinishedAt     *int64  `dynamodbav:"finished_at,omitempty"`     // Unix epoch once terminal
}

// CreateInput contains the fields recorded when a run is started
type CreateInput struct {
	RunID          string
	RepositoryName string
	ImageTag       string
	ImageURI       string
	DataBucket     string
	DataKey        string
	DataVersion    string
	ExecutionArn   string
}

// UpdateInput contains the fields that change as a run progresses
type UpdateInput struct {
	RunID         string
	Status        Status
	FailureReason *string // optional
}

// DAO provides data access operations for run records
type DAO struct {
	db    *ddb.DDB
	table *ddb.Table
}

// New creates a new DAO instance
func New(client *dynamodb.Client, tableName string) *DAO {
	db := ddb.New(client)
	table := db.MustTable(tableName, &Record{})
	return &DAO{
		db:    db,
		table: table,
	}
}

// Create records a newly started run with status STARTED
func (d *DAO) Create(ctx context.Context, input CreateInput) (Record, error) {
	if input.RunID == "" {
		return Record{}, fmt.Errorf("run id is required")
	}

	now := time.Now().Unix()
	record := Record{
		RunID:          input.RunID,
		RepositoryName: input.RepositoryName,
		ImageTag:       input.ImageTag,
		ImageURI:       input.ImageURI,
		DataBucket:     input.DataBucket,
		DataKey:        input.DataKey,
		DataVersion:    input.DataVersion,
		ExecutionArn:   input.ExecutionArn,
		Status:         StatusStarted,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err := d.table.Put(&record).RunWithContext(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("failed to create run record: %w", err)
	}

	return record, nil
}

// Find retrieves a run record by run id; a missing record wraps errors.ErrNotFound
func (d *DAO) Find(ctx context.Context, runID string) (Record, error) {
	var record Record

	err := d.table.Get(runID).
		ConsistentRead(true).
		ScanWithContext(ctx, &record)
	if err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "item not found") || strings.Contains(errStr, "ItemNotFound") {
			return Record{}, fmt.Errorf("%w: run record %s", errors.ErrNotFound, runID)
		}
		return Record{}, fmt.Errorf("failed to find run record: %w", err)
	}

	if record.RunID == "" {
		return Record{}, fmt.Errorf("%w: run record %s", errors.ErrNotFound, runID)
	}

	return record, nil
}

// UpdateStatus sets the status of an existing run. Terminal states also stamp
// FinishedAt. Runs that were never recorded are reported as errors.ErrNotFound
// rather than created.
func (d *DAO) UpdateStatus(ctx context.Context, input UpdateInput) error {
	if input.Status == "" {
		return fmt.Errorf("status is required")
	}

	if _, err := d.Find(ctx, input.RunID); err != nil {
		return err
	}

	now := time.Now().Unix()
	update := d.table.Update(input.RunID).
		Set("#Status = ?", string(input.Status)).
		Set("#UpdatedAt = ?", now)

	if input.Status.Terminal() {
		update = update.Set("#FinishedAt = ?", now)
	}

	if input.FailureReason != nil && *input.FailureReason != "" {
		update = update.Set("#FailureReason = ?", *input.FailureReason)
	}

	if err := update.RunWithContext(ctx); err != nil {
		return fmt.Errorf("failed to update run record %s: %w", input.RunID, err)
	}

	return nil
}

// Delete removes a run record
func (d *DAO) Delete(ctx context.Context, runID string) error {
	err := d.table.Delete(runID).RunWithContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete run record: %w", err)
	}
	return nil
}
