package notification

import (
	"encoding/json"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"github.com/tidwall/sjson"
)

// Simulated carries the fields of a notification built by hand for local runs
type Simulated struct {
	Source         string
	Bucket         string
	Key            string
	Version        string
	RepositoryName string
	ImageTag       string
}

// NewEvent builds the CloudTrail event EventBridge would deliver for s. Empty fields
// are left out of the detail, so an incomplete s classifies as Unrecognized.
func NewEvent(s Simulated) (events.CloudWatchEvent, error) {
	detail := []byte(`{}`)
	fields := []struct {
		path  string
		value string
	}{
		{path: "eventSource", value: s.Source},
		{path: "requestParameters.bucketName", value: s.Bucket},
		{path: "requestParameters.key", value: s.Key},
		{path: "responseElements.x-amz-version-id", value: s.Version},
		{path: "requestParameters.repositoryName", value: s.RepositoryName},
		{path: "requestParameters.imageTag", value: s.ImageTag},
	}

	var err error
	for _, field := range fields {
		if field.value == "" {
			continue
		}
		detail, err = sjson.SetBytes(detail, field.path, field.value)
		if err != nil {
			return events.CloudWatchEvent{}, fmt.Errorf("failed to set %s: %w", field.path, err)
		}
	}

	source := "aws.s3"
	if s.Source == SourceECR {
		source = "aws.ecr"
	}

	return events.CloudWatchEvent{
		ID:         "local",
		Source:     source,
		DetailType: "AWS API Call via CloudTrail",
		Detail:     json.RawMessage(detail),
	}, nil
}
