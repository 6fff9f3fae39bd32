// Package notification classifies the CloudTrail events EventBridge delivers when new
// training data lands in S3 or a new training image is pushed to ECR.
package notification

import (
	"github.com/aws/aws-lambda-go/events"
	"github.com/savaki/ml-pipeline/internal/models"
	"github.com/tidwall/gjson"
)

const (
	// SourceS3 is the CloudTrail eventSource for object writes
	SourceS3 = "s3.amazonaws.com"
	// SourceECR is the CloudTrail eventSource for image pushes
	SourceECR = "ecr.amazonaws.com"
)

// Kind labels what an inbound notification announces
type Kind int

const (
	Unrecognized Kind = iota
	DataEvent
	ImageEvent
)

func (k Kind) String() string {
	switch k {
	case DataEvent:
		return "data"
	case ImageEvent:
		return "image"
	default:
		return "unrecognized"
	}
}

// Notification is a classified event together with the fields that identify the
// triggering resource
type Notification struct {
	Kind Kind

	// set for DataEvent
	Data models.DataReference

	// set for ImageEvent
	RepositoryName string
	ImageTag       string
}

// Classify reads detail.eventSource and compares it against the two known sources.
// Missing or malformed nesting never errors; it simply does not match.
func Classify(detail []byte) Kind {
	source := gjson.GetBytes(detail, "eventSource")
	if source.Type != gjson.String {
		return Unrecognized
	}

	switch source.Str {
	case SourceS3:
		return DataEvent
	case SourceECR:
		return ImageEvent
	default:
		return Unrecognized
	}
}

// Parse classifies the event and extracts the resource identifiers. An event whose
// source matches but lacks the identifying fields is reported as Unrecognized.
func Parse(event events.CloudWatchEvent) Notification {
	detail := []byte(event.Detail)

	switch Classify(detail) {
	case DataEvent:
		data := models.DataReference{
			Bucket:  str(detail, "requestParameters.bucketName"),
			Key:     str(detail, "requestParameters.key"),
			Version: str(detail, "responseElements.x-amz-version-id"),
		}
		if data.Bucket == "" || data.Key == "" || data.Version == "" {
			return Notification{Kind: Unrecognized}
		}
		return Notification{Kind: DataEvent, Data: data}

	case ImageEvent:
		n := Notification{
			Kind:           ImageEvent,
			RepositoryName: str(detail, "requestParameters.repositoryName"),
			ImageTag:       str(detail, "requestParameters.imageTag"),
		}
		if n.RepositoryName == "" || n.ImageTag == "" {
			return Notification{Kind: Unrecognized}
		}
		return n

	default:
		return Notification{Kind: Unrecognized}
	}
}

func str(detail []byte, path string) string {
	result := gjson.GetBytes(detail, path)
	if result.Type != gjson.String {
		return ""
	}
	return result.Str
}
