package models

// DataReference identifies one specific version of a stored training data object
type DataReference struct {
	Bucket  string `json:"bucket"`  // S3 bucket name
	Key     string `json:"key"`     // S3 object key
	Version string `json:"version"` // S3 object version id
}

// ImageReference identifies a tagged training image
type ImageReference struct {
	RepositoryName string   `json:"repository_name"` // ECR repository name
	ImageTags      []string `json:"image_tags"`      // Tags on the selected image
	ImageURI       string   `json:"image_uri"`       // {repository uri}:{first tag}
}

// Tag returns the tag used to address the image, or "" when the image has none
func (r ImageReference) Tag() string {
	if len(r.ImageTags) == 0 {
		return ""
	}
	return r.ImageTags[0]
}

// WorkflowInput is the Step Functions execution input. Settings are spliced in under
// the "sagemaker" key when present.
type WorkflowInput struct {
	RunID string         `json:"run_id"`
	S3    DataReference  `json:"s3"`
	ECR   ImageReference `json:"ecr"`
}

// TrainingJobInput is the payload the state machine hands to the create-training-job step
type TrainingJobInput struct {
	ExecutionName string `json:"execution_name"`
	Input         struct {
		S3        DataReference  `json:"s3"`
		ECR       ImageReference `json:"ecr"`
		SageMaker *Settings      `json:"sagemaker"`
	} `json:"input"`
}

// Response is the status code + body envelope returned by the trigger handler
type Response struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}
