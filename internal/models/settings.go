package models

// Settings is the per-image training configuration shipped alongside each image tag
type Settings struct {
	TrainingJob TrainingJobSettings `json:"TrainingJob" yaml:"TrainingJob"`
}

type TrainingJobSettings struct {
	HyperParameters        map[string]string      `json:"HyperParameters,omitempty" yaml:"HyperParameters"`
	MetricDefinitions      []MetricDefinition     `json:"MetricDefinitions,omitempty" yaml:"MetricDefinitions"`
	TrainingResourceConfig TrainingResourceConfig `json:"TrainingResourceConfig" yaml:"TrainingResourceConfig"`
	StoppingCondition      StoppingCondition      `json:"StoppingCondition" yaml:"StoppingCondition"`
}

type MetricDefinition struct {
	Name  string `json:"Name" yaml:"Name"`
	Regex string `json:"Regex" yaml:"Regex"`
}

type TrainingResourceConfig struct {
	InstanceType   string `json:"InstanceType" yaml:"InstanceType"`
	VolumeSizeInGB int32  `json:"VolumeSizeInGB" yaml:"VolumeSizeInGB"`
}

type StoppingCondition struct {
	MaxRuntimeInSeconds  int32 `json:"MaxRuntimeInSeconds,omitempty" yaml:"MaxRuntimeInSeconds"`
	MaxWaitTimeInSeconds int32 `json:"MaxWaitTimeInSeconds,omitempty" yaml:"MaxWaitTimeInSeconds"`
}
