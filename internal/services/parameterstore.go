package services

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	uberconfig "go.uber.org/config"
)

// Config holds all application configuration values
type Config struct {
	StateMachineArn          string `yaml:"state-machine-arn"`
	DataBucketName           string `yaml:"data-bucket-name"`
	DataObjectKey            string `yaml:"data-object-key"`
	ECRRepositoryName        string `yaml:"ecr-repository-name"`
	SettingsBucketName       string `yaml:"settings-bucket-name"`
	OutputBucketName         string `yaml:"output-bucket-name"`
	EndpointName             string `yaml:"endpoint-name"`
	SageMakerRoleArn         string `yaml:"sagemaker-role-arn"`
	MasterECRRepositoryName  string `yaml:"master-ecr-repository-name"`
	StagingECRRepositoryName string `yaml:"staging-ecr-repository-name"`
	ProductTagValue          string `yaml:"product-tag-value"`
	ServiceTagValue          string `yaml:"service-tag-value"`
	StageTagValue            string `yaml:"stage-tag-value"`
	DeleteSourceArchive      bool   `yaml:"delete-source-archive"`
}

// Setting keys. The SSM leaf name is the key itself; the environment variable is the
// upper snake case form (state-machine-arn -> STATE_MACHINE_ARN).
const (
	KeyStateMachineArn          = "state-machine-arn"
	KeyDataBucketName           = "data-bucket-name"
	KeyDataObjectKey            = "data-object-key"
	KeyECRRepositoryName        = "ecr-repository-name"
	KeySettingsBucketName       = "settings-bucket-name"
	KeyOutputBucketName         = "output-bucket-name"
	KeyEndpointName             = "endpoint-name"
	KeySageMakerRoleArn         = "sagemaker-role-arn"
	KeyMasterECRRepositoryName  = "master-ecr-repository-name"
	KeyStagingECRRepositoryName = "staging-ecr-repository-name"
	KeyProductTagValue          = "product-tag-value"
	KeyServiceTagValue          = "service-tag-value"
	KeyStageTagValue            = "stage-tag-value"
	KeyDeleteSourceArchive      = "delete-source-archive"
)

var stringSettings = map[string]func(c *Config) *string{
	KeyStateMachineArn:          func(c *Config) *string { return &c.StateMachineArn },
	KeyDataBucketName:           func(c *Config) *string { return &c.DataBucketName },
	KeyDataObjectKey:            func(c *Config) *string { return &c.DataObjectKey },
	KeyECRRepositoryName:        func(c *Config) *string { return &c.ECRRepositoryName },
	KeySettingsBucketName:       func(c *Config) *string { return &c.SettingsBucketName },
	KeyOutputBucketName:         func(c *Config) *string { return &c.OutputBucketName },
	KeyEndpointName:             func(c *Config) *string { return &c.EndpointName },
	KeySageMakerRoleArn:         func(c *Config) *string { return &c.SageMakerRoleArn },
	KeyMasterECRRepositoryName:  func(c *Config) *string { return &c.MasterECRRepositoryName },
	KeyStagingECRRepositoryName: func(c *Config) *string { return &c.StagingECRRepositoryName },
	KeyProductTagValue:          func(c *Config) *string { return &c.ProductTagValue },
	KeyServiceTagValue:          func(c *Config) *string { return &c.ServiceTagValue },
	KeyStageTagValue:            func(c *Config) *string { return &c.StageTagValue },
}

// EnvName returns the environment variable that carries the given setting key
func EnvName(key string) string {
	return strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
}

// Missing returns the subset of keys that have no value, in the order given
func (c *Config) Missing(keys ...string) []string {
	var missing []string
	for _, key := range keys {
		get, ok := stringSettings[key]
		if !ok {
			continue
		}
		if *get(c) == "" {
			missing = append(missing, key)
		}
	}
	return missing
}

// set assigns a raw value to the setting with the given key, ignoring unknown keys
func (c *Config) set(key, value string) {
	if key == KeyDeleteSourceArchive {
		c.DeleteSourceArchive, _ = strconv.ParseBool(value)
		return
	}
	if get, ok := stringSettings[key]; ok {
		*get(c) = value
	}
}

// ParameterStore defines the interface for accessing configuration parameters
type ParameterStore interface {
	// GetParameter retrieves a single parameter by name
	GetParameter(ctx context.Context, name string) (string, error)

	// GetConfig loads all application configuration
	GetConfig(ctx context.Context) (*Config, error)
}

// SSMClient is the subset of the SSM API used by SSMParameterStore
type SSMClient interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	GetParametersByPath(ctx context.Context, params *ssm.GetParametersByPathInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersByPathOutput, error)
}

// SSMParameterStore implements ParameterStore using AWS Systems Manager Parameter Store
type SSMParameterStore struct {
	client SSMClient
	env    string
	mu     sync.RWMutex
	cache  map[string]string
}

// NewSSMParameterStore creates a new SSM-backed parameter store
func NewSSMParameterStore(client SSMClient, env string) *SSMParameterStore {
	return &SSMParameterStore{
		client: client,
		env:    env,
		cache:  make(map[string]string),
	}
}

// Path returns the SSM path prefix that holds every setting for env
func Path(env string) string {
	return fmt.Sprintf("/%s/ml-pipeline", env)
}

// GetParameter retrieves a single parameter from SSM Parameter Store
func (s *SSMParameterStore) GetParameter(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	if value, ok := s.cache[name]; ok {
		s.mu.RUnlock()
		return value, nil
	}
	s.mu.RUnlock()

	result, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: boolPtr(true),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get parameter %s: %w", name, err)
	}

	if result.Parameter == nil || result.Parameter.Value == nil {
		return "", fmt.Errorf("parameter %s not found", name)
	}

	value := *result.Parameter.Value

	s.mu.Lock()
	s.cache[name] = value
	s.mu.Unlock()

	return value, nil
}

// GetConfig loads all application configuration from Parameter Store
func (s *SSMParameterStore) GetConfig(ctx context.Context) (*Config, error) {
	path := Path(s.env)

	params := make(map[string]string)
	paginator := ssm.NewGetParametersByPathPaginator(s.client, &ssm.GetParametersByPathInput{
		Path:           &path,
		Recursive:      boolPtr(true),
		WithDecryption: boolPtr(true),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get parameters by path %s: %w", path, err)
		}
		for _, param := range page.Parameters {
			if param.Name != nil && param.Value != nil {
				params[*param.Name] = *param.Value
			}
		}
	}

	s.mu.Lock()
	for k, v := range params {
		s.cache[k] = v
	}
	s.mu.Unlock()

	config := &Config{}
	for name, value := range params {
		config.set(strings.TrimPrefix(name, path+"/"), value)
	}

	return config, nil
}

// EnvParameterStore implements ParameterStore using environment variables
// This is a NoOp implementation for local development without AWS connection
type EnvParameterStore struct {
	env string
}

// NewEnvParameterStore creates a new environment variable-backed parameter store
func NewEnvParameterStore(env string) *EnvParameterStore {
	return &EnvParameterStore{
		env: env,
	}
}

// GetParameter retrieves a parameter from environment variables
func (e *EnvParameterStore) GetParameter(ctx context.Context, name string) (string, error) {
	return os.Getenv(name), nil
}

// GetConfig loads all application configuration from environment variables
func (e *EnvParameterStore) GetConfig(ctx context.Context) (*Config, error) {
	config := &Config{}
	for key := range stringSettings {
		config.set(key, os.Getenv(EnvName(key)))
	}
	config.set(KeyDeleteSourceArchive, os.Getenv(EnvName(KeyDeleteSourceArchive)))
	return config, nil
}

// YAMLParameterStore implements ParameterStore using a local YAML file. Values may
// reference environment variables (${DATA_BUCKET_NAME:default}).
//
//	ml-pipeline:
//	  state-machine-arn: arn:aws:states:...
//	  data-bucket-name: ${DATA_BUCKET_NAME}
type YAMLParameterStore struct {
	filename string
}

// NewYAMLParameterStore creates a parameter store that reads settings from filename
func NewYAMLParameterStore(filename string) *YAMLParameterStore {
	return &YAMLParameterStore{
		filename: filename,
	}
}

func (y *YAMLParameterStore) provider() (*uberconfig.YAML, error) {
	provider, err := uberconfig.NewYAML(
		uberconfig.File(y.filename),
		uberconfig.Expand(os.LookupEnv),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read yaml config %s: %w", y.filename, err)
	}
	return provider, nil
}

// GetParameter retrieves a single setting by key from the ml-pipeline section
func (y *YAMLParameterStore) GetParameter(ctx context.Context, name string) (string, error) {
	provider, err := y.provider()
	if err != nil {
		return "", err
	}
	return provider.Get("ml-pipeline").Get(name).String(), nil
}

// GetConfig loads all application configuration from the YAML file
func (y *YAMLParameterStore) GetConfig(ctx context.Context) (*Config, error) {
	provider, err := y.provider()
	if err != nil {
		return nil, err
	}

	var config Config
	if err := provider.Get("ml-pipeline").Populate(&config); err != nil {
		return nil, fmt.Errorf("failed to read 'ml-pipeline' from yaml config %s: %w", y.filename, err)
	}
	return &config, nil
}

func boolPtr(b bool) *bool {
	return &b
}
