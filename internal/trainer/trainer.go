// Package trainer implements the training container: a CART decision tree fitted
// to CSV data laid out the way SageMaker mounts it in file mode.
package trainer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

const (
	// DefaultPrefix is where SageMaker mounts the container's inputs and outputs
	DefaultPrefix = "/opt/ml"

	// ChannelName is the only input channel the training job defines
	ChannelName = "train"

	// Folds used when reporting the cross-validated accuracy
	Folds = 5

	// ModelFilename is written under the model directory
	ModelFilename = "model.json"
)

// Paths locates the SageMaker file mode layout under Prefix
type Paths struct {
	Prefix string
}

func (p Paths) Hyperparameters() string {
	return filepath.Join(p.Prefix, "input", "config", "hyperparameters.json")
}

func (p Paths) TrainingData() string {
	return filepath.Join(p.Prefix, "input", "data", ChannelName)
}

func (p Paths) Model() string {
	return filepath.Join(p.Prefix, "model", ModelFilename)
}

func (p Paths) Failure() string {
	return filepath.Join(p.Prefix, "output", "failure")
}

// ParseHyperparameters reads the options from hyperparameters.json. SageMaker passes
// every value as a string; plain JSON numbers are accepted too.
func ParseHyperparameters(data []byte) (Options, error) {
	if !gjson.ValidBytes(data) {
		return Options{}, fmt.Errorf("hyperparameters are not valid json")
	}

	var opts Options
	value := gjson.GetBytes(data, "max_leaf_nodes")
	switch value.Type {
	case gjson.Null:
	case gjson.String:
		n, err := strconv.Atoi(value.Str)
		if err != nil {
			return Options{}, fmt.Errorf("max_leaf_nodes: %w", err)
		}
		opts.MaxLeafNodes = n
	case gjson.Number:
		if value.Num != float64(int(value.Num)) {
			return Options{}, fmt.Errorf("max_leaf_nodes must be an integer, got %v", value.Num)
		}
		opts.MaxLeafNodes = int(value.Num)
	default:
		return Options{}, fmt.Errorf("max_leaf_nodes must be an integer, got %s", value.Raw)
	}

	if value.Type != gjson.Null && opts.MaxLeafNodes < 2 {
		return Options{}, fmt.Errorf("max_leaf_nodes must be at least 2, got %d", opts.MaxLeafNodes)
	}
	return opts, nil
}

// Trainer runs one training job
type Trainer struct {
	paths  Paths
	stdout io.Writer
}

// New creates a Trainer. The cross-validation metric line is written to stdout where
// SageMaker's metric definitions scrape it.
func New(paths Paths, stdout io.Writer) *Trainer {
	return &Trainer{
		paths:  paths,
		stdout: stdout,
	}
}

// Train fits the model on all rows, reports the cross-validated accuracy and saves
// the model
func (t *Trainer) Train(ctx context.Context) (*Tree, error) {
	logger := zerolog.Ctx(ctx)
	logger.Info().Str("prefix", t.paths.Prefix).Msg("Starting the training")

	data, err := os.ReadFile(t.paths.Hyperparameters())
	if err != nil {
		return nil, fmt.Errorf("failed to read hyperparameters: %w", err)
	}
	opts, err := ParseHyperparameters(data)
	if err != nil {
		return nil, err
	}

	ds, err := LoadDir(t.paths.TrainingData())
	if err != nil {
		return nil, err
	}
	logger.Info().
		Int("rows", ds.Len()).
		Int("features", ds.NumFeatures()).
		Int("classes", len(ds.Classes)).
		Int("max_leaf_nodes", opts.MaxLeafNodes).
		Msg("Loaded training data")

	all := make([]int, ds.Len())
	for i := range all {
		all[i] = i
	}
	tree := Fit(ds, all, opts)

	score, err := CrossValidate(ctx, ds, opts, Folds)
	if err != nil {
		return nil, fmt.Errorf("cross-validation failed: %w", err)
	}
	fmt.Fprintf(t.stdout, "::%d-Fold-Cross-Validated::accuracy::%s::\n", Folds, strconv.FormatFloat(score, 'f', -1, 64))

	if err := t.save(tree); err != nil {
		return nil, err
	}

	logger.Info().
		Int("leaves", tree.Leaves).
		Float64("accuracy", score).
		Str("model", t.paths.Model()).
		Msg("Training complete")

	return tree, nil
}

func (t *Trainer) save(tree *Tree) error {
	data, err := json.MarshalIndent(tree, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal model: %w", err)
	}

	filename := t.paths.Model()
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write model: %w", err)
	}
	return nil
}

// WriteFailure records cause where SageMaker reads the training job's FailureReason
func (t *Trainer) WriteFailure(cause error) error {
	filename := t.paths.Failure()
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	message := "Exception during training: " + cause.Error() + "\n"
	if err := os.WriteFile(filename, []byte(message), 0644); err != nil {
		return fmt.Errorf("failed to write failure: %w", err)
	}
	return nil
}
