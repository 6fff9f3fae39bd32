package trainer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

// Dataset holds labelled rows; Labels index into Classes
type Dataset struct {
	Classes  []string
	Labels   []int
	Features [][]float64
}

// Len returns the number of rows
func (d *Dataset) Len() int {
	return len(d.Labels)
}

// NumFeatures returns the width of a feature row
func (d *Dataset) NumFeatures() int {
	if len(d.Features) == 0 {
		return 0
	}
	return len(d.Features[0])
}

type record struct {
	label    string
	features []float64
}

// LoadDir reads every file in dir as headerless CSV, label in the first column, and
// concatenates them in name order
func LoadDir(dir string) (*Dataset, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read training channel %s: %w", dir, err)
	}

	var records []record
	var files int
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		files++

		filename := filepath.Join(dir, entry.Name())
		got, err := readFile(filename)
		if err != nil {
			return nil, err
		}
		records = append(records, got...)
	}

	if files == 0 {
		return nil, fmt.Errorf("there are no files in %s; this usually means the train channel or its "+
			"S3 data source was specified incorrectly, or the role cannot read the data", dir)
	}

	return newDataset(records)
}

func readFile(filename string) ([]record, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", filename, err)
	}
	defer f.Close()

	records, err := readCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return records, nil
}

// readCSV parses headerless rows of label followed by numeric features
func readCSV(r io.Reader) ([]record, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	var records []record
	for line := 1; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return nil, err
		}
		if len(row) < 2 {
			return nil, fmt.Errorf("line %d: want a label and at least one feature, got %d columns", line, len(row))
		}

		features := make([]float64, len(row)-1)
		for i, value := range row[1:] {
			v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d column %d: %w", line, i+2, err)
			}
			features[i] = v
		}

		records = append(records, record{
			label:    strings.TrimSpace(row[0]),
			features: features,
		})
	}
}

func newDataset(records []record) (*Dataset, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("training data is empty")
	}

	width := len(records[0].features)
	seen := map[string]struct{}{}
	for i, r := range records {
		if len(r.features) != width {
			return nil, fmt.Errorf("row %d has %d features, want %d", i+1, len(r.features), width)
		}
		seen[r.label] = struct{}{}
	}

	classes := make([]string, 0, len(seen))
	for label := range seen {
		classes = append(classes, label)
	}
	sortClasses(classes)

	index := make(map[string]int, len(classes))
	for i, c := range classes {
		index[c] = i
	}

	ds := &Dataset{
		Classes:  classes,
		Labels:   make([]int, len(records)),
		Features: make([][]float64, len(records)),
	}
	for i, r := range records {
		ds.Labels[i] = index[r.label]
		ds.Features[i] = r.features
	}
	return ds, nil
}

// sortClasses orders numeric labels by value and anything else lexically
func sortClasses(classes []string) {
	numeric := true
	values := make(map[string]float64, len(classes))
	for _, c := range classes {
		v, err := strconv.ParseFloat(c, 64)
		if err != nil {
			numeric = false
			break
		}
		values[c] = v
	}

	if !numeric {
		slices.Sort(classes)
		return
	}
	slices.SortFunc(classes, func(a, b string) int {
		switch {
		case values[a] < values[b]:
			return -1
		case values[a] > values[b]:
			return 1
		default:
			return strings.Compare(a, b)
		}
	})
}
