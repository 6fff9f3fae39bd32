package trainer

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	assert.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.csv", "10,3.5,1\n2,0.5,2\n")
	writeFile(t, dir, "a.csv", "1, 1.0, 0\n")
	assert.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0755))

	ds, err := LoadDir(dir)
	assert.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "10"}, ds.Classes)
	assert.Equal(t, []int{0, 2, 1}, ds.Labels)
	assert.Equal(t, [][]float64{{1, 0}, {3.5, 1}, {0.5, 2}}, ds.Features)
	assert.Equal(t, 3, ds.Len())
	assert.Equal(t, 2, ds.NumFeatures())
}

func TestLoadDir_TextLabels(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "iris.csv", "versicolor,1\nsetosa,2\nvirginica,3\nsetosa,4\n")

	ds, err := LoadDir(dir)
	assert.NoError(t, err)
	assert.Equal(t, []string{"setosa", "versicolor", "virginica"}, ds.Classes)
	assert.Equal(t, []int{1, 0, 2, 0}, ds.Labels)
}

func TestLoadDir_Errors(t *testing.T) {
	tests := []struct {
		name    string
		files   map[string]string
		missing bool
		want    string
	}{
		{name: "missing directory", missing: true, want: "failed to read training channel"},
		{name: "no files", want: "there are no files"},
		{name: "empty file", files: map[string]string{"a.csv": ""}, want: "training data is empty"},
		{name: "label only", files: map[string]string{"a.csv": "1\n"}, want: "at least one feature"},
		{name: "non numeric feature", files: map[string]string{"a.csv": "1,abc\n"}, want: "line 1 column 2"},
		{name: "ragged files", files: map[string]string{"a.csv": "1,2,3\n", "b.csv": "1,2\n"}, want: "has 1 features, want 2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for name, content := range tt.files {
				writeFile(t, dir, name, content)
			}
			if tt.missing {
				dir = filepath.Join(dir, "train")
			}

			_, err := LoadDir(dir)
			if assert.Error(t, err) {
				assert.True(t, strings.Contains(err.Error(), tt.want), err.Error())
			}
		})
	}
}
