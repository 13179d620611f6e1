package model_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/sar-colorize/internal/model"
	"github.com/Brownie44l1/sar-colorize/internal/terrain"
)

var imageInfo = model.TensorInfo{Name: "image", Shape: []int64{1, 3, terrain.ImageSize, terrain.ImageSize}}

func writeMetadata(t *testing.T, m model.Metadata) string {
	t.Helper()
	raw, err := json.Marshal(m)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, os.WriteFile(path, raw, 0o644))
	return path
}

// The metadata is checked before any session is opened, so a nil runtime
// is enough to exercise every rejection.
func TestONNXClassifierMetadata(t *testing.T) {
	logits := model.TensorInfo{Name: "logits", Shape: []int64{1, 4}}
	tests := []struct {
		name string
		meta model.Metadata
	}{
		{"two inputs", model.Metadata{Inputs: []model.TensorInfo{imageInfo, imageInfo}, Outputs: []model.TensorInfo{logits}}},
		{"no outputs", model.Metadata{Inputs: []model.TensorInfo{imageInfo}}},
		{"wrong image shape", model.Metadata{
			Inputs:  []model.TensorInfo{{Name: "image", Shape: []int64{1, 3, 128, 128}}},
			Outputs: []model.TensorInfo{logits},
		}},
		{"wrong class count", model.Metadata{
			Inputs:  []model.TensorInfo{imageInfo},
			Outputs: []model.TensorInfo{{Name: "logits", Shape: []int64{1, 5}}},
		}},
		{"classes out of order", model.Metadata{
			Inputs:  []model.TensorInfo{imageInfo},
			Outputs: []model.TensorInfo{logits},
			Classes: []string{"grassland", "urban", "agri", "barrenland"},
		}},
		{"exported for another size", model.Metadata{
			Inputs:    []model.TensorInfo{imageInfo},
			Outputs:   []model.TensorInfo{logits},
			ImageSize: 224,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := model.NewONNXClassifier(nil, "classifier.onnx", writeMetadata(t, tt.meta), terrain.Default())
			assert.ErrorIs(t, err, model.ErrArchitectureMismatch)
			assert.False(t, model.IsUnavailable(err))
		})
	}
}

func TestONNXGeneratorMetadata(t *testing.T) {
	terrainInfo := model.TensorInfo{Name: "terrain", Shape: []int64{1, 4}}
	tests := []struct {
		name string
		meta model.Metadata
	}{
		{"one input", model.Metadata{Inputs: []model.TensorInfo{imageInfo}, Outputs: []model.TensorInfo{imageInfo}}},
		{"two outputs", model.Metadata{
			Inputs:  []model.TensorInfo{imageInfo, terrainInfo},
			Outputs: []model.TensorInfo{imageInfo, imageInfo},
		}},
		{"wrong one-hot width", model.Metadata{
			Inputs:  []model.TensorInfo{imageInfo, {Name: "terrain", Shape: []int64{1, 3}}},
			Outputs: []model.TensorInfo{imageInfo},
		}},
		{"wrong output shape", model.Metadata{
			Inputs:  []model.TensorInfo{imageInfo, terrainInfo},
			Outputs: []model.TensorInfo{{Name: "fake", Shape: []int64{1, 1, terrain.ImageSize, terrain.ImageSize}}},
		}},
		{"exported for another size", model.Metadata{
			Inputs:    []model.TensorInfo{imageInfo, terrainInfo},
			Outputs:   []model.TensorInfo{imageInfo},
			ImageSize: 512,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := model.NewONNXGenerator(nil, "generator.onnx", writeMetadata(t, tt.meta), terrain.Default())
			assert.ErrorIs(t, err, model.ErrArchitectureMismatch)
		})
	}
}

func TestONNXMissingMetadataIsUnavailable(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent.json")

	_, err := model.NewONNXClassifier(nil, "classifier.onnx", missing, terrain.Default())
	assert.True(t, model.IsUnavailable(err))
	assert.NotErrorIs(t, err, model.ErrArchitectureMismatch)

	_, err = model.NewONNXGenerator(nil, "generator.onnx", missing, terrain.Default())
	assert.True(t, model.IsUnavailable(err))

	garbled := filepath.Join(t.TempDir(), "garbled.json")
	require.NoError(t, os.WriteFile(garbled, []byte("{"), 0o644))
	_, err = model.NewONNXClassifier(nil, "classifier.onnx", garbled, terrain.Default())
	assert.True(t, model.IsUnavailable(err))
}
