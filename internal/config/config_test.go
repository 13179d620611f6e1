package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/sar-colorize/internal/model"
)

func TestDefaults(t *testing.T) {
	t.Setenv("PORT", "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "7860", cfg.Server.Port)
	assert.Equal(t, int64(10), cfg.Server.MaxUploadMB)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowOrigins)
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "models/best_generator.safetensors", cfg.Models.GeneratorPath)
	assert.Equal(t, model.DeviceAuto, cfg.Models.DeviceChoice())
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SARCOLOR_MODELS_DEVICE", "cpu")
	t.Setenv("SARCOLOR_MODELS_CLASSIFIER_PATH", "/srv/classifier.onnx")
	t.Setenv("PORT", "9000")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, model.DeviceCPU, cfg.Models.DeviceChoice())
	assert.Equal(t, "/srv/classifier.onnx", cfg.Models.ClassifierPath)
	assert.Equal(t, "9000", cfg.Server.Port)
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sarcolor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "8081"
  max_upload_mb: 4
models:
  device: cuda
  generator_path: /weights/gen.safetensors
log:
  level: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "8081", cfg.Server.Port)
	assert.Equal(t, int64(4), cfg.Server.MaxUploadMB)
	assert.Equal(t, model.DeviceCUDA, cfg.Models.DeviceChoice())
	assert.Equal(t, "/weights/gen.safetensors", cfg.Models.GeneratorPath)
	assert.Equal(t, "models/best_terrain_classifier.safetensors", cfg.Models.ClassifierPath)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestInvalidDevice(t *testing.T) {
	t.Setenv("SARCOLOR_MODELS_DEVICE", "tpu")
	_, err := Load("")
	assert.Error(t, err)
}

func TestMissingConfigFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestInvalidGinMode(t *testing.T) {
	t.Setenv("SARCOLOR_SERVER_GIN_MODE", "production")
	_, err := Load("")
	assert.ErrorContains(t, err, "gin_mode")
}
