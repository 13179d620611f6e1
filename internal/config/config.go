// Package config loads service settings from defaults, an optional config
// file and SARCOLOR_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Brownie44l1/sar-colorize/internal/model"
)

const envPrefix = "SARCOLOR"

type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Models Models       `mapstructure:"models"`
	Log    LogConfig    `mapstructure:"log"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	GinMode         string        `mapstructure:"gin_mode"`
	MaxUploadMB     int64         `mapstructure:"max_upload_mb"`
	AllowOrigins    []string      `mapstructure:"allow_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Models locates the two weight artifacts. A path ending in .onnx is served
// through onnxruntime and needs the matching metadata file; anything else
// is read as safetensors.
type Models struct {
	GeneratorPath      string `mapstructure:"generator_path"`
	ClassifierPath     string `mapstructure:"classifier_path"`
	GeneratorMetadata  string `mapstructure:"generator_metadata"`
	ClassifierMetadata string `mapstructure:"classifier_metadata"`
	Device             string `mapstructure:"device"`
	ONNXLibrary        string `mapstructure:"onnx_library"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "7860")
	v.SetDefault("server.gin_mode", "release")
	v.SetDefault("server.max_upload_mb", 10)
	v.SetDefault("server.allow_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout", 5*time.Second)

	v.SetDefault("models.generator_path", "models/best_generator.safetensors")
	v.SetDefault("models.classifier_path", "models/best_terrain_classifier.safetensors")
	v.SetDefault("models.generator_metadata", "models/generator_metadata.json")
	v.SetDefault("models.classifier_metadata", "models/classifier_metadata.json")
	v.SetDefault("models.device", string(model.DeviceAuto))
	v.SetDefault("models.onnx_library", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads configuration. path may be empty to skip the config file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// PORT is what most hosting platforms inject.
	if err := v.BindEnv("server.port", envPrefix+"_SERVER_PORT", "PORT"); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if _, err := model.ParseDevice(c.Models.Device); err != nil {
		return err
	}
	switch c.Server.GinMode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("server.gin_mode must be debug, release or test, got %q", c.Server.GinMode)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("server.max_upload_mb must be positive, got %d", c.Server.MaxUploadMB)
	}
	return nil
}

// DeviceChoice returns the parsed accelerator choice.
func (m Models) DeviceChoice() model.Device {
	d, err := model.ParseDevice(m.Device)
	if err != nil {
		return model.DeviceAuto
	}
	return d
}
