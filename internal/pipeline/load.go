package pipeline

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/sar-colorize/internal/config"
	"github.com/Brownie44l1/sar-colorize/internal/model"
)

func isONNX(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".onnx")
}

// Load builds a pipeline from the configured artifacts. Each model loads
// independently; a missing or unreadable artifact leaves the pipeline
// unavailable without an error. The returned error is non-nil only when an
// artifact does not match its network definition.
func Load(cfg config.Models, opts ...Option) (*Pipeline, error) {
	o := buildOptions(opts)
	log := o.log
	device := cfg.DeviceChoice()

	var closers []func()
	var runtime *model.Runtime
	var runtimeErr error
	if isONNX(cfg.ClassifierPath) || isONNX(cfg.GeneratorPath) {
		runtime, runtimeErr = model.NewRuntime(cfg.ONNXLibrary, device, log)
		if runtimeErr != nil {
			log.WithError(runtimeErr).Warn("ONNX runtime unavailable")
		} else {
			closers = append(closers, runtime.Close)
		}
	}
	if device == model.DeviceCUDA && !(isONNX(cfg.ClassifierPath) && isONNX(cfg.GeneratorPath)) {
		log.Warn("CUDA requested but safetensors models run on CPU")
	}

	var classifier Classifier
	var classifierErr error
	switch {
	case !isONNX(cfg.ClassifierPath):
		var c *model.Classifier
		if c, classifierErr = model.LoadClassifier(cfg.ClassifierPath, o.classifierCfg, o.vocab); classifierErr == nil {
			classifier = c
		}
	case runtime == nil:
		classifierErr = fmt.Errorf("%w: %v", ErrModelUnavailable, runtimeErr)
	default:
		var c *model.ONNXClassifier
		if c, classifierErr = model.NewONNXClassifier(runtime, cfg.ClassifierPath, cfg.ClassifierMetadata, o.vocab); classifierErr == nil {
			classifier = c
			closers = append(closers, c.Close)
		}
	}
	logLoad(log, "Terrain classifier", cfg.ClassifierPath, classifierErr)

	var generator Generator
	var generatorErr error
	switch {
	case !isONNX(cfg.GeneratorPath):
		var g *model.Generator
		if g, generatorErr = model.LoadGenerator(cfg.GeneratorPath, o.generatorCfg, o.vocab); generatorErr == nil {
			generator = g
		}
	case runtime == nil:
		generatorErr = fmt.Errorf("%w: %v", ErrModelUnavailable, runtimeErr)
	default:
		var g *model.ONNXGenerator
		if g, generatorErr = model.NewONNXGenerator(runtime, cfg.GeneratorPath, cfg.GeneratorMetadata, o.vocab); generatorErr == nil {
			generator = g
			closers = append(closers, g.Close)
		}
	}
	logLoad(log, "Generator", cfg.GeneratorPath, generatorErr)

	p := New(classifier, generator, opts...)
	p.closers = closers

	var mismatch []error
	for _, err := range []error{classifierErr, generatorErr} {
		if errors.Is(err, ErrArchitectureMismatch) {
			mismatch = append(mismatch, err)
		}
	}
	if len(mismatch) > 0 {
		p.Close()
		return nil, errors.Join(mismatch...)
	}

	log.WithField("state", p.State().String()).Info("Pipeline initialized")
	return p, nil
}

func logLoad(log *logrus.Entry, what, path string, err error) {
	entry := log.WithField("path", path)
	switch {
	case err == nil:
		entry.Infof("✅ %s loaded successfully", what)
	case errors.Is(err, ErrArchitectureMismatch):
		entry.WithError(err).Errorf("❌ %s does not match its network definition", what)
	default:
		entry.WithError(err).Warnf("⚠️ %s not loaded", what)
	}
}
