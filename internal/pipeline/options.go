package pipeline

import (
	"io"

	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/sar-colorize/internal/model"
	"github.com/Brownie44l1/sar-colorize/internal/terrain"
)

type options struct {
	vocab         terrain.Vocabulary
	log           *logrus.Entry
	classifierCfg model.ClassifierConfig
	generatorCfg  model.GeneratorConfig
}

type Option func(*options)

func WithLogger(log *logrus.Entry) Option {
	return func(o *options) { o.log = log }
}

func WithVocabulary(v terrain.Vocabulary) Option {
	return func(o *options) { o.vocab = v }
}

// WithClassifierConfig overrides the backbone Load builds for safetensors
// artifacts.
func WithClassifierConfig(cfg model.ClassifierConfig) Option {
	return func(o *options) { o.classifierCfg = cfg }
}

// WithGeneratorConfig overrides the U-Net Load builds for safetensors
// artifacts.
func WithGeneratorConfig(cfg model.GeneratorConfig) Option {
	return func(o *options) { o.generatorCfg = cfg }
}

func buildOptions(opts []Option) options {
	o := options{
		vocab:         terrain.Default(),
		classifierCfg: model.DefaultClassifierConfig(),
		generatorCfg:  model.DefaultGeneratorConfig(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		o.log = logrus.NewEntry(l)
	}
	o.log = o.log.WithField("component", "pipeline")
	return o
}
