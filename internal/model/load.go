package model

import (
	"errors"
	"fmt"

	"github.com/Brownie44l1/sar-colorize/internal/terrain"
	"github.com/Brownie44l1/sar-colorize/internal/weights"
)

// openStateDict maps read and parse failures to ErrUnavailable. Only
// well-formed files reach the architecture checks.
func openStateDict(path string) (*weights.StateDict, error) {
	sd, err := weights.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return sd, nil
}

// LoadClassifier builds the classifier and binds weights from a
// safetensors file.
func LoadClassifier(path string, cfg ClassifierConfig, vocab terrain.Vocabulary) (*Classifier, error) {
	c, err := NewClassifier(cfg, vocab)
	if err != nil {
		return nil, err
	}
	sd, err := openStateDict(path)
	if err != nil {
		return nil, err
	}
	if err := c.Load(sd); err != nil {
		return nil, fmt.Errorf("classifier %s: %w", path, err)
	}
	return c, nil
}

// LoadGenerator builds the generator and binds weights from a safetensors
// file.
func LoadGenerator(path string, cfg GeneratorConfig, vocab terrain.Vocabulary) (*Generator, error) {
	g, err := NewGenerator(cfg, vocab)
	if err != nil {
		return nil, err
	}
	sd, err := openStateDict(path)
	if err != nil {
		return nil, err
	}
	if err := g.Load(sd); err != nil {
		return nil, fmt.Errorf("generator %s: %w", path, err)
	}
	return g, nil
}

// IsUnavailable reports whether err means the artifact could not be used,
// as opposed to not fitting the architecture.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable) && !errors.Is(err, ErrArchitectureMismatch)
}
