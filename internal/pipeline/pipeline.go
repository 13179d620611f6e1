// Package pipeline composes preprocessing, terrain classification,
// conditioned generation and postprocessing into one colorize call.
package pipeline

import (
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/sirupsen/logrus"
	"gorgonia.org/tensor"

	"github.com/Brownie44l1/sar-colorize/internal/imageproc"
	"github.com/Brownie44l1/sar-colorize/internal/model"
	"github.com/Brownie44l1/sar-colorize/internal/nn"
	"github.com/Brownie44l1/sar-colorize/internal/terrain"
)

var (
	ErrModelUnavailable     = model.ErrUnavailable
	ErrArchitectureMismatch = model.ErrArchitectureMismatch
	ErrInputDecode          = imageproc.ErrInputDecode
	ErrInference            = errors.New("inference failed")
)

// Classifier scores a preprocessed [1,3,S,S] tensor, one score per
// vocabulary category.
type Classifier interface {
	Classify(x *tensor.Dense) ([]float32, error)
}

// Generator renders a [1,3,S,S] tensor in [-1,1] from the preprocessed
// input and a one-hot terrain vector.
type Generator interface {
	Generate(x *tensor.Dense, onehot []float32) (*tensor.Dense, error)
}

type State int

const (
	StateUnavailable State = iota
	StateReady
)

func (s State) String() string {
	if s == StateReady {
		return "ready"
	}
	return "unavailable"
}

// Result is a successful colorization. Scores is nil when the terrain was
// forced rather than classified.
type Result struct {
	Image   *image.RGBA
	Terrain terrain.Category
	Scores  []float32
}

// Pipeline holds the two models. Both are read-only after construction, so
// one Pipeline serves concurrent requests.
type Pipeline struct {
	classifier Classifier
	generator  Generator
	state      State
	vocab      terrain.Vocabulary
	size       int
	log        *logrus.Entry
	closers    []func()
}

// New wires already-constructed models. The pipeline is ready only when
// both are present.
func New(classifier Classifier, generator Generator, opts ...Option) *Pipeline {
	o := buildOptions(opts)
	p := &Pipeline{
		classifier: classifier,
		generator:  generator,
		vocab:      o.vocab,
		size:       terrain.ImageSize,
		log:        o.log,
	}
	if classifier != nil && generator != nil {
		p.state = StateReady
	}
	return p
}

func (p *Pipeline) State() State {
	return p.state
}

func (p *Pipeline) Ready() bool {
	return p.state == StateReady
}

func (p *Pipeline) Vocabulary() terrain.Vocabulary {
	return p.vocab
}

// Close releases native resources held by ONNX-backed models.
func (p *Pipeline) Close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		p.closers[i]()
	}
	p.closers = nil
}

// Run executes preprocess, classify, one-hot, generate and postprocess in
// order. Errors wrap ErrModelUnavailable, ErrInputDecode or ErrInference.
func (p *Pipeline) Run(img image.Image) (*Result, error) {
	return p.run(img, nil)
}

// RunAs skips classification and conditions the generator on category.
func (p *Pipeline) RunAs(img image.Image, category terrain.Category) (*Result, error) {
	return p.run(img, &category)
}

func (p *Pipeline) run(img image.Image, forced *terrain.Category) (res *Result, err error) {
	if !p.Ready() {
		return nil, ErrModelUnavailable
	}
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = fmt.Errorf("%w: %v", ErrInference, r)
		}
	}()

	start := time.Now()
	x, err := imageproc.Preprocess(img, p.size)
	if err != nil {
		return nil, err
	}

	var (
		scores   []float32
		category terrain.Category
	)
	if forced != nil {
		category = *forced
	} else {
		if scores, err = p.classifier.Classify(x); err != nil {
			return nil, fmt.Errorf("%w: terrain classifier: %v", ErrInference, err)
		}
		if category, err = p.vocab.ArgMax(scores); err != nil {
			return nil, fmt.Errorf("%w: terrain classifier: %v", ErrInference, err)
		}
	}
	onehot, err := p.vocab.OneHot(category)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInference, err)
	}

	out, err := p.generator.Generate(x, onehot)
	if err != nil {
		return nil, fmt.Errorf("%w: generator: %v", ErrInference, err)
	}
	if n, c, h, w, err := nn.Dims4(out); err != nil || n != 1 || c != 3 || h != p.size || w != p.size {
		return nil, fmt.Errorf("%w: generator returned shape %v, expected [1 3 %d %d]",
			ErrInference, out.Shape(), p.size, p.size)
	}

	rgb, err := imageproc.Postprocess(out)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInference, err)
	}

	p.log.WithFields(logrus.Fields{
		"terrain":  category.String(),
		"forced":   forced != nil,
		"duration": time.Since(start).String(),
	}).Debug("Colorized image")

	return &Result{Image: rgb, Terrain: category, Scores: scores}, nil
}

// Colorize is the caller-facing entry point. It never panics: failures come
// back as a nil image and an error status.
func (p *Pipeline) Colorize(img image.Image) (image.Image, string) {
	res, err := p.Run(img)
	if err != nil {
		p.log.WithError(err).Warn("Colorization failed")
		return nil, Status(nil, err)
	}
	return res.Image, Status(res, nil)
}

// Confidences maps category names to raw scores.
func (p *Pipeline) Confidences(res *Result) map[string]float32 {
	return p.vocab.Scores(res.Scores)
}

// Status renders the human-readable outcome of a Run.
func Status(res *Result, err error) string {
	switch {
	case errors.Is(err, ErrModelUnavailable):
		return "❌ Models not loaded. Please check model files."
	case err != nil:
		return fmt.Sprintf("❌ Error: %v", err)
	case res == nil:
		return "❌ Error: no result"
	}
	return fmt.Sprintf("🎯 **Predicted Terrain:** %s\n\n✨ Successfully colorized SAR image!", res.Terrain.Label())
}
