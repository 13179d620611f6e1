package model

import (
	"fmt"

	"gorgonia.org/tensor"

	"github.com/Brownie44l1/sar-colorize/internal/nn"
	"github.com/Brownie44l1/sar-colorize/internal/terrain"
	"github.com/Brownie44l1/sar-colorize/internal/weights"
)

// ClassifierConfig describes the residual backbone. The defaults are
// ResNet-34; the trained weights only load into that shape.
type ClassifierConfig struct {
	StemWidth int
	Widths    [4]int
	Blocks    [4]int
	DropoutP  float32
}

func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		StemWidth: 64,
		Widths:    [4]int{64, 128, 256, 512},
		Blocks:    [4]int{3, 4, 6, 3},
		DropoutP:  0.4,
	}
}

// Classifier scores an image against every terrain category.
type Classifier struct {
	vocab terrain.Vocabulary

	conv1   *nn.Conv2d
	bn1     *nn.BatchNorm2d
	stages  [4][]*basicBlock
	dropout *nn.Dropout
	fc      *nn.Linear
}

func NewClassifier(cfg ClassifierConfig, vocab terrain.Vocabulary) (*Classifier, error) {
	if cfg.StemWidth <= 0 || vocab.Size() == 0 {
		return nil, fmt.Errorf("%w: invalid classifier config %+v", ErrArchitectureMismatch, cfg)
	}
	c := &Classifier{
		vocab:   vocab,
		conv1:   nn.NewConv2d(terrain.ImageChannels, cfg.StemWidth, 7, 2, 3, false),
		bn1:     nn.NewBatchNorm2d(cfg.StemWidth),
		dropout: nn.NewDropout(cfg.DropoutP),
	}

	in := cfg.StemWidth
	for s := range c.stages {
		if cfg.Blocks[s] <= 0 || cfg.Widths[s] <= 0 {
			return nil, fmt.Errorf("%w: stage %d needs positive width and depth", ErrArchitectureMismatch, s+1)
		}
		stride := 2
		if s == 0 {
			stride = 1
		}
		for i := 0; i < cfg.Blocks[s]; i++ {
			c.stages[s] = append(c.stages[s], newBasicBlock(in, cfg.Widths[s], stride))
			in = cfg.Widths[s]
			stride = 1
		}
	}
	c.fc = nn.NewLinear(in, vocab.Size())
	return c, nil
}

func (c *Classifier) parts() []part {
	parts := []part{{"conv1.", c.conv1}, {"bn1.", c.bn1}}
	for s, blocks := range c.stages {
		for i, b := range blocks {
			for _, p := range b.parts() {
				parts = append(parts, part{fmt.Sprintf("layer%d.%d.%s", s+1, i, p.prefix), p.layer})
			}
		}
	}
	return append(parts, part{"fc.", c.fc})
}

// Params lists every tensor the trained state dict must contain.
func (c *Classifier) Params() []weights.Spec {
	return paramsOf("backbone.", c.parts())
}

// Load binds weights by name. Any missing, extra or mis-shaped tensor is an
// architecture mismatch.
func (c *Classifier) Load(sd *weights.StateDict) error {
	if err := loadParts(sd.WithPrefix("backbone."), c.parts()); err != nil {
		return err
	}
	return sd.Strict()
}

// Dropout exposes the regularization layer so callers can see, and tests
// can assert, that it is disabled.
func (c *Classifier) Dropout() *nn.Dropout {
	return c.dropout
}

// Forward returns raw scores of shape [N, categories].
func (c *Classifier) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	out, err := c.conv1.Forward(x)
	if err != nil {
		return nil, fmt.Errorf("stem: %w", err)
	}
	if out, err = c.bn1.Forward(out); err != nil {
		return nil, err
	}
	if out, err = nn.ReLU(out); err != nil {
		return nil, err
	}
	if out, err = nn.MaxPool2d(out, 3, 2, 1); err != nil {
		return nil, err
	}

	for s, blocks := range c.stages {
		for i, b := range blocks {
			if out, err = b.forward(out); err != nil {
				return nil, fmt.Errorf("layer%d.%d: %w", s+1, i, err)
			}
		}
	}

	if out, err = nn.GlobalAvgPool(out); err != nil {
		return nil, err
	}
	out = c.dropout.Forward(out)
	return c.fc.Forward(out)
}

// Classify runs a single image and returns one score per category in
// vocabulary order.
func (c *Classifier) Classify(x *tensor.Dense) ([]float32, error) {
	if shape := x.Shape(); len(shape) == 0 || shape[0] != 1 {
		return nil, fmt.Errorf("classifier expects a batch of 1, got shape %v", shape)
	}
	logits, err := c.Forward(x)
	if err != nil {
		return nil, err
	}
	return append([]float32(nil), logits.Float32s()...), nil
}
