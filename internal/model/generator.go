package model

import (
	"fmt"

	"gorgonia.org/tensor"

	"github.com/Brownie44l1/sar-colorize/internal/nn"
	"github.com/Brownie44l1/sar-colorize/internal/terrain"
	"github.com/Brownie44l1/sar-colorize/internal/weights"
)

const leakySlope = 0.2

// GeneratorConfig fixes the U-Net widths. Encoder lists channel depth from
// the input image to the deepest stage; ConditionWidth must equal the last
// entry so the terrain features can be added to that map.
type GeneratorConfig struct {
	Encoder         [5]int
	ConditionHidden int
	ConditionWidth  int
}

func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		Encoder:         [5]int{terrain.ImageChannels, 64, 128, 256, terrain.BottleneckChannels},
		ConditionHidden: terrain.ConditionHidden,
		ConditionWidth:  terrain.BottleneckChannels,
	}
}

func (cfg GeneratorConfig) validate(vocab terrain.Vocabulary) error {
	for i, c := range cfg.Encoder {
		if c <= 0 {
			return fmt.Errorf("%w: encoder width %d at stage %d", ErrArchitectureMismatch, c, i)
		}
	}
	if cfg.Encoder[0] != terrain.ImageChannels {
		return fmt.Errorf("%w: generator input has %d channels, images have %d",
			ErrArchitectureMismatch, cfg.Encoder[0], terrain.ImageChannels)
	}
	if deepest := cfg.Encoder[len(cfg.Encoder)-1]; cfg.ConditionWidth != deepest {
		return fmt.Errorf("%w: terrain condition width %d does not match bottleneck depth %d",
			ErrArchitectureMismatch, cfg.ConditionWidth, deepest)
	}
	if cfg.ConditionHidden <= 0 || vocab.Size() == 0 {
		return fmt.Errorf("%w: empty terrain conditioner", ErrArchitectureMismatch)
	}
	return nil
}

// Conditioner maps a one-hot terrain vector to a per-channel bias for the
// deepest encoder map. The bias is spatially uniform.
type Conditioner struct {
	fc1 *nn.Linear
	fc2 *nn.Linear
}

func NewConditioner(categories, hidden, width int) *Conditioner {
	return &Conditioner{
		fc1: nn.NewLinear(categories, hidden),
		fc2: nn.NewLinear(hidden, width),
	}
}

func (t *Conditioner) parts() []part {
	return []part{{"fc.0.", t.fc1}, {"fc.2.", t.fc2}}
}

// Forward returns [N, width, 1, 1].
func (t *Conditioner) Forward(onehot *tensor.Dense) (*tensor.Dense, error) {
	h, err := t.fc1.Forward(onehot)
	if err != nil {
		return nil, err
	}
	if h, err = nn.ReLU(h); err != nil {
		return nil, err
	}
	if h, err = t.fc2.Forward(h); err != nil {
		return nil, err
	}
	if h, err = nn.ReLU(h); err != nil {
		return nil, err
	}
	shape := h.Shape()
	if err := h.Reshape(shape[0], shape[1], 1, 1); err != nil {
		return nil, err
	}
	return h, nil
}

// downBlock halves resolution: strided conv, optional batch norm, leaky ReLU.
type downBlock struct {
	conv *nn.Conv2d
	bn   *nn.BatchNorm2d
}

func (b *downBlock) forward(x *tensor.Dense) (*tensor.Dense, error) {
	out, err := b.conv.Forward(x)
	if err != nil {
		return nil, err
	}
	if b.bn != nil {
		if out, err = b.bn.Forward(out); err != nil {
			return nil, err
		}
	}
	return nn.LeakyReLU(out, leakySlope)
}

// upBlock doubles resolution: transposed conv, batch norm, ReLU.
type upBlock struct {
	conv *nn.ConvTranspose2d
	bn   *nn.BatchNorm2d
}

func (b *upBlock) forward(x *tensor.Dense) (*tensor.Dense, error) {
	out, err := b.conv.Forward(x)
	if err != nil {
		return nil, err
	}
	if out, err = b.bn.Forward(out); err != nil {
		return nil, err
	}
	return nn.ReLU(out)
}

// Generator is the terrain-conditioned U-Net.
type Generator struct {
	vocab terrain.Vocabulary
	cfg   GeneratorConfig

	enc        [4]*downBlock
	cond       *Conditioner
	bottleneck *nn.Conv2d
	dec        [3]*upBlock
	final      *nn.ConvTranspose2d
}

// NewGenerator builds the network. Width disagreements between the
// conditioner, the vocabulary and the encoder fail here rather than at
// inference time.
func NewGenerator(cfg GeneratorConfig, vocab terrain.Vocabulary) (*Generator, error) {
	if err := cfg.validate(vocab); err != nil {
		return nil, err
	}
	e := cfg.Encoder
	g := &Generator{
		vocab:      vocab,
		cfg:        cfg,
		cond:       NewConditioner(vocab.Size(), cfg.ConditionHidden, cfg.ConditionWidth),
		bottleneck: nn.NewConv2d(e[4], e[4], 3, 1, 1, true),
		final:      nn.NewConvTranspose2d(2*e[1], terrain.ImageChannels, 4, 2, 1, true),
	}
	for i := range g.enc {
		b := &downBlock{conv: nn.NewConv2d(e[i], e[i+1], 4, 2, 1, false)}
		if i > 0 {
			b.bn = nn.NewBatchNorm2d(e[i+1])
		}
		g.enc[i] = b
	}
	// dec[0] consumes cat(bottleneck, e4) and emits e3's width, and so on.
	for i := range g.dec {
		deep := e[4-i]
		g.dec[i] = &upBlock{
			conv: nn.NewConvTranspose2d(2*deep, e[3-i], 4, 2, 1, false),
			bn:   nn.NewBatchNorm2d(e[3-i]),
		}
	}
	return g, nil
}

func (g *Generator) parts() []part {
	var parts []part
	for i, b := range g.enc {
		name := fmt.Sprintf("enc%d.", i+1)
		parts = append(parts, part{name + "conv.", b.conv})
		if b.bn != nil {
			parts = append(parts, part{name + "bn.", b.bn})
		}
	}
	for _, p := range g.cond.parts() {
		parts = append(parts, part{"terrain_enc." + p.prefix, p.layer})
	}
	parts = append(parts, part{"bottleneck.0.", g.bottleneck})
	for i, b := range g.dec {
		name := fmt.Sprintf("dec%d.", 4-i)
		parts = append(parts, part{name + "conv.", b.conv}, part{name + "bn.", b.bn})
	}
	return append(parts, part{"dec1.", g.final})
}

func (g *Generator) Params() []weights.Spec {
	return paramsOf("", g.parts())
}

func (g *Generator) Load(sd *weights.StateDict) error {
	if err := loadParts(sd, g.parts()); err != nil {
		return err
	}
	return sd.Strict()
}

// Forward runs the U-Net on x [N,3,H,W] with one-hot terrain [N,K].
func (g *Generator) Forward(x, onehot *tensor.Dense) (*tensor.Dense, error) {
	skips := make([]*tensor.Dense, len(g.enc))
	h := x
	for i, b := range g.enc {
		var err error
		if h, err = b.forward(h); err != nil {
			return nil, fmt.Errorf("enc%d: %w", i+1, err)
		}
		skips[i] = h
	}

	t, err := g.cond.Forward(onehot)
	if err != nil {
		return nil, fmt.Errorf("terrain conditioner: %w", err)
	}
	h, err = nn.AddChannelBias(h, t)
	if err != nil {
		return nil, fmt.Errorf("terrain injection: %w", err)
	}

	if h, err = g.bottleneck.Forward(h); err != nil {
		return nil, fmt.Errorf("bottleneck: %w", err)
	}
	if h, err = nn.ReLU(h); err != nil {
		return nil, err
	}

	for i, b := range g.dec {
		if h, err = h.Concat(1, skips[len(skips)-1-i]); err != nil {
			return nil, fmt.Errorf("dec%d skip: %w", 4-i, err)
		}
		if h, err = b.forward(h); err != nil {
			return nil, fmt.Errorf("dec%d: %w", 4-i, err)
		}
	}

	if h, err = h.Concat(1, skips[0]); err != nil {
		return nil, fmt.Errorf("dec1 skip: %w", err)
	}
	if h, err = g.final.Forward(h); err != nil {
		return nil, fmt.Errorf("dec1: %w", err)
	}
	return nn.Tanh(h)
}

// Generate renders one image conditioned on a one-hot terrain vector.
func (g *Generator) Generate(x *tensor.Dense, onehot []float32) (*tensor.Dense, error) {
	if len(onehot) != g.vocab.Size() {
		return nil, fmt.Errorf("terrain vector has %d entries, vocabulary has %d", len(onehot), g.vocab.Size())
	}
	t, err := nn.FromData(append([]float32(nil), onehot...), 1, len(onehot))
	if err != nil {
		return nil, err
	}
	return g.Forward(x, t)
}
