package nn

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gorgonia.org/tensor"
)

// The activations below overwrite their input and return it. Callers only
// pass freshly computed layer outputs, never parameters.

func activate(x *tensor.Dense, name string, fn func(float32) float32) (*tensor.Dense, error) {
	if _, err := x.Apply(fn, tensor.UseUnsafe()); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return x, nil
}

func ReLU(x *tensor.Dense) (*tensor.Dense, error) {
	return activate(x, "relu", func(v float32) float32 {
		if v < 0 {
			return 0
		}
		return v
	})
}

func LeakyReLU(x *tensor.Dense, slope float32) (*tensor.Dense, error) {
	return activate(x, "leaky_relu", func(v float32) float32 {
		if v < 0 {
			return v * slope
		}
		return v
	})
}

func Tanh(x *tensor.Dense) (*tensor.Dense, error) {
	return activate(x, "tanh", func(v float32) float32 {
		return float32(math.Tanh(float64(v)))
	})
}

// Dropout zeroes activations with probability P only while Enabled is set.
// Inference code constructs it disabled and never flips it, so a disabled
// Dropout is an exact identity.
type Dropout struct {
	P       float32
	Enabled bool

	rng *rand.Rand
}

func NewDropout(p float32) *Dropout {
	return &Dropout{P: p}
}

// Enable turns stochastic masking on, drawing from a seeded source so runs
// stay reproducible.
func (d *Dropout) Enable(seed uint64) {
	d.Enabled = true
	d.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

func (d *Dropout) Forward(x *tensor.Dense) *tensor.Dense {
	if !d.Enabled || d.P <= 0 {
		return x
	}
	out := x.Clone().(*tensor.Dense)
	data := out.Float32s()
	if d.P >= 1 {
		clear(data)
		return out
	}
	if d.rng == nil {
		d.Enable(0)
	}
	keep := 1 / (1 - d.P)
	for i := range data {
		if d.rng.Float32() < d.P {
			data[i] = 0
		} else {
			data[i] *= keep
		}
	}
	return out
}
