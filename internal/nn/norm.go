package nn

import (
	"fmt"
	"math"

	"gorgonia.org/tensor"

	"github.com/Brownie44l1/sar-colorize/internal/weights"
)

const batchNormEps = 1e-5

// BatchNorm2d applies stored running statistics. There is no training
// mode: batch statistics are never computed.
type BatchNorm2d struct {
	Channels int

	scale []float32
	shift []float32
}

func NewBatchNorm2d(channels int) *BatchNorm2d {
	return &BatchNorm2d{Channels: channels}
}

func (bn *BatchNorm2d) Params(prefix string) []weights.Spec {
	c := []int{bn.Channels}
	return []weights.Spec{
		{Name: prefix + "weight", Shape: c},
		{Name: prefix + "bias", Shape: c},
		{Name: prefix + "running_mean", Shape: c},
		{Name: prefix + "running_var", Shape: c},
	}
}

// Load folds gamma, beta, mean and variance into one scale and shift per
// channel.
func (bn *BatchNorm2d) Load(src weights.Source) error {
	gamma, err := src.Take("weight", bn.Channels)
	if err != nil {
		return err
	}
	beta, err := src.Take("bias", bn.Channels)
	if err != nil {
		return err
	}
	mean, err := src.Take("running_mean", bn.Channels)
	if err != nil {
		return err
	}
	variance, err := src.Take("running_var", bn.Channels)
	if err != nil {
		return err
	}

	bn.scale = make([]float32, bn.Channels)
	bn.shift = make([]float32, bn.Channels)
	g, b, m, v := gamma.Float32s(), beta.Float32s(), mean.Float32s(), variance.Float32s()
	for i := 0; i < bn.Channels; i++ {
		if v[i] < 0 {
			return fmt.Errorf("%w: negative running variance in channel %d", weights.ErrMismatch, i)
		}
		s := float64(g[i]) / math.Sqrt(float64(v[i])+batchNormEps)
		bn.scale[i] = float32(s)
		bn.shift[i] = float32(float64(b[i]) - float64(m[i])*s)
	}
	return nil
}

// Forward normalizes x in place and returns it.
func (bn *BatchNorm2d) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	if bn.scale == nil {
		return nil, fmt.Errorf("batchnorm2d(%d): weights not loaded", bn.Channels)
	}
	n, c, h, w, err := Dims4(x)
	if err != nil {
		return nil, err
	}
	if c != bn.Channels {
		return nil, fmt.Errorf("batchnorm2d expects %d channels, got %d", bn.Channels, c)
	}
	data := x.Float32s()
	plane := h * w
	for b := 0; b < n; b++ {
		for ch := 0; ch < c; ch++ {
			s, t := bn.scale[ch], bn.shift[ch]
			row := data[(b*c+ch)*plane:][:plane]
			for i, v := range row {
				row[i] = v*s + t
			}
		}
	}
	return x, nil
}
