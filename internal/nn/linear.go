package nn

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
	"gorgonia.org/tensor"

	"github.com/Brownie44l1/sar-colorize/internal/weights"
)

// Linear computes x*W^T + b over a [N, in] input.
type Linear struct {
	In, Out int
	Weight  *tensor.Dense
	Bias    *tensor.Dense
}

func NewLinear(in, out int) *Linear {
	return &Linear{In: in, Out: out}
}

func (l *Linear) Params(prefix string) []weights.Spec {
	return []weights.Spec{
		{Name: prefix + "weight", Shape: []int{l.Out, l.In}},
		{Name: prefix + "bias", Shape: []int{l.Out}},
	}
}

func (l *Linear) Load(src weights.Source) error {
	var err error
	if l.Weight, err = src.Take("weight", l.Out, l.In); err != nil {
		return err
	}
	l.Bias, err = src.Take("bias", l.Out)
	return err
}

func (l *Linear) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	if l.Weight == nil {
		return nil, fmt.Errorf("linear %d->%d: weights not loaded", l.In, l.Out)
	}
	shape := x.Shape()
	if len(shape) != 2 || shape[1] != l.In {
		return nil, fmt.Errorf("linear expects [N,%d] input, got %v", l.In, shape)
	}
	n := shape[0]
	out := Zeros(n, l.Out)
	res := out.Float32s()
	for b := 0; b < n; b++ {
		copy(res[b*l.Out:(b+1)*l.Out], l.Bias.Float32s())
	}
	blas32.Gemm(blas.NoTrans, blas.Trans, 1,
		blas32.General{Rows: n, Cols: l.In, Stride: l.In, Data: x.Float32s()},
		blas32.General{Rows: l.Out, Cols: l.In, Stride: l.In, Data: l.Weight.Float32s()},
		1,
		blas32.General{Rows: n, Cols: l.Out, Stride: l.Out, Data: res})
	return out, nil
}
