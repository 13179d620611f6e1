package nn

import (
	"fmt"

	"gorgonia.org/tensor"
)

// Zeros allocates a float32 tensor of the given shape.
func Zeros(shape ...int) *tensor.Dense {
	return tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(shape...))
}

// FromData wraps data as a float32 tensor without copying. The length must
// match the shape.
func FromData(data []float32, shape ...int) (*tensor.Dense, error) {
	if n := tensor.Shape(shape).TotalSize(); n != len(data) || len(shape) == 0 {
		return nil, fmt.Errorf("shape %v needs %d values, got %d", shape, n, len(data))
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data)), nil
}

// Dims4 returns N, C, H, W for a rank-4 tensor.
func Dims4(t *tensor.Dense) (n, c, h, w int, err error) {
	s := t.Shape()
	if len(s) != 4 {
		return 0, 0, 0, 0, fmt.Errorf("expected rank-4 tensor, got shape %v", s)
	}
	return s[0], s[1], s[2], s[3], nil
}

// AddChannelBias adds a [N,C,1,1] tensor to every spatial position of a
// [N,C,H,W] tensor, returning a new tensor.
func AddChannelBias(x, bias *tensor.Dense) (*tensor.Dense, error) {
	n, c, h, w, err := Dims4(x)
	if err != nil {
		return nil, err
	}
	bn, bc, bh, bw, err := Dims4(bias)
	if err != nil {
		return nil, err
	}
	if bn != n || bc != c || bh != 1 || bw != 1 {
		return nil, fmt.Errorf("cannot broadcast %v over %v", bias.Shape(), x.Shape())
	}

	out := x.Clone().(*tensor.Dense)
	data, b := out.Float32s(), bias.Float32s()
	plane := h * w
	for i := 0; i < n*c; i++ {
		row := data[i*plane : (i+1)*plane]
		for j := range row {
			row[j] += b[i]
		}
	}
	return out, nil
}
