// Package nn implements the inference-only layers the terrain classifier
// and the generator are built from. Convolutions lower to GEMM through
// gonum's blas32.
package nn

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
	"gorgonia.org/tensor"

	"github.com/Brownie44l1/sar-colorize/internal/weights"
)

// Conv2d is a square-kernel 2D convolution. Weight layout is
// [out, in, k, k].
type Conv2d struct {
	In, Out int
	Kernel  int
	Stride  int
	Padding int
	HasBias bool
	Weight  *tensor.Dense
	Bias    *tensor.Dense
}

func NewConv2d(in, out, kernel, stride, padding int, bias bool) *Conv2d {
	return &Conv2d{In: in, Out: out, Kernel: kernel, Stride: stride, Padding: padding, HasBias: bias}
}

func (c *Conv2d) Params(prefix string) []weights.Spec {
	specs := []weights.Spec{{Name: prefix + "weight", Shape: []int{c.Out, c.In, c.Kernel, c.Kernel}}}
	if c.HasBias {
		specs = append(specs, weights.Spec{Name: prefix + "bias", Shape: []int{c.Out}})
	}
	return specs
}

func (c *Conv2d) Load(src weights.Source) error {
	var err error
	if c.Weight, err = src.Take("weight", c.Out, c.In, c.Kernel, c.Kernel); err != nil {
		return err
	}
	if c.HasBias {
		if c.Bias, err = src.Take("bias", c.Out); err != nil {
			return err
		}
	}
	return nil
}

func outSize(in, kernel, stride, padding int) int {
	return (in+2*padding-kernel)/stride + 1
}

func (c *Conv2d) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	if c.Weight == nil {
		return nil, fmt.Errorf("conv2d %d->%d: weights not loaded", c.In, c.Out)
	}
	n, ch, h, w, err := Dims4(x)
	if err != nil {
		return nil, err
	}
	if ch != c.In {
		return nil, fmt.Errorf("conv2d expects %d input channels, got %d", c.In, ch)
	}
	oh := outSize(h, c.Kernel, c.Stride, c.Padding)
	ow := outSize(w, c.Kernel, c.Stride, c.Padding)
	if oh <= 0 || ow <= 0 {
		return nil, fmt.Errorf("conv2d input %dx%d too small for kernel %d", h, w, c.Kernel)
	}

	rows := c.In * c.Kernel * c.Kernel
	cols := make([]float32, rows*oh*ow)
	out := Zeros(n, c.Out, oh, ow)
	wmat := blas32.General{Rows: c.Out, Cols: rows, Stride: rows, Data: c.Weight.Float32s()}

	src, res := x.Float32s(), out.Float32s()
	for b := 0; b < n; b++ {
		img := src[b*ch*h*w : (b+1)*ch*h*w]
		im2col(img, c.In, h, w, c.Kernel, c.Stride, c.Padding, oh, ow, cols)

		dst := res[b*c.Out*oh*ow : (b+1)*c.Out*oh*ow]
		if c.HasBias {
			fillBias(dst, c.Bias.Float32s(), oh*ow)
		}
		beta := float32(0)
		if c.HasBias {
			beta = 1
		}
		blas32.Gemm(blas.NoTrans, blas.NoTrans, 1, wmat,
			blas32.General{Rows: rows, Cols: oh * ow, Stride: oh * ow, Data: cols},
			beta,
			blas32.General{Rows: c.Out, Cols: oh * ow, Stride: oh * ow, Data: dst})
	}
	return out, nil
}

// im2col lays out every receptive field as a column so the convolution is
// a single matrix product. Padding positions are zero.
func im2col(img []float32, channels, h, w, k, stride, pad, oh, ow int, cols []float32) {
	plane := oh * ow
	for c := 0; c < channels; c++ {
		for ki := 0; ki < k; ki++ {
			for kj := 0; kj < k; kj++ {
				row := cols[((c*k+ki)*k+kj)*plane:][:plane]
				for y := 0; y < oh; y++ {
					iy := y*stride - pad + ki
					dst := row[y*ow : (y+1)*ow]
					if iy < 0 || iy >= h {
						clear(dst)
						continue
					}
					src := img[(c*h+iy)*w:][:w]
					for x := 0; x < ow; x++ {
						ix := x*stride - pad + kj
						if ix < 0 || ix >= w {
							dst[x] = 0
						} else {
							dst[x] = src[ix]
						}
					}
				}
			}
		}
	}
}

func fillBias(dst, bias []float32, plane int) {
	for o, v := range bias {
		row := dst[o*plane : (o+1)*plane]
		for i := range row {
			row[i] = v
		}
	}
}

// ConvTranspose2d is the fractionally-strided convolution used by the
// decoder. Weight layout is [in, out, k, k].
type ConvTranspose2d struct {
	In, Out int
	Kernel  int
	Stride  int
	Padding int
	HasBias bool
	Weight  *tensor.Dense
	Bias    *tensor.Dense
}

func NewConvTranspose2d(in, out, kernel, stride, padding int, bias bool) *ConvTranspose2d {
	return &ConvTranspose2d{In: in, Out: out, Kernel: kernel, Stride: stride, Padding: padding, HasBias: bias}
}

func (c *ConvTranspose2d) Params(prefix string) []weights.Spec {
	specs := []weights.Spec{{Name: prefix + "weight", Shape: []int{c.In, c.Out, c.Kernel, c.Kernel}}}
	if c.HasBias {
		specs = append(specs, weights.Spec{Name: prefix + "bias", Shape: []int{c.Out}})
	}
	return specs
}

func (c *ConvTranspose2d) Load(src weights.Source) error {
	var err error
	if c.Weight, err = src.Take("weight", c.In, c.Out, c.Kernel, c.Kernel); err != nil {
		return err
	}
	if c.HasBias {
		if c.Bias, err = src.Take("bias", c.Out); err != nil {
			return err
		}
	}
	return nil
}

func (c *ConvTranspose2d) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	if c.Weight == nil {
		return nil, fmt.Errorf("conv_transpose2d %d->%d: weights not loaded", c.In, c.Out)
	}
	n, ch, h, w, err := Dims4(x)
	if err != nil {
		return nil, err
	}
	if ch != c.In {
		return nil, fmt.Errorf("conv_transpose2d expects %d input channels, got %d", c.In, ch)
	}
	oh := (h-1)*c.Stride - 2*c.Padding + c.Kernel
	ow := (w-1)*c.Stride - 2*c.Padding + c.Kernel

	rows := c.Out * c.Kernel * c.Kernel
	cols := make([]float32, rows*h*w)
	out := Zeros(n, c.Out, oh, ow)
	wmat := blas32.General{Rows: c.In, Cols: rows, Stride: rows, Data: c.Weight.Float32s()}

	src, res := x.Float32s(), out.Float32s()
	for b := 0; b < n; b++ {
		img := src[b*ch*h*w : (b+1)*ch*h*w]
		// cols = W^T * x : [out*k*k, h*w]
		blas32.Gemm(blas.Trans, blas.NoTrans, 1, wmat,
			blas32.General{Rows: c.In, Cols: h * w, Stride: h * w, Data: img},
			0,
			blas32.General{Rows: rows, Cols: h * w, Stride: h * w, Data: cols})

		dst := res[b*c.Out*oh*ow : (b+1)*c.Out*oh*ow]
		if c.HasBias {
			fillBias(dst, c.Bias.Float32s(), oh*ow)
		}
		col2im(cols, c.Out, h, w, c.Kernel, c.Stride, c.Padding, oh, ow, dst)
	}
	return out, nil
}

// col2im scatters each input position's k*k contributions into the
// upsampled output, accumulating where windows overlap.
func col2im(cols []float32, channels, h, w, k, stride, pad, oh, ow int, dst []float32) {
	plane := h * w
	for c := 0; c < channels; c++ {
		out := dst[c*oh*ow : (c+1)*oh*ow]
		for ki := 0; ki < k; ki++ {
			for kj := 0; kj < k; kj++ {
				row := cols[((c*k+ki)*k+kj)*plane:][:plane]
				for y := 0; y < h; y++ {
					oy := y*stride - pad + ki
					if oy < 0 || oy >= oh {
						continue
					}
					for x := 0; x < w; x++ {
						ox := x*stride - pad + kj
						if ox < 0 || ox >= ow {
							continue
						}
						out[oy*ow+ox] += row[y*w+x]
					}
				}
			}
		}
	}
}

// Layer is anything holding named parameters.
type Layer interface {
	Params(prefix string) []weights.Spec
	Load(src weights.Source) error
}
