package nn

import (
	"fmt"
	"math"

	"gorgonia.org/tensor"
)

// MaxPool2d takes the maximum over square windows. Padded positions never
// win.
func MaxPool2d(x *tensor.Dense, kernel, stride, padding int) (*tensor.Dense, error) {
	n, c, h, w, err := Dims4(x)
	if err != nil {
		return nil, err
	}
	oh := outSize(h, kernel, stride, padding)
	ow := outSize(w, kernel, stride, padding)
	if oh <= 0 || ow <= 0 {
		return nil, fmt.Errorf("maxpool input %dx%d too small for kernel %d", h, w, kernel)
	}

	out := Zeros(n, c, oh, ow)
	in, res := x.Float32s(), out.Float32s()
	negInf := float32(math.Inf(-1))
	for p := 0; p < n*c; p++ {
		src := in[p*h*w:][:h*w]
		dst := res[p*oh*ow:][:oh*ow]
		for y := 0; y < oh; y++ {
			for xx := 0; xx < ow; xx++ {
				best := negInf
				for ki := 0; ki < kernel; ki++ {
					iy := y*stride - padding + ki
					if iy < 0 || iy >= h {
						continue
					}
					for kj := 0; kj < kernel; kj++ {
						ix := xx*stride - padding + kj
						if ix < 0 || ix >= w {
							continue
						}
						if v := src[iy*w+ix]; v > best {
							best = v
						}
					}
				}
				dst[y*ow+xx] = best
			}
		}
	}
	return out, nil
}

// GlobalAvgPool averages each channel down to one value, returning [N, C].
func GlobalAvgPool(x *tensor.Dense) (*tensor.Dense, error) {
	n, c, h, w, err := Dims4(x)
	if err != nil {
		return nil, err
	}
	out := Zeros(n, c)
	in, res := x.Float32s(), out.Float32s()
	plane := h * w
	for p := 0; p < n*c; p++ {
		var sum float64
		for _, v := range in[p*plane : (p+1)*plane] {
			sum += float64(v)
		}
		res[p] = float32(sum / float64(plane))
	}
	return out, nil
}
