package imageproc

import (
	"fmt"
	"image"

	"gorgonia.org/tensor"
)

// Postprocess converts a [1,3,H,W] tensor in [-1,1] to an opaque RGBA
// image.
func Postprocess(t *tensor.Dense) (*image.RGBA, error) {
	shape := t.Shape()
	if len(shape) != 4 || shape[0] != 1 || shape[1] != 3 {
		return nil, fmt.Errorf("expected [1,3,H,W] output, got %v", shape)
	}
	h, w := shape[2], shape[3]
	data := t.Float32s()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	plane := h * w
	for i := 0; i < plane; i++ {
		img.Pix[i*4] = Denormalize(data[i])
		img.Pix[i*4+1] = Denormalize(data[plane+i])
		img.Pix[i*4+2] = Denormalize(data[2*plane+i])
		img.Pix[i*4+3] = 0xff
	}
	return img, nil
}
