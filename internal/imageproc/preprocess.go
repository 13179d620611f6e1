// Package imageproc converts between images and the normalized tensors the
// networks consume and produce.
package imageproc

import (
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"gorgonia.org/tensor"
)

// ErrInputDecode marks input that cannot be interpreted as an image.
var ErrInputDecode = errors.New("input is not a decodable image")

// Normalize maps an 8-bit intensity to [-1, 1] via (x/255 - 0.5)/0.5.
func Normalize(v uint8) float32 {
	return (float32(v)/255 - 0.5) / 0.5
}

// Denormalize maps [-1, 1] back to [0, 255], clipping out-of-range values
// and truncating toward zero.
func Denormalize(v float32) uint8 {
	x := (v + 1) / 2
	switch {
	case !(x >= 0): // NaN included
		x = 0
	case x > 1:
		x = 1
	}
	return uint8(x * 255)
}

// Decode reads PNG, JPEG, GIF, BMP, TIFF or WebP.
func Decode(r io.Reader) (image.Image, string, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInputDecode, err)
	}
	return img, format, nil
}

// Preprocess drops alpha, resizes img to size x size without preserving
// aspect ratio, and returns a [1,3,size,size] tensor normalized per channel
// to [-1, 1]. Alpha is dropped first so transparent pixels keep their color
// through interpolation.
func Preprocess(img image.Image, size int) (*tensor.Dense, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: nil image", ErrInputDecode)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("%w: empty image %dx%d", ErrInputDecode, b.Dx(), b.Dy())
	}

	var resized image.Image = opaque(img)
	if b.Dx() != size || b.Dy() != size {
		resized = resize.Resize(uint(size), uint(size), resized, resize.Bilinear)
	}

	rb := resized.Bounds()
	data := make([]float32, 3*size*size)
	plane := size * size
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			r, g, bl := rgb8(resized, rb.Min.X+x, rb.Min.Y+y)
			i := y*size + x
			data[i] = Normalize(r)
			data[plane+i] = Normalize(g)
			data[2*plane+i] = Normalize(bl)
		}
	}
	return tensor.New(tensor.WithShape(1, 3, size, size), tensor.WithBacking(data)), nil
}

// opaque copies img into an RGBA image holding its straight color channels
// with alpha forced to 0xff.
func opaque(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			r, g, bl := rgb8(img, b.Min.X+x, b.Min.Y+y)
			i := dst.PixOffset(x, y)
			dst.Pix[i] = r
			dst.Pix[i+1] = g
			dst.Pix[i+2] = bl
			dst.Pix[i+3] = 0xff
		}
	}
	return dst
}

// rgb8 returns the pixel's color channels with alpha discarded, the way a
// straight RGB conversion does rather than compositing over black.
func rgb8(img image.Image, x, y int) (uint8, uint8, uint8) {
	switch p := img.(type) {
	case *image.RGBA:
		if i := p.PixOffset(x, y); p.Pix[i+3] == 0xff {
			return p.Pix[i], p.Pix[i+1], p.Pix[i+2]
		}
	case *image.NRGBA:
		i := p.PixOffset(x, y)
		return p.Pix[i], p.Pix[i+1], p.Pix[i+2]
	case *image.Gray:
		v := p.Pix[p.PixOffset(x, y)]
		return v, v, v
	}
	r, g, b, a := img.At(x, y).RGBA()
	if a != 0 && a != 0xffff {
		// un-premultiply
		r = r * 0xffff / a
		g = g * 0xffff / a
		b = b * 0xffff / a
	}
	return uint8(r >> 8), uint8(g >> 8), uint8(b >> 8)
}

// FromHWC wraps a channel-last uint8 array as an image. One channel is
// treated as grayscale, three as RGB, four as RGBA.
func FromHWC(pix []uint8, height, width, channels int) (image.Image, error) {
	if height <= 0 || width <= 0 {
		return nil, fmt.Errorf("%w: array dimensions %dx%d", ErrInputDecode, height, width)
	}
	if channels <= 0 {
		return nil, fmt.Errorf("%w: unsupported channel count %d", ErrInputDecode, channels)
	}
	if height > math.MaxInt/width/channels {
		return nil, fmt.Errorf("%w: %dx%dx%d array is too large", ErrInputDecode, height, width, channels)
	}
	if len(pix) != height*width*channels {
		return nil, fmt.Errorf("%w: %dx%dx%d array needs %d values, got %d",
			ErrInputDecode, height, width, channels, height*width*channels, len(pix))
	}

	rect := image.Rect(0, 0, width, height)
	switch channels {
	case 1:
		img := image.NewGray(rect)
		copy(img.Pix, pix)
		return img, nil
	case 3:
		img := image.NewRGBA(rect)
		for i := 0; i < height*width; i++ {
			img.Pix[i*4] = pix[i*3]
			img.Pix[i*4+1] = pix[i*3+1]
			img.Pix[i*4+2] = pix[i*3+2]
			img.Pix[i*4+3] = 0xff
		}
		return img, nil
	case 4:
		img := image.NewNRGBA(rect)
		copy(img.Pix, pix)
		return img, nil
	default:
		return nil, fmt.Errorf("%w: unsupported channel count %d", ErrInputDecode, channels)
	}
}
