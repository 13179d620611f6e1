package imageproc

import (
	"image"
	"slices"

	"github.com/cenkalti/dominantcolor"
	"github.com/lucasb-eyer/go-colorful"
)

// Palette returns up to k dominant colors of img as hex strings, darkest
// first.
func Palette(img image.Image, k int) []string {
	if img == nil || k <= 0 {
		return nil
	}

	candidates := dominantcolor.FindWeight(img, k)
	colors := make([]colorful.Color, 0, len(candidates))
	for _, c := range candidates {
		col, ok := colorful.MakeColor(c.RGBA)
		if !ok {
			continue
		}
		colors = append(colors, col.Clamped())
	}

	slices.SortStableFunc(colors, func(a, b colorful.Color) int {
		la, _, _ := a.Lab()
		lb, _, _ := b.Lab()
		switch {
		case la < lb:
			return -1
		case la > lb:
			return 1
		}
		return 0
	})

	out := make([]string, len(colors))
	for i, c := range colors {
		out[i] = c.Hex()
	}
	return out
}
