package pipeline

import (
	"image"
	"image/color"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/Brownie44l1/sar-colorize/internal/imageproc"
	"github.com/Brownie44l1/sar-colorize/internal/nn"
	"github.com/Brownie44l1/sar-colorize/internal/terrain"
)

type stubClassifier struct {
	scores []float32
	err    error
	calls  int
	seen   *tensor.Dense
}

func (s *stubClassifier) Classify(x *tensor.Dense) ([]float32, error) {
	s.calls++
	s.seen = x
	return s.scores, s.err
}

type stubGenerator struct {
	fn     func(x *tensor.Dense, onehot []float32) (*tensor.Dense, error)
	calls  int
	seen   *tensor.Dense
	onehot []float32
}

func (s *stubGenerator) Generate(x *tensor.Dense, onehot []float32) (*tensor.Dense, error) {
	s.calls++
	s.seen = x
	s.onehot = onehot
	if s.fn != nil {
		return s.fn(x, onehot)
	}
	return nn.Zeros(1, 3, terrain.ImageSize, terrain.ImageSize), nil
}

func zeroImage(t *testing.T, size int) image.Image {
	t.Helper()
	img, err := imageproc.FromHWC(make([]uint8, size*size*3), size, size, 3)
	require.NoError(t, err)
	return img
}

func TestNewState(t *testing.T) {
	assert.Equal(t, StateReady, New(&stubClassifier{}, &stubGenerator{}).State())
	assert.Equal(t, StateUnavailable, New(nil, &stubGenerator{}).State())
	assert.Equal(t, StateUnavailable, New(&stubClassifier{}, nil).State())
	assert.Equal(t, "unavailable", New(nil, nil).State().String())
}

func TestColorizeUnavailable(t *testing.T) {
	gen := &stubGenerator{}
	p := New(nil, gen)

	for _, img := range []image.Image{nil, zeroImage(t, 8), zeroImage(t, 256)} {
		out, status := p.Colorize(img)
		assert.Nil(t, out)
		assert.Contains(t, status, "Models not loaded")
	}
	assert.Zero(t, gen.calls)

	_, err := p.Run(zeroImage(t, 8))
	assert.ErrorIs(t, err, ErrModelUnavailable)
}

func TestColorizeDecodeError(t *testing.T) {
	cls := &stubClassifier{scores: []float32{1, 0, 0, 0}}
	p := New(cls, &stubGenerator{})

	out, status := p.Colorize(nil)
	assert.Nil(t, out)
	assert.True(t, strings.HasPrefix(status, "❌ Error:"), status)
	assert.Zero(t, cls.calls)

	_, err := p.Run(image.NewGray(image.Rect(0, 0, 0, 0)))
	assert.ErrorIs(t, err, ErrInputDecode)
	assert.True(t, p.Ready(), "per-request errors do not change state")
}

func TestColorizeSuccess(t *testing.T) {
	cls := &stubClassifier{scores: []float32{0.1, 0.3, 2.5, -1}}
	gen := &stubGenerator{}
	p := New(cls, gen)

	out, status := p.Colorize(zeroImage(t, 256))
	require.NotNil(t, out)
	assert.Equal(t, image.Rect(0, 0, 256, 256), out.Bounds())
	assert.Contains(t, status, "AGRI")
	assert.Contains(t, status, "Successfully colorized")

	// classifier and generator see the same preprocessed tensor
	assert.Same(t, cls.seen, gen.seen)
	assert.Equal(t, tensor.Shape{1, 3, 256, 256}, cls.seen.Shape())
	assert.Equal(t, []float32{0, 0, 1, 0}, gen.onehot)

	// zero generator output is mid-gray
	assert.Equal(t, color.RGBA{R: 127, G: 127, B: 127, A: 255}, out.At(10, 10))
}

func TestRunTieBreaksToFirstCategory(t *testing.T) {
	cls := &stubClassifier{scores: []float32{0, 4, 4, 1}}
	gen := &stubGenerator{}

	res, err := New(cls, gen).Run(zeroImage(t, 32))
	require.NoError(t, err)
	assert.Equal(t, terrain.Grassland, res.Terrain)
	assert.Equal(t, []float32{0, 1, 0, 0}, gen.onehot)
}

func TestRunResizesSmallInput(t *testing.T) {
	pix := make([]uint8, 64*64)
	for i := range pix {
		pix[i] = uint8(i % 251)
	}
	gray, err := imageproc.FromHWC(pix, 64, 64, 1)
	require.NoError(t, err)
	rgb, err := imageproc.FromHWC(repeat3(pix), 64, 64, 3)
	require.NoError(t, err)

	for _, img := range []image.Image{gray, rgb} {
		cls := &stubClassifier{scores: []float32{1, 0, 0, 0}}
		gen := &stubGenerator{}
		res, err := New(cls, gen).Run(img)
		require.NoError(t, err)
		assert.Equal(t, tensor.Shape{1, 3, 256, 256}, cls.seen.Shape())
		assert.Equal(t, 256, res.Image.Bounds().Dx())
		assert.Equal(t, 256, res.Image.Bounds().Dy())
	}
}

func repeat3(gray []uint8) []uint8 {
	out := make([]uint8, 0, len(gray)*3)
	for _, v := range gray {
		out = append(out, v, v, v)
	}
	return out
}

func TestRunClassifierError(t *testing.T) {
	cls := &stubClassifier{err: assert.AnError}
	gen := &stubGenerator{}

	out, status := New(cls, gen).Colorize(zeroImage(t, 16))
	assert.Nil(t, out)
	assert.Contains(t, status, assert.AnError.Error())
	assert.Zero(t, gen.calls)
}

func TestRunWrongScoreCount(t *testing.T) {
	cls := &stubClassifier{scores: []float32{1, 2}}
	_, err := New(cls, &stubGenerator{}).Run(zeroImage(t, 16))
	assert.ErrorIs(t, err, ErrInference)
}

func TestRunNaNScores(t *testing.T) {
	nan := float32(math.NaN())
	cls := &stubClassifier{scores: []float32{nan, 1, 0, 0}}
	gen := &stubGenerator{}

	_, err := New(cls, gen).Run(zeroImage(t, 16))
	assert.ErrorIs(t, err, ErrInference)
	assert.Zero(t, gen.calls)
}

func TestRunAsSkipsClassifier(t *testing.T) {
	cls := &stubClassifier{scores: []float32{9, 0, 0, 0}}
	gen := &stubGenerator{}

	res, err := New(cls, gen).RunAs(zeroImage(t, 16), terrain.Barrenland)
	require.NoError(t, err)
	assert.Zero(t, cls.calls)
	assert.Equal(t, terrain.Barrenland, res.Terrain)
	assert.Nil(t, res.Scores)
	assert.Equal(t, []float32{0, 0, 0, 1}, gen.onehot)

	_, err = New(nil, gen).RunAs(zeroImage(t, 16), terrain.Urban)
	assert.ErrorIs(t, err, ErrModelUnavailable)
}

func TestRunGeneratorShapeMismatch(t *testing.T) {
	cls := &stubClassifier{scores: []float32{1, 0, 0, 0}}
	gen := &stubGenerator{fn: func(*tensor.Dense, []float32) (*tensor.Dense, error) {
		return nn.Zeros(1, 3, 128, 128), nil
	}}

	_, err := New(cls, gen).Run(zeroImage(t, 16))
	assert.ErrorIs(t, err, ErrInference)
}

func TestRunRecoversPanics(t *testing.T) {
	cls := &stubClassifier{scores: []float32{1, 0, 0, 0}}
	gen := &stubGenerator{fn: func(*tensor.Dense, []float32) (*tensor.Dense, error) {
		var nilTensor *tensor.Dense
		return nilTensor.Clone().(*tensor.Dense), nil
	}}
	p := New(cls, gen)

	var (
		out    image.Image
		status string
	)
	require.NotPanics(t, func() { out, status = p.Colorize(zeroImage(t, 16)) })
	assert.Nil(t, out)
	assert.Contains(t, status, "❌ Error:")

	_, err := p.Run(zeroImage(t, 16))
	assert.ErrorIs(t, err, ErrInference)
}

func TestStatus(t *testing.T) {
	assert.Equal(t, "🎯 **Predicted Terrain:** BARRENLAND\n\n✨ Successfully colorized SAR image!",
		Status(&Result{Terrain: terrain.Barrenland}, nil))
	assert.Equal(t, "❌ Models not loaded. Please check model files.", Status(nil, ErrModelUnavailable))
	assert.Equal(t, "❌ Error: boom", Status(nil, plainError("boom")))
}

type plainError string

func (e plainError) Error() string { return string(e) }

func TestConfidences(t *testing.T) {
	p := New(&stubClassifier{}, &stubGenerator{})
	got := p.Confidences(&Result{Scores: []float32{0.1, 0.2, 0.3, 0.4}})
	assert.Equal(t, map[string]float32{"urban": 0.1, "grassland": 0.2, "agri": 0.3, "barrenland": 0.4}, got)
}

func TestConcurrentRuns(t *testing.T) {
	p := New(scoreByMean{}, readOnlyGenerator{})

	var wg sync.WaitGroup
	results := make([]terrain.Category, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := p.Run(zeroImage(t, 32))
			if assert.NoError(t, err) {
				results[i] = res.Terrain
			}
		}(i)
	}
	wg.Wait()
	for _, c := range results {
		assert.Equal(t, results[0], c)
	}
}

// scoreByMean is stateless so it is safe to share across goroutines.
type scoreByMean struct{}

func (scoreByMean) Classify(x *tensor.Dense) ([]float32, error) {
	var sum float32
	for _, v := range x.Float32s() {
		sum += v
	}
	return []float32{sum, 0, 0, 0}, nil
}

type readOnlyGenerator struct{}

func (readOnlyGenerator) Generate(x *tensor.Dense, _ []float32) (*tensor.Dense, error) {
	return x.Clone().(*tensor.Dense), nil
}
