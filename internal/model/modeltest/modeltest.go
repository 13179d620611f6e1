// Package modeltest builds small networks with seeded random weights for
// tests that need real forward passes.
package modeltest

import (
	"math"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"testing"

	"gorgonia.org/tensor"

	"github.com/Brownie44l1/sar-colorize/internal/model"
	"github.com/Brownie44l1/sar-colorize/internal/nn"
	"github.com/Brownie44l1/sar-colorize/internal/terrain"
	"github.com/Brownie44l1/sar-colorize/internal/weights"
)

// TinyClassifierConfig keeps the ResNet topology with narrow stages.
func TinyClassifierConfig() model.ClassifierConfig {
	return model.ClassifierConfig{
		StemWidth: 4,
		Widths:    [4]int{4, 8, 8, 8},
		Blocks:    [4]int{1, 1, 1, 1},
		DropoutP:  0.4,
	}
}

// TinyGeneratorConfig keeps the U-Net topology with narrow stages.
func TinyGeneratorConfig() model.GeneratorConfig {
	return model.GeneratorConfig{
		Encoder:         [5]int{terrain.ImageChannels, 4, 8, 8, 16},
		ConditionHidden: 8,
		ConditionWidth:  16,
	}
}

// RandomWeights fills every spec with values scaled by fan-in. Batch-norm
// statistics get identity values so activations stay bounded.
func RandomWeights(specs []weights.Spec, seed uint64) map[string]*tensor.Dense {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	out := make(map[string]*tensor.Dense, len(specs))
	for _, s := range specs {
		t := nn.Zeros(s.Shape...)
		data := t.Float32s()
		switch {
		case strings.HasSuffix(s.Name, "running_var"):
			fill(data, 1)
		case strings.HasSuffix(s.Name, "running_mean"):
		case len(s.Shape) == 1 && strings.HasSuffix(s.Name, ".weight"):
			fill(data, 1)
		default:
			fanIn := 1
			for _, d := range s.Shape[1:] {
				fanIn *= d
			}
			bound := float32(1 / math.Sqrt(float64(max(fanIn, 1))))
			for i := range data {
				data[i] = (rng.Float32()*2 - 1) * bound
			}
		}
		out[s.Name] = t
	}
	return out
}

func fill(data []float32, v float32) {
	for i := range data {
		data[i] = v
	}
}

// WriteClassifier saves random classifier weights for cfg and returns the
// file path.
func WriteClassifier(tb testing.TB, cfg model.ClassifierConfig, seed uint64) string {
	tb.Helper()
	c, err := model.NewClassifier(cfg, terrain.Default())
	if err != nil {
		tb.Fatalf("classifier config: %v", err)
	}
	return write(tb, "classifier.safetensors", c.Params(), seed)
}

// WriteGenerator saves random generator weights for cfg and returns the
// file path.
func WriteGenerator(tb testing.TB, cfg model.GeneratorConfig, seed uint64) string {
	tb.Helper()
	g, err := model.NewGenerator(cfg, terrain.Default())
	if err != nil {
		tb.Fatalf("generator config: %v", err)
	}
	return write(tb, "generator.safetensors", g.Params(), seed)
}

func write(tb testing.TB, name string, specs []weights.Spec, seed uint64) string {
	tb.Helper()
	path := filepath.Join(tb.TempDir(), name)
	if err := weights.Save(path, RandomWeights(specs, seed), map[string]string{"format": "pt"}); err != nil {
		tb.Fatalf("write %s: %v", name, err)
	}
	return path
}

// Image returns a [1,3,size,size] tensor with a deterministic gradient in
// [-1,1].
func Image(size int) *tensor.Dense {
	t := nn.Zeros(1, terrain.ImageChannels, size, size)
	data := t.Float32s()
	plane := size * size
	for c := 0; c < terrain.ImageChannels; c++ {
		for i := 0; i < plane; i++ {
			data[c*plane+i] = float32((i+c*17)%255)/127.5 - 1
		}
	}
	return t
}
