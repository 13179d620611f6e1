package model_test

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/Brownie44l1/sar-colorize/internal/model"
	"github.com/Brownie44l1/sar-colorize/internal/model/modeltest"
	"github.com/Brownie44l1/sar-colorize/internal/nn"
	"github.com/Brownie44l1/sar-colorize/internal/terrain"
	"github.com/Brownie44l1/sar-colorize/internal/weights"
)

func specNames(specs []weights.Spec) map[string][]int {
	out := make(map[string][]int, len(specs))
	for _, s := range specs {
		out[s.Name] = s.Shape
	}
	return out
}

func TestResNet34Params(t *testing.T) {
	c, err := model.NewClassifier(model.DefaultClassifierConfig(), terrain.Default())
	require.NoError(t, err)

	params := specNames(c.Params())
	assert.Equal(t, []int{64, 3, 7, 7}, params["backbone.conv1.weight"])
	assert.Equal(t, []int{64}, params["backbone.bn1.running_var"])
	assert.Equal(t, []int{128, 64, 1, 1}, params["backbone.layer2.0.downsample.0.weight"])
	assert.Equal(t, []int{256}, params["backbone.layer3.5.bn2.bias"])
	assert.Equal(t, []int{512, 512, 3, 3}, params["backbone.layer4.2.conv2.weight"])
	assert.Equal(t, []int{4, 512}, params["backbone.fc.weight"])
	assert.NotContains(t, params, "backbone.layer1.0.downsample.0.weight")
	assert.NotContains(t, params, "backbone.layer3.6.conv1.weight")

	var total int
	for _, shape := range params {
		n := 1
		for _, d := range shape {
			n *= d
		}
		total += n
	}
	// ResNet-34 with a 4-way head, counting batch-norm buffers.
	assert.Equal(t, 21_303_748, total)
}

func TestGeneratorParams(t *testing.T) {
	g, err := model.NewGenerator(model.DefaultGeneratorConfig(), terrain.Default())
	require.NoError(t, err)

	params := specNames(g.Params())
	want := map[string][]int{
		"enc1.conv.weight":        {64, 3, 4, 4},
		"enc2.conv.weight":        {128, 64, 4, 4},
		"enc4.bn.running_mean":    {512},
		"terrain_enc.fc.0.weight": {64, 4},
		"terrain_enc.fc.2.weight": {512, 64},
		"terrain_enc.fc.2.bias":   {512},
		"bottleneck.0.weight":     {512, 512, 3, 3},
		"bottleneck.0.bias":       {512},
		"dec4.conv.weight":        {1024, 256, 4, 4},
		"dec3.conv.weight":        {512, 128, 4, 4},
		"dec2.conv.weight":        {256, 64, 4, 4},
		"dec2.bn.weight":          {64},
		"dec1.weight":             {128, 3, 4, 4},
		"dec1.bias":               {3},
	}
	for name, shape := range want {
		assert.Equal(t, shape, params[name], name)
	}
	assert.NotContains(t, params, "enc1.bn.weight")
	assert.NotContains(t, params, "enc1.conv.bias")
	assert.NotContains(t, params, "dec1.bn.weight")
}

func TestGeneratorConfigMismatch(t *testing.T) {
	cfg := model.DefaultGeneratorConfig()
	cfg.ConditionWidth = 256
	_, err := model.NewGenerator(cfg, terrain.Default())
	assert.ErrorIs(t, err, model.ErrArchitectureMismatch)

	cfg = model.DefaultGeneratorConfig()
	cfg.Encoder[0] = 1
	_, err = model.NewGenerator(cfg, terrain.Default())
	assert.ErrorIs(t, err, model.ErrArchitectureMismatch)
}

func TestLoadMissingFileIsUnavailable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.safetensors")

	_, err := model.LoadClassifier(path, modeltest.TinyClassifierConfig(), terrain.Default())
	assert.ErrorIs(t, err, model.ErrUnavailable)
	assert.True(t, model.IsUnavailable(err))

	_, err = model.LoadGenerator(path, modeltest.TinyGeneratorConfig(), terrain.Default())
	assert.True(t, model.IsUnavailable(err))
}

func TestLoadCorruptFileIsUnavailable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.safetensors")
	require.NoError(t, os.WriteFile(path, []byte("definitely not weights"), 0o644))

	_, err := model.LoadClassifier(path, modeltest.TinyClassifierConfig(), terrain.Default())
	assert.True(t, model.IsUnavailable(err))
}

func TestLoadWrongArchitecture(t *testing.T) {
	// tiny weights cannot load into ResNet-34
	path := modeltest.WriteClassifier(t, modeltest.TinyClassifierConfig(), 1)
	_, err := model.LoadClassifier(path, model.DefaultClassifierConfig(), terrain.Default())
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrArchitectureMismatch)
	assert.False(t, model.IsUnavailable(err))
}

func TestLoadRejectsUnexpectedTensors(t *testing.T) {
	cfg := modeltest.TinyGeneratorConfig()
	g, err := model.NewGenerator(cfg, terrain.Default())
	require.NoError(t, err)

	tensors := modeltest.RandomWeights(g.Params(), 3)
	tensors["dec1.bn.weight"] = nn.Zeros(3)
	path := filepath.Join(t.TempDir(), "extra.safetensors")
	require.NoError(t, weights.Save(path, tensors, nil))

	_, err = model.LoadGenerator(path, cfg, terrain.Default())
	require.ErrorIs(t, err, model.ErrArchitectureMismatch)
	assert.True(t, strings.Contains(err.Error(), "dec1.bn.weight"))
}

func TestClassifierForward(t *testing.T) {
	cfg := modeltest.TinyClassifierConfig()
	c, err := model.LoadClassifier(modeltest.WriteClassifier(t, cfg, 7), cfg, terrain.Default())
	require.NoError(t, err)
	assert.False(t, c.Dropout().Enabled)

	x := modeltest.Image(terrain.ImageSize)
	first, err := c.Classify(x)
	require.NoError(t, err)
	require.Len(t, first, 4)

	second, err := c.Classify(x)
	require.NoError(t, err)
	assert.Equal(t, first, second, "inference must be deterministic")

	_, err = c.Classify(nn.Zeros(2, 3, 32, 32))
	assert.Error(t, err)
}

func TestGeneratorForward(t *testing.T) {
	cfg := modeltest.TinyGeneratorConfig()
	g, err := model.LoadGenerator(modeltest.WriteGenerator(t, cfg, 11), cfg, terrain.Default())
	require.NoError(t, err)

	x := modeltest.Image(terrain.ImageSize)
	vocab := terrain.Default()

	urban, err := vocab.OneHot(terrain.Urban)
	require.NoError(t, err)
	out, err := g.Generate(x, urban)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 3, terrain.ImageSize, terrain.ImageSize}, out.Shape())
	for _, v := range out.Float32s() {
		require.False(t, math.IsNaN(float64(v)))
		require.GreaterOrEqual(t, v, float32(-1))
		require.LessOrEqual(t, v, float32(1))
	}

	again, err := g.Generate(x, urban)
	require.NoError(t, err)
	assert.Equal(t, out.Float32s(), again.Float32s())

	_, err = g.Generate(x, []float32{1, 0})
	assert.Error(t, err)
}

func TestGeneratorConditioningChangesOutput(t *testing.T) {
	cfg := modeltest.TinyGeneratorConfig()
	g, err := model.LoadGenerator(modeltest.WriteGenerator(t, cfg, 5), cfg, terrain.Default())
	require.NoError(t, err)

	x := modeltest.Image(64)
	vocab := terrain.Default()
	a, _ := vocab.OneHot(terrain.Urban)
	b, _ := vocab.OneHot(terrain.Barrenland)

	outA, err := g.Generate(x, a)
	require.NoError(t, err)
	outB, err := g.Generate(x, b)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 3, 64, 64}, outA.Shape())
	assert.NotEqual(t, outA.Float32s(), outB.Float32s())
}

func TestConditionerShape(t *testing.T) {
	c := model.NewConditioner(4, 8, 16)
	_, err := c.Forward(nn.Zeros(1, 4))
	assert.Error(t, err, "unloaded conditioner must refuse to run")
}

func TestFullSizeForward(t *testing.T) {
	if testing.Short() {
		t.Skip("full-size networks are slow")
	}
	vocab := terrain.Default()

	ccfg := model.DefaultClassifierConfig()
	c, err := model.LoadClassifier(modeltest.WriteClassifier(t, ccfg, 1), ccfg, vocab)
	require.NoError(t, err)
	gcfg := model.DefaultGeneratorConfig()
	g, err := model.LoadGenerator(modeltest.WriteGenerator(t, gcfg, 2), gcfg, vocab)
	require.NoError(t, err)

	x := modeltest.Image(terrain.ImageSize)
	scores, err := c.Classify(x)
	require.NoError(t, err)
	category, err := vocab.ArgMax(scores)
	require.NoError(t, err)
	onehot, err := vocab.OneHot(category)
	require.NoError(t, err)

	out, err := g.Generate(x, onehot)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 3, 256, 256}, out.Shape())
}
