package model

import (
	"fmt"
	"os"
	"slices"
	"sync"

	"github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"
	"gorgonia.org/tensor"

	"github.com/Brownie44l1/sar-colorize/internal/nn"
	"github.com/Brownie44l1/sar-colorize/internal/terrain"
)

// Runtime owns the onnxruntime environment shared by every ONNX session in
// the process.
type Runtime struct {
	device Device
	log    *logrus.Entry
}

// NewRuntime loads the onnxruntime shared library. libraryPath may be empty
// to use the platform default.
func NewRuntime(libraryPath string, device Device, log *logrus.Entry) (*Runtime, error) {
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}
	return &Runtime{device: device, log: log}, nil
}

func (r *Runtime) Close() {
	if err := ort.DestroyEnvironment(); err != nil {
		r.log.WithError(err).Warn("Failed to destroy ONNX environment")
	}
}

// sessionOptions requests the CUDA provider for cuda and auto. Under auto a
// missing provider falls back to CPU.
func (r *Runtime) sessionOptions() (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	if r.device == DeviceCPU {
		return options, nil
	}

	cudaOptions, err := ort.NewCUDAProviderOptions()
	if err == nil {
		defer cudaOptions.Destroy()
		err = options.AppendExecutionProviderCUDA(cudaOptions)
	}
	if err != nil {
		if r.device == DeviceCUDA {
			options.Destroy()
			return nil, fmt.Errorf("CUDA execution provider unavailable: %w", err)
		}
		r.log.WithError(err).Warn("CUDA execution provider unavailable, running ONNX models on CPU")
		return options, nil
	}
	r.log.Info("ONNX models will run on CUDA")
	return options, nil
}

// session is a graph bound to fixed input and output buffers. Run writes
// into those buffers, so calls are serialized.
type session struct {
	mu      sync.Mutex
	session *ort.AdvancedSession
	inputs  []*ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

func (r *Runtime) newSession(modelPath string, inputs []TensorInfo, output TensorInfo) (*session, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	s := &session{}
	inputNames := make([]string, 0, len(inputs))
	inputTensors := make([]ort.ArbitraryTensor, 0, len(inputs))
	for _, in := range inputs {
		t, err := ort.NewEmptyTensor[float32](ort.NewShape(in.Shape...))
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to create input tensor %s: %w", in.Name, err)
		}
		s.inputs = append(s.inputs, t)
		inputNames = append(inputNames, in.Name)
		inputTensors = append(inputTensors, t)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(output.Shape...))
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	s.output = outputTensor

	options, err := r.sessionOptions()
	if err != nil {
		s.Close()
		return nil, err
	}
	defer options.Destroy()

	s.session, err = ort.NewAdvancedSession(modelPath,
		inputNames, []string{output.Name},
		inputTensors, []ort.ArbitraryTensor{outputTensor},
		options)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: failed to create ONNX session: %v", ErrUnavailable, err)
	}
	return s, nil
}

func (s *session) run(inputs ...[]float32) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, data := range inputs {
		dst := s.inputs[i].GetData()
		if len(data) != len(dst) {
			return nil, fmt.Errorf("input %d has %d values, graph expects %d", i, len(data), len(dst))
		}
		copy(dst, data)
	}
	if err := s.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	return slices.Clone(s.output.GetData()), nil
}

func (s *session) Close() {
	for _, t := range s.inputs {
		t.Destroy()
	}
	if s.output != nil {
		s.output.Destroy()
	}
	if s.session != nil {
		s.session.Destroy()
	}
}

// ONNXClassifier serves terrain scores from an exported classifier graph.
type ONNXClassifier struct {
	*session
	Metadata Metadata
	imageLen int
}

// NewONNXClassifier validates the graph metadata against the vocabulary
// before opening a session. The class list must match the vocabulary order
// exactly.
func NewONNXClassifier(r *Runtime, modelPath, metadataPath string, vocab terrain.Vocabulary) (*ONNXClassifier, error) {
	metadata, err := ReadMetadata(metadataPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := metadata.expect(1, 1); err != nil {
		return nil, err
	}
	size := int64(terrain.ImageSize)
	if err := checkShape(metadata.Inputs[0], 1, terrain.ImageChannels, size, size); err != nil {
		return nil, err
	}
	if err := checkShape(metadata.Outputs[0], 1, int64(vocab.Size())); err != nil {
		return nil, err
	}
	if len(metadata.Classes) > 0 && !slices.Equal(metadata.Classes, vocab.Names()) {
		return nil, fmt.Errorf("%w: graph classes %v do not match vocabulary %v",
			ErrArchitectureMismatch, metadata.Classes, vocab.Names())
	}

	s, err := r.newSession(modelPath, metadata.Inputs, metadata.Outputs[0])
	if err != nil {
		return nil, err
	}
	return &ONNXClassifier{session: s, Metadata: *metadata, imageLen: volume(metadata.Inputs[0].Shape)}, nil
}

func (c *ONNXClassifier) Classify(x *tensor.Dense) ([]float32, error) {
	data := x.Float32s()
	if len(data) != c.imageLen {
		return nil, fmt.Errorf("classifier expects %d values, got %d", c.imageLen, len(data))
	}
	return c.run(data)
}

// ONNXGenerator renders images from an exported generator graph taking the
// image and the one-hot terrain vector as two inputs.
type ONNXGenerator struct {
	*session
	Metadata Metadata
	shape    []int
}

func NewONNXGenerator(r *Runtime, modelPath, metadataPath string, vocab terrain.Vocabulary) (*ONNXGenerator, error) {
	metadata, err := ReadMetadata(metadataPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := metadata.expect(2, 1); err != nil {
		return nil, err
	}
	size := int64(terrain.ImageSize)
	imageShape := []int64{1, terrain.ImageChannels, size, size}
	if err := checkShape(metadata.Inputs[0], imageShape...); err != nil {
		return nil, err
	}
	if err := checkShape(metadata.Inputs[1], 1, int64(vocab.Size())); err != nil {
		return nil, err
	}
	if err := checkShape(metadata.Outputs[0], imageShape...); err != nil {
		return nil, err
	}

	s, err := r.newSession(modelPath, metadata.Inputs, metadata.Outputs[0])
	if err != nil {
		return nil, err
	}
	shape := make([]int, len(imageShape))
	for i, d := range imageShape {
		shape[i] = int(d)
	}
	return &ONNXGenerator{session: s, Metadata: *metadata, shape: shape}, nil
}

func (g *ONNXGenerator) Generate(x *tensor.Dense, onehot []float32) (*tensor.Dense, error) {
	data, err := g.run(x.Float32s(), onehot)
	if err != nil {
		return nil, err
	}
	return nn.FromData(data, g.shape...)
}
