package model

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/Brownie44l1/sar-colorize/internal/terrain"
)

// Device selects where inference runs. It is decided once at startup.
type Device string

const (
	DeviceAuto Device = "auto"
	DeviceCPU  Device = "cpu"
	DeviceCUDA Device = "cuda"
)

func ParseDevice(s string) (Device, error) {
	switch d := Device(strings.ToLower(strings.TrimSpace(s))); d {
	case "":
		return DeviceAuto, nil
	case DeviceAuto, DeviceCPU, DeviceCUDA:
		return d, nil
	default:
		return "", fmt.Errorf("unknown device %q (want auto, cpu or cuda)", s)
	}
}

// TensorInfo names one graph input or output.
type TensorInfo struct {
	Name  string  `json:"name"`
	Shape []int64 `json:"shape"`
}

// Metadata sits next to an exported .onnx graph and describes its I/O.
type Metadata struct {
	Inputs    []TensorInfo `json:"inputs"`
	Outputs   []TensorInfo `json:"outputs"`
	Classes   []string     `json:"classes,omitempty"`
	ImageSize int          `json:"image_size"`
}

func ReadMetadata(path string) (*Metadata, error) {
	metaFile, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}

	var metadata Metadata
	if err := json.Unmarshal(metaFile, &metadata); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}
	return &metadata, nil
}

func (m *Metadata) expect(inputs, outputs int) error {
	if len(m.Inputs) != inputs || len(m.Outputs) != outputs {
		return fmt.Errorf("%w: graph declares %d inputs and %d outputs, expected %d and %d",
			ErrArchitectureMismatch, len(m.Inputs), len(m.Outputs), inputs, outputs)
	}
	// zero means the exporter did not record it
	if m.ImageSize != 0 && m.ImageSize != terrain.ImageSize {
		return fmt.Errorf("%w: graph was exported for %dx%d images, pipeline uses %dx%d",
			ErrArchitectureMismatch, m.ImageSize, m.ImageSize, terrain.ImageSize, terrain.ImageSize)
	}
	return nil
}

func checkShape(info TensorInfo, want ...int64) error {
	if len(info.Shape) != len(want) {
		return fmt.Errorf("%w: %s has shape %v, expected %v", ErrArchitectureMismatch, info.Name, info.Shape, want)
	}
	for i := range want {
		if info.Shape[i] != want[i] {
			return fmt.Errorf("%w: %s has shape %v, expected %v", ErrArchitectureMismatch, info.Name, info.Shape, want)
		}
	}
	return nil
}

func volume(shape []int64) int {
	n := 1
	for _, d := range shape {
		n *= int(d)
	}
	return n
}
