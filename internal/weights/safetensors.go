// Package weights reads and writes parameter files in the safetensors
// layout: an 8-byte little-endian header length, a JSON header naming every
// tensor's dtype, shape and byte range, then the raw tensor bytes.
package weights

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	"github.com/x448/float16"
	"gorgonia.org/tensor"
)

var (
	// ErrCorrupt marks files that cannot be parsed as a parameter file.
	ErrCorrupt = errors.New("corrupt weights file")

	// ErrMismatch marks well-formed files whose tensors do not fit the
	// architecture they are loaded into.
	ErrMismatch = errors.New("weights do not match architecture")
)

const maxHeaderSize = 100 << 20

type headerEntry struct {
	DType       string   `json:"dtype"`
	Shape       []int    `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

// Spec names one parameter and the shape the architecture expects for it.
type Spec struct {
	Name  string
	Shape []int
}

// StateDict is a set of named float tensors read from a file. F16, BF16
// and F64 entries are widened or narrowed to float32. Integer entries (such
// as batch-norm step counters) are kept by name only.
type StateDict struct {
	Tensors  map[string]*tensor.Dense
	Ignored  map[string]string
	Metadata map[string]string

	used map[string]bool
}

func NewStateDict() *StateDict {
	return &StateDict{
		Tensors:  make(map[string]*tensor.Dense),
		Ignored:  make(map[string]string),
		Metadata: make(map[string]string),
		used:     make(map[string]bool),
	}
}

// Open reads a safetensors file from disk.
func Open(path string) (*StateDict, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sd, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sd, nil
}

// Decode parses a safetensors stream.
func Decode(r io.Reader) (*StateDict, error) {
	var size uint64
	if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
		return nil, fmt.Errorf("%w: reading header length: %v", ErrCorrupt, err)
	}
	if size == 0 || size > maxHeaderSize {
		return nil, fmt.Errorf("%w: header length %d out of range", ErrCorrupt, size)
	}

	header := make([]byte, size)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("%w: reading header: %v", ErrCorrupt, err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(header, &raw); err != nil {
		return nil, fmt.Errorf("%w: parsing header: %v", ErrCorrupt, err)
	}

	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrCorrupt, err)
	}

	sd := NewStateDict()
	for name, msg := range raw {
		if name == "__metadata__" {
			if err := json.Unmarshal(msg, &sd.Metadata); err != nil {
				return nil, fmt.Errorf("%w: parsing metadata: %v", ErrCorrupt, err)
			}
			continue
		}

		var e headerEntry
		if err := json.Unmarshal(msg, &e); err != nil {
			return nil, fmt.Errorf("%w: entry %s: %v", ErrCorrupt, name, err)
		}
		begin, end := e.DataOffsets[0], e.DataOffsets[1]
		if begin < 0 || end < begin || end > int64(len(body)) {
			return nil, fmt.Errorf("%w: entry %s has offsets [%d,%d) beyond %d bytes",
				ErrCorrupt, name, begin, end, len(body))
		}

		t, err := decodeTensor(e, body[begin:end])
		if err != nil {
			return nil, fmt.Errorf("%w: entry %s: %v", ErrCorrupt, name, err)
		}
		if t == nil {
			sd.Ignored[name] = e.DType
			continue
		}
		sd.Tensors[name] = t
	}
	return sd, nil
}

func decodeTensor(e headerEntry, buf []byte) (*tensor.Dense, error) {
	n := 1
	for _, d := range e.Shape {
		if d < 0 {
			return nil, fmt.Errorf("negative dimension in %v", e.Shape)
		}
		n *= d
	}
	if n == 0 {
		return nil, fmt.Errorf("empty shape %v", e.Shape)
	}

	var width int
	switch e.DType {
	case "F32":
		width = 4
	case "F64":
		width = 8
	case "F16", "BF16":
		width = 2
	case "I64", "I32", "I16", "I8", "U8", "BOOL":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported dtype %s", e.DType)
	}
	if len(buf) != n*width {
		return nil, fmt.Errorf("shape %v %s needs %d bytes, got %d", e.Shape, e.DType, n*width, len(buf))
	}

	data := make([]float32, n)
	for i := range data {
		switch e.DType {
		case "F32":
			data[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
		case "F64":
			data[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:])))
		case "F16":
			data[i] = float16.Frombits(binary.LittleEndian.Uint16(buf[i*2:])).Float32()
		case "BF16":
			data[i] = math.Float32frombits(uint32(binary.LittleEndian.Uint16(buf[i*2:])) << 16)
		}
	}
	shape := e.Shape
	if len(shape) == 0 {
		shape = []int{1}
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data)), nil
}

// Encode writes tensors as an F32 safetensors stream with names sorted.
func Encode(w io.Writer, tensors map[string]*tensor.Dense, metadata map[string]string) error {
	names := make([]string, 0, len(tensors))
	for name := range tensors {
		names = append(names, name)
	}
	sort.Strings(names)

	header := make(map[string]any, len(names)+1)
	if len(metadata) > 0 {
		header["__metadata__"] = metadata
	}
	var offset int64
	for _, name := range names {
		t := tensors[name]
		size := int64(t.Shape().TotalSize()) * 4
		header[name] = headerEntry{DType: "F32", Shape: []int(t.Shape()), DataOffsets: [2]int64{offset, offset + size}}
		offset += size
	}

	hdr, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to encode header: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(len(hdr))); err != nil {
		return err
	}
	if _, err := w.Write(hdr); err != nil {
		return err
	}

	buf := make([]byte, 4)
	for _, name := range names {
		for _, v := range tensors[name].Float32s() {
			binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
			if _, err := w.Write(buf); err != nil {
				return err
			}
		}
	}
	return nil
}

// Save writes tensors to path.
func Save(path string, tensors map[string]*tensor.Dense, metadata map[string]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Encode(f, tensors, metadata); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
