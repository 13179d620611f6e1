package weights

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"gorgonia.org/tensor"
)

// Take returns the tensor stored under name after checking it has the
// expected shape, and marks it consumed.
func (sd *StateDict) Take(name string, shape ...int) (*tensor.Dense, error) {
	t, ok := sd.Tensors[name]
	if !ok {
		return nil, fmt.Errorf("%w: missing tensor %s", ErrMismatch, name)
	}
	if !slices.Equal(t.Shape(), shape) {
		return nil, fmt.Errorf("%w: tensor %s has shape %v, architecture expects %v",
			ErrMismatch, name, []int(t.Shape()), shape)
	}
	sd.used[name] = true
	return t, nil
}

// Unused lists float tensors never taken, in name order. Batch-norm step
// counters are stored as integers and never appear here.
func (sd *StateDict) Unused() []string {
	var out []string
	for name := range sd.Tensors {
		if !sd.used[name] {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Strict fails if any float tensor was left unconsumed.
func (sd *StateDict) Strict() error {
	unused := sd.Unused()
	if len(unused) == 0 {
		return nil
	}
	if len(unused) > 5 {
		unused = append(unused[:5], fmt.Sprintf("... (%d more)", len(unused)-5))
	}
	return fmt.Errorf("%w: unexpected tensors %s", ErrMismatch, strings.Join(unused, ", "))
}

// WithPrefix returns a view that prepends prefix to every name it is
// asked for.
func (sd *StateDict) WithPrefix(prefix string) Source {
	return prefixed{sd: sd, prefix: prefix}
}

// Source is what layers load from.
type Source interface {
	Take(name string, shape ...int) (*tensor.Dense, error)
	WithPrefix(prefix string) Source
}

type prefixed struct {
	sd     *StateDict
	prefix string
}

func (p prefixed) Take(name string, shape ...int) (*tensor.Dense, error) {
	return p.sd.Take(p.prefix+name, shape...)
}

func (p prefixed) WithPrefix(prefix string) Source {
	return prefixed{sd: p.sd, prefix: p.prefix + prefix}
}
