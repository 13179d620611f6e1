package terrain

import (
	"fmt"
	"math"
	"strings"
)

// Shape constants shared by the classifier and the generator. Changing any
// of these requires retrained weights.
const (
	ImageSize          = 256
	ImageChannels      = 3
	BottleneckChannels = 512
	ConditionHidden    = 64
)

// Category is an index into the fixed vocabulary order.
type Category int

const (
	Urban Category = iota
	Grassland
	Agri
	Barrenland
)

var names = [...]string{"urban", "grassland", "agri", "barrenland"}

func (c Category) String() string {
	if c < 0 || int(c) >= len(names) {
		return fmt.Sprintf("category(%d)", int(c))
	}
	return names[c]
}

// Label is the uppercased display name used in status text.
func (c Category) Label() string {
	return strings.ToUpper(c.String())
}

// Vocabulary is the ordered terrain category set. The order is a contract
// between the classifier's output layer and the generator's conditioning
// input.
type Vocabulary struct {
	categories []Category
}

// Default returns the vocabulary the published weights were trained with.
func Default() Vocabulary {
	return Vocabulary{categories: []Category{Urban, Grassland, Agri, Barrenland}}
}

func (v Vocabulary) Size() int {
	return len(v.categories)
}

func (v Vocabulary) Names() []string {
	out := make([]string, len(v.categories))
	for i, c := range v.categories {
		out[i] = c.String()
	}
	return out
}

// Parse looks a category up by name, case-insensitively.
func (v Vocabulary) Parse(name string) (Category, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, c := range v.categories {
		if c.String() == name {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown terrain category %q", name)
}

// ArgMax returns the category with the highest score. Ties resolve to the
// earliest category in vocabulary order. A NaN score is an error since no
// ordering over it is meaningful.
func (v Vocabulary) ArgMax(scores []float32) (Category, error) {
	if len(scores) != len(v.categories) {
		return 0, fmt.Errorf("expected %d scores, got %d", len(v.categories), len(scores))
	}
	for i, val := range scores {
		if math.IsNaN(float64(val)) {
			return 0, fmt.Errorf("score for %v is NaN", v.categories[i])
		}
	}
	maxIdx := 0
	maxVal := scores[0]
	for i, val := range scores {
		if val > maxVal {
			maxVal = val
			maxIdx = i
		}
	}
	return v.categories[maxIdx], nil
}

// OneHot encodes c as a vector of vocabulary width with a single 1.0.
func (v Vocabulary) OneHot(c Category) ([]float32, error) {
	idx := v.index(c)
	if idx < 0 {
		return nil, fmt.Errorf("category %v not in vocabulary", c)
	}
	out := make([]float32, len(v.categories))
	out[idx] = 1
	return out, nil
}

// Scores pairs each category name with its score.
func (v Vocabulary) Scores(scores []float32) map[string]float32 {
	out := make(map[string]float32, len(v.categories))
	for i, c := range v.categories {
		if i < len(scores) {
			out[c.String()] = scores[i]
		}
	}
	return out
}

func (v Vocabulary) index(c Category) int {
	for i, cc := range v.categories {
		if cc == c {
			return i
		}
	}
	return -1
}
