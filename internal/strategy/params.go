package strategy

import (
	"errors"
	"fmt"
	"iter"
	"math"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ParamRange is an inclusive numeric range searched in fixed steps.
type ParamRange struct {
	Name string  `yaml:"name" json:"name" validate:"required"`
	Min  float64 `yaml:"min" json:"min"`
	Max  float64 `yaml:"max" json:"max" validate:"gtefield=Min"`
	Step float64 `yaml:"step" json:"step" validate:"gt=0"`
}

// Values expands r into its grid points.
func (r ParamRange) Values() []float64 {
	n := int(math.Floor((r.Max-r.Min)/r.Step+1e-9)) + 1
	out := make([]float64, n)
	for i := range out {
		// rounding keeps 0.1-style steps from drifting
		out[i] = math.Round((r.Min+float64(i)*r.Step)*1e9) / 1e9
	}
	return out
}

// SpaceFile is the YAML shape of a search-space override.
type SpaceFile struct {
	Strategy   string       `yaml:"strategy" validate:"required"`
	Parameters []ParamRange `yaml:"parameters" validate:"required,min=1,dive"`
}

var validate = validator.New()

// ValidateSpace checks every range in space.
func ValidateSpace(space []ParamRange) error {
	if len(space) == 0 {
		return errors.New("strategy: empty parameter space")
	}
	seen := make(map[string]bool, len(space))
	for _, r := range space {
		if err := validate.Struct(r); err != nil {
			return fmt.Errorf("strategy: parameter %q: %w", r.Name, err)
		}
		if seen[r.Name] {
			return fmt.Errorf("strategy: duplicate parameter %q", r.Name)
		}
		seen[r.Name] = true
	}
	return nil
}

// LoadSpace reads dir/<name>.yaml. It returns (nil, nil) when the file does
// not exist so callers fall back to the strategy's default space.
func LoadSpace(dir, name string) ([]ParamRange, error) {
	if dir == "" {
		return nil, nil
	}
	data, err := os.ReadFile(filepath.Join(dir, name+".yaml"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("strategy: read space %s: %w", name, err)
	}

	var f SpaceFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("strategy: parse space %s: %w", name, err)
	}
	if err := validate.Struct(f); err != nil {
		return nil, fmt.Errorf("strategy: space %s: %w", name, err)
	}
	if f.Strategy != name {
		return nil, fmt.Errorf("strategy: space file %s.yaml names strategy %q", name, f.Strategy)
	}
	if err := ValidateSpace(f.Parameters); err != nil {
		return nil, err
	}
	return f.Parameters, nil
}

// Grid is the Cartesian product of a parameter space. Points are decoded on
// demand so the product is never materialised.
type Grid struct {
	names []string
	axes  [][]float64
	size  int
}

// NewGrid builds the grid for space.
func NewGrid(space []ParamRange) (*Grid, error) {
	if err := ValidateSpace(space); err != nil {
		return nil, err
	}
	g := &Grid{size: 1}
	for _, r := range space {
		vals := r.Values()
		g.names = append(g.names, r.Name)
		g.axes = append(g.axes, vals)
		g.size *= len(vals)
	}
	return g, nil
}

// Len is the number of points in the grid.
func (g *Grid) Len() int { return g.size }

// At decodes point i. The first parameter varies slowest.
func (g *Grid) At(i int) Params {
	p := make(Params, len(g.names))
	for k := len(g.axes) - 1; k >= 0; k-- {
		n := len(g.axes[k])
		p[g.names[k]] = g.axes[k][i%n]
		i /= n
	}
	return p
}

// All yields every point with its index, in index order.
func (g *Grid) All() iter.Seq2[int, Params] {
	return func(yield func(int, Params) bool) {
		for i := 0; i < g.size; i++ {
			if !yield(i, g.At(i)) {
				return
			}
		}
	}
}
