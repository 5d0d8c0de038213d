package morph

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// MinMaxMorph is a slider backed by a negative and a positive morph.
//
// Morphs[0] is applied with scale -v for v < 0, Morphs[1] with scale v for
// v >= 0. A unidirectional control leaves Morphs[0] empty.
type MinMaxMorph struct {
	Name     string
	Min, Max float64
	Morphs   [2]Morph
}

// NewSlider creates a bidirectional control with soft bounds [-1, 1].
func NewSlider(name string, neg, pos Morph) *MinMaxMorph {
	return &MinMaxMorph{Name: name, Min: -1, Max: 1, Morphs: [2]Morph{neg, pos}}
}

// NewUnidirectional creates a single-morph control with soft bounds [0, 1].
func NewUnidirectional(name string, m Morph) *MinMaxMorph {
	return &MinMaxMorph{Name: name, Min: 0, Max: 1, Morphs: [2]Morph{{}, m}}
}

// Resolve returns the morph and scale the control value v selects.
func (c *MinMaxMorph) Resolve(v float64) (Morph, float64) {
	if v < 0 {
		return c.Morphs[0], -v
	}
	return c.Morphs[1], v
}

// Apply applies the control at value v to verts.
func (c *MinMaxMorph) Apply(verts []r3.Vec, v float64) {
	m, s := c.Resolve(v)
	m.Apply(verts, s)
}

// Clamp limits v to the control's soft bounds.
func (c *MinMaxMorph) Clamp(v float64) float64 {
	return math.Min(math.Max(v, c.Min), c.Max)
}

// IsBidirectional reports whether the control has a negative morph.
func (c *MinMaxMorph) IsBidirectional() bool {
	return !c.Morphs[0].IsEmpty()
}

// ComboMorph is an N-dimensional control whose 2^N extreme poses are blended
// from N signed component values.
type ComboMorph struct {
	Name  string
	Parts []string // Component control names, len N
	Data  []Morph  // Variants indexed by sign bitmask, len 2^N
}

// Dims returns the number of components.
func (c *ComboMorph) Dims() int { return len(c.Parts) }

// Weights returns the weight of each variant for the given component values.
//
// Variant i has weight max(sum_j vals[j]*sign_j(i), 0) * 2/len(Data), where
// sign_j(i) is +1 when bit j of i is set and -1 otherwise.
func (c *ComboMorph) Weights(vals []float64) []float64 {
	n := len(c.Data)
	if n == 0 {
		return nil
	}
	coeff := 2 / float64(n)
	weights := make([]float64, n)
	for i := range weights {
		sum := 0.0
		for j, v := range vals {
			if i&(1<<j) != 0 {
				sum += v
			} else {
				sum -= v
			}
		}
		weights[i] = math.Max(sum, 0) * coeff
	}
	return weights
}

// Apply applies every variant with its weight for the component values.
func (c *ComboMorph) Apply(verts []r3.Vec, vals []float64) {
	for i, w := range c.Weights(vals) {
		c.Data[i].Apply(verts, w)
	}
}
