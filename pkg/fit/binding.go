package fit

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Binding errors.
var (
	ErrEmptyRow      = errors.New("binding row has no usable candidates")
	ErrEmptySource   = errors.New("source geometry has no vertices")
	ErrFieldLength   = errors.New("displacement field length does not match binding source")
	ErrInvalidLayout = errors.New("invalid binding layout")
)

// RowError reports the target vertex whose row could not be built.
type RowError struct {
	Vertex int
}

func (e *RowError) Error() string {
	return fmt.Sprintf("%v: target vertex %d", ErrEmptyRow, e.Vertex)
}

// Unwrap returns ErrEmptyRow.
func (e *RowError) Unwrap() error { return ErrEmptyRow }

// Binding maps each target vertex to a convex combination of source vertices,
// stored in CSR layout: row t spans Index[Positions[t]:Positions[t+1]].
type Binding struct {
	SourceLen uint32
	Positions []uint32
	Index     []uint32
	Weight    []float32
}

// Len returns the number of target vertices.
func (b *Binding) Len() int {
	if len(b.Positions) == 0 {
		return 0
	}
	return len(b.Positions) - 1
}

// Entries returns the total number of (index, weight) pairs.
func (b *Binding) Entries() int { return len(b.Index) }

// Row returns the source indices and weights of target vertex t.
func (b *Binding) Row(t int) ([]uint32, []float32) {
	lo, hi := b.Positions[t], b.Positions[t+1]
	return b.Index[lo:hi], b.Weight[lo:hi]
}

// Validate checks the CSR layout, index range and row normalization.
func (b *Binding) Validate() error {
	if len(b.Positions) == 0 || b.Positions[0] != 0 {
		return fmt.Errorf("%w: positions must start at 0", ErrInvalidLayout)
	}
	if len(b.Index) != len(b.Weight) {
		return fmt.Errorf("%w: %d indices, %d weights", ErrInvalidLayout, len(b.Index), len(b.Weight))
	}
	if int(b.Positions[len(b.Positions)-1]) != len(b.Index) {
		return fmt.Errorf("%w: last position %d, %d entries", ErrInvalidLayout, b.Positions[len(b.Positions)-1], len(b.Index))
	}
	for t := 0; t < b.Len(); t++ {
		if b.Positions[t+1] <= b.Positions[t] {
			return &RowError{Vertex: t}
		}
		idx, w := b.Row(t)
		var sum float64
		for i := range idx {
			if idx[i] >= b.SourceLen {
				return fmt.Errorf("%w: row %d references source vertex %d (have %d)", ErrInvalidLayout, t, idx[i], b.SourceLen)
			}
			sum += float64(w[i])
		}
		if !(math.Abs(sum-1) <= 1e-6) {
			return fmt.Errorf("%w: row %d weights sum to %v", ErrInvalidLayout, t, sum)
		}
	}
	return nil
}

// Apply transfers a per-source-vertex field to the target:
// result[t] = sum over row t of weight*field[index].
func (b *Binding) Apply(field []r3.Vec) ([]r3.Vec, error) {
	out := make([]r3.Vec, b.Len())
	if err := b.ApplyTo(out, field); err != nil {
		return nil, err
	}
	return out, nil
}

// ApplyTo adds the transferred field to dst, which must have Len entries.
func (b *Binding) ApplyTo(dst, field []r3.Vec) error {
	if len(field) != int(b.SourceLen) {
		return fmt.Errorf("%w: got %d, want %d", ErrFieldLength, len(field), b.SourceLen)
	}
	if len(dst) != b.Len() {
		return fmt.Errorf("%w: destination has %d entries, binding has %d rows", ErrFieldLength, len(dst), b.Len())
	}
	for t := range dst {
		lo, hi := b.Positions[t], b.Positions[t+1]
		var acc r3.Vec
		for e := lo; e < hi; e++ {
			acc = r3.Add(acc, r3.Scale(float64(b.Weight[e]), field[b.Index[e]]))
		}
		dst[t] = r3.Add(dst[t], acc)
	}
	return nil
}

// MovePoints returns points displaced by the transferred field. It is used
// to carry joint positions or asset vertices along with a body edit.
func (b *Binding) MovePoints(points, field []r3.Vec) ([]r3.Vec, error) {
	out := append([]r3.Vec(nil), points...)
	if err := b.ApplyTo(out, field); err != nil {
		return nil, err
	}
	return out, nil
}

// Coverage returns the source vertices no row references.
func (b *Binding) Coverage() []int {
	seen := make([]bool, b.SourceLen)
	for _, i := range b.Index {
		seen[i] = true
	}
	var missing []int
	for i, ok := range seen {
		if !ok {
			missing = append(missing, i)
		}
	}
	return missing
}

// Stats summarizes row sizes.
type Stats struct {
	Rows, Entries    int
	MinRow, MaxRow   int
	AvgRow           float64
	ReferencedSource int
}

// Stats computes row size statistics.
func (b *Binding) Stats() Stats {
	s := Stats{Rows: b.Len(), Entries: b.Entries()}
	if s.Rows == 0 {
		return s
	}
	s.MinRow = math.MaxInt
	for t := 0; t < s.Rows; t++ {
		n := int(b.Positions[t+1] - b.Positions[t])
		s.MinRow = min(s.MinRow, n)
		s.MaxRow = max(s.MaxRow, n)
	}
	s.AvgRow = float64(s.Entries) / float64(s.Rows)
	s.ReferencedSource = int(b.SourceLen) - len(b.Coverage())
	return s
}
