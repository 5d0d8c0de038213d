// Package morph provides sparse and dense per-vertex displacement fields and
// the named controls that drive them.
package morph

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Epsilon is the scale below which applying a morph is skipped.
// Skipping is an approximation kept for speed.
const Epsilon = 1e-3

// Morph errors.
var (
	ErrLengthMismatch = errors.New("morph index and delta lengths differ")
	ErrIndexRange     = errors.New("morph index out of range")
)

// Kind identifies the storage of a Morph.
type Kind uint8

// Morph kinds.
const (
	KindNone    Kind = iota // Empty morph, applies nothing
	KindFull                // One delta per vertex
	KindPartial             // Deltas for a subset of vertices
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "None"
	case KindFull:
		return "Full"
	case KindPartial:
		return "Partial"
	default:
		return fmt.Sprintf("Unknown(%d)", k)
	}
}

// Morph is a displacement field over a mesh's vertices. The zero value is an
// empty morph.
type Morph struct {
	kind  Kind
	index []uint32
	delta []r3.Vec
}

// Full creates a dense morph holding one delta per vertex.
func Full(delta []r3.Vec) Morph {
	if len(delta) == 0 {
		return Morph{}
	}
	return Morph{kind: KindFull, delta: delta}
}

// Partial creates a sparse morph. Vertices outside index have a zero delta.
func Partial(index []uint32, delta []r3.Vec) (Morph, error) {
	if len(index) != len(delta) {
		return Morph{}, fmt.Errorf("%w: %d indices, %d deltas", ErrLengthMismatch, len(index), len(delta))
	}
	if len(index) == 0 {
		return Morph{}, nil
	}
	return Morph{kind: KindPartial, index: index, delta: delta}, nil
}

// Kind returns the storage kind.
func (m Morph) Kind() Kind { return m.kind }

// IsEmpty reports whether applying m is a no-op regardless of scale.
func (m Morph) IsEmpty() bool { return m.kind == KindNone || len(m.delta) == 0 }

// Len returns the number of stored deltas.
func (m Morph) Len() int { return len(m.delta) }

// Index returns the vertex indices of a partial morph, nil otherwise.
func (m Morph) Index() []uint32 { return m.index }

// Delta returns the stored deltas.
func (m Morph) Delta() []r3.Vec { return m.delta }

// Validate checks the morph can be applied to a mesh of n vertices.
func (m Morph) Validate(n int) error {
	switch m.kind {
	case KindFull:
		if len(m.delta) != n {
			return fmt.Errorf("%w: full morph has %d deltas for %d vertices", ErrIndexRange, len(m.delta), n)
		}
	case KindPartial:
		for i, vi := range m.index {
			if int(vi) >= n {
				return fmt.Errorf("%w: entry %d references vertex %d (have %d)", ErrIndexRange, i, vi, n)
			}
		}
	}
	return nil
}

// Apply adds delta*scale to verts. Empty morphs and scales with magnitude
// below Epsilon are skipped. Full morphs apply to min(len(verts), len(delta))
// vertices.
func (m Morph) Apply(verts []r3.Vec, scale float64) {
	if m.IsEmpty() || math.Abs(scale) < Epsilon {
		return
	}
	switch m.kind {
	case KindFull:
		n := min(len(verts), len(m.delta))
		for i := 0; i < n; i++ {
			verts[i] = r3.Add(verts[i], r3.Scale(scale, m.delta[i]))
		}
	case KindPartial:
		for i, vi := range m.index {
			verts[vi] = r3.Add(verts[vi], r3.Scale(scale, m.delta[i]))
		}
	}
}

// Dense expands the morph into a full per-vertex delta array of length n.
func (m Morph) Dense(n int) []r3.Vec {
	out := make([]r3.Vec, n)
	switch m.kind {
	case KindFull:
		copy(out, m.delta)
	case KindPartial:
		for i, vi := range m.index {
			if int(vi) < n {
				out[vi] = m.delta[i]
			}
		}
	}
	return out
}

// FromDiff builds a morph reproducing diff. Displacements no longer than tol
// are dropped, and the result is partial when fewer than half of the
// vertices remain.
func FromDiff(diff []r3.Vec, tol float64) Morph {
	var index []uint32
	for i, d := range diff {
		if r3.Norm(d) > tol {
			index = append(index, uint32(i))
		}
	}
	if len(index) == 0 {
		return Morph{}
	}
	if 2*len(index) >= len(diff) {
		return Full(append([]r3.Vec(nil), diff...))
	}
	delta := make([]r3.Vec, len(index))
	for i, vi := range index {
		delta[i] = diff[vi]
	}
	return Morph{kind: KindPartial, index: index, delta: delta}
}
