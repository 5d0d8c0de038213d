// Package weights transfers named sparse vertex weight maps, such as skinning
// weights, between meshes through a fit.Binding.
package weights

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/Faultbox/morphfit/pkg/fit"
	"github.com/Faultbox/morphfit/pkg/geom"
)

// Weight map errors.
var (
	ErrInvalidMap  = errors.New("invalid weight map")
	ErrIndexRange  = errors.New("weight map vertex index out of range")
	ErrUnknownName = errors.New("unknown weight map name")
)

// DefaultMinWeight is the weight below which transferred entries are dropped.
const DefaultMinWeight = 1e-4

// Map is a CSR matrix with named rows. Row i is Names[i] and holds
// Counts[i] consecutive (Index, Weight) pairs, Index being a vertex.
type Map struct {
	Names  []string
	Counts []uint32
	Index  []uint32
	Weight []float32
}

// Len returns the number of named rows.
func (m *Map) Len() int { return len(m.Names) }

// Entries returns the total number of (vertex, weight) pairs.
func (m *Map) Entries() int { return len(m.Index) }

// offsets returns the start offset of every row plus the end.
func (m *Map) offsets() []int {
	off := make([]int, len(m.Counts)+1)
	for i, c := range m.Counts {
		off[i+1] = off[i] + int(c)
	}
	return off
}

// Row returns the vertex indices and weights of row i.
func (m *Map) Row(i int) ([]uint32, []float32) {
	off := 0
	for _, c := range m.Counts[:i] {
		off += int(c)
	}
	end := off + int(m.Counts[i])
	return m.Index[off:end], m.Weight[off:end]
}

// Lookup returns the row index of name.
func (m *Map) Lookup(name string) (int, bool) {
	for i, n := range m.Names {
		if n == name {
			return i, true
		}
	}
	return -1, false
}

// Dense expands the row called name into a per-vertex array of length n.
func (m *Map) Dense(name string, n int) ([]float64, error) {
	i, ok := m.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownName, name)
	}
	out := make([]float64, n)
	idx, w := m.Row(i)
	for e := range idx {
		if int(idx[e]) >= n {
			return nil, fmt.Errorf("%w: %d (have %d vertices)", ErrIndexRange, idx[e], n)
		}
		out[idx[e]] += float64(w[e])
	}
	return out, nil
}

// MaxIndex returns the largest vertex index, or -1 for an empty map.
func (m *Map) MaxIndex() int {
	maxIdx := -1
	for _, i := range m.Index {
		maxIdx = max(maxIdx, int(i))
	}
	return maxIdx
}

// Validate checks the layout. A positive n also bounds vertex indices.
func (m *Map) Validate(n int) error {
	if len(m.Names) != len(m.Counts) {
		return fmt.Errorf("%w: %d names, %d counts", ErrInvalidMap, len(m.Names), len(m.Counts))
	}
	if len(m.Index) != len(m.Weight) {
		return fmt.Errorf("%w: %d indices, %d weights", ErrInvalidMap, len(m.Index), len(m.Weight))
	}
	if total := m.offsets()[len(m.Counts)]; total != len(m.Index) {
		return fmt.Errorf("%w: counts sum to %d, have %d entries", ErrInvalidMap, total, len(m.Index))
	}
	seen := make(map[string]bool, len(m.Names))
	for _, name := range m.Names {
		if seen[name] {
			return fmt.Errorf("%w: duplicate name %q", ErrInvalidMap, name)
		}
		seen[name] = true
	}
	if n > 0 {
		if maxIdx := m.MaxIndex(); maxIdx >= n {
			return fmt.Errorf("%w: %d (have %d vertices)", ErrIndexRange, maxIdx, n)
		}
	}
	return nil
}

// Normalize rescales weights so that every referenced vertex sums to 1
// across all rows.
func (m *Map) Normalize() {
	sums := make(map[uint32]float64)
	for e, i := range m.Index {
		sums[i] += float64(m.Weight[e])
	}
	for e, i := range m.Index {
		if s := sums[i]; s > 0 {
			m.Weight[e] = float32(float64(m.Weight[e]) / s)
		}
	}
}

// Options configures Transfer.
type Options struct {
	// MinWeight drops transferred entries below it. 0 uses DefaultMinWeight.
	MinWeight float64
	// Normalize rescales per-vertex sums to 1 after transfer.
	Normalize bool
	// Workers bounds parallelism over rows; 0 uses GOMAXPROCS.
	Workers int
}

// Transfer pushes src, indexed by binding source vertices, onto the binding
// target. Row names and order are kept, including rows that end up empty.
func Transfer(b *fit.Binding, src *Map, opts Options) (*Map, error) {
	if b.SourceLen == 0 {
		return nil, fmt.Errorf("%w: binding has no source vertices", ErrIndexRange)
	}
	if err := src.Validate(int(b.SourceLen)); err != nil {
		return nil, err
	}
	minWeight := opts.MinWeight
	if minWeight <= 0 {
		minWeight = DefaultMinWeight
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	type result struct {
		idx []uint32
		w   []float32
	}
	off := src.offsets()
	results := make([]result, src.Len())

	g := new(errgroup.Group)
	g.SetLimit(workers)
	for r := range src.Names {
		r := r
		g.Go(func() error {
			dense := make([]float64, b.SourceLen)
			for e := off[r]; e < off[r+1]; e++ {
				dense[src.Index[e]] += float64(src.Weight[e])
			}
			var res result
			for t := 0; t < b.Len(); t++ {
				idx, w := b.Row(t)
				var acc float64
				for i := range idx {
					acc += float64(w[i]) * dense[idx[i]]
				}
				if math.Abs(acc) >= minWeight {
					res.idx = append(res.idx, uint32(t))
					res.w = append(res.w, float32(acc))
				}
			}
			results[r] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &Map{
		Names:  append([]string(nil), src.Names...),
		Counts: make([]uint32, src.Len()),
	}
	for r, res := range results {
		out.Counts[r] = uint32(len(res.idx))
		out.Index = append(out.Index, res.idx...)
		out.Weight = append(out.Weight, res.w...)
	}
	if opts.Normalize {
		out.Normalize()
	}
	return out, nil
}

// TransferMesh binds target onto source for weight transfer and pushes src
// through the fresh binding.
func TransferMesh(source, target *geom.Geometry, src *Map, opts Options) (*Map, error) {
	p := fit.TransferParams()
	p.Workers = opts.Workers
	b, err := fit.ComputeBinding(source, target, p)
	if err != nil {
		return nil, fmt.Errorf("binding target: %w", err)
	}
	return Transfer(b, src, opts)
}

// FromDense builds a map from per-vertex rows, dropping entries below
// minWeight. Names are sorted.
func FromDense(rows map[string][]float64, minWeight float64) *Map {
	names := make([]string, 0, len(rows))
	for name := range rows {
		names = append(names, name)
	}
	sort.Strings(names)

	m := &Map{Names: names, Counts: make([]uint32, len(names))}
	for r, name := range names {
		for v, w := range rows[name] {
			if math.Abs(w) < minWeight || w == 0 {
				continue
			}
			m.Index = append(m.Index, uint32(v))
			m.Weight = append(m.Weight, float32(w))
			m.Counts[r]++
		}
	}
	return m
}
