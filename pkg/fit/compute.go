package fit

import (
	"math"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/Faultbox/morphfit/pkg/geom"
)

// chunkSize is the number of rows or vertices handled per task.
const chunkSize = 256

// row accumulates candidate weights for one target vertex. Rows are small,
// so linear search beats a map.
type row struct {
	idx []uint32
	w   []float64
	pin []uint32
}

// merge keeps the larger of the existing and the new weight.
func (r *row) merge(i uint32, w float64) {
	if !(w > 0) || math.IsInf(w, 0) {
		return
	}
	for k, ri := range r.idx {
		if ri == i {
			if w > r.w[k] {
				r.w[k] = w
			}
			return
		}
	}
	r.idx = append(r.idx, i)
	r.w = append(r.w, w)
}

func (r *row) pinned(i uint32) bool {
	for _, p := range r.pin {
		if p == i {
			return true
		}
	}
	return false
}

type contribution struct {
	target uint32
	source uint32
	w      float64
}

// ComputeBinding builds a binding from every target vertex onto the source
// surface. It is deterministic for fixed inputs. Target faces are only used
// by reverse refinement and may be absent.
func ComputeBinding(source, target *geom.Geometry, p Params) (*Binding, error) {
	p = p.normalized()
	if source.Len() == 0 {
		return nil, ErrEmptySource
	}

	// Indices are built before the parallel phase and only read afterwards.
	source.BuildIndices()
	reverse := p.Reverse && target.HasFaces()
	if reverse {
		target.BuildIndices()
	}

	rows := make([]row, target.Len())
	if err := parallel(target.Len(), p.Workers, func(lo, hi int) error {
		for t := lo; t < hi; t++ {
			gather(&rows[t], source, target.Vertex(t), p)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	if reverse {
		if err := refineReverse(rows, source, target, p); err != nil {
			return nil, err
		}
	}

	if err := parallel(len(rows), p.Workers, func(lo, hi int) error {
		for t := lo; t < hi; t++ {
			if !finalize(&rows[t], p.ThresholdRatio) {
				return &RowError{Vertex: t}
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}

	return assemble(rows, source.Len()), nil
}

// gather seeds a row from the nearest source vertices and the nearest point
// on the source surface.
func gather(r *row, source *geom.Geometry, q r3.Vec, p Params) {
	for _, n := range source.KNearest(q, p.Neighbors) {
		r.merge(uint32(n.Index), 1/math.Max(n.Dist2, p.DistEpsilon))
	}

	if !p.Surface || !source.HasFaces() {
		return
	}
	hit, ok := source.BVH().NearestPoint(q, p.SurfaceRadius)
	if !ok {
		return
	}
	inv := 1 / math.Max(hit.Dist2, p.DistEpsilon)
	for j, vi := range hit.Verts {
		r.merge(uint32(vi), hit.Bary[j]*inv)
	}
}

// refineReverse projects source vertices onto the target surface and splats
// the barycentric weights back into the target rows.
func refineReverse(rows []row, source, target *geom.Geometry, p Params) error {
	subset := reverseSubset(rows, source.Len(), p)
	radius := p.SurfaceRadius
	if p.ReverseAll {
		radius = 0
	}

	workers := workerCount(p.Workers)
	chunks := (len(subset) + chunkSize - 1) / chunkSize
	results := make([][]contribution, chunks)

	g := new(errgroup.Group)
	g.SetLimit(workers)
	for c := 0; c < chunks; c++ {
		c := c
		lo := c * chunkSize
		hi := min(lo+chunkSize, len(subset))
		g.Go(func() error {
			var out []contribution
			for _, s := range subset[lo:hi] {
				hit, ok := target.BVH().NearestPoint(source.Vertex(s), radius)
				if !ok {
					continue
				}
				inv := 1 / math.Max(hit.Dist2, p.DistEpsilon)
				for j, ti := range hit.Verts {
					out = append(out, contribution{target: uint32(ti), source: uint32(s), w: hit.Bary[j] * inv})
				}
			}
			results[c] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Max is order independent, so the serial merge stays deterministic.
	for _, out := range results {
		for _, c := range out {
			rows[c.target].merge(c.source, c.w)
		}
	}
	if p.ReverseAll {
		pinStrongest(rows, results)
	}
	return nil
}

// pinStrongest marks, for every projected source vertex, its heaviest
// target entry so thresholding cannot drop it. Contributions of one source
// vertex are contiguous.
func pinStrongest(rows []row, results [][]contribution) {
	for _, out := range results {
		for i := 0; i < len(out); {
			best := i
			j := i + 1
			for ; j < len(out) && out[j].source == out[i].source; j++ {
				if out[j].w > out[best].w || (out[j].w == out[best].w && out[j].target < out[best].target) {
					best = j
				}
			}
			if out[best].w > 0 {
				r := &rows[out[best].target]
				r.pin = append(r.pin, out[best].source)
			}
			i = j
		}
	}
}

func reverseSubset(rows []row, n int, p Params) []int {
	if p.Subset != nil {
		subset := make([]int, 0, len(p.Subset))
		for _, s := range p.Subset {
			if s >= 0 && s < n {
				subset = append(subset, s)
			}
		}
		return subset
	}
	if p.ReverseAll {
		subset := make([]int, n)
		for i := range subset {
			subset[i] = i
		}
		return subset
	}

	seen := make([]bool, n)
	for _, r := range rows {
		for _, i := range r.idx {
			seen[i] = true
		}
	}
	var subset []int
	for i, ok := range seen {
		if ok {
			subset = append(subset, i)
		}
	}
	return subset
}

// finalize thresholds and normalizes a row in place. It reports false when
// no usable weight remains.
func finalize(r *row, ratio float64) bool {
	var maxW float64
	for _, w := range r.w {
		maxW = math.Max(maxW, w)
	}
	if !(maxW > 0) {
		return false
	}

	cut := maxW / ratio
	k := 0
	for i, w := range r.w {
		if w >= cut || r.pinned(r.idx[i]) {
			r.idx[k] = r.idx[i]
			r.w[k] = w
			k++
		}
	}
	r.idx = r.idx[:k]
	r.w = r.w[:k]

	sort.Sort(byIndex{r})

	var sum float64
	for _, w := range r.w {
		sum += w
	}
	if !(sum > 0) || math.IsInf(sum, 0) {
		return false
	}
	for i := range r.w {
		r.w[i] /= sum
	}
	return true
}

type byIndex struct{ r *row }

func (b byIndex) Len() int           { return len(b.r.idx) }
func (b byIndex) Less(i, j int) bool { return b.r.idx[i] < b.r.idx[j] }
func (b byIndex) Swap(i, j int) {
	b.r.idx[i], b.r.idx[j] = b.r.idx[j], b.r.idx[i]
	b.r.w[i], b.r.w[j] = b.r.w[j], b.r.w[i]
}

// assemble packs rows into CSR form. float32 rounding error is folded into
// the heaviest entry so each row still sums to 1.
func assemble(rows []row, sourceLen int) *Binding {
	total := 0
	for _, r := range rows {
		total += len(r.idx)
	}

	b := &Binding{
		SourceLen: uint32(sourceLen),
		Positions: make([]uint32, len(rows)+1),
		Index:     make([]uint32, 0, total),
		Weight:    make([]float32, 0, total),
	}
	for t, r := range rows {
		start := len(b.Weight)
		heaviest := start
		var sum float64
		for i := range r.idx {
			w := float32(r.w[i])
			b.Index = append(b.Index, r.idx[i])
			b.Weight = append(b.Weight, w)
			sum += float64(w)
			if w > b.Weight[heaviest] {
				heaviest = len(b.Weight) - 1
			}
		}
		if len(r.idx) > 0 {
			b.Weight[heaviest] += float32(1 - sum)
		}
		b.Positions[t+1] = uint32(len(b.Index))
	}
	return b
}

func workerCount(n int) int {
	if n <= 0 {
		return runtime.GOMAXPROCS(0)
	}
	return n
}

// parallel runs fn over [0,n) in chunks on up to workers goroutines.
func parallel(n, workers int, fn func(lo, hi int) error) error {
	g := new(errgroup.Group)
	g.SetLimit(workerCount(workers))
	for lo := 0; lo < n; lo += chunkSize {
		lo := lo
		hi := min(lo+chunkSize, n)
		g.Go(func() error { return fn(lo, hi) })
	}
	return g.Wait()
}
