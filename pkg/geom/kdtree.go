package geom

import (
	"sort"

	"gonum.org/v1/gonum/spatial/kdtree"
	"gonum.org/v1/gonum/spatial/r3"
)

// Neighbor is a k-nearest-neighbor query result.
type Neighbor struct {
	Index int
	Dist2 float64 // Squared distance to the query point
}

// vertexPoint is a vertex position tagged with its index so results survive
// the reordering done by kdtree.New.
type vertexPoint struct {
	r3.Vec
	index int
}

func (p *vertexPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(*vertexPoint)
	switch d {
	case 0:
		return p.X - q.X
	case 1:
		return p.Y - q.Y
	case 2:
		return p.Z - q.Z
	}
	panic("unreachable")
}

func (p *vertexPoint) Dims() int { return 3 }

func (p *vertexPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(*vertexPoint)
	return r3.Norm2(r3.Sub(p.Vec, q.Vec))
}

type vertexPoints []vertexPoint

func (ps vertexPoints) Index(i int) kdtree.Comparable { return &ps[i] }

func (ps vertexPoints) Len() int { return len(ps) }

func (ps vertexPoints) Pivot(d kdtree.Dim) int {
	p := vertexPlane{dim: d, points: ps}
	return kdtree.Partition(p, kdtree.MedianOfMedians(p))
}

func (ps vertexPoints) Slice(start, end int) kdtree.Interface { return ps[start:end] }

type vertexPlane struct {
	dim    kdtree.Dim
	points vertexPoints
}

func (p vertexPlane) Less(i, j int) bool {
	return p.points[i].Compare(&p.points[j], p.dim) < 0
}

func (p vertexPlane) Swap(i, j int) {
	p.points[i], p.points[j] = p.points[j], p.points[i]
}

func (p vertexPlane) Len() int { return len(p.points) }

func (p vertexPlane) Slice(start, end int) kdtree.SortSlicer {
	p.points = p.points[start:end]
	return p
}

func buildKDTree(verts []r3.Vec) *kdtree.Tree {
	ps := make(vertexPoints, len(verts))
	for i, v := range verts {
		ps[i] = vertexPoint{Vec: v, index: i}
	}
	return kdtree.New(ps, false)
}

func (g *Geometry) kdTree() *kdtree.Tree {
	g.kdOnce.Do(func() {
		g.kd = buildKDTree(g.verts)
	})
	return g.kd
}

// BuildIndices forces construction of the lazy spatial indices so later
// queries can run concurrently without contending on initialization.
func (g *Geometry) BuildIndices() {
	g.kdTree()
	g.BVH()
}

// KNearest returns up to k vertices closest to q, ordered by distance and
// then by vertex index.
func (g *Geometry) KNearest(q r3.Vec, k int) []Neighbor {
	if k <= 0 || len(g.verts) == 0 {
		return nil
	}
	tree := g.kdTree()
	keeper := kdtree.NewNKeeper(k)
	tree.NearestSet(keeper, &vertexPoint{Vec: q, index: -1})

	result := make([]Neighbor, 0, len(keeper.Heap))
	for _, cd := range keeper.Heap {
		// NKeeper starts with a sentinel entry that has no Comparable.
		if cd.Comparable == nil {
			continue
		}
		p := cd.Comparable.(*vertexPoint)
		result = append(result, Neighbor{Index: p.index, Dist2: cd.Dist})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Dist2 != result[j].Dist2 {
			return result[i].Dist2 < result[j].Dist2
		}
		return result[i].Index < result[j].Index
	})
	return result
}

// Nearest returns the vertex closest to q.
func (g *Geometry) Nearest(q r3.Vec) (Neighbor, bool) {
	n := g.KNearest(q, 1)
	if len(n) == 0 {
		return Neighbor{}, false
	}
	return n[0], true
}
