package geom

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"
)

// bvhLeafSize is the maximum number of triangles stored in a leaf.
const bvhLeafSize = 4

// BVH is a bounding volume hierarchy over a geometry's triangles answering
// nearest-point-on-surface queries. It is read-only after construction.
type BVH struct {
	verts []r3.Vec
	tris  []Triangle
	order []int // triangle indices grouped by leaf
	nodes []bvhNode
}

type bvhNode struct {
	box         r3.Box
	left, right int // child node indices, -1 for leaves
	start, end  int // range into order for leaves
}

// SurfaceHit is the result of a nearest-point-on-surface query.
type SurfaceHit struct {
	Triangle int        // Index into Geometry.Triangles()
	Face     int        // Source polygon face
	Verts    [3]int     // Vertex indices of the hit triangle
	Point    r3.Vec     // Closest point on the surface
	Bary     [3]float64 // Barycentric weights over Verts
	Dist2    float64    // Squared distance from the query point
}

// BVH returns the lazily built face hierarchy.
func (g *Geometry) BVH() *BVH {
	g.bvhOnce.Do(func() {
		g.bvh = NewBVH(g.verts, g.Triangles())
	})
	return g.bvh
}

// NewBVH builds a hierarchy over the given triangles.
func NewBVH(verts []r3.Vec, tris []Triangle) *BVH {
	b := &BVH{
		verts: verts,
		tris:  tris,
		order: make([]int, len(tris)),
	}
	if len(tris) == 0 {
		return b
	}

	centroids := make([]r3.Vec, len(tris))
	for i, t := range tris {
		b.order[i] = i
		centroids[i] = r3.Scale(1.0/3.0, r3.Add(r3.Add(verts[t.V[0]], verts[t.V[1]]), verts[t.V[2]]))
	}
	b.nodes = make([]bvhNode, 0, 2*len(tris)/bvhLeafSize+1)
	b.build(centroids, 0, len(tris))
	return b
}

// build recursively splits order[start:end] at the median centroid along the
// longest axis of the centroid bounds and returns the node index.
func (b *BVH) build(centroids []r3.Vec, start, end int) int {
	idx := len(b.nodes)
	b.nodes = append(b.nodes, bvhNode{left: -1, right: -1, start: start, end: end})

	box := emptyBox()
	cbox := emptyBox()
	for _, ti := range b.order[start:end] {
		t := b.tris[ti]
		for _, vi := range t.V {
			box = extendBox(box, b.verts[vi])
		}
		cbox = extendBox(cbox, centroids[ti])
	}
	b.nodes[idx].box = box

	if end-start <= bvhLeafSize {
		return idx
	}

	axis := longestAxis(cbox)
	sub := b.order[start:end]
	sort.SliceStable(sub, func(i, j int) bool {
		return axisOf(centroids[sub[i]], axis) < axisOf(centroids[sub[j]], axis)
	})

	mid := start + (end-start)/2
	left := b.build(centroids, start, mid)
	right := b.build(centroids, mid, end)
	b.nodes[idx].left = left
	b.nodes[idx].right = right
	return idx
}

// Len returns the number of triangles in the hierarchy.
func (b *BVH) Len() int { return len(b.tris) }

// NearestPoint finds the closest surface point to p within maxDist.
// A non-positive maxDist searches without limit. Ties resolve to the lowest
// triangle index.
func (b *BVH) NearestPoint(p r3.Vec, maxDist float64) (SurfaceHit, bool) {
	if len(b.nodes) == 0 {
		return SurfaceHit{}, false
	}

	limit := math.Inf(1)
	if maxDist > 0 {
		limit = maxDist * maxDist
	}

	best := SurfaceHit{Triangle: -1, Dist2: limit}
	stack := []int{0}
	for len(stack) > 0 {
		ni := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		node := &b.nodes[ni]

		if boxDist2(node.box, p) > best.Dist2 {
			continue
		}

		if node.left < 0 {
			for _, ti := range b.order[node.start:node.end] {
				t := b.tris[ti]
				q, bary := ClosestPointOnTriangle(p, b.verts[t.V[0]], b.verts[t.V[1]], b.verts[t.V[2]])
				d := r3.Norm2(r3.Sub(p, q))
				if d < best.Dist2 || (d == best.Dist2 && (best.Triangle < 0 || ti < best.Triangle)) {
					best = SurfaceHit{
						Triangle: ti,
						Face:     t.Face,
						Verts:    t.V,
						Point:    q,
						Bary:     bary,
						Dist2:    d,
					}
				}
			}
			continue
		}

		// Visit the nearer child first.
		l, r := node.left, node.right
		if boxDist2(b.nodes[l].box, p) < boxDist2(b.nodes[r].box, p) {
			l, r = r, l
		}
		stack = append(stack, l, r)
	}

	if best.Triangle < 0 {
		return SurfaceHit{}, false
	}
	return best, true
}

func emptyBox() r3.Box {
	inf := math.Inf(1)
	return r3.Box{
		Min: r3.Vec{X: inf, Y: inf, Z: inf},
		Max: r3.Vec{X: -inf, Y: -inf, Z: -inf},
	}
}

func extendBox(b r3.Box, v r3.Vec) r3.Box {
	b.Min = r3.Vec{X: math.Min(b.Min.X, v.X), Y: math.Min(b.Min.Y, v.Y), Z: math.Min(b.Min.Z, v.Z)}
	b.Max = r3.Vec{X: math.Max(b.Max.X, v.X), Y: math.Max(b.Max.Y, v.Y), Z: math.Max(b.Max.Z, v.Z)}
	return b
}

func boundsOf(verts []r3.Vec) r3.Box {
	b := emptyBox()
	for _, v := range verts {
		b = extendBox(b, v)
	}
	return b
}

func longestAxis(b r3.Box) int {
	size := r3.Sub(b.Max, b.Min)
	switch {
	case size.X >= size.Y && size.X >= size.Z:
		return 0
	case size.Y >= size.Z:
		return 1
	default:
		return 2
	}
}

func axisOf(v r3.Vec, axis int) float64 {
	switch axis {
	case 0:
		return v.X
	case 1:
		return v.Y
	default:
		return v.Z
	}
}

// boxDist2 is the squared distance from p to box b (0 inside).
func boxDist2(b r3.Box, p r3.Vec) float64 {
	dx := math.Max(math.Max(b.Min.X-p.X, 0), p.X-b.Max.X)
	dy := math.Max(math.Max(b.Min.Y-p.Y, 0), p.Y-b.Max.Y)
	dz := math.Max(math.Max(b.Min.Z-p.Z, 0), p.Z-b.Max.Z)
	return dx*dx + dy*dy + dz*dz
}
