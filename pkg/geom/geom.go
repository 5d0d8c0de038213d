// Package geom provides a read-only mesh view with lazily built spatial indices.
package geom

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"gonum.org/v1/gonum/spatial/kdtree"
	"gonum.org/v1/gonum/spatial/r3"
)

// Geometry errors.
var (
	ErrFaceIndexRange = errors.New("face index out of range")
	ErrDegenerateFace = errors.New("face has fewer than 3 vertices")
)

// Geometry is an immutable view over vertex positions and polygon faces.
// Any change to the underlying mesh requires a new Geometry.
type Geometry struct {
	verts []r3.Vec
	faces [][]int

	trisOnce sync.Once
	tris     []Triangle

	kdOnce sync.Once
	kd     *kdtree.Tree

	bvhOnce sync.Once
	bvh     *BVH
}

// New creates a Geometry. Faces may be triangles or n-gons; faces with
// fewer than 3 vertices are rejected. The slices are copied.
func New(verts []r3.Vec, faces [][]int) (*Geometry, error) {
	n := len(verts)
	for fi, f := range faces {
		if len(f) < 3 {
			return nil, fmt.Errorf("%w: face %d", ErrDegenerateFace, fi)
		}
		for _, vi := range f {
			if vi < 0 || vi >= n {
				return nil, fmt.Errorf("%w: face %d references vertex %d (have %d)", ErrFaceIndexRange, fi, vi, n)
			}
		}
	}

	g := &Geometry{
		verts: append([]r3.Vec(nil), verts...),
		faces: make([][]int, len(faces)),
	}
	for i, f := range faces {
		g.faces[i] = append([]int(nil), f...)
	}
	return g, nil
}

// FromPoints creates a face-less Geometry, useful for point clouds such as
// joint positions.
func FromPoints(verts []r3.Vec) *Geometry {
	return &Geometry{verts: append([]r3.Vec(nil), verts...)}
}

// Len returns the number of vertices.
func (g *Geometry) Len() int { return len(g.verts) }

// Vertex returns the position of vertex i.
func (g *Geometry) Vertex(i int) r3.Vec { return g.verts[i] }

// Verts returns the vertex positions. The slice must not be modified.
func (g *Geometry) Verts() []r3.Vec { return g.verts }

// Faces returns the face index lists. The slices must not be modified.
func (g *Geometry) Faces() [][]int { return g.faces }

// HasFaces reports whether the geometry has a surface.
func (g *Geometry) HasFaces() bool { return len(g.faces) > 0 }

// Triangles returns the fan triangulation of all faces.
func (g *Geometry) Triangles() []Triangle {
	g.trisOnce.Do(func() {
		g.tris = Triangulate(g.faces)
	})
	return g.tris
}

// Triangle is a triangle referencing three vertex indices and its source face.
type Triangle struct {
	V    [3]int
	Face int
}

// Triangulate fan-triangulates polygon faces.
func Triangulate(faces [][]int) []Triangle {
	count := 0
	for _, f := range faces {
		count += len(f) - 2
	}
	tris := make([]Triangle, 0, count)
	for fi, f := range faces {
		for j := 1; j+1 < len(f); j++ {
			tris = append(tris, Triangle{V: [3]int{f[0], f[j], f[j+1]}, Face: fi})
		}
	}
	return tris
}

// Fingerprint returns a content-independent topology key: it changes when the
// vertex count or any face index list changes, but not when positions move.
func (g *Geometry) Fingerprint() string {
	h := fnv.New64a()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(len(g.verts)))
	h.Write(buf[:])
	for _, f := range g.faces {
		binary.LittleEndian.PutUint32(buf[:4], uint32(len(f)))
		h.Write(buf[:4])
		for _, vi := range f {
			binary.LittleEndian.PutUint32(buf[:4], uint32(vi))
			h.Write(buf[:4])
		}
	}
	return fmt.Sprintf("%d:%016x", len(g.verts), h.Sum64())
}

// Bounds returns the axis-aligned bounding box of all vertices.
func (g *Geometry) Bounds() r3.Box {
	return boundsOf(g.verts)
}
