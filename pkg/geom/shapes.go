package geom

import "gonum.org/v1/gonum/spatial/r3"

// UnitCube returns an axis-aligned cube spanning [0,1]^3 with 8 vertices and
// 12 outward-wound triangles.
func UnitCube() *Geometry {
	verts := []r3.Vec{
		{X: 0, Y: 0, Z: 0},
		{X: 1, Y: 0, Z: 0},
		{X: 1, Y: 1, Z: 0},
		{X: 0, Y: 1, Z: 0},
		{X: 0, Y: 0, Z: 1},
		{X: 1, Y: 0, Z: 1},
		{X: 1, Y: 1, Z: 1},
		{X: 0, Y: 1, Z: 1},
	}
	faces := [][]int{
		{0, 2, 1}, {0, 3, 2}, // bottom (z=0)
		{4, 5, 6}, {4, 6, 7}, // top (z=1)
		{0, 1, 5}, {0, 5, 4}, // front (y=0)
		{3, 7, 6}, {3, 6, 2}, // back (y=1)
		{0, 4, 7}, {0, 7, 3}, // left (x=0)
		{1, 2, 6}, {1, 6, 5}, // right (x=1)
	}
	g, err := New(verts, faces)
	if err != nil {
		panic(err)
	}
	return g
}

// Grid returns a flat n×n quad grid in the XY plane at height z, spanning
// [0,size]^2. Faces are quads.
func Grid(n int, size, z float64) *Geometry {
	if n < 1 {
		n = 1
	}
	step := size / float64(n)
	verts := make([]r3.Vec, 0, (n+1)*(n+1))
	for y := 0; y <= n; y++ {
		for x := 0; x <= n; x++ {
			verts = append(verts, r3.Vec{X: float64(x) * step, Y: float64(y) * step, Z: z})
		}
	}
	faces := make([][]int, 0, n*n)
	row := n + 1
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			i := y*row + x
			faces = append(faces, []int{i, i + 1, i + row + 1, i + row})
		}
	}
	g, err := New(verts, faces)
	if err != nil {
		panic(err)
	}
	return g
}
