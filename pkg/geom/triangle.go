package geom

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// ClosestPointOnTriangle returns the point of triangle (a, b, c) closest to p
// together with its barycentric weights over (a, b, c).
// Degenerate triangles fall back to the closest point on their edges.
func ClosestPointOnTriangle(p, a, b, c r3.Vec) (r3.Vec, [3]float64) {
	ab := r3.Sub(b, a)
	ac := r3.Sub(c, a)
	ap := r3.Sub(p, a)

	d1 := r3.Dot(ab, ap)
	d2 := r3.Dot(ac, ap)
	if d1 <= 0 && d2 <= 0 {
		return a, [3]float64{1, 0, 0}
	}

	bp := r3.Sub(p, b)
	d3 := r3.Dot(ab, bp)
	d4 := r3.Dot(ac, bp)
	if d3 >= 0 && d4 <= d3 {
		return b, [3]float64{0, 1, 0}
	}

	vc := d1*d4 - d3*d2
	if vc <= 0 && d1 >= 0 && d3 <= 0 {
		v := d1 / (d1 - d3)
		return r3.Add(a, r3.Scale(v, ab)), [3]float64{1 - v, v, 0}
	}

	cp := r3.Sub(p, c)
	d5 := r3.Dot(ab, cp)
	d6 := r3.Dot(ac, cp)
	if d6 >= 0 && d5 <= d6 {
		return c, [3]float64{0, 0, 1}
	}

	vb := d5*d2 - d1*d6
	if vb <= 0 && d2 >= 0 && d6 <= 0 {
		w := d2 / (d2 - d6)
		return r3.Add(a, r3.Scale(w, ac)), [3]float64{1 - w, 0, w}
	}

	va := d3*d6 - d5*d4
	if va <= 0 && (d4-d3) >= 0 && (d5-d6) >= 0 {
		w := (d4 - d3) / ((d4 - d3) + (d5 - d6))
		return r3.Add(b, r3.Scale(w, r3.Sub(c, b))), [3]float64{0, 1 - w, w}
	}

	denom := va + vb + vc
	if denom == 0 || math.IsNaN(denom) {
		return closestOnEdges(p, a, b, c)
	}
	v := vb / denom
	w := vc / denom
	point := r3.Add(a, r3.Add(r3.Scale(v, ab), r3.Scale(w, ac)))
	return point, [3]float64{1 - v - w, v, w}
}

// closestOnEdges handles zero-area triangles.
func closestOnEdges(p, a, b, c r3.Vec) (r3.Vec, [3]float64) {
	best := math.Inf(1)
	var point r3.Vec
	var bary [3]float64

	edges := [3][2]int{{0, 1}, {1, 2}, {2, 0}}
	verts := [3]r3.Vec{a, b, c}
	for _, e := range edges {
		q, t := closestPointOnSegment(p, verts[e[0]], verts[e[1]])
		d := r3.Norm2(r3.Sub(p, q))
		if d < best {
			best = d
			point = q
			bary = [3]float64{}
			bary[e[0]] = 1 - t
			bary[e[1]] += t
		}
	}
	return point, bary
}

// closestPointOnSegment returns the closest point on [start, end] and its
// parameter along the segment.
func closestPointOnSegment(p, start, end r3.Vec) (r3.Vec, float64) {
	diff := r3.Sub(end, start)
	dd := r3.Dot(diff, diff)
	if dd == 0 {
		return start, 0
	}
	t := math.Min(math.Max(r3.Dot(r3.Sub(p, start), diff)/dd, 0), 1)
	return r3.Add(start, r3.Scale(t, diff)), t
}
