package formats

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/Faultbox/morphfit/pkg/geom"
	"github.com/Faultbox/morphfit/pkg/morph"
)

// glTF import errors.
var (
	ErrNoGLTFMesh           = errors.New("glTF document has no matching mesh")
	ErrUnsupportedPrimitive = errors.New("unsupported glTF primitive")
)

// Mesh is a mesh imported from glTF, with its primitives merged into one
// vertex array.
type Mesh struct {
	Name    string
	Verts   []r3.Vec
	Faces   [][]int
	Targets []MorphTarget
}

// MorphTarget is a glTF morph target as per-vertex deltas.
type MorphTarget struct {
	Name  string
	Delta []r3.Vec
}

// Geometry builds the geometry of the mesh.
func (m *Mesh) Geometry() (*geom.Geometry, error) {
	return geom.New(m.Verts, m.Faces)
}

// Morph returns the morph target called name as a full morph.
func (m *Mesh) Morph(name string) (morph.Morph, bool) {
	for _, t := range m.Targets {
		if t.Name == name {
			return morph.Full(t.Delta), true
		}
	}
	return morph.Morph{}, false
}

// LoadGLTF loads the mesh called name from a .gltf or .glb file. An empty
// name selects the first mesh.
func LoadGLTF(path, name string) (*Mesh, error) {
	doc, err := gltf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening glTF file: %w", err)
	}
	return meshFromDocument(doc, name)
}

// ParseGLTF decodes a self-contained glTF document from raw bytes.
func ParseGLTF(data []byte, name string) (*Mesh, error) {
	doc := gltf.NewDocument()
	if err := gltf.NewDecoder(bytes.NewReader(data)).Decode(doc); err != nil {
		return nil, fmt.Errorf("decoding glTF: %w", err)
	}
	return meshFromDocument(doc, name)
}

func meshFromDocument(doc *gltf.Document, name string) (*Mesh, error) {
	var src *gltf.Mesh
	for _, m := range doc.Meshes {
		if name == "" || m.Name == name {
			src = m
			break
		}
	}
	if src == nil {
		return nil, fmt.Errorf("%w: %q", ErrNoGLTFMesh, name)
	}

	out := &Mesh{Name: src.Name}
	targetNames := morphTargetNames(src)

	for pi, prim := range src.Primitives {
		switch prim.Mode {
		case gltf.PrimitiveTriangles, gltf.PrimitivePoints:
		default:
			return nil, fmt.Errorf("%w: primitive %d mode %v", ErrUnsupportedPrimitive, pi, prim.Mode)
		}

		posIdx, ok := prim.Attributes[gltf.POSITION]
		if !ok {
			return nil, fmt.Errorf("%w: primitive %d has no POSITION", ErrUnsupportedPrimitive, pi)
		}
		positions, err := modeler.ReadPosition(doc, doc.Accessors[posIdx], nil)
		if err != nil {
			return nil, fmt.Errorf("reading positions of primitive %d: %w", pi, err)
		}

		base := len(out.Verts)
		for _, p := range positions {
			out.Verts = append(out.Verts, r3.Vec{X: float64(p[0]), Y: float64(p[1]), Z: float64(p[2])})
		}

		if prim.Mode == gltf.PrimitiveTriangles {
			var indices []uint32
			if prim.Indices != nil {
				indices, err = modeler.ReadIndices(doc, doc.Accessors[*prim.Indices], nil)
				if err != nil {
					return nil, fmt.Errorf("reading indices of primitive %d: %w", pi, err)
				}
			} else {
				indices = make([]uint32, len(positions))
				for i := range indices {
					indices[i] = uint32(i)
				}
			}
			for i := 0; i+2 < len(indices); i += 3 {
				out.Faces = append(out.Faces, []int{
					base + int(indices[i]),
					base + int(indices[i+1]),
					base + int(indices[i+2]),
				})
			}
		}

		for ti, attrs := range prim.Targets {
			for len(out.Targets) <= ti {
				out.Targets = append(out.Targets, MorphTarget{Name: targetName(targetNames, len(out.Targets))})
			}
			t := &out.Targets[ti]
			// Primitives without this target contribute zero deltas.
			t.Delta = append(t.Delta, make([]r3.Vec, base-len(t.Delta))...)

			tIdx, ok := attrs[gltf.POSITION]
			if !ok {
				t.Delta = append(t.Delta, make([]r3.Vec, len(positions))...)
				continue
			}
			deltas, err := modeler.ReadPosition(doc, doc.Accessors[tIdx], nil)
			if err != nil {
				return nil, fmt.Errorf("reading target %d of primitive %d: %w", ti, pi, err)
			}
			if len(deltas) != len(positions) {
				return nil, fmt.Errorf("%w: target %d of primitive %d has %d deltas for %d vertices",
					ErrUnsupportedPrimitive, ti, pi, len(deltas), len(positions))
			}
			for _, d := range deltas {
				t.Delta = append(t.Delta, r3.Vec{X: float64(d[0]), Y: float64(d[1]), Z: float64(d[2])})
			}
		}
	}

	for i := range out.Targets {
		t := &out.Targets[i]
		t.Delta = append(t.Delta, make([]r3.Vec, len(out.Verts)-len(t.Delta))...)
	}
	return out, nil
}

// morphTargetNames reads the conventional "targetNames" mesh extra.
func morphTargetNames(m *gltf.Mesh) []string {
	extras, ok := m.Extras.(map[string]any)
	if !ok {
		return nil
	}
	list, ok := extras["targetNames"].([]any)
	if !ok {
		return nil
	}
	names := make([]string, len(list))
	for i, v := range list {
		names[i], _ = v.(string)
	}
	return names
}

func targetName(names []string, i int) string {
	if i < len(names) && names[i] != "" {
		return names[i]
	}
	return fmt.Sprintf("target_%d", i)
}
