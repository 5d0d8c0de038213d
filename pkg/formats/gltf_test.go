package formats

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
)

// createTestGLB writes a single-quad mesh with one "smile" morph target.
func createTestGLB(t *testing.T) string {
	t.Helper()

	doc := gltf.NewDocument()
	pos := modeler.WritePosition(doc, [][3]float32{{0, 0, 0}, {1, 0, 0}, {1, 1, 0}, {0, 1, 0}})
	idx := modeler.WriteIndices(doc, []uint32{0, 1, 2, 0, 2, 3})
	smile := modeler.WritePosition(doc, [][3]float32{{0, 0, 0}, {0, 0, 0}, {0, 0, 0.5}, {0, 0, 0.25}})

	doc.Meshes = []*gltf.Mesh{{
		Name: "Body",
		Primitives: []*gltf.Primitive{{
			Indices:    gltf.Index(idx),
			Attributes: gltf.PrimitiveAttributes{gltf.POSITION: pos},
			Targets:    []gltf.PrimitiveAttributes{{gltf.POSITION: smile}},
		}},
		Extras: map[string]any{"targetNames": []any{"smile"}},
	}}

	path := filepath.Join(t.TempDir(), "body.glb")
	if err := gltf.SaveBinary(doc, path); err != nil {
		t.Fatalf("SaveBinary failed: %v", err)
	}
	return path
}

func TestLoadGLTF(t *testing.T) {
	path := createTestGLB(t)

	m, err := LoadGLTF(path, "")
	if err != nil {
		t.Fatalf("LoadGLTF failed: %v", err)
	}
	if m.Name != "Body" {
		t.Errorf("expected mesh Body, got %q", m.Name)
	}
	if len(m.Verts) != 4 {
		t.Fatalf("expected 4 vertices, got %d", len(m.Verts))
	}
	if len(m.Faces) != 2 || m.Faces[1][2] != 3 {
		t.Errorf("unexpected faces %v", m.Faces)
	}

	g, err := m.Geometry()
	if err != nil {
		t.Fatalf("Geometry failed: %v", err)
	}
	if g.Len() != 4 || !g.HasFaces() {
		t.Errorf("unexpected geometry with %d vertices", g.Len())
	}

	smile, ok := m.Morph("smile")
	if !ok {
		t.Fatalf("expected morph target smile, have %v", m.Targets)
	}
	if d := smile.Delta()[2].Z; d != 0.5 {
		t.Errorf("expected delta 0.5, got %v", d)
	}
	if _, ok := m.Morph("frown"); ok {
		t.Error("unexpected morph target frown")
	}
}

func TestParseGLTF(t *testing.T) {
	data, err := os.ReadFile(createTestGLB(t))
	if err != nil {
		t.Fatal(err)
	}

	m, err := ParseGLTF(data, "Body")
	if err != nil {
		t.Fatalf("ParseGLTF failed: %v", err)
	}
	if len(m.Targets) != 1 || len(m.Targets[0].Delta) != 4 {
		t.Errorf("unexpected targets %v", m.Targets)
	}

	if _, err := ParseGLTF(data, "Hat"); !errors.Is(err, ErrNoGLTFMesh) {
		t.Errorf("expected ErrNoGLTFMesh, got %v", err)
	}
}
