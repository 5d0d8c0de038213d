package formats

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/Faultbox/morphfit/pkg/morph"
)

// Morph file errors.
var (
	ErrMorphNotFound = errors.New("morph resource not found")
	ErrInvalidMorph  = errors.New("invalid morph data")
)

// File extensions of the two morph layouts.
const (
	FullMorphExt    = ".npy"
	PartialMorphExt = ".npz"
)

// Partial morph member names.
const (
	partialIndex = "idx"
	partialDelta = "delta"
)

// ParseFullMorph parses a dense (N,3) array into a full morph.
func ParseFullMorph(data []byte) (morph.Morph, error) {
	a, err := ParseNPY(data)
	if err != nil {
		return morph.Morph{}, err
	}
	delta, err := vec3s(a)
	if err != nil {
		return morph.Morph{}, err
	}
	return morph.Full(delta), nil
}

// ParsePartialMorph parses an NPZ archive holding "idx" (K) and
// "delta" (K,3) arrays into a partial morph.
func ParsePartialMorph(data []byte) (morph.Morph, error) {
	z, err := ParseNPZ(data)
	if err != nil {
		return morph.Morph{}, err
	}
	ia, err := z.Get(partialIndex)
	if err != nil {
		return morph.Morph{}, err
	}
	da, err := z.Get(partialDelta)
	if err != nil {
		return morph.Morph{}, err
	}

	index, err := ia.Uint32s()
	if err != nil {
		return morph.Morph{}, fmt.Errorf("%w: idx: %v", ErrInvalidMorph, err)
	}
	delta, err := vec3s(da)
	if err != nil {
		return morph.Morph{}, err
	}
	m, err := morph.Partial(index, delta)
	if err != nil {
		return morph.Morph{}, fmt.Errorf("%w: %v", ErrInvalidMorph, err)
	}
	return m, nil
}

// LoadMorph loads the morph stored at base+".npy" (full) or base+".npz"
// (partial). The full layout wins when both exist.
func LoadMorph(base string) (morph.Morph, error) {
	data, err := os.ReadFile(base + FullMorphExt)
	if err == nil {
		return ParseFullMorph(data)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return morph.Morph{}, fmt.Errorf("reading morph file: %w", err)
	}

	data, err = os.ReadFile(base + PartialMorphExt)
	if err == nil {
		return ParsePartialMorph(data)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return morph.Morph{}, fmt.Errorf("reading morph file: %w", err)
	}
	return morph.Morph{}, fmt.Errorf("%w: %s", ErrMorphNotFound, base)
}

// WriteMorph writes m in the layout matching its kind. It returns the file
// extension the data belongs under.
func WriteMorph(w io.Writer, m morph.Morph) (string, error) {
	switch m.Kind() {
	case morph.KindFull:
		return FullMorphExt, WriteNPY(w, vec3Array(m.Delta()))
	case morph.KindPartial:
		z := NPZ{
			partialIndex: IndexArray(m.Index()),
			partialDelta: vec3Array(m.Delta()),
		}
		return PartialMorphExt, WriteNPZ(w, z)
	default:
		return "", fmt.Errorf("%w: cannot write %s morph", ErrInvalidMorph, m.Kind())
	}
}

// SaveMorph writes m to base plus the extension of its layout and returns
// the full path.
func SaveMorph(base string, m morph.Morph) (string, error) {
	var buf bytes.Buffer
	ext, err := WriteMorph(&buf, m)
	if err != nil {
		return "", err
	}
	path := base + ext
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("writing morph file: %w", err)
	}
	return path, nil
}

// SavePositions writes absolute positions as an (N,3) float64 array.
func SavePositions(path string, pts []r3.Vec) error {
	return writeFile(path, func(w io.Writer) error {
		return WriteNPY(w, vec3Array(pts))
	})
}

// LoadPositions reads an (N,3) array of absolute positions.
func LoadPositions(path string) ([]r3.Vec, error) {
	a, err := ParseNPYFile(path)
	if err != nil {
		return nil, err
	}
	return vec3s(a)
}

// vec3s converts an (N,3) array to vectors.
func vec3s(a *Array) ([]r3.Vec, error) {
	if len(a.Shape) != 2 || a.Shape[1] != 3 {
		return nil, fmt.Errorf("%w: shape %v, want (N, 3)", ErrInvalidMorph, a.Shape)
	}
	vals, err := a.Float64s()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMorph, err)
	}
	out := make([]r3.Vec, a.Shape[0])
	for i := range out {
		out[i] = r3.Vec{X: vals[3*i], Y: vals[3*i+1], Z: vals[3*i+2]}
	}
	return out, nil
}

// vec3Array stores vectors as an (N,3) float64 array.
func vec3Array(vs []r3.Vec) *Array {
	vals := make([]float64, 0, 3*len(vs))
	for _, v := range vs {
		vals = append(vals, v.X, v.Y, v.Z)
	}
	return Float64Array(vals, len(vs), 3)
}
