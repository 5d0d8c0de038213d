package formats

import (
	"errors"
	"fmt"
	"io"

	"github.com/Faultbox/morphfit/pkg/weights"
)

// ErrInvalidWeightMap is returned for weight map archives with inconsistent
// arrays.
var ErrInvalidWeightMap = errors.New("invalid weight map data")

// Weight map member names.
const (
	weightNames   = "names"
	weightCounts  = "cnt"
	weightIndex   = "idx"
	weightWeights = "weights"
)

// ParseWeightMap parses an NPZ weight map with "names", "cnt", "idx" and
// "weights" members.
func ParseWeightMap(data []byte) (*weights.Map, error) {
	z, err := ParseNPZ(data)
	if err != nil {
		return nil, err
	}

	arrays := make(map[string]*Array, 4)
	for _, name := range []string{weightNames, weightCounts, weightIndex, weightWeights} {
		a, err := z.Get(name)
		if err != nil {
			return nil, err
		}
		arrays[name] = a
	}

	names, err := arrays[weightNames].Strings()
	if err != nil {
		return nil, fmt.Errorf("%w: names: %v", ErrInvalidWeightMap, err)
	}
	counts, err := arrays[weightCounts].Uint32s()
	if err != nil {
		return nil, fmt.Errorf("%w: cnt: %v", ErrInvalidWeightMap, err)
	}
	index, err := arrays[weightIndex].Uint32s()
	if err != nil {
		return nil, fmt.Errorf("%w: idx: %v", ErrInvalidWeightMap, err)
	}
	vals, err := arrays[weightWeights].Float64s()
	if err != nil {
		return nil, fmt.Errorf("%w: weights: %v", ErrInvalidWeightMap, err)
	}

	m := &weights.Map{
		Names:  names,
		Counts: counts,
		Index:  index,
		Weight: make([]float32, len(vals)),
	}
	for i, v := range vals {
		m.Weight[i] = float32(v)
	}
	if err := m.Validate(0); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWeightMap, err)
	}
	return m, nil
}

// ParseWeightMapFile parses a weight map from disk.
func ParseWeightMapFile(path string) (*weights.Map, error) {
	data, err := readFile(path, "weight map")
	if err != nil {
		return nil, err
	}
	return ParseWeightMap(data)
}

// WriteWeightMap writes m as an NPZ archive. Vertex indices are stored as
// uint16 when they all fit.
func WriteWeightMap(w io.Writer, m *weights.Map) error {
	if err := m.Validate(0); err != nil {
		return err
	}
	vals := make([]float64, len(m.Weight))
	for i, v := range m.Weight {
		vals[i] = float64(v)
	}
	return WriteNPZ(w, NPZ{
		weightNames:   StringArray(m.Names),
		weightCounts:  Uint32Array(m.Counts),
		weightIndex:   IndexArray(m.Index),
		weightWeights: Float32Array(vals),
	})
}

// SaveWeightMap writes m to path.
func SaveWeightMap(path string, m *weights.Map) error {
	return writeFile(path, func(w io.Writer) error { return WriteWeightMap(w, m) })
}
