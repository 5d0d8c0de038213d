// Package library loads on-disk character libraries: a character.yaml
// manifest next to the morph files it names.
package library

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"

	"github.com/Faultbox/morphfit/pkg/formats"
	"github.com/Faultbox/morphfit/pkg/geom"
	"github.com/Faultbox/morphfit/pkg/morph"
	"github.com/Faultbox/morphfit/pkg/morpher"
)

// ManifestName is the manifest file name inside a library directory.
const ManifestName = "character.yaml"

// ErrNoMesh is returned by Mesh when the manifest names no mesh.
var ErrNoMesh = errors.New("library manifest names no mesh")

// Manifest is the content of character.yaml.
type Manifest struct {
	Name string `yaml:"name"`
	// Mesh is a glTF file relative to the library, holding the rest shape.
	Mesh     string `yaml:"mesh"`
	MeshName string `yaml:"mesh_name"`

	morpher.Definition `yaml:",inline"`
}

// Library is an opened character library. Loaded morphs are cached by key.
type Library struct {
	dir      string
	manifest Manifest
	log      *zap.Logger

	mu    sync.Mutex
	cache map[string]morph.Morph

	// Stats
	hits   int
	misses int
}

// Open reads the manifest of the library in dir.
func Open(dir string, log *zap.Logger) (*Library, error) {
	if log == nil {
		log = zap.NewNop()
	}
	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		return nil, fmt.Errorf("reading library manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing library manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if m.Name == "" {
		m.Name = filepath.Base(dir)
	}

	log.Debug("library opened",
		zap.String("library", m.Name),
		zap.Int("bases", len(m.Bases)),
		zap.Int("controls", len(m.Controls)),
		zap.Int("combos", len(m.Combos)))

	return &Library{
		dir:      dir,
		manifest: m,
		log:      log,
		cache:    make(map[string]morph.Morph),
	}, nil
}

// Name returns the library name.
func (l *Library) Name() string { return l.manifest.Name }

// Dir returns the library directory.
func (l *Library) Dir() string { return l.dir }

// Definition returns the control definition of the manifest.
func (l *Library) Definition() morpher.Definition { return l.manifest.Definition }

// Path returns the file base path of a resource key, without extension.
func (l *Library) Path(key string) string {
	return filepath.Join(l.dir, filepath.FromSlash(key))
}

// LoadMorph implements morpher.Loader. Only successful loads are cached, so
// a resource added later is picked up.
func (l *Library) LoadMorph(key string) (morph.Morph, error) {
	l.mu.Lock()
	m, ok := l.cache[key]
	if ok {
		l.hits++
	} else {
		l.misses++
	}
	l.mu.Unlock()
	if ok {
		return m, nil
	}

	m, err := formats.LoadMorph(l.Path(key))
	if err != nil {
		return morph.Morph{}, err
	}

	l.mu.Lock()
	l.cache[key] = m
	l.mu.Unlock()
	return m, nil
}

// Mesh loads the rest mesh named by the manifest.
func (l *Library) Mesh() (*formats.Mesh, error) {
	if l.manifest.Mesh == "" {
		return nil, ErrNoMesh
	}
	return formats.LoadGLTF(filepath.Join(l.dir, l.manifest.Mesh), l.manifest.MeshName)
}

// Geometry loads the rest mesh as geometry.
func (l *Library) Geometry() (*geom.Geometry, error) {
	m, err := l.Mesh()
	if err != nil {
		return nil, err
	}
	return m.Geometry()
}

// NewEngine creates a morph engine over rest backed by this library.
func (l *Library) NewEngine(rest []r3.Vec) (*morpher.Engine, error) {
	return morpher.New(rest, l.manifest.Definition, l, morpher.Options{
		Logger: l.log.With(zap.String("library", l.manifest.Name)),
	})
}

// Clear drops cached morphs and resets statistics.
func (l *Library) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache = make(map[string]morph.Morph)
	l.hits = 0
	l.misses = 0
}

// Stats returns cache statistics.
func (l *Library) Stats() (hits, misses int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hits, l.misses
}
