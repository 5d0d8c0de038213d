// Package assets tracks meshes attached to a character and refits them when
// the character shape changes.
package assets

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/Faultbox/morphfit/pkg/fit"
	"github.com/Faultbox/morphfit/pkg/geom"
)

// ErrUnknownAsset is returned for names that are not attached.
var ErrUnknownAsset = errors.New("asset not attached")

// Asset is a mesh that follows the character surface.
type Asset struct {
	Name string
	// Key identifies the binding of the asset. It changes only with topology.
	Key  string
	Mesh *geom.Geometry

	fitted []r3.Vec
}

// Manager owns the attached assets of one character.
type Manager struct {
	fitter *fit.Fitter
	log    *zap.Logger

	assets map[string]*Asset
	mu     sync.RWMutex
}

// NewManager creates a manager fitting assets onto body.
func NewManager(body *geom.Geometry, params fit.Params, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		fitter: fit.NewFitter(body, params, log.Named("fit")),
		log:    log,
		assets: make(map[string]*Asset),
	}
}

// bindingKey combines the asset name with its topology so that two assets
// sharing a topology keep separate bindings.
func bindingKey(name string, mesh *geom.Geometry) string {
	return name + "@" + mesh.Fingerprint()
}

// Attach adds or replaces an asset and builds its binding.
func (m *Manager) Attach(name string, mesh *geom.Geometry) (*Asset, error) {
	a := &Asset{Name: name, Key: bindingKey(name, mesh), Mesh: mesh}
	if _, err := m.fitter.Binding(a.Key, mesh); err != nil {
		return nil, fmt.Errorf("attaching %s: %w", name, err)
	}

	m.mu.Lock()
	if prev, ok := m.assets[name]; ok && prev.Key != a.Key {
		m.fitter.Invalidate(prev.Key)
	}
	m.assets[name] = a
	m.mu.Unlock()

	m.log.Info("asset attached", zap.String("asset", name), zap.Int("vertices", mesh.Len()))
	return a, nil
}

// Detach removes an asset and drops its binding.
func (m *Manager) Detach(name string) error {
	m.mu.Lock()
	a, ok := m.assets[name]
	delete(m.assets, name)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAsset, name)
	}
	m.fitter.Invalidate(a.Key)
	m.log.Info("asset detached", zap.String("asset", name))
	return nil
}

// Get returns the asset called name.
func (m *Manager) Get(name string) (*Asset, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assets[name]
	return a, ok
}

// Names returns the attached asset names in sorted order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.assets))
	for name := range m.assets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Fitted returns the positions of an asset after its last refit, or its
// rest positions before the first one.
func (m *Manager) Fitted(name string) ([]r3.Vec, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, name)
	}
	if a.fitted == nil {
		return a.Mesh.Verts(), nil
	}
	return a.fitted, nil
}

// Refit moves one asset by diff, the character's per-vertex displacement.
func (m *Manager) Refit(name string, diff []r3.Vec) ([]r3.Vec, error) {
	a, ok := m.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, name)
	}
	return m.refit(a, diff)
}

func (m *Manager) refit(a *Asset, diff []r3.Vec) ([]r3.Vec, error) {
	b, err := m.fitter.Binding(a.Key, a.Mesh)
	if err != nil {
		return nil, err
	}
	fitted, err := b.MovePoints(a.Mesh.Verts(), diff)
	if err != nil {
		return nil, fmt.Errorf("refitting %s: %w", a.Name, err)
	}

	m.mu.Lock()
	a.fitted = fitted
	m.mu.Unlock()
	return fitted, nil
}

// RefitAll moves every attached asset by diff. Assets are refitted in
// parallel; the first failure is returned after all finish.
func (m *Manager) RefitAll(diff []r3.Vec) error {
	m.mu.RLock()
	assets := make([]*Asset, 0, len(m.assets))
	for _, a := range m.assets {
		assets = append(assets, a)
	}
	m.mu.RUnlock()

	var g errgroup.Group
	for _, a := range assets {
		a := a
		g.Go(func() error {
			_, err := m.refit(a, diff)
			if err != nil {
				m.log.Error("refit failed", zap.String("asset", a.Name), zap.Error(err))
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	m.log.Debug("assets refitted", zap.Int("count", len(assets)))
	return nil
}

// SetBody replaces the character surface, e.g. after a basis change.
// All bindings are rebuilt on the next refit.
func (m *Manager) SetBody(body *geom.Geometry) {
	m.fitter.SetSource(body)
	m.log.Info("character surface replaced, bindings cleared", zap.Int("vertices", body.Len()))
}

// Clear drops every cached binding while keeping the assets attached.
func (m *Manager) Clear() {
	m.fitter.Clear()
}

// Stats returns binding cache statistics.
func (m *Manager) Stats() (hits, misses int) {
	return m.fitter.Stats()
}
