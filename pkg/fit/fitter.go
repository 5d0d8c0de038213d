package fit

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/Faultbox/morphfit/pkg/geom"
)

// Fitter owns the bindings of one source mesh onto its attached assets.
// Bindings are keyed by an opaque asset identity, typically the asset's
// topology fingerprint, so position edits never trigger a rebind.
type Fitter struct {
	source *geom.Geometry
	params Params
	log    *zap.Logger

	mu       sync.RWMutex
	bindings map[string]*Binding

	// Stats
	hits   int
	misses int
}

// NewFitter creates a fitter for source. A nil logger disables logging.
func NewFitter(source *geom.Geometry, params Params, log *zap.Logger) *Fitter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Fitter{
		source:   source,
		params:   params,
		log:      log,
		bindings: make(map[string]*Binding),
	}
}

// Source returns the geometry bindings are computed against.
func (f *Fitter) Source() *geom.Geometry {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.source
}

// SetSource replaces the source geometry and drops every cached binding.
func (f *Fitter) SetSource(source *geom.Geometry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.source = source
	f.bindings = make(map[string]*Binding)
}

// Binding returns the cached binding for key, computing it from target on
// first use.
func (f *Fitter) Binding(key string, target *geom.Geometry) (*Binding, error) {
	f.mu.RLock()
	b, ok := f.bindings[key]
	source := f.source
	f.mu.RUnlock()
	if ok {
		f.count(true)
		return b, nil
	}
	f.count(false)

	start := time.Now()
	b, err := ComputeBinding(source, target, f.params)
	if err != nil {
		f.log.Error("binding failed", zap.String("asset", key), zap.Error(err))
		return nil, fmt.Errorf("binding %s: %w", key, err)
	}
	st := b.Stats()
	f.log.Debug("binding computed",
		zap.String("asset", key),
		zap.Int("rows", st.Rows),
		zap.Int("entries", st.Entries),
		zap.Duration("elapsed", time.Since(start)))

	f.mu.Lock()
	defer f.mu.Unlock()
	// The source may have been swapped while computing.
	if f.source != source {
		return b, nil
	}
	if prev, ok := f.bindings[key]; ok {
		return prev, nil
	}
	f.bindings[key] = b
	return b, nil
}

// Fit transfers diff, a per-source-vertex displacement, onto target.
func (f *Fitter) Fit(key string, target *geom.Geometry, diff []r3.Vec) ([]r3.Vec, error) {
	b, err := f.Binding(key, target)
	if err != nil {
		return nil, err
	}
	return b.Apply(diff)
}

// Cached reports whether a binding is cached for key.
func (f *Fitter) Cached(key string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.bindings[key]
	return ok
}

// Invalidate drops the binding for key.
func (f *Fitter) Invalidate(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.bindings, key)
}

// Clear drops every binding and resets statistics.
func (f *Fitter) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bindings = make(map[string]*Binding)
	f.hits = 0
	f.misses = 0
}

// Stats returns cache statistics.
func (f *Fitter) Stats() (hits, misses int) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.hits, f.misses
}

func (f *Fitter) count(hit bool) {
	f.mu.Lock()
	if hit {
		f.hits++
	} else {
		f.misses++
	}
	f.mu.Unlock()
}
