// Package morpher composes a character's base shape and morph controls into
// a final vertex array.
//
// An Engine assumes a single editor: it has no internal locking, and callers
// that share one across goroutines must synchronize access themselves.
package morpher

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/Faultbox/morphfit/pkg/expr"
	"github.com/Faultbox/morphfit/pkg/morph"
)

// Engine errors.
var (
	ErrUnknownBasis      = errors.New("unknown basis")
	ErrUnknownControl    = errors.New("unknown control")
	ErrTopologyMismatch  = errors.New("basis topology does not match mesh")
	ErrInvalidDefinition = errors.New("invalid morph definition")
)

// Loader resolves morph resources by key. A failed load makes the morph
// contribute nothing.
type Loader interface {
	LoadMorph(key string) (morph.Morph, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(key string) (morph.Morph, error)

// LoadMorph calls f(key).
func (f LoaderFunc) LoadMorph(key string) (morph.Morph, error) { return f(key) }

// Options configure an Engine.
type Options struct {
	Logger *zap.Logger
}

// Owner identifies what kind of morph a control drives.
type Owner uint8

// Control owners.
const (
	OwnerSlider Owner = iota
	OwnerCombo
	OwnerMeta
)

// String returns the owner name.
func (o Owner) String() string {
	switch o {
	case OwnerSlider:
		return "slider"
	case OwnerCombo:
		return "combo"
	case OwnerMeta:
		return "meta"
	default:
		return fmt.Sprintf("Unknown(%d)", o)
	}
}

// ControlInfo describes one control for enumeration.
type ControlInfo struct {
	Name     string
	Owner    Owner
	Min, Max float64
	Value    float64
}

type control struct {
	name     string
	owner    Owner
	min, max float64
	value    float64
	meta     *metaControl
}

// lazyMorph is a morph resource resolved on first use.
type lazyMorph struct {
	resolved bool
	m        morph.Morph
}

type slider struct {
	ctl   *control
	def   *morph.MinMaxMorph
	bidir bool
	sides [2]lazyMorph
}

type combo struct {
	def      *morph.ComboMorph
	parts    []*control
	variants []lazyMorph
}

type metaTarget struct {
	ctl     *control
	formula *expr.Expr
}

type metaControl struct {
	targets []metaTarget
}

// Engine composes a basis shape with slider and combo morphs.
type Engine struct {
	log    *zap.Logger
	loader Loader

	rest      []r3.Vec
	bases     []string
	basisName string
	basis     []r3.Vec // nil until resolved
	status    error

	controls map[string]*control
	names    []string
	sliders  []*slider
	combos   []*combo

	valid bool
	final []r3.Vec
	diff  []r3.Vec
}

// New creates an Engine over the live mesh's unmorphed vertex positions.
func New(rest []r3.Vec, def Definition, loader Loader, opts Options) (*Engine, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if loader == nil {
		loader = LoaderFunc(func(key string) (morph.Morph, error) {
			return morph.Morph{}, fmt.Errorf("no loader for %s", key)
		})
	}

	e := &Engine{
		log:      opts.Logger,
		loader:   loader,
		rest:     append([]r3.Vec(nil), rest...),
		bases:    append([]string(nil), def.Bases...),
		controls: make(map[string]*control),
	}

	for _, cd := range def.Controls {
		ctl := e.addControl(cd.Name, OwnerSlider, cd.Min, cd.Max)
		e.sliders = append(e.sliders, &slider{
			ctl:   ctl,
			def:   &morph.MinMaxMorph{Name: cd.Name, Min: cd.Min, Max: cd.Max},
			bidir: cd.Bidirectional,
		})
	}

	for _, cd := range def.Combos {
		c := &combo{
			def: &morph.ComboMorph{
				Name:  cd.Name,
				Parts: append([]string(nil), cd.Parts...),
				Data:  make([]morph.Morph, 1<<len(cd.Parts)),
			},
			variants: make([]lazyMorph, 1<<len(cd.Parts)),
		}
		for _, p := range cd.Parts {
			c.parts = append(c.parts, e.addControl(p, OwnerCombo, -1, 1))
		}
		e.combos = append(e.combos, c)
	}

	for _, md := range def.Meta {
		ctl := e.addControl(md.Name, OwnerMeta, md.Min, md.Max)
		ctl.meta = &metaControl{}
		for _, t := range md.Targets {
			src := t.Formula
			if src == "" {
				src = "v"
			}
			f, err := expr.Parse(src)
			if err != nil {
				// A rejected formula contributes nothing.
				e.log.Warn("meta formula rejected",
					zap.String("meta", md.Name),
					zap.String("control", t.Control),
					zap.Error(err))
				f = nil
			}
			ctl.meta.targets = append(ctl.meta.targets, metaTarget{ctl: e.controls[t.Control], formula: f})
		}
	}

	sort.Strings(e.names)

	switch {
	case def.DefaultBasis != "":
		e.basisName = def.DefaultBasis
	case len(def.Bases) > 0:
		e.basisName = def.Bases[0]
	}
	return e, nil
}

func (e *Engine) addControl(name string, owner Owner, lo, hi float64) *control {
	ctl := &control{name: name, owner: owner, min: lo, max: hi}
	e.controls[name] = ctl
	e.names = append(e.names, name)
	return ctl
}

// Bases returns the selectable basis names.
func (e *Engine) Bases() []string { return e.bases }

// Basis returns the active basis name.
func (e *Engine) Basis() string { return e.basisName }

// SelectBasis switches the active base shape. Unknown names are reported and
// leave the previous basis in effect.
func (e *Engine) SelectBasis(name string) error {
	found := false
	for _, b := range e.bases {
		if b == name {
			found = true
			break
		}
	}
	if !found {
		e.log.Warn("unknown basis, keeping previous", zap.String("basis", name), zap.String("current", e.basisName))
		return fmt.Errorf("%w: %s", ErrUnknownBasis, name)
	}

	if name == e.basisName {
		return nil
	}
	e.basisName = name
	e.basis = nil
	e.status = nil
	// L2 resources may have per-basis overrides, so resolve them again.
	for _, s := range e.sliders {
		s.sides = [2]lazyMorph{}
		s.def.Morphs = [2]morph.Morph{}
	}
	e.invalidate()
	return nil
}

// Status reports a blocking error such as a topology mismatch. While it is
// non-nil Final returns the unmorphed mesh.
func (e *Engine) Status() error {
	e.resolveBasis()
	return e.status
}

func (e *Engine) resolveBasis() {
	if e.basis != nil || e.status != nil {
		return
	}
	basis := append([]r3.Vec(nil), e.rest...)
	if e.basisName == "" {
		e.basis = basis
		return
	}

	m, err := e.loader.LoadMorph(BasisKey(e.basisName))
	if err != nil {
		e.log.Warn("basis resource missing, using rest shape",
			zap.String("basis", e.basisName), zap.Error(err))
		e.basis = basis
		return
	}
	if err := m.Validate(len(e.rest)); err != nil {
		e.status = fmt.Errorf("%w: basis %s: %v", ErrTopologyMismatch, e.basisName, err)
		e.log.Error("basis topology mismatch", zap.String("basis", e.basisName), zap.Error(err))
		return
	}
	m.Apply(basis, 1)
	e.basis = basis
}

// Set updates a control value. Meta controls propagate f(new)-f(old) to the
// controls they drive. Set panics on unknown names.
func (e *Engine) Set(name string, value float64) {
	ctl := e.mustControl(name)
	if ctl.meta != nil {
		for _, t := range ctl.meta.targets {
			if t.formula == nil {
				continue
			}
			d := t.formula.Eval(expr.Env{"v": value}) - t.formula.Eval(expr.Env{"v": ctl.value})
			t.ctl.value += d
		}
	}
	ctl.value = value
	e.invalidate()
}

// Get returns a control value. Get panics on unknown names.
func (e *Engine) Get(name string) float64 {
	return e.mustControl(name).value
}

// Lookup returns a control value and whether the control exists.
func (e *Engine) Lookup(name string) (float64, bool) {
	ctl, ok := e.controls[name]
	if !ok {
		return 0, false
	}
	return ctl.value, true
}

func (e *Engine) mustControl(name string) *control {
	ctl, ok := e.controls[name]
	if !ok {
		panic(fmt.Sprintf("morpher: %v: %q", ErrUnknownControl, name))
	}
	return ctl
}

// Controls enumerates all controls sorted by name.
func (e *Engine) Controls() []ControlInfo {
	out := make([]ControlInfo, 0, len(e.names))
	for _, n := range e.names {
		c := e.controls[n]
		out = append(out, ControlInfo{Name: c.name, Owner: c.owner, Min: c.min, Max: c.max, Value: c.value})
	}
	return out
}

// Reset sets every control to 0.
func (e *Engine) Reset() {
	for _, c := range e.controls {
		c.value = 0
	}
	e.invalidate()
}

func (e *Engine) invalidate() {
	e.valid = false
}

// Final returns the composed vertex array: basis, then sliders, then combos.
// The returned slice is owned by the Engine and must not be modified; it
// stays valid until the next change.
func (e *Engine) Final() []r3.Vec {
	if e.valid {
		return e.final
	}
	e.resolveBasis()

	final := make([]r3.Vec, len(e.rest))
	if e.status != nil {
		copy(final, e.rest)
	} else {
		copy(final, e.basis)
		for _, s := range e.sliders {
			e.applySlider(final, s)
		}
		for _, c := range e.combos {
			e.applyCombo(final, c)
		}
	}

	ref := e.rest
	if e.status == nil {
		ref = e.basis
	}
	diff := make([]r3.Vec, len(final))
	for i := range final {
		diff[i] = r3.Sub(final[i], ref[i])
	}

	e.final = final
	e.diff = diff
	e.valid = true
	return e.final
}

// Diff returns Final minus the unmorphed basis, or minus rest while Status
// reports an error. Ownership rules match Final.
func (e *Engine) Diff() []r3.Vec {
	e.Final()
	return e.diff
}

// BasisVerts returns the unmorphed positions of the active basis, the
// reference Diff is measured against. The slice must not be modified.
func (e *Engine) BasisVerts() []r3.Vec {
	e.resolveBasis()
	if e.status != nil {
		return e.rest
	}
	return e.basis
}

func (e *Engine) applySlider(verts []r3.Vec, s *slider) {
	v := s.ctl.value
	side := 1
	scale := v
	if v < 0 {
		side, scale = 0, -v
	}
	if math.Abs(scale) < morph.Epsilon {
		return
	}
	if side == 0 && !s.bidir {
		return
	}
	if !s.sides[side].resolved {
		s.sides[side] = lazyMorph{resolved: true, m: e.loadSlider(s, side)}
		s.def.Morphs[side] = s.sides[side].m
	}
	s.def.Apply(verts, v)
}

func (e *Engine) loadSlider(s *slider, sideIdx int) morph.Morph {
	side := ""
	if s.bidir {
		side = [2]string{"min", "max"}[sideIdx]
	}
	keys := []string{ControlKey(s.def.Name, side)}
	if e.basisName != "" {
		keys = append([]string{BasisControlKey(e.basisName, s.def.Name, side)}, keys...)
	}

	var lastErr error
	for _, key := range keys {
		m, err := e.loader.LoadMorph(key)
		if err != nil {
			lastErr = err
			continue
		}
		return e.checked(s.def.Name, key, m)
	}
	e.log.Warn("morph resource missing",
		zap.String("control", s.def.Name),
		zap.String("path", keys[len(keys)-1]),
		zap.Error(lastErr))
	return morph.Morph{}
}

func (e *Engine) applyCombo(verts []r3.Vec, c *combo) {
	vals := make([]float64, len(c.parts))
	for i, p := range c.parts {
		vals[i] = p.value
	}
	for i, w := range c.def.Weights(vals) {
		if w < morph.Epsilon {
			continue
		}
		if !c.variants[i].resolved {
			key := ComboKey(c.def.Name, i)
			m, err := e.loader.LoadMorph(key)
			if err != nil {
				e.log.Warn("morph resource missing",
					zap.String("control", c.def.Name),
					zap.String("path", key),
					zap.Error(err))
				m = morph.Morph{}
			} else {
				m = e.checked(c.def.Name, key, m)
			}
			c.variants[i] = lazyMorph{resolved: true, m: m}
			c.def.Data[i] = m
		}
		c.def.Data[i].Apply(verts, w)
	}
}

// checked drops morphs that do not fit the mesh.
func (e *Engine) checked(control, key string, m morph.Morph) morph.Morph {
	if err := m.Validate(len(e.rest)); err != nil {
		e.log.Warn("morph does not fit mesh, ignoring",
			zap.String("control", control),
			zap.String("path", key),
			zap.Error(err))
		return morph.Morph{}
	}
	return m
}
