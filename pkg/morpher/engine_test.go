package morpher

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/Faultbox/morphfit/pkg/morph"
)

// memLoader serves morphs from memory and counts loads per key.
type memLoader struct {
	morphs map[string]morph.Morph
	loads  map[string]int
}

func newMemLoader() *memLoader {
	return &memLoader{morphs: make(map[string]morph.Morph), loads: make(map[string]int)}
}

func (l *memLoader) LoadMorph(key string) (morph.Morph, error) {
	l.loads[key]++
	m, ok := l.morphs[key]
	if !ok {
		return morph.Morph{}, fmt.Errorf("%s: not found", key)
	}
	return m, nil
}

func (l *memLoader) partial(key string, idx uint32, d r3.Vec) {
	m, err := morph.Partial([]uint32{idx}, []r3.Vec{d})
	if err != nil {
		panic(err)
	}
	l.morphs[key] = m
}

func restVerts() []r3.Vec {
	return []r3.Vec{{X: 1, Y: 1, Z: 1}, {X: 2}, {Y: 3}}
}

func newTestEngine(t *testing.T, def Definition, l *memLoader) (*Engine, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.WarnLevel)
	e, err := New(restVerts(), def, l, Options{Logger: zap.New(core)})
	require.NoError(t, err)
	return e, logs
}

func TestEngine_MinMaxScenario(t *testing.T) {
	l := newMemLoader()
	l.partial(ControlKey("width", "min"), 0, r3.Vec{X: -1})
	l.partial(ControlKey("width", "max"), 0, r3.Vec{X: 1})
	def := Definition{Controls: []ControlDef{{Name: "width", Min: -1, Max: 1, Bidirectional: true}}}
	e, _ := newTestEngine(t, def, l)

	e.Set("width", -0.5)
	assert.InDelta(t, 1+0.5, e.Final()[0].X, 1e-12)

	e.Set("width", 0.7)
	assert.InDelta(t, 1+0.7, e.Final()[0].X, 1e-12)
	assert.Equal(t, 0.7, e.Get("width"))
}

func TestEngine_Memoization(t *testing.T) {
	l := newMemLoader()
	l.partial(ControlKey("lift", ""), 1, r3.Vec{Y: 1})
	def := Definition{Controls: []ControlDef{{Name: "lift", Max: 1}}}
	e, _ := newTestEngine(t, def, l)

	e.Set("lift", 0.5)
	first := e.Final()
	second := e.Final()
	assert.Same(t, &first[0], &second[0], "Final should be memoized")
	assert.Equal(t, 1, l.loads[ControlKey("lift", "")])

	e.Set("lift", 1)
	third := e.Final()
	assert.InDelta(t, 1, third[1].Y, 1e-12)
	assert.Equal(t, 1, l.loads[ControlKey("lift", "")], "resolved morphs are reused")
}

func TestEngine_LazyLoading(t *testing.T) {
	l := newMemLoader()
	l.partial(ControlKey("width", "min"), 0, r3.Vec{X: -1})
	l.partial(ControlKey("width", "max"), 0, r3.Vec{X: 1})
	def := Definition{Controls: []ControlDef{{Name: "width", Min: -1, Max: 1, Bidirectional: true}}}
	e, _ := newTestEngine(t, def, l)

	e.Final()
	assert.Zero(t, l.loads[ControlKey("width", "max")], "zero control must not load")

	e.Set("width", morph.Epsilon/2)
	e.Final()
	assert.Zero(t, l.loads[ControlKey("width", "max")], "negligible control must not load")

	e.Set("width", 0.5)
	e.Final()
	assert.Equal(t, 1, l.loads[ControlKey("width", "max")])
	assert.Zero(t, l.loads[ControlKey("width", "min")])
}

func TestEngine_EpsilonSkip(t *testing.T) {
	l := newMemLoader()
	l.partial(ControlKey("lift", ""), 1, r3.Vec{Y: 100})
	def := Definition{Controls: []ControlDef{{Name: "lift", Max: 1}}}
	e, _ := newTestEngine(t, def, l)

	// 0.0009 * 100 would move the vertex by 0.09, but the control is skipped.
	e.Set("lift", 0.0009)
	assert.Equal(t, restVerts(), e.Final())
	assert.Equal(t, 0.0009, e.Get("lift"))
}

func TestEngine_DiffIsFinalMinusBasis(t *testing.T) {
	l := newMemLoader()
	l.morphs[BasisKey("female")] = morph.Full([]r3.Vec{{Z: 1}, {Z: 1}, {Z: 1}})
	l.partial(ControlKey("lift", ""), 2, r3.Vec{Y: 2})
	def := Definition{
		Bases:    []string{"female"},
		Controls: []ControlDef{{Name: "lift", Max: 1}},
	}
	e, _ := newTestEngine(t, def, l)

	// The basis alone produces no diff.
	assert.Equal(t, make([]r3.Vec, 3), e.Diff())

	e.Set("lift", 0.25)
	final := e.Final()
	diff := e.Diff()
	basis := e.BasisVerts()
	for i := range final {
		assert.InDelta(t, final[i].X-basis[i].X, diff[i].X, 1e-12)
		assert.InDelta(t, final[i].Y-basis[i].Y, diff[i].Y, 1e-12)
		assert.InDelta(t, final[i].Z-basis[i].Z, diff[i].Z, 1e-12)
	}
	assert.InDelta(t, 0.5, diff[2].Y, 1e-12)
	assert.InDelta(t, 0, diff[0].Z, 1e-12)
	assert.InDelta(t, 1, final[0].Z, 1e-12)
}

func TestEngine_SelectBasis(t *testing.T) {
	l := newMemLoader()
	l.morphs[BasisKey("a")] = morph.Full([]r3.Vec{{X: 1}, {}, {}})
	l.morphs[BasisKey("b")] = morph.Full([]r3.Vec{{X: 2}, {}, {}})
	l.partial(ControlKey("lift", ""), 1, r3.Vec{Y: 1})
	l.partial(BasisControlKey("b", "lift", ""), 1, r3.Vec{Y: 10})
	def := Definition{
		Bases:        []string{"a", "b"},
		DefaultBasis: "a",
		Controls:     []ControlDef{{Name: "lift", Max: 1}},
	}
	e, logs := newTestEngine(t, def, l)
	e.Set("lift", 1)

	assert.Equal(t, "a", e.Basis())
	assert.InDelta(t, 2, e.Final()[0].X, 1e-12)
	assert.InDelta(t, 1, e.Final()[1].Y, 1e-12)

	require.NoError(t, e.SelectBasis("b"))
	assert.InDelta(t, 3, e.Final()[0].X, 1e-12)
	assert.InDelta(t, 10, e.Final()[1].Y, 1e-12, "per-basis override should apply")

	err := e.SelectBasis("nope")
	assert.ErrorIs(t, err, ErrUnknownBasis)
	assert.Equal(t, "b", e.Basis())
	assert.InDelta(t, 3, e.Final()[0].X, 1e-12)
	assert.Equal(t, 1, logs.FilterMessage("unknown basis, keeping previous").Len())

	require.NoError(t, e.SelectBasis("a"))
	assert.InDelta(t, 1, e.Final()[1].Y, 1e-12)
}

func TestEngine_TopologyMismatch(t *testing.T) {
	l := newMemLoader()
	l.morphs[BasisKey("big")] = morph.Full(make([]r3.Vec, 5))
	l.morphs[BasisKey("ok")] = morph.Full(make([]r3.Vec, 3))
	l.partial(ControlKey("lift", ""), 1, r3.Vec{Y: 1})
	def := Definition{
		Bases:    []string{"big", "ok"},
		Controls: []ControlDef{{Name: "lift", Max: 1}},
	}
	core, _ := observer.New(zapcore.ErrorLevel)
	e, err := New(restVerts(), def, l, Options{Logger: zap.New(core)})
	require.NoError(t, err)

	e.Set("lift", 1)
	assert.ErrorIs(t, e.Status(), ErrTopologyMismatch)
	// The unmorphed mesh is still available.
	assert.Equal(t, restVerts(), e.Final())
	assert.Equal(t, make([]r3.Vec, 3), e.Diff())
	assert.Equal(t, restVerts(), e.BasisVerts())

	require.NoError(t, e.SelectBasis("ok"))
	assert.NoError(t, e.Status())
	assert.InDelta(t, 1, e.Final()[1].Y, 1e-12)
}

func TestEngine_MissingResourceDegrades(t *testing.T) {
	l := newMemLoader()
	l.partial(ControlKey("lift", ""), 1, r3.Vec{Y: 1})
	def := Definition{Controls: []ControlDef{
		{Name: "ghost", Max: 1},
		{Name: "lift", Max: 1},
	}}
	e, logs := newTestEngine(t, def, l)

	e.Set("ghost", 1)
	e.Set("lift", 1)
	final := e.Final()
	assert.InDelta(t, 1, final[1].Y, 1e-12)

	missing := logs.FilterMessage("morph resource missing").All()
	require.Len(t, missing, 1)
	assert.Equal(t, "ghost", missing[0].ContextMap()["control"])

	// The failure is remembered, not retried on every recompute.
	e.Set("ghost", 0.5)
	e.Final()
	assert.Equal(t, 1, l.loads[ControlKey("ghost", "")])
}

func TestEngine_MisfitMorphIgnored(t *testing.T) {
	l := newMemLoader()
	l.partial(ControlKey("bad", ""), 9, r3.Vec{Y: 1})
	def := Definition{Controls: []ControlDef{{Name: "bad", Max: 1}}}
	e, logs := newTestEngine(t, def, l)

	e.Set("bad", 1)
	assert.Equal(t, restVerts(), e.Final())
	assert.Equal(t, 1, logs.FilterMessage("morph does not fit mesh, ignoring").Len())
}

func TestEngine_UnknownControlPanics(t *testing.T) {
	e, _ := newTestEngine(t, Definition{}, newMemLoader())
	assert.Panics(t, func() { e.Set("nope", 1) })
	assert.Panics(t, func() { e.Get("nope") })

	_, ok := e.Lookup("nope")
	assert.False(t, ok)
}

func TestEngine_Combo(t *testing.T) {
	l := newMemLoader()
	for i := 0; i < 4; i++ {
		l.partial(ComboKey("mouth", i), 0, r3.Vec{X: float64(i + 1)})
	}
	def := Definition{Combos: []ComboDef{{Name: "mouth", Parts: []string{"smile", "wide"}}}}
	e, _ := newTestEngine(t, def, l)

	e.Set("smile", 0.5)
	e.Set("wide", 0.3)

	// Weights: variant 1 -> 0.1, variant 3 -> 0.4 (see morph.ComboMorph.Weights).
	want := 1 + 0.1*2 + 0.4*4
	assert.InDelta(t, want, e.Final()[0].X, 1e-12)
	assert.Zero(t, l.loads[ComboKey("mouth", 0)], "zero-weight variants stay unloaded")
	assert.Zero(t, l.loads[ComboKey("mouth", 2)])

	infos := e.Controls()
	require.Len(t, infos, 2)
	assert.Equal(t, "smile", infos[0].Name)
	assert.Equal(t, OwnerCombo, infos[0].Owner)
}

func TestEngine_CombosApplyAfterSliders(t *testing.T) {
	l := newMemLoader()
	l.partial(ControlKey("lift", ""), 0, r3.Vec{Y: 1})
	l.partial(ComboKey("c", 1), 0, r3.Vec{X: 1})
	def := Definition{
		Controls: []ControlDef{{Name: "lift", Max: 1}},
		Combos:   []ComboDef{{Name: "c", Parts: []string{"p"}}},
	}
	e, _ := newTestEngine(t, def, l)
	e.Set("p", 1)
	e.Set("lift", 1)

	// Variant 1 weight: max(1, 0) * 2/2 = 1.
	final := e.Final()
	assert.InDelta(t, 2, final[0].X, 1e-12)
	assert.InDelta(t, 2, final[0].Y, 1e-12)
}

func TestEngine_Meta(t *testing.T) {
	l := newMemLoader()
	l.partial(ControlKey("width", ""), 0, r3.Vec{X: 1})
	l.partial(ControlKey("height", ""), 0, r3.Vec{Y: 1})
	def := Definition{
		Controls: []ControlDef{{Name: "width", Max: 1}, {Name: "height", Max: 1}},
		Meta: []MetaDef{{
			Name: "weight", Min: -1, Max: 1,
			Targets: []MetaTarget{
				{Control: "width", Formula: "max(v, 0) * 0.5"},
				{Control: "height"},
				{Control: "height", Formula: "os.Exit(1)"},
			},
		}},
	}
	e, logs := newTestEngine(t, def, l)
	assert.Equal(t, 1, logs.FilterMessage("meta formula rejected").Len())

	e.Set("width", 0.1)
	e.Set("weight", 0.8)
	assert.InDelta(t, 0.5, e.Get("width"), 1e-12)
	assert.InDelta(t, 0.8, e.Get("height"), 1e-12)
	assert.Equal(t, 0.8, e.Get("weight"))

	e.Set("weight", -1)
	assert.InDelta(t, 0.1, e.Get("width"), 1e-12)
	assert.InDelta(t, -1, e.Get("height"), 1e-12)
}

func TestEngine_Reset(t *testing.T) {
	l := newMemLoader()
	l.partial(ControlKey("lift", ""), 1, r3.Vec{Y: 1})
	def := Definition{Controls: []ControlDef{{Name: "lift", Max: 1}}}
	e, _ := newTestEngine(t, def, l)

	e.Set("lift", 1)
	e.Final()
	e.Reset()
	assert.Zero(t, e.Get("lift"))
	assert.Equal(t, restVerts(), e.Final())
}

func TestDefinition_Validate(t *testing.T) {
	tests := []struct {
		name string
		def  Definition
		ok   bool
	}{
		{"empty", Definition{}, true},
		{"duplicate control", Definition{Controls: []ControlDef{{Name: "a"}, {Name: "a"}}}, false},
		{"combo part collides", Definition{
			Controls: []ControlDef{{Name: "a"}},
			Combos:   []ComboDef{{Name: "c", Parts: []string{"a"}}},
		}, false},
		{"combo without parts", Definition{Combos: []ComboDef{{Name: "c"}}}, false},
		{"meta unknown target", Definition{Meta: []MetaDef{{Name: "m", Targets: []MetaTarget{{Control: "x"}}}}}, false},
		{"meta drives meta", Definition{Meta: []MetaDef{
			{Name: "m"},
			{Name: "n", Targets: []MetaTarget{{Control: "m"}}},
		}}, false},
		{"bad default basis", Definition{Bases: []string{"a"}, DefaultBasis: "b"}, false},
		{"empty name", Definition{Controls: []ControlDef{{}}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.def.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, ErrInvalidDefinition), "got %v", err)
			}
		})
	}
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "L1/female", BasisKey("female"))
	assert.Equal(t, "L2/nose", ControlKey("nose", ""))
	assert.Equal(t, "L2/nose_min", ControlKey("nose", "min"))
	assert.Equal(t, "L2/female/nose_max", BasisControlKey("female", "nose", "max"))
	assert.Equal(t, "combo/mouth_3", ComboKey("mouth", 3))
}

func TestOwner_String(t *testing.T) {
	assert.Equal(t, "slider", OwnerSlider.String())
	assert.Equal(t, "meta", OwnerMeta.String())
	assert.Equal(t, "Unknown(7)", Owner(7).String())
}
