package assets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/Faultbox/morphfit/pkg/fit"
	"github.com/Faultbox/morphfit/pkg/geom"
)

func uniform(n int, d r3.Vec) []r3.Vec {
	diff := make([]r3.Vec, n)
	for i := range diff {
		diff[i] = d
	}
	return diff
}

func TestManager_AttachAndRefit(t *testing.T) {
	body := geom.UnitCube()
	m := NewManager(body, fit.DefaultParams(), zaptest.NewLogger(t))

	shirt := geom.Grid(2, 1, 0.5)
	a, err := m.Attach("shirt", shirt)
	require.NoError(t, err)
	assert.Equal(t, "shirt@"+shirt.Fingerprint(), a.Key)

	rest, err := m.Fitted("shirt")
	require.NoError(t, err)
	assert.Equal(t, shirt.Verts(), rest)

	require.NoError(t, m.RefitAll(uniform(body.Len(), r3.Vec{Z: 0.1})))
	fitted, err := m.Fitted("shirt")
	require.NoError(t, err)
	for i, v := range fitted {
		assert.InDelta(t, shirt.Vertex(i).Z+0.1, v.Z, 1e-6)
	}

	// Attach computed the binding, refits only hit the cache.
	hits, misses := m.Stats()
	assert.Equal(t, 1, misses)
	assert.Equal(t, 1, hits)
}

func TestManager_ZeroDiffKeepsRest(t *testing.T) {
	body := geom.UnitCube()
	m := NewManager(body, fit.DefaultParams(), nil)
	hat := geom.Grid(1, 1, 1.05)
	_, err := m.Attach("hat", hat)
	require.NoError(t, err)

	fitted, err := m.Refit("hat", make([]r3.Vec, body.Len()))
	require.NoError(t, err)
	assert.Equal(t, hat.Verts(), fitted)
}

func TestManager_Detach(t *testing.T) {
	m := NewManager(geom.UnitCube(), fit.DefaultParams(), nil)
	_, err := m.Attach("a", geom.Grid(1, 1, 0.5))
	require.NoError(t, err)
	_, err = m.Attach("b", geom.Grid(2, 1, 0.5))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, m.Names())

	require.NoError(t, m.Detach("a"))
	assert.Equal(t, []string{"b"}, m.Names())
	assert.ErrorIs(t, m.Detach("a"), ErrUnknownAsset)

	_, err = m.Refit("a", nil)
	assert.ErrorIs(t, err, ErrUnknownAsset)
	_, err = m.Fitted("a")
	assert.ErrorIs(t, err, ErrUnknownAsset)
}

func TestManager_SameTopologySeparateBindings(t *testing.T) {
	body := geom.UnitCube()
	m := NewManager(body, fit.DefaultParams(), nil)

	low := geom.Grid(2, 1, 0.1)
	high := geom.Grid(2, 1, 0.9)
	require.Equal(t, low.Fingerprint(), high.Fingerprint())

	_, err := m.Attach("low", low)
	require.NoError(t, err)
	_, err = m.Attach("high", high)
	require.NoError(t, err)

	_, misses := m.Stats()
	assert.Equal(t, 2, misses)
}

func TestManager_RefitAllWrongLength(t *testing.T) {
	m := NewManager(geom.UnitCube(), fit.DefaultParams(), nil)
	_, err := m.Attach("shirt", geom.Grid(2, 1, 0.5))
	require.NoError(t, err)

	assert.ErrorIs(t, m.RefitAll(make([]r3.Vec, 3)), fit.ErrFieldLength)
}

func TestManager_SetBodyRebinds(t *testing.T) {
	m := NewManager(geom.UnitCube(), fit.DefaultParams(), nil)
	_, err := m.Attach("shirt", geom.Grid(2, 1, 0.5))
	require.NoError(t, err)

	body := geom.Grid(4, 1, 0.5)
	m.SetBody(body)
	require.NoError(t, m.RefitAll(make([]r3.Vec, body.Len())))

	_, misses := m.Stats()
	assert.Equal(t, 2, misses)

	m.Clear()
	hits, misses := m.Stats()
	assert.Zero(t, hits+misses)
}
