// Package fit computes sparse weighted correspondences ("bindings") between
// a character surface and an asset mesh, and transfers displacements through
// them.
package fit

// Default tuning constants. They were tuned against real content and are
// kept as-is; override them through Params.
const (
	DefaultNeighbors      = 16
	DefaultSurfaceRadius  = 0.1
	DefaultThresholdRatio = 32
	DefaultDistEpsilon    = 1e-6
	RiggerDistEpsilon     = 1e-12
)

// Params configures ComputeBinding. The zero value is not useful; start from
// DefaultParams, RiggerParams or TransferParams.
type Params struct {
	// Neighbors is the number of nearest source vertices seeding each row.
	Neighbors int
	// SurfaceRadius limits direct and reverse surface projection.
	SurfaceRadius float64
	// ThresholdRatio drops entries lighter than rowMax/ThresholdRatio.
	ThresholdRatio float64
	// DistEpsilon floors squared distances before inversion.
	DistEpsilon float64
	// Surface enables direct projection onto the source surface.
	Surface bool
	// Reverse enables projecting source vertices back onto the target surface.
	Reverse bool
	// ReverseAll projects every source vertex with an unbounded radius
	// instead of only the vertices gathered for the target, and keeps each
	// source vertex's strongest entry through thresholding.
	ReverseAll bool
	// Subset restricts reverse projection to these source vertices.
	Subset []int
	// Workers bounds parallelism; 0 uses GOMAXPROCS.
	Workers int
}

// DefaultParams returns the parameters for character-to-asset bindings.
func DefaultParams() Params {
	return Params{
		Neighbors:      DefaultNeighbors,
		SurfaceRadius:  DefaultSurfaceRadius,
		ThresholdRatio: DefaultThresholdRatio,
		DistEpsilon:    DefaultDistEpsilon,
		Surface:        true,
		Reverse:        true,
	}
}

// RiggerParams returns parameters that guarantee every source vertex is
// projected, used when moving joint positions across topologies.
func RiggerParams() Params {
	p := DefaultParams()
	p.DistEpsilon = RiggerDistEpsilon
	p.Reverse = true
	p.ReverseAll = true
	return p
}

// TransferParams returns parameters for one-shot weight transfer toward a
// mesh that may cover only part of the source.
func TransferParams() Params {
	p := DefaultParams()
	p.Reverse = false
	return p
}

func (p Params) normalized() Params {
	if p.Neighbors <= 0 {
		p.Neighbors = DefaultNeighbors
	}
	if p.ThresholdRatio <= 0 {
		p.ThresholdRatio = DefaultThresholdRatio
	}
	if p.DistEpsilon <= 0 {
		p.DistEpsilon = DefaultDistEpsilon
	}
	return p
}
