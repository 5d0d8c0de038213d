package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"

	"github.com/Faultbox/morphfit/internal/assets"
	"github.com/Faultbox/morphfit/internal/config"
	"github.com/Faultbox/morphfit/internal/library"
	"github.com/Faultbox/morphfit/internal/logger"
	"github.com/Faultbox/morphfit/pkg/fit"
	"github.com/Faultbox/morphfit/pkg/formats"
	"github.com/Faultbox/morphfit/pkg/geom"
	"github.com/Faultbox/morphfit/pkg/morph"
	"github.com/Faultbox/morphfit/pkg/morpher"
	"github.com/Faultbox/morphfit/pkg/weights"
)

// diffTolerance drops displacements too small to matter when writing morphs.
const diffTolerance = 1e-6

func cmdInfo(args []string) {
	fs, flags := newFlagSet("info")
	fs.Parse(args)
	cfg := setup(flags)

	lib, err := library.Open(cfg.Morphing.LibraryDir, logger.Named("library"))
	if err != nil {
		fatal(err)
	}
	def := lib.Definition()

	fmt.Printf("Library: %s\n", lib.Name())
	fmt.Printf("Dir:     %s\n", lib.Dir())
	fmt.Printf("Bases:   %s\n", strings.Join(def.Bases, ", "))

	body, err := lib.Geometry()
	if errors.Is(err, library.ErrNoMesh) {
		fmt.Println("Mesh:    (none)")
		fmt.Printf("Controls: %d sliders, %d combos, %d meta\n", len(def.Controls), len(def.Combos), len(def.Meta))
		return
	}
	if err != nil {
		fatal(err)
	}
	b := body.Bounds()
	fmt.Printf("Mesh:    %d vertices, %d faces\n", body.Len(), len(body.Faces()))
	fmt.Printf("Bounds:  (%.3f, %.3f, %.3f) - (%.3f, %.3f, %.3f)\n",
		b.Min.X, b.Min.Y, b.Min.Z, b.Max.X, b.Max.Y, b.Max.Z)

	e, err := lib.NewEngine(body.Verts())
	if err != nil {
		fatal(err)
	}
	fmt.Printf("Basis:   %s\n", e.Basis())
	fmt.Println()
	fmt.Println("Controls:")
	for _, c := range e.Controls() {
		fmt.Printf("  %-24s %-7s [%g, %g]\n", c.Name, c.Owner, c.Min, c.Max)
	}
}

func cmdMorph(args []string) {
	fs, flags := newFlagSet("morph")
	out := fs.String("o", "", "Output base path (extension is chosen by layout)")
	fs.Parse(args)

	if *out == "" {
		usage("morph -o <out> [name=value ...]")
	}
	cfg := setup(flags)

	assigns, rest, err := parseAssignments(fs.Args())
	if err != nil {
		fatal(err)
	}
	if len(rest) > 0 {
		fatal(fmt.Errorf("unexpected arguments: %s", strings.Join(rest, " ")))
	}

	_, e := shapeCharacter(cfg, assigns)
	m := morph.FromDiff(e.Diff(), diffTolerance)
	if m.IsEmpty() {
		m = morph.Full(e.Diff())
	}
	path, err := formats.SaveMorph(*out, m)
	if err != nil {
		fatal(err)
	}
	fmt.Printf("Wrote %s morph (%d deltas) to %s\n", m.Kind(), m.Len(), path)
}

func cmdBind(args []string) {
	fs, flags := newFlagSet("bind")
	out := fs.String("o", "out.bind", "Output binding file")
	rigger := fs.Bool("rigger", false, "Project every body vertex (for joint positions)")
	transfer := fs.Bool("transfer", false, "Skip reverse refinement (for weight transfer)")
	bodyMesh := fs.String("body-mesh", "", "Mesh name inside the body file")
	assetMesh := fs.String("asset-mesh", "", "Mesh name inside the asset file")
	fs.Parse(args)

	if fs.NArg() < 2 {
		usage("bind [-rigger] -o <out.bind> <body.glb> <asset.glb>")
	}
	cfg := setup(flags)

	body := loadGeometry(fs.Arg(0), *bodyMesh)
	asset := loadGeometry(fs.Arg(1), *assetMesh)

	p := bindParams(cfg, *rigger, *transfer)
	start := time.Now()
	b, err := fit.ComputeBinding(body, asset, p)
	if err != nil {
		fatal(err)
	}
	logger.Info("binding computed", zap.Duration("elapsed", time.Since(start)))

	if err := formats.SaveBinding(*out, b); err != nil {
		fatal(err)
	}

	s := b.Stats()
	fmt.Printf("Binding: %s\n", *out)
	fmt.Printf("Rows:    %d\n", s.Rows)
	fmt.Printf("Entries: %d\n", s.Entries)
	fmt.Printf("Row:     min %d, max %d, avg %.2f\n", s.MinRow, s.MaxRow, s.AvgRow)
	fmt.Printf("Body:    %d of %d vertices referenced\n", s.ReferencedSource, body.Len())
	if missing := b.Coverage(); *rigger && len(missing) > 0 {
		fmt.Fprintf(os.Stderr, "warning: %d body vertices not covered\n", len(missing))
	}
}

func cmdFit(args []string) {
	fs, flags := newFlagSet("fit")
	out := fs.String("o", ".", "Output directory for fitted positions")
	diffPath := fs.String("diff", "", "Morph file to use instead of control values")
	fs.Parse(args)

	assigns, paths, err := parseAssignments(fs.Args())
	if err != nil {
		fatal(err)
	}
	if len(paths) == 0 {
		usage("fit [-o dir] [-diff morph] <asset.glb>... [name=value ...]")
	}
	cfg := setup(flags)

	var body *geom.Geometry
	var diff []r3.Vec
	if *diffPath != "" {
		if len(assigns) > 0 {
			fatal(errors.New("control values and -diff are mutually exclusive"))
		}
		body, _ = shapeCharacter(cfg, nil)
		m, err := formats.LoadMorph(strings.TrimSuffix(*diffPath, filepath.Ext(*diffPath)))
		if err != nil {
			fatal(err)
		}
		if err := m.Validate(body.Len()); err != nil {
			fatal(err)
		}
		diff = m.Dense(body.Len())
	} else {
		var e *morpher.Engine
		body, e = shapeCharacter(cfg, assigns)
		diff = e.Diff()
	}

	mgr := assets.NewManager(body, cfg.FitParams(), logger.Named("assets"))
	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		if _, err := mgr.Attach(name, loadGeometry(path, "")); err != nil {
			fatal(err)
		}
	}
	if err := mgr.RefitAll(diff); err != nil {
		fatal(err)
	}

	if err := os.MkdirAll(*out, 0755); err != nil {
		fatal(err)
	}
	for _, name := range mgr.Names() {
		fitted, err := mgr.Fitted(name)
		if err != nil {
			fatal(err)
		}
		path := filepath.Join(*out, name+".npy")
		if err := formats.SavePositions(path, fitted); err != nil {
			fatal(err)
		}
		fmt.Printf("%-24s %6d vertices -> %s\n", name, len(fitted), path)
	}
}

func cmdTransfer(args []string) {
	fs, flags := newFlagSet("transfer")
	out := fs.String("o", "weights.npz", "Output weight map")
	minWeight := fs.Float64("min-weight", weights.DefaultMinWeight, "Drop transferred weights below this")
	normalize := fs.Bool("normalize", true, "Normalize per-vertex weight sums")
	fs.Parse(args)

	if fs.NArg() < 3 {
		usage("transfer -o <out.npz> <body.glb> <asset.glb> <weights.npz>")
	}
	cfg := setup(flags)

	body := loadGeometry(fs.Arg(0), "")
	asset := loadGeometry(fs.Arg(1), "")
	src, err := formats.ParseWeightMapFile(fs.Arg(2))
	if err != nil {
		fatal(err)
	}

	dst, err := weights.TransferMesh(body, asset, src, weights.Options{
		MinWeight: *minWeight,
		Normalize: *normalize,
		Workers:   cfg.Fitting.Workers,
	})
	if err != nil {
		fatal(err)
	}
	if err := formats.SaveWeightMap(*out, dst); err != nil {
		fatal(err)
	}
	fmt.Printf("Transferred %d groups (%d entries) to %s\n", dst.Len(), dst.Entries(), *out)
}

func cmdConfig(args []string) {
	fs, flags := newFlagSet("config")
	save := fs.String("save", "", "Write the effective config to this path")
	saveUser := fs.Bool("save-user", false, "Write the effective config to the user config directory")
	fs.Parse(args)
	cfg := setup(flags)

	switch {
	case *save != "":
		if err := cfg.SaveTo(*save); err != nil {
			fatal(err)
		}
		fmt.Printf("Saved config to %s\n", *save)
	case *saveUser:
		if err := cfg.Save(); err != nil {
			fatal(err)
		}
		fmt.Printf("Saved config to %s\n", config.UserPath())
	default:
		data, err := yaml.Marshal(cfg)
		if err != nil {
			fatal(err)
		}
		os.Stdout.Write(data)
	}
}

// assignment is one name=value control setting from the command line.
type assignment struct {
	name  string
	value float64
}

// parseAssignments splits args into control assignments and plain
// arguments, keeping their order.
func parseAssignments(args []string) ([]assignment, []string, error) {
	var assigns []assignment
	var rest []string
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		if !ok {
			rest = append(rest, arg)
			continue
		}
		if name == "" {
			return nil, nil, fmt.Errorf("empty control name in %q", arg)
		}
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("control %s: invalid value %q", name, value)
		}
		assigns = append(assigns, assignment{name: name, value: v})
	}
	return assigns, rest, nil
}

// bindParams derives binding parameters from the config and mode flags.
func bindParams(cfg *config.Config, rigger, transfer bool) fit.Params {
	p := cfg.FitParams()
	switch {
	case rigger:
		p.DistEpsilon = fit.RiggerDistEpsilon
		p.Reverse = true
		p.ReverseAll = true
	case transfer:
		p.Reverse = false
	}
	return p
}

// applyAssignments sets controls in order. Unknown names are errors.
func applyAssignments(e *morpher.Engine, assigns []assignment) error {
	for _, a := range assigns {
		if _, ok := e.Lookup(a.name); !ok {
			return fmt.Errorf("%w: %s", morpher.ErrUnknownControl, a.name)
		}
		e.Set(a.name, a.value)
	}
	return nil
}

// shapeCharacter opens the configured library and applies assigns to a new
// engine over its rest mesh. The returned geometry is the unmorphed basis,
// the surface the engine's diff is measured against.
func shapeCharacter(cfg *config.Config, assigns []assignment) (*geom.Geometry, *morpher.Engine) {
	lib, err := library.Open(cfg.Morphing.LibraryDir, logger.Named("library"))
	if err != nil {
		fatal(err)
	}
	body, err := lib.Geometry()
	if err != nil {
		fatal(err)
	}
	e, err := lib.NewEngine(body.Verts())
	if err != nil {
		fatal(err)
	}
	if cfg.Morphing.Basis != "" {
		if err := e.SelectBasis(cfg.Morphing.Basis); err != nil {
			fatal(err)
		}
	}
	if err := e.Status(); err != nil {
		fatal(err)
	}
	if err := applyAssignments(e, assigns); err != nil {
		fatal(err)
	}
	basis, err := geom.New(e.BasisVerts(), body.Faces())
	if err != nil {
		fatal(err)
	}

	hits, misses := lib.Stats()
	logger.Debug("character shaped",
		zap.String("basis", e.Basis()),
		zap.Int("controls", len(assigns)),
		zap.Int("cache_hits", hits),
		zap.Int("cache_misses", misses))
	return basis, e
}

// loadGeometry reads a glTF mesh as geometry.
func loadGeometry(path, name string) *geom.Geometry {
	m, err := formats.LoadGLTF(path, name)
	if err != nil {
		fatal(err)
	}
	g, err := m.Geometry()
	if err != nil {
		fatal(fmt.Errorf("%s: %w", path, err))
	}
	return g
}
