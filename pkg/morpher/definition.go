package morpher

import (
	"fmt"
	"strings"
)

// Definition declares the controls of a character. It is usually loaded from
// a library manifest.
type Definition struct {
	Bases        []string     `yaml:"bases"`
	DefaultBasis string       `yaml:"default_basis"`
	Controls     []ControlDef `yaml:"controls"`
	Combos       []ComboDef   `yaml:"combos"`
	Meta         []MetaDef    `yaml:"meta"`
}

// ControlDef declares an L2 slider.
type ControlDef struct {
	Name string  `yaml:"name"`
	Min  float64 `yaml:"min"`
	Max  float64 `yaml:"max"`
	// Bidirectional sliders load "<name>_min" and "<name>_max" resources,
	// unidirectional ones load "<name>".
	Bidirectional bool `yaml:"bidirectional"`
}

// ComboDef declares an N-dimensional combo control. Each part becomes a
// control owned by the combo.
type ComboDef struct {
	Name  string   `yaml:"name"`
	Parts []string `yaml:"parts"`
}

// MetaDef declares a meta control that drives other controls.
type MetaDef struct {
	Name    string       `yaml:"name"`
	Min     float64      `yaml:"min"`
	Max     float64      `yaml:"max"`
	Targets []MetaTarget `yaml:"targets"`
}

// MetaTarget is one control driven by a meta control. Formula is evaluated
// with "v" bound to the meta value; an empty formula means "v".
type MetaTarget struct {
	Control string `yaml:"control"`
	Formula string `yaml:"formula"`
}

// Resource keys handed to a Loader.
const (
	basisPrefix   = "L1/"
	controlPrefix = "L2/"
	comboPrefix   = "combo/"
)

// BasisKey returns the resource key of an L1 shape.
func BasisKey(basis string) string { return basisPrefix + basis }

// ControlKey returns the shared resource key of an L2 morph. side is "" for
// unidirectional controls, otherwise "min" or "max".
func ControlKey(name, side string) string {
	if side == "" {
		return controlPrefix + name
	}
	return controlPrefix + name + "_" + side
}

// BasisControlKey returns the per-basis override key of an L2 morph.
func BasisControlKey(basis, name, side string) string {
	return strings.Replace(ControlKey(name, side), controlPrefix, controlPrefix+basis+"/", 1)
}

// ComboKey returns the resource key of combo variant i.
func ComboKey(name string, i int) string {
	return fmt.Sprintf("%s%s_%d", comboPrefix, name, i)
}

// Validate checks names are unique and references resolve.
func (d *Definition) Validate() error {
	seen := make(map[string]string)
	add := func(name, kind string) error {
		if name == "" {
			return fmt.Errorf("%w: empty %s name", ErrInvalidDefinition, kind)
		}
		if prev, ok := seen[name]; ok {
			return fmt.Errorf("%w: %s %q already declared as %s", ErrInvalidDefinition, kind, name, prev)
		}
		seen[name] = kind
		return nil
	}

	for _, c := range d.Controls {
		if err := add(c.Name, "control"); err != nil {
			return err
		}
	}
	for _, c := range d.Combos {
		if len(c.Parts) == 0 || len(c.Parts) > 8 {
			return fmt.Errorf("%w: combo %q has %d parts", ErrInvalidDefinition, c.Name, len(c.Parts))
		}
		for _, p := range c.Parts {
			if err := add(p, "combo part"); err != nil {
				return err
			}
		}
	}
	for _, m := range d.Meta {
		if err := add(m.Name, "meta"); err != nil {
			return err
		}
	}
	for _, m := range d.Meta {
		for _, t := range m.Targets {
			kind, ok := seen[t.Control]
			if !ok {
				return fmt.Errorf("%w: meta %q drives unknown control %q", ErrInvalidDefinition, m.Name, t.Control)
			}
			if kind == "meta" {
				return fmt.Errorf("%w: meta %q drives meta %q", ErrInvalidDefinition, m.Name, t.Control)
			}
		}
	}

	if d.DefaultBasis != "" {
		found := false
		for _, b := range d.Bases {
			if b == d.DefaultBasis {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: default basis %q not in bases", ErrInvalidDefinition, d.DefaultBasis)
		}
	}
	return nil
}
