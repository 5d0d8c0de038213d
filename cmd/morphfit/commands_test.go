package main

import (
	"testing"

	"github.com/Faultbox/morphfit/internal/config"
	"github.com/Faultbox/morphfit/pkg/fit"
)

func TestParseAssignments(t *testing.T) {
	assigns, rest, err := parseAssignments([]string{"shirt.glb", "belly=0.5", "height=-1e-1", "pants.glb"})
	if err != nil {
		t.Fatalf("parseAssignments failed: %v", err)
	}
	if len(rest) != 2 || rest[0] != "shirt.glb" || rest[1] != "pants.glb" {
		t.Errorf("unexpected plain arguments %v", rest)
	}
	want := []assignment{{"belly", 0.5}, {"height", -0.1}}
	if len(assigns) != len(want) {
		t.Fatalf("expected %d assignments, got %d", len(want), len(assigns))
	}
	for i, a := range want {
		if assigns[i] != a {
			t.Errorf("assignment %d: expected %+v, got %+v", i, a, assigns[i])
		}
	}
}

func TestParseAssignments_Errors(t *testing.T) {
	tests := []struct {
		name string
		arg  string
	}{
		{"empty name", "=1"},
		{"bad value", "belly=much"},
		{"empty value", "belly="},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := parseAssignments([]string{tt.arg}); err == nil {
				t.Errorf("expected error for %q", tt.arg)
			}
		})
	}
}

func TestBindParams(t *testing.T) {
	cfg := config.Default()
	cfg.Fitting.Workers = 3

	p := bindParams(cfg, false, false)
	if !p.Reverse || p.ReverseAll || p.Workers != 3 {
		t.Errorf("unexpected default params %+v", p)
	}

	p = bindParams(cfg, true, false)
	if !p.ReverseAll || p.DistEpsilon != fit.RiggerDistEpsilon {
		t.Errorf("unexpected rigger params %+v", p)
	}

	p = bindParams(cfg, false, true)
	if p.Reverse {
		t.Error("transfer params must skip reverse refinement")
	}
}
