package steering

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/michellab/AMMo/internal/plumed"
	"github.com/michellab/AMMo/internal/protocol"
	"github.com/michellab/AMMo/internal/shell"
)

func resolveFixture(t *testing.T, fx fixture, text string) ([]ResolvedCV, *Structure) {
	t.Helper()
	p, err := protocol.Parse(strings.NewReader(text))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	st, err := LoadStructure(fx.structure)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	cvs, err := ResolveCVs(p.CVs, st, fx.inputDir)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	return cvs, st
}

func TestPlumedProbe(t *testing.T) {
	fx := newFixture(t)
	cvs, st := resolveFixture(t, fx, compileProtocol)

	scratch := t.TempDir()
	rec := &shell.Recorder{Handler: func(c shell.Command) (string, error) {
		colvar := "#! FIELDS time d1 t1 r1 c1\n 0.0 0.85 1.1 0.21 1.9\n"
		return "", os.WriteFile(filepath.Join(c.Dir, "COLVAR"), []byte(colvar), 0o644)
	}}
	probe := NewPlumedProbe(rec)
	probe.ScratchDir = scratch

	values, err := Evaluate(context.Background(), probe, cvs, st)
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if values["r1"] != 0.21 || values["c1"] != 1.9 {
		t.Errorf("unexpected baselines: %v", values)
	}

	cmds := rec.Commands()
	if len(cmds) != 1 {
		t.Fatalf("expected one probe run, got %d", len(cmds))
	}
	args := strings.Join(cmds[0].Args, " ")
	if cmds[0].Name != "plumed" || !strings.HasPrefix(args, "driver --mf_pdb ") || !strings.HasSuffix(args, "--plumed "+probeInput) {
		t.Errorf("unexpected command: %s", cmds[0].String())
	}

	input, err := plumed.ParseFile(filepath.Join(scratch, probeInput))
	if err != nil {
		t.Fatalf("probe input unreadable: %v", err)
	}
	if input.Restraint != nil {
		t.Error("probe input must not bias the system")
	}
	if input.Print != "PRINT ARG=d1,t1,r1,c1 FILE=COLVAR" {
		t.Errorf("print line = %q", input.Print)
	}
	if _, err := os.Stat(filepath.Join(scratch, "reference_1.pdb")); err != nil {
		t.Errorf("reference not staged for probe: %v", err)
	}
}

func TestPlumedProbe_Failure(t *testing.T) {
	fx := newFixture(t)
	cvs, st := resolveFixture(t, fx, "cv d1 distance :1@CA :3\nstep 1 values=1 forces=1\n")

	rec := &shell.Recorder{Handler: func(shell.Command) (string, error) {
		return "", errors.New("plumed failed: exit status 1")
	}}
	_, err := Evaluate(context.Background(), NewPlumedProbe(rec), cvs, st)
	var evalErr *EvaluationError
	if !errors.As(err, &evalErr) {
		t.Errorf("expected EvaluationError, got %v", err)
	}
}

func TestNativeProbe(t *testing.T) {
	fx := newFixture(t)
	cvs, st := resolveFixture(t, fx, `
cv d1 distance :1@CA :3
cv r1 rmsd :1-2@CA reference=ref.pdb align=:1-2
step 1 values=1,0 forces=1,1
`)

	values, err := Evaluate(context.Background(), NativeProbe{}, cvs, st)
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if want := math.Sqrt(74.5) / 10; math.Abs(values["d1"]-want) > 1e-6 {
		t.Errorf("d1 = %g, want %g", values["d1"], want)
	}
	if math.Abs(values["r1"]) > 1e-4 {
		t.Errorf("rmsd against identical reference = %g", values["r1"])
	}
}

func TestNativeProbe_Torsion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "torsion.pdb")
	writePDB(t, path, []plumed.RefAtom{
		{Serial: 1, Name: "C1", ResName: "MOL", ResID: 1, X: 1, Element: "C"},
		{Serial: 2, Name: "C2", ResName: "MOL", ResID: 1, Element: "C"},
		{Serial: 3, Name: "C3", ResName: "MOL", ResID: 1, Y: 1, Element: "C"},
		{Serial: 4, Name: "C4", ResName: "MOL", ResID: 1, Y: 1, Z: 1, Element: "C"},
	})
	st, err := LoadStructure(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	p, err := protocol.Parse(strings.NewReader("cv t1 torsion @1-4\nstep 1 values=0 forces=1\n"))
	if err != nil {
		t.Fatal(err)
	}
	cvs, err := ResolveCVs(p.CVs, st, "")
	if err != nil {
		t.Fatal(err)
	}

	values, err := NativeProbe{}.Measure(context.Background(), cvs, st)
	if err != nil {
		t.Fatalf("measure failed: %v", err)
	}
	if got := math.Abs(values["t1"]); math.Abs(got-math.Pi/2) > 1e-6 {
		t.Errorf("|t1| = %g, want pi/2", got)
	}
}

func TestNativeProbe_Custom(t *testing.T) {
	fx := newFixture(t)
	cvs, st := resolveFixture(t, fx, "cv c1 custom @1,2,3 action=angle\nstep 1 values=1 forces=1\n")

	_, err := Evaluate(context.Background(), NativeProbe{}, cvs, st)
	if !errors.Is(err, ErrUnsupportedKind) {
		t.Errorf("expected ErrUnsupportedKind, got %v", err)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	if got := strings.Join(r.List(), ","); got != "native,plumed" {
		t.Errorf("engines = %s", got)
	}
	p, err := r.Get("plumed", &shell.Recorder{})
	if err != nil || p.Name() != "plumed" {
		t.Errorf("plumed probe: %v, %v", p, err)
	}
	if _, err := r.Get("gromacs", nil); err == nil {
		t.Error("expected unknown engine error")
	}
}

func TestResolveCVs_AtomCount(t *testing.T) {
	fx := newFixture(t)
	p, err := protocol.Parse(strings.NewReader("cv d1 distance :1\nstep 1 values=1 forces=1\n"))
	if err != nil {
		t.Fatal(err)
	}
	st, err := LoadStructure(fx.structure)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ResolveCVs(p.CVs, st, ""); !errors.Is(err, ErrAtomCount) {
		t.Errorf("expected ErrAtomCount, got %v", err)
	}
}
