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
	"github.com/michellab/AMMo/internal/selection"
)

var systemAtoms = []plumed.RefAtom{
	{Serial: 1, Name: "N", ResName: "ALA", Chain: "A", ResID: 1, X: 0, Y: 0, Z: 0, Element: "N"},
	{Serial: 2, Name: "CA", ResName: "ALA", Chain: "A", ResID: 1, X: 1.5, Y: 0, Z: 0, Element: "C"},
	{Serial: 3, Name: "C", ResName: "ALA", Chain: "A", ResID: 1, X: 2.0, Y: 1.4, Z: 0, Element: "C"},
	{Serial: 4, Name: "N", ResName: "GLY", Chain: "A", ResID: 2, X: 3.3, Y: 1.6, Z: 0.5, Element: "N"},
	{Serial: 5, Name: "CA", ResName: "GLY", Chain: "A", ResID: 2, X: 4.0, Y: 2.9, Z: 0.8, Element: "C"},
	{Serial: 6, Name: "C", ResName: "GLY", Chain: "A", ResID: 2, X: 5.5, Y: 2.8, Z: 1.2, Element: "C"},
	{Serial: 7, Name: "C1", ResName: "LIG", Chain: "B", ResID: 3, X: 10, Y: 0, Z: 0, Element: "C"},
	{Serial: 8, Name: "C2", ResName: "LIG", Chain: "B", ResID: 3, X: 10, Y: 0, Z: 3, Element: "C"},
}

const compileProtocol = `
cv d1 distance :1@CA :3
cv t1 torsion @1-4
cv r1 rmsd :1-2@CA reference=ref.pdb align=:1-2
cv c1 custom @1,2,3 action=angle
step 1 values=initial+0.1,initial,0,initial forces=1000,200,3500,50
step 2 values=1.0,0.5,0,1.2 forces=1000,200,3500,50
`

func writePDB(t *testing.T, path string, atoms []plumed.RefAtom) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := plumed.WriteReference(f, atoms); err != nil {
		t.Fatal(err)
	}
}

// referenceAtoms returns residues 1-2 of the system with residue 2 first,
// so reference order differs from system order.
func referenceAtoms() []plumed.RefAtom {
	ref := append([]plumed.RefAtom{}, systemAtoms[3:6]...)
	ref = append(ref, systemAtoms[0:3]...)
	for i := range ref {
		ref[i].Serial = i + 1
	}
	return ref
}

type fixture struct {
	dir       string
	structure string
	inputDir  string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	fx := fixture{
		dir:       dir,
		structure: filepath.Join(dir, "system.pdb"),
		inputDir:  filepath.Join(dir, "inputs"),
	}
	if err := os.MkdirAll(fx.inputDir, 0o755); err != nil {
		t.Fatal(err)
	}
	writePDB(t, fx.structure, systemAtoms)
	writePDB(t, filepath.Join(fx.inputDir, "ref.pdb"), referenceAtoms())
	return fx
}

func (fx fixture) protocolFile(t *testing.T, text string) string {
	t.Helper()
	path := filepath.Join(fx.dir, "steering.dat")
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

type fixedProbe struct {
	values Baselines
	err    error
}

func (p fixedProbe) Name() string { return "fixed" }

func (p fixedProbe) Measure(context.Context, []ResolvedCV, *Structure) (Baselines, error) {
	return p.values, p.err
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestExpand_RMSDScenario(t *testing.T) {
	p, err := protocol.Parse(strings.NewReader("cv r1 rmsd :1-10 reference=ref.pdb\nstep 100 values=0.0 forces=3500\n"))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	steps, err := Expand(p, Baselines{"r1": 2.1}, DefaultTiming())
	if err != nil {
		t.Fatalf("expand failed: %v", err)
	}
	if len(steps) != len(p.Steps)+2 {
		t.Fatalf("expected %d steps, got %d", len(p.Steps)+2, len(steps))
	}

	want := []struct {
		time, value, force float64
		md                 int64
	}{
		{0, 2.1, 0, 0},
		{0.004, 2.1, 3500, 2000},
		{100, 0.0, 3500, 50000000},
	}
	for i, w := range want {
		got := steps[i]
		if !approx(got.Time, w.time) || got.Targets[0] != w.value || got.Forces[0] != w.force || got.MDStep != w.md {
			t.Errorf("step %d = %+v, want %+v", i, got, w)
		}
	}
}

func TestExpand_ResolvesTargets(t *testing.T) {
	p, err := protocol.Parse(strings.NewReader(`
cv a distance @1 @2
cv b torsion @1-4
step 1 values=initial/2,initial forces=10,20
step 3 values=initial*3,-1 forces=30,40
`))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	steps, err := Expand(p, Baselines{"a": 4, "b": 0.5}, DefaultTiming())
	if err != nil {
		t.Fatalf("expand failed: %v", err)
	}
	if steps[0].Forces[0] != 0 || steps[0].Forces[1] != 0 {
		t.Errorf("step 0 must have zero force: %v", steps[0].Forces)
	}
	if steps[1].Forces[0] != 10 || steps[1].Targets[1] != 0.5 {
		t.Errorf("ramp step = %+v", steps[1])
	}
	if steps[2].Targets[0] != 2 || steps[2].Targets[1] != 0.5 {
		t.Errorf("first user step = %+v", steps[2])
	}
	if steps[3].Targets[0] != 12 || steps[3].Targets[1] != -1 || steps[3].Forces[1] != 40 {
		t.Errorf("second user step = %+v", steps[3])
	}
	for i := 1; i < len(steps); i++ {
		if steps[i].Time <= steps[i-1].Time {
			t.Errorf("steps not time ordered at %d", i)
		}
	}
}

func TestExpand_Errors(t *testing.T) {
	p, err := protocol.Parse(strings.NewReader("cv a distance @1 @2\nstep 0.002 values=1 forces=1\n"))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if _, err := Expand(p, Baselines{"a": 1}, DefaultTiming()); !errors.Is(err, ErrRampOverlap) {
		t.Errorf("expected ErrRampOverlap, got %v", err)
	}

	p.Steps[0].Time = 1
	_, err = Expand(p, Baselines{}, DefaultTiming())
	var evalErr *EvaluationError
	if !errors.As(err, &evalErr) || !errors.Is(err, ErrMissingBaseline) || evalErr.CV != "a" {
		t.Errorf("expected missing baseline for a, got %v", err)
	}
}

func TestResolveTarget(t *testing.T) {
	tests := []struct {
		expr     string
		baseline float64
		want     float64
	}{
		{"initial/2", 4.0, 2.0},
		{"initial+5.2", 1.0, 6.2},
		{"initial", 7.5, 7.5},
		{"3", 7.5, 3},
	}
	for _, tt := range tests {
		got, err := ResolveTarget(tt.expr, tt.baseline)
		if err != nil || !approx(got, tt.want) {
			t.Errorf("ResolveTarget(%q, %g) = %g, %v; want %g", tt.expr, tt.baseline, got, err, tt.want)
		}
	}

	var evalErr *EvaluationError
	if _, err := ResolveTarget("initial^2", 1); !errors.As(err, &evalErr) {
		t.Errorf("expected EvaluationError, got %v", err)
	}
}

func TestCompile(t *testing.T) {
	fx := newFixture(t)
	out := filepath.Join(fx.dir, "run", "plumed.dat")
	c := &Compiler{
		Probe:    fixedProbe{values: Baselines{"d1": 0.9, "t1": 1.0, "r1": 0.0, "c1": 2.0}},
		InputDir: fx.inputDir,
		Timing:   DefaultTiming(),
		Emit:     DefaultEmitOptions(),
	}

	res, err := c.Compile(context.Background(), Request{
		Structure: fx.structure,
		Protocol:  fx.protocolFile(t, compileProtocol),
		Output:    out,
	})
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	if len(res.Steps) != 4 {
		t.Fatalf("expected 4 expanded steps, got %d", len(res.Steps))
	}
	if res.TotalSteps() != 1000000 {
		t.Errorf("total steps = %d", res.TotalSteps())
	}

	f, err := plumed.ParseFile(out)
	if err != nil {
		t.Fatalf("re-parse failed: %v", err)
	}

	com, ok := f.Action("d1_g2")
	if !ok || com.Name != "COM" {
		t.Fatalf("missing COM virtual atom: %+v", f.Actions)
	}
	if atoms, _ := com.Atoms(); len(atoms) != 2 || atoms[0] != 7 || atoms[1] != 8 {
		t.Errorf("COM atoms = %v", atoms)
	}
	d1, _ := f.Action("d1")
	if v, _ := d1.Get("ATOMS"); v != "2,d1_g2" {
		t.Errorf("d1 ATOMS = %q", v)
	}

	for _, cv := range res.CVs {
		if cv.Kind != protocol.Torsion && cv.Kind != protocol.Custom {
			continue
		}
		a, ok := f.Action(cv.ID)
		if !ok {
			t.Fatalf("action %s missing", cv.ID)
		}
		atoms, err := a.Atoms()
		if err != nil {
			t.Fatalf("%s atoms: %v", cv.ID, err)
		}
		want := cv.AllAtoms()
		if len(atoms) != len(want) {
			t.Fatalf("%s: %v vs %v", cv.ID, atoms, want)
		}
		for i := range want {
			if atoms[i] != want[i]+1 {
				t.Errorf("%s atom %d = %d, want %d", cv.ID, i, atoms[i], want[i]+1)
			}
		}
	}
	if c1, _ := f.Action("c1"); c1.Name != "ANGLE" {
		t.Errorf("custom action = %q", c1.Name)
	}
	r1, _ := f.Action("r1")
	if v, _ := r1.Get("REFERENCE"); v != "reference_1.pdb" {
		t.Errorf("rmsd reference = %q", v)
	}

	if len(f.Restraint.Steps) != len(res.Steps) {
		t.Fatalf("restraint has %d steps, want %d", len(f.Restraint.Steps), len(res.Steps))
	}
	for i, st := range res.Steps {
		got := f.Restraint.Steps[i]
		if got.Step != st.MDStep {
			t.Errorf("step %d: md step %d, want %d", i, got.Step, st.MDStep)
		}
		for j := range st.Targets {
			if got.At[j] != st.Targets[j] || got.Kappa[j] != st.Forces[j] {
				t.Errorf("step %d cv %d: %g/%g, want %g/%g", i, j, got.At[j], got.Kappa[j], st.Targets[j], st.Forces[j])
			}
		}
	}
	if !strings.HasPrefix(f.Print, "PRINT ARG=* FILE=COLVAR") {
		t.Errorf("print line = %q", f.Print)
	}

	ref, err := os.Open(filepath.Join(fx.dir, "run", "reference_1.pdb"))
	if err != nil {
		t.Fatalf("reference not written: %v", err)
	}
	defer ref.Close()
	serials, occ, beta, err := plumed.ReadReferenceSerials(ref)
	if err != nil {
		t.Fatal(err)
	}
	if len(serials) != 6 {
		t.Fatalf("expected 6 reference atoms, got %v", serials)
	}
	for i, s := range serials {
		if s != i+1 {
			t.Errorf("reference serial %d = %d", i, s)
		}
		if occ[i] != 1 {
			t.Errorf("serial %d: alignment weight %g", s, occ[i])
		}
		wantBeta := 0.0
		if s == 2 || s == 5 {
			wantBeta = 1
		}
		if beta[i] != wantBeta {
			t.Errorf("serial %d: displacement weight %g, want %g", s, beta[i], wantBeta)
		}
	}
}

func TestCompile_Stages(t *testing.T) {
	tests := []struct {
		name     string
		protocol string
		inputDir bool
		probeErr error
		stage    string
		check    func(error) bool
	}{
		{
			name:     "syntax",
			protocol: "cv d1 distance",
			inputDir: true,
			stage:    StageParse,
			check: func(err error) bool {
				var e *protocol.SyntaxError
				return errors.As(err, &e)
			},
		},
		{
			name:     "no match",
			protocol: "cv d1 distance :1@CA :99\nstep 1 values=1 forces=1",
			inputDir: true,
			stage:    StageResolve,
			check:    func(err error) bool { return errors.Is(err, selection.ErrNoMatch) },
		},
		{
			name:     "missing reference",
			protocol: compileProtocol,
			inputDir: false,
			stage:    StageResolve,
			check: func(err error) bool {
				var e *ReferenceNotFoundError
				return errors.As(err, &e)
			},
		},
		{
			name:     "probe failure",
			protocol: compileProtocol,
			inputDir: true,
			probeErr: errors.New("plumed exited 1"),
			stage:    StageEvaluate,
			check: func(err error) bool {
				var e *EvaluationError
				return errors.As(err, &e)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t)
			out := filepath.Join(fx.dir, "out", "plumed.dat")
			c := &Compiler{
				Probe:  fixedProbe{err: tt.probeErr},
				Timing: DefaultTiming(),
			}
			if tt.inputDir {
				c.InputDir = fx.inputDir
			}

			_, err := c.Compile(context.Background(), Request{
				Structure: fx.structure,
				Protocol:  fx.protocolFile(t, tt.protocol),
				Output:    out,
			})
			var stageErr *StageError
			if !errors.As(err, &stageErr) || stageErr.Stage != tt.stage {
				t.Fatalf("expected %s stage error, got %v", tt.stage, err)
			}
			if !tt.check(err) {
				t.Errorf("unexpected cause: %v", err)
			}
			if _, err := os.Stat(out); !os.IsNotExist(err) {
				t.Errorf("output left behind after failure")
			}
		})
	}
}
