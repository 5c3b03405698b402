package steering

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/michellab/AMMo/internal/ctxlog"
	"github.com/michellab/AMMo/internal/protocol"
	"github.com/michellab/AMMo/internal/shell"
)

// Compiler turns a protocol and a starting structure into a PLUMED input.
type Compiler struct {
	Probe Probe
	// Exec runs cpptraj for non-PDB structures.
	Exec     shell.Executor
	InputDir string
	Timing   Timing
	Emit     EmitOptions
}

type Request struct {
	Structure string
	// Topology is required when Structure is not a PDB file.
	Topology string
	Protocol string
	Output   string
}

type Result struct {
	Protocol   *protocol.Protocol
	Structure  string
	CVs        []ResolvedCV
	Baselines  Baselines
	Steps      []ExpandedStep
	Output     string
	References []string
}

// TotalSteps is the MD step count of the whole schedule.
func (r *Result) TotalSteps() int64 {
	if len(r.Steps) == 0 {
		return 0
	}
	return r.Steps[len(r.Steps)-1].MDStep
}

func (c *Compiler) Compile(ctx context.Context, req Request) (*Result, error) {
	log := ctxlog.FromContext(ctx)

	p, err := protocol.ParseFile(req.Protocol)
	if err != nil {
		return nil, &StageError{Stage: StageParse, Wrapped: err}
	}
	log.Info("parsed protocol", "file", req.Protocol, "cvs", len(p.CVs), "steps", len(p.Steps))

	pdb, err := c.structurePDB(ctx, req, filepath.Dir(req.Output))
	if err != nil {
		return nil, &StageError{Stage: StageResolve, Wrapped: err}
	}
	st, err := LoadStructure(pdb)
	if err != nil {
		return nil, &StageError{Stage: StageResolve, Wrapped: err}
	}
	cvs, err := ResolveCVs(p.CVs, st, c.InputDir)
	if err != nil {
		return nil, &StageError{Stage: StageResolve, Wrapped: err}
	}
	for _, cv := range cvs {
		log.Debug("resolved cv", "cv", cv.ID, "atoms", len(cv.AllAtoms()), "reference", cv.ReferencePath)
	}

	baselines, err := Evaluate(ctx, c.Probe, cvs, st)
	if err != nil {
		return nil, &StageError{Stage: StageEvaluate, Wrapped: err}
	}
	steps, err := Expand(p, baselines, c.Timing)
	if err != nil {
		return nil, &StageError{Stage: StageEvaluate, Wrapped: err}
	}

	if err := Emit(cvs, steps, req.Output, c.Emit); err != nil {
		return nil, &StageError{Stage: StageEmit, Wrapped: err}
	}
	res := &Result{
		Protocol:  p,
		Structure: pdb,
		CVs:       cvs,
		Baselines: baselines,
		Steps:     steps,
		Output:    req.Output,
	}
	for _, cv := range cvs {
		if cv.ReferenceFile != "" {
			res.References = append(res.References, filepath.Join(filepath.Dir(req.Output), cv.ReferenceFile))
		}
	}
	log.Info("wrote restraint file", "path", req.Output, "md_steps", res.TotalSteps())
	return res, nil
}

// structurePDB returns a PDB path for the starting structure, converting
// other coordinate formats with cpptraj.
func (c *Compiler) structurePDB(ctx context.Context, req Request, workDir string) (string, error) {
	if strings.EqualFold(filepath.Ext(req.Structure), ".pdb") {
		return req.Structure, nil
	}
	if req.Topology == "" {
		return "", fmt.Errorf("structure %s is not a PDB file and no topology was given", req.Structure)
	}
	if c.Exec == nil {
		return "", fmt.Errorf("no executor to convert %s", req.Structure)
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", err
	}
	out := filepath.Join(workDir, "system.pdb")
	cmd := shell.Command{
		Name: "cpptraj",
		Args: []string{"-p", req.Topology, "-y", req.Structure, "-x", out},
	}
	ctxlog.FromContext(ctx).Info("converting structure", "cmd", cmd.String())
	if _, err := c.Exec.Run(ctx, cmd); err != nil {
		return "", err
	}
	return out, nil
}
