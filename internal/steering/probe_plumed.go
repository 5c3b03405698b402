package steering

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/michellab/AMMo/internal/ctxlog"
	"github.com/michellab/AMMo/internal/plumed"
	"github.com/michellab/AMMo/internal/shell"
)

const (
	probeInput  = "initial_values.dat"
	probeColvar = "COLVAR"
)

// PlumedProbe measures CVs with a single "plumed driver" pass over the
// starting structure.
type PlumedProbe struct {
	exec   shell.Executor
	Binary string
	// ScratchDir holds the probe files; a temporary directory when empty.
	ScratchDir string
}

func NewPlumedProbe(exec shell.Executor) *PlumedProbe {
	return &PlumedProbe{exec: exec, Binary: "plumed"}
}

func (p *PlumedProbe) Name() string {
	return "plumed"
}

func (p *PlumedProbe) Measure(ctx context.Context, cvs []ResolvedCV, st *Structure) (Baselines, error) {
	dir := p.ScratchDir
	if dir == "" {
		tmp, err := os.MkdirTemp("", "ammo-probe-")
		if err != nil {
			return nil, err
		}
		defer os.RemoveAll(tmp)
		dir = tmp
	}

	structure, err := filepath.Abs(st.Path)
	if err != nil {
		return nil, err
	}
	if err := writeReferences(dir, cvs); err != nil {
		return nil, err
	}

	f := &plumed.File{}
	var labels []string
	for _, cv := range cvs {
		f.Actions = append(f.Actions, Actions(cv)...)
		labels = append(labels, cv.ID)
	}
	f.Print = fmt.Sprintf("PRINT ARG=%s FILE=%s", strings.Join(labels, ","), probeColvar)
	if err := writeFileAtomic(filepath.Join(dir, probeInput), f); err != nil {
		return nil, err
	}

	cmd := shell.Command{
		Name: p.Binary,
		Args: []string{"driver", "--mf_pdb", structure, "--plumed", probeInput},
		Dir:  dir,
	}
	ctxlog.FromContext(ctx).Debug("running probe", "cmd", cmd.String(), "dir", dir)
	if _, err := p.exec.Run(ctx, cmd); err != nil {
		return nil, err
	}

	colvar, err := os.Open(filepath.Join(dir, probeColvar))
	if err != nil {
		return nil, err
	}
	defer colvar.Close()
	c, err := plumed.ReadColvar(colvar)
	if err != nil {
		return nil, err
	}

	out := make(Baselines, len(cvs))
	for _, cv := range cvs {
		v, ok := c.Value(cv.ID)
		if !ok {
			return nil, &EvaluationError{CV: cv.ID, Wrapped: ErrMissingBaseline}
		}
		out[cv.ID] = v
	}
	return out, nil
}
