package steering

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/michellab/AMMo/internal/plumed"
)

// EmitOptions controls the PRINT line of the emitted file.
type EmitOptions struct {
	PrintStride int
	ColvarFile  string
}

func DefaultEmitOptions() EmitOptions {
	return EmitOptions{PrintStride: 2500, ColvarFile: "COLVAR"}
}

// BuildFile assembles the restraint file for cvs and steps.
func BuildFile(cvs []ResolvedCV, steps []ExpandedStep, opts EmitOptions) *plumed.File {
	f := &plumed.File{Restraint: &plumed.MovingRestraint{}}
	for _, cv := range cvs {
		f.Actions = append(f.Actions, Actions(cv)...)
		f.Restraint.Args = append(f.Restraint.Args, cv.ID)
	}
	for _, st := range steps {
		f.Restraint.Steps = append(f.Restraint.Steps, plumed.RestraintStep{
			Step:  st.MDStep,
			At:    st.Targets,
			Kappa: st.Forces,
		})
	}

	colvar := opts.ColvarFile
	if colvar == "" {
		colvar = "COLVAR"
	}
	f.Print = fmt.Sprintf("PRINT ARG=* FILE=%s", colvar)
	if opts.PrintStride > 0 {
		f.Print += fmt.Sprintf(" STRIDE=%d", opts.PrintStride)
	}
	return f
}

// Emit writes the restraint file to dest and the rmsd reference files
// next to it. On failure nothing written by this call is left behind.
func Emit(cvs []ResolvedCV, steps []ExpandedStep, dest string, opts EmitOptions) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	if err := writeReferences(dir, cvs); err != nil {
		removeReferences(dir, cvs)
		return err
	}
	if err := writeFileAtomic(dest, BuildFile(cvs, steps, opts)); err != nil {
		removeReferences(dir, cvs)
		return err
	}
	return nil
}

func writeReferences(dir string, cvs []ResolvedCV) error {
	for _, cv := range cvs {
		if cv.ReferenceFile == "" {
			continue
		}
		path := filepath.Join(dir, cv.ReferenceFile)
		err := writeAtomic(path, func(w io.Writer) error {
			return plumed.WriteReference(w, cv.RefAtoms)
		})
		if err != nil {
			return fmt.Errorf("write reference for %s: %w", cv.ID, err)
		}
	}
	return nil
}

func removeReferences(dir string, cvs []ResolvedCV) {
	for _, cv := range cvs {
		if cv.ReferenceFile != "" {
			os.Remove(filepath.Join(dir, cv.ReferenceFile))
		}
	}
}

func writeFileAtomic(path string, f *plumed.File) error {
	return writeAtomic(path, func(w io.Writer) error {
		_, err := f.WriteTo(w)
		return err
	})
}

// writeAtomic writes through a temporary file in the target directory
// and renames it into place.
func writeAtomic(path string, write func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
