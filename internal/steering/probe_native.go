package steering

import (
	"context"
	"fmt"

	"github.com/michellab/AMMo/internal/protocol"
	chem "github.com/rmera/gochem"
	v3 "github.com/rmera/gochem/v3"
	"gonum.org/v1/gonum/floats"
)

// angstromToNm converts structure units to PLUMED's length unit.
const angstromToNm = 0.1

// NativeProbe measures distance, torsion and rmsd CVs in-process. Groups
// of several atoms are reduced to their geometric centre.
type NativeProbe struct{}

func (NativeProbe) Name() string {
	return "native"
}

func (NativeProbe) Measure(ctx context.Context, cvs []ResolvedCV, st *Structure) (Baselines, error) {
	coords := st.Coords()
	out := make(Baselines, len(cvs))
	for _, cv := range cvs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var (
			v   float64
			err error
		)
		switch cv.Kind {
		case protocol.Distance:
			pts := cv.Points()
			v = floats.Distance(centre(coords, pts[0]), centre(coords, pts[1]), 2) * angstromToNm
		case protocol.Torsion:
			v, err = torsion(coords, cv.Points())
		case protocol.RMSD:
			v, err = rmsd(coords, cv)
		default:
			err = fmt.Errorf("%w: %s", ErrUnsupportedKind, cv.Kind)
		}
		if err != nil {
			return nil, &EvaluationError{CV: cv.ID, Wrapped: err}
		}
		out[cv.ID] = v
	}
	return out, nil
}

func centre(coords *v3.Matrix, group []int) []float64 {
	c := make([]float64, 3)
	for _, i := range group {
		floats.Add(c, []float64{coords.At(i, 0), coords.At(i, 1), coords.At(i, 2)})
	}
	floats.Scale(1/float64(len(group)), c)
	return c
}

func torsion(coords *v3.Matrix, pts [][]int) (float64, error) {
	vecs := make([]*v3.Matrix, len(pts))
	for i, pt := range pts {
		m, err := v3.NewMatrix(centre(coords, pt))
		if err != nil {
			return 0, err
		}
		vecs[i] = m
	}
	return chem.Dihedral(vecs[0], vecs[1], vecs[2], vecs[3]), nil
}

// rmsd superimposes a copy of the system on the reference using the
// alignment atoms, then measures the displaced atoms.
func rmsd(coords *v3.Matrix, cv ResolvedCV) (float64, error) {
	displaced := cv.Groups[0]
	aligned := cv.AlignAtoms
	if aligned == nil {
		aligned = displaced
	}

	refOf := make(map[int]int, len(cv.RefPairs))
	for _, p := range cv.RefPairs {
		refOf[p.System] = p.Reference
	}
	pair := func(sys []int) ([]int, []int) {
		ref := make([]int, len(sys))
		for i, s := range sys {
			ref[i] = refOf[s]
		}
		return sys, ref
	}

	moved := v3.Zeros(coords.NVecs())
	moved.Copy(coords)
	alignSys, alignRef := pair(aligned)
	moved, err := chem.Super(moved, cv.RefCoords, alignSys, alignRef)
	if err != nil {
		return 0, fmt.Errorf("superimpose: %w", err)
	}

	dispSys, dispRef := pair(displaced)
	r, err := chem.RMSD(moved, cv.RefCoords, dispSys, dispRef)
	if err != nil {
		return 0, err
	}
	return r * angstromToNm, nil
}
