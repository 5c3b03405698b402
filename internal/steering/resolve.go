package steering

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/michellab/AMMo/internal/plumed"
	"github.com/michellab/AMMo/internal/protocol"
	"github.com/michellab/AMMo/internal/selection"
	chem "github.com/rmera/gochem"
	v3 "github.com/rmera/gochem/v3"
)

// Structure is the starting structure the protocol is compiled against.
type Structure struct {
	Path     string
	Mol      *chem.Molecule
	Selector *selection.MaskResolver
}

// LoadStructure reads a PDB file.
func LoadStructure(path string) (*Structure, error) {
	mol, sel, err := selection.Load(path)
	if err != nil {
		return nil, err
	}
	return &Structure{Path: path, Mol: mol, Selector: sel}, nil
}

// Coords returns the coordinates of the first frame.
func (s *Structure) Coords() *v3.Matrix {
	return s.Mol.Coords[0]
}

// RefPair maps a system atom to the matching atom of a reference structure.
type RefPair struct {
	System    int
	Reference int
}

// ResolvedCV is a collective variable with concrete 0-based atom groups,
// one per selector. RMSD CVs also carry the located reference and the
// atoms written to the engine's reference file.
type ResolvedCV struct {
	protocol.CollectiveVariable

	Groups [][]int

	ReferencePath string
	ReferenceFile string
	AlignAtoms    []int
	RefPairs      []RefPair
	RefCoords     *v3.Matrix
	RefAtoms      []plumed.RefAtom
}

// AllAtoms flattens the groups in selector order.
func (r ResolvedCV) AllAtoms() []int {
	var out []int
	for _, g := range r.Groups {
		out = append(out, g...)
	}
	return out
}

// Points returns one atom group per geometric point of a distance or
// torsion. A single selector is split into one-atom groups.
func (r ResolvedCV) Points() [][]int {
	if len(r.Groups) != 1 || r.Kind == protocol.RMSD || r.Kind == protocol.Custom {
		return r.Groups
	}
	pts := make([][]int, len(r.Groups[0]))
	for i, idx := range r.Groups[0] {
		pts[i] = []int{idx}
	}
	return pts
}

// ResolveCVs resolves every selector of cvs against st. RMSD references
// are searched as given, then in inputDir.
func ResolveCVs(cvs []protocol.CollectiveVariable, st *Structure, inputDir string) ([]ResolvedCV, error) {
	out := make([]ResolvedCV, 0, len(cvs))
	refCount := 0
	for _, cv := range cvs {
		r := ResolvedCV{CollectiveVariable: cv}
		for _, s := range cv.Selectors {
			idx, err := st.Selector.Resolve(s)
			if err != nil {
				return nil, fmt.Errorf("cv %s: %w", cv.ID, err)
			}
			r.Groups = append(r.Groups, idx)
		}
		if err := checkAtomCounts(r); err != nil {
			return nil, err
		}

		if cv.Kind == protocol.RMSD {
			refCount++
			if err := resolveReference(&r, st, inputDir, refCount); err != nil {
				return nil, err
			}
		}
		out = append(out, r)
	}
	return out, nil
}

func checkAtomCounts(r ResolvedCV) error {
	if len(r.Groups) != 1 {
		return nil
	}
	want := 0
	switch r.Kind {
	case protocol.Distance:
		want = 2
	case protocol.Torsion:
		want = 4
	default:
		return nil
	}
	if got := len(r.Groups[0]); got != want {
		return fmt.Errorf("%w: %s selects %d atoms, %s needs %d", ErrAtomCount, r.ID, got, r.Kind, want)
	}
	return nil
}

// LocateReference returns the first existing candidate for path.
func LocateReference(cv, path, inputDir string) (string, error) {
	candidates := []string{path}
	if inputDir != "" {
		candidates = append(candidates, filepath.Join(inputDir, filepath.Base(path)))
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c, nil
		}
	}
	return "", &ReferenceNotFoundError{CV: cv, Path: path, Searched: candidates}
}

type atomKey struct {
	resid int
	name  string
}

func keyOf(at *chem.Atom) atomKey {
	return atomKey{resid: at.MolID, name: strings.TrimSpace(at.Name)}
}

// resolveReference pairs the system's rmsd and alignment atoms with the
// reference structure by residue number and atom name.
func resolveReference(r *ResolvedCV, st *Structure, inputDir string, n int) error {
	path, err := LocateReference(r.ID, r.Reference(), inputDir)
	if err != nil {
		return err
	}
	ref, err := chem.PDBFileRead(path, false)
	if err != nil {
		return fmt.Errorf("cv %s: read reference %s: %w", r.ID, path, err)
	}
	r.ReferencePath = path
	r.ReferenceFile = fmt.Sprintf("reference_%d.pdb", n)
	r.RefCoords = ref.Coords[0]

	if align := r.Align(); align != "" {
		idx, err := st.Selector.Resolve(align)
		if err != nil {
			return fmt.Errorf("cv %s: align: %w", r.ID, err)
		}
		r.AlignAtoms = idx
	}

	lookup := make(map[atomKey]int, ref.Len())
	for i := 0; i < ref.Len(); i++ {
		lookup[keyOf(ref.Atom(i))] = i
	}

	displaced := r.Groups[0]
	aligned := r.AlignAtoms
	if aligned == nil {
		aligned = displaced
	}
	union := slices.Concat(displaced, aligned)
	slices.Sort(union)
	union = slices.Compact(union)

	var missing []string
	for _, sys := range union {
		at := st.Mol.Atom(sys)
		refIdx, ok := lookup[keyOf(at)]
		if !ok {
			missing = append(missing, fmt.Sprintf(":%d@%s", at.MolID, strings.TrimSpace(at.Name)))
			continue
		}
		r.RefPairs = append(r.RefPairs, RefPair{System: sys, Reference: refIdx})

		occ, beta := 0.0, 0.0
		if slices.Contains(aligned, sys) {
			occ = 1
		}
		if slices.Contains(displaced, sys) {
			beta = 1
		}
		refAt := ref.Atom(refIdx)
		r.RefAtoms = append(r.RefAtoms, plumed.RefAtom{
			Serial:    sys + 1,
			Name:      strings.TrimSpace(refAt.Name),
			ResName:   refAt.MolName,
			Chain:     refAt.Chain,
			ResID:     refAt.MolID,
			X:         r.RefCoords.At(refIdx, 0),
			Y:         r.RefCoords.At(refIdx, 1),
			Z:         r.RefCoords.At(refIdx, 2),
			Occupancy: occ,
			Beta:      beta,
			Element:   refAt.Symbol,
		})
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: cv %s: %s", ErrReferenceMismatch, r.ID, strings.Join(missing, " "))
	}
	return nil
}
