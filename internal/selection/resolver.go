// Package selection resolves AMBER-style atom masks against a molecular
// topology loaded with gochem.
package selection

import (
	"errors"
	"fmt"

	chem "github.com/rmera/gochem"
)

var (
	// ErrNoMatch indicates a mask that selects no atoms.
	ErrNoMatch = errors.New("selection: mask matches no atoms")

	// ErrSyntax indicates a mask that cannot be parsed.
	ErrSyntax = errors.New("selection: invalid mask")
)

// Error wraps a selection failure with the offending selector.
type Error struct {
	Selector string
	Detail   string
	Wrapped  error
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%v: %q", e.Wrapped, e.Selector)
	}
	return fmt.Sprintf("%v: %q: %s", e.Wrapped, e.Selector, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Wrapped
}

// Topology is the read-only view of a structure the resolver needs.
type Topology interface {
	Atom(i int) *chem.Atom
	Len() int
}

// Resolver turns selectors into ordered atom indices.
type Resolver interface {
	Resolve(selector string) ([]int, error)
}

// MaskResolver resolves masks against a fixed topology.
type MaskResolver struct {
	top Topology
}

func NewMaskResolver(top Topology) *MaskResolver {
	return &MaskResolver{top: top}
}

// Load reads a PDB structure and returns the molecule together with a
// resolver over its topology.
func Load(pdb string) (*chem.Molecule, *MaskResolver, error) {
	mol, err := chem.PDBFileRead(pdb, false)
	if err != nil {
		return nil, nil, fmt.Errorf("read structure %s: %w", pdb, err)
	}
	return mol, NewMaskResolver(mol), nil
}

// Resolve returns the 0-based indices of the atoms matched by selector,
// in ascending order.
func (r *MaskResolver) Resolve(selector string) ([]int, error) {
	m, err := compile(selector)
	if err != nil {
		return nil, &Error{Selector: selector, Detail: err.Error(), Wrapped: ErrSyntax}
	}

	var out []int
	for i := 0; i < r.top.Len(); i++ {
		if m(r.top, i) {
			out = append(out, i)
		}
	}
	if len(out) == 0 {
		return nil, &Error{Selector: selector, Wrapped: ErrNoMatch}
	}
	return out, nil
}
