package plumed

import (
	"fmt"
	"io"
	"strings"
)

// RefAtom is one line of an RMSD reference structure. Serial is the
// 1-based index of the atom in the steered system; PLUMED reads the
// occupancy as the alignment weight and beta as the displacement weight.
type RefAtom struct {
	Serial    int
	Name      string
	ResName   string
	Chain     string
	ResID     int
	X, Y, Z   float64
	Occupancy float64
	Beta      float64
	Element   string
}

// WriteReference writes atoms in fixed PDB columns followed by END.
func WriteReference(w io.Writer, atoms []RefAtom) error {
	for _, a := range atoms {
		chain := a.Chain
		if chain == "" {
			chain = " "
		}
		_, err := fmt.Fprintf(w, "%-6s%5d %-4s %3s %1s%4d    %8.3f%8.3f%8.3f%6.2f%6.2f          %2s\n",
			"ATOM", a.Serial%100000, pdbName(a.Name), a.ResName, chain[:1], a.ResID%10000,
			a.X, a.Y, a.Z, a.Occupancy, a.Beta, a.Element)
		if err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "END\n")
	return err
}

// pdbName aligns names shorter than four characters to column 14.
func pdbName(name string) string {
	if len(name) < 4 {
		return " " + name
	}
	return name[:4]
}

// ReadReferenceSerials returns the serial numbers, occupancies and betas
// of the ATOM/HETATM lines in a reference file.
func ReadReferenceSerials(r io.Reader) (serials []int, occ, beta []float64, err error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, nil, err
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "ATOM") && !strings.HasPrefix(line, "HETATM") {
			continue
		}
		if len(line) < 66 {
			return nil, nil, nil, fmt.Errorf("plumed: short reference line %q", line)
		}
		var s int
		var o, b float64
		if _, err := fmt.Sscan(line[6:11], &s); err != nil {
			return nil, nil, nil, fmt.Errorf("plumed: bad serial in %q", line)
		}
		if _, err := fmt.Sscan(line[54:60], &o); err != nil {
			return nil, nil, nil, fmt.Errorf("plumed: bad occupancy in %q", line)
		}
		if _, err := fmt.Sscan(line[60:66], &b); err != nil {
			return nil, nil, nil, fmt.Errorf("plumed: bad beta in %q", line)
		}
		serials = append(serials, s)
		occ = append(occ, o)
		beta = append(beta, b)
	}
	return serials, occ, beta, nil
}
