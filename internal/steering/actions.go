package steering

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/michellab/AMMo/internal/plumed"
	"github.com/michellab/AMMo/internal/protocol"
)

// Actions returns the PLUMED actions defining cv. Multi-atom points of a
// distance or torsion become COM virtual atoms labelled <id>_g<n>.
func Actions(cv ResolvedCV) []plumed.Action {
	var out []plumed.Action
	main := plumed.Action{Label: cv.ID}

	switch cv.Kind {
	case protocol.Distance, protocol.Torsion:
		main.Name = strings.ToUpper(string(cv.Kind))
		var atoms []string
		for n, pt := range cv.Points() {
			if len(pt) == 1 {
				atoms = append(atoms, strconv.Itoa(pt[0]+1))
				continue
			}
			label := fmt.Sprintf("%s_g%d", cv.ID, n+1)
			out = append(out, plumed.Action{
				Label: label,
				Name:  "COM",
				Args:  []plumed.Arg{{Key: "ATOMS", Value: joinIndices(pt)}},
			})
			atoms = append(atoms, label)
		}
		main.Args = append(main.Args, plumed.Arg{Key: "ATOMS", Value: strings.Join(atoms, ",")})
	case protocol.RMSD:
		main.Name = "RMSD"
		main.Args = append(main.Args,
			plumed.Arg{Key: "REFERENCE", Value: cv.ReferenceFile},
			plumed.Arg{Key: "TYPE", Value: "OPTIMAL"})
	case protocol.Custom:
		main.Name = cv.Action()
		main.Args = append(main.Args, plumed.Arg{Key: "ATOMS", Value: joinIndices(cv.AllAtoms())})
	}

	for _, a := range cv.Args {
		main.Args = append(main.Args, plumed.Arg{Key: a.Key, Value: a.Value})
	}
	return append(out, main)
}

// joinIndices writes 0-based indices as PLUMED's 1-based list.
func joinIndices(idx []int) string {
	parts := make([]string, len(idx))
	for i, v := range idx {
		parts[i] = strconv.Itoa(v + 1)
	}
	return strings.Join(parts, ",")
}
