// Package protocol parses declarative steering protocols: the collective
// variables to bias and the piecewise schedule of targets and forces.
//
// A protocol is line oriented:
//
//	# pull the loop closed, then hold it
//	cv d1 distance :12@CA :85@CA
//	cv r1 rmsd :1-50@CA reference=closed.pdb align=:1-200@CA
//	step 2   values=initial/2,0.1 forces=2500,3500
//	step 100 values=0.6,0       forces=2500,3500
//
// Step times are in nanoseconds. Target values are literals, the token
// "initial" or a single arithmetic operation on it.
package protocol

import "strings"

type Kind string

const (
	Distance Kind = "distance"
	Torsion  Kind = "torsion"
	RMSD     Kind = "rmsd"
	Custom   Kind = "custom"
)

func (k Kind) valid() bool {
	switch k {
	case Distance, Torsion, RMSD, Custom:
		return true
	}
	return false
}

// Metadata keys understood by the compiler and never passed to the engine.
const (
	MetaReference = "reference"
	MetaAlign     = "align"
	MetaAction    = "action"
)

// Arg is an engine argument passed through verbatim. Flags have no value.
type Arg struct {
	Key   string
	Value string
}

func (a Arg) String() string {
	if a.Value == "" {
		return a.Key
	}
	return a.Key + "=" + a.Value
}

type CollectiveVariable struct {
	ID        string
	Kind      Kind
	Selectors []string
	Meta      map[string]string
	Args      []Arg
	Line      int
}

// Reference returns the reference structure path, if any.
func (cv CollectiveVariable) Reference() string { return cv.Meta[MetaReference] }

// Align returns the alignment selector, if any.
func (cv CollectiveVariable) Align() string { return cv.Meta[MetaAlign] }

// Action returns the engine action name of a custom CV.
func (cv CollectiveVariable) Action() string { return strings.ToUpper(cv.Meta[MetaAction]) }

type Step struct {
	Time    float64
	Targets []string
	Forces  []float64
	Line    int
}

type Protocol struct {
	CVs   []CollectiveVariable
	Steps []Step
}

// Labels returns the CV identifiers in declaration order.
func (p *Protocol) Labels() []string {
	labels := make([]string, len(p.CVs))
	for i, cv := range p.CVs {
		labels[i] = cv.ID
	}
	return labels
}

// Duration is the time of the last step in nanoseconds.
func (p *Protocol) Duration() float64 {
	if len(p.Steps) == 0 {
		return 0
	}
	return p.Steps[len(p.Steps)-1].Time
}
