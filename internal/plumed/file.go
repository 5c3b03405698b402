// Package plumed reads and writes the subset of PLUMED input used for
// steered MD: CV actions, a MOVINGRESTRAINT block and a PRINT line.
package plumed

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

const (
	restraintOpen  = "MOVINGRESTRAINT ..."
	restraintClose = "... MOVINGRESTRAINT"
)

// Arg is a single KEY=VALUE argument or a bare flag.
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

// Action is one labelled line such as "d1: DISTANCE ATOMS=1,2".
type Action struct {
	Label string
	Name  string
	Args  []Arg
}

// Get returns the value of key and whether it was present.
func (a Action) Get(key string) (string, bool) {
	for _, arg := range a.Args {
		if arg.Key == key {
			return arg.Value, true
		}
	}
	return "", false
}

// Atoms parses the ATOMS argument as 1-based indices.
func (a Action) Atoms() ([]int, error) {
	v, ok := a.Get("ATOMS")
	if !ok {
		return nil, fmt.Errorf("plumed: action %s has no ATOMS", a.Label)
	}
	return ParseIndices(v)
}

func (a Action) String() string {
	var b strings.Builder
	b.WriteString(a.Label)
	b.WriteString(": ")
	b.WriteString(a.Name)
	for _, arg := range a.Args {
		b.WriteByte(' ')
		b.WriteString(arg.String())
	}
	return b.String()
}

type RestraintStep struct {
	Step  int64
	At    []float64
	Kappa []float64
}

type MovingRestraint struct {
	Args  []string
	Steps []RestraintStep
}

type File struct {
	Actions   []Action
	Restraint *MovingRestraint
	Print     string
}

// TotalSteps returns the MD step of the last restraint step.
func (f *File) TotalSteps() int64 {
	if f.Restraint == nil || len(f.Restraint.Steps) == 0 {
		return 0
	}
	return f.Restraint.Steps[len(f.Restraint.Steps)-1].Step
}

// Action looks an action up by label.
func (f *File) Action(label string) (Action, bool) {
	for _, a := range f.Actions {
		if a.Label == label {
			return a, true
		}
	}
	return Action{}, false
}

func (f *File) WriteTo(w io.Writer) (int64, error) {
	var b strings.Builder
	for _, a := range f.Actions {
		b.WriteString(a.String())
		b.WriteByte('\n')
	}
	if f.Restraint != nil {
		b.WriteString(restraintOpen + "\n")
		fmt.Fprintf(&b, "  ARG=%s\n", strings.Join(f.Restraint.Args, ","))
		for i, st := range f.Restraint.Steps {
			fmt.Fprintf(&b, "  STEP%d=%d AT%d=%s KAPPA%d=%s\n",
				i, st.Step, i, FormatValues(st.At), i, FormatValues(st.Kappa))
		}
		b.WriteString(restraintClose + "\n")
	}
	if f.Print != "" {
		b.WriteString(f.Print)
		b.WriteByte('\n')
	}
	n, err := io.WriteString(w, b.String())
	return int64(n), err
}

// FormatValues joins numbers with commas using the shortest exact form.
func FormatValues(vs []float64) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}

// ParseIndices parses a comma separated list of integers.
func ParseIndices(s string) ([]int, error) {
	var out []int
	for _, p := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("plumed: bad index %q", p)
		}
		out = append(out, n)
	}
	return out, nil
}

func parseValues(s string) ([]float64, error) {
	var out []float64
	for _, p := range strings.Split(s, ",") {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("plumed: bad value %q", p)
		}
		out = append(out, v)
	}
	return out, nil
}

func ParseFile(path string) (*File, error) {
	fl, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fl.Close()
	return Parse(fl)
}

// Parse reads a PLUMED file written by WriteTo or by hand in the same style.
func Parse(r io.Reader) (*File, error) {
	f := &File{}
	scanner := bufio.NewScanner(r)
	inRestraint := false
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "" || strings.HasPrefix(line, "#"):
		case line == restraintOpen:
			inRestraint = true
			f.Restraint = &MovingRestraint{}
		case line == restraintClose:
			inRestraint = false
		case inRestraint:
			if err := f.Restraint.parseLine(line); err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
		case strings.HasPrefix(line, "PRINT"):
			f.Print = line
		default:
			a, err := parseAction(line)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			f.Actions = append(f.Actions, a)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if inRestraint {
		return nil, fmt.Errorf("plumed: unterminated %s block", restraintOpen)
	}
	return f, nil
}

func parseAction(line string) (Action, error) {
	fields := strings.Fields(line)
	var a Action
	if strings.HasSuffix(fields[0], ":") {
		a.Label = strings.TrimSuffix(fields[0], ":")
		fields = fields[1:]
	}
	if len(fields) == 0 {
		return a, fmt.Errorf("plumed: action without a name: %q", line)
	}
	a.Name = fields[0]
	for _, tok := range fields[1:] {
		k, v, _ := strings.Cut(tok, "=")
		if k == "LABEL" {
			a.Label = v
			continue
		}
		a.Args = append(a.Args, Arg{Key: k, Value: v})
	}
	return a, nil
}

func (m *MovingRestraint) parseLine(line string) error {
	var st RestraintStep
	isStep := false
	for _, tok := range strings.Fields(line) {
		k, v, ok := strings.Cut(tok, "=")
		if !ok {
			return fmt.Errorf("plumed: unexpected token %q in restraint", tok)
		}
		var err error
		switch {
		case k == "ARG":
			m.Args = strings.Split(v, ",")
		case strings.HasPrefix(k, "STEP"):
			isStep = true
			st.Step, err = strconv.ParseInt(v, 10, 64)
		case strings.HasPrefix(k, "AT"):
			st.At, err = parseValues(v)
		case strings.HasPrefix(k, "KAPPA"):
			st.Kappa, err = parseValues(v)
		}
		if err != nil {
			return err
		}
	}
	if isStep {
		m.Steps = append(m.Steps, st)
	}
	return nil
}
