package protocol

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// ParseFile parses the protocol stored at path.
func ParseFile(path string) (*Protocol, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a protocol and validates its structure.
func Parse(r io.Reader) (*Protocol, error) {
	p := &Protocol{}
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Text()
		line, _, _ := strings.Cut(raw, "#")
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch strings.ToLower(fields[0]) {
		case "cv":
			cv, err := parseCV(fields[1:], lineNo, raw)
			if err != nil {
				return nil, err
			}
			p.CVs = append(p.CVs, cv)
		case "step":
			st, err := parseStep(fields[1:], lineNo, raw)
			if err != nil {
				return nil, err
			}
			p.Steps = append(p.Steps, st)
		default:
			return nil, &SyntaxError{Line: lineNo, Text: raw, Msg: fmt.Sprintf("unknown directive %q", fields[0])}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func parseCV(fields []string, lineNo int, raw string) (CollectiveVariable, error) {
	if len(fields) < 3 {
		return CollectiveVariable{}, &SyntaxError{Line: lineNo, Text: raw, Msg: "cv needs an id, a kind and at least one selector"}
	}

	cv := CollectiveVariable{
		ID:   fields[0],
		Kind: Kind(strings.ToLower(fields[1])),
		Meta: make(map[string]string),
		Line: lineNo,
	}
	if !cv.Kind.valid() {
		return cv, &SyntaxError{Line: lineNo, Text: raw, Msg: fmt.Sprintf("unknown cv kind %q", fields[1])}
	}
	if strings.ContainsAny(cv.ID, ":=,") {
		return cv, &SyntaxError{Line: lineNo, Text: raw, Msg: fmt.Sprintf("invalid cv id %q", cv.ID)}
	}

	for _, tok := range fields[2:] {
		key, val, hasValue := strings.Cut(tok, "=")
		switch {
		case hasValue && isMetaKey(key):
			if val == "" {
				return cv, &SyntaxError{Line: lineNo, Text: raw, Msg: fmt.Sprintf("empty value for %s", key)}
			}
			cv.Meta[key] = val
		case hasValue && isEngineWord(key):
			cv.Args = append(cv.Args, Arg{Key: key, Value: val})
		case hasValue:
			return cv, &SyntaxError{Line: lineNo, Text: raw, Msg: fmt.Sprintf("unknown key %q", key)}
		case isEngineWord(tok):
			cv.Args = append(cv.Args, Arg{Key: tok})
		default:
			cv.Selectors = append(cv.Selectors, tok)
		}
	}
	return cv, nil
}

func isMetaKey(key string) bool {
	switch key {
	case MetaReference, MetaAlign, MetaAction:
		return true
	}
	return false
}

// isEngineWord reports whether s looks like a PLUMED keyword or flag,
// e.g. NOPBC or R_0.
func isEngineWord(s string) bool {
	if s == "" || s[0] < 'A' || s[0] > 'Z' {
		return false
	}
	for _, c := range s {
		if !(c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_') {
			return false
		}
	}
	return true
}

func parseStep(fields []string, lineNo int, raw string) (Step, error) {
	st := Step{Line: lineNo}
	if len(fields) == 0 {
		return st, &SyntaxError{Line: lineNo, Text: raw, Msg: "step needs a time"}
	}

	t, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return st, &SyntaxError{Line: lineNo, Text: raw, Msg: fmt.Sprintf("bad step time %q", fields[0])}
	}
	st.Time = t

	var haveValues, haveForces bool
	for _, tok := range fields[1:] {
		key, val, ok := strings.Cut(tok, "=")
		if !ok || val == "" {
			return st, &SyntaxError{Line: lineNo, Text: raw, Msg: fmt.Sprintf("expected key=value, got %q", tok)}
		}
		switch strings.ToLower(key) {
		case "values":
			haveValues = true
			for _, v := range strings.Split(val, ",") {
				if _, err := ParseTarget(v); err != nil {
					return st, &SyntaxError{Line: lineNo, Text: raw, Msg: err.Error()}
				}
				st.Targets = append(st.Targets, strings.TrimSpace(v))
			}
		case "forces":
			haveForces = true
			for _, v := range strings.Split(val, ",") {
				f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
				if err != nil {
					return st, &SyntaxError{Line: lineNo, Text: raw, Msg: fmt.Sprintf("bad force %q", v)}
				}
				st.Forces = append(st.Forces, f)
			}
		default:
			return st, &SyntaxError{Line: lineNo, Text: raw, Msg: fmt.Sprintf("unknown step key %q", key)}
		}
	}
	if !haveValues || !haveForces {
		return st, &SyntaxError{Line: lineNo, Text: raw, Msg: "step needs values= and forces="}
	}
	return st, nil
}

// Validate checks the cross-line invariants of a protocol.
func (p *Protocol) Validate() error {
	if len(p.CVs) == 0 {
		return &ConsistencyError{Msg: "no collective variables declared"}
	}
	if len(p.Steps) == 0 {
		return &ConsistencyError{Msg: "no steps declared"}
	}

	seen := make(map[string]bool, len(p.CVs))
	for _, cv := range p.CVs {
		if seen[cv.ID] {
			return &ConsistencyError{Line: cv.Line, Msg: fmt.Sprintf("duplicate cv id %q", cv.ID)}
		}
		seen[cv.ID] = true
		if err := validateCV(cv); err != nil {
			return err
		}
	}

	prev := 0.0
	for i, st := range p.Steps {
		if len(st.Targets) != len(p.CVs) || len(st.Forces) != len(p.CVs) {
			return &ConsistencyError{Line: st.Line, Msg: fmt.Sprintf("step %d has %d values and %d forces for %d cvs",
				i+1, len(st.Targets), len(st.Forces), len(p.CVs))}
		}
		if math.IsNaN(st.Time) || math.IsInf(st.Time, 0) {
			return &ConsistencyError{Line: st.Line, Msg: fmt.Sprintf("step time %g is not finite", st.Time)}
		}
		if st.Time <= prev {
			return &ConsistencyError{Line: st.Line, Msg: fmt.Sprintf("step time %g does not increase (previous %g)", st.Time, prev)}
		}
		for _, f := range st.Forces {
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return &ConsistencyError{Line: st.Line, Msg: fmt.Sprintf("force %g is not finite", f)}
			}
			if f < 0 {
				return &ConsistencyError{Line: st.Line, Msg: fmt.Sprintf("negative force %g", f)}
			}
		}
		prev = st.Time
	}
	return nil
}

func validateCV(cv CollectiveVariable) error {
	n := len(cv.Selectors)
	fail := func(msg string, args ...any) error {
		return &ConsistencyError{Line: cv.Line, Msg: fmt.Sprintf("cv %q: ", cv.ID) + fmt.Sprintf(msg, args...)}
	}

	switch cv.Kind {
	case Distance:
		if n != 1 && n != 2 {
			return fail("distance takes 1 or 2 selectors, got %d", n)
		}
	case Torsion:
		if n != 1 && n != 4 {
			return fail("torsion takes 1 or 4 selectors, got %d", n)
		}
	case RMSD:
		if n != 1 {
			return fail("rmsd takes exactly 1 selector, got %d", n)
		}
		if cv.Reference() == "" {
			return fail("rmsd requires reference=")
		}
	case Custom:
		if n == 0 {
			return fail("custom needs at least one selector")
		}
		if cv.Action() == "" {
			return fail("custom requires action=")
		}
	}
	if cv.Kind != RMSD && (cv.Reference() != "" || cv.Align() != "") {
		return fail("reference= and align= only apply to rmsd")
	}
	if cv.Kind != Custom && cv.Meta[MetaAction] != "" {
		return fail("action= only applies to custom")
	}
	return nil
}
