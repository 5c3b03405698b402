package selection

import (
	"fmt"
	"strconv"
	"strings"
)

// matcher decides whether atom i of a topology belongs to a mask term.
type matcher func(top Topology, i int) bool

// compile turns an AMBER-style mask into a matcher. Precedence, from
// lowest: '|', '&', '!'. Parentheses are not supported.
func compile(mask string) (matcher, error) {
	mask = strings.TrimSpace(mask)
	if mask == "" {
		return nil, fmt.Errorf("empty mask")
	}

	var alts []matcher
	for _, alt := range strings.Split(mask, "|") {
		var all []matcher
		for _, term := range strings.Split(alt, "&") {
			m, err := compileTerm(strings.TrimSpace(term))
			if err != nil {
				return nil, err
			}
			all = append(all, m)
		}
		alts = append(alts, and(all))
	}
	return or(alts), nil
}

func and(ms []matcher) matcher {
	return func(top Topology, i int) bool {
		for _, m := range ms {
			if !m(top, i) {
				return false
			}
		}
		return true
	}
}

func or(ms []matcher) matcher {
	return func(top Topology, i int) bool {
		for _, m := range ms {
			if m(top, i) {
				return true
			}
		}
		return false
	}
}

func compileTerm(term string) (matcher, error) {
	switch {
	case term == "":
		return nil, fmt.Errorf("empty term")
	case strings.HasPrefix(term, "!"):
		inner, err := compileTerm(strings.TrimSpace(term[1:]))
		if err != nil {
			return nil, err
		}
		return func(top Topology, i int) bool { return !inner(top, i) }, nil
	case term == "*":
		return func(Topology, int) bool { return true }, nil
	case strings.HasPrefix(term, ":"):
		resPart, atomPart, hasAtoms := strings.Cut(term[1:], "@")
		res, err := residueMatcher(resPart)
		if err != nil {
			return nil, err
		}
		if !hasAtoms {
			return res, nil
		}
		atoms, err := atomMatcher(atomPart)
		if err != nil {
			return nil, err
		}
		return and([]matcher{res, atoms}), nil
	case strings.HasPrefix(term, "@"):
		return atomMatcher(term[1:])
	default:
		return nil, fmt.Errorf("term %q must start with ':', '@', '!' or be '*'", term)
	}
}

// numberSet holds inclusive integer ranges and names parsed from a list
// such as "1-10,15,ALA".
type numberSet struct {
	ranges [][2]int
	names  map[string]bool
	any    bool
}

func parseList(list string) (*numberSet, error) {
	set := &numberSet{names: make(map[string]bool)}
	if strings.TrimSpace(list) == "" {
		return nil, fmt.Errorf("empty list")
	}
	for _, item := range strings.Split(list, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			return nil, fmt.Errorf("empty list entry in %q", list)
		}
		if item == "*" {
			set.any = true
			continue
		}
		if item[0] < '0' || item[0] > '9' {
			set.names[item] = true
			continue
		}
		lo, hi, isRange := strings.Cut(item, "-")
		a, err := strconv.Atoi(lo)
		if err != nil {
			return nil, fmt.Errorf("bad number %q", item)
		}
		b := a
		if isRange {
			b, err = strconv.Atoi(hi)
			if err != nil {
				return nil, fmt.Errorf("bad range %q", item)
			}
			if b < a {
				return nil, fmt.Errorf("range %q ends before it starts", item)
			}
		}
		set.ranges = append(set.ranges, [2]int{a, b})
	}
	return set, nil
}

func (s *numberSet) has(n int, name string) bool {
	if s.any || s.names[name] {
		return true
	}
	for _, r := range s.ranges {
		if n >= r[0] && n <= r[1] {
			return true
		}
	}
	return false
}

func residueMatcher(list string) (matcher, error) {
	set, err := parseList(list)
	if err != nil {
		return nil, fmt.Errorf("residue list: %w", err)
	}
	return func(top Topology, i int) bool {
		at := top.Atom(i)
		return set.has(at.MolID, strings.TrimSpace(at.MolName))
	}, nil
}

func atomMatcher(list string) (matcher, error) {
	set, err := parseList(list)
	if err != nil {
		return nil, fmt.Errorf("atom list: %w", err)
	}
	return func(top Topology, i int) bool {
		return set.has(i+1, strings.TrimSpace(top.Atom(i).Name))
	}, nil
}
