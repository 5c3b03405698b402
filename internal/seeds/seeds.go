// Package seeds expands seed expressions such as "1-5" or "1,3,7" into
// ordered sets of ensemble member indices.
package seeds

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

var (
	// ErrEmpty is returned when an expression contains no seed indices.
	ErrEmpty = errors.New("seeds: empty seed expression")

	// ErrLimit is returned when an expression names an index above the limit.
	ErrLimit = errors.New("seeds: index above limit")
)

// DefaultLimit is the largest seed index Expand accepts.
const DefaultLimit = 100000

// ParseError reports a malformed seed range or list.
type ParseError struct {
	Expr    string
	Token   string
	Wrapped error
}

func (e *ParseError) Error() string {
	if e.Token == "" {
		return fmt.Sprintf("seeds: cannot parse %q: %v", e.Expr, e.Wrapped)
	}
	return fmt.Sprintf("seeds: cannot parse %q at %q: %v", e.Expr, e.Token, e.Wrapped)
}

func (e *ParseError) Unwrap() error {
	return e.Wrapped
}

// Set is an ascending sequence of unique positive seed indices.
type Set []int

// Expand parses a comma separated list of indices and inclusive ranges.
// Overlapping entries are merged and the result is sorted ascending.
func Expand(expr string) (Set, error) {
	return ExpandLimit(expr, DefaultLimit)
}

// ExpandLimit is Expand with indices capped at limit; limit <= 0 means
// DefaultLimit.
func ExpandLimit(expr string, limit int) (Set, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	tooLarge := func(n int) error {
		return fmt.Errorf("%w: %d > %d", ErrLimit, n, limit)
	}
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, &ParseError{Expr: expr, Wrapped: ErrEmpty}
	}

	var out []int
	for _, part := range strings.Split(expr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, &ParseError{Expr: expr, Token: part, Wrapped: errors.New("empty entry")}
		}

		lo, hi, isRange := strings.Cut(part, "-")
		if !isRange {
			n, err := positive(part)
			if err != nil {
				return nil, &ParseError{Expr: expr, Token: part, Wrapped: err}
			}
			if n > limit {
				return nil, &ParseError{Expr: expr, Token: part, Wrapped: tooLarge(n)}
			}
			out = append(out, n)
			continue
		}

		a, err := positive(lo)
		if err != nil {
			return nil, &ParseError{Expr: expr, Token: part, Wrapped: err}
		}
		b, err := positive(hi)
		if err != nil {
			return nil, &ParseError{Expr: expr, Token: part, Wrapped: err}
		}
		if b < a {
			return nil, &ParseError{Expr: expr, Token: part, Wrapped: errors.New("range end before start")}
		}
		if b > limit {
			return nil, &ParseError{Expr: expr, Token: part, Wrapped: tooLarge(b)}
		}
		for n := a; n <= b; n++ {
			out = append(out, n)
		}
	}

	slices.Sort(out)
	return Set(slices.Compact(out)), nil
}

// Range returns the set 1..n.
func Range(n int) Set {
	s := make(Set, n)
	for i := range s {
		s[i] = i + 1
	}
	return s
}

func positive(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("not an integer: %w", err)
	}
	if n < 1 {
		return 0, fmt.Errorf("seed index %d is not positive", n)
	}
	return n, nil
}

func (s Set) Min() int {
	if len(s) == 0 {
		return 0
	}
	return s[0]
}

func (s Set) Max() int {
	if len(s) == 0 {
		return 0
	}
	return s[len(s)-1]
}

// Contiguous reports whether s equals Min()..Max() with no gaps.
func (s Set) Contiguous() bool {
	if len(s) == 0 {
		return false
	}
	return s.Max()-s.Min()+1 == len(s)
}

// Runs splits the set into maximal contiguous runs.
func (s Set) Runs() [][2]int {
	var runs [][2]int
	for i, n := range s {
		if i > 0 && n == s[i-1]+1 {
			runs[len(runs)-1][1] = n
			continue
		}
		runs = append(runs, [2]int{n, n})
	}
	return runs
}

// String renders the set in compact form, e.g. "1-3,7,9-10".
func (s Set) String() string {
	parts := make([]string, 0, len(s))
	for _, r := range s.Runs() {
		if r[0] == r[1] {
			parts = append(parts, strconv.Itoa(r[0]))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", r[0], r[1]))
		}
	}
	return strings.Join(parts, ",")
}
