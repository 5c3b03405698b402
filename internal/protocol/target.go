package protocol

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// InitialToken stands for the value of a CV on the starting structure.
const InitialToken = "initial"

// Target is a parsed target expression: a literal, or InitialToken with an
// optional binary operation against a literal.
type Target struct {
	Literal  float64
	Relative bool
	Op       byte
	Operand  float64
}

// ParseTarget parses expressions like "1.5", "initial", "initial/2" or
// "initial+5.2".
func ParseTarget(expr string) (Target, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Target{}, errors.New("empty target")
	}

	rest, ok := strings.CutPrefix(expr, InitialToken)
	if !ok {
		v, err := strconv.ParseFloat(expr, 64)
		if err != nil {
			return Target{}, fmt.Errorf("target %q is neither a number nor an expression over %q", expr, InitialToken)
		}
		if !finite(v) {
			return Target{}, fmt.Errorf("target %q is not finite", expr)
		}
		return Target{Literal: v}, nil
	}

	rest = strings.TrimSpace(rest)
	if rest == "" {
		return Target{Relative: true}, nil
	}

	op := rest[0]
	switch op {
	case '+', '-', '*', '/':
	default:
		return Target{}, fmt.Errorf("target %q: unsupported operator %q", expr, op)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(rest[1:]), 64)
	if err != nil || !finite(v) {
		return Target{}, fmt.Errorf("target %q: operand is not a finite number", expr)
	}
	if op == '/' && v == 0 {
		return Target{}, fmt.Errorf("target %q: division by zero", expr)
	}
	return Target{Relative: true, Op: op, Operand: v}, nil
}

// Eval returns the numeric target given the CV baseline.
func (t Target) Eval(initial float64) float64 {
	if !t.Relative {
		return t.Literal
	}
	switch t.Op {
	case '+':
		return initial + t.Operand
	case '-':
		return initial - t.Operand
	case '*':
		return initial * t.Operand
	case '/':
		return initial / t.Operand
	}
	return initial
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
