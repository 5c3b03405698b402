package steering

import (
	"fmt"
	"math"

	"github.com/michellab/AMMo/internal/protocol"
)

// ResolveTarget evaluates a target expression such as "initial/2"
// against the baseline value of its CV.
func ResolveTarget(expr string, baseline float64) (float64, error) {
	t, err := protocol.ParseTarget(expr)
	if err != nil {
		return 0, &EvaluationError{Wrapped: err}
	}
	v := t.Eval(baseline)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &EvaluationError{Wrapped: fmt.Errorf("target %q is not a finite number", expr)}
	}
	return v, nil
}
