package steering

import (
	"errors"
	"fmt"
	"math"

	"github.com/michellab/AMMo/internal/protocol"
)

// Timing fixes the MD timestep and the length of the force ramp.
type Timing struct {
	TimestepPS float64 `yaml:"timestep_ps" json:"timestep_ps"`
	RampNS     float64 `yaml:"ramp_ns" json:"ramp_ns"`
}

// DefaultTiming is a 2 fs timestep and a 4 ps ramp (2000 MD steps).
func DefaultTiming() Timing {
	return Timing{TimestepPS: 0.002, RampNS: 0.004}
}

// MDStep converts a time in ns to an MD step number.
func (t Timing) MDStep(ns float64) int64 {
	return int64(math.Round(ns * 1000 / t.TimestepPS))
}

// ExpandedStep is one fully numeric row of the restraint schedule.
type ExpandedStep struct {
	Time    float64   `json:"time_ns"`
	MDStep  int64     `json:"md_step"`
	Targets []float64 `json:"targets"`
	Forces  []float64 `json:"forces"`
}

// Expand prepends the zero-force step and the ramp step to the user
// schedule and resolves every target against baselines.
func Expand(p *protocol.Protocol, baselines Baselines, timing Timing) ([]ExpandedStep, error) {
	if timing.TimestepPS <= 0 || timing.RampNS <= 0 {
		return nil, fmt.Errorf("invalid timing %+v", timing)
	}
	if len(p.Steps) == 0 {
		return nil, &protocol.ConsistencyError{Msg: "no steps declared"}
	}
	if first := p.Steps[0].Time; first <= timing.RampNS {
		return nil, fmt.Errorf("%w: step at %g ns, ramp ends at %g ns", ErrRampOverlap, first, timing.RampNS)
	}

	n := len(p.CVs)
	base := make([]float64, n)
	for i, cv := range p.CVs {
		v, ok := baselines[cv.ID]
		if !ok {
			return nil, &EvaluationError{CV: cv.ID, Wrapped: ErrMissingBaseline}
		}
		base[i] = v
	}

	out := make([]ExpandedStep, 0, len(p.Steps)+2)
	out = append(out, ExpandedStep{
		Time:    0,
		MDStep:  0,
		Targets: base,
		Forces:  make([]float64, n),
	})
	out = append(out, ExpandedStep{
		Time:    timing.RampNS,
		MDStep:  timing.MDStep(timing.RampNS),
		Targets: append([]float64(nil), base...),
		Forces:  append([]float64(nil), p.Steps[0].Forces...),
	})

	for _, st := range p.Steps {
		targets := make([]float64, n)
		for i, expr := range st.Targets {
			v, err := ResolveTarget(expr, base[i])
			if err != nil {
				return nil, &EvaluationError{CV: p.CVs[i].ID, Wrapped: errors.Unwrap(err)}
			}
			targets[i] = v
		}
		out = append(out, ExpandedStep{
			Time:    st.Time,
			MDStep:  timing.MDStep(st.Time),
			Targets: targets,
			Forces:  append([]float64(nil), st.Forces...),
		})
	}

	for i := 1; i < len(out); i++ {
		if out[i].MDStep <= out[i-1].MDStep {
			return nil, fmt.Errorf("steps at %g and %g ns map to the same MD step", out[i-1].Time, out[i].Time)
		}
	}
	return out, nil
}
