package steering

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/michellab/AMMo/internal/ctxlog"
	"github.com/michellab/AMMo/internal/shell"
)

// Baselines maps CV ids to their value on the starting structure, in
// PLUMED units (nm, rad).
type Baselines map[string]float64

// Probe measures every CV on a structure without modifying it.
type Probe interface {
	Name() string
	Measure(ctx context.Context, cvs []ResolvedCV, st *Structure) (Baselines, error)
}

// Evaluate runs probe once and checks that every CV received a finite value.
func Evaluate(ctx context.Context, probe Probe, cvs []ResolvedCV, st *Structure) (Baselines, error) {
	log := ctxlog.FromContext(ctx)
	log.Debug("measuring initial values", "probe", probe.Name(), "cvs", len(cvs), "structure", st.Path)

	values, err := probe.Measure(ctx, cvs, st)
	if err != nil {
		var evalErr *EvaluationError
		if errors.As(err, &evalErr) {
			return nil, err
		}
		return nil, &EvaluationError{Wrapped: fmt.Errorf("%s probe: %w", probe.Name(), err)}
	}
	for _, cv := range cvs {
		v, ok := values[cv.ID]
		if !ok {
			return nil, &EvaluationError{CV: cv.ID, Wrapped: ErrMissingBaseline}
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, &EvaluationError{CV: cv.ID, Wrapped: fmt.Errorf("probe returned %v", v)}
		}
		log.Info("initial value", "cv", cv.ID, "kind", cv.Kind, "value", v)
	}
	return values, nil
}

// ProbeFactory builds a probe around a process executor.
type ProbeFactory func(exec shell.Executor) Probe

// Registry maps engine names to probe constructors.
type Registry struct {
	probes map[string]ProbeFactory
}

func NewRegistry() *Registry {
	r := &Registry{probes: make(map[string]ProbeFactory)}
	r.probes["plumed"] = func(exec shell.Executor) Probe { return NewPlumedProbe(exec) }
	r.probes["native"] = func(shell.Executor) Probe { return NativeProbe{} }
	return r
}

// Register adds or replaces a probe constructor.
func (r *Registry) Register(name string, fn ProbeFactory) {
	r.probes[name] = fn
}

func (r *Registry) Get(name string, exec shell.Executor) (Probe, error) {
	fn, ok := r.probes[name]
	if !ok {
		return nil, fmt.Errorf("unknown engine: %s", name)
	}
	return fn(exec), nil
}

func (r *Registry) List() []string {
	names := make([]string, 0, len(r.probes))
	for name := range r.probes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
