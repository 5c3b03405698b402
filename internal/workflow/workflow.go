// Package workflow runs multi-stage YAML workflows: steering compiles
// followed by seeded ensemble dispatches, one stage at a time.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/michellab/AMMo/internal/config"
	"github.com/michellab/AMMo/internal/ctxlog"
	"github.com/michellab/AMMo/internal/dispatch"
	"github.com/michellab/AMMo/internal/seeds"
	"github.com/michellab/AMMo/internal/shell"
	"github.com/michellab/AMMo/internal/steering"
	"github.com/michellab/AMMo/internal/storage"
	"gopkg.in/yaml.v3"
)

var (
	ErrNoStages = errors.New("workflow: no stages")

	// ErrStageKind indicates a stage with neither or both of steer and seeded.
	ErrStageKind = errors.New("workflow: stage must set exactly one of steer or seeded")
)

// Workflow is a scripted sequence of stages.
type Workflow struct {
	Name        string  `yaml:"name"`
	Description string  `yaml:"description"`
	Stages      []Stage `yaml:"stages"`

	// BaseDir anchors relative paths; the workflow file's directory.
	BaseDir string `yaml:"-"`
}

type Stage struct {
	Name   string       `yaml:"name"`
	Steer  *SteerStage  `yaml:"steer"`
	Seeded *SeededStage `yaml:"seeded"`
}

// SteerStage compiles a steering protocol.
type SteerStage struct {
	Structure string `yaml:"structure"`
	Topology  string `yaml:"topology"`
	Protocol  string `yaml:"protocol"`
	Out       string `yaml:"out"`
	Engine    string `yaml:"engine"`
	InputDir  string `yaml:"input_dir"`
}

// SeededStage dispatches an ensemble.
type SeededStage struct {
	System   string `yaml:"system"`
	State    string `yaml:"state"`
	Folder   string `yaml:"folder"`
	Seeds    string `yaml:"seeds"`
	Backup   *bool  `yaml:"backup"`
	Template string `yaml:"template"`
	DryRun   bool   `yaml:"dry_run"`
}

// Kind names the stage type.
func (s Stage) Kind() string {
	if s.Steer != nil {
		return "steer"
	}
	return "seeded"
}

// Load reads a workflow from a YAML file.
func Load(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var wf Workflow
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	wf.BaseDir = filepath.Dir(path)
	if err := wf.Validate(); err != nil {
		return nil, err
	}
	return &wf, nil
}

func (w *Workflow) Validate() error {
	if len(w.Stages) == 0 {
		return ErrNoStages
	}
	var errs []error
	for i, s := range w.Stages {
		if (s.Steer == nil) == (s.Seeded == nil) {
			errs = append(errs, fmt.Errorf("stage %d: %w", i+1, ErrStageKind))
			continue
		}
		if s.Steer != nil && (s.Steer.Structure == "" || s.Steer.Protocol == "") {
			errs = append(errs, fmt.Errorf("stage %d: steer needs structure and protocol", i+1))
		}
		if s.Seeded != nil && (s.Seeded.System == "" || s.Seeded.State == "") {
			errs = append(errs, fmt.Errorf("stage %d: seeded needs system and state", i+1))
		}
	}
	return errors.Join(errs...)
}

func (w *Workflow) path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(w.BaseDir, p)
}

// StageResult holds the outcome of one stage; exactly one field is set.
type StageResult struct {
	Name     string
	Steering *steering.Result
	RunID    string
	Dispatch *dispatch.Result
}

// Runner executes workflows against one project configuration.
type Runner struct {
	Config     *config.Config
	Exec       shell.Executor
	Probes     *steering.Registry
	Dispatcher *dispatch.Dispatcher
	// Store, when set, keeps every compiled steering run.
	Store *storage.Store
}

// Run executes stages in order and stops at the first failure. Results of
// the completed stages are returned with the error.
func (r *Runner) Run(ctx context.Context, wf *Workflow) ([]StageResult, error) {
	log := ctxlog.FromContext(ctx)
	results := make([]StageResult, 0, len(wf.Stages))

	for i, stage := range wf.Stages {
		name := stage.Name
		if name == "" {
			name = fmt.Sprintf("%s-%d", stage.Kind(), i+1)
		}
		log.Info("running stage", "stage", name, "n", i+1, "of", len(wf.Stages))

		res := StageResult{Name: name}
		var err error
		if stage.Steer != nil {
			res.Steering, res.RunID, err = r.steer(ctx, wf, stage.Steer)
		} else {
			res.Dispatch, err = r.seeded(ctx, wf, stage.Seeded)
		}
		if err != nil {
			return results, fmt.Errorf("stage %d (%s): %w", i+1, name, err)
		}
		results = append(results, res)
	}
	return results, nil
}

func (r *Runner) steer(ctx context.Context, wf *Workflow, s *SteerStage) (*steering.Result, string, error) {
	engine := s.Engine
	if engine == "" {
		engine = r.Config.Steering.Engine
	}
	inputDir := wf.path(s.InputDir)
	if inputDir == "" {
		inputDir = r.Config.Steering.InputDir
	}
	c, err := NewCompiler(r.Config, r.Probes, r.Exec, engine, inputDir)
	if err != nil {
		return nil, "", err
	}

	out := s.Out
	if out == "" {
		out = filepath.Join("steering", "plumed.dat")
	}
	protocolPath := wf.path(s.Protocol)
	res, err := c.Compile(ctx, steering.Request{
		Structure: wf.path(s.Structure),
		Topology:  wf.path(s.Topology),
		Protocol:  protocolPath,
		Output:    wf.path(out),
	})
	if err != nil {
		return nil, "", err
	}

	if r.Store == nil {
		return res, "", nil
	}
	id, err := r.Store.Save(protocolPath, engine, res)
	if err != nil {
		ctxlog.FromContext(ctx).Warn("could not store steering run", "error", err)
	}
	return res, id, nil
}

func (r *Runner) seeded(ctx context.Context, wf *Workflow, s *SeededStage) (*dispatch.Result, error) {
	expr := s.Seeds
	if expr == "" {
		expr = fmt.Sprintf("1-%d", r.Config.EnsembleSize)
	}
	set, err := seeds.ExpandLimit(expr, r.Config.SeedLimit)
	if err != nil {
		return nil, err
	}

	cfg := *r.Config
	if s.Template != "" {
		// Template files are relative to the workflow, built-ins by name.
		cfg.Scheduler.Template = s.Template
		if _, ok := config.GetTemplate(s.Template); !ok {
			cfg.Scheduler.Template = wf.path(s.Template)
		}
	}
	lines, err := cfg.TemplateLines()
	if err != nil {
		return nil, err
	}

	folder := s.Folder
	if folder == "" {
		folder = "seeded-md"
	}
	backup := true
	if s.Backup != nil {
		backup = *s.Backup
	}
	return r.Dispatcher.Dispatch(ctx, dispatch.Request{
		System:   s.System,
		State:    s.State,
		Folder:   folder,
		Seeds:    set,
		Backup:   backup,
		DryRun:   s.DryRun,
		Template: lines,
	})
}

// NewCompiler builds a steering compiler for engine from cfg.
func NewCompiler(cfg *config.Config, probes *steering.Registry, exec shell.Executor, engine, inputDir string) (*steering.Compiler, error) {
	probe, err := probes.Get(engine, exec)
	if err != nil {
		return nil, err
	}
	if pp, ok := probe.(*steering.PlumedProbe); ok && cfg.Steering.PlumedBinary != "" {
		pp.Binary = cfg.Steering.PlumedBinary
	}
	return &steering.Compiler{
		Probe:    probe,
		Exec:     exec,
		InputDir: inputDir,
		Timing: steering.Timing{
			TimestepPS: cfg.Steering.TimestepPS,
			RampNS:     cfg.Steering.RampNS,
		},
		Emit: steering.EmitOptions{
			PrintStride: cfg.Steering.PrintStride,
			ColvarFile:  steering.DefaultEmitOptions().ColvarFile,
		},
	}, nil
}
