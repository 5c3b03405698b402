package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	HomeEnv    = "AMMO_HOME"
	ProjectEnv = "AMMO_PROJECT"

	DefaultEnsembleSize = 100
	DefaultSeedLimit    = 100000
	DefaultTimestepPS   = 0.002
	DefaultRampNS       = 0.004
	DefaultPrintStride  = 2500
	DefaultEngine       = "plumed"
	DefaultTemplate     = "slurm-gpu"
)

var ErrNoHome = errors.New("config: AMMO_HOME is not set and no home directory is available")

// Endpoint is a host and a path. An empty host means the local machine.
type Endpoint struct {
	Host string `yaml:"host"`
	Path string `yaml:"path"`
}

// Enabled reports whether the endpoint is configured.
func (e Endpoint) Enabled() bool {
	return e.Path != ""
}

// Remote reports whether the endpoint lives on another machine.
func (e Endpoint) Remote() bool {
	return e.Host != ""
}

// Join returns the endpoint path extended by elem.
func (e Endpoint) Join(elem ...string) string {
	return filepath.Join(append([]string{e.Path}, elem...)...)
}

// Target renders host:path for copy tools, or the bare path when local.
func (e Endpoint) Target(elem ...string) string {
	p := e.Join(elem...)
	if e.Host == "" {
		return p
	}
	return e.Host + ":" + p
}

type SchedulerConfig struct {
	// Template is a built-in template name or a path to a template file.
	Template string `yaml:"template"`
	// Payload is appended after the template lines.
	Payload string `yaml:"payload"`
}

type SteeringConfig struct {
	Engine       string  `yaml:"engine"`
	PlumedBinary string  `yaml:"plumed_binary"`
	TimestepPS   float64 `yaml:"timestep_ps"`
	RampNS       float64 `yaml:"ramp_ns"`
	PrintStride  int     `yaml:"print_stride"`
	// InputDir is searched for rmsd references not found as given.
	InputDir string `yaml:"input_dir"`
}

type FilesConfig struct {
	Topology      string `yaml:"topology"`
	Trajectory    string `yaml:"trajectory"`
	DryTrajectory string `yaml:"dry_trajectory"`
}

type Config struct {
	Project      string          `yaml:"project"`
	EnsembleSize int             `yaml:"ensemble_size"`
	// SeedLimit caps the largest index a seed expression may name.
	SeedLimit    int             `yaml:"seed_limit"`
	Scheduler    SchedulerConfig `yaml:"scheduler"`
	Remote       Endpoint        `yaml:"remote"`
	Backup       Endpoint        `yaml:"backup"`
	Workstation  Endpoint        `yaml:"workstation"`
	Steering     SteeringConfig  `yaml:"steering"`
	Files        FilesConfig     `yaml:"files"`
	Ledger       string          `yaml:"ledger"`
}

func DefaultConfig() *Config {
	return &Config{
		EnsembleSize: DefaultEnsembleSize,
		SeedLimit:    DefaultSeedLimit,
		Scheduler: SchedulerConfig{
			Template: DefaultTemplate,
			Payload:  "pmemd.cuda -O -i production.in -o production.out -p ../system.prm7 -c ../snapshots/snapshot_{seed}.rst7 -r production.rst7 -x production.nc",
		},
		Steering: SteeringConfig{
			Engine:       DefaultEngine,
			PlumedBinary: "plumed",
			TimestepPS:   DefaultTimestepPS,
			RampNS:       DefaultRampNS,
			PrintStride:  DefaultPrintStride,
		},
		Files: FilesConfig{
			Topology:      "system.prm7",
			Trajectory:    "production.nc",
			DryTrajectory: "production_dry.nc",
		},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Home is the installation-level selection of the active project, stored
// at $AMMO_HOME/config.
type Home struct {
	Dir      string `yaml:"-"`
	Location string `yaml:"location"`
	Project  string `yaml:"project"`
}

// HomeDir returns $AMMO_HOME, or ~/.ammo when unset.
func HomeDir() (string, error) {
	if dir := String(HomeEnv, ""); dir != "" {
		return dir, nil
	}
	user, err := os.UserHomeDir()
	if err != nil {
		return "", ErrNoHome
	}
	return filepath.Join(user, ".ammo"), nil
}

// LoadHome reads dir/config. A missing file yields an empty selection.
func LoadHome(dir string) (*Home, error) {
	h := &Home{Dir: dir}
	data, err := os.ReadFile(filepath.Join(dir, "config"))
	if errors.Is(err, os.ErrNotExist) {
		return h, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, h); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Join(dir, "config"), err)
	}
	return h, nil
}

// ProjectDir is the root of the active project.
func (h *Home) ProjectDir() string {
	if h.Location == "" || h.Project == "" {
		return ""
	}
	return filepath.Join(h.Location, h.Project)
}

// ProjectConfigPath is where the active project keeps its configuration.
func (h *Home) ProjectConfigPath() string {
	if dir := h.ProjectDir(); dir != "" {
		return filepath.Join(dir, ".defaults", "config")
	}
	return ""
}

// DefaultProjectPath is the installation-wide fallback project config.
func (h *Home) DefaultProjectPath() string {
	return filepath.Join(h.Dir, "data", "project_default")
}

// Resolve loads the project configuration for h: the project's own
// config, then the installation default, then built-in defaults. It
// returns the path the configuration came from, empty for built-ins.
func Resolve(h *Home) (*Config, string, error) {
	for _, path := range []string{h.ProjectConfigPath(), h.DefaultProjectPath()} {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			continue
		}
		cfg, err := Load(path)
		if err != nil {
			return nil, "", err
		}
		if cfg.Project == "" {
			cfg.Project = h.Project
		}
		return cfg, path, nil
	}
	cfg := DefaultConfig()
	cfg.Project = h.Project
	return cfg, "", nil
}

// ApplyEnv overrides selected fields from the environment.
func (c *Config) ApplyEnv() error {
	n, err := Int("AMMO_ENSEMBLE_SIZE", c.EnsembleSize)
	if err != nil {
		return err
	}
	c.EnsembleSize = n
	c.Steering.Engine = String("AMMO_ENGINE", c.Steering.Engine)
	c.Steering.InputDir = String("AMMO_INPUT_DIR", c.Steering.InputDir)
	return nil
}

// Validate rejects configurations that cannot drive a run.
func (c *Config) Validate() error {
	var errs []error
	if c.EnsembleSize <= 0 {
		errs = append(errs, fmt.Errorf("ensemble_size must be positive, got %d", c.EnsembleSize))
	}
	if c.SeedLimit <= 0 {
		errs = append(errs, fmt.Errorf("seed_limit must be positive, got %d", c.SeedLimit))
	} else if c.EnsembleSize > c.SeedLimit {
		errs = append(errs, fmt.Errorf("ensemble_size %d exceeds seed_limit %d", c.EnsembleSize, c.SeedLimit))
	}
	if c.Steering.TimestepPS <= 0 {
		errs = append(errs, fmt.Errorf("steering.timestep_ps must be positive"))
	}
	if c.Steering.RampNS <= 0 {
		errs = append(errs, fmt.Errorf("steering.ramp_ns must be positive"))
	}
	if strings.TrimSpace(c.Scheduler.Template) == "" {
		errs = append(errs, fmt.Errorf("scheduler.template is empty"))
	}
	if c.Workstation.Enabled() && !c.Remote.Enabled() {
		errs = append(errs, fmt.Errorf("workstation is only used with a remote endpoint"))
	}
	return errors.Join(errs...)
}

// LedgerPath is the sqlite dispatch ledger, inside the project or home.
func (c *Config) LedgerPath(h *Home) string {
	if c.Ledger != "" {
		return c.Ledger
	}
	if dir := h.ProjectDir(); dir != "" {
		return filepath.Join(dir, ".defaults", "ledger.db")
	}
	return filepath.Join(h.Dir, "ledger.db")
}
