// Package dispatch submits seeded ensembles to a batch scheduler, locally
// or on a remote host, and records every dispatch in the ledger.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/michellab/AMMo/internal/config"
	"github.com/michellab/AMMo/internal/ctxlog"
	"github.com/michellab/AMMo/internal/ledger"
	"github.com/michellab/AMMo/internal/scheduler"
	"github.com/michellab/AMMo/internal/seeds"
	"github.com/michellab/AMMo/internal/shell"
)

// Recorder stores dispatch records.
type Recorder interface {
	Record(ctx context.Context, e *ledger.Entry) error
}

type Dispatcher struct {
	Exec   shell.Executor
	Config *config.Config
	// Root is the local project directory holding <system>/<state>.
	Root   string
	Ledger Recorder
}

type Request struct {
	System   string
	State    string
	Folder   string
	Seeds    seeds.Set
	Backup   bool
	DryRun   bool
	Template []string
}

type Result struct {
	ID            string
	Dialect       scheduler.Dialect
	WorkDir       string
	Artifact      string
	Script        string
	Commands      []shell.Command
	JobIDs        []string
	TransferBytes uint64
}

// Dispatch prepares the job script for req, stages inputs on the remote
// host when one is configured and issues the submission commands. Copies
// and submissions are not rolled back on failure.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Result, error) {
	log := ctxlog.FromContext(ctx).With("system", req.System, "state", req.State, "folder", req.Folder)
	cfg := d.Config
	rel := []string{req.System, req.State, req.Folder}
	localDir := filepath.Join(append([]string{d.Root}, rel...)...)

	res := &Result{ID: uuid.NewString(), WorkDir: localDir}
	res.Artifact = "ammo-" + res.ID + ".sh"
	if cfg.Remote.Enabled() {
		res.WorkDir = cfg.Remote.Join(rel...)
	}

	if len(req.Seeds) == 0 {
		return nil, &StageError{Stage: StagePrepare, Wrapped: seeds.ErrEmpty}
	}
	snapshots, err := d.snapshots(localDir, req.Seeds)
	if err != nil {
		return nil, &StageError{Stage: StagePrepare, Wrapped: err}
	}
	topology, err := d.topology(localDir, req)
	if err != nil {
		return nil, &StageError{Stage: StagePrepare, Wrapped: err}
	}

	job, err := scheduler.NewJob(req.Template, res.WorkDir)
	if err != nil {
		return nil, &StageError{Stage: StageDetect, Wrapped: err}
	}
	res.Dialect = job.Dialect
	log.Debug("detected scheduler", "dialect", job.Dialect)

	if cfg.Scheduler.Payload != "" {
		job.Append(cfg.Scheduler.Payload)
	}
	if !job.HasSeedToken() {
		log.Warn("job never refers to " + scheduler.SeedToken + "; every task runs the same command")
	}
	if req.Backup {
		if !cfg.Backup.Enabled() {
			log.Warn("backup requested but no backup endpoint configured")
		} else if cfg.Remote.Enabled() && !cfg.Workstation.Enabled() {
			log.Warn("no workstation configured; results only go to the backup")
		}
		job.Append(BackupDirectives(cfg, res.WorkDir, rel...)...)
	}
	res.Script = job.Script()

	res.Commands, err = scheduler.Build(job, req.Seeds, res.Artifact)
	if err != nil {
		return nil, &StageError{Stage: StageDetect, Wrapped: err}
	}
	res.TransferBytes = sizeOf(append([]string{topology}, snapshots...)...)

	entry := &ledger.Entry{
		ID:      res.ID,
		System:  req.System,
		State:   req.State,
		Folder:  req.Folder,
		Dialect: job.Dialect.String(),
		Seeds:   req.Seeds.String(),
	}
	if cfg.Remote.Enabled() {
		entry.Remote = cfg.Remote.Target(rel...)
	}
	if req.Backup && cfg.Backup.Enabled() {
		entry.Backup = cfg.Backup.Target(rel...)
	}
	for _, c := range res.Commands {
		entry.Commands = append(entry.Commands, c.String())
	}

	if req.DryRun {
		entry.Status = ledger.StatusDryRun
		d.record(ctx, entry)
		return res, nil
	}

	if cfg.Remote.Enabled() {
		err = d.submitRemote(ctx, res, job, topology, snapshots)
	} else {
		err = d.submitLocal(ctx, res, localDir, topology)
	}

	switch {
	case err == nil:
		entry.Status = ledger.StatusSubmitted
	case len(res.JobIDs) > 0:
		entry.Status = ledger.StatusPartial
	default:
		entry.Status = ledger.StatusFailed
	}
	if err != nil {
		entry.Error = err.Error()
	}
	entry.JobIDs = res.JobIDs
	d.record(ctx, entry)

	if err != nil {
		return res, &StageError{Stage: StageSubmit, Wrapped: err}
	}
	log.Info("dispatched ensemble", "id", res.ID, "jobs", strings.Join(res.JobIDs, ","), "seeds", req.Seeds.String())
	return res, nil
}

func (d *Dispatcher) record(ctx context.Context, e *ledger.Entry) {
	if d.Ledger == nil {
		return
	}
	if err := d.Ledger.Record(ctx, e); err != nil {
		ctxlog.FromContext(ctx).Warn("could not record dispatch", "id", e.ID, "error", err)
	}
}

func (d *Dispatcher) snapshots(localDir string, set seeds.Set) ([]string, error) {
	out := make([]string, 0, len(set))
	var missing []string
	for _, s := range set {
		p := filepath.Join(localDir, "snapshots", fmt.Sprintf("snapshot_%d.rst7", s))
		if _, err := os.Stat(p); err != nil {
			missing = append(missing, fmt.Sprint(s))
			continue
		}
		out = append(out, p)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingSnapshot, strings.Join(missing, ","))
	}
	return out, nil
}

// topology prefers the run folder, then the system setup of the state.
func (d *Dispatcher) topology(localDir string, req Request) (string, error) {
	name := d.Config.Files.Topology
	candidates := []string{
		filepath.Join(localDir, name),
		filepath.Join(d.Root, req.System, req.State, "system-setup", name),
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: tried %s", ErrMissingTopology, strings.Join(candidates, ", "))
}

func (d *Dispatcher) run(ctx context.Context, op, target string, cmd shell.Command) (string, error) {
	ctxlog.FromContext(ctx).Debug("running", "cmd", cmd.String())
	out, err := d.Exec.Run(ctx, cmd)
	if err != nil {
		return out, &TransferError{Op: op, Target: target, Wrapped: err}
	}
	return out, nil
}

func (d *Dispatcher) submitRemote(ctx context.Context, res *Result, job *scheduler.Job, topology string, snapshots []string) error {
	log := ctxlog.FromContext(ctx)
	host := d.Config.Remote.Host
	dir := res.WorkDir

	if _, err := d.run(ctx, "mkdir", host+":"+dir,
		shell.Ssh(host, "mkdir -p "+shell.Quote(filepath.Join(dir, "snapshots")))); err != nil {
		return err
	}

	log.Info("copying inputs", "host", host, "files", len(snapshots)+1, "size", humanize.Bytes(res.TransferBytes))
	target := host + ":" + filepath.Join(dir, filepath.Base(topology))
	if _, err := d.run(ctx, "scp", target, shell.Command{Name: "scp", Args: []string{topology, target}}); err != nil {
		return err
	}
	target = host + ":" + filepath.Join(dir, "snapshots") + "/"
	args := append(append([]string{}, snapshots...), target)
	if _, err := d.run(ctx, "scp", target, shell.Command{Name: "scp", Args: args}); err != nil {
		return err
	}

	local, err := os.CreateTemp("", "ammo-*.sh")
	if err != nil {
		return err
	}
	defer os.Remove(local.Name())
	if _, err := io.WriteString(local, res.Script); err != nil {
		local.Close()
		return err
	}
	if err := local.Close(); err != nil {
		return err
	}
	target = host + ":" + filepath.Join(dir, res.Artifact)
	if _, err := d.run(ctx, "scp", target, shell.Command{Name: "scp", Args: []string{local.Name(), target}}); err != nil {
		return err
	}

	return d.submitAll(ctx, res, job.Dialect, func(c shell.Command) shell.Command {
		return shell.Ssh(host, "cd "+shell.Quote(dir)+" && "+c.String())
	})
}

func (d *Dispatcher) submitLocal(ctx context.Context, res *Result, localDir, topology string) error {
	if want := filepath.Join(localDir, filepath.Base(topology)); want != topology {
		if err := copyFile(topology, want); err != nil {
			return err
		}
	}

	artifact := filepath.Join(localDir, res.Artifact)
	if err := os.WriteFile(artifact, []byte(res.Script), 0o755); err != nil {
		return err
	}
	defer os.Remove(artifact)

	return d.submitAll(ctx, res, res.Dialect, func(c shell.Command) shell.Command {
		c.Dir = localDir
		return c
	})
}

// submitAll issues every command even when earlier ones fail; failures
// are joined.
func (d *Dispatcher) submitAll(ctx context.Context, res *Result, dialect scheduler.Dialect, wrap func(shell.Command) shell.Command) error {
	log := ctxlog.FromContext(ctx)
	var errs []error
	for _, c := range res.Commands {
		out, err := d.Exec.Run(ctx, wrap(c))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.String(), err))
			continue
		}
		id, err := scheduler.ParseJobID(dialect, out)
		if err != nil {
			log.Warn("submitted but no job id", "cmd", c.String(), "output", out)
			continue
		}
		res.JobIDs = append(res.JobIDs, id)
		log.Info("submitted", "cmd", c.String(), "job", id)
	}
	return errors.Join(errs...)
}

func sizeOf(paths ...string) uint64 {
	var total uint64
	for _, p := range paths {
		if info, err := os.Stat(p); err == nil {
			total += uint64(info.Size())
		}
	}
	return total
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
