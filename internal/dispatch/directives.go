package dispatch

import (
	"path"

	"github.com/michellab/AMMo/internal/config"
	"github.com/michellab/AMMo/internal/scheduler"
)

// seedDir is the per-seed output directory inside the run folder.
func seedDir(workDir string) string {
	return path.Join(workDir, "snapshot_"+scheduler.SeedToken)
}

// BackupDirectives returns the lines appended to the job script when a
// backup target is configured. Local runs back the seed directory up and
// delete the full trajectory only once the copy succeeded. Remote runs
// send results without the full trajectory to the workstation and without
// the dry trajectory to the backup.
func BackupDirectives(cfg *config.Config, workDir string, rel ...string) []string {
	if !cfg.Backup.Enabled() {
		return nil
	}
	src := seedDir(workDir)
	backup := cfg.Backup.Target(rel...) + "/"

	if !cfg.Remote.Enabled() {
		return []string{
			"rsync -a " + dq(src) + " " + dq(backup) + " && rm -f " + dq(path.Join(src, cfg.Files.Trajectory)),
		}
	}

	var lines []string
	if cfg.Workstation.Enabled() {
		ws := cfg.Workstation.Target(rel...) + "/"
		lines = append(lines, "rsync -a --exclude="+cfg.Files.Trajectory+" "+dq(src)+" "+dq(ws))
	}
	lines = append(lines, "rsync -a --exclude="+cfg.Files.DryTrajectory+" "+dq(src)+" "+dq(backup))
	return lines
}

// dq double-quotes s so the array index placeholder still expands.
func dq(s string) string {
	return `"` + s + `"`
}
