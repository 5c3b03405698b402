package dispatch_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/michellab/AMMo/internal/config"
	"github.com/michellab/AMMo/internal/dispatch"
	"github.com/michellab/AMMo/internal/ledger"
	"github.com/michellab/AMMo/internal/scheduler"
	"github.com/michellab/AMMo/internal/seeds"
	"github.com/michellab/AMMo/internal/shell"
)

type fakeLedger struct {
	entries []ledger.Entry
}

func (f *fakeLedger) Record(_ context.Context, e *ledger.Entry) error {
	f.entries = append(f.entries, *e)
	return nil
}

var (
	slurmTemplate = []string{"#!/bin/bash", "#SBATCH --job-name=test", "cd snapshot_{seed}"}
	sgeTemplate   = []string{"#!/bin/bash", "#$ -N test", "cd snapshot_{seed}"}
)

// remoteWords splits the words ssh joins for the remote side the way the
// remote login shell would.
func remoteWords(ctx context.Context, args []string) []string {
	script := "set -- " + strings.Join(args, " ") + `; printf '%s\n' "$@"`
	out, err := shell.OS{}.Run(ctx, shell.Command{Name: "sh", Args: []string{"-c", script}})
	Expect(err).NotTo(HaveOccurred())
	return strings.Split(out, "\n")
}

func writeFile(path string) {
	Expect(os.MkdirAll(filepath.Dir(path), 0o755)).To(Succeed())
	Expect(os.WriteFile(path, []byte("data\n"), 0o644)).To(Succeed())
}

var _ = Describe("Dispatcher", func() {
	var (
		root     string
		folder   string
		cfg      *config.Config
		rec      *shell.Recorder
		book     *fakeLedger
		d        *dispatch.Dispatcher
		ctx      context.Context
		request  dispatch.Request
		allSeeds seeds.Set
	)

	BeforeEach(func() {
		root = GinkgoT().TempDir()
		folder = filepath.Join(root, "kras", "seeded-md", "run1")
		for _, n := range []string{"1", "2", "3", "5"} {
			writeFile(filepath.Join(folder, "snapshots", "snapshot_"+n+".rst7"))
		}
		writeFile(filepath.Join(root, "kras", "seeded-md", "system-setup", "system.prm7"))

		cfg = config.DefaultConfig()
		rec = &shell.Recorder{Handler: func(c shell.Command) (string, error) {
			return "Submitted batch job 42", nil
		}}
		book = &fakeLedger{}
		d = &dispatch.Dispatcher{Exec: rec, Config: cfg, Root: root, Ledger: book}
		ctx = context.Background()

		allSeeds = seeds.Set{1, 2, 3}
		request = dispatch.Request{
			System:   "kras",
			State:    "seeded-md",
			Folder:   "run1",
			Seeds:    allSeeds,
			Template: slurmTemplate,
		}
	})

	Context("on the local machine", func() {
		It("submits one slurm array from the run folder", func() {
			res, err := d.Dispatch(ctx, request)
			Expect(err).NotTo(HaveOccurred())

			cmds := rec.Commands()
			Expect(cmds).To(HaveLen(1))
			Expect(cmds[0].Name).To(Equal("sbatch"))
			Expect(cmds[0].Args).To(Equal([]string{"--array=1-3", res.Artifact}))
			Expect(cmds[0].Dir).To(Equal(folder))
			Expect(res.JobIDs).To(Equal([]string{"42"}))
		})

		It("copies the setup topology and removes the artifact", func() {
			res, err := d.Dispatch(ctx, request)
			Expect(err).NotTo(HaveOccurred())
			Expect(filepath.Join(folder, "system.prm7")).To(BeAnExistingFile())
			Expect(filepath.Join(folder, res.Artifact)).NotTo(BeAnExistingFile())
		})

		It("renders the working directory and the seed placeholder", func() {
			res, err := d.Dispatch(ctx, request)
			Expect(err).NotTo(HaveOccurred())

			lines := strings.Split(res.Script, "\n")
			Expect(lines[1]).To(Equal("#SBATCH --chdir=" + folder))
			Expect(res.Script).To(ContainSubstring("cd snapshot_$SLURM_ARRAY_TASK_ID"))
			Expect(res.Script).To(ContainSubstring("pmemd.cuda"))
			Expect(res.Script).NotTo(ContainSubstring(scheduler.SeedToken))
		})

		It("records the dispatch", func() {
			res, err := d.Dispatch(ctx, request)
			Expect(err).NotTo(HaveOccurred())
			Expect(book.entries).To(HaveLen(1))
			Expect(book.entries[0].ID).To(Equal(res.ID))
			Expect(book.entries[0].Status).To(Equal(ledger.StatusSubmitted))
			Expect(book.entries[0].Seeds).To(Equal("1-3"))
		})

		It("backs results up and drops the full trajectory", func() {
			cfg.Backup = config.Endpoint{Path: "/backup"}
			request.Backup = true

			res, err := d.Dispatch(ctx, request)
			Expect(err).NotTo(HaveOccurred())
			src := filepath.Join(folder, "snapshot_$SLURM_ARRAY_TASK_ID")
			Expect(res.Script).To(ContainSubstring(`rsync -a "` + src + `" "/backup/kras/seeded-md/run1/" && rm -f "` + src + `/production.nc"`))
		})

		DescribeTable("keeps the trajectory unless the backup copy succeeds",
			func(status int, kept bool) {
				cfg.Backup = config.Endpoint{Path: filepath.Join(root, "backup")}
				stubs := filepath.Join(root, "bin")
				Expect(os.MkdirAll(stubs, 0o755)).To(Succeed())
				Expect(os.WriteFile(filepath.Join(stubs, "rsync"),
					[]byte(fmt.Sprintf("#!/bin/sh\nexit %d\n", status)), 0o755)).To(Succeed())
				trajectory := filepath.Join(folder, "snapshot_1", "production.nc")
				writeFile(trajectory)

				lines := dispatch.BackupDirectives(cfg, folder, "kras", "seeded-md", "run1")
				script := "PATH=" + shell.Quote(stubs) + ":$PATH\n" +
					strings.ReplaceAll(strings.Join(lines, "\n"), scheduler.SeedToken, "1")
				_, _ = shell.OS{}.Run(ctx, shell.Command{Name: "sh", Args: []string{"-c", script}})

				if kept {
					Expect(trajectory).To(BeAnExistingFile())
				} else {
					Expect(trajectory).NotTo(BeAnExistingFile())
				}
			},
			Entry("rsync fails", 23, true),
			Entry("rsync succeeds", 0, false),
		)
	})

	Context("on a remote cluster", func() {
		BeforeEach(func() {
			cfg.Remote = config.Endpoint{Host: "hpc", Path: "/scratch"}
		})

		It("stages inputs before submitting over ssh", func() {
			res, err := d.Dispatch(ctx, request)
			Expect(err).NotTo(HaveOccurred())

			Expect(rec.Names()).To(Equal([]string{"ssh", "scp", "scp", "scp", "ssh"}))
			cmds := rec.Commands()
			Expect(cmds[0].Args).To(Equal([]string{"hpc", "bash -lc 'mkdir -p /scratch/kras/seeded-md/run1/snapshots'"}))
			Expect(cmds[2].Args).To(HaveLen(4))
			Expect(cmds[3].Args[1]).To(Equal("hpc:/scratch/kras/seeded-md/run1/" + res.Artifact))
			Expect(cmds[4].Args).To(Equal([]string{"hpc", "bash -lc 'cd /scratch/kras/seeded-md/run1 && sbatch --array=1-3 " + res.Artifact + "'"}))
			Expect(res.WorkDir).To(Equal("/scratch/kras/seeded-md/run1"))
		})

		It("sends each remote line as a single word the login shell splits back", func() {
			cfg.Remote = config.Endpoint{Host: "hpc", Path: "/scratch/it's mine"}
			res, err := d.Dispatch(ctx, request)
			Expect(err).NotTo(HaveOccurred())

			dir := shell.Quote("/scratch/it's mine/kras/seeded-md/run1")
			want := map[int]string{
				0: "mkdir -p " + shell.Quote("/scratch/it's mine/kras/seeded-md/run1/snapshots"),
				4: "cd " + dir + " && sbatch --array=1-3 " + res.Artifact,
			}
			cmds := rec.Commands()
			for i, line := range want {
				Expect(cmds[i].Name).To(Equal("ssh"))
				Expect(cmds[i].Args).To(HaveLen(2))
				Expect(remoteWords(ctx, cmds[i].Args[1:])).To(Equal([]string{"bash", "-lc", line}))
			}
		})

		It("sends results to the workstation and the backup", func() {
			cfg.Workstation = config.Endpoint{Host: "ws", Path: "/home/me"}
			cfg.Backup = config.Endpoint{Host: "store", Path: "/backup"}
			request.Backup = true

			res, err := d.Dispatch(ctx, request)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Script).To(ContainSubstring(`rsync -a --exclude=production.nc "/scratch/kras/seeded-md/run1/snapshot_$SLURM_ARRAY_TASK_ID" "ws:/home/me/kras/seeded-md/run1/"`))
			Expect(res.Script).To(ContainSubstring(`rsync -a --exclude=production_dry.nc "/scratch/kras/seeded-md/run1/snapshot_$SLURM_ARRAY_TASK_ID" "store:/backup/kras/seeded-md/run1/"`))
			Expect(book.entries[0].Remote).To(Equal("hpc:/scratch/kras/seeded-md/run1"))
		})

		It("reports a failed copy as a transfer error", func() {
			rec.Handler = func(c shell.Command) (string, error) {
				if c.Name == "scp" {
					return "", errors.New("connection refused")
				}
				return "", nil
			}

			_, err := d.Dispatch(ctx, request)
			var terr *dispatch.TransferError
			Expect(errors.As(err, &terr)).To(BeTrue())
			Expect(terr.Op).To(Equal("scp"))
			Expect(rec.Names()).To(Equal([]string{"ssh", "scp"}))
			Expect(book.entries[0].Status).To(Equal(ledger.StatusFailed))
		})
	})

	Context("with grid engine", func() {
		BeforeEach(func() {
			request.Template = sgeTemplate
			request.Seeds = seeds.Set{1, 3, 5}
		})

		It("submits each seed and keeps going after a failure", func() {
			rec.Handler = func(c shell.Command) (string, error) {
				if c.Args[1] == "3" {
					return "", errors.New("qsub: quota exceeded")
				}
				return `Your job-array 77.` + c.Args[1] + `-` + c.Args[1] + `:1 ("test") has been submitted`, nil
			}

			res, err := d.Dispatch(ctx, request)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("quota exceeded"))

			var stage *dispatch.StageError
			Expect(errors.As(err, &stage)).To(BeTrue())
			Expect(stage.Stage).To(Equal(dispatch.StageSubmit))

			Expect(rec.Commands()).To(HaveLen(3))
			Expect(res.JobIDs).To(Equal([]string{"77", "77"}))
			Expect(book.entries[0].Status).To(Equal(ledger.StatusPartial))
		})

		It("submits a contiguous set as one range", func() {
			request.Seeds = seeds.Set{1, 2, 3}
			_, err := d.Dispatch(ctx, request)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Commands()).To(HaveLen(1))
			Expect(rec.Commands()[0].Args[:2]).To(Equal([]string{"-t", "1-3"}))
		})
	})

	It("rejects templates without scheduler directives", func() {
		request.Template = []string{"#!/bin/bash", "echo hi"}

		_, err := d.Dispatch(ctx, request)
		Expect(err).To(MatchError(scheduler.ErrUnsupportedScheduler))

		var stage *dispatch.StageError
		Expect(errors.As(err, &stage)).To(BeTrue())
		Expect(stage.Stage).To(Equal(dispatch.StageDetect))
		Expect(rec.Commands()).To(BeEmpty())
		Expect(book.entries).To(BeEmpty())
	})

	It("fails before any transfer when a snapshot is missing", func() {
		cfg.Remote = config.Endpoint{Host: "hpc", Path: "/scratch"}
		request.Seeds = seeds.Set{1, 4}

		_, err := d.Dispatch(ctx, request)
		Expect(err).To(MatchError(dispatch.ErrMissingSnapshot))
		Expect(err.Error()).To(ContainSubstring("4"))
		Expect(rec.Commands()).To(BeEmpty())
	})

	It("builds without running anything on a dry run", func() {
		cfg.Remote = config.Endpoint{Host: "hpc", Path: "/scratch"}
		request.DryRun = true

		res, err := d.Dispatch(ctx, request)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Commands).To(HaveLen(1))
		Expect(rec.Commands()).To(BeEmpty())
		Expect(book.entries[0].Status).To(Equal(ledger.StatusDryRun))
		Expect(res.TransferBytes).To(BeNumerically(">", 0))
	})
})
