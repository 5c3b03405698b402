package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/michellab/AMMo/internal/config"
	"github.com/michellab/AMMo/internal/dispatch"
	"github.com/michellab/AMMo/internal/ledger"
	"github.com/michellab/AMMo/internal/seeds"
	"github.com/michellab/AMMo/internal/shell"
	"github.com/spf13/cobra"
)

var (
	folder      string
	seedExpr    string
	backup      bool
	template    string
	dryRun      bool
	ledgerLimit int
)

func seededCommand() *cobra.Command {
	backupDefault, err := config.Bool("AMMO_BACKUP", true)
	if err != nil {
		backupDefault = true
	}

	seededCmd := &cobra.Command{
		Use:   "seeded <system> <state>",
		Short: "dispatch a seeded MD ensemble as a scheduler array job",
		Args:  cobra.ExactArgs(2),
		RunE:  runSeeded,
	}
	seededCmd.Flags().StringVar(&folder, "folder", "seeded-md", "run folder inside the state")
	seededCmd.Flags().StringVar(&seedExpr, "seeds", "", "seed indices, e.g. 1-20,25 (1-ensemble_size when empty)")
	seededCmd.Flags().BoolVar(&backup, "backup", backupDefault, "append result backup directives")
	seededCmd.Flags().StringVar(&template, "template", "", "scheduler template name or file")
	seededCmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the job and commands without submitting")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list recorded dispatches",
		Args:  cobra.NoArgs,
		RunE:  listSeeded,
	}
	listCmd.Flags().IntVar(&ledgerLimit, "limit", 20, "maximum entries (0 for all)")

	seededCmd.AddCommand(listCmd)
	return seededCmd
}

func runSeeded(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	if seedExpr == "" {
		seedExpr = fmt.Sprintf("1-%d", e.cfg.EnsembleSize)
	}
	set, err := seeds.ExpandLimit(seedExpr, e.cfg.SeedLimit)
	if err != nil {
		return err
	}
	if template != "" {
		e.cfg.Scheduler.Template = template
	}
	lines, err := e.cfg.TemplateLines()
	if err != nil {
		return err
	}
	root, err := e.projectRoot()
	if err != nil {
		return err
	}

	book, err := ledger.Open(e.cfg.LedgerPath(e.home))
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer book.Close()

	d := &dispatch.Dispatcher{Exec: shell.OS{}, Config: e.cfg, Root: root, Ledger: book}
	res, err := d.Dispatch(cmd.Context(), dispatch.Request{
		System:   args[0],
		State:    args[1],
		Folder:   folder,
		Seeds:    set,
		Backup:   backup,
		DryRun:   dryRun,
		Template: lines,
	})
	if res != nil {
		printDispatch(res, dryRun)
	}
	return err
}

func printDispatch(res *dispatch.Result, dry bool) {
	if dry {
		fmt.Println(title.Render("job script"))
		fmt.Println(panel.Render(strings.TrimRight(res.Script, "\n")))
	}
	field(os.Stdout, "dispatch", res.ID)
	field(os.Stdout, "scheduler", res.Dialect)
	field(os.Stdout, "work dir", res.WorkDir)
	field(os.Stdout, "inputs", humanize.Bytes(res.TransferBytes))
	for _, c := range res.Commands {
		fmt.Println(subtle.Render("$ ") + c.String())
	}
	switch {
	case dry:
		fmt.Println(statusWarn.Render("dry run, nothing submitted"))
	case len(res.JobIDs) > 0:
		fmt.Println(statusOK.Render("submitted jobs " + strings.Join(res.JobIDs, ", ")))
	}
}

func listSeeded(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	book, err := ledger.Open(e.cfg.LedgerPath(e.home))
	if err != nil {
		return err
	}
	defer book.Close()

	entries, err := book.List(cmd.Context(), ledgerLimit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("no dispatches recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tWHEN\tSYSTEM\tSTATE\tFOLDER\tSEEDS\tSCHEDULER\tJOBS\tSTATUS")
	for _, en := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			en.ID[:8],
			humanize.Time(en.CreatedAt),
			en.System,
			en.State,
			en.Folder,
			en.Seeds,
			en.Dialect,
			strings.Join(en.JobIDs, ","),
			statusStyle(en.Status).Render(en.Status),
		)
	}
	return w.Flush()
}
