package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/guptarohit/asciigraph"
	"github.com/michellab/AMMo/internal/shell"
	"github.com/michellab/AMMo/internal/steering"
	"github.com/michellab/AMMo/internal/storage"
	"github.com/michellab/AMMo/internal/workflow"
	"github.com/spf13/cobra"
)

var (
	structure    string
	topology     string
	protocolFile string
	outDir       string
	engine       string
	inputDir     string
	exportPath   string
)

func steerCommand() *cobra.Command {
	steerCmd := &cobra.Command{
		Use:   "steer",
		Short: "compile a steering protocol into a PLUMED moving restraint",
		Args:  cobra.NoArgs,
		RunE:  runSteer,
	}
	steerCmd.Flags().StringVar(&structure, "structure", "", "starting structure (pdb, or coordinates with --topology)")
	steerCmd.Flags().StringVar(&topology, "topology", "", "topology for non-PDB coordinates")
	steerCmd.Flags().StringVar(&protocolFile, "protocol", "", "steering protocol file")
	steerCmd.Flags().StringVar(&outDir, "out", "steering", "output directory")
	steerCmd.Flags().StringVar(&engine, "engine", "", "initial value engine (plumed, native); project default when empty")
	steerCmd.Flags().StringVar(&inputDir, "input-dir", "", "fallback directory for rmsd references")
	_ = steerCmd.MarkFlagRequired("structure")
	_ = steerCmd.MarkFlagRequired("protocol")

	showCmd := &cobra.Command{
		Use:   "show [run_id]",
		Short: "show the expanded schedule of a compiled run (latest when omitted)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  showSteer,
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list compiled runs",
		Args:  cobra.NoArgs,
		RunE:  listSteer,
	}

	exportCmd := &cobra.Command{
		Use:   "export [run_id]",
		Short: "export a compiled run to JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return storage.New(runsDir()).ExportJSON(args[0], exportPath)
		},
	}
	exportCmd.Flags().StringVarP(&exportPath, "output", "o", "", "output file (stdout when empty)")

	steerCmd.AddCommand(showCmd, listCmd, exportCmd)
	return steerCmd
}

func runSteer(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	if engine == "" {
		engine = e.cfg.Steering.Engine
	}
	if inputDir == "" {
		inputDir = e.cfg.Steering.InputDir
	}

	c, err := workflow.NewCompiler(e.cfg, steering.NewRegistry(), shell.OS{}, engine, inputDir)
	if err != nil {
		return err
	}
	res, err := c.Compile(cmd.Context(), steering.Request{
		Structure: structure,
		Topology:  topology,
		Protocol:  protocolFile,
		Output:    filepath.Join(outDir, "plumed.dat"),
	})
	if err != nil {
		return err
	}

	st := storage.New(runsDir())
	runID, err := st.Save(protocolFile, engine, res)
	if err != nil {
		return fmt.Errorf("store run: %w", err)
	}

	var b strings.Builder
	b.WriteString(title.Render("steering protocol compiled") + "\n\n")
	field(&b, "output", res.Output)
	field(&b, "engine", engine)
	for _, cv := range res.CVs {
		field(&b, cv.ID, fmt.Sprintf("%s  initial %.4f", cv.Kind, res.Baselines[cv.ID]))
	}
	for _, ref := range res.References {
		field(&b, "reference", ref)
	}
	field(&b, "md steps", humanize.Comma(res.TotalSteps()))
	field(&b, "length", fmt.Sprintf("%g ns", res.Protocol.Duration()))
	field(&b, "run", runID)
	fmt.Println(panel.Render(strings.TrimRight(b.String(), "\n")))
	return nil
}

func listSteer(cmd *cobra.Command, args []string) error {
	runs, err := storage.New(runsDir()).List()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATED\tENGINE\tCVS\tMD STEPS\tOUTPUT")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			run.ID,
			humanize.Time(run.Timestamp),
			run.Engine,
			strings.Join(run.CVs, ","),
			humanize.Comma(run.TotalSteps),
			run.Output,
		)
	}
	return w.Flush()
}

func showSteer(cmd *cobra.Command, args []string) error {
	st := storage.New(runsDir())

	var runID string
	if len(args) > 0 {
		runID = args[0]
	} else {
		runs, err := st.List()
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			return fmt.Errorf("no runs found in %s", runsDir())
		}
		runID = runs[len(runs)-1].ID
	}

	meta, err := st.Load(runID)
	if err != nil {
		return err
	}
	steps, err := st.LoadSchedule(runID)
	if err != nil {
		return err
	}
	if len(steps) == 0 {
		return fmt.Errorf("run %s has no schedule", runID)
	}

	fmt.Println(title.Render("run " + meta.ID))
	field(os.Stdout, "protocol", meta.Protocol)
	field(os.Stdout, "structure", meta.Structure)
	field(os.Stdout, "output", meta.Output)
	field(os.Stdout, "md steps", humanize.Comma(meta.TotalSteps))
	fmt.Println()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	header := []string{"TIME (ns)", "STEP"}
	for _, id := range meta.CVs {
		header = append(header, strings.ToUpper(id)+" AT", "KAPPA")
	}
	fmt.Fprintln(w, strings.Join(header, "\t"))
	for _, s := range steps {
		row := []string{strconv.FormatFloat(s.Time, 'g', -1, 64), strconv.FormatInt(s.MDStep, 10)}
		for i := range meta.CVs {
			row = append(row, strconv.FormatFloat(s.Targets[i], 'f', 4, 64), strconv.FormatFloat(s.Forces[i], 'g', -1, 64))
		}
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Println()
	fmt.Println(separator(80))

	for i, id := range meta.CVs {
		data := make([]float64, len(steps))
		for j, s := range steps {
			data[j] = s.Targets[i]
		}
		caption := id + " target"
		if i < len(meta.Kinds) {
			caption = fmt.Sprintf("%s target (%s)", id, meta.Kinds[i])
		}
		graph := asciigraph.Plot(data,
			asciigraph.Height(10),
			asciigraph.Width(80),
			asciigraph.Caption(caption),
		)
		fmt.Println(graph)
		fmt.Println()
	}
	return nil
}
