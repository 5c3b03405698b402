package main

import (
	"fmt"
	"os"

	"github.com/michellab/AMMo/internal/config"
	"github.com/michellab/AMMo/internal/dispatch"
	"github.com/michellab/AMMo/internal/ledger"
	"github.com/michellab/AMMo/internal/seeds"
	"github.com/michellab/AMMo/internal/shell"
	"github.com/michellab/AMMo/internal/steering"
	"github.com/michellab/AMMo/internal/storage"
	"github.com/michellab/AMMo/internal/workflow"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func seedsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "seeds <expr>",
		Short: "expand a seed expression",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := seeds.Expand(args[0])
			if err != nil {
				return err
			}
			field(os.Stdout, "compact", set.String())
			field(os.Stdout, "count", len(set))
			field(os.Stdout, "contiguous", set.Contiguous())
			for _, s := range set {
				fmt.Println(s)
			}
			return nil
		},
	}
}

func templatesCommand() *cobra.Command {
	var show string
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "list built-in scheduler templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if show != "" {
				t, ok := config.GetTemplate(show)
				if !ok {
					return fmt.Errorf("unknown template %q", show)
				}
				fmt.Println(t)
				return nil
			}
			fmt.Println(title.Render("available templates:"))
			for _, name := range config.ListTemplates() {
				fmt.Printf("  %s\n", name)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&show, "show", "", "print one template")
	return cmd
}

func workflowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "workflow <file.yaml>",
		Short: "run a multi-stage workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, err := workflow.Load(args[0])
			if err != nil {
				return err
			}
			e, err := loadEnv()
			if err != nil {
				return err
			}
			root, err := e.projectRoot()
			if err != nil {
				return err
			}
			book, err := ledger.Open(e.cfg.LedgerPath(e.home))
			if err != nil {
				return err
			}
			defer book.Close()

			r := &workflow.Runner{
				Config:     e.cfg,
				Exec:       shell.OS{},
				Probes:     steering.NewRegistry(),
				Dispatcher: &dispatch.Dispatcher{Exec: shell.OS{}, Config: e.cfg, Root: root, Ledger: book},
				Store:      storage.New(runsDir()),
			}
			if wf.Name != "" {
				fmt.Println(title.Render("workflow " + wf.Name))
			}
			results, err := r.Run(cmd.Context(), wf)
			for _, res := range results {
				switch {
				case res.Steering != nil:
					fmt.Printf("%s %s -> %s\n", statusOK.Render("✓"), res.Name, res.Steering.Output)
				case res.Dispatch != nil:
					fmt.Printf("%s %s -> %s\n", statusOK.Render("✓"), res.Name, res.Dispatch.ID)
				}
			}
			return err
		},
	}
}

func configCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "print the effective project configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			src := e.source
			if src == "" {
				src = "built-in defaults"
			}
			fmt.Println(subtle.Render("# from " + src))
			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			if err := enc.Encode(e.cfg); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}
