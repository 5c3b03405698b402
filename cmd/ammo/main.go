package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/michellab/AMMo/internal/config"
	"github.com/michellab/AMMo/internal/ctxlog"
	"github.com/spf13/cobra"
)

var (
	logLevel  string
	logFormat string
	project   string
	dataDir   string
)

// env carries the resolved configuration of one invocation.
type env struct {
	home   *config.Home
	cfg    *config.Config
	source string
}

func main() {
	rootCmd := &cobra.Command{
		Use:           "ammo",
		Short:         "steered MD protocol compiler and seeded ensemble dispatcher",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger := ctxlog.New(logLevel, logFormat, os.Stderr)
			cmd.SetContext(ctxlog.WithLogger(cmd.Context(), logger))
		},
	}

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", config.String("AMMO_LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", config.String("AMMO_LOG_FORMAT", "text"), "log format (text, json)")
	rootCmd.PersistentFlags().StringVar(&project, "project", config.String(config.ProjectEnv, ""), "project name, overrides the installation selection")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".ammo", "directory for compiled steering run history")

	rootCmd.AddCommand(steerCommand(), seededCommand(), seedsCommand(), templatesCommand(), workflowCommand(), configCommand())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, statusFail.Render("error:"), err)
		os.Exit(1)
	}
}

// loadEnv resolves the active project configuration.
func loadEnv() (*env, error) {
	dir, err := config.HomeDir()
	if err != nil {
		return nil, err
	}
	h, err := config.LoadHome(dir)
	if err != nil {
		return nil, err
	}
	if project != "" {
		h.Project = project
	}
	cfg, src, err := config.Resolve(h)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration %s: %w", src, err)
	}
	return &env{home: h, cfg: cfg, source: src}, nil
}

// projectRoot is where <system>/<state> folders live.
func (e *env) projectRoot() (string, error) {
	if dir := e.home.ProjectDir(); dir != "" {
		return dir, nil
	}
	return os.Getwd()
}

func runsDir() string {
	return filepath.Join(dataDir, "runs")
}
