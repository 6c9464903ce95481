package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"grove/internal/codegen"
	"grove/internal/config"
	"grove/internal/failure"
	"grove/internal/logging"
	"grove/internal/ops"
)

// app holds what every subcommand shares. It is filled in by the root
// command's PersistentPreRunE.
type app struct {
	cfgFile string
	dir     string

	stdout io.Writer
	stderr io.Writer
	// prompt asks for missing arguments; replaced in tests.
	prompt func([]question) (map[string]string, error)
	// editor overrides the configured editor; set in tests.
	editor ops.Editor

	cfg *config.Config
	log *zap.Logger
	ops *ops.Operations
}

func newRootCmd(stdout, stderr io.Writer) (*cobra.Command, *app) {
	a := &app{stdout: stdout, stderr: stderr, prompt: promptQuestions}
	root := &cobra.Command{
		Use:   "grove",
		Short: "grove keeps process models and Go source in sync",
		Long: `grove keeps a model of aggregates, messages and business processes in
sync with the Go source tree that implements it.

The model is read from //grove: directives in the source, exchanged as
process DSL text, and written back by generating whatever the source lacks.
Generation only ever adds files and methods.
`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file (default: grove.yaml or .grove/grove.yaml in --dir)")
	root.PersistentFlags().StringVarP(&a.dir, "dir", "C", "", "directory holding grove.yaml and .env (default: working directory)")

	for _, cmd := range a.commands() {
		root.AddCommand(cmd)
	}
	return root, a
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(config.LoadOptions{File: a.cfgFile, Dir: a.dir})
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Logger, a.stderr)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = log
	a.ops = ops.New(cfg, log, a.editor)
	log.Debug("configuration loaded",
		zap.Strings("source_dirs", cfg.SourceDirs),
		zap.Strings("storage", cfg.Storages().Strings()),
		zap.String("command", cmd.Name()))
	return nil
}

// printReport lists the files a generation touched.
func (a *app) printReport(rep *codegen.Report) {
	if rep == nil {
		return
	}
	if rep.Empty() {
		fmt.Fprintln(a.stdout, "nothing to generate")
		return
	}
	for _, f := range rep.Created {
		fmt.Fprintf(a.stdout, "created  %s\n", f)
	}
	for _, f := range rep.Modified {
		fmt.Fprintf(a.stdout, "extended %s\n", f)
	}
}

// exitCode maps a failure kind to the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, failure.ErrConfig):
		return 2
	case errors.Is(err, errValidation):
		return 3
	default:
		return 1
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root, _ := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "grove: %v\n", err)
	}
	return exitCode(err)
}

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
