package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"grove/internal/export"
	"grove/internal/failure"
	"grove/internal/storage"
)

var errValidation = errors.New("validation failed")

// commands returns every subcommand. The slice is the single source for
// dispatch and help.
func (a *app) commands() []*cobra.Command {
	return []*cobra.Command{
		a.scanCmd(),
		a.listProcessesCmd(),
		a.exportProcessCmd(),
		a.importProcessCmd(),
		a.updateProcessCmd(),
		a.addAggregateCmd(),
		a.validateCmd(),
	}
}

// ---------------------------------------------------------------------------
// scan
// ---------------------------------------------------------------------------

func (a *app) scanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Print the model found in the source tree",
		Long: `Scan every configured source directory and print the model as YAML:
aggregates with the artifacts and adapters found for them, messages,
processes and their steps.
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := a.ops.BuildModelFromSource()
			if err != nil {
				return err
			}
			out, err := m.YAML()
			if err != nil {
				return failure.Wrap(failure.ErrInternal, "scan", err, "encode model")
			}
			_, err = a.stdout.Write(out)
			return err
		},
	}
}

// ---------------------------------------------------------------------------
// list-processes
// ---------------------------------------------------------------------------

func (a *app) listProcessesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-processes",
		Short: "List the processes of the source tree",
		Long: `Scan the source tree and print one process name per line, sorted.
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := a.ops.BuildModelFromSource()
			if err != nil {
				return err
			}
			for _, name := range a.ops.ListProcesses(m) {
				fmt.Fprintln(a.stdout, name)
			}
			return nil
		},
	}
}

// ---------------------------------------------------------------------------
// export-process
// ---------------------------------------------------------------------------

func (a *app) exportProcessCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export-process [process]",
		Short: "Write a process as DSL text",
		Long: `Scan the source tree and write the given process, or every process, as
DSL text to stdout or to --output. Exporting an unchanged tree always
yields the same bytes.
`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			process := ""
			if len(args) == 1 {
				process = args[0]
			}
			m, err := a.ops.BuildModelFromSource()
			if err != nil {
				return err
			}
			if output == "" {
				return a.ops.ExportProcess(m, process, a.stdout)
			}
			data, err := export.Export(m, export.Options{Process: process})
			if err != nil {
				return err
			}
			if err := export.WriteFile(output, data); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "wrote %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to this file instead of stdout")
	return cmd
}

// ---------------------------------------------------------------------------
// import-process
// ---------------------------------------------------------------------------

func (a *app) importProcessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import-process <file>",
		Short: "Generate the source a DSL file adds",
		Long: `Parse and analyze the DSL file, compare it with the scanned source tree
and generate every missing message, process, aggregate, adapter and
listener stub. Existing files are extended, never rewritten.
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rep, err := a.ops.ImportProcess(args[0])
			a.printReport(rep)
			return err
		},
	}
}

// ---------------------------------------------------------------------------
// update-process
// ---------------------------------------------------------------------------

func (a *app) updateProcessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update-process <process>",
		Short: "Edit a process as DSL text and generate the changes",
		Long: `Export the process to a temporary file and open it in the editor
($EDITOR or the editor setting, default vi). When the saved text differs
from the export in more than whitespace, generate what it adds.
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rep, err := a.ops.UpdateProcess(cmd.Context(), args[0])
			a.printReport(rep)
			return err
		},
	}
}

// ---------------------------------------------------------------------------
// add-aggregate
// ---------------------------------------------------------------------------

func (a *app) addAggregateCmd() *cobra.Command {
	var pkg string
	cmd := &cobra.Command{
		Use:   "add-aggregate [name]",
		Short: "Generate an aggregate or its missing adapters",
		Long: `Generate a new aggregate with its identifier, factory, repository, data
access and attributes types and one adapter per configured storage. For an
existing aggregate only the missing adapters are generated.

Without a name, grove prompts for the name and the package.

` + storageHelp(),
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			if name == "" {
				answers, err := a.prompt(aggregateQuestions(a.cfg.BasePackage, pkg))
				if err != nil {
					return fmt.Errorf("prompt: %w", err)
				}
				name = answers["name"]
				if pkg == "" {
					pkg = answers["package"]
				}
			}
			rep, err := a.ops.AddAggregate(name, pkg)
			a.printReport(rep)
			return err
		},
	}
	cmd.Flags().StringVarP(&pkg, "package", "p", "", "dotted package (default: <base_package>.<lower name>)")
	return cmd
}

// storageHelp lists the storage backends for help text.
func storageHelp() string {
	var b strings.Builder
	b.WriteString("Storage backends (storage setting):\n")
	for _, k := range storage.Kinds() {
		be, _ := storage.Lookup(k)
		fmt.Fprintf(&b, "  %-10s %s\n", k, be.Description)
	}
	return b.String()
}

// ---------------------------------------------------------------------------
// validate
// ---------------------------------------------------------------------------

func (a *app) validateCmd() *cobra.Command {
	var failOnWarn bool
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the source tree for missing or inconsistent parts",
		Long: `Scan the source tree and report missing companion types and adapters,
unresolved messages, listeners outside processes, empty processes and
events nobody produces. Each finding prints as <file>:<line>: <severity>: <text>.

Errors fail the command; warnings fail it with --fail-on-warn or the
fail_on_warn setting.
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := a.ops.Validate()
			if err != nil {
				return err
			}
			if err := res.Render(a.stdout); err != nil {
				return err
			}
			strict := a.cfg.FailOnWarn
			if cmd.Flags().Changed("fail-on-warn") {
				strict = failOnWarn
			}
			if !res.Passed(strict) {
				return fmt.Errorf("%w: %d finding(s)", errValidation, len(res.Messages()))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&failOnWarn, "fail-on-warn", false, "treat warnings as failures")
	return cmd
}
