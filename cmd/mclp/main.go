package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mclp/internal/buildinfo"
)

// exitError carries a process exit status out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func main() {
	rootCmd := &cobra.Command{
		Use:           "mclp",
		Short:         "Maximal covering location from a facility-to-demand distance matrix",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(coverageCmd())
	rootCmd.AddCommand(lpCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run [config.yaml]",
		Short: "Load the matrix, solve the covering model and report the selection",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, args, &f)
		},
	}
	f.bind(cmd)
	cmd.Flags().StringVar(&f.xlsx, "xlsx", "", "write an Excel workbook of the outcome")
	cmd.Flags().StringVar(&f.json, "json", "", "write the outcome as JSON (- for stdout)")
	cmd.Flags().StringVar(&f.solver, "solver", "", "solver: glpk, simplex or greedy")
	cmd.Flags().StringVar(&f.glpsol, "glpsol", "", "path of the glpsol executable")
	cmd.Flags().DurationVar(&f.timeLimit, "time-limit", 0, "solver time limit (0 means none)")
	cmd.Flags().BoolVar(&f.strict, "strict", false, "exit with status 1 when a required field is missing")
	return cmd
}

func coverageCmd() *cobra.Command {
	var f runFlags
	var out string
	cmd := &cobra.Command{
		Use:   "coverage [config.yaml]",
		Short: "Build the binary coverage object and print it as JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCoverage(cmd, args, &f, out)
		},
	}
	f.bind(cmd)
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	return cmd
}

func lpCmd() *cobra.Command {
	var f runFlags
	var out string
	cmd := &cobra.Command{
		Use:   "lp [config.yaml]",
		Short: "Write the covering model in CPLEX LP format",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLP(cmd, args, &f, out)
		},
	}
	f.bind(cmd)
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), buildinfo.String("mclp"))
		},
	}
}
