// Package cmd provides the lineinject command line.
package cmd

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/PatchLens/go-inject-lens/lens"
)

// app carries the configuration shared by the subcommands of one root command.
type app struct {
	config lens.Config
	logger *log.Logger
}

// withInjector opens the injector for the duration of fn.
func (a *app) withInjector(cmd *cobra.Command, fn func(*lens.Injector) error) error {
	if err := setupEnvironment(&a.config); err != nil {
		return err
	}
	logger := a.logger
	if logger == nil {
		logger = log.New(cmd.ErrOrStderr(), "", log.LstdFlags)
	}
	injector, err := lens.OpenInjector(&a.config, logger)
	if err != nil {
		return err
	}
	defer injector.Close()
	return fn(injector)
}

// NewRootCmd builds the lineinject command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:   "lineinject",
		Short: "Inject statements at source lines of Go functions",
		Long: `lineinject registers statements to insert before or after lines of a Go function body,
then binds the modified source for the go toolchain without editing the project files.

Lines are counted from the first line after the func signature. The default overlay bind
mode writes an overlay manifest, use it with: go test -overlay=<manifest> ./...`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	bindGlobalFlags(cmd.PersistentFlags(), &a.config)

	cmd.AddCommand(
		newAddCmd(a),
		newRemoveCmd(a),
		newResetCmd(a),
		newListCmd(a),
		newShowCmd(a),
		newEnableCmd(a),
		newRestoreCmd(a),
		newReportCmd(),
	)
	return cmd
}

// Execute runs the command line with os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}
