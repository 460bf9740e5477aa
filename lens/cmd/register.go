package cmd

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/PatchLens/go-inject-lens/lens"
)

func newAddCmd(a *app) *cobra.Command {
	var position string
	cmd := &cobra.Command{
		Use:   "add FILE FUNC LINE CODE",
		Short: "Register statements to inject into a function",
		Long: `Register statements to inject into a function.

FUNC is a function identifier such as Name, Type.Method, (*Type).Method written as *Type.Method,
or pkg:Name. A number is read as a file line, selecting the function declared around it.
LINE counts body lines, 1 is the line after the signature. CODE "-" reads the statements from stdin.`,
		Args: cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			pos, err := lens.ParsePosition(position)
			if err != nil {
				return err
			}
			bodyLine, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("invalid body line %q: %w", args[2], err)
			}
			code := args[3]
			if code == "-" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				code = string(data)
			}

			return a.withInjector(cmd, func(injector *lens.Injector) error {
				fn, err := locateFunc(injector, args[0], args[1])
				if err != nil {
					return err
				} else if err := injector.Register(fn, bodyLine, code, pos); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "registered %s line %d (%s)\n", fn.Ident, bodyLine, pos)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&position, "pos", "p", "before", "Position relative to the line: before (-) or after (+)")
	return cmd
}

// locateFunc resolves a function argument, either an identifier or a file line.
func locateFunc(injector *lens.Injector, path, fn string) (lens.FuncSource, error) {
	if line, err := strconv.Atoi(fn); err == nil {
		return injector.LocateLine(path, line)
	}
	return injector.Locate(path, fn)
}

func newRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove FUNC...",
		Short: "Discard every registered injection of the functions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withInjector(cmd, func(injector *lens.Injector) error {
				for _, ident := range args {
					if err := injector.Unregister(ident); err != nil {
						return err
					}
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", ident)
				}
				return nil
			})
		},
	}
}

func newResetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Discard every registered injection, all functions must be restored first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withInjector(cmd, func(injector *lens.Injector) error {
				count, err := injector.Reset()
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "removed %d functions\n", count)
				return nil
			})
		},
	}
}
