package cmd

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/PatchLens/go-inject-lens/lens"
)

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list [FUNC]",
		Short: "List registered functions, or the requests of one function",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withInjector(cmd, func(injector *lens.Injector) error {
				var tableBuffer bytes.Buffer
				table := tablewriter.NewWriter(&tableBuffer)
				table.SetBorder(false)
				table.SetCenterSeparator("")
				table.SetAutoWrapText(false)

				if len(args) == 1 {
					requests, err := injector.Requests(args[0])
					if err != nil {
						return err
					}
					table.SetHeader([]string{"Line", "Position", "Code"})
					table.SetColumnAlignment([]int{tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_CENTER, tablewriter.ALIGN_LEFT})
					for _, req := range requests {
						// body line, as given on registration
						table.Append([]string{strconv.Itoa(req.Line - 1), req.Position.String(), req.Code})
					}
				} else {
					records, err := injector.Functions()
					if err != nil {
						return err
					}
					table.SetHeader([]string{"Function", "File", "Requests", "Enabled"})
					table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT,
						tablewriter.ALIGN_CENTER, tablewriter.ALIGN_CENTER})
					var requestCount int
					for _, rec := range records {
						file := rec.FilePath
						if rel, err := filepath.Rel(a.config.AbsProjDir, rec.FilePath); err == nil {
							file = rel
						}
						table.Append([]string{rec.Ident, file + ":" + strconv.Itoa(rec.StartLine),
							strconv.Itoa(len(rec.Requests)), strconv.FormatBool(rec.Enabled)})
						requestCount += len(rec.Requests)
					}
					table.SetFooter([]string{fmt.Sprintf("Total Functions %d", len(records)), "",
						strconv.Itoa(requestCount), ""})
				}
				table.Render()
				_, _ = fmt.Fprint(cmd.OutOrStdout(), tableBuffer.String())
				return nil
			})
		},
	}
}

func newShowCmd(a *app) *cobra.Command {
	var standalone, diff bool
	cmd := &cobra.Command{
		Use:   "show FUNC",
		Short: "Print a function with its injections applied",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withInjector(cmd, func(injector *lens.Injector) error {
				preview, err := injector.Preview(args[0], standalone)
				if err != nil {
					return err
				}
				for _, d := range preview.Diagnostics {
					_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "%sdropped injection %s\n", lens.WarnLogPrefix, d)
				}
				if diff {
					_, _ = fmt.Fprint(cmd.OutOrStdout(), preview.Diff)
				} else {
					_, _ = cmd.OutOrStdout().Write(preview.Source)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&standalone, "standalone", false, "Emit methods as standalone functions")
	cmd.Flags().BoolVar(&diff, "diff", false, "Print a unified diff against the original function")
	return cmd
}
