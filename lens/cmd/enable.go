package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/PatchLens/go-inject-lens/lens"
)

func newEnableCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enable [FUNC...]",
		Short: "Bind the injections of the functions, all registered functions when none are given",
		RunE: func(cmd *cobra.Command, args []string) error {
			startTime := time.Now()
			return a.withInjector(cmd, func(injector *lens.Injector) error {
				result, err := injector.Enable(cmd.Context(), args...)
				if err != nil {
					return err
				}
				applied, dropped, unmatched := result.Totals()
				out := cmd.OutOrStdout()
				_, _ = fmt.Fprintf(out, "enabled %d functions in %d files: %d applied, %d dropped, %d unmatched\n",
					len(result.Functions), len(result.Files), applied, dropped, unmatched)
				for _, fr := range result.Functions {
					if fr.Error != "" {
						_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "%s%s\n", lens.WarnLogPrefix, fr.Error)
					}
				}
				if a.config.BindMode == lens.BindOverlay && len(result.Files) > 0 {
					_, _ = fmt.Fprintf(out, "build with: -overlay=%s\n", a.config.OverlayManifest())
				}
				return writeReports(a.config, lens.NewReportMetrics(startTime, result))
			})
		},
	}
	cmd.Flags().StringVar(&a.config.ReportJsonFile, "json", "", "File to output the enable report")
	cmd.Flags().StringVar(&a.config.ReportChartsFile, "charts", "", "File to output the enable chart image (.png, .jpg, .svg)")
	return cmd
}

func writeReports(config lens.Config, report lens.ReportMetrics) error {
	if config.ReportJsonFile != "" {
		reportMap, err := lens.BuildReportMap(report)
		if err != nil {
			return err
		} else if err := reportMap.WriteToFile(config.ReportJsonFile); err != nil {
			return err
		}
	}
	if config.ReportChartsFile != "" {
		return lens.WriteReportCharts(config.ReportChartsFile, report)
	}
	return nil
}

func newRestoreCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "restore [FUNC...]",
		Short: "Unbind the injections of the functions, all functions when none are given",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withInjector(cmd, func(injector *lens.Injector) error {
				if err := injector.Restore(cmd.Context(), args...); err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "restored")
				return nil
			})
		},
	}
}

func newReportCmd() *cobra.Command {
	var jsonFile, chartsFile string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Render the chart of a JSON enable report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			report, err := lens.ReadReportFile(jsonFile)
			if err != nil {
				return err
			} else if err := lens.WriteReportCharts(chartsFile, report); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Report file wrote: "+chartsFile)
			return nil
		},
	}
	cmd.Flags().StringVar(&jsonFile, "json", "injectreport.json", "JSON report to read")
	cmd.Flags().StringVar(&chartsFile, "charts", "injectreport.png", "File to output the chart image")
	return cmd
}
