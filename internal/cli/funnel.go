package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/headline-goat/growthgoat/internal/app"
	"github.com/headline-goat/growthgoat/internal/funnel"
)

var (
	funnelReset bool
	funnelYes   bool
)

var funnelCmd = &cobra.Command{
	Use:   "funnel <funnel>",
	Short: "Show step metrics for a funnel",
	Long: `Show visitors, conversions, conversion rate, drop-off and average
time per step of a funnel.

Use --reset to delete every journey of the funnel.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if _, ok := a.Funnels.Funnel(id); !ok {
				return fmt.Errorf("funnel '%s' not found", id)
			}
			if funnelReset {
				if !funnelYes && !confirm(fmt.Sprintf("Delete all journeys of %s", id)) {
					fmt.Fprintln(cmd.OutOrStdout(), "Aborted")
					return nil
				}
				a.Funnels.Reset(ctx, id)
				fmt.Fprintf(cmd.OutOrStdout(), "Funnel %s reset\n", id)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "FUNNEL: %s (%s journeys)\n\n", id, formatNumber(len(a.Funnels.Journeys(ctx, id))))
			return printFunnelMetrics(cmd.OutOrStdout(), a.Funnels.Metrics(ctx, id))
		})
	},
}

func init() {
	funnelCmd.Flags().BoolVar(&funnelReset, "reset", false, "delete all journeys of the funnel")
	funnelCmd.Flags().BoolVarP(&funnelYes, "yes", "y", false, "skip confirmation")
	rootCmd.AddCommand(funnelCmd)
}

func printFunnelMetrics(out io.Writer, metrics []funnel.StepMetrics) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STEP\tVISITORS\tCONVERSIONS\tRATE\tDROP-OFF\tAVG TIME")
	for _, m := range metrics {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%.1fs\n",
			m.StepID,
			formatNumber(m.Visitors),
			formatNumber(m.Conversions),
			formatPercent(m.ConversionRate),
			formatPercent(m.DropoffRate),
			m.AverageTimeMs/1000,
		)
	}
	return w.Flush()
}

func confirm(label string) bool {
	p := promptui.Prompt{Label: label, IsConfirm: true}
	_, err := p.Run()
	return err == nil
}
