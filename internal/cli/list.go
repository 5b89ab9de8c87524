package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/headline-goat/growthgoat/internal/app"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List experiments, offers and funnels",
	Long:  `List the catalog with experiment traffic, offer triggers and funnel steps.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			return printCatalog(ctx, cmd.OutOrStdout(), a)
		})
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func printCatalog(ctx context.Context, out io.Writer, a *app.App) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	fmt.Fprintln(w, "EXPERIMENT\tSTATE\tVARIANTS\tEXPOSURES\tCONVERSIONS\tGOAL")
	for _, e := range a.Assigner.Experiments() {
		exposures, conversions := 0, 0
		for _, r := range a.Assigner.GetConversionRates(ctx, e.ID) {
			exposures += r.Exposures
			conversions += r.Conversions
		}
		state := "ACTIVE"
		if !e.Running(time.Now()) {
			state = "INACTIVE"
		}
		goal := e.ConversionGoal
		if goal == "" {
			goal = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
			e.ID, state, len(e.Variants), formatNumber(exposures), formatNumber(conversions), goal)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "OFFER\tTRIGGER\tPRICE\tDISCOUNT\tTIME LEFT")
	for _, o := range a.Catalog.Offers {
		trig := string(o.Trigger.Kind)
		if o.Trigger.Threshold > 0 {
			trig = fmt.Sprintf("%s >= %g", trig, o.Trigger.Threshold)
		}
		fmt.Fprintf(w, "%s\t%s\t%.2f -> %.2f\t%d%%\t%s\n",
			o.ID, trig, o.OriginalPrice, o.SalePrice, o.Discount(), o.TimeLeft)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "FUNNEL\tSTEPS\tJOURNEYS")
	for _, f := range a.Funnels.Funnels() {
		steps := make([]string, len(f.Steps))
		for i, s := range f.Steps {
			steps[i] = s.ID
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", f.ID, strings.Join(steps, " > "), formatNumber(len(a.Funnels.Journeys(ctx, f.ID))))
	}

	return w.Flush()
}
