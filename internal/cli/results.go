package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/headline-goat/growthgoat/internal/app"
	"github.com/headline-goat/growthgoat/internal/stats"
)

var resultsCmd = &cobra.Command{
	Use:   "results <experiment>",
	Short: "Show detailed results for an experiment",
	Long:  `Show exposures, conversions, conversion rates and 95% confidence intervals per variant.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			exp, ok := a.Assigner.Experiment(args[0])
			if !ok {
				return fmt.Errorf("experiment '%s' not found", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "EXPERIMENT: %s\n", exp.ID)
			if exp.Name != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "NAME: %s\n", exp.Name)
			}
			if exp.ConversionGoal != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "GOAL: %s\n", exp.ConversionGoal)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			printAnalysis(cmd.OutOrStdout(), a.Assigner.Analyze(ctx, exp.ID))
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(resultsCmd)
}

func printAnalysis(out io.Writer, result *stats.Result) {
	fmt.Fprintln(out, "VARIANT           EXPOSED  CONVERSIONS  RATE     95% CI")
	fmt.Fprintln(out, strings.Repeat("─", 60))

	for _, v := range result.Variants {
		indicator := ""
		if v.VariantID == result.Leader && len(result.Variants) > 1 {
			indicator = " ← LEADING"
		}

		ciStr := fmt.Sprintf("[%.1f%%, %.1f%%]", v.CILower*100, v.CIUpper*100)
		if v.Exposures == 0 {
			ciStr = "N/A"
		}

		name := v.VariantID
		if len(name) > 16 {
			name = name[:13] + "..."
		}

		fmt.Fprintf(out, "%-16s  %-7d  %-11d  %-7s  %s%s\n",
			name,
			v.Exposures,
			v.Conversions,
			formatPercent(v.Rate*100),
			ciStr,
			indicator,
		)
	}

	fmt.Fprintln(out)

	if len(result.Variants) > 1 {
		confPct := result.ConfidenceLevel * 100
		switch {
		case result.Confident:
			fmt.Fprintf(out, "Statistical significance: %.1f%% confident \"%s\" is the winner\n", confPct, result.Leader)
		case confPct >= 90:
			fmt.Fprintf(out, "Statistical significance: %.1f%% confident \"%s\" beats control (not yet significant)\n", confPct, result.Leader)
		default:
			fmt.Fprintln(out, "Statistical significance: Not enough data to determine a winner")
		}
	}
}
