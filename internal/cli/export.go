package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/headline-goat/growthgoat/internal/app"
	"github.com/headline-goat/growthgoat/internal/experiment"
)

var exportFormat string

var exportCmd = &cobra.Command{
	Use:   "export <experiment>",
	Short: "Export the raw result log",
	Long: `Export every exposure and conversion of an experiment in CSV or JSON format.

Examples:
  growthgoat export hero-cta --format csv > hero-cta.csv
  growthgoat export hero-cta --format json > hero-cta.json`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", experiment.FormatCSV, "output format (csv or json)")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	id := args[0]
	if exportFormat != experiment.FormatCSV && exportFormat != experiment.FormatJSON {
		return fmt.Errorf("invalid format: must be 'csv' or 'json'")
	}

	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		if _, ok := a.Assigner.Experiment(id); !ok {
			return fmt.Errorf("experiment '%s' not found", id)
		}
		return experiment.Export(cmd.OutOrStdout(), exportFormat, id, a.Assigner.Results(ctx, id))
	})
}
