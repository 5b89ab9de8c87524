package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/headline-goat/growthgoat/internal/app"
	"github.com/headline-goat/growthgoat/internal/bucketing"
)

var assignDryRun bool

var assignCmd = &cobra.Command{
	Use:   "assign <experiment> <subject>",
	Short: "Show which variant a subject is assigned",
	Long: `Resolve the variant a subject gets for an experiment, assigning and
persisting it the same way the API does.

Use --dry-run to print the bucket without recording an assignment.

Example:
  growthgoat assign hero-cta user_abc`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		experimentID, subjectID := args[0], args[1]
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if _, ok := a.Assigner.Experiment(experimentID); !ok {
				return fmt.Errorf("experiment '%s' not found", experimentID)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "BUCKET: %.2f\n", bucketing.Bucket(subjectID, experimentID))

			if assignDryRun {
				if id, ok := a.Assigner.Assignment(ctx, experimentID, subjectID); ok {
					fmt.Fprintf(out, "VARIANT: %s (already assigned)\n", id)
				}
				return nil
			}

			v, ok := a.Assigner.GetVariant(ctx, experimentID, subjectID)
			if !ok {
				fmt.Fprintln(out, "VARIANT: none (experiment is not running)")
				return nil
			}
			fmt.Fprintf(out, "VARIANT: %s\n", v.ID)
			return nil
		})
	},
}

func init() {
	assignCmd.Flags().BoolVar(&assignDryRun, "dry-run", false, "do not record an assignment")
	rootCmd.AddCommand(assignCmd)
}
