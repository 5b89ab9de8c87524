package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/headline-goat/growthgoat/internal/app"
	"github.com/headline-goat/growthgoat/internal/kv"
	"github.com/headline-goat/growthgoat/internal/offer"
	"github.com/headline-goat/growthgoat/internal/trigger"
)

var offersSession string

var offersCmd = &cobra.Command{
	Use:   "offers",
	Short: "Inspect and reset offer history",
}

var offersShownCmd = &cobra.Command{
	Use:   "shown <subject>",
	Short: "List offers a subject has already been shown",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			sel, visits := subjectSelector(ctx, a, args[0], offersSession)
			fmt.Fprintf(cmd.OutOrStdout(), "PAGE VISITS: %d\n", visits.Count())
			shown := sel.Shown()
			if len(shown) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No offers shown yet.")
				return nil
			}
			for _, id := range shown {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		})
	},
}

var offersResetCmd = &cobra.Command{
	Use:   "reset <subject>",
	Short: "Forget shown offers and page visits for a subject",
	Long: `Clear the shown-offer set and page-visit counter of a subject so
offers can be presented again. With --session the session's
one-offer marker is cleared too.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			sel, _ := subjectSelector(ctx, a, args[0], offersSession)
			sel.Reset(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "Offers reset for %s\n", args[0])
			return nil
		})
	},
}

func init() {
	offersCmd.PersistentFlags().StringVar(&offersSession, "session", "", "session id whose offer marker to include")
	offersCmd.AddCommand(offersShownCmd, offersResetCmd)
	rootCmd.AddCommand(offersCmd)
}

// subjectSelector rebuilds the offer selector of a subject outside a live
// session. Without a session id the session marker lives in memory.
func subjectSelector(ctx context.Context, a *app.App, subjectID, sessionID string) (*offer.Selector, *trigger.PageVisits) {
	profile := kv.ProfileScope(a.Store, subjectID)
	var sessionStore kv.Store = kv.NewMemory()
	if sessionID != "" {
		sessionStore = kv.SessionScope(a.Store, sessionID)
	}
	visits := trigger.NewPageVisits(ctx, profile, a.Catalog.Triggers.VisitThreshold, trigger.WithLogger(a.Logger))
	sel := offer.NewSelector(ctx, profile, sessionStore, a.Catalog.Offers,
		offer.WithLogger(a.Logger),
		offer.WithVisits(visits),
	)
	return sel, visits
}
