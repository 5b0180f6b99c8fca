package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ForetagInc/surrealkit/internal/reconcile"
	"github.com/ForetagInc/surrealkit/internal/surreal"
)

// MigrateOptions holds flags for the migrate command.
type MigrateOptions struct {
	*RootOptions
	DryRun           bool
	AllowSharedPrune bool
}

// MigrateView is the reported outcome of a migrate.
type MigrateView struct {
	Target   string   `json:"target"`
	Status   string   `json:"status"`
	Pending  []string `json:"pending"`
	Applied  []string `json:"applied"`
	Override bool     `json:"override"`
	DryRun   bool     `json:"dry_run"`
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MigrateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending migration artifacts",
		Long: `Apply the artifacts in database/migrations that the target's ledger has
not recorded, in identity order. An edited or missing artifact aborts before
any statement runs.

Examples:
  surrealkit migrate
  surrealkit migrate --dry-run`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "list pending migrations without applying them")
	cmd.Flags().BoolVar(&opts.AllowSharedPrune, "allow-shared-prune", false, "allow destructive migrations on a shared target (audited)")

	return cmd
}

func runMigrate(cmd *cobra.Command, opts *MigrateOptions) error {
	a, err := opts.load(cmd)
	if err != nil {
		return err
	}
	return a.withReconciler(cmd.Context(), func(r *reconcile.Reconciler, _ surreal.Conn) error {
		res, err := r.Migrate(cmd.Context(), reconcile.MigrateOptions{
			DryRun:           opts.DryRun,
			AllowSharedPrune: opts.AllowSharedPrune,
		})
		if err != nil {
			return err
		}
		view := MigrateView{
			Target:   r.Target,
			Status:   string(res.Status),
			Pending:  []string{},
			Applied:  nonNil(res.Applied),
			Override: res.Override,
			DryRun:   res.DryRun,
		}
		for _, m := range res.Pending {
			view.Pending = append(view.Pending, m.ID)
		}
		if a.out.Format == "json" {
			return a.out.Success(view)
		}

		w := cmd.OutOrStdout()
		switch {
		case len(view.Pending) == 0:
			fmt.Fprintf(w, "✓ %s has no pending migrations\n", view.Target)
		case view.DryRun:
			fmt.Fprintf(w, "%d pending migration(s) for %s:\n", len(view.Pending), view.Target)
			for _, id := range view.Pending {
				fmt.Fprintf(w, "  %s\n", id)
			}
		default:
			fmt.Fprintf(w, "✓ Applied %d migration(s) to %s\n", len(view.Applied), view.Target)
			for _, id := range view.Applied {
				fmt.Fprintf(w, "  %s\n", id)
			}
		}
		return nil
	})
}
