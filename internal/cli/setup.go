package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ForetagInc/surrealkit/internal/reconcile"
	"github.com/ForetagInc/surrealkit/internal/surreal"
)

// NewSetupCommand creates the setup command.
func NewSetupCommand(rootOpts *RootOptions) *cobra.Command {
	var shared bool

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Run setup.surql and create surrealkit's internal tables",
		Long: `Run database/setup.surql (written with defaults when missing) and create
the ledger, sync reference and metadata tables.

--shared records whether the target is shared with other users. Destructive
syncs against a shared target need --allow-shared-prune. SURREALKIT_SHARED_DB
overrides the recorded value.

Examples:
  surrealkit setup
  surrealkit setup --shared
  surrealkit setup --shared=false`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rootOpts.load(cmd)
			if err != nil {
				return err
			}
			markShared := cmd.Flags().Changed("shared")
			return a.withReconciler(cmd.Context(), func(r *reconcile.Reconciler, conn surreal.Conn) error {
				if err := r.Setup(cmd.Context()); err != nil {
					return err
				}
				if markShared {
					if err := reconcile.MarkShared(cmd.Context(), conn, shared); err != nil {
						return err
					}
					a.logger.Info("target marked", "target", r.Target, "shared", shared)
				}
				res := map[string]any{"target": r.Target, "setup": rel(r.Paths.Setup)}
				if markShared {
					res["shared"] = shared
				}
				if a.out.Format == "json" {
					return a.out.Success(res)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Setup complete for %s\n", r.Target)
				if markShared {
					fmt.Fprintf(cmd.OutOrStdout(), "  shared: %t\n", shared)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&shared, "shared", false, "record whether the target is shared")

	return cmd
}

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Run seed.surql against the target",
		Long: `Run database/seed.surql against the configured target. A missing seed
file is an error.

Example:
  surrealkit seed`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rootOpts.load(cmd)
			if err != nil {
				return err
			}
			return a.withReconciler(cmd.Context(), func(r *reconcile.Reconciler, _ surreal.Conn) error {
				if err := r.Seed(cmd.Context(), false); err != nil {
					return err
				}
				if a.out.Format == "json" {
					return a.out.Success(map[string]any{"target": r.Target, "seed": rel(r.Paths.Seed)})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Seeded %s from %s\n", r.Target, rel(r.Paths.Seed))
				return nil
			})
		},
	}
}
