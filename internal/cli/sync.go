package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ForetagInc/surrealkit/internal/reconcile"
	"github.com/ForetagInc/surrealkit/internal/surreal"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	DryRun           bool
	NoPrune          bool
	AllowSharedPrune bool
	Watch            bool
	Debounce         time.Duration
}

// SyncView is the reported outcome of a sync.
type SyncView struct {
	Target     string   `json:"target"`
	Status     string   `json:"status"`
	DryRun     bool     `json:"dry_run"`
	Override   bool     `json:"override"`
	Changes    string   `json:"changes"`
	Statements []string `json:"statements"`
	Applied    int      `json:"applied"`
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile the database with the schema sources",
		Long: `Diff database/schema against the last synced catalog and apply the
difference. Objects removed from source are pruned unless --no-prune is set.

Pruning a shared (or unknown) target is refused unless --allow-shared-prune
is given; every override is logged and audited.

Examples:
  surrealkit sync
  surrealkit sync --dry-run
  surrealkit sync --watch --debounce 500ms`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "print the plan without executing it")
	cmd.Flags().BoolVar(&opts.NoPrune, "no-prune", false, "keep objects that were removed from source")
	cmd.Flags().BoolVar(&opts.AllowSharedPrune, "allow-shared-prune", false, "allow destructive changes on a shared target (audited)")
	cmd.Flags().BoolVar(&opts.Watch, "watch", false, "re-sync whenever a schema file changes")
	cmd.Flags().DurationVar(&opts.Debounce, "debounce", reconcile.MinDebounce, "watch debounce window")

	return cmd
}

func (o *SyncOptions) syncOptions() reconcile.SyncOptions {
	return reconcile.SyncOptions{
		DryRun:           o.DryRun,
		Prune:            !o.NoPrune,
		AllowSharedPrune: o.AllowSharedPrune,
	}
}

func runSync(cmd *cobra.Command, opts *SyncOptions) error {
	a, err := opts.load(cmd)
	if err != nil {
		return err
	}

	if opts.Watch {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return a.withReconciler(ctx, func(r *reconcile.Reconciler, _ surreal.Conn) error {
			return r.Watch(ctx, reconcile.WatchOptions{Debounce: opts.Debounce, Sync: opts.syncOptions()})
		})
	}

	return a.withReconciler(cmd.Context(), func(r *reconcile.Reconciler, _ surreal.Conn) error {
		res, err := r.Sync(cmd.Context(), opts.syncOptions())
		if res != nil && err != nil {
			a.logger.Error("sync stopped", "applied", res.Applied, "planned", len(res.Statements))
		}
		if err != nil {
			return err
		}
		view := SyncView{
			Target:     r.Target,
			Status:     string(res.Status),
			DryRun:     res.DryRun,
			Override:   res.Override,
			Changes:    res.ChangeSet.Summary(),
			Statements: nonNil(res.Statements),
			Applied:    res.Applied,
		}
		if a.out.Format == "json" {
			return a.out.Success(view)
		}
		writeSyncText(cmd.OutOrStdout(), view)
		return nil
	})
}

func writeSyncText(w io.Writer, v SyncView) {
	switch {
	case len(v.Statements) == 0:
		fmt.Fprintf(w, "✓ %s is in sync\n", v.Target)
	case v.DryRun:
		fmt.Fprintf(w, "Plan for %s (%s): %s\n", v.Target, v.Status, v.Changes)
		for _, s := range v.Statements {
			fmt.Fprintf(w, "  %s\n", s)
		}
	default:
		fmt.Fprintf(w, "✓ Applied %d statement(s) to %s: %s\n", v.Applied, v.Target, v.Changes)
		if v.Override {
			fmt.Fprintln(w, "  shared prune override used")
		}
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
