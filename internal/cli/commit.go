package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ForetagInc/surrealkit/internal/reconcile"
)

// CommitOptions holds flags for the commit command.
type CommitOptions struct {
	*RootOptions
	DryRun           bool
	NoPrune          bool
	AllowSharedPrune bool
}

// CommitView is the reported outcome of a commit.
type CommitView struct {
	Changes      string `json:"changes"`
	FilesChanged bool   `json:"files_changed"`
	Migration    string `json:"migration,omitempty"`
	Path         string `json:"path,omitempty"`
	Statements   int    `json:"statements"`
	Destructive  bool   `json:"destructive"`
	DryRun       bool   `json:"dry_run"`
}

// NewCommitCommand creates the commit command.
func NewCommitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CommitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "commit [name]",
		Short: "Record schema changes as a migration artifact",
		Long: `Diff database/schema against the committed catalog snapshot and write
the difference as database/migrations/<timestamp>_<name>.surql, then update
the committed snapshots. No database connection is needed.

With --dry-run nothing is written; the command fails with a drift error and
a diff when the sources differ from what was committed. Use it in CI.

Exit codes:
  0 - Committed, or nothing to commit
  1 - Drift detected (--dry-run) or destructive changes refused
  2 - Command error

Examples:
  surrealkit commit add_orders
  surrealkit commit --dry-run`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			if name == "" && !opts.DryRun {
				return NewExitError(ExitCommandError, "commit requires a migration name")
			}
			return runCommit(cmd, opts, name)
		},
	}

	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "fail with a diff when sources differ from the committed snapshot")
	cmd.Flags().BoolVar(&opts.NoPrune, "no-prune", false, "do not record drops for objects removed from source")
	cmd.Flags().BoolVar(&opts.AllowSharedPrune, "allow-shared-prune", false, "allow a destructive migration (audited)")

	return cmd
}

func runCommit(cmd *cobra.Command, opts *CommitOptions, name string) error {
	a, err := opts.load(cmd)
	if err != nil {
		return err
	}

	st, err := a.history()
	if err != nil {
		a.logger.Warn("history unavailable", "error", err)
		st = nil
	} else {
		defer st.Close()
	}
	r := a.reconciler(nil, st)

	res, err := r.Commit(cmd.Context(), name, reconcile.CommitOptions{
		DryRun:           opts.DryRun,
		Prune:            !opts.NoPrune,
		AllowSharedPrune: opts.AllowSharedPrune,
	})
	if err != nil {
		return err
	}

	view := CommitView{
		Changes:      res.ChangeSet.Summary(),
		FilesChanged: res.FilesChanged,
		DryRun:       opts.DryRun,
	}
	if m := res.Migration; m != nil {
		view.Migration = m.ID
		view.Path = rel(m.Path)
		view.Statements = len(m.Statements)
		view.Destructive = m.Destructive
	}
	if a.out.Format == "json" {
		return a.out.Success(view)
	}

	w := cmd.OutOrStdout()
	switch {
	case opts.DryRun:
		fmt.Fprintln(w, "✓ Committed snapshot matches the schema sources")
	case view.Migration == "":
		fmt.Fprintln(w, "✓ No schema changes to commit")
	default:
		fmt.Fprintf(w, "✓ Created %s (%d statement(s), %s)\n", view.Path, view.Statements, view.Changes)
		if view.Destructive {
			fmt.Fprintln(w, "  migration is destructive")
		}
	}
	return nil
}
