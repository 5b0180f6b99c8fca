package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ForetagInc/surrealkit/internal/reconcile"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	Live bool
}

// StatusView is the reported project and target status.
type StatusView struct {
	Target       string               `json:"target"`
	Connected    bool                 `json:"connected"`
	Uncommitted  string               `json:"uncommitted"`
	Objects      []string             `json:"objects"`
	FilesChanged bool                 `json:"files_changed"`
	Applied      int                  `json:"applied"`
	Pending      []string             `json:"pending"`
	Live         *reconcile.LiveDrift `json:"live,omitempty"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show uncommitted changes and pending migrations",
		Long: `Report schema changes not yet committed and, when the database is
reachable, applied and pending migrations. With --live the live catalog is
compared with the last synced reference.

Exit codes:
  0 - Status reported (drift is informational)
  1 - --live drift found, or the database could not be reached with --live

Examples:
  surrealkit status
  surrealkit status --live --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Live, "live", false, "compare the live catalog with the expected one")

	return cmd
}

func runStatus(cmd *cobra.Command, opts *StatusOptions) error {
	a, err := opts.load(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	r := a.reconciler(nil, nil)
	conn, err := a.connect(ctx)
	switch {
	case err == nil:
		defer conn.Close(ctx)
		r = a.reconciler(conn, nil)
	case opts.Live:
		return err
	default:
		a.logger.Warn("database unreachable, reporting offline status", "error", err)
	}

	rep, err := r.Status(ctx, opts.Live)
	if err != nil {
		return err
	}

	view := StatusView{
		Target:       r.Target,
		Connected:    conn != nil,
		Uncommitted:  rep.Uncommitted.Summary(),
		Objects:      []string{},
		FilesChanged: rep.FilesChanged,
		Applied:      len(rep.Applied),
		Pending:      nonNil(rep.Pending),
		Live:         rep.Live,
	}
	for _, op := range rep.Uncommitted.Ops {
		view.Objects = append(view.Objects, op.String())
	}

	if a.out.Format == "json" {
		if err := a.out.Success(view); err != nil {
			return err
		}
	} else {
		writeStatusText(cmd.OutOrStdout(), view)
	}
	if view.Live != nil && !view.Live.Clean() {
		return &ExitError{Code: ExitFailure, Message: "live catalog drifted from " + view.Live.Expected, Reported: true}
	}
	return nil
}

func writeStatusText(w io.Writer, v StatusView) {
	fmt.Fprintf(w, "Target: %s", v.Target)
	if !v.Connected {
		fmt.Fprint(w, " (offline)")
	}
	fmt.Fprintln(w)

	if len(v.Objects) == 0 && !v.FilesChanged {
		fmt.Fprintln(w, "✓ No uncommitted schema changes")
	} else {
		fmt.Fprintf(w, "Uncommitted: %s\n", v.Uncommitted)
		for _, o := range v.Objects {
			fmt.Fprintf(w, "  %s\n", o)
		}
		if len(v.Objects) == 0 {
			fmt.Fprintln(w, "  source files changed without catalog changes")
		}
	}

	if v.Connected {
		fmt.Fprintf(w, "Migrations: %d applied, %d pending\n", v.Applied, len(v.Pending))
		for _, id := range v.Pending {
			fmt.Fprintf(w, "  pending %s\n", id)
		}
	}

	if v.Live != nil {
		if v.Live.Clean() {
			fmt.Fprintf(w, "✓ Live catalog matches %s\n", v.Live.Expected)
			return
		}
		fmt.Fprintf(w, "✗ Live catalog differs from %s\n", v.Live.Expected)
		for _, id := range v.Live.Missing {
			fmt.Fprintf(w, "  missing %s\n", id)
		}
		for _, id := range v.Live.Extra {
			fmt.Fprintf(w, "  extra   %s\n", id)
		}
	}
}
