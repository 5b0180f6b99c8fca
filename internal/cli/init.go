package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ForetagInc/surrealkit/internal/reconcile"
)

// InitResult lists the files init created.
type InitResult struct {
	Dir     string   `json:"dir"`
	Created []string `json:"created"`
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Scaffold the database project directory",
		Long: `Create the project layout: schema/, migrations/, .surrealkit/, setup.surql,
seed.surql and a smoke test suite. Existing files are left untouched.

Example:
  surrealkit init
  surrealkit init --dir ./db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rootOpts.load(cmd)
			if err != nil {
				return err
			}
			paths := a.cfg.Paths()
			created, err := reconcile.Scaffold(paths)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to scaffold project", err)
			}
			a.logger.Info("project initialized", "dir", paths.Root, "created", len(created))

			res := InitResult{Dir: paths.Root, Created: make([]string, 0, len(created))}
			for _, p := range created {
				res.Created = append(res.Created, rel(p))
			}
			if a.out.Format == "json" {
				return a.out.Success(res)
			}
			w := cmd.OutOrStdout()
			if len(res.Created) == 0 {
				fmt.Fprintf(w, "Project at %s already initialized\n", rel(paths.Root))
				return nil
			}
			fmt.Fprintf(w, "Initialized %s\n", rel(paths.Root))
			for _, p := range res.Created {
				fmt.Fprintf(w, "  created %s\n", p)
			}
			return nil
		},
	}
}
