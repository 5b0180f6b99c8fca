package cli

import (
	"fmt"

	"github.com/maloquacious/semver"
	"github.com/spf13/cobra"
)

var version = semver.Version{
	Major: 0,
	Minor: 4,
	Patch: 0,
	Build: semver.Commit(),
}

// Version returns the surrealkit version. It is also stamped into the
// header of generated migrations.
func Version() semver.Version {
	return version
}

// NewVersionCommand creates the version command.
func NewVersionCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "version",
		Short:         "Print the surrealkit version",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			v := Version().String()
			if rootOpts.Format == "json" {
				f := &OutputFormatter{Format: "json", Writer: cmd.OutOrStdout()}
				return f.Success(map[string]string{"version": v})
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "surrealkit %s\n", v)
			return err
		},
	}
}
