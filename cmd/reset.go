package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var errResetNotConfirmed = errors.New("reset discards all crawl progress; pass --confirm to proceed")

// newResetCmd creates the 'reset' subcommand. It clears the frontier only;
// stored files and index records are kept.
func newResetCmd() *cobra.Command {
	var confirm bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Forgets all crawl progress",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !confirm {
				return errResetNotConfirmed
			}
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			f, err := appInstance.OpenFrontier(cmd.Context())
			if err != nil {
				return err
			}
			if err := f.Reset(cmd.Context()); err != nil {
				return err
			}
			appInstance.Logger().Info("Frontier reset")
			fmt.Fprintln(cmd.OutOrStdout(), "frontier cleared")
			return nil
		},
	}
	cmd.Flags().BoolVar(&confirm, "confirm", false, "confirm that all crawl progress should be discarded")
	return cmd
}
