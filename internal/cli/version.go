/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/complianceguardian/guardian/internal/buildinfo"
)

func newVersionCommand() *cobra.Command {
	var extended bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if _, err := fmt.Fprintf(out, "guardian %s\n", buildinfo.GetVersion()); err != nil {
				return err
			}
			if extended {
				_, err := fmt.Fprintf(out, "Go: %s\nPlatform: %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
				return err
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&extended, "extended", "e", false, "show Go version and platform")
	return cmd
}
