package main

import (
	"fmt"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/btouchard/burrow/internal/tunnel"
)

func NewCheckCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate configuration and locate the tunnel agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			tc := c.cfg.Tunnel

			path, err := exec.LookPath(tc.Executable)
			if err != nil {
				return fmt.Errorf("tunnel agent %q not found: %w", tc.Executable, err)
			}

			fmt.Fprintln(out, "configuration is valid")
			fmt.Fprintf(out, "agent:     %s\n", path)
			fmt.Fprintf(out, "discovery: %s (timeout %s)\n", tc.DiscoveryURL, tc.DiscoveryTimeout)

			protocol, port := tunnel.FromConfig(tc).Target()
			if protocol != "" && port != 0 {
				fmt.Fprintf(out, "tunnel:    %s :%d\n", protocol, port)
			} else {
				fmt.Fprintln(out, "tunnel:    protocol and port must be given to burrow up")
			}
			fmt.Fprintf(out, "database:  %s\n", c.cfg.Database.Path)
			return nil
		},
	}
}
