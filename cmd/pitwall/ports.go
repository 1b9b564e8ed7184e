package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/banshee-data/pitwall/internal/seriallink"
)

func newPortsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "list USB serial adapters the controller may be attached to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return listPorts(cmd, seriallink.SystemPortFactory{})
		},
	}
}

func listPorts(cmd *cobra.Command, f seriallink.PortFactory) error {
	ports, err := f.List()
	if err != nil {
		return fmt.Errorf("list serial ports: %w", err)
	}
	if len(ports) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "no adapters found; the link falls back to %s\n", seriallink.FallbackPort)
		return nil
	}
	for _, p := range ports {
		fmt.Fprintln(cmd.OutOrStdout(), p)
	}
	return nil
}
