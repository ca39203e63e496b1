package main

import (
	"fmt"

	"github.com/fornellas/slogxt/log"
	"github.com/spf13/cobra"
	"go.bug.st/serial/enumerator"
)

var PortsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports.",
	Args:  cobra.NoArgs,
	Run: GetRunFn(func(cmd *cobra.Command, args []string) error {
		logger := log.MustLogger(cmd.Context())
		ports, err := enumerator.GetDetailedPortsList()
		if err != nil {
			return fmt.Errorf("failed to list ports: %w", err)
		}
		if len(ports) == 0 {
			logger.Info("No serial ports found")
			return nil
		}
		for _, port := range ports {
			if port.IsUSB {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tUSB %s:%s\t%s\t%s\n", port.Name, port.VID, port.PID, port.SerialNumber, port.Product)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n", port.Name)
			}
		}
		return nil
	}),
}

func init() {
	RootCmd.AddCommand(PortsCmd)
}
