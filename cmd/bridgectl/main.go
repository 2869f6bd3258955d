// Command bridgectl is an operator CLI for inspecting a bus
// configuration and driving a running bridge over the broker, without
// needing direct access to the serial port.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "bridgectl",
		Short: "homenet bridge operator CLI",
		Long:  "Inspects bus configuration files and drives a running bridge over its broker.",
	}

	root.AddCommand(
		runCmd(),
		dumpCmd(),
		validateCmd(),
		sendCmd(),
		statusCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
