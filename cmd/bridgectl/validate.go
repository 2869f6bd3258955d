package main

import (
	"fmt"

	"github.com/homenetio/bridge/internal/config"
	"github.com/spf13/cobra"
)

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [config]",
		Short: "Load a config and report structural errors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return fmt.Errorf("invalid: %w", err)
			}
			fmt.Printf("ok: %d entities, %d automation rules\n", len(cfg.Entities), len(cfg.Automation))
			return nil
		},
	}
}
