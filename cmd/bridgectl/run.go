package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/homenetio/bridge/internal/bridge"
	"github.com/homenetio/bridge/internal/broker"
	"github.com/homenetio/bridge/internal/logger"
	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	var mqttURL string
	var prefix string
	var logLevel string

	cmd := &cobra.Command{
		Use:   "run [config]",
		Short: "Run a bus in the foreground",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := logger.Init(logLevel, ""); err != nil {
				return fmt.Errorf("logger init: %w", err)
			}
			log := logger.Log

			cli, err := broker.Connect(broker.Config{
				URL:      mqttURL,
				ClientID: "bridgectl-run-" + uuid.NewString(),
				Prefix:   prefix,
			})
			if err != nil {
				return fmt.Errorf("connect to broker: %w", err)
			}
			defer cli.Close()

			mgr, err := bridge.NewManager(args[0], cli, cli, nil, prefix, log)
			if err != nil {
				return fmt.Errorf("bridge manager init: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			fmt.Printf("running %s against %s (prefix %s), ctrl-C to stop\n", args[0], mqttURL, prefix)
			err = mgr.Run(ctx)
			if err != nil && err != context.Canceled {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&mqttURL, "mqtt", "tcp://localhost:1883", "broker URL")
	cmd.Flags().StringVar(&prefix, "prefix", "homenet", "topic prefix")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level")
	return cmd
}
