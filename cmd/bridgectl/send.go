package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/homenetio/bridge/internal/broker"
	"github.com/spf13/cobra"
)

func sendCmd() *cobra.Command {
	var mqttURL string
	var prefix string
	var property string

	cmd := &cobra.Command{
		Use:   "send [entity-id] [value]",
		Short: "Publish a command to a running bridge over its broker",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			entityID, value := args[0], args[1]

			cli, err := broker.Connect(broker.Config{
				URL:      mqttURL,
				ClientID: "bridgectl-send-" + uuid.NewString(),
				Prefix:   prefix,
			})
			if err != nil {
				return fmt.Errorf("connect to broker: %w", err)
			}
			defer cli.Close()

			topic := broker.SetTopic(prefix, entityID)
			if property != "" {
				topic = broker.SetPropertyTopic(prefix, entityID, property)
			}
			if err := cli.Publish(context.Background(), topic, []byte(value), false); err != nil {
				return fmt.Errorf("publish %s: %w", topic, err)
			}
			fmt.Printf("sent %s = %s\n", topic, value)
			return nil
		},
	}
	cmd.Flags().StringVar(&mqttURL, "mqtt", "tcp://localhost:1883", "broker URL")
	cmd.Flags().StringVar(&prefix, "prefix", "homenet", "topic prefix")
	cmd.Flags().StringVar(&property, "property", "", "command property name (set_<property> topic) instead of the bare set topic")
	return cmd
}
