package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/homenetio/bridge/internal/broker"
	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	var mqttURL string
	var prefix string
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "status [entity-id]",
		Short: "Print the retained state a running bridge has published for an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entityID := args[0]

			cli, err := broker.Connect(broker.Config{
				URL:      mqttURL,
				ClientID: "bridgectl-status-" + uuid.NewString(),
				Prefix:   prefix,
			})
			if err != nil {
				return fmt.Errorf("connect to broker: %w", err)
			}
			defer cli.Close()

			received := make(chan string, 2)
			topic := broker.StateTopic(prefix, entityID)
			if err := cli.Subscribe(topic, func(_ string, payload []byte) {
				received <- string(payload)
			}); err != nil {
				return fmt.Errorf("subscribe %s: %w", topic, err)
			}

			select {
			case payload := <-received:
				fmt.Println(payload)
			case <-time.After(wait):
				return fmt.Errorf("no retained state for %s within %s (is the bridge running?)", entityID, wait)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&mqttURL, "mqtt", "tcp://localhost:1883", "broker URL")
	cmd.Flags().StringVar(&prefix, "prefix", "homenet", "topic prefix")
	cmd.Flags().DurationVar(&wait, "timeout", 3*time.Second, "how long to wait for a retained message")
	return cmd
}
