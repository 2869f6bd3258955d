package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/homenetio/bridge/internal/config"
	"github.com/spf13/cobra"
)

func dumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump [config]",
		Short: "Print the entities and automation rules a config declares",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}

			fmt.Printf("serial: %s %s\n", cfg.Serial.Type, cfg.Serial.Path)
			fmt.Println()

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tNAME\tCOMMANDS\tOPTIMISTIC")
			for _, e := range cfg.Entities {
				cmds := ""
				for name := range e.Commands {
					if cmds != "" {
						cmds += ","
					}
					cmds += name
				}
				opt := ""
				if e.Optimistic {
					opt = "yes"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.ID, e.Type, e.Name, cmds, opt)
			}
			w.Flush()

			fmt.Println()
			fmt.Printf("automation rules: %d\n", len(cfg.Automation))
			for _, r := range cfg.Automation {
				platforms := ""
				for _, t := range r.Trigger {
					if platforms != "" {
						platforms += ","
					}
					platforms += t.Platform
				}
				enabled := "enabled"
				if !r.IsEnabled() {
					enabled = "disabled"
				}
				fmt.Printf("  %s  trigger=%s  mode=%s  %s\n", r.ID, platforms, r.EffectiveMode(), enabled)
			}
			return nil
		},
	}
}
