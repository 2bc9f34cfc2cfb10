package main

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func newNodesCommand(logger zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "nodes",
		Short: "List configured nodes without connecting",
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, err := buildOrchestrator(logger)
			if err != nil {
				return err
			}
			for _, n := range orch.Nodes() {
				fmt.Printf("%-16s regions=%s\n", n.Name(), strings.Join(n.Regions(), ","))
			}
			return nil
		},
	}
}
