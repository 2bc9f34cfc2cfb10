package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func newLoadCommand(logger zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "load",
		Short: "Connect and report which players were restored from disk",
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, err := buildOrchestrator(logger)
			if err != nil {
				return err
			}
			ctx := context.Background()
			if err := orch.Init(ctx); err != nil {
				return err
			}
			defer orch.Destroy()

			players := orch.Players()
			fmt.Printf("restored %d player(s)\n", len(players))
			for _, p := range players {
				fmt.Printf("  guild=%s\n", p.GuildID())
			}
			return nil
		},
	}
}
