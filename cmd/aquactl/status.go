package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func newStatusCommand(logger zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Connect briefly and print a one-shot node/player summary",
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

			for _, n := range orch.Nodes() {
				stats := n.Stats()
				fmt.Printf("node %-16s connected=%-5v players=%d playing=%d restCalls=%d\n",
					n.Name(), n.Connected(), stats.Players, stats.PlayingPlayers, n.RestCalls())
			}
			for _, p := range orch.Players() {
				fmt.Printf("player guild=%s playing=%v paused=%v volume=%d\n",
					p.GuildID(), p.IsPlaying(), p.IsPaused(), p.Volume())
			}
			return nil
		},
	}
}
