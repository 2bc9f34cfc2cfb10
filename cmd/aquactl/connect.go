package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func newConnectCommand(logger zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "connect",
		Short: "Connect to the configured node(s) and stream events until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, err := buildOrchestrator(logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := orch.Init(ctx); err != nil {
				return err
			}
			defer orch.Destroy()

			logger.Info().Msg("connected, streaming events (ctrl-c to exit)")
			events := orch.Events()
			for {
				select {
				case <-ctx.Done():
					return nil
				case ev, ok := <-events:
					if !ok {
						return nil
					}
					fmt.Printf("[%s] guild=%s err=%v msg=%s\n", ev.Type, ev.GuildID, ev.Err, ev.Message)
				}
			}
		},
	}
}
