package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func newTraceCommand(logger zerolog.Logger) *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Connect briefly and dump the last n trace entries",
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

			for _, e := range orch.Trace(n) {
				fmt.Printf("#%d %s %s %v\n", e.Seq, e.Time.Format("15:04:05.000"), e.Event, e.Data)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&n, "count", 50, "number of trace entries to print")
	return cmd
}
