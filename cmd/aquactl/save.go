package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func newSaveCommand(logger zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "save",
		Short: "Connect, then force an out-of-band persistence checkpoint",
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

			if err := orch.Save(); err != nil {
				return err
			}
			fmt.Println("checkpoint written")
			return nil
		},
	}
}
