// Command aquactl is aqua's operator/demo CLI: it exercises the library's
// whole public surface (node connect, status, trace, save/load) against a
// configured set of Lavalink-compatible workers.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	_ = godotenv.Load()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()

	root := &cobra.Command{
		Use:   "aquactl",
		Short: "Operate an aqua-backed Lavalink client from the command line",
	}
	root.PersistentFlags().String("node-name", "", "node name (falls back to AQUACTL_NODE_NAME, then main)")
	root.PersistentFlags().String("node-host", "", "node host (falls back to AQUACTL_NODE_HOST, then 127.0.0.1)")
	root.PersistentFlags().Int("node-port", 0, "node port (falls back to AQUACTL_NODE_PORT, then 2333)")
	root.PersistentFlags().Bool("node-ssl", false, "connect to the node over TLS")
	root.PersistentFlags().String("node-auth", "", "node Authorization password")
	root.PersistentFlags().String("client-id", "", "bot/application user id presented to the node")
	root.PersistentFlags().String("data-file", "", "persisted player state file (falls back to AQUACTL_DATA_FILE, then AquaPlayers.jsonl)")

	_ = viper.BindPFlags(root.PersistentFlags())
	viper.SetEnvPrefix("AQUACTL")
	viper.AutomaticEnv()

	root.AddCommand(
		newConnectCommand(logger),
		newStatusCommand(logger),
		newNodesCommand(logger),
		newTraceCommand(logger),
		newSaveCommand(logger),
		newLoadCommand(logger),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
