package main

import (
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/keshon/aqua"
	"github.com/keshon/aqua/internal/config"
	"github.com/keshon/aqua/internal/persistence"
)

// buildOrchestrator assembles an aqua.Orchestrator from the environment
// (via internal/config), overridden by any explicit viper-bound flag.
func buildOrchestrator(logger zerolog.Logger) (*aqua.Orchestrator, error) {
	cfg := config.New()

	dataFile := viper.GetString("data-file")
	if dataFile == "" {
		dataFile = cfg.DataFile
	}
	if err := persistence.EnsureDir(dataFile); err != nil {
		return nil, err
	}
	saver := persistence.NewFileSaver(dataFile, 20, logger)

	clientID := viper.GetString("client-id")
	if clientID == "" {
		clientID = cfg.ClientID
	}

	opts := aqua.NewOptions(
		clientID,
		func(aqua.VoiceJoinPacket) error { return nil },
		aqua.WithSaver(saver),
		aqua.WithAutoResume(true),
		aqua.WithDebugTrace(true, 1000),
	)

	nodeCfg := aqua.NodeConfig{
		Name:    firstNonEmpty(viper.GetString("node-name"), cfg.NodeName),
		Host:    firstNonEmpty(viper.GetString("node-host"), cfg.NodeHost),
		Port:    viperIntOr(viper.GetInt("node-port"), cfg.NodePort),
		SSL:     viper.GetBool("node-ssl") || cfg.NodeSSL,
		Auth:    firstNonEmpty(viper.GetString("node-auth"), cfg.NodeAuth),
		Timeout: cfg.NodeTimeout,
	}

	return aqua.NewOrchestrator(opts, []aqua.NodeConfig{nodeCfg}, "aquactl"), nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func viperIntOr(a, b int) int {
	if a != 0 {
		return a
	}
	return b
}
