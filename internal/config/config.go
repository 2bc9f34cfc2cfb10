// Package config loads aquactl's node/client settings from the
// environment: a single godotenv.Load() plus os.Getenv accessors for a
// worker endpoint and client id.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

func init() {
	_ = godotenv.Load()
}

// Get returns an environment variable, or def if unset.
func Get(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

// Config is aquactl's environment-sourced configuration, read once at
// startup and overridden by any explicit CLI flag.
type Config struct {
	ClientID    string
	DataFile    string
	NodeName    string
	NodeHost    string
	NodePort    int
	NodeSSL     bool
	NodeAuth    string
	NodeTimeout time.Duration
}

// New builds a Config from the environment, using aquactl's defaults for
// anything unset.
func New() *Config {
	return &Config{
		ClientID:    Get("AQUACTL_CLIENT_ID", ""),
		DataFile:    Get("AQUACTL_DATA_FILE", "AquaPlayers.jsonl"),
		NodeName:    Get("AQUACTL_NODE_NAME", "main"),
		NodeHost:    Get("AQUACTL_NODE_HOST", "127.0.0.1"),
		NodePort:    getInt("AQUACTL_NODE_PORT", 2333),
		NodeSSL:     getBool("AQUACTL_NODE_SSL", false),
		NodeAuth:    Get("AQUACTL_NODE_AUTH", ""),
		NodeTimeout: 15 * time.Second,
	}
}
