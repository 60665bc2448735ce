// Package cli implements the shopdb command-line interface: the sync daemon and
// a client for its local API.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const defaultAPIAddr = "127.0.0.1:8740"

var (
	dataDir string
	apiURL  string
)

// Loaded during package initialization so flag defaults see it. A missing
// .env is the common case.
var _ = godotenv.Load()

var rootCmd = &cobra.Command{
	Use:   "shopdb",
	Short: "Local replica of a merchant store's catalog and orders",
	Long: `shopdb keeps a local, queryable copy of the orders, customers, products,
discounts, inventory, and shipment tracking of one or more connected stores.

Start the sync daemon with 'shopdb run', then register stores and query them
from another terminal.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", envOrDefault("SHOPDB_DATA_DIR", defaultDataDir()), "Data directory")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", envOrDefault("SHOPDB_API", "http://"+defaultAPIAddr), "Address of the running daemon")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(storesCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(disconnectCmd)
	rootCmd.AddCommand(resyncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(configCmd)
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".shop-databaser"
	}
	return filepath.Join(home, ".shop-databaser")
}

// exitError prints an error and exits
func exitError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

// shortID returns first 8 characters of an ID
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
