// Command shopdb runs the store sync daemon and its command-line client.
package main

import (
	"os"

	"github.com/tehaksbrid/shop-databaser/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
