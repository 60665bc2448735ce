package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/tehaksbrid/shop-databaser/internal/core"
	"github.com/tehaksbrid/shop-databaser/internal/models"
)

var storesCmd = &cobra.Command{
	Use:     "stores",
	Aliases: []string{"ls"},
	Short:   "List the registered stores",
	Args:    cobra.NoArgs,
	Run:     runStores,
}

var (
	registerName   string
	registerURL    string
	registerKey    string
	registerSecret string
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Connect a store",
	Long: `Verify the credentials against the store's admin API and start syncing it.

The API key and secret default to SHOPDB_API_KEY and SHOPDB_API_SECRET so they
need not appear in shell history.

Examples:
  shopdb register --name "Acme" --url acme.myshopify.com`,
	Args: cobra.NoArgs,
	Run:  runRegister,
}

var disconnectCmd = &cobra.Command{
	Use:   "disconnect <store>",
	Short: "Disconnect a store and delete its local data",
	Long: `Stop syncing the store, remove it from the registry, and delete every
record, chunk, and log held for it. <store> is a name, UUID, or UUID prefix.`,
	Args: cobra.ExactArgs(1),
	Run:  runDisconnect,
}

var resyncCmd = &cobra.Command{
	Use:   "resync <store>",
	Short: "Restart the historical pass of a store",
	Args:  cobra.ExactArgs(1),
	Run:   runResync,
}

func init() {
	registerCmd.Flags().StringVar(&registerName, "name", "", "Display name")
	registerCmd.Flags().StringVar(&registerURL, "url", "", "Store domain, e.g. acme.myshopify.com")
	registerCmd.Flags().StringVar(&registerKey, "key", os.Getenv("SHOPDB_API_KEY"), "Admin API key")
	registerCmd.Flags().StringVar(&registerSecret, "secret", os.Getenv("SHOPDB_API_SECRET"), "Admin API secret")
	registerCmd.MarkFlagRequired("name")
	registerCmd.MarkFlagRequired("url")
}

func runStores(cmd *cobra.Command, args []string) {
	stores, err := NewClient(apiURL).Stores(cmd.Context())
	if err != nil {
		exitError("%v", err)
	}
	renderStores(os.Stdout, stores)
}

func runRegister(cmd *cobra.Command, args []string) {
	if registerKey == "" || registerSecret == "" {
		exitError("an API key and secret are required (--key/--secret or SHOPDB_API_KEY/SHOPDB_API_SECRET)")
	}
	store, err := NewClient(apiURL).Register(cmd.Context(), core.RegisterRequest{
		Name:      registerName,
		URL:       registerURL,
		APIKey:    registerKey,
		APISecret: registerSecret,
	})
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Code == "verification_failed" {
			exitError("the store rejected these credentials: %s", apiErr.Message)
		}
		exitError("%v", err)
	}
	color.New(color.FgGreen).Printf("Registered %s (%s)\n", store.Name, shortID(store.UUID))
	fmt.Println("Syncing has started. Use 'shopdb status' to follow progress.")
}

func runDisconnect(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	c := NewClient(apiURL)
	store := mustResolve(ctx, c, args[0])
	if err := c.Disconnect(ctx, store.UUID); err != nil {
		exitError("%v", err)
	}
	fmt.Printf("Disconnected %s (%s)\n", store.Name, shortID(store.UUID))
}

func runResync(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	c := NewClient(apiURL)
	store := mustResolve(ctx, c, args[0])
	if err := c.Resync(ctx, store.UUID); err != nil {
		exitError("%v", err)
	}
	fmt.Printf("Resync scheduled for %s\n", store.Name)
}

func mustResolve(ctx context.Context, c *Client, ref string) *models.Store {
	store, err := c.resolveStore(ctx, ref)
	if err != nil {
		exitError("%v", err)
	}
	return store
}
