package cli

import (
	"errors"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	queryFormat string
	queryQuiet  bool
)

var queryCmd = &cobra.Command{
	Use:   "query <store> <query>",
	Short: "Query a store's local replica",
	Long: `Run a query against the records held for a store.

A query names a type followed by filter blocks; each block narrows the set
and may join through to other types.

Examples:
  shopdb query acme 'orders[total_price>100]'
  shopdb query acme 'customers[email~@example.com]' --format yaml`,
	Args: cobra.MinimumNArgs(2),
	Run:  runQuery,
}

func init() {
	queryCmd.Flags().StringVarP(&queryFormat, "format", "f", "json", "Output format (json, yaml)")
	queryCmd.Flags().BoolVarP(&queryQuiet, "quiet", "q", false, "Print records only")
}

func runQuery(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	c := NewClient(apiURL)
	store := mustResolve(ctx, c, args[0])

	res, err := c.Query(ctx, store.UUID, strings.Join(args[1:], " "))
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Code == "invalid_query" {
			color.New(color.FgRed).Fprintf(os.Stderr, "invalid query: %s\n", apiErr.Message)
			os.Exit(2)
		}
		exitError("%v", err)
	}
	if err := renderQuery(os.Stdout, res, queryFormat, queryQuiet); err != nil {
		exitError("%v", err)
	}
}
