package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion script",
	Long: `Generate a shell completion script for shopdb. Store arguments complete
from the running daemon's registry.

Bash:
  $ source <(shopdb completion bash)

Zsh:
  $ shopdb completion zsh > "${fpath[1]}/_shopdb"

Fish:
  $ shopdb completion fish > ~/.config/fish/completions/shopdb.fish

PowerShell:
  PS> shopdb completion powershell | Out-String | Invoke-Expression
`,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	DisableFlagsInUseLine: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		switch args[0] {
		case "bash":
			return rootCmd.GenBashCompletionV2(out, true)
		case "zsh":
			return rootCmd.GenZshCompletion(out)
		case "fish":
			return rootCmd.GenFishCompletion(out, true)
		case "powershell":
			return rootCmd.GenPowerShellCompletionWithDesc(out)
		}
		return fmt.Errorf("unsupported shell %q", args[0])
	},
}

func init() {
	rootCmd.AddCommand(completionCmd)

	for _, cmd := range []*cobra.Command{statusCmd, disconnectCmd, resyncCmd, queryCmd} {
		cmd.ValidArgsFunction = completeStoreRef
	}
}

// completeStoreRef offers registered stores for a command's first argument.
// A daemon that is not running yields no suggestions.
func completeStoreRef(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return storeCompletions(ctx, NewClient(apiURL), toComplete), cobra.ShellCompDirectiveNoFileComp
}

// storeCompletions lists "<short id>\t<name>" for every store whose UUID or
// name starts with prefix.
func storeCompletions(ctx context.Context, c *Client, prefix string) []string {
	stores, err := c.Stores(ctx)
	if err != nil {
		return nil
	}
	var out []string
	for _, s := range stores {
		if strings.HasPrefix(s.UUID, prefix) || strings.HasPrefix(strings.ToLower(s.Name), strings.ToLower(prefix)) {
			out = append(out, shortID(s.UUID)+"\t"+s.Name)
		}
	}
	return out
}
