package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change the daemon configuration",
	Long: `Without a subcommand, prints every option.

Examples:
  shopdb config
  shopdb config get general.sync_frequency
  shopdb config set queries.use_caching false`,
	Args: cobra.NoArgs,
	Run:  runConfigShow,
}

var configGetCmd = &cobra.Command{
	Use:   "get <section.key>",
	Short: "Print one option",
	Args:  cobra.ExactArgs(1),
	Run:   runConfigGet,
}

var configSetCmd = &cobra.Command{
	Use:   "set <section.key> <value>",
	Short: "Change one option",
	Long:  `Change one option. The daemon saves the file and applies it to every running store.`,
	Args:  cobra.ExactArgs(2),
	Run:   runConfigSet,
}

func init() {
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) {
	cfg, err := NewClient(apiURL).Config(cmd.Context())
	if err != nil {
		exitError("%v", err)
	}
	renderConfig(os.Stdout, cfg)
}

func runConfigGet(cmd *cobra.Command, args []string) {
	section, key, err := splitOption(args[0])
	if err != nil {
		exitError("%v", err)
	}
	cfg, err := NewClient(apiURL).Config(cmd.Context())
	if err != nil {
		exitError("%v", err)
	}
	v, err := cfg.Get(section, key)
	if err != nil {
		exitError("%v", err)
	}
	fmt.Println(v)
}

func runConfigSet(cmd *cobra.Command, args []string) {
	section, key, err := splitOption(args[0])
	if err != nil {
		exitError("%v", err)
	}
	cfg, err := NewClient(apiURL).SetConfig(cmd.Context(), section, key, args[1])
	if err != nil {
		exitError("%v", err)
	}
	v, _ := cfg.Get(section, key)
	fmt.Printf("%s.%s = %v\n", section, key, v)
}

// splitOption parses "section.key".
func splitOption(s string) (section, key string, err error) {
	section, key, ok := strings.Cut(s, ".")
	if !ok || section == "" || key == "" {
		return "", "", fmt.Errorf("option must be written as section.key, got %q", s)
	}
	return section, key, nil
}
