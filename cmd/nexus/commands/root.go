package commands

import (
	"fmt"
	"os"

	"github.com/bladealex9848/expert-nexus/internal/expert"
	"github.com/spf13/cobra"
)

var catalogPath string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "nexus",
	Short: "Expert Nexus - talk to a panel of specialised assistants",
	Long: `Expert Nexus routes each message to one of several specialised
assistants. When a message looks like it belongs to another expert, it
asks before switching and keeps a history of every change.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute runs the root command.
func Execute() error {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&catalogPath, "catalog", os.Getenv("EXPERTS_FILE"), "Expert catalog YAML (embedded catalog if empty)")
}

func loadCatalog() (*expert.Catalog, error) {
	return expert.LoadCatalog(catalogPath)
}
